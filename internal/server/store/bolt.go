package store

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	bolt "go.etcd.io/bbolt"

	"github.com/dshills/foldtext/internal/coords"
	"github.com/dshills/foldtext/internal/ot"
)

var (
	docsBucket = []byte("documents")
	opsBucket  = []byte("ops")
	textKey    = []byte("text")
	seqKey     = []byte("seq")
	updatedKey = []byte("updated")
)

// record is the stored form of an operation.
type record struct {
	Origin string `json:"origin"`
	Seq    uint64 `json:"seq"`
	Start  int    `json:"start"`
	End    int    `json:"end"`
	Text   string `json:"text"`
}

func toRecord(op ot.Operation) record {
	return record{
		Origin: string(op.Origin),
		Seq:    op.Seq,
		Start:  op.Range.Start,
		End:    op.Range.End,
		Text:   op.Text,
	}
}

func (r record) operation() ot.Operation {
	return ot.Operation{
		Origin: ot.Origin(r.Origin),
		Seq:    r.Seq,
		Range:  coords.Native(r.Start, r.End),
		Text:   r.Text,
	}
}

// Bolt is a Store in a single bbolt file. Each document is a bucket under
// "documents" holding its text and sequence number, with the operation log
// in a nested bucket keyed by big-endian sequence number.
type Bolt struct {
	db *bolt.DB
}

// OpenBolt opens or creates the database at path.
func OpenBolt(path string) (*Bolt, error) {
	db, err := bolt.Open(path, 0o600, &bolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("open bolt store %s: %w", path, err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(docsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Bolt{db: db}, nil
}

func seqBytes(seq uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, seq)
	return b
}

func docBucket(tx *bolt.Tx, key Key) *bolt.Bucket {
	return tx.Bucket(docsBucket).Bucket([]byte(key.String()))
}

// Create implements Store.
func (s *Bolt) Create(_ context.Context, key Key, text string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b, err := tx.Bucket(docsBucket).CreateBucket([]byte(key.String()))
		if errors.Is(err, bolt.ErrBucketExists) {
			return ErrExists
		}
		if err != nil {
			return err
		}
		if _, err := b.CreateBucket(opsBucket); err != nil {
			return err
		}
		return putSnapshot(b, text, 0)
	})
}

func putSnapshot(b *bolt.Bucket, text string, seq uint64) error {
	if err := b.Put(textKey, []byte(text)); err != nil {
		return err
	}
	if err := b.Put(seqKey, seqBytes(seq)); err != nil {
		return err
	}
	now, _ := time.Now().UTC().MarshalBinary()
	return b.Put(updatedKey, now)
}

// Get implements Store.
func (s *Bolt) Get(_ context.Context, key Key) (*Document, error) {
	var doc *Document
	err := s.db.View(func(tx *bolt.Tx) error {
		b := docBucket(tx, key)
		if b == nil {
			return ErrNotFound
		}
		doc = &Document{
			Text: string(b.Get(textKey)),
			Seq:  binary.BigEndian.Uint64(b.Get(seqKey)),
		}
		if raw := b.Get(updatedKey); raw != nil {
			_ = doc.UpdatedAt.UnmarshalBinary(raw)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return doc, nil
}

// Append implements Store.
func (s *Bolt) Append(_ context.Context, key Key, ops []ot.Operation, text string) error {
	return s.db.Update(func(tx *bolt.Tx) error {
		b := docBucket(tx, key)
		if b == nil {
			return ErrNotFound
		}
		seq := binary.BigEndian.Uint64(b.Get(seqKey))
		if err := checkAppend(key, seq, ops); err != nil {
			return err
		}
		log := b.Bucket(opsBucket)
		for _, op := range ops {
			data, err := json.Marshal(toRecord(op))
			if err != nil {
				return err
			}
			if err := log.Put(seqBytes(op.Seq), data); err != nil {
				return err
			}
		}
		return putSnapshot(b, text, seq+uint64(len(ops)))
	})
}

// Ops implements Store.
func (s *Bolt) Ops(_ context.Context, key Key, after uint64) ([]ot.Operation, error) {
	var ops []ot.Operation
	err := s.db.View(func(tx *bolt.Tx) error {
		b := docBucket(tx, key)
		if b == nil {
			return ErrNotFound
		}
		c := b.Bucket(opsBucket).Cursor()
		for k, v := c.Seek(seqBytes(after + 1)); k != nil; k, v = c.Next() {
			var r record
			if err := json.Unmarshal(v, &r); err != nil {
				return fmt.Errorf("%s: corrupt operation %d: %w", key, binary.BigEndian.Uint64(k), err)
			}
			ops = append(ops, r.operation())
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ops, nil
}

// Close implements Store.
func (s *Bolt) Close() error {
	return s.db.Close()
}
