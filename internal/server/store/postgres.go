package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dshills/foldtext/internal/coords"
	"github.com/dshills/foldtext/internal/ot"
)

const schema = `
CREATE TABLE IF NOT EXISTS documents (
	org        TEXT NOT NULL,
	doc        TEXT NOT NULL,
	body       TEXT NOT NULL,
	seq        BIGINT NOT NULL DEFAULT 0,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	PRIMARY KEY (org, doc)
);
CREATE TABLE IF NOT EXISTS operations (
	org         TEXT NOT NULL,
	doc         TEXT NOT NULL,
	seq         BIGINT NOT NULL,
	origin      TEXT NOT NULL,
	range_start INTEGER NOT NULL,
	range_end   INTEGER NOT NULL,
	body        TEXT NOT NULL,
	PRIMARY KEY (org, doc, seq),
	FOREIGN KEY (org, doc) REFERENCES documents (org, doc) ON DELETE CASCADE
);`

// Postgres is a Store backed by a pgx connection pool.
type Postgres struct {
	pool *pgxpool.Pool
}

// OpenPostgres connects to dsn and creates the tables if needed.
func OpenPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, schema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Create implements Store.
func (s *Postgres) Create(ctx context.Context, key Key, text string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO documents (org, doc, body) VALUES ($1, $2, $3)`,
		key.Org, key.Doc, text)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrExists
	}
	return err
}

// Get implements Store.
func (s *Postgres) Get(ctx context.Context, key Key) (*Document, error) {
	var doc Document
	var seq int64
	err := s.pool.QueryRow(ctx,
		`SELECT body, seq, updated_at FROM documents WHERE org = $1 AND doc = $2`,
		key.Org, key.Doc).Scan(&doc.Text, &seq, &doc.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	doc.Seq = uint64(seq)
	return &doc, nil
}

// Append implements Store. The snapshot row is locked for the duration
// of the transaction so concurrent appends serialize.
func (s *Postgres) Append(ctx context.Context, key Key, ops []ot.Operation, text string) error {
	return pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var seq int64
		err := tx.QueryRow(ctx,
			`SELECT seq FROM documents WHERE org = $1 AND doc = $2 FOR UPDATE`,
			key.Org, key.Doc).Scan(&seq)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}
		if err := checkAppend(key, uint64(seq), ops); err != nil {
			return err
		}

		batch := &pgx.Batch{}
		for _, op := range ops {
			batch.Queue(`INSERT INTO operations (org, doc, seq, origin, range_start, range_end, body)
				VALUES ($1, $2, $3, $4, $5, $6, $7)`,
				key.Org, key.Doc, int64(op.Seq), string(op.Origin), op.Range.Start, op.Range.End, op.Text)
		}
		batch.Queue(`UPDATE documents SET body = $3, seq = $4, updated_at = now() WHERE org = $1 AND doc = $2`,
			key.Org, key.Doc, text, seq+int64(len(ops)))
		return tx.SendBatch(ctx, batch).Close()
	})
}

// Ops implements Store.
func (s *Postgres) Ops(ctx context.Context, key Key, after uint64) ([]ot.Operation, error) {
	if _, err := s.Get(ctx, key); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx,
		`SELECT seq, origin, range_start, range_end, body FROM operations
		 WHERE org = $1 AND doc = $2 AND seq > $3 ORDER BY seq`,
		key.Org, key.Doc, int64(after))
	if err != nil {
		return nil, err
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (ot.Operation, error) {
		var seq int64
		var origin, body string
		var start, end int
		if err := row.Scan(&seq, &origin, &start, &end, &body); err != nil {
			return ot.Operation{}, err
		}
		return ot.Operation{
			Origin: ot.Origin(origin),
			Seq:    uint64(seq),
			Range:  coords.Native(start, end),
			Text:   body,
		}, nil
	})
}

// Close implements Store.
func (s *Postgres) Close() error {
	s.pool.Close()
	return nil
}
