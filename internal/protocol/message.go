// Package protocol defines the JSON frames exchanged between a collaborating
// client and the relay server.
//
// Every frame is an object with a "type" field. Clients send hello and
// batch frames; servers send snapshot, ack, remote and error frames.
// Operations on the wire have the shape
//
//	{"origin": "peer", "sequenceNumber": 4, "rangeStart": 2,
//	 "rangeLength": 4, "replacementText": "big"}
//
// with offsets and lengths counted in code points. Missing fields, wrong
// types and negative offsets are rejected with ErrMalformedOperation.
package protocol

import (
	"encoding/json"
	"fmt"
	"math"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/foldtext/internal/coords"
	"github.com/dshills/foldtext/internal/ot"
)

// Type is the envelope type tag.
type Type string

// Envelope types.
const (
	TypeHello    Type = "hello"
	TypeSnapshot Type = "snapshot"
	TypeError    Type = "error"
	TypeBatch    Type = "batch"
	TypeAck      Type = "ack"
	TypeRemote   Type = "remote"
)

// Message is a decoded frame.
type Message interface {
	Type() Type
}

// Hello opens a session. LastSeq and LastBatch let the server tell a
// reconnecting client which of its batches were already applied.
type Hello struct {
	Token          string
	OrganizationID string
	DocumentID     string
	ClientID       string
	LastSeq        uint64
	LastBatch      uint64
}

// Type implements Message.
func (*Hello) Type() Type { return TypeHello }

// Snapshot carries the authoritative text. LastBatch is the highest batch
// id from the hello's client that the server has applied.
type Snapshot struct {
	Text      string
	Seq       uint64
	LastBatch uint64
}

// Type implements Message.
func (*Snapshot) Type() Type { return TypeSnapshot }

// Batch carries local operations generated against BaseSeq. Each
// operation applies to the text produced by its predecessor.
type Batch struct {
	ID      uint64
	BaseSeq uint64
	Ops     []ot.Operation
}

// Type implements Message.
func (*Batch) Type() Type { return TypeBatch }

// Ack confirms a batch. Seq is the sequence number after its last
// operation was applied.
type Ack struct {
	BatchID uint64
	Seq     uint64
}

// Type implements Message.
func (*Ack) Type() Type { return TypeAck }

// Remote carries operations from other clients, in sequence order. Each
// operation's Seq is the number the server assigned it.
type Remote struct {
	Ops []ot.Operation
}

// Type implements Message.
func (*Remote) Type() Type { return TypeRemote }

// maxWireInt is the largest integer a JSON number carries exactly.
const maxWireInt = 1 << 53

type wireOp struct {
	Origin      string `json:"origin"`
	Seq         uint64 `json:"sequenceNumber"`
	RangeStart  int    `json:"rangeStart"`
	RangeLength int    `json:"rangeLength"`
	Text        string `json:"replacementText"`
}

type wireSnapshot struct {
	Type      Type   `json:"type"`
	Text      string `json:"text"`
	Seq       uint64 `json:"sequenceNumber"`
	LastBatch uint64 `json:"lastBatch"`
}

type wireBatch struct {
	Type    Type     `json:"type"`
	ID      uint64   `json:"batchId"`
	BaseSeq uint64   `json:"baseSeq"`
	Ops     []wireOp `json:"operations"`
}

type wireRemote struct {
	Type Type     `json:"type"`
	Ops  []wireOp `json:"operations"`
}

func toWire(ops []ot.Operation) []wireOp {
	out := make([]wireOp, len(ops))
	for i, op := range ops {
		out[i] = wireOp{
			Origin:      op.Origin.String(),
			Seq:         op.Seq,
			RangeStart:  op.Range.Start,
			RangeLength: op.Range.Len(),
			Text:        op.Text,
		}
	}
	return out
}

// Encode serializes a message.
func Encode(m Message) ([]byte, error) {
	switch v := m.(type) {
	case *Hello:
		return encodeHello(v)
	case *Ack:
		return setFields(TypeAck, "batchId", v.BatchID, "sequenceNumber", v.Seq)
	case *ServerError:
		return setFields(TypeError, "code", string(v.Code), "message", v.Message)
	case *Snapshot:
		return json.Marshal(wireSnapshot{Type: TypeSnapshot, Text: v.Text, Seq: v.Seq, LastBatch: v.LastBatch})
	case *Batch:
		return json.Marshal(wireBatch{Type: TypeBatch, ID: v.ID, BaseSeq: v.BaseSeq, Ops: toWire(v.Ops)})
	case *Remote:
		return json.Marshal(wireRemote{Type: TypeRemote, Ops: toWire(v.Ops)})
	default:
		return nil, fmt.Errorf("encode %T: %w", m, ErrUnknownType)
	}
}

func encodeHello(h *Hello) ([]byte, error) {
	return setFields(TypeHello,
		"token", h.Token,
		"organizationId", h.OrganizationID,
		"documentId", h.DocumentID,
		"clientId", h.ClientID,
		"lastSeq", h.LastSeq,
		"lastBatch", h.LastBatch,
	)
}

// setFields builds a small control frame from key/value pairs.
func setFields(t Type, kv ...any) ([]byte, error) {
	out, err := sjson.SetBytes([]byte(`{}`), "type", string(t))
	if err != nil {
		return nil, err
	}
	for i := 0; i+1 < len(kv); i += 2 {
		out, err = sjson.SetBytes(out, kv[i].(string), kv[i+1])
		if err != nil {
			return nil, fmt.Errorf("set %v: %w", kv[i], err)
		}
	}
	return out, nil
}

// Decode parses a frame. For remote and batch frames, malformed operations
// are dropped: the returned message holds the valid operations and the
// error (matching ErrMalformedOperation) describes what was dropped.
func Decode(data []byte) (Message, error) {
	if !gjson.ValidBytes(data) {
		return nil, &FrameError{Reason: "invalid JSON"}
	}
	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, &FrameError{Reason: "not an object"}
	}
	t := Type(root.Get("type").String())

	switch t {
	case TypeHello:
		h, err := decodeHello(root)
		if err != nil {
			return nil, err
		}
		return h, nil
	case TypeSnapshot:
		s, err := decodeSnapshot(root)
		if err != nil {
			return nil, err
		}
		return s, nil
	case TypeError:
		return &ServerError{
			Code:    Code(root.Get("code").String()),
			Message: root.Get("message").String(),
		}, nil
	case TypeAck:
		id, err := uintField(root, t, "batchId")
		if err != nil {
			return nil, err
		}
		seq, err := uintField(root, t, "sequenceNumber")
		if err != nil {
			return nil, err
		}
		return &Ack{BatchID: id, Seq: seq}, nil
	case TypeBatch:
		id, err := uintField(root, t, "batchId")
		if err != nil {
			return nil, err
		}
		base, err := uintField(root, t, "baseSeq")
		if err != nil {
			return nil, err
		}
		ops, opErr := decodeOps(root)
		if ops == nil && opErr == nil {
			return nil, &FrameError{Type: t, Reason: "missing operations"}
		}
		return &Batch{ID: id, BaseSeq: base, Ops: ops}, opErr
	case TypeRemote:
		ops, opErr := decodeOps(root)
		if ops == nil && opErr == nil {
			return nil, &FrameError{Type: t, Reason: "missing operations"}
		}
		return &Remote{Ops: ops}, opErr
	default:
		return nil, fmt.Errorf("%q: %w", t, ErrUnknownType)
	}
}

func decodeHello(root gjson.Result) (*Hello, error) {
	h := &Hello{}
	for _, f := range []struct {
		name string
		dst  *string
	}{
		{"token", &h.Token},
		{"organizationId", &h.OrganizationID},
		{"documentId", &h.DocumentID},
		{"clientId", &h.ClientID},
	} {
		v := root.Get(f.name)
		if v.Type != gjson.String {
			return nil, &FrameError{Type: TypeHello, Reason: "missing " + f.name}
		}
		*f.dst = v.String()
	}
	var err error
	if h.LastSeq, err = optionalUint(root, TypeHello, "lastSeq"); err != nil {
		return nil, err
	}
	if h.LastBatch, err = optionalUint(root, TypeHello, "lastBatch"); err != nil {
		return nil, err
	}
	return h, nil
}

func decodeSnapshot(root gjson.Result) (*Snapshot, error) {
	text := root.Get("text")
	if text.Type != gjson.String {
		return nil, &FrameError{Type: TypeSnapshot, Reason: "missing text"}
	}
	seq, err := uintField(root, TypeSnapshot, "sequenceNumber")
	if err != nil {
		return nil, err
	}
	last, err := optionalUint(root, TypeSnapshot, "lastBatch")
	if err != nil {
		return nil, err
	}
	return &Snapshot{Text: text.String(), Seq: seq, LastBatch: last}, nil
}

// decodeOps returns nil ops when the frame has no operations array.
func decodeOps(root gjson.Result) ([]ot.Operation, error) {
	arr := root.Get("operations")
	if !arr.IsArray() {
		return nil, nil
	}
	ops := []ot.Operation{}
	var errs []error
	for i, raw := range arr.Array() {
		op, err := ParseOperation(raw, i)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		ops = append(ops, op)
	}
	if len(errs) > 0 {
		return ops, joinMalformed(errs)
	}
	return ops, nil
}

// ParseOperation validates and converts one wire operation. index is
// only used in error messages.
func ParseOperation(raw gjson.Result, index int) (ot.Operation, error) {
	if !raw.IsObject() {
		return ot.Operation{}, &MalformedError{Index: index, Field: "", Reason: "is not an object"}
	}

	origin := raw.Get("origin")
	if origin.Type != gjson.String || origin.String() == "" {
		return ot.Operation{}, &MalformedError{Index: index, Field: "origin", Reason: "must be a non-empty string"}
	}
	text := raw.Get("replacementText")
	if text.Type != gjson.String {
		return ot.Operation{}, &MalformedError{Index: index, Field: "replacementText", Reason: "must be a string"}
	}

	var nums [3]int
	for i, name := range []string{"sequenceNumber", "rangeStart", "rangeLength"} {
		n, err := nonNegativeInt(raw.Get(name))
		if err != "" {
			return ot.Operation{}, &MalformedError{Index: index, Field: name, Reason: err}
		}
		nums[i] = n
	}

	return ot.Operation{
		Origin: ot.Origin(origin.String()),
		Seq:    uint64(nums[0]),
		Range:  coords.Native(nums[1], nums[1]+nums[2]),
		Text:   text.String(),
	}, nil
}

func nonNegativeInt(v gjson.Result) (int, string) {
	switch {
	case !v.Exists():
		return 0, "is missing"
	case v.Type != gjson.Number:
		return 0, "must be a number"
	case v.Num < 0:
		return 0, "must not be negative"
	case v.Num != math.Trunc(v.Num) || v.Num > maxWireInt:
		return 0, "must be an integer"
	}
	return int(v.Int()), ""
}

func uintField(root gjson.Result, t Type, name string) (uint64, error) {
	n, reason := nonNegativeInt(root.Get(name))
	if reason != "" {
		return 0, &FrameError{Type: t, Reason: name + " " + reason}
	}
	return uint64(n), nil
}

func optionalUint(root gjson.Result, t Type, name string) (uint64, error) {
	if !root.Get(name).Exists() {
		return 0, nil
	}
	return uintField(root, t, name)
}

// malformedList groups several dropped operations.
type malformedList []error

func (l malformedList) Error() string {
	if len(l) == 1 {
		return l[0].Error()
	}
	return fmt.Sprintf("%s (and %d more)", l[0].Error(), len(l)-1)
}

func (l malformedList) Unwrap() []error {
	return l
}

func joinMalformed(errs []error) error {
	return malformedList(errs)
}
