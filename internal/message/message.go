// Package message defines the messages exchanged by stream peers and
// their wire encoding.
//
// Every message travels as a frame: one type byte, a four byte
// big-endian body length, and a CBOR body.  An OutgoingStream is a
// header frame followed by length-prefixed payload records, ended by a
// zero-length record.
package message

import "fmt"

// Type discriminates message variants on the wire.
type Type uint8

const (
	TypeInit Type = iota + 1
	TypePrepare
	TypeReceived
	TypeComplete
	TypeSessionFailed
	TypeKeepAlive
	TypeStream
)

func (t Type) String() string {
	switch t {
	case TypeInit:
		return "Init"
	case TypePrepare:
		return "Prepare"
	case TypeReceived:
		return "Received"
	case TypeComplete:
		return "Complete"
	case TypeSessionFailed:
		return "SessionFailed"
	case TypeKeepAlive:
		return "KeepAlive"
	case TypeStream:
		return "Stream"
	default:
		return fmt.Sprintf("Type(%d)", uint8(t))
	}
}

// MaxControlMessageSize is the largest encoded size accepted for any
// message other than a stream.
const MaxControlMessageSize int64 = 1 << 30

// Message is implemented by every variant.
type Message interface {
	Type() Type
	String() string
}

// IsControl reports whether m travels on the control connection.
func IsControl(m Message) bool { return m.Type() != TypeStream }

// Init opens a session on the receiving side.
type Init struct {
	From          string `cbor:"1,keyasint"`
	SessionIndex  int    `cbor:"2,keyasint"`
	PlanID        string `cbor:"3,keyasint"`
	Operation     string `cbor:"4,keyasint"`
	PendingRepair string `cbor:"5,keyasint,omitempty"`
	PreviewKind   uint8  `cbor:"6,keyasint"`
}

func (*Init) Type() Type { return TypeInit }
func (m *Init) String() string {
	return fmt.Sprintf("Init(%s, #%d, %s, from %s)", m.PlanID, m.SessionIndex, m.Operation, m.From)
}

// Summary describes what a peer is about to send for one table.
type Summary struct {
	TableID   string `cbor:"1,keyasint"`
	Files     int    `cbor:"2,keyasint"`
	TotalSize int64  `cbor:"3,keyasint"`
}

// Prepare announces the transfers to follow.
type Prepare struct {
	Summaries []Summary `cbor:"1,keyasint"`
}

func (*Prepare) Type() Type { return TypePrepare }
func (m *Prepare) String() string {
	return fmt.Sprintf("Prepare(%d summaries)", len(m.Summaries))
}

// Received acknowledges one stream.
type Received struct {
	TableID  string `cbor:"1,keyasint"`
	Sequence int    `cbor:"2,keyasint"`
}

func (*Received) Type() Type { return TypeReceived }
func (m *Received) String() string {
	return fmt.Sprintf("Received(%s, #%d)", m.TableID, m.Sequence)
}

// Complete ends the session successfully.
type Complete struct{}

func (*Complete) Type() Type     { return TypeComplete }
func (*Complete) String() string { return "Complete" }

// SessionFailed ends the session with an error.
type SessionFailed struct {
	Reason string `cbor:"1,keyasint,omitempty"`
}

func (*SessionFailed) Type() Type { return TypeSessionFailed }
func (m *SessionFailed) String() string {
	if m.Reason == "" {
		return "SessionFailed"
	}
	return "SessionFailed(" + m.Reason + ")"
}

// KeepAlive is the liveness ping.
type KeepAlive struct{}

func (*KeepAlive) Type() Type     { return TypeKeepAlive }
func (*KeepAlive) String() string { return "keep-alive" }

// OutgoingStream carries one payload to the peer.  Size must match the
// number of bytes the Source yields.
type OutgoingStream struct {
	Name     string
	TableID  string
	Sequence int
	Size     int64
	Compress bool
	Source   Source
}

// NewOutgoingStream builds a stream for src.
func NewOutgoingStream(tableID string, seq int, src Source, compress bool) *OutgoingStream {
	return &OutgoingStream{
		Name:     src.Name(),
		TableID:  tableID,
		Sequence: seq,
		Size:     src.Size(),
		Compress: compress,
		Source:   src,
	}
}

func (*OutgoingStream) Type() Type { return TypeStream }
func (m *OutgoingStream) String() string {
	return fmt.Sprintf("OutgoingStream(%s, #%d, %s, %d bytes)", m.TableID, m.Sequence, m.Name, m.Size)
}

// StreamHeader is the first frame of a stream.
type StreamHeader struct {
	Name       string `cbor:"1,keyasint"`
	TableID    string `cbor:"2,keyasint"`
	Sequence   int    `cbor:"3,keyasint"`
	Size       int64  `cbor:"4,keyasint"`
	Compressed bool   `cbor:"5,keyasint"`
}

func (m *OutgoingStream) header() StreamHeader {
	return StreamHeader{
		Name:       m.Name,
		TableID:    m.TableID,
		Sequence:   m.Sequence,
		Size:       m.Size,
		Compressed: m.Compress,
	}
}
