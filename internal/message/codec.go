package message

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	ncerr "gostream/internal/errors"
	"gostream/util"
)

// CurrentVersion is the only streaming protocol version this build speaks.
const CurrentVersion = 1

const (
	frameHeaderLen  = 5 // type byte + u32 body length
	recordHeaderLen = 4
)

// Codec encodes messages for one protocol version.  It is safe for
// concurrent use.
type Codec struct {
	enc cbor.EncMode
	dec cbor.DecMode
}

// NewCodec returns a codec using deterministic CBOR bodies.
func NewCodec() (*Codec, error) {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		return nil, err
	}
	dm, err := cbor.DecOptions{}.DecMode()
	if err != nil {
		return nil, err
	}
	return &Codec{enc: em, dec: dm}, nil
}

func checkVersion(version int) error {
	if version != CurrentVersion {
		return fmt.Errorf("%w: %d", ncerr.ErrUnknownVersion, version)
	}
	return nil
}

func (c *Codec) body(m Message) ([]byte, error) {
	if s, ok := m.(*OutgoingStream); ok {
		return c.enc.Marshal(s.header())
	}
	return c.enc.Marshal(m)
}

// SerializedSize returns the exact number of bytes Serialize writes for
// a control message.  Streams have no size known up front.
func (c *Codec) SerializedSize(m Message, version int) (int64, error) {
	if err := checkVersion(version); err != nil {
		return 0, err
	}
	if m.Type() == TypeStream {
		return 0, fmt.Errorf("serialized size of %s is not known up front", m)
	}
	body, err := c.body(m)
	if err != nil {
		return 0, fmt.Errorf("encoding %s: %w", m.Type(), err)
	}
	return int64(frameHeaderLen + len(body)), nil
}

// Serialize writes m to w.  A control message is written with a single
// Write call.  A stream is read from its Source and written as records,
// zstd-compressed when the stream asks for it.
func (c *Codec) Serialize(m Message, w io.Writer, version int) error {
	if err := checkVersion(version); err != nil {
		return err
	}
	body, err := c.body(m)
	if err != nil {
		return fmt.Errorf("encoding %s: %w", m.Type(), err)
	}
	if s, ok := m.(*OutgoingStream); ok {
		return writeStream(w, s, body)
	}
	return writeFrame(w, m.Type(), body)
}

func writeFrame(w io.Writer, t Type, body []byte) error {
	buf := make([]byte, frameHeaderLen+len(body))
	buf[0] = byte(t)
	binary.BigEndian.PutUint32(buf[1:frameHeaderLen], uint32(len(body)))
	copy(buf[frameHeaderLen:], body)
	_, err := w.Write(buf)
	return err
}

func writeStream(w io.Writer, s *OutgoingStream, header []byte) error {
	if s.Source == nil {
		return fmt.Errorf("%s has no source", s)
	}
	bw := bufio.NewWriterSize(w, util.DefaultBufSize+recordHeaderLen)
	if err := writeFrame(bw, TypeStream, header); err != nil {
		return err
	}

	src, err := s.Source.Open()
	if err != nil {
		return fmt.Errorf("opening %s: %w", s.Name, err)
	}
	defer src.Close()

	rw := &recordWriter{w: bw}
	var n int64
	if s.Compress {
		zw, err := zstd.NewWriter(rw, zstd.WithEncoderConcurrency(1))
		if err != nil {
			return err
		}
		n, err = util.CopyChunks(src, func(p []byte) error {
			_, err := zw.Write(p)
			return err
		})
		if err != nil {
			zw.Close() //nolint:errcheck
			return err
		}
		if err := zw.Close(); err != nil {
			return err
		}
	} else {
		n, err = util.CopyChunks(src, func(p []byte) error {
			_, err := rw.Write(p)
			return err
		})
		if err != nil {
			return err
		}
	}
	if n != s.Size {
		return fmt.Errorf("%s: source yielded %d bytes, declared %d", s, n, s.Size)
	}

	var end [recordHeaderLen]byte
	if _, err := bw.Write(end[:]); err != nil {
		return err
	}
	return bw.Flush()
}

// recordWriter frames every Write as one length-prefixed record.
type recordWriter struct {
	w io.Writer
}

func (r *recordWriter) Write(p []byte) (int, error) {
	if len(p) == 0 {
		return 0, nil
	}
	var hdr [recordHeaderLen]byte
	binary.BigEndian.PutUint32(hdr[:], uint32(len(p)))
	if _, err := r.w.Write(hdr[:]); err != nil {
		return 0, err
	}
	return r.w.Write(p)
}
