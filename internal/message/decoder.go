package message

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
	"github.com/klauspost/compress/zstd"

	"gostream/util"
)

// Decoder reads messages from a peer connection.  Not safe for
// concurrent use.
type Decoder struct {
	r       *bufio.Reader
	dec     cbor.DecMode
	pending *IncomingStream
}

// NewDecoder returns a decoder reading version-encoded frames from r.
func (c *Codec) NewDecoder(r io.Reader, version int) (*Decoder, error) {
	if err := checkVersion(version); err != nil {
		return nil, err
	}
	return &Decoder{r: bufio.NewReaderSize(r, util.DefaultBufSize), dec: c.dec}, nil
}

// Next returns the next message.  An unread payload of a previous
// stream is discarded first.  Returns io.EOF at a clean frame boundary.
func (d *Decoder) Next() (Message, error) {
	if d.pending != nil {
		err := d.pending.drain()
		d.pending = nil
		if err != nil {
			return nil, err
		}
	}

	var hdr [frameHeaderLen]byte
	if _, err := io.ReadFull(d.r, hdr[:]); err != nil {
		return nil, err
	}
	t := Type(hdr[0])
	n := binary.BigEndian.Uint32(hdr[1:])
	if int64(n) > MaxControlMessageSize {
		return nil, fmt.Errorf("%s frame of %d bytes exceeds limit", t, n)
	}
	body := make([]byte, n)
	if _, err := io.ReadFull(d.r, body); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, err
	}

	var m Message
	switch t {
	case TypeInit:
		m = &Init{}
	case TypePrepare:
		m = &Prepare{}
	case TypeReceived:
		m = &Received{}
	case TypeComplete:
		m = &Complete{}
	case TypeSessionFailed:
		m = &SessionFailed{}
	case TypeKeepAlive:
		m = &KeepAlive{}
	case TypeStream:
		var h StreamHeader
		if err := d.dec.Unmarshal(body, &h); err != nil {
			return nil, fmt.Errorf("decoding stream header: %w", err)
		}
		s, err := newIncomingStream(h, d.r)
		if err != nil {
			return nil, err
		}
		d.pending = s
		return s, nil
	default:
		return nil, fmt.Errorf("unknown message type %d", uint8(t))
	}
	if err := d.dec.Unmarshal(body, m); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", t, err)
	}
	return m, nil
}

// Close releases the decompressor of an unfinished stream, if any.
func (d *Decoder) Close() {
	if d.pending != nil && d.pending.zr != nil {
		d.pending.zr.Close()
	}
	d.pending = nil
}

// IncomingStream is a decoded stream.  Payload yields the original
// (decompressed) bytes and fails if their count differs from
// Header.Size.  Payload is only valid until the next call to Next.
type IncomingStream struct {
	Header  StreamHeader
	Payload io.Reader

	records *recordReader
	zr      *zstd.Decoder
}

func newIncomingStream(h StreamHeader, r *bufio.Reader) (*IncomingStream, error) {
	s := &IncomingStream{Header: h, records: &recordReader{r: r}}
	var payload io.Reader = s.records
	if h.Compressed {
		zr, err := zstd.NewReader(s.records, zstd.WithDecoderConcurrency(1))
		if err != nil {
			return nil, err
		}
		s.zr = zr
		payload = zr
	}
	s.Payload = &sizeChecked{r: payload, want: h.Size, name: h.Name}
	return s, nil
}

func (*IncomingStream) Type() Type { return TypeStream }
func (s *IncomingStream) String() string {
	return fmt.Sprintf("IncomingStream(%s, #%d, %s, %d bytes)", s.Header.TableID, s.Header.Sequence, s.Header.Name, s.Header.Size)
}

func (s *IncomingStream) drain() error {
	_, err := io.Copy(io.Discard, s.Payload)
	if s.zr != nil {
		s.zr.Close()
	}
	if err != nil {
		return err
	}
	_, err = io.Copy(io.Discard, s.records)
	return err
}

// recordReader yields the bytes of consecutive records up to the
// zero-length terminator.
type recordReader struct {
	r         *bufio.Reader
	remaining uint32
	done      bool
}

func (rr *recordReader) Read(p []byte) (int, error) {
	for rr.remaining == 0 {
		if rr.done {
			return 0, io.EOF
		}
		var hdr [recordHeaderLen]byte
		if _, err := io.ReadFull(rr.r, hdr[:]); err != nil {
			if errors.Is(err, io.EOF) {
				err = io.ErrUnexpectedEOF
			}
			return 0, err
		}
		rr.remaining = binary.BigEndian.Uint32(hdr[:])
		if rr.remaining == 0 {
			rr.done = true
		}
	}
	if uint32(len(p)) > rr.remaining {
		p = p[:rr.remaining]
	}
	n, err := rr.r.Read(p)
	rr.remaining -= uint32(n)
	if errors.Is(err, io.EOF) {
		err = io.ErrUnexpectedEOF
	}
	return n, err
}

type sizeChecked struct {
	r    io.Reader
	n    int64
	want int64
	name string
}

func (s *sizeChecked) Read(p []byte) (int, error) {
	n, err := s.r.Read(p)
	s.n += int64(n)
	if s.n > s.want {
		return n, fmt.Errorf("stream %s: more than the declared %d bytes", s.name, s.want)
	}
	if errors.Is(err, io.EOF) && s.n != s.want {
		return n, fmt.Errorf("stream %s: got %d bytes, declared %d: %w", s.name, s.n, s.want, io.ErrUnexpectedEOF)
	}
	return n, err
}
