package transport

import (
	"fmt"
	"io"

	ncerr "gostream/internal/errors"
)

// preambleMagic opens every stream connection, followed by one byte of
// protocol version.
var preambleMagic = [4]byte{'G', 'S', 'T', 'M'}

// WritePreamble announces the protocol version on a new connection.
func WritePreamble(w io.Writer, version int) error {
	if version <= 0 || version > 255 {
		return fmt.Errorf("%w: %d", ncerr.ErrUnknownVersion, version)
	}
	var b [5]byte
	copy(b[:], preambleMagic[:])
	b[4] = byte(version)
	_, err := w.Write(b[:])
	return err
}

// ReadPreamble reads and checks the preamble, returning the version.
func ReadPreamble(r io.Reader) (int, error) {
	var b [5]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return 0, fmt.Errorf("%w: %v", ncerr.ErrBadPreamble, err)
	}
	if [4]byte(b[:4]) != preambleMagic {
		return 0, fmt.Errorf("%w: magic %q", ncerr.ErrBadPreamble, b[:4])
	}
	return int(b[4]), nil
}
