package util

import (
	"errors"
	"io"
	"net"
)

// DefaultBufSize is the standard buffer size for network I/O (32 KiB).
const DefaultBufSize = 32 * 1024

// CopyChunks reads src to EOF in pooled DefaultBufSize pieces and hands
// each piece to emit.  The slice passed to emit is only valid for the
// duration of the call.  Returns the number of bytes read.
func CopyChunks(src io.Reader, emit func([]byte) error) (int64, error) {
	buf := GetBuf()
	defer PutBuf(buf)

	var total int64
	for {
		n, err := src.Read(*buf)
		if n > 0 {
			total += int64(n)
			if werr := emit((*buf)[:n]); werr != nil {
				return total, werr
			}
		}
		if errors.Is(err, io.EOF) {
			return total, nil
		}
		if err != nil {
			return total, err
		}
	}
}

// IsHarmless returns true for errors that are expected during shutdown.
func IsHarmless(err error) bool {
	if err == nil {
		return true
	}
	if errors.Is(err, io.EOF) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return true
	}
	// net.OpError wrapping "use of closed network connection"
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return errors.Is(opErr.Err, net.ErrClosed)
	}
	return false
}
