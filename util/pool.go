package util

import "sync"

// BufPool holds DefaultBufSize buffers for CopyChunks, which runs once
// per payload sent or received.
var BufPool = sync.Pool{
	New: func() interface{} {
		buf := make([]byte, DefaultBufSize)
		return &buf
	},
}

// GetBuf takes a buffer from BufPool.  Return it with [PutBuf].
func GetBuf() *[]byte {
	return BufPool.Get().(*[]byte)
}

// PutBuf hands buf back to BufPool.  A nil buf is ignored.
func PutBuf(buf *[]byte) {
	if buf == nil {
		return
	}
	BufPool.Put(buf)
}
