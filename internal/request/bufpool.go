package request

import "sync"

const readBufSize = 4096

// Read buffers are pooled so a mostly-idle server with many keep-alive
// connections does not hold a fresh 4KB per parse.
var readBufPool = sync.Pool{
	New: func() any {
		b := make([]byte, readBufSize)
		return &b
	},
}

func getReadBuf() *[]byte {
	return readBufPool.Get().(*[]byte)
}

func putReadBuf(b *[]byte) {
	readBufPool.Put(b)
}
