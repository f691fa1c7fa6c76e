package jpeg

import (
	"bytes"
	"sync"

	"github.com/harliandi/go-shrink/pkg/metrics"
)

// bufferTier pools buffers up to a fixed capacity.
type bufferTier struct {
	name  string
	limit int
	pool  sync.Pool
}

// Tiers cover thumbnails, typical photos and large photos. Larger
// outputs are left to the GC.
var bufferTiers = []*bufferTier{
	newBufferTier("small", 64*1024),
	newBufferTier("medium", 512*1024),
	newBufferTier("large", 5*1024*1024),
}

func newBufferTier(name string, limit int) *bufferTier {
	t := &bufferTier{name: name, limit: limit}
	t.pool.New = func() any {
		metrics.RecordBufferAllocation(name)
		return bytes.NewBuffer(make([]byte, 0, limit))
	}
	return t
}

// getBuffer returns an empty buffer able to hold about hint bytes.
func getBuffer(hint int) *bytes.Buffer {
	for _, t := range bufferTiers {
		if hint <= t.limit {
			return t.pool.Get().(*bytes.Buffer)
		}
	}
	return bytes.NewBuffer(make([]byte, 0, hint))
}

// putBuffer returns buf to the tier matching its capacity.
func putBuffer(buf *bytes.Buffer) {
	c := buf.Cap()
	for _, t := range bufferTiers {
		if c <= t.limit {
			if c < t.limit/2 {
				return
			}
			buf.Reset()
			t.pool.Put(buf)
			return
		}
	}
}
