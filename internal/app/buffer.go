package app

import (
	"github.com/valyala/bytebufferpool"

	"objpool/pkg/recycler"
)

// scratchBuffer is the pooled request-scratch object the demo daemon drives
// through the recycler: it embeds a bytebufferpool.ByteBuffer for the actual
// byte storage and stashes its own Handle so handlers can recycle it without
// holding a separate reference (the pattern New's doc comment describes).
type scratchBuffer struct {
	*bytebufferpool.ByteBuffer
	handle *recycler.Handle[*scratchBuffer]
}

// release resets the buffer's contents and returns it to the pool through its
// handle. Safe to call even when pooling is disabled (WithPoolingDisabled),
// since Handle.Recycle is then a no-op.
func (b *scratchBuffer) release() {
	b.Reset()
	_ = b.handle.Recycle(b)
}

func newScratchBuffer(h *recycler.Handle[*scratchBuffer]) *scratchBuffer {
	return &scratchBuffer{ByteBuffer: &bytebufferpool.ByteBuffer{}, handle: h}
}
