package vfs

import (
	"context"
	"sync"

	"github.com/asivery/fusenetmd/core"
)

const ERR_READ_ABORTED = core.Error("read aborted")

type waiter struct {
	threshold int64
	ch        chan struct{}
}

// FileBuffer holds the partial contents of a track while it is being
// recovered from the deck, and decouples the slow recovery stream from
// latency-sensitive read callbacks.
//
// contents stays nil until the first reader arrives; that nil check is the
// latch ensuring exactly one transfer is started per buffer no matter how
// many readers race on it. Appends release every waiter whose threshold
// the buffer has grown past; MarkComplete releases the rest.
type FileBuffer struct {
	mu       sync.Mutex
	contents []byte
	complete bool
	waiters  []waiter

	// start launches the recovery bound to this buffer. Called at most
	// once, outside the lock.
	start func(b *FileBuffer)
}

// NewStreamingBuffer returns a buffer whose backing transfer is started
// lazily by the first GetContents call.
func NewStreamingBuffer(start func(b *FileBuffer)) *FileBuffer {
	return &FileBuffer{start: start}
}

// NewWriteBuffer returns an initialized, empty buffer for a file being
// written by userspace. No transfer is ever started for it.
func NewWriteBuffer() *FileBuffer {
	return &FileBuffer{contents: []byte{}}
}

// Len returns the current content length.
func (b *FileBuffer) Len() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return int64(len(b.contents))
}

// Complete reports whether the buffer is sealed.
func (b *FileBuffer) Complete() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.complete
}

// Snapshot returns a copy of the current contents.
func (b *FileBuffer) Snapshot() []byte {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]byte(nil), b.contents...)
}

// Append concatenates data and releases every waiter whose threshold is
// below the new length. Waiters are drained newest-first.
func (b *FileBuffer) Append(data []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.contents == nil {
		b.contents = []byte{}
	}
	b.contents = append(b.contents, data...)
	b.releaseLocked(false)
}

// MarkComplete seals the buffer and releases all remaining waiters. The
// transition is monotonic.
func (b *FileBuffer) MarkComplete() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.contents == nil {
		b.contents = []byte{}
	}
	b.complete = true
	b.releaseLocked(true)
}

func (b *FileBuffer) releaseLocked(all bool) {
	n := int64(len(b.contents))
	released := make([]bool, len(b.waiters))
	for i := len(b.waiters) - 1; i >= 0; i-- {
		if all || b.waiters[i].threshold < n {
			close(b.waiters[i].ch)
			released[i] = true
		}
	}
	kept := b.waiters[:0]
	for i, w := range b.waiters {
		if !released[i] {
			kept = append(kept, w)
		}
	}
	b.waiters = kept
}

// WriteAt copies data at off, zero-filling any gap, and returns the number
// of bytes written. Only valid on write buffers before they are sealed.
func (b *FileBuffer) WriteAt(data []byte, off int64) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.contents == nil {
		b.contents = []byte{}
	}
	need := off + int64(len(data))
	for int64(len(b.contents)) < need {
		b.contents = append(b.contents, make([]byte, need-int64(len(b.contents)))...)
	}
	copy(b.contents[off:], data)
	return len(data)
}

// GetContents returns up to length bytes at offset start. The first call
// triggers the bound transfer; callers that outrun the stream suspend on a
// waiter until the buffer grows past start+length or is sealed. Once the
// buffer is complete the result is simply the available slice, possibly
// shorter than length at EOF. Context cancellation releases the waiter and
// surfaces an I/O error.
func (b *FileBuffer) GetContents(ctx context.Context, start, length int64) ([]byte, error) {
	b.mu.Lock()
	var begin func(*FileBuffer)
	if b.contents == nil && !b.complete {
		b.contents = []byte{}
		begin = b.start
	}
	b.mu.Unlock()
	if begin != nil {
		go begin(b)
	}

	for {
		b.mu.Lock()
		if b.complete || start+length <= int64(len(b.contents)) {
			out := b.sliceLocked(start, length)
			b.mu.Unlock()
			return out, nil
		}
		w := waiter{threshold: start + length, ch: make(chan struct{})}
		b.waiters = append(b.waiters, w)
		b.mu.Unlock()

		select {
		case <-w.ch:
		case <-ctx.Done():
			b.dropWaiter(w)
			return nil, ERR_READ_ABORTED
		}
	}
}

func (b *FileBuffer) sliceLocked(start, length int64) []byte {
	n := int64(len(b.contents))
	if start >= n {
		return nil
	}
	end := start + length
	if end > n {
		end = n
	}
	return append([]byte(nil), b.contents[start:end]...)
}

func (b *FileBuffer) dropWaiter(w waiter) {
	b.mu.Lock()
	defer b.mu.Unlock()
	for i := range b.waiters {
		if b.waiters[i].ch == w.ch {
			b.waiters = append(b.waiters[:i], b.waiters[i+1:]...)
			return
		}
	}
}
