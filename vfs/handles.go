package vfs

import (
	"fmt"
	"strings"
	"sync"
)

// HandleTable tracks every open file handle. Slots are tombstoned on
// release (nil means free) and allocation reuses the lowest free slot
// before extending, so handle indexes stay small and stable across churn.
type HandleTable struct {
	mu    sync.Mutex
	slots []*handleEntry

	// createWhitelist holds the paths of files opened through create and
	// not yet released; their nodes are in the tree but have no on-disc
	// payload yet.
	createWhitelist map[string]struct{}
}

type handleEntry struct {
	path string
}

func NewHandleTable() *HandleTable {
	return &HandleTable{createWhitelist: map[string]struct{}{}}
}

// Alloc registers a handle for path and returns its slot index.
func (t *HandleTable) Alloc(path string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	openHandles.Inc()
	for i, e := range t.slots {
		if e == nil {
			t.slots[i] = &handleEntry{path: path}
			return i
		}
	}
	t.slots = append(t.slots, &handleEntry{path: path})
	return len(t.slots) - 1
}

// Free tombstones a slot. Freeing an already-free slot is a no-op.
func (t *HandleTable) Free(slot int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if slot < 0 || slot >= len(t.slots) || t.slots[slot] == nil {
		return
	}
	t.slots[slot] = nil
	openHandles.Dec()
}

// AddCreated marks path as created-but-unflushed.
func (t *HandleTable) AddCreated(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.createWhitelist[path] = struct{}{}
}

// RemoveCreated drops path from the whitelist.
func (t *HandleTable) RemoveCreated(path string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.createWhitelist, path)
}

// IsCreated reports whether path was created in this session and not yet
// flushed. Such files cannot have a backing track on the disc.
func (t *HandleTable) IsCreated(path string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.createWhitelist[path]
	return ok
}

// Dump renders the table, one row per slot.
func (t *HandleTable) Dump() []byte {
	t.mu.Lock()
	defer t.mu.Unlock()
	var sb strings.Builder
	for i, e := range t.slots {
		if e == nil {
			fmt.Fprintf(&sb, "%d\t<INVL>\n", i)
		} else {
			fmt.Fprintf(&sb, "%d\t%s\n", i, e.path)
		}
	}
	return []byte(sb.String())
}
