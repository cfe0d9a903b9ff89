package vfs

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/orca-zhang/ecache"
	"golang.org/x/sync/singleflight"

	"github.com/asivery/fusenetmd/core"
	"github.com/asivery/fusenetmd/tfs"
)

const (
	ERR_NOT_FOUND = core.Error("no such entry")
	ERR_EXISTS    = core.Error("entry already exists")
	ERR_NOT_EMPTY = core.Error("directory not empty")
	ERR_NOT_DIR   = core.Error("not a directory")
	ERR_IS_DIR    = core.Error("is a directory")
)

// audioEntryCache holds rendered /$audio listings keyed by snapshot
// generation, so repeated readdirs do not re-render the names.
var audioEntryCache = ecache.NewLRUCache(4, 16, 30*time.Second)

// AudioEntry is one rendered /$audio directory entry.
type AudioEntry struct {
	Name  string
	Index int
}

type audioFile struct {
	node *tfs.Node
	buf  *FileBuffer
}

// Cache is the engine's snapshot of the disc: the overlay tree root, the
// track listing and TOC, the byte sizes presented for audio tracks, the
// in-progress audio read buffers, and the smallest unused overlay track
// ID. All tree access goes through its methods; the single small mutex is
// never held across a device operation.
type Cache struct {
	transfer *Transfer

	mu sync.Mutex
	sf singleflight.Group

	root               *tfs.Node
	tracks             []core.TrackInfo
	toc                *core.TOC
	trackSectorLengths []int64
	audio              map[int]*audioFile
	fileBufs           map[*tfs.Node]*FileBuffer
	nextFileID         int
	gen                uint64
}

// NewEngine wires a cache and a transfer coordinator around a device.
func NewEngine(dev core.Device, store *core.RecoveryStore) (*Cache, *Transfer) {
	t := NewTransfer(dev, store)
	c := &Cache{
		transfer: t,
		root:     tfs.NewDir(""),
		audio:    map[int]*audioFile{},
		fileBufs: map[*tfs.Node]*FileBuffer{},
	}
	t.bind(c)
	return c, t
}

// Init loads the overlay tree from the disc and takes the first snapshot.
func (c *Cache) Init(ctx core.Ctx) error {
	root := c.transfer.GetTFS(ctx)
	c.mu.Lock()
	c.root = root
	c.mu.Unlock()
	return c.RefreshCache(ctx)
}

// RefreshCache re-reads the disc listing and TOC and recomputes the
// derived tables. Concurrent calls collapse into one device round trip.
func (c *Cache) RefreshCache(ctx core.Ctx) error {
	_, err, _ := c.sf.Do("refresh", func() (interface{}, error) {
		tracks, err := c.transfer.GetDiscState(ctx)
		if err != nil {
			return nil, err
		}
		toc, err := c.transfer.GetTOC(ctx)
		if err != nil {
			return nil, err
		}

		lengths := make([]int64, len(tracks))
		for i := range tracks {
			lengths[i] = sectorLength(toc, i)
		}

		var used [core.MaxTrackID + 1]bool
		for _, tr := range tracks {
			if id, ok := core.ParseHiddenTitle(tr.Title); ok {
				used[id] = true
			}
		}
		next := -1
		for id := 0; id <= core.MaxTrackID; id++ {
			if !used[id] {
				next = id
				break
			}
		}
		if next < 0 {
			DebugLog("no free overlay track id, disc is full")
		}

		c.mu.Lock()
		c.tracks = tracks
		c.toc = toc
		c.trackSectorLengths = lengths
		c.nextFileID = next
		c.audio = map[int]*audioFile{}
		c.gen++
		c.mu.Unlock()
		return nil, nil
	})
	return err
}

// sectorLength is the byte size presented to userspace for audio track i:
// the summed logical span of its fragment chain times the per-sector
// payload, plus the synthesized header overhead. LP tracks carry 220
// fewer payload bytes per sector and a much smaller header.
func sectorLength(toc *core.TOC, i int) int64 {
	chain := toc.FragmentChain(i + 1)
	if len(chain) == 0 {
		return 0
	}
	isLP := toc.Fragments[chain[0]].Mode&core.ModeFlagSPMode == 0
	sectors := int64(toc.SectorSpan(i + 1))
	per := int64(core.SectorPayload)
	header := int64(core.SPHeaderOverhead)
	if isLP {
		per -= core.LPSectorPadding
		header = core.LPHeaderOverhead
	}
	return sectors*per + header
}

// FlushCache persists the overlay tree into the UTOC and re-snapshots.
func (c *Cache) FlushCache(ctx core.Ctx) error {
	c.mu.Lock()
	root := c.root
	c.mu.Unlock()
	if err := c.transfer.WriteTOC(ctx, root); err != nil {
		return err
	}
	return c.RefreshCache(ctx)
}

// ResolveIDToIndex returns the disc index of the hidden track backing an
// overlay track ID, or -1 if the file has no on-disc payload yet.
func (c *Cache) ResolveIDToIndex(id int) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.resolveLocked(id)
}

func (c *Cache) resolveLocked(id int) int {
	for _, tr := range c.tracks {
		if got, ok := core.ParseHiddenTitle(tr.Title); ok && got == id {
			return tr.Index
		}
	}
	return -1
}

// Root returns the overlay tree root.
func (c *Cache) Root() *tfs.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root
}

// SetRoot replaces the overlay tree (the /$system/tfs.bin write hook).
// The new tree is not flushed.
func (c *Cache) SetRoot(root *tfs.Node) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.root = root
	c.fileBufs = map[*tfs.Node]*FileBuffer{}
}

// Tracks returns the current disc listing snapshot.
func (c *Cache) Tracks() []core.TrackInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]core.TrackInfo(nil), c.tracks...)
}

// SectorLength returns the presented byte size of audio track index.
func (c *Cache) SectorLength(index int) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if index < 0 || index >= len(c.trackSectorLengths) {
		return 0
	}
	return c.trackSectorLengths[index]
}

// AllocFileID picks the smallest track ID unused by both the disc's
// hidden tracks and the in-memory tree. The tree check covers files
// created but not yet flushed, which the disc scan cannot see.
func (c *Cache) AllocFileID() (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.allocFileIDLocked()
}

func (c *Cache) allocFileIDLocked() (int, error) {
	var used [core.MaxTrackID + 1]bool
	for _, tr := range c.tracks {
		if id, ok := core.ParseHiddenTitle(tr.Title); ok {
			used[id] = true
		}
	}
	markTreeIDs(c.root, &used)
	for id := 0; id <= core.MaxTrackID; id++ {
		if !used[id] {
			return id, nil
		}
	}
	return 0, core.ERR_DISC_FULL
}

func markTreeIDs(n *tfs.Node, used *[core.MaxTrackID + 1]bool) {
	if n.IsDir() {
		for _, child := range n.Children {
			markTreeIDs(child, used)
		}
		return
	}
	if n.TrackID >= 0 && n.TrackID <= core.MaxTrackID && !n.Audio {
		used[n.TrackID] = true
	}
}

// NextFileID returns the allocator state computed at the last refresh.
func (c *Cache) NextFileID() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.nextFileID
}

// audioEntryName renders the /$audio name of a visible track.
func audioEntryName(tr core.TrackInfo) string {
	title := tr.Title
	if title == "" {
		title = "No Title"
	}
	title = strings.ReplaceAll(title, "/", "_")
	ext := "wav"
	if tr.Encoding == core.EncSP {
		ext = "aea"
	}
	return fmt.Sprintf("%d. %s.%s", tr.Index+1, title, ext)
}

// AudioEntries lists /$audio: every disc track that is not a hidden
// overlay payload, rendered as "N. Title.ext".
func (c *Cache) AudioEntries() []AudioEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	key := fmt.Sprintf("audio/%d", c.gen)
	if cached, ok := audioEntryCache.Get(key); ok {
		return cached.([]AudioEntry)
	}
	var entries []AudioEntry
	for _, tr := range c.tracks {
		if strings.HasPrefix(tr.Title, core.HiddenTrackPrefix) {
			continue
		}
		entries = append(entries, AudioEntry{Name: audioEntryName(tr), Index: tr.Index})
	}
	audioEntryCache.Put(key, entries)
	return entries
}

// AudioIndex resolves a rendered /$audio name back to its disc index.
func (c *Cache) AudioIndex(name string) (int, bool) {
	dot := strings.Index(name, ". ")
	if dot <= 0 {
		return 0, false
	}
	n, err := strconv.Atoi(name[:dot])
	if err != nil || n < 1 {
		return 0, false
	}
	index := n - 1

	c.mu.Lock()
	defer c.mu.Unlock()
	if index >= len(c.tracks) {
		return 0, false
	}
	tr := c.tracks[index]
	if strings.HasPrefix(tr.Title, core.HiddenTrackPrefix) {
		return 0, false
	}
	if audioEntryName(tr) != name {
		return 0, false
	}
	return index, true
}

// AudioFile returns the streaming pseudo file for an audio track,
// creating and caching it on first open. The node's byte length is -1 and
// is not updated by recovery; presented sizes come from SectorLength.
func (c *Cache) AudioFile(index int) (*tfs.Node, *FileBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if af, ok := c.audio[index]; ok {
		return af.node, af.buf
	}
	node := &tfs.Node{
		Type:       tfs.TypeFile,
		TrackID:    index,
		ByteLength: -1,
		Audio:      true,
	}
	if index < len(c.tracks) {
		node.Name = audioEntryName(c.tracks[index])
	}
	buf := NewStreamingBuffer(func(b *FileBuffer) {
		if err := c.transfer.StartReadTransfer(context.Background(), b, index, ReadOptions{AudioTrack: true}); err != nil {
			DebugLog("audio read transfer for track %d failed: %v", index, err)
		}
	})
	c.audio[index] = &audioFile{node: node, buf: buf}
	return node, buf
}

// FileBuffer returns the streaming buffer bound to an overlay file node,
// creating it on first read.
func (c *Cache) FileBuffer(node *tfs.Node) *FileBuffer {
	c.mu.Lock()
	defer c.mu.Unlock()
	if buf, ok := c.fileBufs[node]; ok && buf != nil {
		return buf
	}
	id := node.TrackID
	buf := NewStreamingBuffer(func(b *FileBuffer) {
		if err := c.transfer.StartReadTransfer(context.Background(), b, id, ReadOptions{}); err != nil {
			DebugLog("overlay read transfer for id %d failed: %v", id, err)
		}
	})
	c.fileBufs[node] = buf
	return buf
}

// SetFileBuffer rebinds a node's buffer, used after a write seals fresh
// contents so later reads serve them from memory.
func (c *Cache) SetFileBuffer(node *tfs.Node, buf *FileBuffer) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.fileBufs[node] = buf
}

// SizeOf returns the recorded byte length of an overlay node.
func (c *Cache) SizeOf(node *tfs.Node) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	if node.ByteLength < 0 {
		return 0
	}
	return node.ByteLength
}

// SetByteLength updates an overlay file's recorded length.
func (c *Cache) SetByteLength(node *tfs.Node, n int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	node.ByteLength = n
}

// Lookup resolves a slash-separated path through the overlay tree.
func (c *Cache) Lookup(path string) *tfs.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.root.Traverse(path)
}

// Child resolves one child of a directory node.
func (c *Cache) Child(parent *tfs.Node, name string) *tfs.Node {
	c.mu.Lock()
	defer c.mu.Unlock()
	return parent.GetChild(name)
}

// ChildNames lists a directory's children in name order.
func (c *Cache) ChildNames(parent *tfs.Node) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !parent.IsDir() {
		return nil
	}
	names := make([]string, 0, len(parent.Children))
	for name := range parent.Children {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// CreateFile adds a new overlay file under parent, or returns the
// existing file node so its track ID is reused on rewrite. Creating over
// a directory fails.
func (c *Cache) CreateFile(parent *tfs.Node, name string) (*tfs.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !parent.IsDir() {
		return nil, ERR_NOT_DIR
	}
	if existing := parent.GetChild(name); existing != nil {
		if existing.IsDir() {
			return nil, ERR_IS_DIR
		}
		return existing, nil
	}
	id, err := c.allocFileIDLocked()
	if err != nil {
		return nil, err
	}
	node := tfs.NewFile(name, id)
	parent.Add(node)
	return node, nil
}

// Mkdir adds an empty directory under parent.
func (c *Cache) Mkdir(parent *tfs.Node, name string) (*tfs.Node, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !parent.IsDir() {
		return nil, ERR_NOT_DIR
	}
	if parent.GetChild(name) != nil {
		return nil, ERR_EXISTS
	}
	node := tfs.NewDir(name)
	parent.Add(node)
	return node, nil
}

// RemoveChild detaches a child from parent. For files it also resolves
// the backing disc index (or -1) so the caller can erase the track.
// Non-empty directories refuse.
func (c *Cache) RemoveChild(parent *tfs.Node, name string) (*tfs.Node, int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	child := parent.GetChild(name)
	if child == nil {
		return nil, -1, ERR_NOT_FOUND
	}
	if child.IsDir() {
		if len(child.Children) > 0 {
			return nil, -1, ERR_NOT_EMPTY
		}
		parent.Remove(name)
		return child, -1, nil
	}
	index := c.resolveLocked(child.TrackID)
	parent.Remove(name)
	delete(c.fileBufs, child)
	return child, index, nil
}

// Rename moves a child between directories. The source must exist, the
// destination must not, and both parents must be directories.
func (c *Cache) Rename(srcParent *tfs.Node, srcName string, dstParent *tfs.Node, dstName string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !srcParent.IsDir() || !dstParent.IsDir() {
		return ERR_NOT_DIR
	}
	child := srcParent.GetChild(srcName)
	if child == nil {
		return ERR_NOT_FOUND
	}
	if dstParent.GetChild(dstName) != nil {
		return ERR_EXISTS
	}
	srcParent.Remove(srcName)
	child.Name = dstName
	dstParent.Add(child)
	return nil
}
