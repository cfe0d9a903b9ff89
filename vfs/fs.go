package vfs

import (
	"context"
	"sync"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"

	"github.com/asivery/fusenetmd/core"
	"github.com/asivery/fusenetmd/tfs"
)

// Reserved names synthesized into the mount root.
const (
	AudioDirName  = "$audio"
	SystemDirName = "$system"
)

// Fixed inode numbers for the synthesized directories.
const (
	inoAudioDir  = 2
	inoSystemDir = 3
)

const (
	dirMode       = 0o777
	tfsFileMode   = 0o777
	audioFileMode = 0o555
)

// NetMDFS binds the cache and transfer coordinator to the FUSE host. It
// owns the open-file handle table and the /$system table.
type NetMDFS struct {
	cache    *Cache
	transfer *Transfer
	handles  *HandleTable
	system   []*systemFile
}

func NewNetMDFS(cache *Cache, transfer *Transfer) *NetMDFS {
	nfs := &NetMDFS{
		cache:    cache,
		transfer: transfer,
		handles:  NewHandleTable(),
	}
	nfs.system = systemFiles(nfs)
	return nfs
}

// Root returns the root inode embedder for mounting.
func (nfs *NetMDFS) Root() fs.InodeEmbedder {
	return &tfsDirNode{nfs: nfs, isRoot: true}
}

func (nfs *NetMDFS) ctx() core.Ctx {
	return context.Background()
}

func (nfs *NetMDFS) systemFile(name string) *systemFile {
	for _, def := range nfs.system {
		if def.name == name {
			return def
		}
	}
	return nil
}

func toErrno(err error) syscall.Errno {
	switch err {
	case nil:
		return 0
	case ERR_NOT_FOUND:
		return syscall.ENOENT
	case ERR_EXISTS:
		return syscall.EEXIST
	case ERR_NOT_EMPTY:
		return syscall.ENOTEMPTY
	case ERR_NOT_DIR, ERR_IS_DIR:
		return syscall.EPERM
	}
	return syscall.EIO
}

func nodePath(n *fs.Inode) string {
	return "/" + n.Path(nil)
}

func joinPath(parent, name string) string {
	if parent == "/" {
		return "/" + name
	}
	return parent + "/" + name
}

// accMode masks open flags down to the access mode bits. Only O_RDONLY
// and O_WRONLY are supported.
func accMode(flags uint32) (uint32, bool) {
	acc := flags & syscall.O_ACCMODE
	return acc, acc == syscall.O_RDONLY || acc == syscall.O_WRONLY
}

// tfsDirNode exposes an overlay directory. The mount root is the overlay
// root plus the synthesized $audio and $system entries.
type tfsDirNode struct {
	fs.Inode
	nfs    *NetMDFS
	node   *tfs.Node
	isRoot bool
}

var (
	_ fs.InodeEmbedder = (*tfsDirNode)(nil)
	_                  = fs.NodeLookuper(&tfsDirNode{})
	_                  = fs.NodeReaddirer(&tfsDirNode{})
	_                  = fs.NodeGetattrer(&tfsDirNode{})
	_                  = fs.NodeMkdirer(&tfsDirNode{})
	_                  = fs.NodeCreater(&tfsDirNode{})
	_                  = fs.NodeUnlinker(&tfsDirNode{})
	_                  = fs.NodeRmdirer(&tfsDirNode{})
	_                  = fs.NodeRenamer(&tfsDirNode{})
)

// dir resolves the backing tree node. The root tracks the cache's current
// root so a tree swap through /$system/tfs.bin takes effect immediately.
func (n *tfsDirNode) dir() *tfs.Node {
	if n.isRoot {
		return n.nfs.cache.Root()
	}
	return n.node
}

func (n *tfsDirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | dirMode
	out.Nlink = 1
	return 0
}

func (n *tfsDirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.isRoot {
		switch name {
		case AudioDirName:
			out.Mode = syscall.S_IFDIR | dirMode
			return n.NewInode(ctx, &audioDirNode{nfs: n.nfs},
				fs.StableAttr{Mode: syscall.S_IFDIR, Ino: inoAudioDir}), 0
		case SystemDirName:
			out.Mode = syscall.S_IFDIR | dirMode
			return n.NewInode(ctx, &systemDirNode{nfs: n.nfs},
				fs.StableAttr{Mode: syscall.S_IFDIR, Ino: inoSystemDir}), 0
		}
	}
	child := n.nfs.cache.Child(n.dir(), name)
	if child == nil {
		return nil, syscall.ENOENT
	}
	if child.IsDir() {
		out.Mode = syscall.S_IFDIR | dirMode
		out.Nlink = 1
		return n.NewInode(ctx, &tfsDirNode{nfs: n.nfs, node: child},
			fs.StableAttr{Mode: syscall.S_IFDIR}), 0
	}
	out.Mode = syscall.S_IFREG | tfsFileMode
	out.Size = uint64(n.nfs.cache.SizeOf(child))
	out.Nlink = 1
	return n.NewInode(ctx, &tfsFileNode{nfs: n.nfs, node: child},
		fs.StableAttr{Mode: syscall.S_IFREG}), 0
}

func (n *tfsDirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	var entries []fuse.DirEntry
	if n.isRoot {
		entries = append(entries,
			fuse.DirEntry{Name: AudioDirName, Mode: syscall.S_IFDIR, Ino: inoAudioDir},
			fuse.DirEntry{Name: SystemDirName, Mode: syscall.S_IFDIR, Ino: inoSystemDir},
		)
	}
	dir := n.dir()
	for _, name := range n.nfs.cache.ChildNames(dir) {
		mode := uint32(syscall.S_IFREG)
		if child := n.nfs.cache.Child(dir, name); child != nil && child.IsDir() {
			mode = syscall.S_IFDIR
		}
		entries = append(entries, fuse.DirEntry{Name: name, Mode: mode})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *tfsDirNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	if n.isRoot && (name == AudioDirName || name == SystemDirName) {
		return nil, syscall.EPERM
	}
	child, err := n.nfs.cache.Mkdir(n.dir(), name)
	if err != nil {
		return nil, toErrno(err)
	}
	out.Mode = syscall.S_IFDIR | dirMode
	return n.NewInode(ctx, &tfsDirNode{nfs: n.nfs, node: child},
		fs.StableAttr{Mode: syscall.S_IFDIR}), 0
}

func (n *tfsDirNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	if n.isRoot && (name == AudioDirName || name == SystemDirName) {
		return nil, nil, 0, syscall.EPERM
	}
	existed := n.nfs.cache.Child(n.dir(), name) != nil
	child, err := n.nfs.cache.CreateFile(n.dir(), name)
	if err != nil {
		return nil, nil, 0, toErrno(err)
	}
	n.nfs.cache.SetByteLength(child, 0)

	fileNode := &tfsFileNode{nfs: n.nfs, node: child}
	inode := n.NewInode(ctx, fileNode, fs.StableAttr{Mode: syscall.S_IFREG})

	// the inode is linked under its name only after Create returns
	path := joinPath(nodePath(n.EmbeddedInode()), name)
	if !existed {
		// a create over an existing file reuses its track ID and may
		// still have a backing track to erase at release
		n.nfs.handles.AddCreated(path)
	}
	handle := &tfsWriteHandle{
		nfs:  n.nfs,
		node: child,
		buf:  NewWriteBuffer(),
		slot: n.nfs.handles.Alloc(path),
		path: path,
	}

	out.Mode = syscall.S_IFREG | tfsFileMode
	out.Size = 0
	return inode, handle, fuse.FOPEN_DIRECT_IO, 0
}

func (n *tfsDirNode) remove(ctx context.Context, name string) syscall.Errno {
	if n.isRoot && (name == AudioDirName || name == SystemDirName) {
		return syscall.EPERM
	}
	child, index, err := n.nfs.cache.RemoveChild(n.dir(), name)
	if err != nil {
		return toErrno(err)
	}
	if !child.IsDir() && index >= 0 {
		if err := n.nfs.transfer.DeleteTrack(ctx, index); err != nil {
			DebugLog("erase of track %d failed: %v", index, err)
			return syscall.EIO
		}
	}
	return 0
}

func (n *tfsDirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return n.remove(ctx, name)
}

func (n *tfsDirNode) Rmdir(ctx context.Context, name string) syscall.Errno {
	return n.remove(ctx, name)
}

func (n *tfsDirNode) Rename(ctx context.Context, name string, newParent fs.InodeEmbedder, newName string, flags uint32) syscall.Errno {
	dst, ok := newParent.(*tfsDirNode)
	if !ok {
		return syscall.EPERM
	}
	if n.isRoot && (name == AudioDirName || name == SystemDirName) {
		return syscall.EPERM
	}
	if dst.isRoot && (newName == AudioDirName || newName == SystemDirName) {
		return syscall.EPERM
	}
	if err := n.nfs.cache.Rename(n.dir(), name, dst.dir(), newName); err != nil {
		if err == ERR_NOT_FOUND {
			return syscall.ENOENT
		}
		return syscall.EPERM
	}
	return 0
}

// tfsFileNode exposes one overlay file.
type tfsFileNode struct {
	fs.Inode
	nfs  *NetMDFS
	node *tfs.Node
}

var (
	_ fs.InodeEmbedder = (*tfsFileNode)(nil)
	_                  = fs.NodeOpener(&tfsFileNode{})
	_                  = fs.NodeGetattrer(&tfsFileNode{})
	_                  = fs.NodeSetattrer(&tfsFileNode{})
)

func (n *tfsFileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | tfsFileMode
	out.Size = uint64(n.nfs.cache.SizeOf(n.node))
	out.Nlink = 1
	return 0
}

// Setattr accepts truncation as a no-op: writes always grow the buffer.
func (n *tfsFileNode) Setattr(ctx context.Context, f fs.FileHandle, in *fuse.SetAttrIn, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | tfsFileMode
	out.Size = uint64(n.nfs.cache.SizeOf(n.node))
	return 0
}

func (n *tfsFileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	acc, ok := accMode(flags)
	if !ok {
		return nil, 0, syscall.EACCES
	}
	path := nodePath(n.EmbeddedInode())
	if acc == syscall.O_RDONLY {
		handle := &tfsReadHandle{
			nfs:  n.nfs,
			node: n.node,
			buf:  n.nfs.cache.FileBuffer(n.node),
			slot: n.nfs.handles.Alloc(path),
		}
		return handle, fuse.FOPEN_DIRECT_IO, 0
	}

	// Write-open truncates. The backing track, if any, is erased inside
	// the commit sequence at release, never here.
	n.nfs.cache.SetByteLength(n.node, 0)
	handle := &tfsWriteHandle{
		nfs:  n.nfs,
		node: n.node,
		buf:  NewWriteBuffer(),
		slot: n.nfs.handles.Alloc(path),
		path: path,
	}
	return handle, fuse.FOPEN_DIRECT_IO, 0
}

// tfsReadHandle streams an overlay file's recovered payload. Reads clamp
// to the recorded byte length; the recovery stream carries the padded
// track payload which is longer.
type tfsReadHandle struct {
	nfs  *NetMDFS
	node *tfs.Node
	buf  *FileBuffer
	slot int
}

var (
	_ = fs.FileReader(&tfsReadHandle{})
	_ = fs.FileReleaser(&tfsReadHandle{})
)

func (h *tfsReadHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	size := h.nfs.cache.SizeOf(h.node)
	if off >= size {
		return fuse.ReadResultData(nil), 0
	}
	length := int64(len(dest))
	if off+length > size {
		length = size - off
	}
	data, err := h.buf.GetContents(ctx, off, length)
	if err != nil {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(data), 0
}

func (h *tfsReadHandle) Release(ctx context.Context) syscall.Errno {
	h.nfs.handles.Free(h.slot)
	return 0
}

// tfsWriteHandle accumulates an overlay file's new contents in memory and
// commits them to the disc when the handle is released.
type tfsWriteHandle struct {
	nfs  *NetMDFS
	node *tfs.Node
	buf  *FileBuffer
	slot int
	path string

	mu       sync.Mutex
	released bool
}

var (
	_ = fs.FileWriter(&tfsWriteHandle{})
	_ = fs.FileReleaser(&tfsWriteHandle{})
)

func (h *tfsWriteHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return 0, syscall.EACCES
	}
	h.mu.Unlock()
	n := h.buf.WriteAt(data, off)
	h.nfs.cache.SetByteLength(h.node, h.buf.Len())
	return uint32(n), 0
}

func (h *tfsWriteHandle) Release(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	if h.released {
		h.mu.Unlock()
		return 0
	}
	h.released = true
	h.mu.Unlock()

	defer func() {
		h.nfs.handles.Free(h.slot)
		h.nfs.handles.RemoveCreated(h.path)
	}()

	h.buf.MarkComplete()
	if h.buf.Len() == 0 {
		return 0
	}

	// files created this session have no on-disc payload, so only a
	// rewrite of a pre-existing file resolves a track to erase
	oldIndex := -1
	if !h.nfs.handles.IsCreated(h.path) {
		oldIndex = h.nfs.cache.ResolveIDToIndex(h.node.TrackID)
	}
	err := h.nfs.transfer.WriteFileTransfer(ctx, h.node.TrackID, h.buf.Snapshot(), oldIndex, h.nfs.cache.Root())
	if err != nil {
		DebugLog("commit of %s failed: %v", h.path, err)
		return syscall.EIO
	}
	// later reads of this node serve the sealed buffer from memory
	h.nfs.cache.SetFileBuffer(h.node, h.buf)
	if err := h.nfs.cache.RefreshCache(ctx); err != nil {
		return syscall.EIO
	}
	return 0
}

// audioDirNode lists every visible disc track under /$audio.
type audioDirNode struct {
	fs.Inode
	nfs *NetMDFS
}

var (
	_ fs.InodeEmbedder = (*audioDirNode)(nil)
	_                  = fs.NodeLookuper(&audioDirNode{})
	_                  = fs.NodeReaddirer(&audioDirNode{})
	_                  = fs.NodeGetattrer(&audioDirNode{})
	_                  = fs.NodeCreater(&audioDirNode{})
	_                  = fs.NodeUnlinker(&audioDirNode{})
	_                  = fs.NodeMkdirer(&audioDirNode{})
)

func (n *audioDirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | dirMode
	out.Nlink = 1
	return 0
}

func (n *audioDirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	var entries []fuse.DirEntry
	for _, e := range n.nfs.cache.AudioEntries() {
		entries = append(entries, fuse.DirEntry{Name: e.Name, Mode: syscall.S_IFREG})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *audioDirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	index, ok := n.nfs.cache.AudioIndex(name)
	if !ok {
		return nil, syscall.ENOENT
	}
	out.Mode = syscall.S_IFREG | audioFileMode
	out.Size = uint64(n.nfs.cache.SectorLength(index))
	out.Nlink = 1
	return n.NewInode(ctx, &audioFileNode{nfs: n.nfs, index: index},
		fs.StableAttr{Mode: syscall.S_IFREG}), 0
}

func (n *audioDirNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, syscall.EPERM
}

func (n *audioDirNode) Mkdir(ctx context.Context, name string, mode uint32, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	return nil, syscall.EPERM
}

// Unlink erases the backing track. The erase rewrites the TOC on its own,
// so no flush follows.
func (n *audioDirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	index, ok := n.nfs.cache.AudioIndex(name)
	if !ok {
		return syscall.ENOENT
	}
	if err := n.nfs.transfer.DeleteTrack(ctx, index); err != nil {
		return syscall.EIO
	}
	return 0
}

// audioFileNode exposes one visible disc track as a read-only file.
type audioFileNode struct {
	fs.Inode
	nfs   *NetMDFS
	index int
}

var (
	_ fs.InodeEmbedder = (*audioFileNode)(nil)
	_                  = fs.NodeOpener(&audioFileNode{})
	_                  = fs.NodeGetattrer(&audioFileNode{})
)

func (n *audioFileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | audioFileMode
	out.Size = uint64(n.nfs.cache.SectorLength(n.index))
	out.Nlink = 1
	return 0
}

func (n *audioFileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	acc, ok := accMode(flags)
	if !ok || acc != syscall.O_RDONLY {
		return nil, 0, syscall.EACCES
	}
	_, buf := n.nfs.cache.AudioFile(n.index)
	handle := &audioReadHandle{
		nfs:  n.nfs,
		buf:  buf,
		slot: n.nfs.handles.Alloc(nodePath(n.EmbeddedInode())),
	}
	return handle, fuse.FOPEN_DIRECT_IO, 0
}

// audioReadHandle streams a recovered audio track. The presented size is
// an estimate, so reads return whatever the recovery has produced.
type audioReadHandle struct {
	nfs  *NetMDFS
	buf  *FileBuffer
	slot int
}

var (
	_ = fs.FileReader(&audioReadHandle{})
	_ = fs.FileReleaser(&audioReadHandle{})
)

func (h *audioReadHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	data, err := h.buf.GetContents(ctx, off, int64(len(dest)))
	if err != nil {
		return nil, syscall.EIO
	}
	return fuse.ReadResultData(data), 0
}

func (h *audioReadHandle) Release(ctx context.Context) syscall.Errno {
	h.nfs.handles.Free(h.slot)
	return 0
}

// systemDirNode exposes the fixed /$system table.
type systemDirNode struct {
	fs.Inode
	nfs *NetMDFS
}

var (
	_ fs.InodeEmbedder = (*systemDirNode)(nil)
	_                  = fs.NodeLookuper(&systemDirNode{})
	_                  = fs.NodeReaddirer(&systemDirNode{})
	_                  = fs.NodeGetattrer(&systemDirNode{})
	_                  = fs.NodeUnlinker(&systemDirNode{})
	_                  = fs.NodeCreater(&systemDirNode{})
)

func (n *systemDirNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFDIR | dirMode
	out.Nlink = 1
	return 0
}

func (n *systemDirNode) Readdir(ctx context.Context) (fs.DirStream, syscall.Errno) {
	var entries []fuse.DirEntry
	for _, def := range n.nfs.system {
		entries = append(entries, fuse.DirEntry{Name: def.name, Mode: syscall.S_IFREG})
	}
	return fs.NewListDirStream(entries), 0
}

func (n *systemDirNode) Lookup(ctx context.Context, name string, out *fuse.EntryOut) (*fs.Inode, syscall.Errno) {
	def := n.nfs.systemFile(name)
	if def == nil {
		return nil, syscall.ENOENT
	}
	node := &systemFileNode{nfs: n.nfs, def: def}
	out.Mode = syscall.S_IFREG | node.mode()
	out.Size = uint64(node.size())
	out.Nlink = 1
	return n.NewInode(ctx, node, fs.StableAttr{Mode: syscall.S_IFREG}), 0
}

func (n *systemDirNode) Unlink(ctx context.Context, name string) syscall.Errno {
	return syscall.EPERM
}

func (n *systemDirNode) Create(ctx context.Context, name string, flags uint32, mode uint32, out *fuse.EntryOut) (*fs.Inode, fs.FileHandle, uint32, syscall.Errno) {
	return nil, nil, 0, syscall.EPERM
}

// systemFileNode exposes one virtual control file.
type systemFileNode struct {
	fs.Inode
	nfs *NetMDFS
	def *systemFile
}

var (
	_ fs.InodeEmbedder = (*systemFileNode)(nil)
	_                  = fs.NodeOpener(&systemFileNode{})
	_                  = fs.NodeGetattrer(&systemFileNode{})
)

func (n *systemFileNode) mode() uint32 {
	mode := uint32(0o111)
	if n.def.read != nil {
		mode |= 0o444
	}
	if n.def.write != nil {
		mode |= 0o222
	}
	return mode
}

// size is the live length of the rendered payload for readable files.
func (n *systemFileNode) size() int64 {
	if n.def.read == nil {
		return 0
	}
	data, err := n.def.read()
	if err != nil {
		return 0
	}
	return int64(len(data))
}

func (n *systemFileNode) Getattr(ctx context.Context, f fs.FileHandle, out *fuse.AttrOut) syscall.Errno {
	out.Mode = syscall.S_IFREG | n.mode()
	out.Size = uint64(n.size())
	out.Nlink = 1
	return 0
}

func (n *systemFileNode) Open(ctx context.Context, flags uint32) (fs.FileHandle, uint32, syscall.Errno) {
	acc, ok := accMode(flags)
	if !ok {
		return nil, 0, syscall.EACCES
	}
	path := nodePath(n.EmbeddedInode())
	if acc == syscall.O_RDONLY {
		if n.def.read == nil {
			return nil, 0, syscall.EACCES
		}
		// capture the payload eagerly so a slow reader sees one snapshot
		data, err := n.def.read()
		if err != nil {
			return nil, 0, syscall.EIO
		}
		handle := &sysReadHandle{nfs: n.nfs, data: data, slot: n.nfs.handles.Alloc(path)}
		return handle, fuse.FOPEN_DIRECT_IO, 0
	}
	if n.def.write == nil {
		return nil, 0, syscall.EPERM
	}
	handle := &sysWriteHandle{nfs: n.nfs, def: n.def, slot: n.nfs.handles.Alloc(path)}
	return handle, fuse.FOPEN_DIRECT_IO, 0
}

type sysReadHandle struct {
	nfs  *NetMDFS
	data []byte
	slot int
}

var (
	_ = fs.FileReader(&sysReadHandle{})
	_ = fs.FileReleaser(&sysReadHandle{})
)

func (h *sysReadHandle) Read(ctx context.Context, dest []byte, off int64) (fuse.ReadResult, syscall.Errno) {
	if off >= int64(len(h.data)) {
		return fuse.ReadResultData(nil), 0
	}
	end := off + int64(len(dest))
	if end > int64(len(h.data)) {
		end = int64(len(h.data))
	}
	return fuse.ReadResultData(h.data[off:end]), 0
}

func (h *sysReadHandle) Release(ctx context.Context) syscall.Errno {
	h.nfs.handles.Free(h.slot)
	return 0
}

// sysWriteHandle accumulates bytes and runs the file's write hook once at
// release.
type sysWriteHandle struct {
	nfs  *NetMDFS
	def  *systemFile
	slot int

	mu   sync.Mutex
	data []byte
}

var (
	_ = fs.FileWriter(&sysWriteHandle{})
	_ = fs.FileReleaser(&sysWriteHandle{})
)

func (h *sysWriteHandle) Write(ctx context.Context, data []byte, off int64) (uint32, syscall.Errno) {
	h.mu.Lock()
	defer h.mu.Unlock()
	need := off + int64(len(data))
	for int64(len(h.data)) < need {
		h.data = append(h.data, make([]byte, need-int64(len(h.data)))...)
	}
	copy(h.data[off:], data)
	return uint32(len(data)), 0
}

func (h *sysWriteHandle) Release(ctx context.Context) syscall.Errno {
	h.mu.Lock()
	data := h.data
	h.data = nil
	h.mu.Unlock()
	h.nfs.handles.Free(h.slot)
	if err := h.def.write(data); err != nil {
		DebugLog("system write hook failed: %v", err)
		return syscall.EIO
	}
	return 0
}
