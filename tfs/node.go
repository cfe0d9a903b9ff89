// Package tfs implements the overlay file-system record embedded in UTOC
// sector 2: the in-memory directory tree and the binary codec that folds
// it into the reserved region of the sector.
package tfs

import (
	"strings"
)

type NodeType int

const (
	TypeFile NodeType = iota + 1
	TypeDir
)

// Node is one entry of the overlay tree, either a file or a directory.
//
// A file carries the ID of the hidden disc track backing it (0..255) and
// the byte length recorded in the TFS record. ByteLength -1 marks an
// audio-track pseudo file whose real size is unknown until recovered;
// those nodes never enter the encoded tree.
type Node struct {
	Type NodeType
	Name string

	TrackID    int
	ByteLength int64
	// Audio selects audio-style recovery (header included) instead of raw
	// overlay payload.
	Audio bool

	Children map[string]*Node
}

func NewFile(name string, trackID int) *Node {
	return &Node{Type: TypeFile, Name: name, TrackID: trackID}
}

func NewDir(name string) *Node {
	return &Node{Type: TypeDir, Name: name, Children: map[string]*Node{}}
}

func (n *Node) IsDir() bool {
	return n.Type == TypeDir
}

// Add inserts (or replaces) a child. No-op on file nodes.
func (n *Node) Add(child *Node) {
	if !n.IsDir() {
		return
	}
	n.Children[child.Name] = child
}

// GetChild returns the named child, or nil.
func (n *Node) GetChild(name string) *Node {
	if !n.IsDir() {
		return nil
	}
	return n.Children[name]
}

// Remove drops the named child.
func (n *Node) Remove(name string) {
	if n.IsDir() {
		delete(n.Children, name)
	}
}

// Traverse resolves a slash-separated path from this node. Empty path
// fragments are skipped. Traversal stops at the first file node it meets
// and returns it; otherwise it returns the directory at the final
// fragment. A missing intermediate child returns nil.
func (n *Node) Traverse(path string) *Node {
	cur := n
	for _, frag := range strings.Split(path, "/") {
		if frag == "" {
			continue
		}
		if !cur.IsDir() {
			return cur
		}
		next := cur.Children[frag]
		if next == nil {
			return nil
		}
		cur = next
	}
	return cur
}
