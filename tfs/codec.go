package tfs

import (
	"bytes"
	"sort"
	"strings"

	"github.com/asivery/fusenetmd/core"
)

// Offset is where the TFS record starts inside UTOC sector 2: right
// after the sector header and the pointer map.
const Offset = 0x130

// MaxEncodedSize is the hard cap on the encoded record. The rest of the
// sector stays zero.
const MaxEncodedSize = 2300

// Magic opens every TFS record.
var Magic = []byte{0x8C, 0xB3, 0x96, 0xE9, 0x8D, 0xA2}

const (
	dirOpen  byte = 0xF0
	dirClose byte = 0xFF
	maxTyp   byte = 3
)

const (
	ErrOverflow = core.Error("tfs record overflow")
	ErrFormat   = core.Error("tfs record malformed")
	ErrBadName  = core.Error("tfs name contains NUL")
)

// lengthTyp picks the smallest width tag whose typ+1 bytes can hold n.
func lengthTyp(n int64) byte {
	switch {
	case n <= 0xFF:
		return 0
	case n <= 0xFFFF:
		return 1
	case n <= 0xFFFFFF:
		return 2
	}
	return 3
}

// Encode folds the tree into its sector-2 byte form. Children are emitted
// in name order so identical trees always encode to identical bytes. An
// encoding longer than MaxEncodedSize fails with ErrOverflow and the
// caller must not touch the disc.
func Encode(root *Node) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(Magic)
	if err := encodeDir(&buf, root); err != nil {
		return nil, err
	}
	if buf.Len() > MaxEncodedSize {
		return nil, ErrOverflow
	}
	return buf.Bytes(), nil
}

func encodeName(buf *bytes.Buffer, name string) error {
	if strings.IndexByte(name, 0) >= 0 {
		return ErrBadName
	}
	buf.WriteString(name)
	buf.WriteByte(0)
	return nil
}

func encodeDir(buf *bytes.Buffer, dir *Node) error {
	buf.WriteByte(dirOpen)
	if err := encodeName(buf, dir.Name); err != nil {
		return err
	}

	names := make([]string, 0, len(dir.Children))
	for name := range dir.Children {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		child := dir.Children[name]
		if child.IsDir() {
			if err := encodeDir(buf, child); err != nil {
				return err
			}
			continue
		}
		length := child.ByteLength
		if length < 0 {
			length = 0
		}
		typ := lengthTyp(length)
		buf.WriteByte(typ)
		buf.WriteByte(byte(child.TrackID))
		for i := int(typ); i >= 0; i-- {
			buf.WriteByte(byte(length >> (8 * i)))
		}
		if err := encodeName(buf, child.Name); err != nil {
			return err
		}
	}
	buf.WriteByte(dirClose)
	return nil
}

type decoder struct {
	data []byte
	pos  int
}

func (d *decoder) byte() (byte, error) {
	if d.pos >= len(d.data) {
		return 0, ErrFormat
	}
	b := d.data[d.pos]
	d.pos++
	return b, nil
}

func (d *decoder) nameZ() (string, error) {
	end := bytes.IndexByte(d.data[d.pos:], 0)
	if end < 0 {
		return "", ErrFormat
	}
	name := string(d.data[d.pos : d.pos+end])
	d.pos += end + 1
	return name, nil
}

// Parse decodes a TFS record. The input is the sector tail starting at
// Offset; trailing zero padding after the root record is ignored. A magic
// mismatch fails with ErrFormat; higher layers recover by treating the
// disc as unformatted.
func Parse(data []byte) (*Node, error) {
	if len(data) < len(Magic) || !bytes.Equal(data[:len(Magic)], Magic) {
		return nil, ErrFormat
	}
	d := &decoder{data: data, pos: len(Magic)}
	lead, err := d.byte()
	if err != nil {
		return nil, err
	}
	if lead != dirOpen {
		return nil, ErrFormat
	}
	return parseDir(d)
}

func parseDir(d *decoder) (*Node, error) {
	name, err := d.nameZ()
	if err != nil {
		return nil, err
	}
	dir := NewDir(name)
	for {
		lead, err := d.byte()
		if err != nil {
			return nil, err
		}
		switch {
		case lead == dirClose:
			return dir, nil
		case lead == dirOpen:
			child, err := parseDir(d)
			if err != nil {
				return nil, err
			}
			dir.Add(child)
		case lead <= maxTyp:
			id, err := d.byte()
			if err != nil {
				return nil, err
			}
			var length int64
			for i := 0; i <= int(lead); i++ {
				b, err := d.byte()
				if err != nil {
					return nil, err
				}
				length = length<<8 | int64(b)
			}
			fname, err := d.nameZ()
			if err != nil {
				return nil, err
			}
			file := NewFile(fname, int(id))
			file.ByteLength = length
			dir.Add(file)
		default:
			return nil, ErrFormat
		}
	}
}
