package tfs

import (
	"fmt"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

// treeEqual compares trees modulo child ordering (children live in maps).
func treeEqual(a, b *Node) bool {
	if a.Type != b.Type || a.Name != b.Name {
		return false
	}
	if !a.IsDir() {
		return a.TrackID == b.TrackID && a.ByteLength == b.ByteLength
	}
	if len(a.Children) != len(b.Children) {
		return false
	}
	for name, child := range a.Children {
		other := b.Children[name]
		if other == nil || !treeEqual(child, other) {
			return false
		}
	}
	return true
}

func TestEncodeEmptyRoot(t *testing.T) {
	Convey("normal", t, func() {
		data, err := Encode(NewDir(""))
		So(err, ShouldBeNil)
		// magic, dir open, empty NameZ, dir close
		So(data, ShouldResemble, append(append([]byte{}, Magic...), 0xF0, 0x00, 0xFF))
	})
}

func TestRoundTrip(t *testing.T) {
	Convey("normal", t, func() {
		root := NewDir("")
		sub := NewDir("nested")
		root.Add(sub)
		deep := NewDir("deeper")
		sub.Add(deep)

		for i, length := range []int64{0, 1, 0xFF, 0x100, 0xFFFF, 0x10000, 0xFFFFFF} {
			f := NewFile(fmt.Sprintf("file%d.dat", i), i)
			f.ByteLength = length
			sub.Add(f)
		}
		leaf := NewFile("leaf", 42)
		leaf.ByteLength = 1234
		deep.Add(leaf)

		data, err := Encode(root)
		So(err, ShouldBeNil)
		parsed, err := Parse(data)
		So(err, ShouldBeNil)
		So(treeEqual(root, parsed), ShouldBeTrue)

		Convey("trailing zero padding is ignored", func() {
			padded := append(append([]byte{}, data...), make([]byte, 100)...)
			parsed, err := Parse(padded)
			So(err, ShouldBeNil)
			So(treeEqual(root, parsed), ShouldBeTrue)
		})

		Convey("encoding is deterministic", func() {
			again, err := Encode(root)
			So(err, ShouldBeNil)
			So(again, ShouldResemble, data)
		})
	})
}

func TestLengthWidths(t *testing.T) {
	record := func(length int64) []byte {
		root := NewDir("")
		f := NewFile("f", 7)
		f.ByteLength = length
		root.Add(f)
		data, err := Encode(root)
		So(err, ShouldBeNil)
		// strip magic, dir open and the root's empty NameZ
		return data[len(Magic)+2 : len(data)-1]
	}

	Convey("0xFF uses one length byte", t, func() {
		So(record(0xFF), ShouldResemble, []byte{0x00, 7, 0xFF, 'f', 0x00})
	})
	Convey("0x100 uses two length bytes", t, func() {
		So(record(0x100), ShouldResemble, []byte{0x01, 7, 0x01, 0x00, 'f', 0x00})
	})
	Convey("0x10000 uses three length bytes", t, func() {
		So(record(0x10000), ShouldResemble, []byte{0x02, 7, 0x01, 0x00, 0x00, 'f', 0x00})
	})
}

func TestOverflow(t *testing.T) {
	Convey("a tree past 2300 bytes refuses to encode", t, func() {
		root := NewDir("")
		for i := 0; i < 40; i++ {
			f := NewFile(fmt.Sprintf("%02d_%s", i, strings.Repeat("x", 70)), i)
			root.Add(f)
		}
		_, err := Encode(root)
		So(err, ShouldEqual, ErrOverflow)
	})

	Convey("right at the cap still encodes", t, func() {
		root := NewDir("")
		f := NewFile(strings.Repeat("n", MaxEncodedSize-len(Magic)-7), 0)
		root.Add(f)
		data, err := Encode(root)
		So(err, ShouldBeNil)
		So(len(data), ShouldBeLessThanOrEqualTo, MaxEncodedSize)
	})
}

func TestBadNames(t *testing.T) {
	Convey("NUL bytes are rejected", t, func() {
		root := NewDir("")
		root.Add(NewFile("bad\x00name", 0))
		_, err := Encode(root)
		So(err, ShouldEqual, ErrBadName)

		root = NewDir("evil\x00dir")
		_, err = Encode(root)
		So(err, ShouldEqual, ErrBadName)
	})
}

func TestParseErrors(t *testing.T) {
	Convey("magic mismatch", t, func() {
		_, err := Parse([]byte{0xDE, 0xAD, 0xBE, 0xEF, 0x00, 0x00, 0xF0, 0x00, 0xFF})
		So(err, ShouldEqual, ErrFormat)
		_, err = Parse(nil)
		So(err, ShouldEqual, ErrFormat)
	})

	Convey("bad leading byte inside a directory", t, func() {
		data := append(append([]byte{}, Magic...), 0xF0, 0x00, 0x77)
		_, err := Parse(data)
		So(err, ShouldEqual, ErrFormat)
	})

	Convey("truncated record", t, func() {
		data := append(append([]byte{}, Magic...), 0xF0, 0x00, 0x00, 0x05)
		_, err := Parse(data)
		So(err, ShouldEqual, ErrFormat)
	})

	Convey("unterminated directory", t, func() {
		data := append(append([]byte{}, Magic...), 0xF0, 0x00)
		_, err := Parse(data)
		So(err, ShouldEqual, ErrFormat)
	})
}
