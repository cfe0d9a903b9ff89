package vfs

import (
	"fmt"
	"strings"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/asivery/fusenetmd/core"
	"github.com/asivery/fusenetmd/tfs"
)

// commitFile drives the release path of a written overlay file: seal the
// buffer, commit to the disc, refresh.
func commitFile(cache *Cache, transfer *Transfer, node *tfs.Node, data []byte) error {
	buf := NewWriteBuffer()
	buf.WriteAt(data, 0)
	cache.SetByteLength(node, buf.Len())
	buf.MarkComplete()
	oldIndex := cache.ResolveIDToIndex(node.TrackID)
	if err := transfer.WriteFileTransfer(ctx, node.TrackID, buf.Snapshot(), oldIndex, cache.Root()); err != nil {
		return err
	}
	cache.SetFileBuffer(node, buf)
	return cache.RefreshCache(ctx)
}

func TestCreateWriteFlush(t *testing.T) {
	Convey("normal", t, func() {
		dev := core.NewMemDevice()
		cache, transfer := newTestEngine(dev)

		node, err := cache.CreateFile(cache.Root(), "a.bin")
		So(err, ShouldBeNil)
		So(node.TrackID, ShouldEqual, 0)
		So(commitFile(cache, transfer, node, []byte{0xDE, 0xAD, 0xBE, 0xEF}), ShouldBeNil)

		Convey("the deck received a padded hidden track", func() {
			So(dev.Uploads(), ShouldResemble, []string{"h_fs_00"})
			payload := dev.TrackPayload(0)
			So(len(payload), ShouldEqual, core.MinTrackPayload)
			So(payload[:4], ShouldResemble, []byte{0xDE, 0xAD, 0xBE, 0xEF})
			So(payload[4:], ShouldResemble, make([]byte, core.MinTrackPayload-4))
		})

		Convey("the committed record describes the file", func() {
			sector2 := dev.Committed(2)
			So(sector2, ShouldNotBeNil)
			root, err := tfs.Parse(sector2[tfs.Offset:])
			So(err, ShouldBeNil)
			file := root.GetChild("a.bin")
			So(file, ShouldNotBeNil)
			So(file.TrackID, ShouldEqual, 0)
			So(file.ByteLength, ShouldEqual, 4)
		})

		Convey("every hidden fragment is stamped", func() {
			toc, err := core.ParseTOC(dev.Committed(0), dev.Committed(1))
			So(err, ShouldBeNil)
			found := false
			for track := 1; track <= toc.LastTrack; track++ {
				if !strings.HasPrefix(toc.Title(track), core.HiddenTrackPrefix) {
					continue
				}
				found = true
				for _, slot := range toc.FragmentChain(track) {
					mode := toc.Fragments[slot].Mode
					So(mode&core.ModeFlagSPMode, ShouldNotEqual, 0)
					So(mode&core.ModeFlagStereo, ShouldNotEqual, 0)
					So(mode&core.ModeFlagWritable, ShouldEqual, 0)
				}
			}
			So(found, ShouldBeTrue)
		})

		Convey("the file resolves to a disc index afterwards", func() {
			So(cache.ResolveIDToIndex(0), ShouldEqual, 0)
		})
	})
}

func TestReadBackWrittenFile(t *testing.T) {
	Convey("normal", t, func() {
		dev := core.NewMemDevice()
		cache, transfer := newTestEngine(dev)

		node, _ := cache.CreateFile(cache.Root(), "blob")
		content := []byte("some overlay payload")
		So(commitFile(cache, transfer, node, content), ShouldBeNil)

		Convey("a fresh engine recovers it from the disc", func() {
			cache2, _ := newTestEngine(dev)
			file := cache2.Lookup("/blob")
			So(file, ShouldNotBeNil)
			So(file.ByteLength, ShouldEqual, int64(len(content)))

			// clamp to the recorded length the way read handles do
			data, err := cache2.FileBuffer(file).GetContents(ctx, 0, file.ByteLength)
			So(err, ShouldBeNil)
			So(data, ShouldResemble, content)
		})
	})
}

func TestRewriteReusesTrackID(t *testing.T) {
	Convey("normal", t, func() {
		dev := core.NewMemDevice()
		dev.AddTrack("music", core.EncSP, make([]byte, 2332))
		cache, transfer := newTestEngine(dev)

		node, _ := cache.CreateFile(cache.Root(), "cfg")
		So(commitFile(cache, transfer, node, []byte("first version")), ShouldBeNil)
		oldIndex := cache.ResolveIDToIndex(node.TrackID)
		So(oldIndex, ShouldEqual, 1)

		So(commitFile(cache, transfer, node, []byte("second version, longer")), ShouldBeNil)

		Convey("the old backing track was erased inside the commit", func() {
			So(dev.Erased(), ShouldResemble, []int{1})
			So(dev.Uploads(), ShouldResemble, []string{"h_fs_00", "h_fs_00"})
		})

		Convey("the record keeps one file with the new length", func() {
			root, err := tfs.Parse(dev.Committed(2)[tfs.Offset:])
			So(err, ShouldBeNil)
			So(len(root.Children), ShouldEqual, 1)
			So(root.GetChild("cfg").ByteLength, ShouldEqual, int64(len("second version, longer")))
		})
	})
}

func TestIdempotentFlush(t *testing.T) {
	Convey("two flushes with no mutation produce the same UTOC", t, func() {
		dev := core.NewMemDevice()
		dev.AddTrack("tune", core.EncSP, make([]byte, 4000))
		cache, transfer := newTestEngine(dev)

		node, _ := cache.CreateFile(cache.Root(), "stable")
		So(commitFile(cache, transfer, node, []byte("payload")), ShouldBeNil)

		So(cache.FlushCache(ctx), ShouldBeNil)
		first := [][]byte{dev.Committed(0), dev.Committed(1), dev.Committed(2)}
		So(cache.FlushCache(ctx), ShouldBeNil)
		second := [][]byte{dev.Committed(0), dev.Committed(1), dev.Committed(2)}
		So(second, ShouldResemble, first)
	})
}

func TestOverflowAbortsBeforeDeviceWrites(t *testing.T) {
	Convey("normal", t, func() {
		dev := core.NewMemDevice()
		cache, transfer := newTestEngine(dev)

		for i := 0; i < 40; i++ {
			name := fmt.Sprintf("%02d_%s", i, strings.Repeat("x", 70))
			_, err := cache.CreateFile(cache.Root(), name)
			So(err, ShouldBeNil)
		}
		err := transfer.WriteTOC(ctx, cache.Root())
		So(err, ShouldEqual, tfs.ErrOverflow)

		Convey("the disc was never touched", func() {
			So(dev.CommitCount(), ShouldEqual, 0)
			So(dev.Committed(2), ShouldBeNil)
			So(dev.Uploads(), ShouldBeEmpty)
		})

		Convey("the oversized commit path aborts before the upload too", func() {
			err := transfer.WriteFileTransfer(ctx, 0, []byte{1}, -1, cache.Root())
			So(err, ShouldEqual, tfs.ErrOverflow)
			So(dev.Uploads(), ShouldBeEmpty)
		})
	})
}

func TestDeleteTrack(t *testing.T) {
	Convey("erase refreshes the listing", t, func() {
		dev := core.NewMemDevice()
		dev.AddTrack("one", core.EncSP, make([]byte, 2332))
		dev.AddTrack("two", core.EncSP, make([]byte, 2332))
		cache, transfer := newTestEngine(dev)

		So(transfer.DeleteTrack(ctx, 0), ShouldBeNil)
		So(dev.Erased(), ShouldResemble, []int{0})
		entries := cache.AudioEntries()
		So(len(entries), ShouldEqual, 1)
		So(entries[0].Name, ShouldEqual, "1. two.aea")
	})
}

func TestUnlinkFlows(t *testing.T) {
	Convey("unlinking an overlay file erases its backing track", t, func() {
		dev := core.NewMemDevice()
		cache, transfer := newTestEngine(dev)

		node, _ := cache.CreateFile(cache.Root(), "doomed")
		So(commitFile(cache, transfer, node, []byte("bytes")), ShouldBeNil)

		child, index, err := cache.RemoveChild(cache.Root(), "doomed")
		So(err, ShouldBeNil)
		So(child, ShouldEqual, node)
		So(index, ShouldEqual, 0)
		So(transfer.DeleteTrack(ctx, index), ShouldBeNil)

		So(cache.Child(cache.Root(), "doomed"), ShouldBeNil)
		So(dev.Erased(), ShouldResemble, []int{0})

		Convey("a file that never hit the disc has no track to erase", func() {
			n2, _ := cache.CreateFile(cache.Root(), "ghost")
			_, index, err := cache.RemoveChild(cache.Root(), "ghost")
			So(err, ShouldBeNil)
			So(index, ShouldEqual, -1)
			So(n2.TrackID, ShouldBeGreaterThanOrEqualTo, 0)
		})
	})
}

func TestRecoveryStoreShortCircuit(t *testing.T) {
	Convey("a second engine reads from the store, not the deck", t, func() {
		store, err := core.OpenRecoveryStore(t.TempDir() + "/cache.db")
		So(err, ShouldBeNil)
		defer store.Close()

		dev := core.NewMemDevice()
		content := []byte("expensive to recover")

		cache1, transfer1 := NewEngine(dev, store)
		So(cache1.Init(ctx), ShouldBeNil)
		node, _ := cache1.CreateFile(cache1.Root(), "cached")
		So(commitFile(cache1, transfer1, node, content), ShouldBeNil)

		read := func(c *Cache) []byte {
			file := c.Lookup("/cached")
			So(file, ShouldNotBeNil)
			data, err := c.FileBuffer(file).GetContents(ctx, 0, file.ByteLength)
			So(err, ShouldBeNil)
			return data
		}

		cacheA, _ := NewEngine(dev, store)
		So(cacheA.Init(ctx), ShouldBeNil)
		So(read(cacheA), ShouldResemble, content)
		So(dev.Downloads(), ShouldEqual, 1)

		cacheB, _ := NewEngine(dev, store)
		So(cacheB.Init(ctx), ShouldBeNil)
		So(read(cacheB), ShouldResemble, content)
		So(dev.Downloads(), ShouldEqual, 1)
	})
}

func TestDeviceFailureSealsBuffer(t *testing.T) {
	Convey("readers drain what arrived and hit EOF", t, func() {
		dev := core.NewMemDevice()
		dev.AddTrack("h_fs_00", core.EncLP2, make([]byte, 2112))
		_, transfer := newTestEngine(dev)

		dev.FailOp = "download"
		dev.FailErr = core.ERR_TRACK_NOT_FOUND

		buf := &FileBuffer{}
		err := transfer.StartReadTransfer(ctx, buf, 0, ReadOptions{})
		So(err, ShouldNotBeNil)
		So(buf.Complete(), ShouldBeTrue)
		data, err := buf.GetContents(ctx, 0, 100)
		So(err, ShouldBeNil)
		So(len(data), ShouldEqual, 0)
	})
}
