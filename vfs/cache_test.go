package vfs

import (
	"bytes"
	"context"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/asivery/fusenetmd/core"
)

var ctx = context.TODO()

func newTestEngine(dev core.Device) (*Cache, *Transfer) {
	cache, transfer := NewEngine(dev, nil)
	if err := cache.Init(ctx); err != nil {
		panic(err)
	}
	return cache, transfer
}

func TestInitUnformattedDisc(t *testing.T) {
	Convey("a disc with garbage at the record offset starts empty", t, func() {
		dev := core.NewMemDevice()
		garbage := make([]byte, core.SectorSize)
		for i := range garbage {
			garbage[i] = byte(i * 7)
		}
		dev.SeedSector2(garbage)

		cache, _ := newTestEngine(dev)
		root := cache.Root()
		So(root.IsDir(), ShouldBeTrue)
		So(root.Name, ShouldEqual, "")
		So(len(root.Children), ShouldEqual, 0)
	})
}

func TestNextFileID(t *testing.T) {
	Convey("the allocator picks the smallest unused id", t, func() {
		dev := core.NewMemDevice()
		dev.AddTrack("h_fs_00", core.EncLP2, make([]byte, 2112))
		dev.AddTrack("some song", core.EncSP, make([]byte, 2332))
		dev.AddTrack("h_fs_02", core.EncLP2, make([]byte, 2112))

		cache, _ := newTestEngine(dev)
		So(cache.NextFileID(), ShouldEqual, 1)

		Convey("unflushed tree files are skipped too", func() {
			a, err := cache.CreateFile(cache.Root(), "a")
			So(err, ShouldBeNil)
			So(a.TrackID, ShouldEqual, 1)
			b, err := cache.CreateFile(cache.Root(), "b")
			So(err, ShouldBeNil)
			So(b.TrackID, ShouldEqual, 3)
		})
	})
}

func TestTrackSectorLengths(t *testing.T) {
	Convey("normal", t, func() {
		dev := core.NewMemDevice()
		// one full SP sector and one full LP2 sector
		dev.AddTrack("sp", core.EncSP, make([]byte, 2332))
		dev.AddTrack("lp", core.EncLP2, make([]byte, 2112))

		cache, _ := newTestEngine(dev)
		So(cache.SectorLength(0), ShouldEqual, 1*2332+2048)
		So(cache.SectorLength(1), ShouldEqual, 1*(2332-220)+48)
		So(cache.SectorLength(7), ShouldEqual, 0)
	})
}

func TestAudioEntries(t *testing.T) {
	Convey("hidden tracks never show under /$audio", t, func() {
		dev := core.NewMemDevice()
		dev.AddTrack("Hello/World", core.EncSP, make([]byte, 2332))
		dev.AddTrack("h_fs_00", core.EncLP2, make([]byte, 2112))
		dev.AddTrack("", core.EncLP2, make([]byte, 2112))

		cache, _ := newTestEngine(dev)
		entries := cache.AudioEntries()
		So(len(entries), ShouldEqual, 2)
		So(entries[0].Name, ShouldEqual, "1. Hello_World.aea")
		So(entries[0].Index, ShouldEqual, 0)
		So(entries[1].Name, ShouldEqual, "3. No Title.wav")
		So(entries[1].Index, ShouldEqual, 2)

		Convey("names resolve back to indexes", func() {
			index, ok := cache.AudioIndex("1. Hello_World.aea")
			So(ok, ShouldBeTrue)
			So(index, ShouldEqual, 0)

			index, ok = cache.AudioIndex("3. No Title.wav")
			So(ok, ShouldBeTrue)
			So(index, ShouldEqual, 2)

			_, ok = cache.AudioIndex("2. h_fs_00.wav")
			So(ok, ShouldBeFalse)
			_, ok = cache.AudioIndex("1. Wrong Name.aea")
			So(ok, ShouldBeFalse)
			_, ok = cache.AudioIndex("nonsense")
			So(ok, ShouldBeFalse)
		})
	})
}

func TestTreeMutation(t *testing.T) {
	Convey("normal", t, func() {
		dev := core.NewMemDevice()
		cache, _ := newTestEngine(dev)
		root := cache.Root()

		docs, err := cache.Mkdir(root, "docs")
		So(err, ShouldBeNil)
		So(docs.IsDir(), ShouldBeTrue)

		file, err := cache.CreateFile(docs, "readme")
		So(err, ShouldBeNil)
		So(file.TrackID, ShouldEqual, 0)

		Convey("mkdir over an existing name fails", func() {
			_, err := cache.Mkdir(root, "docs")
			So(err, ShouldEqual, ERR_EXISTS)
		})

		Convey("creating over a directory fails", func() {
			_, err := cache.CreateFile(root, "docs")
			So(err, ShouldEqual, ERR_IS_DIR)
		})

		Convey("creating over an existing file reuses its node", func() {
			again, err := cache.CreateFile(docs, "readme")
			So(err, ShouldBeNil)
			So(again, ShouldEqual, file)
		})

		Convey("removing a non-empty directory refuses", func() {
			_, _, err := cache.RemoveChild(root, "docs")
			So(err, ShouldEqual, ERR_NOT_EMPTY)
			So(cache.Child(root, "docs"), ShouldNotBeNil)
		})

		Convey("rename moves between directories", func() {
			So(cache.Rename(docs, "readme", root, "moved"), ShouldBeNil)
			So(cache.Child(docs, "readme"), ShouldBeNil)
			moved := cache.Child(root, "moved")
			So(moved, ShouldNotBeNil)
			So(moved.Name, ShouldEqual, "moved")

			Convey("source must exist", func() {
				So(cache.Rename(docs, "readme", root, "x"), ShouldEqual, ERR_NOT_FOUND)
			})
			Convey("destination must not exist", func() {
				So(cache.Rename(root, "moved", root, "docs"), ShouldEqual, ERR_EXISTS)
			})
		})

		Convey("removing an empty directory works", func() {
			_, _, err := cache.RemoveChild(docs, "readme")
			So(err, ShouldBeNil)
			_, _, err = cache.RemoveChild(root, "docs")
			So(err, ShouldBeNil)
			So(cache.Child(root, "docs"), ShouldBeNil)
		})
	})
}

func TestAudioFileSingleTransfer(t *testing.T) {
	Convey("concurrent readers share one recovery", t, func() {
		payload := bytes.Repeat([]byte{0x11, 0x22}, 2048)
		dev := core.NewMemDevice()
		dev.AddTrack("song", core.EncSP, payload)

		cache, _ := newTestEngine(dev)
		node, buf := cache.AudioFile(0)
		So(node.ByteLength, ShouldEqual, -1)
		So(node.Audio, ShouldBeTrue)

		type result struct {
			data []byte
			err  error
		}
		results := make(chan result, 2)
		for i := 0; i < 2; i++ {
			go func() {
				data, err := buf.GetContents(context.Background(), 0, 1024)
				results <- result{data, err}
			}()
		}
		first := <-results
		second := <-results
		So(first.err, ShouldBeNil)
		So(second.err, ShouldBeNil)
		So(len(first.data), ShouldEqual, 1024)
		So(first.data, ShouldResemble, second.data)
		So(dev.Downloads(), ShouldEqual, 1)

		Convey("the same pseudo file is reused across opens", func() {
			node2, buf2 := cache.AudioFile(0)
			So(node2, ShouldEqual, node)
			So(buf2, ShouldEqual, buf)
		})
	})
}
