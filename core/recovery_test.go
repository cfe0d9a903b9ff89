package core

import (
	"bytes"
	"path/filepath"
	"testing"

	. "github.com/smartystreets/goconvey/convey"
)

func TestRecoveryStore(t *testing.T) {
	Convey("normal", t, func() {
		store, err := OpenRecoveryStore(filepath.Join(t.TempDir(), "recovery.db"))
		So(err, ShouldBeNil)
		defer store.Close()

		payload := bytes.Repeat([]byte{0x5A, 0x00, 0x5A}, 4000)
		So(store.Put(c, "fp1/raw", 3, payload), ShouldBeNil)

		Convey("round trips through compression", func() {
			got, ok := store.Get(c, "fp1/raw", 3)
			So(ok, ShouldBeTrue)
			So(got, ShouldResemble, payload)
		})

		Convey("misses on other keys", func() {
			_, ok := store.Get(c, "fp1/raw", 4)
			So(ok, ShouldBeFalse)
			_, ok = store.Get(c, "fp2/raw", 3)
			So(ok, ShouldBeFalse)
		})

		Convey("replaces on the same key", func() {
			So(store.Put(c, "fp1/raw", 3, []byte{1, 2, 3}), ShouldBeNil)
			got, ok := store.Get(c, "fp1/raw", 3)
			So(ok, ShouldBeTrue)
			So(got, ShouldResemble, []byte{1, 2, 3})
		})
	})

	Convey("a nil store is inert", t, func() {
		var store *RecoveryStore
		So(store.Put(c, "fp", 0, []byte{1}), ShouldBeNil)
		_, ok := store.Get(c, "fp", 0)
		So(ok, ShouldBeFalse)
		So(store.Close(), ShouldBeNil)
	})
}
