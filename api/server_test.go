package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	. "github.com/smartystreets/goconvey/convey"

	"github.com/asivery/fusenetmd/core"
	"github.com/asivery/fusenetmd/vfs"
)

func newTestServer() (*core.MemDevice, *vfs.Cache, http.Handler) {
	dev := core.NewMemDevice()
	dev.AddTrack("My Song", core.EncSP, make([]byte, 4664))
	cache, _ := vfs.NewEngine(dev, nil)
	if err := cache.Init(context.TODO()); err != nil {
		panic(err)
	}
	return dev, cache, New(cache)
}

func do(h http.Handler, method, target string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestDiscEndpoint(t *testing.T) {
	Convey("normal", t, func() {
		_, _, h := newTestServer()
		w := do(h, "GET", "/api/disc")
		So(w.Code, ShouldEqual, 200)

		var resp struct {
			Code int `json:"code"`
			Data struct {
				Tracks []struct {
					Index    int    `json:"index"`
					Title    string `json:"title"`
					Encoding string `json:"encoding"`
					Size     int64  `json:"size"`
				} `json:"tracks"`
			} `json:"data"`
		}
		So(json.Unmarshal(w.Body.Bytes(), &resp), ShouldBeNil)
		So(resp.Code, ShouldEqual, 0)
		So(len(resp.Data.Tracks), ShouldEqual, 1)
		So(resp.Data.Tracks[0].Title, ShouldEqual, "My Song")
		So(resp.Data.Tracks[0].Encoding, ShouldEqual, "SP")
		So(resp.Data.Tracks[0].Size, ShouldEqual, 2*2332+2048)
	})
}

func TestTreeEndpoint(t *testing.T) {
	Convey("normal", t, func() {
		_, cache, h := newTestServer()
		_, err := cache.Mkdir(cache.Root(), "stuff")
		So(err, ShouldBeNil)

		w := do(h, "GET", "/api/tfs")
		So(w.Code, ShouldEqual, 200)
		So(w.Body.String(), ShouldContainSubstring, `"stuff"`)
		So(w.Body.String(), ShouldContainSubstring, `"dir"`)
	})
}

func TestFlushEndpoint(t *testing.T) {
	Convey("normal", t, func() {
		dev, _, h := newTestServer()
		So(dev.CommitCount(), ShouldEqual, 0)
		w := do(h, "POST", "/api/flush")
		So(w.Code, ShouldEqual, 200)
		So(w.Body.String(), ShouldContainSubstring, `"flushed":true`)
		So(dev.CommitCount(), ShouldEqual, 1)
	})
}

func TestFileEndpoint(t *testing.T) {
	Convey("missing files 404 in the envelope", t, func() {
		_, _, h := newTestServer()
		w := do(h, "GET", "/api/file?path=/nope")
		So(w.Body.String(), ShouldContainSubstring, `"code":404`)
	})

	Convey("directories are refused", t, func() {
		_, cache, h := newTestServer()
		_, err := cache.Mkdir(cache.Root(), "d")
		So(err, ShouldBeNil)
		w := do(h, "GET", "/api/file?path=/d")
		So(w.Body.String(), ShouldContainSubstring, `"code":400`)
	})
}

func TestMetricsEndpoint(t *testing.T) {
	Convey("normal", t, func() {
		_, _, h := newTestServer()
		w := do(h, "GET", "/metrics")
		So(w.Code, ShouldEqual, 200)
		So(w.Body.String(), ShouldContainSubstring, "fusenetmd")
	})
}

func TestJWTMiddleware(t *testing.T) {
	Convey("no secret leaves the API open", t, func() {
		FUSENETMD_SECRET = ""
		_, _, h := newTestServer()
		So(do(h, "GET", "/api/disc").Body.String(), ShouldContainSubstring, `"code":0`)
	})

	Convey("with a secret a bearer token is required", t, func() {
		FUSENETMD_SECRET = "test-secret"
		defer func() { FUSENETMD_SECRET = "" }()
		_, _, h := newTestServer()

		So(do(h, "GET", "/api/disc").Body.String(), ShouldContainSubstring, `"code":401`)

		token, _, err := GenerateToken()
		So(err, ShouldBeNil)
		req := httptest.NewRequest("GET", "/api/disc", nil)
		req.Header.Set("Authorization", "Bearer "+token)
		w := httptest.NewRecorder()
		h.ServeHTTP(w, req)
		So(w.Body.String(), ShouldContainSubstring, `"code":0`)
	})
}
