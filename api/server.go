// Package api is the HTTP status and control surface of a mounted engine:
// disc and overlay introspection, payload download, forced flushes and the
// Prometheus endpoint.
package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gotomicro/ego/core/elog"
	"github.com/h2non/filetype"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/asivery/fusenetmd/tfs"
	"github.com/asivery/fusenetmd/vfs"
)

type server struct {
	cache *vfs.Cache
}

// New builds the API engine around a mounted cache.
func New(cache *vfs.Cache) *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	s := &server{cache: cache}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(Metrics())
	r.Use(CORS())
	r.Use(JWT())

	grp := r.Group("/api")
	grp.GET("/disc", s.disc)
	grp.GET("/tfs", s.tree)
	grp.GET("/file", s.file)
	grp.POST("/flush", s.flush)

	r.GET("/metrics", gin.WrapH(promhttp.Handler()))
	return r
}

// Run serves the API on addr until the listener fails.
func Run(addr string, cache *vfs.Cache) error {
	elog.Info("api listening", elog.String("addr", addr))
	return http.ListenAndServe(addr, New(cache))
}

func (s *server) disc(ctx *gin.Context) {
	tracks := s.cache.Tracks()
	type track struct {
		Index    int    `json:"index"`
		Title    string `json:"title"`
		Encoding string `json:"encoding"`
		Size     int64  `json:"size"`
	}
	out := make([]track, 0, len(tracks))
	for _, tr := range tracks {
		out = append(out, track{
			Index:    tr.Index,
			Title:    tr.Title,
			Encoding: tr.Encoding.String(),
			Size:     s.cache.SectorLength(tr.Index),
		})
	}
	Response(ctx, gin.H{"tracks": out})
}

type treeEntry struct {
	Name     string       `json:"name"`
	Type     string       `json:"type"`
	TrackID  int          `json:"track_id,omitempty"`
	Size     int64        `json:"size,omitempty"`
	Children []*treeEntry `json:"children,omitempty"`
}

func (s *server) renderTree(node *tfs.Node) *treeEntry {
	if !node.IsDir() {
		return &treeEntry{
			Name:    node.Name,
			Type:    "file",
			TrackID: node.TrackID,
			Size:    s.cache.SizeOf(node),
		}
	}
	entry := &treeEntry{Name: node.Name, Type: "dir"}
	for _, name := range s.cache.ChildNames(node) {
		if child := s.cache.Child(node, name); child != nil {
			entry.Children = append(entry.Children, s.renderTree(child))
		}
	}
	return entry
}

func (s *server) tree(ctx *gin.Context) {
	Response(ctx, gin.H{"root": s.renderTree(s.cache.Root())})
}

// file serves an overlay file's payload, recovering it from the disc if
// needed. The content type is sniffed from the payload.
func (s *server) file(ctx *gin.Context) {
	path := ctx.Query("path")
	node := s.cache.Lookup(path)
	if node == nil {
		AbortResponse(ctx, 404, "no such file")
		return
	}
	if node.IsDir() {
		AbortResponse(ctx, 400, "is a directory")
		return
	}
	size := s.cache.SizeOf(node)
	data, err := s.cache.FileBuffer(node).GetContents(context.Background(), 0, size)
	if err != nil {
		AbortResponse(ctx, 500, err.Error())
		return
	}
	contentType := "application/octet-stream"
	if kind, err := filetype.Match(data); err == nil && kind != filetype.Unknown {
		contentType = kind.MIME.Value
	}
	ctx.Data(200, contentType, data)
}

func (s *server) flush(ctx *gin.Context) {
	if err := s.cache.FlushCache(ctx.Request.Context()); err != nil {
		AbortResponse(ctx, 500, err.Error())
		return
	}
	Response(ctx, gin.H{"flushed": true})
}
