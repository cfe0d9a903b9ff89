package vfs

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"sync"

	"github.com/asivery/fusenetmd/core"
	"github.com/asivery/fusenetmd/tfs"
)

// ReadOptions selects how a track payload is recovered into a buffer.
type ReadOptions struct {
	// AudioTrack reads a visible audio track: the track ID is the disc
	// index and the stream includes the synthesized file header. Unset,
	// the ID is an overlay track ID resolved through the cache and the
	// stream is raw payload with LP padding stripped.
	AudioTrack bool
}

// Transfer serializes every device-touching operation behind a single
// lock. No method is reentrant; internals that need several device steps
// run them inside one lock hold through the locked helpers.
type Transfer struct {
	dev   core.Device
	store *core.RecoveryStore
	cache *Cache

	mu sync.Mutex

	// discFP fingerprints the committed TOC sectors; it keys the recovery
	// store and changes on every TOC edit.
	discFP string
}

func NewTransfer(dev core.Device, store *core.RecoveryStore) *Transfer {
	return &Transfer{dev: dev, store: store}
}

func (t *Transfer) bind(cache *Cache) {
	t.cache = cache
}

// GetDiscState reads the disc listing.
func (t *Transfer) GetDiscState(c core.Ctx) ([]core.TrackInfo, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	deviceOps.WithLabelValues("list").Inc()
	return t.dev.ListTracks(c)
}

// GetTOC reads and parses UTOC sectors 0 and 1.
func (t *Transfer) GetTOC(c core.Ctx) (*core.TOC, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	toc, _, _, err := t.readTOCLocked(c)
	return toc, err
}

func (t *Transfer) readTOCLocked(c core.Ctx) (*core.TOC, []byte, []byte, error) {
	deviceOps.WithLabelValues("read_utoc").Inc()
	sector0, err := t.dev.ReadUTOCSector(c, 0)
	if err != nil {
		return nil, nil, nil, err
	}
	sector1, err := t.dev.ReadUTOCSector(c, 1)
	if err != nil {
		return nil, nil, nil, err
	}
	toc, err := core.ParseTOC(sector0, sector1)
	if err != nil {
		return nil, nil, nil, err
	}
	sum := sha256.New()
	sum.Write(sector0)
	sum.Write(sector1)
	t.discFP = hex.EncodeToString(sum.Sum(nil))[:16]
	return toc, sector0, sector1, nil
}

// GetTFS reads the overlay record out of UTOC sector 2. Parse failures
// mean an unformatted disc and yield an empty root directory.
func (t *Transfer) GetTFS(c core.Ctx) *tfs.Node {
	t.mu.Lock()
	defer t.mu.Unlock()
	deviceOps.WithLabelValues("read_utoc").Inc()
	sector, err := t.dev.ReadUTOCSector(c, 2)
	if err != nil || len(sector) < tfs.Offset {
		DebugLog("sector 2 unreadable, starting empty: %v", err)
		return tfs.NewDir("")
	}
	root, err := tfs.Parse(sector[tfs.Offset:])
	if err != nil {
		DebugLog("disc is unformatted, starting empty")
		return tfs.NewDir("")
	}
	return root
}

// StartReadTransfer recovers a track's payload into buf, appending chunks
// as they arrive and sealing the buffer at the end. Overlay IDs resolve
// through the cache; an unresolved ID means the file has no on-disc
// payload yet and the buffer seals empty. Device failures also seal the
// buffer so readers drain whatever arrived and hit EOF.
func (t *Transfer) StartReadTransfer(c core.Ctx, buf *FileBuffer, trackID int, opts ReadOptions) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	defer buf.MarkComplete()

	index := trackID
	if !opts.AudioTrack {
		index = t.cache.ResolveIDToIndex(trackID)
		if index < 0 {
			return nil
		}
	}

	if t.discFP == "" {
		if _, _, _, err := t.readTOCLocked(c); err != nil {
			DebugLog("fingerprint unavailable: %v", err)
		}
	}
	storeKey := t.discFP
	if opts.AudioTrack {
		storeKey += "/audio"
	} else {
		storeKey += "/raw"
	}
	if payload, ok := t.store.Get(c, storeKey, index); ok {
		DebugLog("recovery cache hit for track %d (%d bytes)", index, len(payload))
		buf.Append(payload)
		return nil
	}

	cfg := core.RecoveryConfig{
		IncludeHeader:  opts.AudioTrack,
		StripLPPadding: !opts.AudioTrack,
	}
	deviceOps.WithLabelValues("download").Inc()
	ch, err := t.dev.DownloadTrackStream(c, index, cfg)
	if err != nil {
		return err
	}

	var streamErr error
	for chunk := range ch {
		switch chunk.Kind {
		case core.ChunkHeader:
			if opts.AudioTrack {
				buf.Append(chunk.Data)
				transferBytes.WithLabelValues("download").Add(float64(len(chunk.Data)))
			}
		case core.ChunkAudioData:
			buf.Append(chunk.Data)
			transferBytes.WithLabelValues("download").Add(float64(len(chunk.Data)))
		case core.ChunkError:
			streamErr = chunk.Err
		}
	}
	if streamErr != nil {
		DebugLog("recovery of track %d failed: %v", index, streamErr)
		return streamErr
	}
	if t.discFP != "" {
		if err := t.store.Put(c, storeKey, index, buf.Snapshot()); err != nil {
			DebugLog("recovery cache store failed: %v", err)
		}
	}
	return nil
}

// padTrackPayload zero-pads data up to the minimum the deck accepts.
func padTrackPayload(data []byte) []byte {
	if len(data) >= core.MinTrackPayload {
		return append([]byte(nil), data...)
	}
	padded := make([]byte, core.MinTrackPayload)
	copy(padded, data)
	return padded
}

// WriteFileTransfer commits an overlay file to the disc: erase the old
// backing track if the ID is being reused, upload the payload as a hidden
// LP2 track, then rewrite the TOC with the new overlay record. The whole
// sequence runs under one lock hold so nothing can slip between the erase
// and the commit. The overlay record is encoded before the first device
// write; an overflow aborts with the disc untouched.
func (t *Transfer) WriteFileTransfer(c core.Ctx, id int, data []byte, oldIndex int, root *tfs.Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	record, err := tfs.Encode(root)
	if err != nil {
		return err
	}

	if oldIndex >= 0 {
		deviceOps.WithLabelValues("erase").Inc()
		if err := t.dev.EraseTrack(c, oldIndex); err != nil {
			return err
		}
	}

	payload := padTrackPayload(data)
	deviceOps.WithLabelValues("upload").Inc()
	if err := t.dev.UploadTrack(c, core.HiddenTrackTitle(id), core.WfLP2, payload); err != nil {
		return err
	}
	transferBytes.WithLabelValues("upload").Add(float64(len(payload)))

	return t.writeTOCLocked(c, record)
}

// WriteTOC re-stamps the hidden-track mode bits and rewrites the UTOC with
// the encoded overlay record, then forces a TOC commit.
func (t *Transfer) WriteTOC(c core.Ctx, root *tfs.Node) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	record, err := tfs.Encode(root)
	if err != nil {
		return err
	}
	return t.writeTOCLocked(c, record)
}

func (t *Transfer) writeTOCLocked(c core.Ctx, record []byte) error {
	toc, _, _, err := t.readTOCLocked(c)
	if err != nil {
		return err
	}

	// Stamp every fragment of every hidden track before the overlay
	// record goes out, so the committed TOC never exposes a hidden track
	// as an ordinary writable one.
	for track := 1; track <= toc.LastTrack; track++ {
		if !strings.HasPrefix(toc.Title(track), core.HiddenTrackPrefix) {
			continue
		}
		for _, slot := range toc.FragmentChain(track) {
			mode := toc.Fragments[slot].Mode
			mode |= core.ModeFlagSPMode | core.ModeFlagStereo
			mode &^= core.ModeFlagWritable
			toc.Fragments[slot].Mode = mode
		}
	}

	sectors := core.ReconstructTOC(toc)
	sector2 := make([]byte, core.SectorSize)
	copy(sector2[tfs.Offset:], record)
	sectors = append(sectors, sector2)

	for n, sector := range sectors {
		deviceOps.WithLabelValues("write_utoc").Inc()
		if err := t.dev.WriteUTOCSector(c, n, sector); err != nil {
			return err
		}
	}
	deviceOps.WithLabelValues("commit").Inc()
	if err := t.dev.ForceTOCCommit(c); err != nil {
		return err
	}

	sum := sha256.New()
	sum.Write(sectors[0])
	sum.Write(sectors[1])
	t.discFP = hex.EncodeToString(sum.Sum(nil))[:16]
	return nil
}

// DeleteTrack erases the track at a disc index and refreshes the cache to
// pick up the renumbered listing.
func (t *Transfer) DeleteTrack(c core.Ctx, index int) error {
	t.mu.Lock()
	deviceOps.WithLabelValues("erase").Inc()
	err := t.dev.EraseTrack(c, index)
	t.mu.Unlock()
	if err != nil {
		return err
	}
	return t.cache.RefreshCache(c)
}
