package core

import (
	"sync"
)

const memChunkSize = 1024

// memTrack is one recorded track of the simulated deck.
type memTrack struct {
	title    string
	encoding Encoding
	payload  []byte
}

// MemDevice simulates a NetMD deck in memory. It implements Device and is
// the backend of the unit tests and of the cmd demo mode. The simulation
// keeps a deck-side UTOC RAM: sector writes land there and become the
// committed TOC only on ForceTOCCommit, mirroring how the real deck
// behaves.
type MemDevice struct {
	mu     sync.Mutex
	tracks []*memTrack

	// UTOC RAM; nil entries are synthesized from the track list on read.
	ram [UTOCSectorCount][]byte
	// last committed sector bytes
	committed [UTOCSectorCount][]byte

	commits   int
	erased    []int
	uploads   []string
	downloads int

	// FailOp makes the named operation ("list", "read", "write", "erase",
	// "download", "upload", "commit") return FailErr.
	FailOp  string
	FailErr error
}

var _ Device = (*MemDevice)(nil)

func NewMemDevice() *MemDevice {
	return &MemDevice{}
}

// AddTrack records a track directly on the simulated disc, bypassing the
// upload path. Used to set up disc states.
func (d *MemDevice) AddTrack(title string, enc Encoding, payload []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.tracks = append(d.tracks, &memTrack{title: title, encoding: enc, payload: payload})
	d.invalidateTOC()
}

// SeedSector2 sets the raw content of UTOC sector 2, as if a previous
// session had committed it.
func (d *MemDevice) SeedSector2(data []byte) {
	d.mu.Lock()
	defer d.mu.Unlock()
	sector := make([]byte, SectorSize)
	copy(sector, data)
	d.ram[2] = sector
	d.committed[2] = append([]byte(nil), sector...)
}

func (d *MemDevice) invalidateTOC() {
	d.ram[0] = nil
	d.ram[1] = nil
}

func (d *MemDevice) fail(op string) error {
	if d.FailOp == op {
		return d.FailErr
	}
	return nil
}

// trackSectors is the logical sector count the simulated deck books for a
// payload of the given size and mode.
func trackSectors(payload int, enc Encoding) uint32 {
	per := SectorPayload
	if enc != EncSP {
		per = SectorPayload - LPSectorPadding
	}
	n := (payload + per - 1) / per
	if n == 0 {
		n = 1
	}
	return uint32(n)
}

func trackMode(enc Encoding) byte {
	mode := ModeFlagAudio | ModeFlagWritable
	switch enc {
	case EncSP:
		mode |= ModeFlagSPMode | ModeFlagStereo
	case EncLP2, EncLP4:
		mode |= ModeFlagDigital
	}
	return mode
}

// synthTOC rebuilds UTOC sectors 0 and 1 from the track list.
func (d *MemDevice) synthTOC() error {
	toc := &TOC{}
	for _, tr := range d.tracks {
		if _, err := toc.AppendTrack(tr.title, trackMode(tr.encoding), trackSectors(len(tr.payload), tr.encoding)); err != nil {
			return err
		}
	}
	sectors := ReconstructTOC(toc)
	d.ram[0] = sectors[0]
	d.ram[1] = sectors[1]
	return nil
}

func (d *MemDevice) ListTracks(c Ctx) ([]TrackInfo, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("list"); err != nil {
		return nil, err
	}
	out := make([]TrackInfo, len(d.tracks))
	for i, tr := range d.tracks {
		out[i] = TrackInfo{Index: i, Title: tr.title, Encoding: tr.encoding}
	}
	return out, nil
}

func (d *MemDevice) ReadUTOCSector(c Ctx, n int) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("read"); err != nil {
		return nil, err
	}
	if n < 0 || n >= UTOCSectorCount {
		return nil, ERR_BAD_SECTOR
	}
	if d.ram[n] == nil {
		if n == 2 {
			d.ram[2] = make([]byte, SectorSize)
		} else if err := d.synthTOC(); err != nil {
			return nil, err
		}
	}
	return append([]byte(nil), d.ram[n]...), nil
}

func (d *MemDevice) WriteUTOCSector(c Ctx, n int, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("write"); err != nil {
		return err
	}
	if n < 0 || n >= UTOCSectorCount {
		return ERR_BAD_SECTOR
	}
	if len(data) != SectorSize {
		return ERR_BAD_SECTOR
	}
	d.ram[n] = append([]byte(nil), data...)
	return nil
}

func (d *MemDevice) EraseTrack(c Ctx, index int) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("erase"); err != nil {
		return err
	}
	if index < 0 || index >= len(d.tracks) {
		return ERR_TRACK_NOT_FOUND
	}
	d.tracks = append(d.tracks[:index], d.tracks[index+1:]...)
	d.erased = append(d.erased, index)
	d.invalidateTOC()
	return nil
}

func (d *MemDevice) DownloadTrackStream(c Ctx, index int, cfg RecoveryConfig) (<-chan TrackChunk, error) {
	d.mu.Lock()
	if err := d.fail("download"); err != nil {
		d.mu.Unlock()
		return nil, err
	}
	if index < 0 || index >= len(d.tracks) {
		d.mu.Unlock()
		return nil, ERR_TRACK_NOT_FOUND
	}
	tr := d.tracks[index]
	payload := append([]byte(nil), tr.payload...)
	enc := tr.encoding
	d.downloads++
	d.mu.Unlock()

	ch := make(chan TrackChunk)
	go func() {
		defer close(ch)
		if cfg.IncludeHeader {
			hdr := make([]byte, LPHeaderOverhead)
			if enc == EncSP {
				hdr = make([]byte, SPHeaderOverhead)
			}
			select {
			case ch <- TrackChunk{Kind: ChunkHeader, Data: hdr}:
			case <-c.Done():
				return
			}
		}
		for off := 0; off < len(payload); off += memChunkSize {
			end := off + memChunkSize
			if end > len(payload) {
				end = len(payload)
			}
			select {
			case ch <- TrackChunk{Kind: ChunkAudioData, Data: payload[off:end]}:
			case <-c.Done():
				return
			}
		}
	}()
	return ch, nil
}

func (d *MemDevice) UploadTrack(c Ctx, title string, wf Wireformat, data []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("upload"); err != nil {
		return err
	}
	enc := EncSP
	switch wf {
	case WfLP2:
		enc = EncLP2
	case WfLP4:
		enc = EncLP4
	}
	d.tracks = append(d.tracks, &memTrack{
		title:    title,
		encoding: enc,
		payload:  append([]byte(nil), data...),
	})
	d.uploads = append(d.uploads, title)
	d.invalidateTOC()
	return nil
}

func (d *MemDevice) ForceTOCCommit(c Ctx) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if err := d.fail("commit"); err != nil {
		return err
	}
	for n := 0; n < UTOCSectorCount; n++ {
		if d.ram[n] != nil {
			d.committed[n] = append([]byte(nil), d.ram[n]...)
		}
	}
	d.commits++
	return nil
}

// Committed returns the last committed bytes of a UTOC sector, or nil if
// the sector was never committed.
func (d *MemDevice) Committed(n int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if n < 0 || n >= UTOCSectorCount || d.committed[n] == nil {
		return nil
	}
	return append([]byte(nil), d.committed[n]...)
}

// CommitCount returns how many forced TOC commits the deck has seen.
func (d *MemDevice) CommitCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.commits
}

// Downloads returns how many recovery streams the deck has started.
func (d *MemDevice) Downloads() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.downloads
}

// Erased returns the erase history (disc indexes at erase time).
func (d *MemDevice) Erased() []int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]int(nil), d.erased...)
}

// Uploads returns the titles of all uploaded tracks in order.
func (d *MemDevice) Uploads() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.uploads...)
}

// TrackPayload returns the stored payload of the track at index.
func (d *MemDevice) TrackPayload(index int) []byte {
	d.mu.Lock()
	defer d.mu.Unlock()
	if index < 0 || index >= len(d.tracks) {
		return nil
	}
	return append([]byte(nil), d.tracks[index].payload...)
}
