package core

import (
	"strings"
)

// Fragment mode flags. One mode byte per fragment slot in UTOC sector 0.
const (
	ModeFlagEmphasis byte = 0x01
	ModeFlagStereo   byte = 0x02
	ModeFlagSPMode   byte = 0x04
	ModeFlagDigital  byte = 0x08
	ModeFlagWritable byte = 0x10
	ModeFlagAudio    byte = 0x20
)

// UTOC sector layout. Each sector starts with a 0x30-byte header, then a
// pointer map with one byte per track number (1..255), then 255 8-byte
// slots. Slot number 0 terminates a chain.
const (
	tocHeaderSize = 0x30
	tocMapBase    = 0x2F // map byte for track t is at tocMapBase + t
	tocSlotBase   = 0x130
	tocSlotCount  = 255
	tocSlotSize   = 8

	hdrLastTrack = 0x23 // last track number
	hdrPDFA      = 0x24 // defective-area chain head
	hdrPEmpty    = 0x25 // free slot chain head
	hdrPFRA      = 0x26 // freely recordable area chain head
)

// Fragment is one physical span of sectors belonging to a track. Start and
// End are packed disc addresses; Link is the next slot of the chain (0 ends
// it).
type Fragment struct {
	Start uint32
	Mode  byte
	End   uint32
	Link  byte
}

// TitleCell is one 8-byte cell of the title sector: seven title bytes plus
// the link to the next cell.
type TitleCell struct {
	Chars [7]byte
	Link  byte
}

// TOC is the parsed form of UTOC sectors 0 and 1. Slot arrays are indexed
// by slot number; index 0 is never a real slot.
type TOC struct {
	Header      [tocHeaderSize]byte
	TitleHeader [tocHeaderSize]byte

	LastTrack int

	// TrackMap[t] is the first fragment slot of track t (1-based).
	TrackMap  [tocSlotCount + 1]byte
	Fragments [tocSlotCount + 1]Fragment

	// TitleMap[t] is the first title cell of track t.
	TitleMap [tocSlotCount + 1]byte
	Titles   [tocSlotCount + 1]TitleCell
}

// DiscAddressToLogical converts a packed 3-byte disc address (cluster in
// the high two bytes, sector in the low byte) to a logical sector number.
func DiscAddressToLogical(addr uint32) uint32 {
	return (addr>>8)*32 + (addr & 0xFF)
}

// LogicalToDiscAddress is the inverse of DiscAddressToLogical.
func LogicalToDiscAddress(logical uint32) uint32 {
	return (logical/32)<<8 | (logical % 32)
}

func getAddr(b []byte) uint32 {
	return uint32(b[0])<<16 | uint32(b[1])<<8 | uint32(b[2])
}

func putAddr(b []byte, addr uint32) {
	b[0] = byte(addr >> 16)
	b[1] = byte(addr >> 8)
	b[2] = byte(addr)
}

// ParseTOC decodes UTOC sectors 0 and 1.
func ParseTOC(sector0, sector1 []byte) (*TOC, error) {
	if len(sector0) != SectorSize || len(sector1) != SectorSize {
		return nil, ERR_BAD_SECTOR
	}

	t := &TOC{}
	copy(t.Header[:], sector0[:tocHeaderSize])
	copy(t.TitleHeader[:], sector1[:tocHeaderSize])
	t.LastTrack = int(sector0[hdrLastTrack])

	for tr := 1; tr <= tocSlotCount; tr++ {
		t.TrackMap[tr] = sector0[tocMapBase+tr]
		t.TitleMap[tr] = sector1[tocMapBase+tr]
	}
	for s := 1; s <= tocSlotCount; s++ {
		off := tocSlotBase + (s-1)*tocSlotSize
		cell := sector0[off : off+tocSlotSize]
		t.Fragments[s] = Fragment{
			Start: getAddr(cell[0:3]),
			Mode:  cell[3],
			End:   getAddr(cell[4:7]),
			Link:  cell[7],
		}
		tcell := sector1[off : off+tocSlotSize]
		copy(t.Titles[s].Chars[:], tcell[:7])
		t.Titles[s].Link = tcell[7]
	}
	return t, nil
}

// ReconstructTOC re-emits UTOC sectors 0 and 1. It is the exact inverse of
// ParseTOC for well-formed sectors.
func ReconstructTOC(t *TOC) [][]byte {
	sector0 := make([]byte, SectorSize)
	sector1 := make([]byte, SectorSize)
	copy(sector0, t.Header[:])
	copy(sector1, t.TitleHeader[:])
	sector0[hdrLastTrack] = byte(t.LastTrack)

	for tr := 1; tr <= tocSlotCount; tr++ {
		sector0[tocMapBase+tr] = t.TrackMap[tr]
		sector1[tocMapBase+tr] = t.TitleMap[tr]
	}
	for s := 1; s <= tocSlotCount; s++ {
		off := tocSlotBase + (s-1)*tocSlotSize
		cell := sector0[off : off+tocSlotSize]
		putAddr(cell[0:3], t.Fragments[s].Start)
		cell[3] = t.Fragments[s].Mode
		putAddr(cell[4:7], t.Fragments[s].End)
		cell[7] = t.Fragments[s].Link

		tcell := sector1[off : off+tocSlotSize]
		copy(tcell[:7], t.Titles[s].Chars[:])
		tcell[7] = t.Titles[s].Link
	}
	return [][]byte{sector0, sector1}
}

// FragmentChain returns the fragment slot numbers of a track in chain
// order. A broken or cyclic chain is cut off at 255 hops.
func (t *TOC) FragmentChain(track int) []int {
	var chain []int
	seen := make(map[int]bool)
	for s := int(t.TrackMap[track]); s != 0 && !seen[s]; s = int(t.Fragments[s].Link) {
		seen[s] = true
		chain = append(chain, s)
		if len(chain) > tocSlotCount {
			break
		}
	}
	return chain
}

// SectorSpan sums the logical sector spans of a track's fragments.
func (t *TOC) SectorSpan(track int) uint32 {
	var n uint32
	for _, s := range t.FragmentChain(track) {
		f := t.Fragments[s]
		n += DiscAddressToLogical(f.End) - DiscAddressToLogical(f.Start)
	}
	return n
}

// Title assembles the title of a track from its cell chain.
func (t *TOC) Title(track int) string {
	var sb strings.Builder
	seen := make(map[int]bool)
	for s := int(t.TitleMap[track]); s != 0 && !seen[s]; s = int(t.Titles[s].Link) {
		seen[s] = true
		sb.Write(t.Titles[s].Chars[:])
	}
	return strings.TrimRight(sb.String(), "\x00")
}

func (t *TOC) usedSlots() (frag, title [tocSlotCount + 1]bool) {
	for tr := 1; tr <= tocSlotCount; tr++ {
		for _, s := range t.FragmentChain(tr) {
			frag[s] = true
		}
		seen := make(map[int]bool)
		for s := int(t.TitleMap[tr]); s != 0 && !seen[s]; s = int(t.Titles[s].Link) {
			seen[s] = true
			title[s] = true
		}
	}
	return
}

func (t *TOC) allocSlot(used *[tocSlotCount + 1]bool) (int, error) {
	for s := 1; s <= tocSlotCount; s++ {
		if !used[s] {
			used[s] = true
			return s, nil
		}
	}
	return 0, ERR_TOC_SLOTS
}

// SetTitle rewrites the title cell chain of a track. Cells of the previous
// chain are released implicitly by dropping the map entry.
func (t *TOC) SetTitle(track int, title string) error {
	_, used := t.usedSlots()
	// drop the old chain first so its cells can be reused
	seen := make(map[int]bool)
	for s := int(t.TitleMap[track]); s != 0 && !seen[s]; s = int(t.Titles[s].Link) {
		seen[s] = true
		used[s] = false
		t.Titles[s] = TitleCell{}
	}
	t.TitleMap[track] = 0

	raw := []byte(title)
	prev := 0
	for off := 0; off < len(raw); off += 7 {
		s, err := t.allocSlot(&used)
		if err != nil {
			return err
		}
		cell := TitleCell{}
		copy(cell.Chars[:], raw[off:])
		t.Titles[s] = cell
		if prev == 0 {
			t.TitleMap[track] = byte(s)
		} else {
			t.Titles[prev].Link = byte(s)
		}
		prev = s
	}
	return nil
}

// AppendTrack adds a single-fragment track occupying the given number of
// logical sectors after the current end of the recorded area. It returns
// the new track number.
func (t *TOC) AppendTrack(title string, mode byte, sectors uint32) (int, error) {
	if t.LastTrack >= tocSlotCount {
		return 0, ERR_TOC_SLOTS
	}
	frag, _ := t.usedSlots()
	slot, err := t.allocSlot(&frag)
	if err != nil {
		return 0, err
	}

	var cursor uint32
	for tr := 1; tr <= t.LastTrack; tr++ {
		for _, s := range t.FragmentChain(tr) {
			if end := DiscAddressToLogical(t.Fragments[s].End); end > cursor {
				cursor = end
			}
		}
	}

	track := t.LastTrack + 1
	t.Fragments[slot] = Fragment{
		Start: LogicalToDiscAddress(cursor),
		Mode:  mode,
		End:   LogicalToDiscAddress(cursor + sectors),
		Link:  0,
	}
	t.TrackMap[track] = byte(slot)
	t.LastTrack = track
	if err := t.SetTitle(track, title); err != nil {
		return 0, err
	}
	return track, nil
}

// RemoveTrack deletes a track and renumbers the tracks after it, the way
// the deck does on erase.
func (t *TOC) RemoveTrack(track int) {
	if track < 1 || track > t.LastTrack {
		return
	}
	for _, s := range t.FragmentChain(track) {
		t.Fragments[s] = Fragment{}
	}
	seen := make(map[int]bool)
	for s := int(t.TitleMap[track]); s != 0 && !seen[s]; s = int(t.Titles[s].Link) {
		seen[s] = true
		t.Titles[s] = TitleCell{}
	}
	for tr := track; tr < t.LastTrack; tr++ {
		t.TrackMap[tr] = t.TrackMap[tr+1]
		t.TitleMap[tr] = t.TitleMap[tr+1]
	}
	t.TrackMap[t.LastTrack] = 0
	t.TitleMap[t.LastTrack] = 0
	t.LastTrack--
}
