package core

import (
	"context"
	"fmt"
	"strconv"
	"strings"
)

// Disc geometry.
const (
	// SectorSize is the raw size of a UTOC sector.
	SectorSize = 2352

	// UTOCSectorCount is the number of UTOC sectors the driver exposes.
	UTOCSectorCount = 3

	// SectorPayload is the number of audio payload bytes carried by a full
	// SP sector. LP sectors carry LPSectorPadding fewer usable bytes.
	SectorPayload   = 2332
	LPSectorPadding = 220 // 20 * 11

	// Per-track header overhead added to the byte size presented to
	// userspace for an audio track.
	SPHeaderOverhead = 2048
	LPHeaderOverhead = 48

	// MinTrackPayload is the minimum payload the deck accepts for an
	// uploaded track. Shorter payloads are zero-padded up to this size.
	MinTrackPayload = 2112

	// MaxTrackID is the largest track ID an overlay file can be bound to.
	MaxTrackID = 255
)

// HiddenTrackPrefix marks disc tracks that back overlay files. The full
// title is HiddenTrackPrefix followed by the track ID as two lowercase
// hex digits.
const HiddenTrackPrefix = "h_fs_"

type Ctx context.Context

type Error string

func (e Error) Error() string {
	return string(e)
}

const (
	ERR_TRACK_NOT_FOUND = Error("track not found")
	ERR_DISC_FULL       = Error("no free track id")

	ERR_BAD_SECTOR = Error("bad utoc sector size")
	ERR_TOC_SLOTS  = Error("out of utoc slots")

	ERR_OPEN_DB  = Error("open db failed")
	ERR_QUERY_DB = Error("query db failed")
	ERR_EXEC_DB  = Error("exec db failed")
)

// Encoding is the audio encoding of a disc track as reported by the deck.
type Encoding int

const (
	EncUnknown Encoding = iota
	EncSP
	EncLP2
	EncLP4
)

func (e Encoding) String() string {
	switch e {
	case EncSP:
		return "SP"
	case EncLP2:
		return "LP2"
	case EncLP4:
		return "LP4"
	}
	return "unknown"
}

// Wireformat selects the on-wire format of an uploaded track.
type Wireformat int

const (
	WfPCM Wireformat = iota
	WfLP2
	WfLP4
)

func (w Wireformat) String() string {
	switch w {
	case WfPCM:
		return "PCM"
	case WfLP2:
		return "LP2"
	case WfLP4:
		return "LP4"
	}
	return "unknown"
}

// HiddenTrackTitle returns the disc title that binds a track to the given
// overlay track ID.
func HiddenTrackTitle(id int) string {
	return fmt.Sprintf("%s%02x", HiddenTrackPrefix, id)
}

// ParseHiddenTitle extracts the overlay track ID from a hidden track title.
// The second return is false for titles that do not follow the convention.
func ParseHiddenTitle(title string) (int, bool) {
	if !strings.HasPrefix(title, HiddenTrackPrefix) {
		return 0, false
	}
	suffix := title[len(HiddenTrackPrefix):]
	if len(suffix) != 2 {
		return 0, false
	}
	id, err := strconv.ParseUint(suffix, 16, 8)
	if err != nil {
		return 0, false
	}
	return int(id), true
}
