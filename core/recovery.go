package core

import (
	"database/sql"
	"time"

	"github.com/klauspost/compress/zstd"
	_ "github.com/mattn/go-sqlite3"
	b "github.com/orca-zhang/borm"
)

const RECOVERED_TBL = "recovered"

// RecoveredTrack is one cached recovery result. Payload is zstd-compressed.
type RecoveredTrack struct {
	DiscFP     string `borm:"disc_fp"`
	TrackIndex int    `borm:"track_index"`
	Size       int64  `borm:"size"`
	Payload    []byte `borm:"payload"`
	CreatedAt  int64  `borm:"created_at"`
}

// RecoveryStore caches fully recovered track payloads in a local sqlite
// database. ATRAC recovery runs at roughly playback speed, so remounting a
// disc should not repeat it. Entries are keyed by disc fingerprint and
// track index; any TOC edit changes the fingerprint and invalidates them.
type RecoveryStore struct {
	db      *sql.DB
	encoder *zstd.Encoder
	decoder *zstd.Decoder
}

// OpenRecoveryStore opens (creating if needed) the recovery database at
// path.
func OpenRecoveryStore(path string) (*RecoveryStore, error) {
	db, err := sql.Open("sqlite3", path+"?_journal=WAL")
	if err != nil {
		return nil, ERR_OPEN_DB
	}

	db.Exec(`CREATE TABLE IF NOT EXISTS recovered (disc_fp TEXT NOT NULL,
		track_index INT NOT NULL,
		size BIGINT NOT NULL,
		payload BLOB NOT NULL,
		created_at BIGINT NOT NULL,
		PRIMARY KEY (disc_fp, track_index)
	)`)
	db.Exec(`PRAGMA temp_store = MEMORY`)

	enc, err := zstd.NewWriter(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	dec, err := zstd.NewReader(nil)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &RecoveryStore{db: db, encoder: enc, decoder: dec}, nil
}

func (s *RecoveryStore) Close() error {
	if s == nil {
		return nil
	}
	return s.db.Close()
}

// Get returns the cached payload for (discFP, index), or false if the
// store has none or the row fails to decompress.
func (s *RecoveryStore) Get(c Ctx, discFP string, index int) ([]byte, bool) {
	if s == nil {
		return nil, false
	}
	var rows []*RecoveredTrack
	n, err := b.Table(s.db, RECOVERED_TBL, c).Select(&rows,
		b.Where(b.And(b.Eq("disc_fp", discFP), b.Eq("track_index", index))))
	if err != nil || n == 0 || len(rows) == 0 {
		return nil, false
	}
	payload, err := s.decoder.DecodeAll(rows[0].Payload, nil)
	if err != nil || int64(len(payload)) != rows[0].Size {
		return nil, false
	}
	return payload, true
}

// Put stores a fully recovered payload.
func (s *RecoveryStore) Put(c Ctx, discFP string, index int, payload []byte) error {
	if s == nil {
		return nil
	}
	row := &RecoveredTrack{
		DiscFP:     discFP,
		TrackIndex: index,
		Size:       int64(len(payload)),
		Payload:    s.encoder.EncodeAll(payload, nil),
		CreatedAt:  time.Now().Unix(),
	}
	if _, err := b.Table(s.db, RECOVERED_TBL, c).ReplaceInto(row); err != nil {
		return ERR_EXEC_DB
	}
	return nil
}
