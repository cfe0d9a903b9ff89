package vfs

import (
	"github.com/asivery/fusenetmd/tfs"
)

const systemInfoText = "fusenetmd - NetMD overlay filesystem\n" +
	"files in this directory control the mounted engine\n"

// systemFile is one virtual file under /$system. A nil read or write
// func makes the file write-only or read-only.
type systemFile struct {
	name  string
	read  func() ([]byte, error)
	write func(data []byte) error
}

// systemFiles builds the fixed /$system table. Readers render their
// payload live at open; writers buffer and run the hook at release.
func systemFiles(nfs *NetMDFS) []*systemFile {
	return []*systemFile{
		{
			name: "info",
			read: func() ([]byte, error) {
				return []byte(systemInfoText), nil
			},
		},
		{
			name: "handles",
			read: func() ([]byte, error) {
				return nfs.handles.Dump(), nil
			},
		},
		{
			name: "tfs.bin",
			read: func() ([]byte, error) {
				return tfs.Encode(nfs.cache.Root())
			},
			write: func(data []byte) error {
				root, err := tfs.Parse(data)
				if err != nil {
					return err
				}
				// replaces the in-memory tree only; the next flush
				// persists it
				nfs.cache.SetRoot(root)
				return nil
			},
		},
		{
			name: "force_immediate_flush",
			write: func(data []byte) error {
				return nfs.cache.FlushCache(nfs.ctx())
			},
		},
	}
}
