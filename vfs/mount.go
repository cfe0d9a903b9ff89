package vfs

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/hanwen/go-fuse/v2/fs"
	"github.com/hanwen/go-fuse/v2/fuse"
)

// MountOptions mount options
type MountOptions struct {
	// Mount point path
	MountPoint string
	// FUSE mount options
	FuseOptions []string
	// Allow other users to access
	AllowOther bool
	// Enable debug mode (verbose output with timestamps)
	Debug bool
}

// Mount mounts the overlay filesystem of an initialized engine.
func Mount(nfs *NetMDFS, opts *MountOptions) (*fuse.Server, error) {
	if opts == nil {
		return nil, fmt.Errorf("mount options cannot be nil")
	}

	mountPoint, err := filepath.Abs(opts.MountPoint)
	if err != nil {
		return nil, fmt.Errorf("invalid mount point: %w", err)
	}

	info, err := os.Stat(mountPoint)
	if err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(mountPoint, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create mount point: %w", err)
			}
		} else {
			return nil, fmt.Errorf("failed to stat mount point: %w", err)
		}
	} else if !info.IsDir() {
		return nil, fmt.Errorf("mount point is not a directory: %s", mountPoint)
	}

	if opts.Debug {
		SetDebugEnabled(true)
	}

	fuseOpts := &fuse.MountOptions{
		FsName:     "fusenetmd",
		Name:       "fusenetmd",
		AllowOther: opts.AllowOther,
		Options:    append([]string{}, opts.FuseOptions...),
	}

	server, err := fs.Mount(mountPoint, nfs.Root(), &fs.Options{
		MountOptions: *fuseOpts,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to mount: %w", err)
	}
	return server, nil
}

// Serve runs the mounted filesystem until unmount. In the foreground it
// waits for an interrupt and unmounts itself; otherwise it just waits for
// the server to finish.
func Serve(server *fuse.Server, foreground bool) error {
	if foreground {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

		sig := <-sigChan
		fmt.Printf("\nReceived signal: %v, unmounting...\n", sig)
		if err := server.Unmount(); err != nil {
			return fmt.Errorf("failed to unmount: %w", err)
		}
		return nil
	}
	server.Wait()
	return nil
}
