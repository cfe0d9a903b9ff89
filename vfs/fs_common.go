// Package vfs implements the NetMD overlay filesystem engine: the
// streaming read buffers, the disc cache, the serialized transfer
// coordinator and the FUSE adapter that exposes a mounted disc as
// `/$audio`, `/$system` and the overlay tree.
package vfs

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"
)

// debugEnabled is a global flag to control debug logging
// 0 = disabled, 1 = enabled
var debugEnabled int32

func init() {
	// Check FUSENETMD_DEBUG environment variable at startup
	if os.Getenv("FUSENETMD_DEBUG") != "" && os.Getenv("FUSENETMD_DEBUG") != "0" {
		atomic.StoreInt32(&debugEnabled, 1)
	}
}

// SetDebugEnabled sets the debug mode (can be called from cmd)
func SetDebugEnabled(enabled bool) {
	if enabled {
		atomic.StoreInt32(&debugEnabled, 1)
	} else {
		atomic.StoreInt32(&debugEnabled, 0)
	}
}

// IsDebugEnabled returns whether debug mode is enabled
func IsDebugEnabled() bool {
	return atomic.LoadInt32(&debugEnabled) == 1
}

// DebugLog logs debug messages with timestamp. Debug mode can be
// controlled by SetDebugEnabled (the cmd -debug flag) or the
// FUSENETMD_DEBUG environment variable.
func DebugLog(format string, args ...interface{}) {
	if !IsDebugEnabled() {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05.000")
	message := fmt.Sprintf(format, args...)
	fmt.Printf("[%s] [VFS DEBUG] %s\n", timestamp, message)
}
