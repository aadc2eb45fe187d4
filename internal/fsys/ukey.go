package fsys

import (
	"fmt"
	"time"

	"github.com/cespare/xxhash/v2"
)

// UniqueKey derives a stable token from a modification time. The same
// instant always yields the same key regardless of time zone.
func UniqueKey(modTime time.Time) string {
	return fmt.Sprintf("%016x", xxhash.Sum64String(modTime.UTC().Format(time.RFC3339Nano)))
}
