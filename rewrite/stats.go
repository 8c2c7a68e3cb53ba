package rewrite

import (
	"fmt"
	"sync/atomic"
)

// Stats collects counters across a run. All methods are safe for
// concurrent use; the counters are only incremented, never reset.
type Stats struct {
	filesPatched         atomic.Int64
	symlinksPatched      atomic.Int64
	directoriesProcessed atomic.Int64
	totalBytes           atomic.Int64
}

// FilesPatched returns the number of regular files whose bytes changed.
func (s *Stats) FilesPatched() int64 { return s.filesPatched.Load() }

// SymlinksPatched returns the number of symlinks whose target changed.
func (s *Stats) SymlinksPatched() int64 { return s.symlinksPatched.Load() }

// DirectoriesProcessed returns the number of directories seen.
func (s *Stats) DirectoriesProcessed() int64 { return s.directoriesProcessed.Load() }

// TotalBytes returns the sum of regular file content sizes processed.
func (s *Stats) TotalBytes() int64 { return s.totalBytes.Load() }

func (s *Stats) String() string {
	return fmt.Sprintf("files=%d symlinks=%d directories=%d bytes=%d",
		s.FilesPatched(), s.SymlinksPatched(), s.DirectoriesProcessed(), s.TotalBytes())
}
