package engine

import (
	"io"
	"os"

	"github.com/zvdy/lsm-go/wal"
)

// Options configures an Engine. DefaultOptions returns the constants
// this design calls for in production; tests override individual
// fields to exercise flush/compaction without writing megabytes of
// fixture data.
type Options struct {
	// MemtableSizeThreshold is the approximate byte count at which a
	// Put triggers a flush to a new level-0 SSTable.
	MemtableSizeThreshold int

	// CompactionSizeThreshold and LevelMultiplier parameterize the
	// leveled-compaction trigger for levels >= 1: a level compacts
	// once its total size reaches CompactionSizeThreshold *
	// LevelMultiplier^level.
	CompactionSizeThreshold int64
	LevelMultiplier         int64

	// Durability selects whether WAL appends fsync in addition to
	// flushing the buffered writer.
	Durability wal.Durability

	// Verbose, when true, writes one-line progress notes to Log on
	// flush and compaction.
	Verbose bool
	Log     io.Writer
}

const (
	// MemtableSizeThreshold is 512 KiB, per the design's production default.
	memtableSizeThresholdDefault = 512 * 1024
	// CompactionSizeThreshold is 1 MiB, per the design's production default.
	compactionSizeThresholdDefault = 1024 * 1024
	levelMultiplierDefault         = 4
)

// DefaultOptions returns the production defaults: a 512 KiB memtable
// threshold, a 1 MiB level-1 compaction threshold with a 4x
// per-level multiplier, process-durability WAL appends, and no
// verbose logging.
func DefaultOptions() Options {
	return Options{
		MemtableSizeThreshold:   memtableSizeThresholdDefault,
		CompactionSizeThreshold: compactionSizeThresholdDefault,
		LevelMultiplier:         levelMultiplierDefault,
		Durability:              wal.DurabilityProcess,
		Verbose:                 false,
		Log:                     os.Stderr,
	}
}

func (o Options) logWriter() io.Writer {
	if o.Log != nil {
		return o.Log
	}
	return os.Stderr
}
