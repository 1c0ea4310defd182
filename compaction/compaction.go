// Package compaction implements the leveled-compaction policy and the
// k-way merge that folds several SSTables at a level into one table
// at the next level down.
package compaction

import (
	"sort"

	"github.com/zvdy/lsm-go/sstable"
)

// SizeThreshold and LevelMultiplier are the defaults from which a
// level's compaction threshold is derived: 1 MiB * LevelMultiplier^level
// for level >= 1. Level 0 uses L0FileCount instead, since its files
// overlap in key range and the cost that matters is fan-out on read,
// not total bytes.
const (
	SizeThreshold   = 1024 * 1024
	LevelMultiplier = 4
	L0FileCount     = 4
)

// Manager decides when a level needs compacting and performs the
// merge. It holds no mutable state; every method is a pure function
// of its arguments.
type Manager struct {
	sizeThreshold   int64
	levelMultiplier int64
}

// New returns a Manager using the given size threshold and level
// multiplier (see SizeThreshold / LevelMultiplier for the engine's
// defaults).
func New(sizeThreshold int64, levelMultiplier int64) *Manager {
	return &Manager{sizeThreshold: sizeThreshold, levelMultiplier: levelMultiplier}
}

// ShouldCompact reports whether level needs compacting given its
// current tables. Level 0 compacts at >= 4 files regardless of size
// (more files means more runs to search on read, since level 0's key
// ranges overlap). Level >= 1 compacts once the level's total size
// reaches sizeThreshold * levelMultiplier^level.
func (m *Manager) ShouldCompact(level int, tables []*sstable.Table) bool {
	if level == 0 {
		return len(tables) >= L0FileCount
	}

	var total int64
	for _, t := range tables {
		total += t.Size()
	}
	threshold := m.sizeThreshold
	for i := 0; i < level; i++ {
		threshold *= m.levelMultiplier
	}
	return total >= threshold
}

// Compact merges tables (oldest first, as the engine stores them
// within a level) into one ascending-key-order entry list. Ties
// across tables go to whichever table is later in the input slice —
// i.e. the newest — by building the merged map from newest to oldest
// and only inserting a key the first time it's seen.
//
// When dropTombstonesAtBottom is true, a key whose newest surviving
// version is a tombstone is omitted entirely from the output: there
// is no older data left beneath this level for the tombstone to keep
// shadowing, so writing it out would only waste space forever.
//
// Compact does not write a file; the caller is responsible for
// writing the returned entries to the canonical next-level SSTable
// and for deleting the input files.
func Compact(tables []*sstable.Table, dropTombstonesAtBottom bool) ([]sstable.Entry, error) {
	merged := make(map[string]sstable.Entry)
	var order []string

	for i := len(tables) - 1; i >= 0; i-- {
		entries, err := tables[i].ReadAll()
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			k := string(e.Key)
			if _, seen := merged[k]; seen {
				continue
			}
			merged[k] = e
			order = append(order, k)
		}
	}

	sort.Strings(order)

	out := make([]sstable.Entry, 0, len(order))
	for _, k := range order {
		e := merged[k]
		if dropTombstonesAtBottom && e.Tombstone {
			continue
		}
		out = append(out, e)
	}
	return out, nil
}
