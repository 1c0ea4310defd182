// Package engine is the top-level coordinator of the LSM storage
// engine: it owns the memtable, the write-ahead log, and the level
// map, and implements the write pipeline (WAL -> memtable -> flush ->
// compact) and the read pipeline (memtable -> levels ascending,
// newest SSTable first within each level).
//
// Single-threaded, non-reentrant: flush and compaction run
// synchronously inside whichever Put crosses the memtable threshold.
// There is no background compaction goroutine and no concurrency
// wrapper — that is explicitly a different concern layered on top of
// this engine, not part of it.
package engine

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/zvdy/lsm-go/compaction"
	"github.com/zvdy/lsm-go/memtable"
	"github.com/zvdy/lsm-go/sstable"
	"github.com/zvdy/lsm-go/wal"
)

// ErrClosed is returned by Put, Delete and Get on a closed Engine.
var ErrClosed = errors.New("engine: closed")

const walFileName = "wal"

// Engine is the single-writer, single-process entry point to the
// storage engine. Two Engines must never be opened over the same
// data directory at once; doing so is undefined behavior.
type Engine struct {
	mu     sync.Mutex
	closed bool

	dataDir string
	opts    Options

	mem *memtable.Memtable
	w   *wal.WAL

	levels  map[int][]*sstable.Table
	nextSeq uint64

	compactor *compaction.Manager
	stats     statCounters
}

// Open creates the data directory if needed, replays the WAL to
// rebuild the memtable, loads any existing SSTables grouped by level
// (sorted by sequence number within each level, since directory
// iteration order is not guaranteed to match creation order), and
// returns a ready Engine. The WAL itself is left untouched: its
// contents are already reflected in the in-memory memtable and will
// be cleared at the next flush.
func Open(dataDir string, opts Options) (*Engine, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, err
	}

	walPath := filepath.Join(dataDir, walFileName)
	mem := memtable.New()
	if err := wal.Replay(walPath, func(r wal.Record) error {
		switch r.Op {
		case wal.OpPut:
			mem.Insert(r.Key, r.Value)
		case wal.OpDelete:
			mem.Remove(r.Key)
		}
		return nil
	}); err != nil {
		return nil, fmt.Errorf("engine: replaying wal: %w", err)
	}

	levels, nextSeq, err := loadLevels(dataDir)
	if err != nil {
		return nil, err
	}

	w, err := wal.Open(walPath, opts.Durability)
	if err != nil {
		return nil, err
	}

	return &Engine{
		dataDir:   dataDir,
		opts:      opts,
		mem:       mem,
		w:         w,
		levels:    levels,
		nextSeq:   nextSeq,
		compactor: compaction.New(opts.CompactionSizeThreshold, opts.LevelMultiplier),
	}, nil
}

// Put writes key -> value: append to the WAL (durable to the OS),
// insert into the memtable, then flush if the memtable has crossed
// its size threshold.
func (e *Engine) Put(key, value []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if err := e.w.Append(wal.OpPut, key, value); err != nil {
		return err
	}
	e.mem.Insert(key, value)
	e.stats.puts.Add(1)

	if e.mem.Size() >= e.opts.MemtableSizeThreshold {
		return e.flush()
	}
	return nil
}

// Delete removes key: append a Delete record to the WAL, then remove
// from the memtable (recorded as a tombstone, not a true removal, so
// it can still shadow an older value already flushed to an SSTable).
// Delete never triggers a flush.
func (e *Engine) Delete(key []byte) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return ErrClosed
	}

	if err := e.w.Append(wal.OpDelete, key, nil); err != nil {
		return err
	}
	e.mem.Remove(key)
	e.stats.deletes.Add(1)
	return nil
}

// Get probes the memtable first, then each level from 0 upward,
// newest SSTable first within a level, returning the first match. A
// tombstone (in the memtable or in an SSTable) means the key is
// absent, not present-with-no-value.
func (e *Engine) Get(key []byte) ([]byte, bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil, false, ErrClosed
	}
	e.stats.gets.Add(1)

	if entry, ok := e.mem.Get(key); ok {
		if entry.Tombstone {
			return nil, false, nil
		}
		e.stats.getHits.Add(1)
		return entry.Value, true, nil
	}

	for _, level := range e.sortedLevels() {
		tables := e.levels[level]
		for i := len(tables) - 1; i >= 0; i-- {
			tbl := tables[i]
			if !tbl.MightContainKey(key) {
				continue
			}
			entry, ok, err := tbl.Get(key)
			if err != nil {
				return nil, false, err
			}
			if !ok {
				e.stats.bloomFalsePositive.Add(1)
				continue
			}
			if entry.Tombstone {
				return nil, false, nil
			}
			e.stats.getHits.Add(1)
			return entry.Value, true, nil
		}
	}
	return nil, false, nil
}

// Close flushes and closes the WAL. It does not flush the memtable:
// its contents remain recoverable from the WAL on the next Open.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return nil
	}
	e.closed = true
	return e.w.Close()
}

// Stats returns a snapshot of this Engine's operation counters.
func (e *Engine) Stats() Stats {
	return e.stats.snapshot()
}

// flush materializes the memtable as a sorted entry list, writes it
// to a new level-0 SSTable, clears the memtable and WAL, and then
// checks level 0 for compaction. Called with e.mu held.
func (e *Engine) flush() error {
	if e.mem.IsEmpty() {
		return nil
	}

	entries := toSSTableEntries(e.mem.Iter())

	seq := e.nextSeq
	e.nextSeq++
	path := filepath.Join(e.dataDir, sstFileName(0, seq))

	tbl, err := e.writeTable(path, entries)
	if err != nil {
		return err
	}
	e.levels[0] = append(e.levels[0], tbl)
	e.stats.flushes.Add(1)
	e.logf("[flush] wrote %s (%d entries, %d bytes)\n", path, len(entries), tbl.Size())

	e.mem = memtable.New()
	if err := e.w.Clear(); err != nil {
		return err
	}

	return e.maybeCompact(0)
}

// maybeCompact checks whether level needs compacting and, if so,
// merges all of its tables into one new SSTable at level+1, deletes
// the inputs, and recurses into level+1.
func (e *Engine) maybeCompact(level int) error {
	tables := e.levels[level]
	if len(tables) == 0 {
		return nil
	}
	if !e.compactor.ShouldCompact(level, tables) {
		return nil
	}

	// A tombstone may only be dropped once merged into level+1 if
	// level+1 holds no tables of its own: maybeCompact merges only
	// the source level, it never folds level+1's existing tables into
	// the same pass, so an older value already sitting there would
	// otherwise survive the drop and resurrect the deleted key.
	bottom := e.isBottomTarget(level+1) && len(e.levels[level+1]) == 0
	merged, err := compaction.Compact(tables, bottom)
	if err != nil {
		return err
	}

	seq := e.nextSeq
	e.nextSeq++
	path := filepath.Join(e.dataDir, sstFileName(level+1, seq))
	newTbl, err := e.writeTable(path, merged)
	if err != nil {
		return err
	}

	oldPaths := make([]string, 0, len(tables))
	for _, t := range tables {
		oldPaths = append(oldPaths, t.Path)
	}

	e.levels[level] = nil
	e.levels[level+1] = append(e.levels[level+1], newTbl)
	e.stats.compactions.Add(1)
	e.logf("[compact] level %d -> %d: %d inputs merged into %s (%d entries)\n",
		level, level+1, len(oldPaths), path, len(merged))

	for _, p := range oldPaths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			return err
		}
	}

	return e.maybeCompact(level + 1)
}

// isBottomTarget reports whether no level strictly greater than level
// currently holds any tables. This is necessary but not sufficient
// for dropping a tombstone merged into level: the caller must also
// check that level itself has no pre-existing tables, since those
// aren't part of the merge and could still hold an older value for
// the same key.
func (e *Engine) isBottomTarget(level int) bool {
	for lv, tables := range e.levels {
		if lv > level && len(tables) > 0 {
			return false
		}
	}
	return true
}

// writeTable writes entries to a fresh SSTable at finalPath. It
// writes through a uniquely-named temporary file in the same
// directory and renames it into place, so a process crash mid-write
// never leaves a half-written file at a name startup scanning would
// treat as a live SSTable, and no orphan temp file survives a
// successful write.
func (e *Engine) writeTable(finalPath string, entries []sstable.Entry) (*sstable.Table, error) {
	tmpPath := finalPath + ".tmp-" + uuid.NewString()

	tmpTbl, err := sstable.Open(tmpPath)
	if err != nil {
		return nil, err
	}
	if err := tmpTbl.Write(entries); err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		_ = os.Remove(tmpPath)
		return nil, err
	}
	return sstable.Open(finalPath)
}

// sortedLevels returns the populated level numbers in ascending
// order.
func (e *Engine) sortedLevels() []int {
	out := make([]int, 0, len(e.levels))
	for lv, tables := range e.levels {
		if len(tables) > 0 {
			out = append(out, lv)
		}
	}
	sort.Ints(out)
	return out
}

func (e *Engine) logf(format string, args ...any) {
	if !e.opts.Verbose {
		return
	}
	fmt.Fprintf(e.opts.logWriter(), format, args...)
}

func toSSTableEntries(kvs []memtable.KV) []sstable.Entry {
	out := make([]sstable.Entry, 0, len(kvs))
	for _, kv := range kvs {
		out = append(out, sstable.Entry{
			Key:       kv.Key,
			Value:     kv.Entry.Value,
			Tombstone: kv.Entry.Tombstone,
		})
	}
	return out
}

func sstFileName(level int, seq uint64) string {
	return fmt.Sprintf("L%d_%d.sst", level, seq)
}

func loadLevels(dataDir string) (map[int][]*sstable.Table, uint64, error) {
	ents, err := os.ReadDir(dataDir)
	if err != nil {
		return nil, 0, err
	}

	type found struct {
		level int
		seq   uint64
		path  string
	}
	var all []found
	var nextSeq uint64

	for _, ent := range ents {
		if ent.IsDir() {
			continue
		}
		level, seq, ok := parseSSTFileName(ent.Name())
		if !ok {
			continue
		}
		all = append(all, found{level: level, seq: seq, path: filepath.Join(dataDir, ent.Name())})
		if seq+1 > nextSeq {
			nextSeq = seq + 1
		}
	}

	levels := make(map[int][]*sstable.Table)
	byLevel := make(map[int][]found)
	for _, f := range all {
		byLevel[f.level] = append(byLevel[f.level], f)
	}
	for level, fs := range byLevel {
		sort.Slice(fs, func(i, j int) bool { return fs[i].seq < fs[j].seq })
		tables := make([]*sstable.Table, 0, len(fs))
		for _, f := range fs {
			tbl, err := sstable.Open(f.path)
			if err != nil {
				return nil, 0, err
			}
			tables = append(tables, tbl)
		}
		levels[level] = tables
	}

	return levels, nextSeq, nil
}

// parseSSTFileName parses "L{level}_{seq}.sst"; anything else is
// reported as not-ok and ignored by the caller.
func parseSSTFileName(name string) (level int, seq uint64, ok bool) {
	const ext = ".sst"
	if len(name) <= len(ext) || name[len(name)-len(ext):] != ext || name[0] != 'L' {
		return 0, 0, false
	}
	stem := name[1 : len(name)-len(ext)]
	underscore := -1
	for i, c := range stem {
		if c == '_' {
			underscore = i
			break
		}
	}
	if underscore < 0 {
		return 0, 0, false
	}
	levelStr, seqStr := stem[:underscore], stem[underscore+1:]

	lv, err := parseUint(levelStr)
	if err != nil {
		return 0, 0, false
	}
	sq, err := parseUint(seqStr)
	if err != nil {
		return 0, 0, false
	}
	return int(lv), sq, true
}

func parseUint(s string) (uint64, error) {
	if s == "" {
		return 0, errors.New("empty")
	}
	var v uint64
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, fmt.Errorf("invalid digit %q", c)
		}
		v = v*10 + uint64(c-'0')
	}
	return v, nil
}
