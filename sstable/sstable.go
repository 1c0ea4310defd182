// Package sstable implements the immutable, on-disk sorted run: a
// Bloom-filter header followed by a flat sequence of entries, with no
// index and no footer. Once written, a Table is read many times and
// eventually deleted by the engine after compaction has merged it into
// a table at the next level.
package sstable

import (
	"bufio"
	"encoding/binary"
	"errors"
	"io"
	"os"

	"github.com/zvdy/lsm-go/bloom"
)

// ErrCorrupt is returned when an entry's declared length would read
// past the end of the file.
var ErrCorrupt = errors.New("sstable: corrupt entry")

const defaultBloomElements = 1000
const bloomFalsePositiveRate = 0.01

// Entry is one (key, value) pair, or a tombstone recording a delete.
// Value is empty when Tombstone is set.
type Entry struct {
	Key       []byte
	Value     []byte
	Tombstone bool
}

// Table is a handle to one on-disk SSTable.
type Table struct {
	Path  string
	size  int64
	bloom *bloom.Filter // nil means "no filter available", MightContainKey must then answer true
}

// Open opens an existing SSTable at path. A missing file is not an
// error: the Table is simply empty. If the file exists but its Bloom
// filter header cannot be parsed, Open proceeds without a filter,
// which makes MightContainKey conservatively return true.
func Open(path string) (*Table, error) {
	t := &Table{Path: path}

	info, err := os.Stat(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return t, nil
		}
		return nil, err
	}
	t.size = info.Size()

	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if bf, ok := readBloomHeader(f); ok {
		t.bloom = bf
	}
	return t, nil
}

// readBloomHeader attempts to parse the Bloom filter from the file
// head. Any failure (short read, corrupt payload) is swallowed: the
// caller treats it the same as "no filter".
func readBloomHeader(f *os.File) (*bloom.Filter, bool) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
		return nil, false
	}
	bloomLen := binary.LittleEndian.Uint32(lenBuf[:])
	payload := make([]byte, bloomLen)
	if _, err := io.ReadFull(f, payload); err != nil {
		return nil, false
	}
	bf, err := bloom.FromBytes(payload)
	if err != nil {
		return nil, false
	}
	return bf, true
}

// Write creates (truncating) the file and writes entries in the
// caller's order: the writer does not sort, so the caller must
// already have entries in ascending key order. A fresh Bloom filter
// is built over every key (tombstones included, since a later Get
// must still find them) sized for max(len(entries), 1000) at a 1%
// false positive rate.
func (t *Table) Write(entries []Entry) error {
	f, err := os.OpenFile(t.Path, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o644)
	if err != nil {
		return err
	}
	defer func() { _ = f.Close() }()

	n := len(entries)
	if n < defaultBloomElements {
		n = defaultBloomElements
	}
	bf := bloom.New(n, bloomFalsePositiveRate)
	for _, e := range entries {
		bf.Insert(e.Key)
	}

	w := bufio.NewWriterSize(f, 64*1024)

	bloomBytes := bf.Bytes()
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(bloomBytes)))
	if _, err := w.Write(lenBuf[:]); err != nil {
		return err
	}
	if _, err := w.Write(bloomBytes); err != nil {
		return err
	}

	for _, e := range entries {
		if err := writeEntry(w, e); err != nil {
			return err
		}
	}
	if err := w.Flush(); err != nil {
		return err
	}

	info, err := f.Stat()
	if err != nil {
		return err
	}
	t.size = info.Size()
	t.bloom = bf
	return nil
}

func writeEntry(w *bufio.Writer, e Entry) error {
	var klen [4]byte
	binary.LittleEndian.PutUint32(klen[:], uint32(len(e.Key)))
	if _, err := w.Write(klen[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.Key); err != nil {
		return err
	}
	tomb := byte(0)
	if e.Tombstone {
		tomb = 1
	}
	if err := w.WriteByte(tomb); err != nil {
		return err
	}
	var vlen [4]byte
	binary.LittleEndian.PutUint32(vlen[:], uint32(len(e.Value)))
	if _, err := w.Write(vlen[:]); err != nil {
		return err
	}
	if _, err := w.Write(e.Value); err != nil {
		return err
	}
	return nil
}

// ReadAll returns the full entry list in on-disk order. Used by
// compaction, which needs every entry of every input table.
func (t *Table) ReadAll() ([]Entry, error) {
	f, err := os.Open(t.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	defer func() { _ = f.Close() }()

	if err := skipBloomSection(f); err != nil {
		return nil, err
	}

	r := bufio.NewReaderSize(f, 64*1024)
	var out []Entry
	for {
		e, ok, err := readEntry(r)
		if err != nil {
			return nil, err
		}
		if !ok {
			return out, nil
		}
		out = append(out, e)
	}
}

// Get probes the Bloom filter first; on a negative it returns absent
// without touching the file. Otherwise it opens the file, skips the
// Bloom section, and linearly scans entries, returning the first
// whose key matches (which may be a tombstone — the caller decides
// what that means).
func (t *Table) Get(key []byte) (Entry, bool, error) {
	if t.bloom != nil && !t.bloom.MightContain(key) {
		return Entry{}, false, nil
	}

	f, err := os.Open(t.Path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Entry{}, false, nil
		}
		return Entry{}, false, err
	}
	defer func() { _ = f.Close() }()

	if err := skipBloomSection(f); err != nil {
		return Entry{}, false, err
	}

	r := bufio.NewReaderSize(f, 64*1024)
	for {
		e, ok, err := readEntry(r)
		if err != nil {
			return Entry{}, false, err
		}
		if !ok {
			return Entry{}, false, nil
		}
		if string(e.Key) == string(key) {
			return e, true, nil
		}
	}
}

// MightContainKey reports whether key may be present, per the
// embedded Bloom filter. A table with no filter conservatively
// answers true.
func (t *Table) MightContainKey(key []byte) bool {
	if t.bloom == nil {
		return true
	}
	return t.bloom.MightContain(key)
}

// Size returns the cached byte size, lazily restated from file
// metadata if the cache is zero and the file exists.
func (t *Table) Size() int64 {
	if t.size == 0 {
		if info, err := os.Stat(t.Path); err == nil {
			t.size = info.Size()
		}
	}
	return t.size
}

// DeleteFile removes the underlying file. The handle should not be
// used afterward.
func (t *Table) DeleteFile() error {
	return os.Remove(t.Path)
}

func skipBloomSection(f *os.File) error {
	var lenBuf [4]byte
	if _, err := io.ReadFull(f, lenBuf[:]); err != nil {
		return ErrCorrupt
	}
	bloomLen := binary.LittleEndian.Uint32(lenBuf[:])
	if _, err := f.Seek(int64(bloomLen), io.SeekCurrent); err != nil {
		return err
	}
	return nil
}

func readEntry(r *bufio.Reader) (Entry, bool, error) {
	var klen [4]byte
	if _, err := io.ReadFull(r, klen[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return Entry{}, false, nil
		}
		return Entry{}, false, ErrCorrupt
	}
	keyLen := binary.LittleEndian.Uint32(klen[:])
	key := make([]byte, keyLen)
	if _, err := io.ReadFull(r, key); err != nil {
		return Entry{}, false, ErrCorrupt
	}

	tomb, err := r.ReadByte()
	if err != nil {
		return Entry{}, false, ErrCorrupt
	}

	var vlen [4]byte
	if _, err := io.ReadFull(r, vlen[:]); err != nil {
		return Entry{}, false, ErrCorrupt
	}
	valLen := binary.LittleEndian.Uint32(vlen[:])
	value := make([]byte, valLen)
	if _, err := io.ReadFull(r, value); err != nil {
		return Entry{}, false, ErrCorrupt
	}

	return Entry{Key: key, Value: value, Tombstone: tomb == 1}, true, nil
}
