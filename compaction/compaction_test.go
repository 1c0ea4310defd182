package compaction

import (
	"path/filepath"
	"testing"

	"github.com/zvdy/lsm-go/sstable"
)

func mustTable(t *testing.T, dir, name string, entries []sstable.Entry) *sstable.Table {
	t.Helper()
	tbl, err := sstable.Open(filepath.Join(dir, name))
	if err != nil {
		t.Fatalf("Open %s: %v", name, err)
	}
	if err := tbl.Write(entries); err != nil {
		t.Fatalf("Write %s: %v", name, err)
	}
	return tbl
}

func TestShouldCompactLevel0ByCount(t *testing.T) {
	m := New(SizeThreshold, LevelMultiplier)
	dir := t.TempDir()

	var tables []*sstable.Table
	for i := 0; i < 3; i++ {
		tables = append(tables, mustTable(t, dir, "a"+string(rune('0'+i))+".sst", []sstable.Entry{{Key: []byte("k"), Value: []byte("v")}}))
	}
	if m.ShouldCompact(0, tables) {
		t.Fatalf("3 files at level 0 should not trigger compaction")
	}
	tables = append(tables, mustTable(t, dir, "d.sst", []sstable.Entry{{Key: []byte("k"), Value: []byte("v")}}))
	if !m.ShouldCompact(0, tables) {
		t.Fatalf("4 files at level 0 should trigger compaction")
	}
}

func TestShouldCompactHigherLevelBySize(t *testing.T) {
	m := New(10, 4) // tiny threshold for the test
	dir := t.TempDir()
	big := make([]byte, 40)
	tbl := mustTable(t, dir, "a.sst", []sstable.Entry{{Key: []byte("k"), Value: big}})
	if !m.ShouldCompact(1, []*sstable.Table{tbl}) {
		t.Fatalf("expected compaction once size exceeds threshold*multiplier^level")
	}
}

func TestCompactNewestWins(t *testing.T) {
	dir := t.TempDir()
	older := mustTable(t, dir, "older.sst", []sstable.Entry{{Key: []byte("k"), Value: []byte("v1")}})
	newer := mustTable(t, dir, "newer.sst", []sstable.Entry{{Key: []byte("k"), Value: []byte("v2")}})

	// Engine convention: later slice position = more recently created.
	merged, err := Compact([]*sstable.Table{older, newer}, false)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if len(merged) != 1 || string(merged[0].Value) != "v2" {
		t.Fatalf("got %+v, want single entry v2", merged)
	}
}

func TestCompactOutputIsSortedAscending(t *testing.T) {
	dir := t.TempDir()
	a := mustTable(t, dir, "a.sst", []sstable.Entry{
		{Key: []byte("banana"), Value: []byte("1")},
		{Key: []byte("date"), Value: []byte("2")},
	})
	b := mustTable(t, dir, "b.sst", []sstable.Entry{
		{Key: []byte("apple"), Value: []byte("3")},
		{Key: []byte("cherry"), Value: []byte("4")},
	})

	merged, err := Compact([]*sstable.Table{a, b}, false)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	want := []string{"apple", "banana", "cherry", "date"}
	if len(merged) != len(want) {
		t.Fatalf("got %d entries, want %d", len(merged), len(want))
	}
	for i, k := range want {
		if string(merged[i].Key) != k {
			t.Fatalf("entry %d: got %q, want %q", i, merged[i].Key, k)
		}
	}
}

func TestCompactDropsTombstonesAtBottom(t *testing.T) {
	dir := t.TempDir()
	withValue := mustTable(t, dir, "older.sst", []sstable.Entry{{Key: []byte("k"), Value: []byte("v1")}})
	withTombstone := mustTable(t, dir, "newer.sst", []sstable.Entry{{Key: []byte("k"), Tombstone: true}})

	merged, err := Compact([]*sstable.Table{withValue, withTombstone}, true)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if len(merged) != 0 {
		t.Fatalf("expected tombstone to be dropped at bottom level, got %+v", merged)
	}
}

func TestCompactKeepsTombstonesWhenNotBottom(t *testing.T) {
	dir := t.TempDir()
	withValue := mustTable(t, dir, "older.sst", []sstable.Entry{{Key: []byte("k"), Value: []byte("v1")}})
	withTombstone := mustTable(t, dir, "newer.sst", []sstable.Entry{{Key: []byte("k"), Tombstone: true}})

	merged, err := Compact([]*sstable.Table{withValue, withTombstone}, false)
	if err != nil {
		t.Fatalf("Compact: %v", err)
	}
	if len(merged) != 1 || !merged[0].Tombstone {
		t.Fatalf("expected tombstone to be carried forward, got %+v", merged)
	}
}
