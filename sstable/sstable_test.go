package sstable

import (
	"path/filepath"
	"testing"
)

func TestWriteReadAllRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "L0_0.sst")

	entries := []Entry{
		{Key: []byte("a"), Value: []byte("1")},
		{Key: []byte("b"), Value: []byte("2")},
		{Key: []byte("c"), Value: []byte("3")},
	}

	tbl, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := tbl.Write(entries); err != nil {
		t.Fatalf("Write: %v", err)
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, err := reopened.ReadAll()
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if len(got) != len(entries) {
		t.Fatalf("got %d entries, want %d", len(got), len(entries))
	}
	for i, e := range entries {
		if string(got[i].Key) != string(e.Key) || string(got[i].Value) != string(e.Value) {
			t.Fatalf("entry %d: got %+v, want %+v", i, got[i], e)
		}
	}
}

func TestWriteThenBloomAndGet(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "L0_0.sst")

	entries := []Entry{
		{Key: []byte("apple"), Value: []byte("fruit")},
		{Key: []byte("banana"), Value: []byte("also-fruit")},
	}
	tbl, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := tbl.Write(entries); err != nil {
		t.Fatalf("Write: %v", err)
	}

	for _, e := range entries {
		if !tbl.MightContainKey(e.Key) {
			t.Fatalf("MightContainKey(%q) = false, want true after insert", e.Key)
		}
	}

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	got, ok, err := reopened.Get([]byte("banana"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || string(got.Value) != "also-fruit" {
		t.Fatalf("Get(banana) = %+v, ok=%v", got, ok)
	}

	_, ok, err = reopened.Get([]byte("missing"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if ok {
		t.Fatalf("Get(missing) should be absent")
	}
}

func TestGetReturnsTombstone(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "L0_0.sst")

	tbl, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	entries := []Entry{{Key: []byte("k"), Tombstone: true}}
	if err := tbl.Write(entries); err != nil {
		t.Fatalf("Write: %v", err)
	}

	got, ok, err := tbl.Get([]byte("k"))
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok || !got.Tombstone {
		t.Fatalf("Get(k) = %+v, ok=%v, want tombstone", got, ok)
	}
}

func TestOpenMissingFileIsEmpty(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "does-not-exist.sst")

	tbl, err := Open(path)
	if err != nil {
		t.Fatalf("Open of missing file should not error: %v", err)
	}
	if tbl.Size() != 0 {
		t.Fatalf("size of empty table = %d, want 0", tbl.Size())
	}
	if !tbl.MightContainKey([]byte("anything")) {
		t.Fatalf("table with no filter should conservatively answer true")
	}
}

func TestSizeCaching(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "L0_0.sst")
	tbl, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := tbl.Write([]Entry{{Key: []byte("k"), Value: []byte("v")}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if tbl.Size() == 0 {
		t.Fatalf("expected non-zero size after write")
	}
}

func TestDeleteFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "L0_0.sst")
	tbl, err := Open(path)
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	if err := tbl.Write([]Entry{{Key: []byte("k"), Value: []byte("v")}}); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := tbl.DeleteFile(); err != nil {
		t.Fatalf("DeleteFile: %v", err)
	}
	if _, err := Open(path); err != nil {
		t.Fatalf("Open after delete should see an empty table, got error: %v", err)
	}
}
