package atomicfile

import (
	"os"
	"path/filepath"
	"testing"
)

type record struct {
	Name  string `json:"name"`
	Count int    `json:"count"`
}

func TestWriteJSONThenReadJSONRoundTrips(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sub", "record.json")
	want := record{Name: "alpha", Count: 3}

	if err := WriteJSON(path, want); err != nil {
		t.Fatalf("write json: %v", err)
	}

	var got record
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if got != want {
		t.Fatalf("got %+v, want %+v", got, want)
	}
}

func TestWriteJSONLeavesNoTempFilesBehind(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "record.json")

	if err := WriteJSON(path, record{Name: "a"}); err != nil {
		t.Fatalf("write json: %v", err)
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read dir: %v", err)
	}
	if len(entries) != 1 || entries[0].Name() != "record.json" {
		t.Fatalf("expected only record.json in %s, got %v", dir, entries)
	}
}

func TestWriteJSONOverwritesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record.json")
	if err := WriteJSON(path, record{Name: "first"}); err != nil {
		t.Fatalf("write json (first): %v", err)
	}
	if err := WriteJSON(path, record{Name: "second"}); err != nil {
		t.Fatalf("write json (second): %v", err)
	}

	var got record
	if err := ReadJSON(path, &got); err != nil {
		t.Fatalf("read json: %v", err)
	}
	if got.Name != "second" {
		t.Fatalf("expected the overwrite to win, got %q", got.Name)
	}
}

func TestReadJSONMissingFileFails(t *testing.T) {
	var got record
	if err := ReadJSON(filepath.Join(t.TempDir(), "missing.json"), &got); err == nil {
		t.Fatalf("expected an error reading a missing file")
	}
}

func TestQuarantineRenamesWithCorruptSuffix(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "record.json")
	if err := os.WriteFile(path, []byte("not json"), 0o644); err != nil {
		t.Fatalf("write file: %v", err)
	}

	if err := Quarantine(path); err != nil {
		t.Fatalf("quarantine: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected the original path to no longer exist")
	}
	if _, err := os.Stat(path + ".corrupt"); err != nil {
		t.Fatalf("expected the quarantined file to exist: %v", err)
	}
}

func TestRemoveToleratesMissingFile(t *testing.T) {
	if err := Remove(filepath.Join(t.TempDir(), "missing.json")); err != nil {
		t.Fatalf("expected Remove to tolerate a missing file, got %v", err)
	}
}

func TestRemoveDeletesExistingFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "record.json")
	if err := WriteJSON(path, record{Name: "a"}); err != nil {
		t.Fatalf("write json: %v", err)
	}
	if err := Remove(path); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("expected the file to be gone after Remove")
	}
}
