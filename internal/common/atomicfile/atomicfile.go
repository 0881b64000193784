// Package atomicfile implements the write-then-rename persistence pattern
// every repository uses to durably write its JSON records (spec §4.1).
package atomicfile

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// WriteJSON marshals v and atomically replaces the file at path: it writes to
// a temp file in the same directory, then renames over the destination so
// readers never observe a partially written file.
func WriteJSON(path string, v interface{}) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return err
	}
	tmpPath := tmp.Name()
	defer os.Remove(tmpPath)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	return os.Rename(tmpPath, path)
}

// ReadJSON unmarshals the file at path into v.
func ReadJSON(path string, v interface{}) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, v)
}

// Quarantine renames a corrupt file aside with a ".corrupt" suffix so startup
// replay can skip it without losing the evidence (spec §5 Failure recovery).
func Quarantine(path string) error {
	return os.Rename(path, path+".corrupt")
}

// Remove deletes the file at path, tolerating its absence.
func Remove(path string) error {
	err := os.Remove(path)
	if os.IsNotExist(err) {
		return nil
	}
	return err
}
