// Package store provides the durable persistence primitives every other
// subsystem builds on: atomic whole-file writes, JSON documents that
// read as absent when missing or corrupt, and an append-only JSONL log
// guarded by a cross-process file lock.
//
// The atomic write contract is the load-bearing one: a reader never
// observes a partially written file, because writes go to a temp file
// in the same directory and land via rename.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// ErrLockTimeout is returned when the append-log lock could not be
// acquired within the configured timeout. Callers should treat it as
// a loud failure, not silently drop the record.
var ErrLockTimeout = errors.New("store: timed out waiting for file lock")

// EnsureDir creates a directory (and parents) if it does not exist.
func EnsureDir(path string) error {
	return os.MkdirAll(path, 0o755)
}

// AtomicWrite writes data to path so that readers see either the old
// content or the new content, never a partial file. The temp file is
// created in the target's directory so the rename stays on one
// filesystem.
func AtomicWrite(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := EnsureDir(dir); err != nil {
		return fmt.Errorf("ensure dir %s: %w", dir, err)
	}

	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("close temp file: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("rename into place: %w", err)
	}
	return nil
}

// WriteJSON marshals v with indentation and writes it atomically.
func WriteJSON(path string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", path, err)
	}
	return AtomicWrite(path, data)
}

// ReadJSON unmarshals the file at path into v. A missing file or one
// that fails to parse reads as absent: ReadJSON returns false and
// leaves v untouched. Corruption is recoverable-by-rewrite here, so it
// is deliberately not an error.
func ReadJSON(path string, v any) bool {
	data, err := os.ReadFile(path)
	if err != nil {
		return false
	}
	if err := json.Unmarshal(data, v); err != nil {
		return false
	}
	return true
}
