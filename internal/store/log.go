package store

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
)

// DefaultLockTimeout bounds how long an append waits for the log lock.
const DefaultLockTimeout = 10 * time.Second

// Log is an append-only JSONL file. Appends are serialized across
// processes by a sibling ".lock" file; readers take no lock and simply
// skip lines that do not parse, so a torn final line from a crash
// never poisons the log.
type Log struct {
	path        string
	lock        *flock.Flock
	lockTimeout time.Duration
}

// NewLog creates a Log at path. The file itself is created lazily on
// first append.
func NewLog(path string) *Log {
	return &Log{
		path:        path,
		lock:        flock.New(path + ".lock"),
		lockTimeout: DefaultLockTimeout,
	}
}

// Append writes one record as a single JSON line.
func (l *Log) Append(v any) error {
	return l.AppendMany([]any{v})
}

// AppendMany writes records under one lock acquisition. On lock
// timeout it returns ErrLockTimeout without writing anything.
func (l *Log) AppendMany(records []any) error {
	if len(records) == 0 {
		return nil
	}

	lines := make([][]byte, 0, len(records))
	for _, r := range records {
		data, err := json.Marshal(r)
		if err != nil {
			return fmt.Errorf("marshal log record: %w", err)
		}
		lines = append(lines, data)
	}

	ctx, cancel := context.WithTimeout(context.Background(), l.lockTimeout)
	defer cancel()

	locked, err := l.lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("%w: %s", ErrLockTimeout, l.path)
	}
	defer l.lock.Unlock()

	if err := EnsureDir(filepath.Dir(l.path)); err != nil {
		return err
	}
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open log %s: %w", l.path, err)
	}
	defer f.Close()

	for _, line := range lines {
		if _, err := f.Write(append(line, '\n')); err != nil {
			return fmt.Errorf("append to %s: %w", l.path, err)
		}
	}
	return f.Sync()
}

// AppendText appends data to the file at path, serialized across
// processes by the same sibling ".lock" file convention Log uses. On
// lock timeout it returns ErrLockTimeout without writing anything.
func AppendText(path string, data []byte) error {
	if len(data) == 0 {
		return nil
	}

	lock := flock.New(path + ".lock")
	ctx, cancel := context.WithTimeout(context.Background(), DefaultLockTimeout)
	defer cancel()

	locked, err := lock.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil || !locked {
		return fmt.Errorf("%w: %s", ErrLockTimeout, path)
	}
	defer lock.Unlock()

	if err := EnsureDir(filepath.Dir(path)); err != nil {
		return err
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()

	if _, err := f.Write(data); err != nil {
		return fmt.Errorf("append to %s: %w", path, err)
	}
	return f.Sync()
}

// ReadAll returns every parseable record in order. Malformed lines are
// skipped. A missing log reads as empty.
func (l *Log) ReadAll() ([]json.RawMessage, error) {
	var out []json.RawMessage
	err := l.Stream(func(raw json.RawMessage) error {
		out = append(out, raw)
		return nil
	})
	return out, err
}

// Stream calls fn for each parseable record in order, without loading
// the whole log into memory. fn returning an error stops the scan.
func (l *Log) Stream(fn func(raw json.RawMessage) error) error {
	f, err := os.Open(l.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("open log %s: %w", l.path, err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 || !json.Valid(line) {
			continue
		}
		raw := make(json.RawMessage, len(line))
		copy(raw, line)
		if err := fn(raw); err != nil {
			return err
		}
	}
	return scanner.Err()
}
