// Package audit keeps the tamper-evident record of access decisions and
// trust-level changes. Entries are JSON lines chained by SHA-256: each
// entry carries the hash of the line before it, so editing, inserting or
// dropping a line breaks verification from that point on.
package audit

import (
	"bufio"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// GenesisHash is the prev_hash for the first entry in a new audit log.
const GenesisHash = "sha256:0000000000000000000000000000000000000000000000000000000000000000"

// ErrClosed is returned by Record after Close.
var ErrClosed = errors.New("audit: log closed")

// Recorder accepts audit entries. *Log implements it; callers that do not
// keep an audit trail pass nil and skip recording.
type Recorder interface {
	Record(Entry) error
}

// Log is an append-only audit log file.
type Log struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	prevHash string
	now      func() time.Time
}

// Open opens (or creates) the log at path and recovers the chain tail.
// A trailing partial line left by an interrupted write is cut off so the
// next entry chains onto the last complete one.
func Open(path string) (*Log, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0700); err != nil {
		return nil, fmt.Errorf("audit: create directory: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_RDWR, 0600)
	if err != nil {
		return nil, fmt.Errorf("audit: open file: %w", err)
	}
	prev, end, err := recoverTail(file)
	if err != nil {
		file.Close()
		return nil, err
	}
	if err := file.Truncate(end); err != nil {
		file.Close()
		return nil, fmt.Errorf("audit: trim partial line: %w", err)
	}
	if _, err := file.Seek(end, io.SeekStart); err != nil {
		file.Close()
		return nil, fmt.Errorf("audit: seek: %w", err)
	}
	return &Log{path: path, file: file, prevHash: prev, now: time.Now}, nil
}

// recoverTail returns the hash of the last complete line and the offset
// just past it.
func recoverTail(f *os.File) (string, int64, error) {
	prev := GenesisHash
	var end int64
	r := bufio.NewReader(f)
	for {
		line, err := r.ReadBytes('\n')
		if err == io.EOF {
			// Bytes without a terminating newline are a torn write.
			return prev, end, nil
		}
		if err != nil {
			return "", 0, fmt.Errorf("audit: scan existing log: %w", err)
		}
		end += int64(len(line))
		if body := bytes.TrimRight(line, "\n"); len(body) > 0 {
			prev = HashLine(body)
		}
	}
}

// Record appends entry. PrevHash is always overwritten; Timestamp is
// filled in when empty.
func (l *Log) Record(entry Entry) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return ErrClosed
	}

	if entry.Timestamp == "" {
		entry.Timestamp = l.now().UTC().Format(TimestampFormat)
	}
	entry.PrevHash = l.prevHash

	line, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("audit: marshal entry: %w", err)
	}
	if _, err := l.file.Write(append(line, '\n')); err != nil {
		return fmt.Errorf("audit: write entry: %w", err)
	}
	if err := l.file.Sync(); err != nil {
		return fmt.Errorf("audit: sync: %w", err)
	}
	l.prevHash = HashLine(line)
	return nil
}

// Head returns the hash the next entry will chain onto.
func (l *Log) Head() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.prevHash
}

// Path returns the log file path.
func (l *Log) Path() string { return l.path }

// Close closes the underlying file. Further Records fail with ErrClosed.
func (l *Log) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// HashLine returns "sha256:<hex>" of the given bytes.
func HashLine(line []byte) string {
	h := sha256.Sum256(line)
	return "sha256:" + hex.EncodeToString(h[:])
}
