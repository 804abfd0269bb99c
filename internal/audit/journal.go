// Package audit journals admission decisions as append-only JSONL.
package audit

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"
)

const (
	// DefaultMaxSize is the rotation threshold (100MB).
	DefaultMaxSize = 100 * 1024 * 1024
	fileExtension  = ".jsonl"
	archiveDir     = "archive"
)

// Decision outcomes journaled per workflow.
const (
	OutcomeReleased = "released"
	OutcomeAborted  = "aborted"
	OutcomeRejected = "rejected"
)

// Entry is one journaled admission decision.
type Entry struct {
	Timestamp  time.Time `json:"timestamp"`
	Outcome    string    `json:"outcome"`
	WorkflowID string    `json:"workflow_id"`
	BundleUUID string    `json:"bundle_uuid,omitempty"`
	HashID     string    `json:"hash_id,omitempty"`
	Reason     string    `json:"reason,omitempty"`
	StatusCode int       `json:"status_code,omitempty"`
}

// Journal appends admission decisions to a JSONL file, rotating it into an
// archive directory next to it when the file exceeds maxSize.
type Journal struct {
	mu          sync.Mutex
	file        *os.File
	currentSize int64
	maxSize     int64
	path        string
	rotations   int
}

// Open creates or appends to the journal at path. maxSize <= 0 selects
// DefaultMaxSize.
func Open(path string, maxSize int64) (*Journal, error) {
	if maxSize <= 0 {
		maxSize = DefaultMaxSize
	}

	j := &Journal{
		path:    path,
		maxSize: maxSize,
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}
	if err := j.openFile(); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *Journal) openFile() error {
	file, err := os.OpenFile(j.path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("open journal: %w", err)
	}

	stat, err := file.Stat()
	if err != nil {
		file.Close()
		return fmt.Errorf("stat journal: %w", err)
	}

	j.file = file
	j.currentSize = stat.Size()
	return nil
}

// Record appends one entry. A zero timestamp is stamped with the current
// UTC time.
func (j *Journal) Record(e Entry) error {
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now().UTC()
	}

	data, err := json.Marshal(e)
	if err != nil {
		return fmt.Errorf("marshal journal entry: %w", err)
	}
	data = append(data, '\n')

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.currentSize+int64(len(data)) > j.maxSize {
		if err := j.rotate(); err != nil {
			return fmt.Errorf("rotate journal: %w", err)
		}
	}

	n, err := j.file.Write(data)
	if err != nil {
		return fmt.Errorf("write journal entry: %w", err)
	}
	if err := j.file.Sync(); err != nil {
		return fmt.Errorf("sync journal: %w", err)
	}

	j.currentSize += int64(n)
	return nil
}

func (j *Journal) rotate() error {
	if err := j.file.Close(); err != nil {
		return fmt.Errorf("close current journal: %w", err)
	}

	dir := filepath.Join(filepath.Dir(j.path), archiveDir)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("create archive directory: %w", err)
	}

	j.rotations++
	base := strings.TrimSuffix(filepath.Base(j.path), fileExtension)
	name := fmt.Sprintf("%s.%s.%d%s", base, time.Now().Format("20060102_150405"), j.rotations, fileExtension)
	if err := os.Rename(j.path, filepath.Join(dir, name)); err != nil {
		return fmt.Errorf("archive journal: %w", err)
	}

	return j.openFile()
}

// Size returns the current journal file size.
func (j *Journal) Size() int64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.currentSize
}

// Close syncs and closes the journal.
func (j *Journal) Close() error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if j.file == nil {
		return nil
	}
	if err := j.file.Sync(); err != nil {
		return err
	}
	return j.file.Close()
}
