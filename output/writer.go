// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


package output

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/gofrs/flock"

	"github.com/poiesic/vitae/core"
)

// Filename builds the canonical output path for one service run.
func Filename(dir, service, runID string) string {
	return filepath.Join(dir, fmt.Sprintf("%s_%s.jsonl", service, runID))
}

// Writer appends person records to one service output file.
// It is the only mutable resource a run shares across people, so every
// append runs under a mutex; an flock guards against a second process
// writing the same file.
type Writer struct {
	mu     sync.Mutex
	file   *os.File
	lock   *flock.Flock
	closed bool
	count  int
}

// NewWriter creates or opens the output file for appending and takes
// the file lock. Returns ErrFileLocked when another process already
// holds it.
func NewWriter(path string) (*Writer, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("output dir: %w", err)
	}

	lock := flock.New(path + ".lock")
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("lock %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrFileLocked, path)
	}

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		lock.Unlock()
		return nil, fmt.Errorf("open %s: %w", path, err)
	}

	return &Writer{file: file, lock: lock}, nil
}

// Append writes one record as a single line. The record is marshaled
// in full before any byte is written, so a failed marshal leaves the
// file untouched.
func (w *Writer) Append(record *core.PersonRecord) error {
	if record == nil {
		return ErrNilRecord
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record for %s: %w", record.PersonName, err)
	}
	data = append(data, '\n')

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return ErrWriterClosed
	}
	if _, err := w.file.Write(data); err != nil {
		return fmt.Errorf("append record for %s: %w", record.PersonName, err)
	}
	w.count++
	return nil
}

// Count returns how many records have been appended.
func (w *Writer) Count() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.count
}

// Name returns the output file path.
func (w *Writer) Name() string {
	return w.file.Name()
}

// Close syncs the file and releases the lock. Safe to call twice.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	syncErr := w.file.Sync()
	closeErr := w.file.Close()
	unlockErr := w.lock.Unlock()

	if syncErr != nil {
		return syncErr
	}
	if closeErr != nil {
		return closeErr
	}
	return unlockErr
}
