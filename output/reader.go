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
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"github.com/poiesic/vitae/core"
)

// Records can run long when a person has many consolidated facts, so
// the scanner gets the same generous ceiling as the corpus loader.
const maxRecordLine = 32 * 1024 * 1024

// ReadFile streams every person record in a service output file.
// Blank lines are tolerated; a malformed line fails with its number.
func ReadFile(path string, fn func(*core.PersonRecord) error) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open output: %w", err)
	}
	defer f.Close()

	if err := Read(f, fn); err != nil {
		return fmt.Errorf("output %s: %w", path, err)
	}
	return nil
}

// Read parses person-record JSONL from a reader, invoking fn per
// record. Returning an error from fn stops the scan.
func Read(r io.Reader, fn func(*core.PersonRecord) error) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 1024*1024), maxRecordLine)

	lineNo := 0
	for scanner.Scan() {
		lineNo++
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var record core.PersonRecord
		if err := json.Unmarshal(line, &record); err != nil {
			return fmt.Errorf("line %d: %w", lineNo, err)
		}
		if err := fn(&record); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("line %d: %w", lineNo+1, err)
	}
	return nil
}

// ReadAll loads a whole service output file into memory.
func ReadAll(path string) ([]core.PersonRecord, error) {
	var records []core.PersonRecord
	err := ReadFile(path, func(r *core.PersonRecord) error {
		records = append(records, *r)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return records, nil
}

// Latest returns the most recently modified output file for a service
// in a directory, matching the Filename layout. Returns "" when the
// service has no output yet.
func Latest(dir, service string) (string, error) {
	matches, err := filepath.Glob(filepath.Join(dir, service+"_*.jsonl"))
	if err != nil {
		return "", err
	}
	if len(matches) == 0 {
		return "", nil
	}

	sort.Slice(matches, func(i, j int) bool {
		fi, erri := os.Stat(matches[i])
		fj, errj := os.Stat(matches[j])
		if erri != nil || errj != nil {
			return matches[i] < matches[j]
		}
		if fi.ModTime().Equal(fj.ModTime()) {
			return matches[i] < matches[j]
		}
		return fi.ModTime().After(fj.ModTime())
	})
	return matches[0], nil
}
