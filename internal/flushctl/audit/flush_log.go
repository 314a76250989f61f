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

// Package audit provides a durable record of flush decisions for
// postmortems and replay, the flush-controller analogue of the teacher's
// S-batch and Vector-envelope file sinks.
package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"sync"
	"time"

	"wbfc/pkg/wbfc"
)

// Entry is one flush outcome: a region the planner selected, how large it
// was before and after, how long the flush took, and whether it succeeded.
type Entry struct {
	Region    uint64 `json:"region"`
	PreSize   uint64 `json:"pre_size"`
	PostSize  uint64 `json:"post_size"`
	StartUnix int64  `json:"start_unix_ms"`
	EndUnix   int64  `json:"end_unix_ms"`
	Error     string `json:"error,omitempty"`
}

// FileSink is a buffered JSONL flush-audit sink, safe for concurrent use
// and tuned for append-only workloads. Grounded on (and merging) the
// teacher's SBatchFileSink and VEnvFileSink, which were byte-for-byte
// identical in structure apart from the payload type they encoded — one
// sink here replaces both, since the flush controller has only ever had
// one kind of record to persist.
type FileSink struct {
	mu   sync.Mutex
	f    *os.File
	w    *bufio.Writer
	path string

	lastFlush time.Time
}

// NewFileSink opens (or creates) the file at path in append mode with a
// buffered writer. Call Close when done.
func NewFileSink(path string) (*FileSink, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, err
	}
	return &FileSink{f: f, w: bufio.NewWriterSize(f, 1<<20 /*1MiB*/), path: path, lastFlush: time.Now()}, nil
}

// Record implements flushctl.AuditSink, converting a flush outcome into an
// Entry and appending it as a JSON line.
func (s *FileSink) Record(region wbfc.RegionID, preSize, postSize uint64, start, end time.Time, err error) {
	e := Entry{
		Region:    uint64(region),
		PreSize:   preSize,
		PostSize:  postSize,
		StartUnix: start.UnixMilli(),
		EndUnix:   end.UnixMilli(),
	}
	if err != nil {
		e.Error = err.Error()
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	enc := json.NewEncoder(s.w)
	if encErr := enc.Encode(&e); encErr != nil {
		// best effort: flush and retry once
		_ = s.w.Flush()
		_ = enc.Encode(&e)
	}
	// Flush periodically to bound data loss on crash.
	if time.Since(s.lastFlush) > 100*time.Millisecond {
		_ = s.w.Flush()
		s.lastFlush = time.Now()
	}
}

// Flush forces buffered data to be written to disk.
func (s *FileSink) Flush() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastFlush = time.Now()
	return s.w.Flush()
}

// Close flushes and closes the underlying file.
func (s *FileSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_ = s.w.Flush()
	return s.f.Close()
}

// ReadAll reads the entire flush-audit log for replay/inspection.
func ReadAll(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	var out []Entry
	scanner := bufio.NewScanner(f)
	buf := make([]byte, 0, 1<<20)
	scanner.Buffer(buf, 1<<26)
	for scanner.Scan() {
		var e Entry
		if err := json.Unmarshal(scanner.Bytes(), &e); err == nil {
			out = append(out, e)
		}
	}
	return out, scanner.Err()
}
