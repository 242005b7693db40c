/*
Copyright (C) 2023  Carl-Philip Hänsch

    This program is free software: you can redistribute it and/or modify
    it under the terms of the GNU General Public License as published by
    the Free Software Foundation, either version 3 of the License, or
    (at your option) any later version.

    This program is distributed in the hope that it will be useful,
    but WITHOUT ANY WARRANTY; without even the implied warranty of
    MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
    GNU General Public License for more details.

    You should have received a copy of the GNU General Public License
    along with this program.  If not, see <https://www.gnu.org/licenses/>.
*/
package tsdb

import (
	"sync"

	"github.com/rs/zerolog"
)

// ramBuffer is the per-shard accumulator of freshly written points. Every
// point accepted by writePoint lives here until a flush moves it to its
// shard file; it is never dropped silently, even on a write fault (it
// simply stays buffered and is retried on the next flush attempt).
type ramBuffer struct {
	mu       sync.Mutex
	pending  map[string][]point // shard path -> points awaiting flush, insertion order preserved
	size     int                // running 1-byte-per-char estimate of serialized size
	dirty    bool
	cleared  bool // dbcleared sentinel: next flush is a no-op write
	ceiling  int
	fsa      FSA
	index    *IndexManager
	logger   zerolog.Logger
}

func newRAMBuffer(ceiling int, fsa FSA, index *IndexManager, logger zerolog.Logger) *ramBuffer {
	return &ramBuffer{
		pending: make(map[string][]point),
		ceiling: ceiling,
		fsa:     fsa,
		index:   index,
		logger:  logger,
	}
}

// estimatedPointSize returns a 1-byte-per-character approximation of
// one point's serialized size: a crude estimator, summed into
// ramBuffer.size instead of an exact marshal-and-measure.
func estimatedPointSize(p point) int {
	// `{"m":"","v":0,"t":0}` shape: a fixed-ish overhead plus the
	// measurement name's length and a conservative guess for the
	// numeric fields.
	return len(p.M) + 40
}

// Append records a point for the given shard bucket and reports whether
// the buffer's estimated size now exceeds its configured ceiling (the
// caller is responsible for calling Flush when true).
func (rb *ramBuffer) Append(path string, p point) bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.pending[path] = append(rb.pending[path], p)
	rb.size += estimatedPointSize(p)
	rb.dirty = true
	rb.cleared = false
	return rb.size > rb.ceiling
}

// Dirty reports whether any point is buffered or was buffered since the
// last flush.
func (rb *ramBuffer) Dirty() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.dirty
}

// Cleared reports whether the dbcleared sentinel is armed, i.e. the
// next Flush would be a no-op write.
func (rb *ramBuffer) Cleared() bool {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	return rb.cleared
}

// MarkCleared sets the dbcleared sentinel: the next Flush is a no-op
// write, but the facade still forces an index persist afterward.
func (rb *ramBuffer) MarkCleared() {
	rb.mu.Lock()
	defer rb.mu.Unlock()
	rb.pending = make(map[string][]point)
	rb.size = 0
	rb.dirty = false
	rb.cleared = true
}

// Flush writes every buffered shard's points to disk, old-then-new,
// preserving insertion order, then clears the buffer and the dirty
// flag. Each shard file is rewritten with a single truncating write, so
// a reader never observes a partially-concatenated shard.
func (rb *ramBuffer) Flush() error {
	rb.mu.Lock()
	if rb.cleared {
		rb.cleared = false
		rb.mu.Unlock()
		return nil
	}
	pending := rb.pending
	rb.pending = make(map[string][]point)
	rb.size = 0
	rb.dirty = false
	rb.mu.Unlock()

	for path, newPoints := range pending {
		existing, err := readShardFile(rb.fsa, path)
		if err != nil {
			rb.logger.Warn().Err(err).Str("path", path).Msg("skipping corrupt shard on flush, buffered points kept for retry")
			// Put the points back so they are not lost.
			rb.mu.Lock()
			rb.pending[path] = append(append([]point{}, newPoints...), rb.pending[path]...)
			rb.dirty = true
			rb.mu.Unlock()
			continue
		}
		union := make([]point, 0, len(existing)+len(newPoints))
		union = append(union, existing...)
		union = append(union, newPoints...)
		if err := writeShardFile(rb.fsa, path, union); err != nil {
			rb.logger.Error().Err(err).Str("path", path).Msg("failed to write shard, buffered points kept for retry")
			rb.mu.Lock()
			rb.pending[path] = append(append([]point{}, newPoints...), rb.pending[path]...)
			rb.dirty = true
			rb.mu.Unlock()
			continue
		}
		if b, ok := parseShardFileName(baseName(path)); ok {
			rb.index.MarkPresent(b)
		}
	}
	return nil
}

func baseName(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[i+1:]
		}
	}
	return path
}
