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
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// DB is the TSDB facade: lifecycle, options, and the mutating
// operations that each run to completion before the caller resumes -
// this engine offers no suspending API of its own.
type DB struct {
	mu   sync.Mutex
	opts Options
	fsa  FSA

	index *IndexManager
	rb    *ramBuffer
	cache *queryCache

	logger zerolog.Logger

	autosaveTimer *time.Timer
	watcher       *dirWatcher
}

// Open creates the data directory if needed and loads (or recovers) the
// index.
func Open(opts Options) (*DB, error) {
	opts = opts.withDefaults()

	logger := defaultLogger()
	if opts.Logger != nil {
		logger = *opts.Logger
	}

	fsa := FSA{}
	if err := fsa.MkdirIdempotent(opts.Directory); err != nil {
		return nil, err
	}

	index := newIndexManager(opts.Directory, opts.Frame, fsa, logger)
	if err := index.LoadOrRecover(); err != nil {
		return nil, err
	}

	db := &DB{
		opts:   opts,
		fsa:    fsa,
		index:  index,
		rb:     newRAMBuffer(opts.RAMCeilingBytes, fsa, index, logger),
		cache:  newQueryCache(),
		logger: logger,
	}

	if opts.WatchDirectory {
		db.watcher = startWatcher(db)
	}

	return db, nil
}

// WritePoint routes, buffers, and (if the buffer overflows its
// ceiling) flushes a single sample. timestampMs defaults to "now" when
// omitted.
func (db *DB) WritePoint(measurement string, value float64, timestampMs ...int64) {
	db.mu.Lock()
	defer db.mu.Unlock()

	ts := time.Now().UnixMilli()
	if len(timestampMs) > 0 {
		ts = timestampMs[0]
	}

	_, path := route(db.opts.Directory, ts, db.opts.Frame)
	overflow := db.rb.Append(path, point{M: measurement, V: value, T: ts})
	db.armAutosaveLocked()
	if overflow {
		if err := db.flushLocked(); err != nil {
			db.logger.Error().Err(err).Msg("flush on RAM buffer overflow failed")
		}
	}
}

func (db *DB) armAutosaveLocked() {
	if db.autosaveTimer == nil {
		db.autosaveTimer = time.AfterFunc(db.opts.AutosaveInterval, db.autosaveFire)
		return
	}
	db.autosaveTimer.Reset(db.opts.AutosaveInterval)
}

func (db *DB) autosaveFire() {
	db.mu.Lock()
	defer db.mu.Unlock()
	if err := db.flushLocked(); err != nil {
		db.logger.Error().Err(err).Msg("autosave flush failed")
	}
}

// Flush writes every buffered shard to disk and differentially
// persists the index. Idempotent when nothing is dirty.
func (db *DB) Flush() error {
	db.mu.Lock()
	defer db.mu.Unlock()
	return db.flushLocked()
}

func (db *DB) flushLocked() error {
	wasCleared := db.rb.Cleared()
	if err := db.rb.Flush(); err != nil {
		return err
	}
	db.cache.InvalidateAll()
	if wasCleared {
		return db.index.Persist()
	}
	return db.index.PersistIfChanged()
}

// dateKeyToMs parses a "YYYY_MM_DD" index date key into the UTC
// millisecond timestamp of that date's midnight.
func dateKeyToMs(dateKey string) (int64, bool) {
	t, err := time.Parse("2006_01_02", dateKey)
	if err != nil {
		return 0, false
	}
	return t.UTC().UnixMilli(), true
}

func (db *DB) shardPathsForDate(dateKey string) []string {
	var paths []string
	for _, h := range db.index.HourKeysForDate(dateKey) {
		if db.opts.Frame == FrameMinute {
			for _, m := range db.index.MinuteKeysFor(dateKey, h) {
				paths = append(paths, fmt.Sprintf("%s/%s_%s_%s.json", db.opts.Directory, dateKey, h, m))
			}
		} else {
			paths = append(paths, fmt.Sprintf("%s/%s_%s.json", db.opts.Directory, dateKey, h))
		}
	}
	return paths
}

// Purge removes every shard whose date is strictly older than
// olderThanMs, drops the date from the index, and persists the index
// once if anything was dropped. When Options.ArchiveDir is set, each
// shard's points are read just before that shard is removed, and the
// concatenated points are written as one xz-compressed cold-archive file
// after all expired shards have been removed; a failed archive write is
// logged and does not bring the removed shards back.
func (db *DB) Purge(olderThanMs int64) error {
	db.mu.Lock()
	defer db.mu.Unlock()

	var archived []point
	dropped := false

	for _, dateKey := range db.index.IterDateKeys() {
		dms, ok := dateKeyToMs(dateKey)
		if !ok || dms >= olderThanMs {
			continue
		}
		for _, path := range db.shardPathsForDate(dateKey) {
			if db.opts.ArchiveDir != "" {
				if pts, err := readShardFile(db.fsa, path); err == nil {
					archived = append(archived, pts...)
				}
			}
			if err := db.fsa.Remove(path); err != nil {
				if e, ok := err.(*Error); !ok || e.Kind != KindNotFound {
					db.logger.Warn().Err(err).Str("path", path).Msg("failed to remove shard during purge")
				}
			}
		}
		db.index.DropDate(dateKey)
		dropped = true
	}

	if !dropped {
		return nil
	}

	db.cache.InvalidateAll()
	if db.opts.ArchiveDir != "" && len(archived) > 0 {
		if err := writeColdArchive(db.fsa, db.opts.ArchiveDir, olderThanMs, archived); err != nil {
			db.logger.Error().Err(err).Msg("failed to write cold archive on purge")
		}
	}
	return db.index.Persist()
}

// Clear requires the literal consent string "YES"; any other value is a
// no-op with a logged warning (InvalidConsent). On success it removes
// every file in the data directory, resets the RAM buffer, index, and
// query cache, and marks the dbcleared sentinel so the next flush is a
// no-op write.
func (db *DB) Clear(consent string) error {
	if consent != "YES" {
		db.logger.Warn().Msg("clear called without consent \"YES\", ignoring")
		return ErrInvalidConsent
	}

	db.mu.Lock()
	defer db.mu.Unlock()

	if db.autosaveTimer != nil {
		db.autosaveTimer.Stop()
	}

	names, err := db.fsa.List(db.opts.Directory)
	if err == nil {
		for _, n := range names {
			db.fsa.Remove(db.opts.Directory + "/" + n)
		}
	}

	db.index.Clear()
	db.rb.MarkCleared()
	db.cache.InvalidateAll()
	return nil
}

// Close flushes pending writes (if any), cancels the autosave timer and
// watcher, and differentially persists the index.
func (db *DB) Close() error {
	db.mu.Lock()
	defer db.mu.Unlock()

	if db.autosaveTimer != nil {
		db.autosaveTimer.Stop()
	}
	if db.watcher != nil {
		db.watcher.stop()
	}

	if db.rb.Dirty() || db.rb.Cleared() {
		if err := db.flushLocked(); err != nil {
			return err
		}
	}
	return db.index.PersistIfChanged()
}
