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
	"github.com/fsnotify/fsnotify"
)

// dirWatcher is an optional supplement to the index: when
// Options.WatchDirectory is set, a fsnotify watch on the data directory
// catches shard files written or removed by something other than this
// process (another instance, a manual copy during a field recovery) and
// triggers a full RebuildFromDisk rather than trusting the stale
// in-memory index. An embedded device sharing a data directory across
// processes is a realistic case to watch for.
type dirWatcher struct {
	w    *fsnotify.Watcher
	done chan struct{}
}

func startWatcher(db *DB) *dirWatcher {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		db.logger.Warn().Err(err).Msg("fsnotify unavailable, external change detection disabled")
		return nil
	}
	if err := w.Add(db.opts.Directory); err != nil {
		db.logger.Warn().Err(err).Str("path", db.opts.Directory).Msg("failed to watch data directory")
		w.Close()
		return nil
	}

	dw := &dirWatcher{w: w, done: make(chan struct{})}
	go dw.loop(db)
	return dw
}

func (dw *dirWatcher) loop(db *DB) {
	for {
		select {
		case ev, ok := <-dw.w.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}
			if err := db.index.RebuildFromDisk(); err != nil {
				db.logger.Warn().Err(err).Msg("index rebuild after external change failed")
			} else {
				db.cache.InvalidateAll()
			}
		case err, ok := <-dw.w.Errors:
			if !ok {
				return
			}
			db.logger.Warn().Err(err).Msg("fsnotify watch error")
		case <-dw.done:
			return
		}
	}
}

func (dw *dirWatcher) stop() {
	if dw == nil {
		return
	}
	close(dw.done)
	dw.w.Close()
}
