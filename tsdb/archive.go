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
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/ulikunitz/xz"
)

// writeColdArchive concatenates the points a purge is about to delete
// into one xz-compressed JSON array, named after the purge threshold.
// This is an opt-in supplement to purge's required behavior (the shard
// files are still removed either way); it gives a field operator a
// cheap way to keep a compressed tail of what was dropped.
func writeColdArchive(fsa FSA, archiveDir string, thresholdMs int64, pts []point) error {
	if err := fsa.MkdirIdempotent(archiveDir); err != nil {
		return err
	}
	raw, err := json.Marshal(pts)
	if err != nil {
		return newError(KindIoFault, archiveDir, err)
	}
	var buf bytes.Buffer
	w, err := xz.NewWriter(&buf)
	if err != nil {
		return newError(KindIoFault, archiveDir, err)
	}
	if _, err := w.Write(raw); err != nil {
		w.Close()
		return newError(KindIoFault, archiveDir, err)
	}
	if err := w.Close(); err != nil {
		return newError(KindIoFault, archiveDir, err)
	}
	path := fmt.Sprintf("%s/purged_before_%d.json.xz", archiveDir, thresholdMs)
	return fsa.WriteTextTruncating(path, buf.String())
}
