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

import "encoding/json"

// readShardFile loads a shard file's points. A NotFound or empty file
// is treated as an empty shard, not an error; a parse failure is
// returned as a KindParseError, which callers log and skip that shard
// on, since one corrupt shard must never poison its neighbors or the
// index.
func readShardFile(fsa FSA, path string) ([]point, error) {
	text, err := fsa.ReadText(path)
	if err != nil {
		if e, ok := err.(*Error); ok && e.Kind == KindNotFound {
			return nil, nil
		}
		return nil, err
	}
	if text == "" {
		return nil, nil
	}
	var pts []point
	if err := json.Unmarshal([]byte(text), &pts); err != nil {
		return nil, newError(KindParseError, path, err)
	}
	return pts, nil
}

// writeShardFile truncate-writes a shard file as a plain JSON array of
// {m,v,t} objects, no trailing metadata.
func writeShardFile(fsa FSA, path string, pts []point) error {
	if pts == nil {
		pts = []point{}
	}
	b, err := json.Marshal(pts)
	if err != nil {
		return newError(KindIoFault, path, err)
	}
	return fsa.WriteTextTruncating(path, string(b))
}
