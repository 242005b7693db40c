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

// point is the on-disk record shape: compact single-letter field names
// so a shard of a few thousand samples stays small on flash.
type point struct {
	M string  `json:"m"`
	V float64 `json:"v"`
	T int64   `json:"t"`
}

// Point is the read-only alias view over a point exposed to callers and
// to the custom reducer. Both the compact and the long field names read
// the same underlying record; only point (on disk) is ever written.
type Point struct {
	p point
}

func newPointView(p point) Point { return Point{p} }

func (pt Point) Measurement() string { return pt.p.M }
func (pt Point) Value() float64      { return pt.p.V }
func (pt Point) Timestamp() int64    { return pt.p.T }

// Short-name aliases matching the compact on-disk field names, kept
// alongside the long accessors above so callers find both spellings.
func (pt Point) M() string { return pt.p.M }
func (pt Point) V() float64 { return pt.p.V }
func (pt Point) T() int64   { return pt.p.T }

func pointsToView(ps []point) []Point {
	out := make([]Point, len(ps))
	for i, p := range ps {
		out[i] = newPointView(p)
	}
	return out
}
