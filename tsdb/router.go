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
	"time"
)

// Frame selects how finely shards are bucketed.
type Frame int

const (
	FrameHour Frame = iota
	FrameMinute
)

func (f Frame) String() string {
	if f == FrameMinute {
		return "minute"
	}
	return "hour"
}

// bucket identifies one shard's wall-clock slot. MinuteKey is only
// meaningful when Frame == FrameMinute; it is the empty string otherwise.
type bucket struct {
	DateKey   string // YYYY_MM_DD
	HourKey   string // HH
	MinuteKey string // MM, empty for hour frame
}

// route is the pure function mapping (timestamp, frame) to the bucket a
// point belongs to and the shard file path that stores it. Measurement
// is deliberately not part of the path: many measurements share one
// shard, disambiguated by each point's m field.
func route(directory string, timestampMs int64, frame Frame) (bucket, string) {
	t := time.UnixMilli(timestampMs).UTC()
	b := bucket{
		DateKey: fmt.Sprintf("%04d_%02d_%02d", t.Year(), t.Month(), t.Day()),
		HourKey: fmt.Sprintf("%02d", t.Hour()),
	}
	if frame == FrameMinute {
		b.MinuteKey = fmt.Sprintf("%02d", t.Minute())
		return b, fmt.Sprintf("%s/%s_%s_%s.json", directory, b.DateKey, b.HourKey, b.MinuteKey)
	}
	return b, fmt.Sprintf("%s/%s_%s.json", directory, b.DateKey, b.HourKey)
}

// bucketDuration is how far to advance the scan cursor after visiting
// one bucket.
func bucketDuration(frame Frame) time.Duration {
	if frame == FrameMinute {
		return time.Minute
	}
	return time.Hour
}
