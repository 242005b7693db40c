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

import "testing"

func TestRouteHourFrame(t *testing.T) {
	ms := int64(1710504000000) // 2024-03-15T12:00:00Z
	b, path := route("data", ms, FrameHour)
	if b.DateKey != "2024_03_15" || b.HourKey != "12" || b.MinuteKey != "" {
		t.Fatalf("unexpected bucket: %+v", b)
	}
	if path != "data/2024_03_15_12.json" {
		t.Fatalf("unexpected path: %s", path)
	}
}

func TestRouteMinuteFrame(t *testing.T) {
	ms := int64(1710504060000) // 2024-03-15T12:01:00Z
	b, path := route("data", ms, FrameMinute)
	if b.MinuteKey != "01" {
		t.Fatalf("unexpected minute key: %q", b.MinuteKey)
	}
	if path != "data/2024_03_15_12_01.json" {
		t.Fatalf("unexpected path: %s", path)
	}
}

func TestRouteMeasurementNotInPath(t *testing.T) {
	_, pathA := route("data", 1710504000000, FrameHour)
	_, pathB := route("data", 1710504000000, FrameHour)
	if pathA != pathB {
		t.Fatalf("path must not depend on measurement: %s vs %s", pathA, pathB)
	}
}

func TestParseShardFileName(t *testing.T) {
	b, ok := parseShardFileName("2024_03_15_12.json")
	if !ok || b.DateKey != "2024_03_15" || b.HourKey != "12" || b.MinuteKey != "" {
		t.Fatalf("unexpected parse of hour-frame name: %+v ok=%v", b, ok)
	}
	b2, ok2 := parseShardFileName("2024_03_15_12_05.json")
	if !ok2 || b2.MinuteKey != "05" {
		t.Fatalf("unexpected parse of minute-frame name: %+v ok=%v", b2, ok2)
	}
	if _, ok3 := parseShardFileName("index.json"); ok3 {
		t.Fatalf("index.json must not parse as a shard name")
	}
}
