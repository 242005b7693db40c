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
	"os"
	"path/filepath"
	"testing"
)

func newTestIndexManager(t *testing.T, frame Frame) (*IndexManager, string) {
	t.Helper()
	dir := t.TempDir()
	return newIndexManager(dir, frame, FSA{}, defaultLogger()), dir
}

func TestIndexManagerMarkAndContains(t *testing.T) {
	im, _ := newTestIndexManager(t, FrameHour)
	b := bucket{DateKey: "2024_03_15", HourKey: "12"}
	if im.Contains(b) {
		t.Fatalf("bucket must be absent before MarkPresent")
	}
	im.MarkPresent(b)
	if !im.Contains(b) {
		t.Fatalf("bucket must be present after MarkPresent")
	}
}

func TestIndexManagerMinuteFrameIsolatesLeafShape(t *testing.T) {
	im, _ := newTestIndexManager(t, FrameMinute)
	b := bucket{DateKey: "2024_03_15", HourKey: "12", MinuteKey: "05"}
	im.MarkPresent(b)
	if !im.Contains(b) {
		t.Fatalf("minute bucket must be present")
	}
	other := bucket{DateKey: "2024_03_15", HourKey: "12", MinuteKey: "06"}
	if im.Contains(other) {
		t.Fatalf("unrelated minute must not be present")
	}
}

func TestIndexManagerPersistAndLoadOrRecoverRoundTrip(t *testing.T) {
	im, dir := newTestIndexManager(t, FrameHour)
	im.MarkPresent(bucket{DateKey: "2024_03_15", HourKey: "10"})
	im.MarkPresent(bucket{DateKey: "2024_03_15", HourKey: "11"})
	if err := im.Persist(); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	reloaded := newIndexManager(dir, FrameHour, FSA{}, defaultLogger())
	if err := reloaded.LoadOrRecover(); err != nil {
		t.Fatalf("load_or_recover failed: %v", err)
	}
	if !reloaded.Contains(bucket{DateKey: "2024_03_15", HourKey: "10"}) {
		t.Fatalf("reloaded index missing expected bucket")
	}
}

func TestIndexManagerRecoversFromCorruptPrimary(t *testing.T) {
	im, dir := newTestIndexManager(t, FrameHour)
	im.MarkPresent(bucket{DateKey: "2024_03_15", HourKey: "09"})
	if err := im.Persist(); err != nil {
		t.Fatalf("persist failed: %v", err)
	}

	primary := primaryIndexPath(dir)
	f, err := os.OpenFile(primary, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		t.Fatalf("open primary for corruption failed: %v", err)
	}
	if _, err := f.WriteString("corruption!"); err != nil {
		t.Fatalf("corrupt write failed: %v", err)
	}
	f.Close()

	reloaded := newIndexManager(dir, FrameHour, FSA{}, defaultLogger())
	if err := reloaded.LoadOrRecover(); err != nil {
		t.Fatalf("load_or_recover after corruption failed: %v", err)
	}
	if !reloaded.Contains(bucket{DateKey: "2024_03_15", HourKey: "09"}) {
		t.Fatalf("expected recovery from backup envelope")
	}
}

func TestIndexManagerRebuildFromDisk(t *testing.T) {
	dir := t.TempDir()
	fsa := FSA{}
	names := []string{"2024_03_15_09.json", "2024_03_15_10.json", "index.json", "index_backup.json"}
	for _, n := range names {
		if err := os.WriteFile(filepath.Join(dir, n), []byte("[]"), 0644); err != nil {
			t.Fatalf("seed file failed: %v", err)
		}
	}
	im := newIndexManager(dir, FrameHour, fsa, defaultLogger())
	if err := im.RebuildFromDisk(); err != nil {
		t.Fatalf("rebuild failed: %v", err)
	}
	if !im.Contains(bucket{DateKey: "2024_03_15", HourKey: "09"}) {
		t.Fatalf("expected bucket from 09 shard file after rebuild")
	}
	if !im.Contains(bucket{DateKey: "2024_03_15", HourKey: "10"}) {
		t.Fatalf("expected bucket from 10 shard file after rebuild")
	}
}

func TestIndexManagerDropDate(t *testing.T) {
	im, _ := newTestIndexManager(t, FrameHour)
	b := bucket{DateKey: "2024_03_15", HourKey: "12"}
	im.MarkPresent(b)
	im.DropDate(b.DateKey)
	if im.Contains(b) {
		t.Fatalf("expected bucket gone after DropDate")
	}
}
