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
package asyncio

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestMarshalDecodeRoundTrip(t *testing.T) {
	obj := Object{Fields: []Field{
		{Name: "name", Scalar: "station-1"},
		{Name: "readings", IsArray: true, Array: []any{1.0, 2.0, 3.0}},
	}}

	raw, err := Marshal(obj)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}

	name, ok := got.FieldByName("name")
	if !ok || name.Scalar != "station-1" {
		t.Fatalf("expected scalar field round trip, got %+v", name)
	}
	readings, ok := got.FieldByName("readings")
	if !ok || len(readings.Array) != 3 {
		t.Fatalf("expected array field round trip, got %+v", readings)
	}
	if readings.Array[0] != 1.0 || readings.Array[2] != 3.0 {
		t.Fatalf("expected array order preserved, got %v", readings.Array)
	}
}

func TestDecodeAcceptsLegacySingleObjectForm(t *testing.T) {
	legacy := []byte(`{"name":"station-2","readings":[4,5]}`)
	obj, err := Decode(legacy)
	if err != nil {
		t.Fatalf("legacy decode failed: %v", err)
	}
	readings, ok := obj.FieldByName("readings")
	if !ok || len(readings.Array) != 2 {
		t.Fatalf("expected legacy array field, got %+v", readings)
	}
}

func TestReservedNameCollisionRoundTripsThroughEscape(t *testing.T) {
	obj := Object{Fields: []Field{
		{Name: "type", Scalar: "not-actually-meta"},
		{Name: "items", IsArray: true, Array: []any{"a", "b"}},
	}}
	raw, err := Marshal(obj)
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}
	got, err := Decode(raw)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	f, ok := got.FieldByName("type")
	if !ok || f.Scalar != "not-actually-meta" {
		t.Fatalf("expected the colliding field to survive via the escape map, got %+v ok=%v", f, ok)
	}
}

func TestEncodeAsyncWritesFileDecodableBack(t *testing.T) {
	q := New(zerolog.Nop())
	defer q.Close()

	dir := t.TempDir()
	path := filepath.Join(dir, "blob.jsonl")

	arr := make([]any, 200)
	for i := range arr {
		arr[i] = i
	}
	obj := Object{Fields: []Field{
		{Name: "sensor", Scalar: "s1"},
		{Name: "values", IsArray: true, Array: arr},
	}}

	done := make(chan error, 1)
	EncodeAsync(q, path, obj, func(err error) { done <- err })

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("encode failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("async encode never completed")
	}

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("expected output file to exist: %v", err)
	}

	got, err := DecodeFile(path)
	if err != nil {
		t.Fatalf("decode of streamed file failed: %v", err)
	}
	values, ok := got.FieldByName("values")
	if !ok || len(values.Array) != 200 {
		t.Fatalf("expected 200 decoded items, got %d", len(values.Array))
	}
}
