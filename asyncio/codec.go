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
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"time"
)

// reservedTokens collide with the meta record's own well-known keys; a
// field whose name matches one of these is relocated under the "_u"
// escape sub-map instead of being written as a top-level meta key.
var reservedTokens = map[string]bool{
	"type": true, "__arrays": true, "data": true, "meta": true,
	"T": true, "A": true, "D": true, "M": true,
}

const escapeKey = "_u"

// Field is one top-level member of an encoded object: either a scalar
// value or a named, ordered array of values. Order of Fields is the
// order fields are written and, for array fields, the order their
// items are read back.
type Field struct {
	Name    string
	IsArray bool
	Scalar  any
	Array   []any
}

// Object is the logical payload the codec round-trips: an ordered set
// of scalar and array fields.
type Object struct {
	Fields []Field
}

func (o Object) scalarFields() []Field {
	var out []Field
	for _, f := range o.Fields {
		if !f.IsArray {
			out = append(out, f)
		}
	}
	return out
}

func (o Object) arrayFields() []Field {
	var out []Field
	for _, f := range o.Fields {
		if f.IsArray {
			out = append(out, f)
		}
	}
	return out
}

// buildMetaLine assembles the meta record: "type":"meta", "__arrays"
// listing array field names, one entry per scalar field (its value) or
// array field (its length), with reserved-name collisions relocated
// under "_u".
func buildMetaLine(o Object) ([]byte, error) {
	meta := map[string]any{"T": "meta"}
	arrayNames := make([]string, 0, len(o.arrayFields()))
	for _, f := range o.arrayFields() {
		arrayNames = append(arrayNames, f.Name)
	}
	meta["A"] = arrayNames

	escaped := map[string]any{}
	assign := func(name string, value any) {
		if reservedTokens[name] {
			escaped[name] = value
			return
		}
		meta[name] = value
	}
	for _, f := range o.scalarFields() {
		assign(f.Name, f.Scalar)
	}
	for _, f := range o.arrayFields() {
		assign(f.Name, len(f.Array))
	}
	if len(escaped) > 0 {
		meta[escapeKey] = escaped
	}
	return json.Marshal(meta)
}

func buildItemLine(fieldName string, elem any) ([]byte, error) {
	return json.Marshal(map[string]any{"T": fieldName, "D": elem})
}

// Marshal renders obj as the full line-delimited byte form in one
// pass: a meta line followed by one item line per array element, in
// field order then element order. This is the form Decode expects as
// the non-legacy case.
func Marshal(o Object) ([]byte, error) {
	var buf bytes.Buffer
	metaLine, err := buildMetaLine(o)
	if err != nil {
		return nil, err
	}
	buf.Write(metaLine)
	buf.WriteByte('\n')
	for _, f := range o.arrayFields() {
		for _, elem := range f.Array {
			itemLine, err := buildItemLine(f.Name, elem)
			if err != nil {
				return nil, err
			}
			buf.Write(itemLine)
			buf.WriteByte('\n')
		}
	}
	return buf.Bytes(), nil
}

// Decode accepts either the line-delimited form or a legacy
// single-object JSON blob, distinguishing by peeking at the first
// non-empty line's decoded "type" field.
func Decode(data []byte) (Object, error) {
	firstLine, isLineDelimited := peekMeta(data)
	if !isLineDelimited {
		return decodeLegacy(data)
	}
	return decodeLineDelimited(data, firstLine)
}

func peekMeta(data []byte) (firstLine []byte, ok bool) {
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var probe struct {
			Type string `json:"T"`
		}
		if json.Unmarshal(line, &probe) == nil && probe.Type == "meta" {
			return append([]byte{}, line...), true
		}
		return nil, false
	}
	return nil, false
}

func decodeLineDelimited(data, metaLine []byte) (Object, error) {
	var meta map[string]any
	if err := json.Unmarshal(metaLine, &meta); err != nil {
		return Object{}, fmt.Errorf("asyncio: malformed meta record: %w", err)
	}

	var arrayNames []string
	if raw, ok := meta["A"]; ok {
		for _, v := range raw.([]any) {
			arrayNames = append(arrayNames, v.(string))
		}
	}
	arraySet := make(map[string]bool, len(arrayNames))
	for _, n := range arrayNames {
		arraySet[n] = true
	}

	escaped, _ := meta[escapeKey].(map[string]any)

	obj := Object{}
	seen := make(map[string]bool)
	for key, value := range meta {
		if key == "T" || key == "A" || key == escapeKey {
			continue
		}
		if arraySet[key] {
			continue // length placeholder; the real content comes from item records
		}
		obj.Fields = append(obj.Fields, Field{Name: key, Scalar: value})
		seen[key] = true
	}
	for key, value := range escaped {
		if seen[key] {
			continue
		}
		if arraySet[key] {
			continue
		}
		obj.Fields = append(obj.Fields, Field{Name: key, Scalar: value})
	}

	arrays := make(map[string][]any, len(arrayNames))
	order := make([]string, 0, len(arrayNames))
	for _, n := range arrayNames {
		arrays[n] = []any{}
		order = append(order, n)
	}

	scanner := bufio.NewScanner(bytes.NewReader(data))
	scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	skippedMeta := false
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		if !skippedMeta {
			skippedMeta = true
			continue
		}
		var item struct {
			T string `json:"T"`
			D any    `json:"D"`
		}
		if err := json.Unmarshal(line, &item); err != nil {
			return Object{}, fmt.Errorf("asyncio: malformed item record: %w", err)
		}
		arrays[item.T] = append(arrays[item.T], item.D)
	}

	for _, name := range order {
		obj.Fields = append(obj.Fields, Field{Name: name, IsArray: true, Array: arrays[name]})
	}
	return obj, nil
}

// decodeLegacy parses the save-and-quit fallback form: one plain JSON
// object whose values are either scalars or arrays.
func decodeLegacy(data []byte) (Object, error) {
	var raw map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		return Object{}, fmt.Errorf("asyncio: legacy blob is not valid JSON: %w", err)
	}
	obj := Object{}
	for name, v := range raw {
		if arr, ok := v.([]any); ok {
			obj.Fields = append(obj.Fields, Field{Name: name, IsArray: true, Array: arr})
			continue
		}
		obj.Fields = append(obj.Fields, Field{Name: name, Scalar: v})
	}
	return obj, nil
}

// --- cooperative, streaming encode ---

// writeBufferThreshold is the ~512-byte write-buffer threshold the
// encoder flushes at, per the streaming contract.
const writeBufferThreshold = 512

type encodeStage int

const (
	stageMeta encodeStage = iota
	stageItems
	stageClosing
	stageDone
)

// encodeJob is the explicit state machine the design notes call for in
// place of a nested closure pump: {WritingMeta, WritingItems{field,
// elem, buffer}, Closing}. One Step call advances it until either the
// file is complete or the slice deadline passes, writing the buffer out
// to the file each time it reaches writeBufferThreshold.
type encodeJob struct {
	obj   Object
	file  *os.File
	buf   bytes.Buffer
	stage encodeStage

	fieldIdx int
	elemIdx  int
	arrays   []Field
}

func newEncodeJob(path string, obj Object) (*encodeJob, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, err
	}
	return &encodeJob{obj: obj, file: f, stage: stageMeta, arrays: obj.arrayFields()}, nil
}

func (e *encodeJob) flushBuffer() error {
	if e.buf.Len() == 0 {
		return nil
	}
	_, err := e.file.Write(e.buf.Bytes())
	e.buf.Reset()
	return err
}

// step advances the state machine; it returns done=true once the file
// has been fully written and closed (on every exit path, including
// error ones).
func (e *encodeJob) step(deadline time.Time) (done bool, err error) {
	defer func() {
		if done {
			closeErr := e.file.Close()
			if err == nil {
				err = closeErr
			}
		}
	}()

	for {
		if time.Now().After(deadline) {
			return false, nil
		}
		if e.buf.Len() >= writeBufferThreshold {
			if err := e.flushBuffer(); err != nil {
				return true, err
			}
		}

		switch e.stage {
		case stageMeta:
			line, err := buildMetaLine(e.obj)
			if err != nil {
				return true, err
			}
			e.buf.Write(line)
			e.buf.WriteByte('\n')
			e.stage = stageItems

		case stageItems:
			if e.fieldIdx >= len(e.arrays) {
				e.stage = stageClosing
				continue
			}
			field := e.arrays[e.fieldIdx]
			if e.elemIdx >= len(field.Array) {
				e.fieldIdx++
				e.elemIdx = 0
				continue
			}
			line, err := buildItemLine(field.Name, field.Array[e.elemIdx])
			if err != nil {
				return true, err
			}
			e.buf.Write(line)
			e.buf.WriteByte('\n')
			e.elemIdx++

		case stageClosing:
			if err := e.flushBuffer(); err != nil {
				return true, err
			}
			e.stage = stageDone
			return true, nil

		case stageDone:
			return true, nil
		}
	}
}

// EncodeAsync streams obj to path through the cooperative job queue,
// yielding after every sliceBudget of work and writing to the file in
// chunks of about writeBufferThreshold bytes, and calls onComplete once
// the file is closed.
func EncodeAsync(q *Queue, path string, obj Object, onComplete func(error)) {
	job, err := newEncodeJob(path, obj)
	if err != nil {
		if onComplete != nil {
			onComplete(err)
		}
		return
	}
	q.Enqueue(Job{Step: job.step, OnComplete: onComplete})
}

// DecodeFile reads path synchronously and decodes it via Decode. The
// decode side has no file-size-driven state machine in the source
// either; it is the encode side that must stream to avoid holding a
// huge object in memory while writing it.
func DecodeFile(path string) (Object, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Object{}, err
	}
	return Decode(data)
}

// FieldByName is a small convenience used by tests and callers that
// know the expected shape of an Object.
func (o Object) FieldByName(name string) (Field, bool) {
	for _, f := range o.Fields {
		if f.Name == name {
			return f, true
		}
	}
	return Field{}, false
}
