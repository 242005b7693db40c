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
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/google/btree"
	"github.com/rs/zerolog"
)

// hourLeaf is the per-hour entry in the index. Its shape depends on the
// configured Frame: HourPresent for hour-frame databases, MinuteMap for
// minute-frame ones. The two are distinct types so a hour-frame index
// can never accidentally acquire minute children, and vice versa.
type hourLeaf interface {
	isHourLeaf()
}

// HourPresent marks that the hour's shard file exists (hour frame).
type HourPresent struct{}

func (HourPresent) isHourLeaf() {}

// MinuteMap marks which minutes within the hour have a shard file
// (minute frame).
type MinuteMap struct {
	Minutes map[string]struct{}
}

func (*MinuteMap) isHourLeaf() {}

type dateEntry struct {
	hours map[string]hourLeaf
}

// IndexManager maintains the in-memory directory tree of which shard
// buckets exist on disk, and persists it as a checksummed envelope with
// a backup copy.
type IndexManager struct {
	mu        sync.Mutex
	directory string
	frame     Frame
	fsa       FSA
	logger    zerolog.Logger

	dates map[string]*dateEntry
	order *btree.BTreeG[string] // sorted date keys, backing fast range iteration

	lastPersistedChecksum uint32
	everPersisted         bool
}

func newIndexManager(directory string, frame Frame, fsa FSA, logger zerolog.Logger) *IndexManager {
	return &IndexManager{
		directory: directory,
		frame:     frame,
		fsa:       fsa,
		dates:     make(map[string]*dateEntry),
		order:     btree.NewG(32, func(a, b string) bool { return a < b }),
		logger:    logger,
	}
}

// MarkPresent records that the shard file for the given bucket now
// exists.
func (im *IndexManager) MarkPresent(b bucket) {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.markPresentLocked(b)
}

func (im *IndexManager) markPresentLocked(b bucket) {
	de, ok := im.dates[b.DateKey]
	if !ok {
		de = &dateEntry{hours: make(map[string]hourLeaf)}
		im.dates[b.DateKey] = de
		im.order.ReplaceOrInsert(b.DateKey)
	}
	if im.frame == FrameMinute {
		leaf, ok := de.hours[b.HourKey].(*MinuteMap)
		if !ok || leaf == nil {
			leaf = &MinuteMap{Minutes: make(map[string]struct{})}
			de.hours[b.HourKey] = leaf
		}
		leaf.Minutes[b.MinuteKey] = struct{}{}
	} else {
		de.hours[b.HourKey] = HourPresent{}
	}
}

// DropDate removes an entire date's sub-tree from the index (used by
// purge/clear).
func (im *IndexManager) DropDate(dateKey string) {
	im.mu.Lock()
	defer im.mu.Unlock()
	if _, ok := im.dates[dateKey]; ok {
		delete(im.dates, dateKey)
		im.order.Delete(dateKey)
	}
}

// Contains reports whether the given bucket is marked present.
func (im *IndexManager) Contains(b bucket) bool {
	im.mu.Lock()
	defer im.mu.Unlock()
	de, ok := im.dates[b.DateKey]
	if !ok {
		return false
	}
	leaf, ok := de.hours[b.HourKey]
	if !ok {
		return false
	}
	if im.frame == FrameMinute {
		mm, ok := leaf.(*MinuteMap)
		if !ok {
			return false
		}
		_, ok = mm.Minutes[b.MinuteKey]
		return ok
	}
	_, ok = leaf.(HourPresent)
	return ok
}

// IterDateKeys returns every date key currently tracked, in ascending
// order.
func (im *IndexManager) IterDateKeys() []string {
	im.mu.Lock()
	defer im.mu.Unlock()
	out := make([]string, 0, im.order.Len())
	im.order.Ascend(func(k string) bool {
		out = append(out, k)
		return true
	})
	return out
}

// HourKeysForDate returns the hour keys tracked for a date, sorted.
func (im *IndexManager) HourKeysForDate(dateKey string) []string {
	im.mu.Lock()
	defer im.mu.Unlock()
	de, ok := im.dates[dateKey]
	if !ok {
		return nil
	}
	out := make([]string, 0, len(de.hours))
	for h := range de.hours {
		out = append(out, h)
	}
	sort.Strings(out)
	return out
}

// MinuteKeysFor returns the minute keys tracked for a date+hour under
// minute frame; nil under hour frame or if absent.
func (im *IndexManager) MinuteKeysFor(dateKey, hourKey string) []string {
	im.mu.Lock()
	defer im.mu.Unlock()
	de, ok := im.dates[dateKey]
	if !ok {
		return nil
	}
	mm, ok := de.hours[hourKey].(*MinuteMap)
	if !ok {
		return nil
	}
	out := make([]string, 0, len(mm.Minutes))
	for m := range mm.Minutes {
		out = append(out, m)
	}
	sort.Strings(out)
	return out
}

func (im *IndexManager) clearLocked() {
	im.dates = make(map[string]*dateEntry)
	im.order = btree.NewG(32, func(a, b string) bool { return a < b })
}

// Clear empties the index in memory (disk state is the caller's job).
func (im *IndexManager) Clear() {
	im.mu.Lock()
	defer im.mu.Unlock()
	im.clearLocked()
}

// --- serialization / checksum envelope ---

type serializedHour struct {
	Present bool     `json:"present,omitempty"`
	Minutes []string `json:"minutes,omitempty"`
}

type serializedDate struct {
	Hours map[string]serializedHour `json:"hours"`
}

type serializedIndex struct {
	Frame string                    `json:"frame"`
	Dates map[string]serializedDate `json:"dates"`
}

func (im *IndexManager) serializeLocked() serializedIndex {
	si := serializedIndex{Frame: im.frame.String(), Dates: make(map[string]serializedDate, len(im.dates))}
	for dateKey, de := range im.dates {
		sd := serializedDate{Hours: make(map[string]serializedHour, len(de.hours))}
		for hourKey, leaf := range de.hours {
			switch l := leaf.(type) {
			case HourPresent:
				sd.Hours[hourKey] = serializedHour{Present: true}
			case *MinuteMap:
				minutes := make([]string, 0, len(l.Minutes))
				for m := range l.Minutes {
					minutes = append(minutes, m)
				}
				sort.Strings(minutes)
				sd.Hours[hourKey] = serializedHour{Minutes: minutes}
			}
		}
		si.Dates[dateKey] = sd
	}
	return si
}

func (im *IndexManager) adoptLocked(si serializedIndex) {
	im.clearLocked()
	frame := FrameHour
	if si.Frame == "minute" {
		frame = FrameMinute
	}
	im.frame = frame
	for dateKey, sd := range si.Dates {
		for hourKey, sh := range sd.Hours {
			if sh.Present {
				im.markPresentLocked(bucket{DateKey: dateKey, HourKey: hourKey})
				continue
			}
			for _, m := range sh.Minutes {
				im.markPresentLocked(bucket{DateKey: dateKey, HourKey: hourKey, MinuteKey: m})
			}
		}
	}
}

// checksum16 computes a weak corruption probe: the modular sum of byte
// values mod 65535. It is a probe, not an authenticator - it will not
// catch reordering of equal-multiset bytes.
func checksum16(payload []byte) uint32 {
	var sum uint32
	for _, b := range payload {
		sum += uint32(b)
	}
	return sum % 65535
}

type envelope struct {
	IndexData     string `json:"index_data"`
	IndexChecksum string `json:"index_checksum"`
}

func (im *IndexManager) envelopeLocked() (envelope, uint32) {
	si := im.serializeLocked()
	payload, _ := json.Marshal(si)
	sum := checksum16(payload)
	return envelope{IndexData: string(payload), IndexChecksum: strconv.FormatUint(uint64(sum), 10)}, sum
}

func primaryIndexPath(directory string) string { return directory + "/index.json" }
func backupIndexPath(directory string) string  { return directory + "/index_backup.json" }

// Persist writes both envelope copies, primary then backup, regardless
// of whether the checksum changed.
func (im *IndexManager) Persist() error {
	im.mu.Lock()
	env, sum := im.envelopeLocked()
	im.mu.Unlock()
	return im.writeEnvelopes(env, sum)
}

// PersistIfChanged only rewrites the envelopes when the live checksum
// differs from the last one written - the differential-persist the
// facade uses on routine lifecycle moments.
func (im *IndexManager) PersistIfChanged() error {
	im.mu.Lock()
	env, sum := im.envelopeLocked()
	unchanged := im.everPersisted && sum == im.lastPersistedChecksum
	im.mu.Unlock()
	if unchanged {
		return nil
	}
	return im.writeEnvelopes(env, sum)
}

func (im *IndexManager) writeEnvelopes(env envelope, sum uint32) error {
	b, err := json.Marshal(env)
	if err != nil {
		return newError(KindIoFault, primaryIndexPath(im.directory), err)
	}
	fsa := im.fsa
	if err := fsa.WriteTextTruncating(primaryIndexPath(im.directory), string(b)); err != nil {
		im.logger.Error().Err(err).Str("path", primaryIndexPath(im.directory)).Msg("failed to persist primary index envelope")
		return err
	}
	if err := fsa.WriteTextTruncating(backupIndexPath(im.directory), string(b)); err != nil {
		im.logger.Error().Err(err).Str("path", backupIndexPath(im.directory)).Msg("failed to persist backup index envelope")
		return err
	}
	im.mu.Lock()
	im.lastPersistedChecksum = sum
	im.everPersisted = true
	im.mu.Unlock()
	return nil
}

func parseEnvelope(text string) (serializedIndex, uint32, bool) {
	var env envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return serializedIndex{}, 0, false
	}
	stored, err := strconv.ParseUint(strings.TrimSpace(env.IndexChecksum), 10, 32)
	if err != nil {
		return serializedIndex{}, 0, false
	}
	recomputed := checksum16([]byte(env.IndexData))
	if uint32(stored) != recomputed {
		return serializedIndex{}, 0, false
	}
	var si serializedIndex
	if err := json.Unmarshal([]byte(env.IndexData), &si); err != nil {
		return serializedIndex{}, 0, false
	}
	return si, recomputed, true
}

// LoadOrRecover executes the open-time recovery ladder: primary, then
// backup (re-persisting the primary on success), then an empty index
// persisted as both copies.
func (im *IndexManager) LoadOrRecover() error {
	primaryText, primaryErr := im.fsa.ReadText(primaryIndexPath(im.directory))
	if primaryErr == nil {
		if si, sum, ok := parseEnvelope(primaryText); ok {
			im.mu.Lock()
			im.adoptLocked(si)
			im.lastPersistedChecksum = sum
			im.everPersisted = true
			im.mu.Unlock()
			return nil
		}
		im.logger.Warn().Str("path", primaryIndexPath(im.directory)).Msg("primary index envelope failed checksum, trying backup")
	}

	backupText, backupErr := im.fsa.ReadText(backupIndexPath(im.directory))
	if backupErr == nil {
		if si, _, ok := parseEnvelope(backupText); ok {
			im.mu.Lock()
			im.adoptLocked(si)
			im.mu.Unlock()
			im.logger.Warn().Msg("recovered index from backup envelope, re-persisting primary")
			return im.Persist()
		}
		im.logger.Warn().Str("path", backupIndexPath(im.directory)).Msg("backup index envelope failed checksum too")
	}

	im.mu.Lock()
	im.clearLocked()
	im.mu.Unlock()
	return im.Persist()
}

// RebuildFromDisk discards the in-memory index and repopulates it by
// listing the data directory and parsing every shard filename with the
// router's path grammar, ignoring the two index envelope files
// themselves.
func (im *IndexManager) RebuildFromDisk() error {
	names, err := im.fsa.List(im.directory)
	if err != nil {
		if e, ok := err.(*Error); ok && e.Kind == KindNotFound {
			im.mu.Lock()
			im.clearLocked()
			im.mu.Unlock()
			return nil
		}
		return err
	}
	im.mu.Lock()
	im.clearLocked()
	for _, name := range names {
		if name == "index.json" || name == "index_backup.json" {
			continue
		}
		if b, ok := parseShardFileName(name); ok {
			im.markPresentLocked(b)
		}
	}
	im.mu.Unlock()
	return nil
}

// parseShardFileName reverses the router's path grammar for one
// basename: DATE_HOUR.json or DATE_HOUR_MINUTE.json.
func parseShardFileName(name string) (bucket, bool) {
	if !strings.HasSuffix(name, ".json") {
		return bucket{}, false
	}
	stem := strings.TrimSuffix(name, ".json")
	parts := strings.Split(stem, "_")
	switch len(parts) {
	case 4: // YYYY_MM_DD_HH
		return bucket{DateKey: fmt.Sprintf("%s_%s_%s", parts[0], parts[1], parts[2]), HourKey: parts[3]}, true
	case 5: // YYYY_MM_DD_HH_MM
		return bucket{DateKey: fmt.Sprintf("%s_%s_%s", parts[0], parts[1], parts[2]), HourKey: parts[3], MinuteKey: parts[4]}, true
	default:
		return bucket{}, false
	}
}
