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
	"encoding/binary"
	"encoding/hex"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var tempNameCounter uint64 = uint64(time.Now().UnixNano())

// newTempSuffix returns a UUIDv4-shaped value without depending on
// crypto/rand: constrained devices can stall at boot waiting for enough
// entropy, and a temp-file suffix only needs to be unlikely to collide
// with a concurrent writer on the same instance, not to be
// cryptographically unpredictable.
func newTempSuffix() string {
	ctr := atomic.AddUint64(&tempNameCounter, 1)
	now := uint64(time.Now().UnixNano())
	var b [16]byte
	binary.LittleEndian.PutUint64(b[0:8], ctr)
	binary.LittleEndian.PutUint64(b[8:16], ctr^now^(now<<17))
	b[6] = (b[6] & 0x0f) | 0x40 // version 4
	b[8] = (b[8] & 0x3f) | 0x80 // RFC4122 variant
	id := uuid.UUID(b)
	return hex.EncodeToString(id[:])
}
