/*
Copyright (C) 2026  Carl-Philip Hänsch

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
package hybridstore

import "sync/atomic"

// BeginGC arms one sweep chunk per bucket of the active generation, to
// be claimed and processed by ClaimGCChunk/SweepBucket (§4.1's GC
// phase, run independently of the CPR and grow phases).
func (idx *HashIndex) BeginGC() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.gcChunks = newChunkSet(len(idx.current().buckets))
	idx.gcRunning.Store(true)
}

// ClaimGCChunk reserves one bucket index to sweep, or reports false
// once every bucket has been claimed.
func (idx *HashIndex) ClaimGCChunk() (bucketIndex int, ok bool) {
	n := len(idx.current().buckets)
	for i := 0; i < n; i++ {
		if idx.gcChunks.claim(i) {
			return i, true
		}
	}
	return 0, false
}

// SweepBucket clears every entry in bucket i whose address has fallen
// below beginAddress. Because PreviousAddress chains only ever point to
// strictly smaller addresses, a head entry below beginAddress means its
// whole chain is below it too, so the entry is simply nulled rather than
// walked (§3: "truncate reclaims chunks between the old and new Begin").
// It returns whether this was the last outstanding chunk.
func (idx *HashIndex) SweepBucket(i int, beginAddress Address) (lastChunk bool) {
	b := &idx.current().buckets[i]
	b.forEachSlot(func(slots *[entriesPerBucket]atomic.Uint64, slot int) bool {
		for {
			raw := slots[slot].Load()
			if raw == 0 {
				return true
			}
			e := bucketEntry(raw)
			if e.tentative() || e.address() >= beginAddress {
				return true
			}
			if slots[slot].CompareAndSwap(raw, 0) {
				return true
			}
			// lost a race (e.g. PublishTentative just landed); reread and retry
		}
	})
	return idx.gcChunks.complete(i)
}

// EndGC marks the sweep finished and releases its bookkeeping.
func (idx *HashIndex) EndGC() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.gcRunning.Store(false)
	idx.gcChunks = nil
}
