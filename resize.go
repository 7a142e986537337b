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

// hashAtAddress is supplied by the store so the index can rehash a
// record's key without itself depending on KeyOps or the allocator
// (§4.3's split needs the full hash of each chained record, not just
// its 14-bit tag, to decide which of the two child buckets it belongs
// in).
type hashAtAddress func(addr Address) (hash uint64, ok bool)

// BeginGrow doubles the index: allocates the next generation at
// sizeBits+1 and arms one split chunk per bucket of the active
// generation. It does not touch the active generation's version yet —
// readers keep resolving against it until CompleteGrow flips version,
// matching PREPARE_GROW/IN_PROGRESS_GROW being distinct phases (§4.1,
// §4.3).
func (idx *HashIndex) BeginGrow() (oldState, newState *hashIndexState) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	oldState = idx.current()
	newState = newHashIndexState(oldState.sizeBits + 1)
	other := 1 - idx.version.Load()
	idx.states[other].Store(newState)
	idx.splitChunks = newChunkSet(len(oldState.buckets))
	idx.splitting.Store(true)
	return oldState, newState
}

// ClaimSplitChunk reserves one old-generation bucket index to split, or
// reports false once every bucket has been claimed by some worker.
func (idx *HashIndex) ClaimSplitChunk() (bucketIndex int, ok bool) {
	for i := 0; i < len(idx.current().buckets); i++ {
		if idx.splitChunks.claim(i) {
			return i, true
		}
	}
	return 0, false
}

// SplitBucket redistributes every entry chained off oldState's bucket
// oldIndex into newState's bucket oldIndex (the "same" child) or bucket
// oldIndex+len(oldState.buckets) (the "other" child), chosen by the one
// additional low bit the wider generation's mask exposes. lookup
// resolves each entry's address back to a full key hash; an entry whose
// record is not resident in memory (on disk, or already reclaimed below
// BeginAddress) cannot be rehashed, so it is copied into both children.
//
// It returns whether this was the last outstanding chunk, so the
// caller knows to move on to CompleteGrow.
func (idx *HashIndex) SplitBucket(oldState, newState *hashIndexState, oldIndex int, lookup hashAtAddress) (lastChunk bool) {
	oldMask := uint64(len(oldState.buckets)) - 1
	newMask := uint64(len(newState.buckets)) - 1
	ob := &oldState.buckets[oldIndex]
	sameBucket := &newState.buckets[oldIndex]
	otherBucket := &newState.buckets[oldIndex+len(oldState.buckets)]

	ob.forEachSlot(func(slots *[entriesPerBucket]atomic.Uint64, i int) bool {
		e := bucketEntry(slots[i].Load())
		if e.unused() || e.tentative() {
			return true
		}
		hash, ok := lookup(e.address())
		if !ok {
			appendEntryRaw(sameBucket, e)
			appendEntryRaw(otherBucket, e)
			return true
		}
		if hash&oldMask != uint64(oldIndex) {
			// stale tag collision from a prior split generation; skip.
			return true
		}
		dest := sameBucket
		if hash&newMask != hash&oldMask {
			dest = otherBucket
		}
		appendEntryRaw(dest, e)
		return true
	})
	return idx.splitChunks.complete(oldIndex)
}

// appendEntryRaw places an already-published entry into the first free
// slot of bucket (main entries, then overflow chain), creating overflow
// links as needed. Used only during split, where entries are moved
// between generations rather than newly created, so there is no
// tentative/publish handshake to perform.
func appendEntryRaw(b *hashBucket, e bucketEntry) {
	for {
		placed := false
		b.forEachSlot(func(slots *[entriesPerBucket]atomic.Uint64, i int) bool {
			if slots[i].CompareAndSwap(0, uint64(e)) {
				placed = true
				return false
			}
			return true
		})
		if placed {
			return
		}
		b.appendOverflow()
	}
}

// CompleteGrow flips the active generation to newState and retires the
// old one. Callers must BumpEpoch first and only call this from the
// drain callback, so no thread is still reading the old generation
// (§4.1's IN_PROGRESS_GROW -> REST transition).
func (idx *HashIndex) CompleteGrow() {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.version.Store(1 - idx.version.Load())
	idx.splitting.Store(false)
	idx.splitChunks = nil
}
