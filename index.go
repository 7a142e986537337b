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

import (
	"sync"
	"sync/atomic"

	"github.com/google/btree"
)

// hashIndexState is one generation of the power-of-two bucket table
// (§4.3: two generations, state[0]/state[1]).
type hashIndexState struct {
	sizeBits uint8
	buckets  []hashBucket
}

func newHashIndexState(sizeBits uint8) *hashIndexState {
	return &hashIndexState{
		sizeBits: sizeBits,
		buckets:  make([]hashBucket, uint64(1)<<sizeBits),
	}
}

func (s *hashIndexState) bucketFor(hash uint64) *hashBucket {
	mask := uint64(1)<<s.sizeBits - 1
	return &s.buckets[hash&mask]
}

// chunkSet tracks pending work items (bucket-split chunks, or GC sweep
// chunks) as an ordered set: membership means "not yet done". Draining to
// empty is the natural "last chunk completed" signal (§4.3's
// numPendingChunksToBeSplit == 0), which is why an ordered tree is a
// better fit here than a plain counter: it also lets progress be
// inspected (smallest pending chunk) for diagnostics.
type chunkSet struct {
	mu      sync.Mutex
	claimed []atomic.Uint32
	pending *btree.BTreeG[int]
}

func newChunkSet(n int) *chunkSet {
	cs := &chunkSet{
		claimed: make([]atomic.Uint32, n),
		pending: btree.NewG[int](8, func(a, b int) bool { return a < b }),
	}
	for i := 0; i < n; i++ {
		cs.pending.ReplaceOrInsert(i)
	}
	return cs
}

// claim reserves chunk i for the calling goroutine with a real
// compare-and-swap (0 -> 1 reserve), per §4.3: two goroutines racing
// ClaimSplitChunk/ClaimGCChunk on the same chunk must never both win it.
func (cs *chunkSet) claim(i int) bool {
	return cs.claimed[i].CompareAndSwap(0, 1)
}

// complete marks chunk i done and reports whether that was the last
// pending chunk (the coordinator transitions phases on this signal).
func (cs *chunkSet) complete(i int) (lastChunk bool) {
	cs.mu.Lock()
	defer cs.mu.Unlock()
	cs.pending.Delete(i)
	return cs.pending.Len() == 0
}

// HashIndex is the resizable hash index of §4.3: two generations, online
// doubling split, and chunked GC truncation sweep.
type HashIndex struct {
	em *EpochManager

	version atomic.Int32 // resizeInfo.version: which generation is active (0 or 1)
	states  [2]atomic.Pointer[hashIndexState]

	mu          sync.Mutex // guards split/grow bookkeeping below
	splitChunks *chunkSet
	splitting   atomic.Bool

	gcChunks  *chunkSet
	gcRunning atomic.Bool
}

// NewHashIndex creates an index with 1<<sizeBits buckets in generation 0.
func NewHashIndex(em *EpochManager, sizeBits uint8) *HashIndex {
	idx := &HashIndex{em: em}
	idx.states[0].Store(newHashIndexState(sizeBits))
	return idx
}

func (idx *HashIndex) current() *hashIndexState {
	return idx.states[idx.version.Load()].Load()
}

// SizeBits reports the active generation's size, log2.
func (idx *HashIndex) SizeBits() uint8 { return idx.current().sizeBits }

// NumBuckets reports the active generation's bucket count.
func (idx *HashIndex) NumBuckets() int { return len(idx.current().buckets) }

// FindTag walks the bucket chain for hash, looking for the first entry
// whose tag matches and which is not Tentative (§4.3: "readers skip
// tentatives").
func (idx *HashIndex) FindTag(hash uint64) (b *hashBucket, found bucketEntry, ok bool) {
	tag := tagOf(hash)
	b = idx.current().bucketFor(hash)
	b.forEachSlot(func(slots *[entriesPerBucket]atomic.Uint64, i int) bool {
		e := bucketEntry(slots[i].Load())
		if e.unused() || e.tentative() {
			return true
		}
		if e.tag() == tag {
			found, ok = e, true
			return false
		}
		return true
	})
	return
}

// FindOrCreateTag finds an existing entry for hash's tag, or reserves a
// tentative slot for it via CAS and returns that. The caller is
// responsible for publishing the tentative entry (clearing the
// Tentative bit with a successful CAS) once its record is durable enough
// to be visible, or abandoning it by leaving it in place (future
// lookups skip tentatives; the GC sweep skips them too, so an abandoned
// tentative slot is not reclaimed).
func (idx *HashIndex) FindOrCreateTag(hash uint64) (b *hashBucket, slotEntries *[entriesPerBucket]atomic.Uint64, slotIndex int, existing bucketEntry, created bool) {
	tag := tagOf(hash)
	b = idx.current().bucketFor(hash)
	for {
		var freeEntries *[entriesPerBucket]atomic.Uint64
		freeIndex := -1
		foundExisting := false
		b.forEachSlot(func(slots *[entriesPerBucket]atomic.Uint64, i int) bool {
			e := bucketEntry(slots[i].Load())
			if e.unused() {
				if freeIndex == -1 {
					freeEntries, freeIndex = slots, i
				}
				return true
			}
			if e.tentative() {
				return true
			}
			if e.tag() == tag {
				existing, foundExisting = e, true
				return false
			}
			return true
		})
		if foundExisting {
			return b, nil, -1, existing, false
		}
		if freeIndex == -1 {
			ob := b.appendOverflow()
			freeEntries, freeIndex = &ob.entries, 0
		}
		tentative := makeEntry(tag, InvalidAddress, false, true)
		if freeEntries[freeIndex].CompareAndSwap(0, uint64(tentative)) {
			return b, freeEntries, freeIndex, tentative, true
		}
		// lost the race for that slot; rescan
	}
}

// PublishTentative clears the Tentative bit on the slot returned by
// FindOrCreateTag via CAS from the reserved word to the final word.
func PublishTentative(slots *[entriesPerBucket]atomic.Uint64, i int, reserved, final bucketEntry) bool {
	return slots[i].CompareAndSwap(uint64(reserved), uint64(final))
}

// hashOf is the stable hash used throughout the index; Key implementations
// supply it via KeyOps.Hash.
func hashOf(keyHash uint64) uint64 { return keyHash }
