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

// readContext carries the state InternalRead needs to hand off to
// InternalContinuePendingRead once a disk fetch completes (§4.4.1's
// pending-I/O continuation).
type readContext struct {
	key, input []byte
	bucket     *hashBucket
	entryAddr  Address // chain head observed when the pending context was built
}

// traceBackForKeyMatch follows PreviousAddress from addr until it finds
// a record whose key matches, or the chain drops below HeadAddress
// (§4.4.1 step 2). It only ever looks at resident pages: once addr falls
// below HeadAddress the search stops and the caller dispatches on that
// final address (RECORD_ON_DISK or NOTFOUND).
func (s *Store) traceBackForKeyMatch(addr Address, key []byte) Address {
	head := Address(s.alloc.headAddress.Load())
	for addr >= head {
		rec := s.alloc.GetPhysicalAddress(addr)
		if rec == nil {
			// Address claims to be resident but isn't (raced with eviction);
			// stop here and let the caller treat it as needing a disk fetch.
			return addr
		}
		if s.keys.Equal(rec.key, key) {
			return addr
		}
		addr = rec.info.PreviousAddress
		head = Address(s.alloc.headAddress.Load())
	}
	return addr
}

// InternalRead implements §4.4.1. output is populated only on
// internalSuccess. bucket/chainHead/pendingAddr are populated on
// internalRecordOnDisk for the caller to build a readContext.
func (s *Session) InternalRead(key, input []byte) (output []byte, status internalStatus, bucket *hashBucket, chainHead, pendingAddr Address) {
	store := s.store
	phase := Phase(s.localPhase.Load())
	if phase != PhaseRest {
		store.heavyEnter()
	}

	hash, b, entry, found := store.findTag(key)
	_ = hash
	if !found {
		return nil, internalNotFound, nil, InvalidAddress, InvalidAddress
	}
	chainHead = entry.address()

	w := store.alloc.Watermarks()
	resolved := chainHead
	if resolved >= w.head {
		resolved = store.traceBackForKeyMatch(resolved, key)
	}

	if phase == PhasePrepIndexCkpt || phase == PhasePrep {
		if resolved >= w.head {
			if rec := store.alloc.GetPhysicalAddress(resolved); rec != nil {
				if rec.info.Version > s.localVersion.Load() {
					return nil, internalCPRShiftDetected, b, chainHead, InvalidAddress
				}
			}
		}
	}

	switch {
	case resolved >= w.safeReadOnly:
		rec := store.alloc.GetPhysicalAddress(resolved)
		if rec == nil {
			return nil, internalNotFound, nil, InvalidAddress, InvalidAddress
		}
		if rec.info.Tombstone() {
			return nil, internalNotFound, nil, InvalidAddress, InvalidAddress
		}
		output = store.fns.ConcurrentReader(key, input, rec.value)
		return output, internalSuccess, nil, InvalidAddress, InvalidAddress
	case resolved >= w.head:
		rec := store.alloc.GetPhysicalAddress(resolved)
		if rec == nil {
			return nil, internalNotFound, nil, InvalidAddress, InvalidAddress
		}
		if rec.info.Tombstone() {
			return nil, internalNotFound, nil, InvalidAddress, InvalidAddress
		}
		output = store.fns.SingleReader(key, input, rec.value)
		return output, internalSuccess, nil, InvalidAddress, InvalidAddress
	case resolved >= w.begin:
		return nil, internalRecordOnDisk, b, chainHead, resolved
	default:
		return nil, internalNotFound, nil, InvalidAddress, InvalidAddress
	}
}

// InternalContinuePendingRead runs once the disk fetch for a pending
// read completes: it invokes SingleReader over the fetched record, and
// optionally promotes the record to the tail (§4.4.1's "copy reads to
// tail" optimization).
func (s *Session) InternalContinuePendingRead(rc *readContext, rec *record, diskErr error) (output []byte, status internalStatus) {
	if diskErr != nil {
		return nil, internalNotFound
	}
	if rec == nil || rec.info.Tombstone() {
		return nil, internalNotFound
	}
	output = s.store.fns.SingleReader(rc.key, rc.input, rec.value)
	if s.store.cfg.CopyReadsToTail {
		s.promoteToTail(rc, rec)
	}
	return output, internalSuccess
}

// promoteToTail re-resolves the chain head and, if it has not advanced
// past the head observed when the pending read was issued, appends a
// copy of rec at the tail and CASes the bucket slot to point at it. A
// losing CAS (a concurrent writer already advanced the chain) marks the
// new copy Invalid and gives up rather than retrying, per §4.4.1.
func (s *Session) promoteToTail(rc *readContext, rec *record) {
	store := s.store
	_, current, found := store.index.FindTag(store.keys.Hash(rc.key))
	if !found || current.address() != rc.entryAddr {
		return
	}
	size := store.keys.GetPhysicalSize(rc.key, rec.value)
	addr, ok := store.alloc.Allocate(len(rc.key), len(rec.value))
	if !ok {
		return
	}
	newRec := &record{
		info:  RecordInfo{Version: uint32(s.localVersion.Load()), PreviousAddress: current.address()},
		key:   append([]byte(nil), rc.key...),
		value: append([]byte(nil), rec.value...),
	}
	_ = size
	store.alloc.StoreRecord(addr, newRec)
	updated := current.withAddress(addr)

	slotsEntries, slotIndex := locateSlot(rc.bucket, current)
	if slotsEntries == nil {
		markInvalidAtomic(&newRec.info)
		return
	}
	if !slotsEntries[slotIndex].CompareAndSwap(uint64(current), uint64(updated)) {
		markInvalidAtomic(&newRec.info)
	}
}
