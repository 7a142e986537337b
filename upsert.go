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

// maxRetryNowSpins bounds the RETRY_NOW tail-recursion (Design Notes
// §9): beyond this many immediate CAS losses in a row, the operation is
// promoted to RETRY_LATER instead of spinning indefinitely.
const maxRetryNowSpins = 64

// Upsert implements §4.4.2. It returns StatusOK once the value is
// visible in memory. A CPR phase shift or a latch contention bounce is
// resolved inside the call by finishSync; Upsert never returns
// StatusPending, and returns StatusError if those retries run out.
func (s *Session) Upsert(key, value []byte) Status {
	s.nextSerialNo()
	s.pendingRetry = func() internalStatus { return s.internalUpsertLoop(key, value) }
	defer func() { s.pendingRetry = nil }()
	status := s.internalUpsertLoop(key, value)
	return s.finishSync(status)
}

func (s *Session) internalUpsertLoop(key, value []byte) internalStatus {
	for spins := 0; ; spins++ {
		status := s.internalUpsert(key, value)
		if status == internalRetryNow {
			if spins >= maxRetryNowSpins {
				return internalRetryLater
			}
			continue
		}
		return status
	}
}

func (s *Session) internalUpsert(key, value []byte) internalStatus {
	store := s.store
	phase := Phase(s.localPhase.Load())
	version := s.localVersion.Load()
	if phase != PhaseRest {
		store.heavyEnter()
	}

	hash, b, entry, found := store.findTag(key)
	w := store.alloc.Watermarks()

	if phase == PhaseRest && found && entry.address() >= w.readOnly {
		if rec := store.alloc.GetPhysicalAddress(entry.address()); rec != nil {
			if store.fns.ConcurrentWriter(key, value, rec.value) {
				return internalSuccess
			}
		}
	}

	heldShared := false
	heldExclusive := false
	latestVersion := uint32(0)
	if found && entry.address() >= w.head {
		if rec := store.alloc.GetPhysicalAddress(entry.address()); rec != nil {
			latestVersion = rec.info.Version
		}
	}

	switch phase {
	case PhasePrep:
		if !b.latch.TryAcquireShared() {
			return internalCPRShiftDetected
		}
		heldShared = true
		if latestVersion > version {
			b.latch.ReleaseShared()
			return internalCPRShiftDetected
		}
	case PhaseInProgress:
		if latestVersion <= version-1 {
			if !b.latch.TryAcquireExclusive() {
				return internalRetryLater
			}
			heldExclusive = true
			status := store.createNewRecord(s, b, key, value, entry, found, hash, version)
			b.latch.ReleaseExclusive()
			return status
		}
	case PhaseWaitPending:
		if latestVersion <= version-1 {
			if !b.latch.NoSharedLatches() {
				return internalRetryLater
			}
			return store.createNewRecord(s, b, key, value, entry, found, hash, version)
		}
	case PhaseWaitFlush:
		if latestVersion <= version-1 {
			return store.createNewRecord(s, b, key, value, entry, found, hash, version)
		}
	}

	// Normal dispatch.
	var result internalStatus
	if found && entry.address() >= w.readOnly {
		if rec := store.alloc.GetPhysicalAddress(entry.address()); rec != nil && store.fns.ConcurrentWriter(key, value, rec.value) {
			result = internalSuccess
		} else {
			result = store.createNewRecord(s, b, key, value, entry, found, hash, version)
		}
	} else {
		result = store.createNewRecord(s, b, key, value, entry, found, hash, version)
	}

	if heldExclusive {
		b.latch.ReleaseExclusive()
	} else if heldShared {
		b.latch.ReleaseShared()
	}
	return result
}

// createNewRecord allocates a fresh record version and publishes it
// into the bucket, either by CASing an existing slot's word (found) or
// by reserving and publishing a brand-new tentative slot (!found). A
// lost CAS marks the new record Invalid and returns internalRetryNow,
// to be tail-recursed by the caller (§4.4.2).
func (store *Store) createNewRecord(s *Session, b *hashBucket, key, value []byte, entry bucketEntry, found bool, hash uint64, version uint32) internalStatus {
	prevAddr := InvalidAddress
	if found {
		prevAddr = entry.address()
	}
	addr, ok := store.alloc.Allocate(len(key), len(value))
	if !ok {
		return internalRetryLater
	}
	dst := make([]byte, store.keys.GetPhysicalSize(key, value))
	n := store.fns.SingleWriter(key, value, dst)
	rec := &record{
		info:  RecordInfo{Version: version, PreviousAddress: prevAddr},
		key:   append([]byte(nil), key...),
		value: dst[:n],
	}
	store.alloc.StoreRecord(addr, rec)

	if found {
		slots, idx := locateSlot(b, entry)
		if slots == nil {
			markInvalidAtomic(&rec.info)
			return internalRetryNow
		}
		newEntry := entry.withAddress(addr)
		if !slots[idx].CompareAndSwap(uint64(entry), uint64(newEntry)) {
			markInvalidAtomic(&rec.info)
			return internalRetryNow
		}
		return internalSuccess
	}

	_, slotsEntries, slotIndex, reserved, created := store.index.FindOrCreateTag(hash)
	if !created {
		// Someone else inserted this key concurrently; let the caller's
		// RETRY_NOW spin re-enter normal dispatch against the new entry.
		markInvalidAtomic(&rec.info)
		return internalRetryNow
	}
	final := reserved.withAddress(addr).withoutTentative()
	if !PublishTentative(slotsEntries, slotIndex, reserved, final) {
		markInvalidAtomic(&rec.info)
		return internalRetryNow
	}
	store.entryCount.Add(1)
	return internalSuccess
}

// finishSync resolves a synchronous Upsert/RMW call into a terminal
// Status. Upsert and RMW never produce RECORD_ON_DISK (only Read does),
// so the only pending causes here are CPR phase shifts and latch
// contention: for those it refreshes the session and re-runs the stashed
// retry closure, up to 10000 times, before giving up with StatusError.
func (s *Session) finishSync(status internalStatus) Status {
	switch status {
	case internalSuccess:
		return StatusOK
	case internalNotFound:
		return StatusNotFound
	case internalRetryLater, internalCPRShiftDetected:
		for i := 0; i < 10000; i++ {
			s.Refresh()
			status = s.retryOnce(status)
			if status == internalSuccess {
				return StatusOK
			}
			if status == internalNotFound {
				return StatusNotFound
			}
			if status != internalRetryLater && status != internalCPRShiftDetected {
				break
			}
		}
		return StatusError
	default:
		return StatusError
	}
}

// retryOnce runs the stashed retry closure, if any; callers that need
// key/value context to retry (Upsert/RMW) assign s.pendingRetry before
// calling finishSync.
func (s *Session) retryOnce(prev internalStatus) internalStatus {
	if s.pendingRetry != nil {
		return s.pendingRetry()
	}
	return prev
}
