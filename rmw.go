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

// rmwContext carries what InternalContinuePendingRMW needs once a disk
// fetch completes, including the shared bucket latch retained across
// the fuzzy/disk window to block a conflicting v+1 update from landing
// first (§4.4.3's lost-update prevention, testable property 6).
type rmwContext struct {
	key, input []byte
	bucket     *hashBucket
	entryAddr  Address
	latchHeld  bool
}

// RMW implements §4.4.3.
func (s *Session) RMW(key, input []byte) Status {
	s.nextSerialNo()
	s.pendingRetry = func() internalStatus { return s.internalRMWLoop(key, input) }
	defer func() { s.pendingRetry = nil }()
	status := s.internalRMWLoop(key, input)
	return s.finishSync(status)
}

func (s *Session) internalRMWLoop(key, input []byte) internalStatus {
	for spins := 0; ; spins++ {
		status := s.internalRMW(key, input)
		if status == internalRetryNow {
			if spins >= maxRetryNowSpins {
				return internalRetryLater
			}
			continue
		}
		return status
	}
}

func (s *Session) internalRMW(key, input []byte) internalStatus {
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
			if store.fns.InPlaceUpdater(key, input, rec.value) {
				return internalSuccess
			}
		}
	}

	latestVersion := uint32(0)
	if found && entry.address() >= w.head {
		if rec := store.alloc.GetPhysicalAddress(entry.address()); rec != nil {
			latestVersion = rec.info.Version
		}
	}

	heldShared := false
	heldExclusive := false
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
			status := store.rmwDispatch(s, b, key, input, entry, found, hash, version, &heldShared)
			if heldExclusive {
				b.latch.ReleaseExclusive()
			}
			return status
		}
	case PhaseWaitPending:
		if latestVersion <= version-1 {
			if !b.latch.NoSharedLatches() {
				return internalRetryLater
			}
			return store.rmwDispatch(s, b, key, input, entry, found, hash, version, &heldShared)
		}
	case PhaseWaitFlush:
		if latestVersion <= version-1 {
			return store.rmwDispatch(s, b, key, input, entry, found, hash, version, &heldShared)
		}
	}

	status := store.rmwDispatch(s, b, key, input, entry, found, hash, version, &heldShared)
	if heldExclusive {
		b.latch.ReleaseExclusive()
	} else if heldShared && status != internalRecordOnDisk {
		// The shared latch is kept only when the status is RECORD_ON_DISK;
		// in the fuzzy case (RETRY_LATER) it is released here like any
		// other outcome.
		b.latch.ReleaseShared()
	}
	return status
}

// rmwDispatch is §4.4.3's region dispatch, shared between the primary
// path and the phase-machine branches that fall through to it.
// heldShared is updated in place so the caller knows whether a retained
// shared latch must survive past this call (fuzzy RETRY_LATER, disk
// RECORD_ON_DISK).
func (store *Store) rmwDispatch(s *Session, b *hashBucket, key, input []byte, entry bucketEntry, found bool, hash uint64, version uint32, heldShared *bool) internalStatus {
	w := store.alloc.Watermarks()

	if !found {
		return store.createNewRecordViaUpdater(s, b, key, input, nil, entry, false, hash, version, true)
	}
	addr := entry.address()
	switch {
	case addr >= w.readOnly:
		rec := store.alloc.GetPhysicalAddress(addr)
		if rec == nil {
			return internalRetryLater
		}
		if store.fns.InPlaceUpdater(key, input, rec.value) {
			return internalSuccess
		}
		return store.createNewRecordViaUpdater(s, b, key, input, rec.value, entry, true, hash, version, false)
	case addr >= w.safeReadOnly:
		if !*heldShared {
			if b.latch.TryAcquireShared() {
				*heldShared = true
			}
		}
		return internalRetryLater
	case addr >= w.head:
		rec := store.alloc.GetPhysicalAddress(addr)
		if rec == nil {
			return internalRetryLater
		}
		return store.createNewRecordViaUpdater(s, b, key, input, rec.value, entry, true, hash, version, false)
	case addr >= w.begin:
		if !*heldShared {
			if b.latch.TryAcquireShared() {
				*heldShared = true
			}
		}
		return internalRecordOnDisk
	default:
		return store.createNewRecordViaUpdater(s, b, key, input, nil, entry, false, hash, version, true)
	}
}

// createNewRecordViaUpdater builds a new record version from
// CopyUpdater (oldValue != nil) or InitialUpdater (oldValue == nil),
// then publishes it exactly as upsert's createNewRecord does. notFound
// controls the terminal status reported on success, matching §4.4.3's
// "first creation is reported as NOTFOUND".
func (store *Store) createNewRecordViaUpdater(s *Session, b *hashBucket, key, input, oldValue []byte, entry bucketEntry, found bool, hash uint64, version uint32, notFound bool) internalStatus {
	prevAddr := InvalidAddress
	if found {
		prevAddr = entry.address()
	}
	var size int64
	if oldValue != nil {
		size = store.keys.GetPhysicalSize(key, oldValue)
	} else {
		size = store.keys.GetInitialPhysicalSize(key, input)
	}
	addr, ok := store.alloc.Allocate(len(key), int(size))
	if !ok {
		return internalRetryLater
	}
	dst := make([]byte, size)
	var n int
	if oldValue != nil {
		n = store.fns.CopyUpdater(key, input, oldValue, dst)
	} else {
		n = store.fns.InitialUpdater(key, input, dst)
	}
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
		if notFound {
			return internalNotFound
		}
		return internalSuccess
	}

	_, slotsEntries, slotIndex, reserved, created := store.index.FindOrCreateTag(hash)
	if !created {
		markInvalidAtomic(&rec.info)
		return internalRetryNow
	}
	final := reserved.withAddress(addr).withoutTentative()
	if !PublishTentative(slotsEntries, slotIndex, reserved, final) {
		markInvalidAtomic(&rec.info)
		return internalRetryNow
	}
	store.entryCount.Add(1)
	if notFound {
		return internalNotFound
	}
	return internalSuccess
}

// InternalContinuePendingRMW resumes an RMW parked on a disk fetch
// (§4.4.3). If the chain head has advanced past the address observed
// when the pending context was built, a concurrent writer already added
// a tail record, so this falls through to InternalRetryPendingRMW
// against the new head instead of risking a lost update.
func (s *Session) InternalContinuePendingRMW(rc *rmwContext, rec *record, diskErr error) internalStatus {
	defer func() {
		if rc.latchHeld {
			rc.bucket.latch.ReleaseShared()
		}
	}()
	store := s.store
	_, current, found := store.index.FindTag(store.keys.Hash(rc.key))
	if !found || current.address() != rc.entryAddr {
		return s.InternalRetryPendingRMW(rc.key, rc.input)
	}
	version := s.localVersion.Load()
	var oldValue []byte
	belowBegin := diskErr != nil || rec == nil
	if !belowBegin {
		oldValue = rec.value
	}
	notFound := belowBegin
	return store.createNewRecordViaUpdater(s, rc.bucket, rc.key, rc.input, oldValue, current, true, store.keys.Hash(rc.key), version, notFound)
}

// InternalRetryPendingRMW reruns the operation against the session's
// current phase (§4.4.3). Its latch rules differ from the primary
// path: PREP defers to normal dispatch rather than latching (an open
// question flagged in the upstream source; this module resolves it as
// "fall through to normal dispatch", §9), and only an exclusive latch
// may be released from this path, never a shared one.
func (s *Session) InternalRetryPendingRMW(key, input []byte) internalStatus {
	store := s.store
	phase := Phase(s.localPhase.Load())
	version := s.localVersion.Load()

	hash, b, entry, found := store.findTag(key)
	heldExclusive := false
	if phase == PhaseInProgress || phase == PhaseWaitPending || phase == PhaseWaitFlush {
		latestVersion := uint32(0)
		if found {
			if rec := store.alloc.GetPhysicalAddress(entry.address()); rec != nil {
				latestVersion = rec.info.Version
			}
		}
		if latestVersion <= version-1 {
			if phase == PhaseInProgress {
				if !b.latch.TryAcquireExclusive() {
					return internalRetryLater
				}
				heldExclusive = true
			} else if phase == PhaseWaitPending && !b.latch.NoSharedLatches() {
				return internalRetryLater
			}
		}
	}
	heldShared := false
	status := store.rmwDispatch(s, b, key, input, entry, found, hash, version, &heldShared)
	if heldExclusive {
		b.latch.ReleaseExclusive()
	}
	return status
}
