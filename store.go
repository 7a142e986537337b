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
	"fmt"
	"sync"
	"sync/atomic"
)

// Store is the top-level handle described in §6's Public operations: it
// wires the epoch manager, hybrid log allocator, hash index, and the
// user-supplied Device/Functions/Keys capabilities together.
type Store struct {
	cfg Config

	epoch *EpochManager
	index *HashIndex
	alloc *HybridLogAllocator

	device Device
	fns    Functions
	keys   KeyOps

	cpr *checkpointCoordinator

	entryCount atomic.Int64

	sessionsMu sync.Mutex
	sessions   map[string]*Session
}

// NewStore builds a store from cfg. It does not load any prior state;
// call Recover afterward to replay a checkpoint.
func NewStore(cfg Config) (*Store, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	memSize, err := cfg.parsedMemorySize()
	if err != nil {
		return nil, err
	}
	pageSize, err := cfg.parsedPageSize()
	if err != nil {
		return nil, err
	}

	device := cfg.Device
	if device == nil {
		device = NewFileDevice(cfg.CheckpointDirectory+"/log", cfg.SectorAlignment, pageSize)
	}

	em := NewEpochManager()
	idx := NewHashIndex(em, cfg.IndexSizeBits)
	alloc := NewHybridLogAllocator(AllocatorConfig{
		PageSize:          pageSize,
		MemoryBudgetBytes: memSize,
		Device:            device,
	}, em)

	s := &Store{
		cfg:    cfg,
		epoch:  em,
		index:  idx,
		alloc:  alloc,
		device: device,
		fns:    cfg.Functions,
		keys:   cfg.Keys,
	}
	s.sessions = make(map[string]*Session)
	s.cpr = newCheckpointCoordinator(s)
	s.cpr.sessions = func() []*sessionSnapshot {
		s.sessionsMu.Lock()
		defer s.sessionsMu.Unlock()
		out := make([]*sessionSnapshot, 0, len(s.sessions))
		for _, sess := range s.sessions {
			sess := sess
			out = append(out, &sessionSnapshot{guid: sess.guid, pendCount: sess.pending.Count})
		}
		return out
	}
	return s, nil
}

func (s *Store) trackSession(sess *Session) {
	s.sessionsMu.Lock()
	s.sessions[sess.guid] = sess
	s.sessionsMu.Unlock()
}

func (s *Store) untrackSession(sess *Session) {
	s.sessionsMu.Lock()
	delete(s.sessions, sess.guid)
	s.sessionsMu.Unlock()
}

// LogTailAddress is the next address Allocate would hand out.
func (s *Store) LogTailAddress() Address { return s.alloc.TailAddress() }

// LogReadOnlyAddress is the lowest address no operation may mutate in place.
func (s *Store) LogReadOnlyAddress() Address { return Address(s.alloc.readOnly.Load()) }

// EntryCount is the number of live (non-tombstone, non-invalid,
// reachable) keys, tracked incrementally by Upsert/RMW rather than
// computed by a full index scan.
func (s *Store) EntryCount() int64 { return s.entryCount.Load() }

// Dispose releases background resources. Pending operations on any
// live session must be drained (CompletePending) before calling this.
func (s *Store) Dispose() error {
	return s.device.Close()
}

// ShiftBeginAddress advances BeginAddress, schedules old segments for
// deletion once the epoch drains, and runs a chunked GC sweep to
// truncate now-stale index entries (§4.2, §4.3's GC phase, testable
// property 8).
func (s *Store) ShiftBeginAddress(addr Address) {
	s.epoch.BumpEpoch(func() {
		s.alloc.ShiftBeginAddress(addr)
		s.runGCSweep(addr)
	})
}

func (s *Store) runGCSweep(beginAddress Address) {
	s.index.BeginGC()
	for {
		i, ok := s.index.ClaimGCChunk()
		if !ok {
			break
		}
		s.index.SweepBucket(i, beginAddress)
	}
	s.index.EndGC()
}

// GrowIndex doubles the hash table, redistributing every live bucket
// entry into the new generation (§4.3, testable property 7). It blocks
// the calling goroutine until the split completes; callers on the hot
// path should instead run it from a maintenance goroutine.
func (s *Store) GrowIndex() {
	oldState, newState := s.index.BeginGrow()
	lookup := func(addr Address) (uint64, bool) {
		rec := s.alloc.GetPhysicalAddress(addr)
		if rec == nil {
			return 0, false
		}
		return s.keys.Hash(rec.key), true
	}
	for {
		i, ok := s.index.ClaimSplitChunk()
		if !ok {
			break
		}
		s.index.SplitBucket(oldState, newState, i, lookup)
	}
	s.epoch.BumpEpoch(func() {
		s.index.CompleteGrow()
	})
}

// heavyEnter is the GC-help/grow-help preamble every operation runs
// once the session's phase is not REST (§4.4): it claims and processes
// one outstanding chunk of whichever orthogonal sweep is active, then
// returns control to the caller's normal dispatch.
func (s *Store) heavyEnter() {
	if s.index.gcRunning.Load() {
		if i, ok := s.index.ClaimGCChunk(); ok {
			s.index.SweepBucket(i, Address(s.alloc.beginAddress.Load()))
		}
	}
	if s.index.splitting.Load() {
		// Grow help is only safe once the coordinator has published both
		// generations; BeginGrow's newState is retrieved from states[1-version].
		oldState := s.index.current()
		other := 1 - s.index.version.Load()
		newState := s.index.states[other].Load()
		if newState != nil {
			if i, ok := s.index.ClaimSplitChunk(); ok {
				lookup := func(addr Address) (uint64, bool) {
					rec := s.alloc.GetPhysicalAddress(addr)
					if rec == nil {
						return 0, false
					}
					return s.keys.Hash(rec.key), true
				}
				s.index.SplitBucket(oldState, newState, i, lookup)
			}
		}
	}
}

// findTag computes a key's hash and looks up its current bucket entry.
func (s *Store) findTag(key []byte) (hash uint64, b *hashBucket, entry bucketEntry, found bool) {
	hash = s.keys.Hash(key)
	b, entry, found = s.index.FindTag(hash)
	return
}

func errorf(format string, args ...interface{}) error {
	return fmt.Errorf("hybridstore: "+format, args...)
}
