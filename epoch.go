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

	"github.com/launix-de/NonLockingReadMap"
)

// Phase is one step of the orthogonal system-state machines: the CPR
// cycle, GC sweep, and index grow.
type Phase uint8

const (
	PhaseRest Phase = iota
	PhasePrepIndexCkpt
	PhaseIndexCkpt
	PhasePrep
	PhaseInProgress
	PhaseWaitPending
	PhaseWaitFlush
	PhasePersistenceCallback
	PhaseGC
	PhasePrepareGrow
	PhaseInProgressGrow
)

func (p Phase) String() string {
	switch p {
	case PhaseRest:
		return "REST"
	case PhasePrepIndexCkpt:
		return "PREP_INDEX_CKPT"
	case PhaseIndexCkpt:
		return "INDEX_CKPT"
	case PhasePrep:
		return "PREP"
	case PhaseInProgress:
		return "IN_PROGRESS"
	case PhaseWaitPending:
		return "WAIT_PENDING"
	case PhaseWaitFlush:
		return "WAIT_FLUSH"
	case PhasePersistenceCallback:
		return "PERSISTENCE_CALLBACK"
	case PhaseGC:
		return "GC"
	case PhasePrepareGrow:
		return "PREPARE_GROW"
	case PhaseInProgressGrow:
		return "IN_PROGRESS_GROW"
	default:
		return "?"
	}
}

// SystemState packs {phase, version} into one 64-bit word so threads can
// atomically snapshot it (§3, §4.1).
type SystemState struct {
	Phase   Phase
	Version uint32
}

func packState(s SystemState) uint64 {
	return uint64(s.Version)<<8 | uint64(s.Phase)
}

func unpackState(w uint64) SystemState {
	return SystemState{Phase: Phase(w & 0xff), Version: uint32(w >> 8)}
}

const maxEpochThreads = 1024

// drainCallback fires once all active threads have refreshed past
// targetEpoch.
type drainCallback struct {
	targetEpoch uint64
	fn          func()
}

// EpochManager is the epoch/phase manager of §4.1: Acquire/Continue/
// Release/Refresh/BumpEpoch, plus the global {phase,version} word that
// every session observes through Refresh.
type EpochManager struct {
	state   atomic.Uint64 // packed SystemState
	current atomic.Uint64 // global epoch counter

	mu       sync.Mutex
	slots    [maxEpochThreads]atomic.Uint64 // per-thread published epoch; 0 = unheld, protected by occupied bitmap
	occupied NonLockingReadMap.NonBlockingBitMap
	drains   []drainCallback
}

// NewEpochManager creates a manager at epoch 1, system state {REST, 0}.
func NewEpochManager() *EpochManager {
	em := &EpochManager{}
	em.current.Store(1)
	em.state.Store(packState(SystemState{Phase: PhaseRest, Version: 0}))
	return em
}

// Acquire reserves a slot in the fixed-capacity thread table and returns
// its id. The caller must Release() when done with the manager (a
// session typically Acquires once at StartSession and Releases at
// StopSession, calling Refresh/BumpEpoch around individual operations).
func (em *EpochManager) Acquire() int {
	em.mu.Lock()
	defer em.mu.Unlock()
	for i := 0; i < maxEpochThreads; i++ {
		if !em.occupied.Get(uint32(i)) {
			em.occupied.Set(uint32(i), true)
			em.slots[i].Store(em.current.Load())
			return i
		}
	}
	panic("hybridstore: epoch manager thread table exhausted")
}

// Release vacates the slot. The thread must not touch any epoch-
// protected resource afterward without re-Acquiring.
func (em *EpochManager) Release(slot int) {
	em.mu.Lock()
	defer em.mu.Unlock()
	em.slots[slot].Store(0)
	em.occupied.Set(uint32(slot), false)
}

// Refresh publishes the current global epoch into slot and fires any
// drain callback whose target epoch is now <= the minimum slot value
// across all occupied slots.
func (em *EpochManager) Refresh(slot int) {
	em.slots[slot].Store(em.current.Load())
	em.tryDrain()
}

// BumpEpoch increments the global epoch and registers fn to run once
// every active thread has refreshed past the epoch BumpEpoch observed
// (i.e. it is safe to reclaim whatever resource was retired at the old
// epoch).
func (em *EpochManager) BumpEpoch(fn func()) uint64 {
	em.mu.Lock()
	newEpoch := em.current.Add(1)
	if fn != nil {
		em.drains = append(em.drains, drainCallback{targetEpoch: newEpoch, fn: fn})
	}
	em.mu.Unlock()
	em.tryDrain()
	return newEpoch
}

func (em *EpochManager) tryDrain() {
	em.mu.Lock()
	if len(em.drains) == 0 {
		em.mu.Unlock()
		return
	}
	min := em.current.Load()
	for i := 0; i < maxEpochThreads; i++ {
		if !em.occupied.Get(uint32(i)) {
			continue
		}
		v := em.slots[i].Load()
		if v == 0 {
			continue
		}
		if v < min {
			min = v
		}
	}
	var ready []drainCallback
	remaining := em.drains[:0]
	for _, d := range em.drains {
		if d.targetEpoch <= min {
			ready = append(ready, d)
		} else {
			remaining = append(remaining, d)
		}
	}
	em.drains = remaining
	em.mu.Unlock()
	for _, d := range ready {
		d.fn()
	}
}

// GlobalState returns a consistent snapshot of {phase, version}.
func (em *EpochManager) GlobalState() SystemState {
	return unpackState(em.state.Load())
}

// GlobalMoveToNextState CASes the packed {phase,version} word from
// expected to desired, as required by §4.1. Returns false if another
// thread already moved the state.
func (em *EpochManager) GlobalMoveToNextState(expected, desired SystemState) bool {
	return em.state.CompareAndSwap(packState(expected), packState(desired))
}
