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
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
)

// CheckpointKind names which parts of the store a checkpoint call covers.
type CheckpointKind uint8

const (
	CheckpointIndexOnly CheckpointKind = iota
	CheckpointHybridLogOnly
	CheckpointFull
)

// checkpointCoordinator orchestrates the CPR phase progression of §4.5:
// REST -> PREP -> IN_PROGRESS -> WAIT_PENDING -> WAIT_FLUSH ->
// PERSISTENCE_CALLBACK -> REST, tracking per-session serial-number
// markers snapshotted as each session leaves PREP.
type checkpointCoordinator struct {
	store *Store

	mu       sync.Mutex
	active   bool
	token    string
	kind     CheckpointKind
	markers  map[string]uint64 // sessionGuid -> serialNum at PREP exit
	done     chan struct{}
	lastErr  error
	sessions func() []*sessionSnapshot
}

// sessionSnapshot is the subset of live-session state the coordinator
// needs without holding a reference to every Session directly (sessions
// register themselves via Store.trackSession).
type sessionSnapshot struct {
	guid      string
	pendCount func() int
}

func newCheckpointCoordinator(store *Store) *checkpointCoordinator {
	return &checkpointCoordinator{store: store, markers: make(map[string]uint64)}
}

// onSessionLeftPrep records (guid, serialNum) the instant a session's
// Refresh observes the phase has moved past PREP, per §4.5's PREP
// action: "each session, on first refresh observing PREP, snapshots its
// (guid, serialNum)".
func (c *checkpointCoordinator) onSessionLeftPrep(s *Session) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.active {
		return
	}
	if _, ok := c.markers[s.guid]; !ok {
		c.markers[s.guid] = s.SerialNumber()
	}
}

// TakeFullCheckpoint starts a REST->PREP transition and returns a token
// identifying the in-flight checkpoint. The caller must poll
// CompleteCheckpoint to learn when PERSISTENCE_CALLBACK has finished.
func (s *Store) TakeFullCheckpoint() (string, error) { return s.cpr.begin(CheckpointFull) }
func (s *Store) TakeIndexCheckpoint() (string, error) {
	return s.cpr.begin(CheckpointIndexOnly)
}
func (s *Store) TakeHybridLogCheckpoint() (string, error) {
	return s.cpr.begin(CheckpointHybridLogOnly)
}

func (c *checkpointCoordinator) begin(kind CheckpointKind) (string, error) {
	c.mu.Lock()
	if c.active {
		c.mu.Unlock()
		return "", errorf("a checkpoint is already in progress")
	}
	global := c.store.epoch.GlobalState()
	if global.Phase != PhaseRest {
		c.mu.Unlock()
		return "", errorf("cannot start a checkpoint outside REST (current phase %s)", global.Phase)
	}
	desired := SystemState{Phase: PhasePrep, Version: global.Version + 1}
	if !c.store.epoch.GlobalMoveToNextState(global, desired) {
		c.mu.Unlock()
		return "", errorf("lost the race to enter PREP")
	}
	token := uuid.NewString()
	c.active = true
	c.token = token
	c.kind = kind
	c.markers = make(map[string]uint64)
	c.done = make(chan struct{})
	c.lastErr = nil
	c.mu.Unlock()

	go c.run(desired)
	return token, nil
}

// run drives the remaining phase transitions. Before leaving PREP and
// before leaving IN_PROGRESS it bumps the epoch and waits for it to
// drain (i.e. every active session has Refreshed at least once since
// the bump), giving every session a chance to observe the new phase.
// The later steps wait on their own condition instead: WAIT_PENDING
// polls until no session has pending operations, WAIT_FLUSH until
// flushAll returns, PERSISTENCE_CALLBACK until writeMetadata returns.
func (c *checkpointCoordinator) run(prep SystemState) {
	c.awaitDrain()
	c.advance(prep, SystemState{Phase: PhaseInProgress, Version: prep.Version})

	c.awaitDrain()
	c.advance(SystemState{Phase: PhaseInProgress, Version: prep.Version}, SystemState{Phase: PhaseWaitPending, Version: prep.Version})

	c.awaitAllPendingDrained()
	c.advance(SystemState{Phase: PhaseWaitPending, Version: prep.Version}, SystemState{Phase: PhaseWaitFlush, Version: prep.Version})

	c.flushAll()
	c.advance(SystemState{Phase: PhaseWaitFlush, Version: prep.Version}, SystemState{Phase: PhasePersistenceCallback, Version: prep.Version})

	c.writeMetadata(prep.Version)
	c.advance(SystemState{Phase: PhasePersistenceCallback, Version: prep.Version}, SystemState{Phase: PhaseRest, Version: prep.Version})

	c.mu.Lock()
	c.active = false
	close(c.done)
	c.mu.Unlock()
}

func (c *checkpointCoordinator) advance(expected, desired SystemState) {
	if !c.store.epoch.GlobalMoveToNextState(expected, desired) {
		c.mu.Lock()
		c.lastErr = errorf("checkpoint phase CAS %s->%s lost a race", expected.Phase, desired.Phase)
		c.mu.Unlock()
	}
}

func (c *checkpointCoordinator) awaitDrain() {
	drained := make(chan struct{})
	c.store.epoch.BumpEpoch(func() { close(drained) })
	<-drained
}

func (c *checkpointCoordinator) awaitAllPendingDrained() {
	for {
		total := 0
		for _, snap := range c.liveSessions() {
			total += snap.pendCount()
		}
		if total == 0 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func (c *checkpointCoordinator) liveSessions() []*sessionSnapshot {
	c.mu.Lock()
	fn := c.sessions
	c.mu.Unlock()
	if fn == nil {
		return nil
	}
	return fn()
}

// flushAll forces every currently resident page to the device (fold-
// over strategy: pages already live at their log address, so "flushing"
// here just means writing their current contents, not relocating them).
func (c *checkpointCoordinator) flushAll() {
	c.store.alloc.mu.RLock()
	indices := make([]int64, 0, len(c.store.alloc.pages))
	for idx := range c.store.alloc.pages {
		indices = append(indices, idx)
	}
	c.store.alloc.mu.RUnlock()

	var wg sync.WaitGroup
	for _, idx := range indices {
		wg.Add(1)
		idx := idx
		c.store.alloc.flushPage(idx, func(err error) {
			if err != nil {
				c.mu.Lock()
				c.lastErr = err
				c.mu.Unlock()
			}
			wg.Done()
		})
	}
	wg.Wait()
}

// writeMetadata writes the line-oriented checkpoint files of §6:
// index meta, hybrid-log meta (listing every session guid snapshotted
// at PREP exit), and one per-session context file recording the serial
// number marker used by Recover/ContinueSession.
func (c *checkpointCoordinator) writeMetadata(version uint32) error {
	dir := c.store.cfg.CheckpointDirectory
	if dir == "" {
		return nil
	}
	if err := os.MkdirAll(dir, 0750); err != nil {
		return err
	}
	w := c.store.alloc.Watermarks()

	c.mu.Lock()
	token := c.token
	markers := make(map[string]uint64, len(c.markers))
	for k, v := range c.markers {
		markers[k] = v
	}
	c.mu.Unlock()

	if c.kind != CheckpointHybridLogOnly {
		idxPath := fmt.Sprintf("%s/index-%s.meta", dir, token)
		content := fmt.Sprintf("%s,%d,%d\n", token, c.store.index.NumBuckets(), c.store.index.SizeBits())
		if err := os.WriteFile(idxPath, []byte(content), 0640); err != nil {
			return err
		}
	}
	if c.kind != CheckpointIndexOnly {
		logPath := fmt.Sprintf("%s/hybridlog-%s.meta", dir, token)
		content := fmt.Sprintf("%s,%d,%d,%d,%d,%d\n", token, version, w.head, w.begin, w.tail, len(markers))
		for guid := range markers {
			content += guid + "\n"
		}
		if err := os.WriteFile(logPath, []byte(content), 0640); err != nil {
			return err
		}
		for guid, serial := range markers {
			sessPath := fmt.Sprintf("%s/session-%s-%s.meta", dir, token, guid)
			content := fmt.Sprintf("%d,%s,%d\n", version, guid, serial)
			if err := os.WriteFile(sessPath, []byte(content), 0640); err != nil {
				return err
			}
		}
	}
	return nil
}

// CompleteCheckpoint reports whether the in-flight checkpoint (if any)
// has reached REST. If wait is true it blocks until it does.
func (s *Store) CompleteCheckpoint(wait bool) (bool, error) {
	s.cpr.mu.Lock()
	done := s.cpr.done
	active := s.cpr.active
	s.cpr.mu.Unlock()
	if !active {
		return true, nil
	}
	if wait {
		<-done
	} else {
		select {
		case <-done:
		default:
			return false, nil
		}
	}
	s.cpr.mu.Lock()
	err := s.cpr.lastErr
	s.cpr.mu.Unlock()
	return true, err
}
