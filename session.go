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
	"sync/atomic"

	"github.com/google/uuid"
	"github.com/jtolds/gls"
)

// sessionCtx tags every goroutine a session spawns work onto with that
// session's GUID, the same trick partition.go uses gls.Go for so a
// worker pool's log lines can be attributed back to the caller that
// kicked them off.
var sessionCtx = gls.NewContextManager()

// Session is one client's handle onto the store (§6: StartSession/
// ContinueSession/StopSession), binding an epoch-manager slot and a
// monotonically increasing per-session serial number used to mark CPR
// continuation points.
type Session struct {
	store *Store
	guid  string

	epochSlot int
	serialNo  atomic.Uint64

	localPhase   atomic.Uint32 // Phase, synced from the store's global SystemState by Refresh
	localVersion atomic.Uint32

	pending *pendingTable

	// pendingRetry is a closure Upsert/RMW stash while resolving a
	// CPR_SHIFT_DETECTED or latch-contention bounce via finishSync,
	// capturing the key/value/input an Internal* call needs to re-enter
	// itself at the refreshed version (§4.4.4: "recurse into the
	// appropriate Internal* with the new version").
	pendingRetry func() internalStatus
}

// newSessionGUID mirrors storage/fast_uuid.go's newUUID: a real random
// UUID rather than a counter, since sessions may be recreated after a
// crash and must not collide with a prior incarnation's GUID recorded
// in a checkpoint's continuation tokens.
func newSessionGUID() string {
	return uuid.NewString()
}

// StartSession opens a brand new session against s, with serial number 0.
func (s *Store) StartSession() *Session {
	sess := &Session{
		store:     s,
		guid:      newSessionGUID(),
		epochSlot: s.epoch.Acquire(),
		pending:   newPendingTable(),
	}
	s.trackSession(sess)
	return sess
}

// ContinueSession reopens a session from a prior checkpoint's recorded
// GUID and serial number, so pending operations can resume from exactly
// where recovery left off (§6).
func (s *Store) ContinueSession(guid string, serialNo uint64) *Session {
	sess := &Session{
		store:     s,
		guid:      guid,
		epochSlot: s.epoch.Acquire(),
		pending:   newPendingTable(),
	}
	sess.serialNo.Store(serialNo)
	s.trackSession(sess)
	return sess
}

// GUID identifies this session across restarts.
func (s *Session) GUID() string { return s.guid }

// SerialNumber is the serial number of the last Read/Upsert/RMW call
// this session completed (§5: "serialNum is monotonically written
// after each call"); 0 before any call has been made.
func (s *Session) SerialNumber() uint64 { return s.serialNo.Load() }

// nextSerialNo advances serialNo and returns the value assigned to the
// call in progress, so operations linearize in call order (§5).
func (s *Session) nextSerialNo() uint64 { return s.serialNo.Add(1) }

// Refresh publishes this session's epoch and lets any pending drain
// (index grow, GC sweep, page eviction) make progress. Callers should
// call this between operations in a tight loop, exactly as a FASTER
// thread calls Refresh once per iteration.
func (s *Session) Refresh() {
	s.store.epoch.Refresh(s.epochSlot)
	global := s.store.epoch.GlobalState()
	oldPhase := Phase(s.localPhase.Load())
	s.localPhase.Store(uint32(global.Phase))
	s.localVersion.Store(global.Version)
	if oldPhase == PhasePrep && global.Phase != PhasePrep {
		s.store.cpr.onSessionLeftPrep(s)
	}
}

// StopSession releases this session's epoch slot. A stopped session
// must not be used again; ContinueSession starts a fresh one bound to
// the same GUID.
func (s *Session) StopSession() {
	s.store.untrackSession(s)
	s.store.epoch.Release(s.epochSlot)
}

// goWithSession runs fn on a new goroutine tagged with this session's
// GUID via gls, so diagnostic log lines emitted from background pager/
// checkpoint goroutines can report which session's operation triggered
// them (logf reads the tag back out with sessionGUIDFromContext).
func (s *Session) goWithSession(fn func()) {
	gls.Go(func() func() {
		return func() {
			sessionCtx.SetValues(gls.Values{"session": s.guid}, fn)
		}
	}())
}

func sessionGUIDFromContext() string {
	if v, ok := sessionCtx.GetValue("session"); ok {
		return fmt.Sprint(v)
	}
	return "-"
}
