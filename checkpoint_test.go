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
	"testing"
	"time"
)

// driveCheckpoint polls a checkpoint to completion while keeping sess's
// epoch slot current, exactly as a real caller must: §4.1 only advances
// a session's local phase (and, per §4.5, captures its PREP-exit serial
// marker) when that session calls Refresh. A session that never does so
// would otherwise block the checkpoint's awaitDrain forever.
func driveCheckpoint(t *testing.T, store *Store, sess *Session) {
	t.Helper()
	for i := 0; i < 1000; i++ {
		sess.Refresh()
		done, err := store.CompleteCheckpoint(false)
		if err != nil {
			t.Fatalf("CompleteCheckpoint: %v", err)
		}
		if done {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("checkpoint did not complete after 1000 refresh/poll rounds")
}

// TestCheckpointAndRecover is scenario S5: a checkpoint captures
// everything written before it completes; writes after the checkpoint
// must not survive a recover against that checkpoint's tokens.
func TestCheckpointAndRecover(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir)

	sess := store.StartSession()
	sess.Upsert([]byte("k1"), []byte("1"))
	sess.Upsert([]byte("k2"), []byte("2"))

	token, err := store.TakeFullCheckpoint()
	if err != nil {
		t.Fatalf("TakeFullCheckpoint: %v", err)
	}
	driveCheckpoint(t, store, sess)

	guid := sess.GUID()
	if got := sess.SerialNumber(); got != 2 {
		t.Fatalf("serial after 2 upserts: got %d, want 2", got)
	}

	sess.Upsert([]byte("k3"), []byte("3"))
	sess.StopSession()

	info, err := store.Recover(token, token)
	if err != nil {
		t.Fatalf("Recover: %v", err)
	}
	if info.Version == 0 {
		t.Fatalf("Recover: got version 0")
	}
	if got, ok := info.ContinueTokens[guid]; !ok {
		t.Fatalf("Recover: missing continuation token for session %s", guid)
	} else if got != 2 {
		t.Fatalf("ContinueTokens[%s]: got %d, want 2 (S5: ContinueSession(s1.guid) -> 2)", guid, got)
	}

	resumed := store.ContinueSession(guid, info.ContinueTokens[guid])
	defer resumed.StopSession()
	if got := resumed.SerialNumber(); got != 2 {
		t.Fatalf("resumed.SerialNumber(): got %d, want 2", got)
	}

	for _, tc := range []struct {
		key, want string
		wantOK    bool
	}{
		{"k1", "1", true},
		{"k2", "2", true},
		{"k3", "", false},
	} {
		out, status := readValue(t, resumed, tc.key)
		if tc.wantOK {
			if status != StatusOK || out != tc.want {
				t.Errorf("Read(%s) after recover: got (%q, %v), want (%q, OK)", tc.key, out, status, tc.want)
			}
		} else if status != StatusNotFound {
			t.Errorf("Read(%s) after recover: got status %v, want NOTFOUND", tc.key, status)
		}
	}
}

// TestDoubleCheckpointRejected ensures a second checkpoint cannot start
// while one is already in flight, per §4.5's single-active-checkpoint
// rule.
func TestDoubleCheckpointRejected(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	sess := store.StartSession()
	defer sess.StopSession()
	sess.Upsert([]byte("k"), []byte("v"))

	if _, err := store.TakeFullCheckpoint(); err != nil {
		t.Fatalf("first TakeFullCheckpoint: %v", err)
	}
	if _, err := store.TakeFullCheckpoint(); err == nil {
		t.Fatalf("second concurrent TakeFullCheckpoint: want error, got nil")
	}
	driveCheckpoint(t, store, sess)
}
