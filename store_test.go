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
	"testing"
)

// TestInsertRead is scenario S1: a single session's Upsert is visible
// to its own subsequent Read.
func TestInsertRead(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	sess := store.StartSession()
	defer sess.StopSession()

	if status := sess.Upsert([]byte("k7"), []byte("42")); status != StatusOK {
		t.Fatalf("Upsert: got %v, want OK", status)
	}
	out, status := readValue(t, sess, "k7")
	if status != StatusOK || out != "42" {
		t.Fatalf("Read: got (%q, %v), want (42, OK)", out, status)
	}
}

// TestRMWFirstCreates is scenario S2: RMW against a key that does not
// exist yet reports NOTFOUND (FASTER's "RMW invoked InitialUpdater")
// but leaves the key readable afterward.
func TestRMWFirstCreates(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	sess := store.StartSession()
	defer sess.StopSession()

	if status := sess.RMW([]byte("k9"), []byte("5")); status != StatusNotFound {
		t.Fatalf("RMW on absent key: got %v, want NOTFOUND", status)
	}
	out, status := readValue(t, sess, "k9")
	if status != StatusOK || out != "5" {
		t.Fatalf("Read after RMW-create: got (%q, %v), want (5, OK)", out, status)
	}
}

// TestReadMissingKey checks the NOTFOUND path with no prior write at all.
func TestReadMissingKey(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	sess := store.StartSession()
	defer sess.StopSession()

	_, status := readValue(t, sess, "nope")
	if status != StatusNotFound {
		t.Fatalf("Read on missing key: got %v, want NOTFOUND", status)
	}
}

// TestUpsertOverwrite confirms a second Upsert on the same key wins
// over the first (last-writer-wins within one session, property 3's
// single-session base case).
func TestUpsertOverwrite(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	sess := store.StartSession()
	defer sess.StopSession()

	sess.Upsert([]byte("k"), []byte("first"))
	sess.Upsert([]byte("k"), []byte("second"))
	out, status := readValue(t, sess, "k")
	if status != StatusOK || out != "second" {
		t.Fatalf("Read after overwrite: got (%q, %v), want (second, OK)", out, status)
	}
}

// TestConcurrentUpsertLastWriterWins is scenario S4: two sessions race
// to write the same key; after both drain, a final Read must observe
// exactly one of the two written values, never a mix or an error.
func TestConcurrentUpsertLastWriterWins(t *testing.T) {
	store := newTestStore(t, t.TempDir())

	var wg sync.WaitGroup
	wg.Add(2)
	run := func(value string) {
		defer wg.Done()
		sess := store.StartSession()
		defer sess.StopSession()
		if status := sess.Upsert([]byte("race"), []byte(value)); status != StatusOK {
			t.Errorf("Upsert(%q): got %v, want OK", value, status)
		}
	}
	go run("100")
	go run("200")
	wg.Wait()

	sess := store.StartSession()
	defer sess.StopSession()
	out, status := readValue(t, sess, "race")
	if status != StatusOK {
		t.Fatalf("final Read: got status %v, want OK", status)
	}
	if out != "100" && out != "200" {
		t.Fatalf("final Read: got %q, want 100 or 200", out)
	}
}

// TestConcurrentRMWSumsExactlyOnce is property 4: N concurrent
// RMW(+1)s against a fresh key, after drain, sum to exactly N.
func TestConcurrentRMWSumsExactlyOnce(t *testing.T) {
	const n = 64
	store := newTestStore(t, t.TempDir())

	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			sess := store.StartSession()
			defer sess.StopSession()
			sess.RMW([]byte("counter"), []byte("1"))
		}()
	}
	wg.Wait()

	sess := store.StartSession()
	defer sess.StopSession()
	out, status := readValue(t, sess, "counter")
	if status != StatusOK {
		t.Fatalf("Read counter: got status %v, want OK", status)
	}
	if out != "64" {
		t.Fatalf("Read counter: got %q, want %d", out, n)
	}
}

// TestRegionMonotonicity is property 1: the four watermarks stay
// ordered Begin <= Head <= SafeReadOnly <= ReadOnly <= Tail across a
// sequence of writes and an explicit ShiftBeginAddress.
func TestRegionMonotonicity(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	sess := store.StartSession()
	defer sess.StopSession()

	for i := 0; i < 256; i++ {
		sess.Upsert([]byte("k"), []byte("value-padding-to-force-growth"))
	}

	w := store.alloc.Watermarks()
	if !(w.begin <= w.head && w.head <= w.safeReadOnly && w.safeReadOnly <= w.readOnly && w.readOnly <= w.tail) {
		t.Fatalf("watermarks out of order: %+v", w)
	}

	store.ShiftBeginAddress(w.head)
	w2 := store.alloc.Watermarks()
	if w2.begin < w.begin {
		t.Fatalf("BeginAddress went backward: %d -> %d", w.begin, w2.begin)
	}
	if !(w2.begin <= w2.head && w2.head <= w2.safeReadOnly && w2.safeReadOnly <= w2.readOnly && w2.readOnly <= w2.tail) {
		t.Fatalf("watermarks out of order after ShiftBeginAddress: %+v", w2)
	}
}

// TestGrowIndexPreservesData is property 7: every key present before
// GrowIndex is still readable afterward.
func TestGrowIndexPreservesData(t *testing.T) {
	store := newTestStore(t, t.TempDir())
	sess := store.StartSession()
	defer sess.StopSession()

	const n = 200
	for i := 0; i < n; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		sess.Upsert(key, []byte("v"))
	}

	store.GrowIndex()

	for i := 0; i < n; i++ {
		key := []byte{byte(i), byte(i >> 8)}
		out, status := readValue(t, sess, string(key))
		if status != StatusOK || out != "v" {
			t.Fatalf("key %d missing after GrowIndex: got (%q, %v)", i, out, status)
		}
	}
}
