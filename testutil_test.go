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
	"strconv"
	"testing"
)

// testFunctions treats values as opaque byte strings for get/set and as
// base-10 signed integers for RMW's accumulate-a-delta path, matching
// cmd/hybridbench's demo Functions so the test suite exercises the same
// code real callers do.
type testFunctions struct{}

func (testFunctions) SingleReader(key, input, value []byte) []byte {
	return append([]byte(nil), value...)
}
func (testFunctions) ConcurrentReader(key, input, value []byte) []byte {
	return append([]byte(nil), value...)
}
func (testFunctions) SingleWriter(key, value, dst []byte) int { return copy(dst, value) }
func (testFunctions) ConcurrentWriter(key, value, dst []byte) bool {
	if len(value) > len(dst) {
		return false
	}
	copy(dst, value)
	return true
}
func (testFunctions) InitialUpdater(key, input, dst []byte) int {
	delta, _ := strconv.ParseInt(string(input), 10, 64)
	return copy(dst, []byte(strconv.FormatInt(delta, 10)))
}
func (testFunctions) CopyUpdater(key, input, oldValue, dst []byte) int {
	cur, _ := strconv.ParseInt(string(oldValue), 10, 64)
	delta, _ := strconv.ParseInt(string(input), 10, 64)
	return copy(dst, []byte(strconv.FormatInt(cur+delta, 10)))
}
func (testFunctions) InPlaceUpdater(key, input, value []byte) bool {
	cur, _ := strconv.ParseInt(string(value), 10, 64)
	delta, _ := strconv.ParseInt(string(input), 10, 64)
	encoded := []byte(strconv.FormatInt(cur+delta, 10))
	if len(encoded) > len(value) {
		return false
	}
	copy(value, encoded)
	for i := len(encoded); i < len(value); i++ {
		value[i] = ' '
	}
	return true
}

type testKeyOps struct{}

func (testKeyOps) Hash(key []byte) uint64 {
	var h uint64 = 14695981039346656037
	for _, b := range key {
		h ^= uint64(b)
		h *= 1099511628211
	}
	return h
}
func (testKeyOps) Equal(a, b []byte) bool                       { return string(a) == string(b) }
func (testKeyOps) GetInitialPhysicalSize(key, input []byte) int64 { return int64(len(key) + 32) }
func (testKeyOps) GetPhysicalSize(key, value []byte) int64       { return int64(len(key) + len(value) + 16) }

// newTestStore builds a store rooted at dir with a small index and a
// generous in-memory budget, so ordinary unit tests never need to hit
// the device at all unless they explicitly shrink MemorySize.
func newTestStore(t *testing.T, dir string) *Store {
	t.Helper()
	cfg := Config{
		CheckpointDirectory: dir,
		IndexSizeBits:       8,
		MemorySize:          "64MB",
		PageSize:            "64KB",
		SectorAlignment:     512,
		Functions:           testFunctions{},
		Keys:                testKeyOps{},
	}
	s, err := NewStore(cfg)
	if err != nil {
		t.Fatalf("NewStore: %v", err)
	}
	return s
}

// readValue is a small synchronous convenience wrapper over Session.Read
// for tests that don't care about the PENDING/disk path.
func readValue(t *testing.T, sess *Session, key string) (string, Status) {
	t.Helper()
	var out []byte
	var got Status
	status := sess.Read([]byte(key), nil, func(output []byte, st Status) {
		out = output
		got = st
	})
	if status == StatusPending {
		sess.CompletePending(true)
		return string(out), got
	}
	return string(out), status
}
