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

// Functions is the set of user callbacks the engine invokes at the
// points named in §6. None of them may suspend, and the Concurrent*
// variants must be safe under concurrent invocation (they run while
// other threads may be reading or latching the same bucket).
type Functions interface {
	// SingleReader copies the value at a record the caller has exclusive
	// (single-threaded) visibility into, e.g. a record just brought in
	// from disk, into output.
	SingleReader(key, input, value []byte) (output []byte)
	// ConcurrentReader is SingleReader's counterpart for records that may
	// be concurrently mutated in place (the mutable/read-only regions).
	ConcurrentReader(key, input, value []byte) (output []byte)
	// SingleWriter writes value into a freshly allocated destination slice
	// sized by KeyOps.GetPhysicalSize.
	SingleWriter(key, value []byte, dst []byte) int
	// ConcurrentWriter updates a record in place (dst is the existing
	// record's value region) and reports whether the new value fit.
	ConcurrentWriter(key, value []byte, dst []byte) bool
	// InitialUpdater constructs the first value for a key that did not
	// exist, writing into dst and returning the number of bytes used.
	InitialUpdater(key, input []byte, dst []byte) int
	// CopyUpdater builds a new value from an old record plus input,
	// writing into dst.
	CopyUpdater(key, input, oldValue []byte, dst []byte) int
	// InPlaceUpdater applies input to value in place and reports whether
	// the update fit without growing the record.
	InPlaceUpdater(key, input []byte, value []byte) bool
}

// KeyOps is the Key capability of §6: stable hash and equality, copy by
// size, and the two physical-size estimators the allocator needs before
// it can reserve space for a new record.
type KeyOps interface {
	Hash(key []byte) uint64
	Equal(a, b []byte) bool
	// GetInitialPhysicalSize estimates the bytes CreateNewRecord via
	// InitialUpdater/SingleWriter will need for key, given input.
	GetInitialPhysicalSize(key, input []byte) int64
	// GetPhysicalSize estimates the bytes a record with this key/value
	// pair needs.
	GetPhysicalSize(key, value []byte) int64
}
