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

import "sync/atomic"

// recordInfoSize is the fixed on-disk/in-memory header every record
// carries ahead of its key and value bytes.
const recordInfoSize = 16

// recordInfo flag bits, packed alongside version/previous-address.
const (
	flagTombstone uint32 = 1 << 0
	flagInvalid   uint32 = 1 << 1
	flagTentative uint32 = 1 << 2
)

// RecordInfo is the fixed header of a record (§3): the CPR version it was
// created under, the logical address of the previous record in this
// key's version chain, and tombstone/invalid/tentative flags.
type RecordInfo struct {
	Version         uint32
	flags           uint32
	PreviousAddress Address
}

func (r RecordInfo) Tombstone() bool { return r.flags&flagTombstone != 0 }
func (r RecordInfo) Invalid() bool   { return r.flags&flagInvalid != 0 }
func (r RecordInfo) Tentative() bool { return r.flags&flagTentative != 0 }

func (r *RecordInfo) SetTombstone(v bool) { r.setFlag(flagTombstone, v) }
func (r *RecordInfo) SetTentative(v bool) { r.setFlag(flagTentative, v) }

func (r *RecordInfo) setFlag(bit uint32, v bool) {
	if v {
		r.flags |= bit
	} else {
		r.flags &^= bit
	}
}

// record is a record at a physical address: header, key bytes, value
// bytes, laid out contiguously inside a page buffer. Since the engine
// only ever needs equality/hash/copy/sizing on keys and values (Design
// Notes §9), a record is modeled as byte-slice views into the owning
// page rather than raw unsafe pointers.
type record struct {
	info  RecordInfo
	key   []byte
	value []byte
}

// physicalSize returns the bytes this record occupies on the log,
// including its header.
func physicalSize(keyLen, valueLen int) int64 {
	return int64(recordInfoSize) + int64(keyLen) + int64(valueLen)
}

// markInvalidAtomic sets the Invalid flag on a record header that is
// still reachable at a live physical address. This is the one mutation
// permitted on a record after its region has passed below ReadOnlyAddress
// (§3): an idempotent flag write that never touches key or value bytes.
func markInvalidAtomic(info *RecordInfo) {
	for {
		old := atomic.LoadUint32(&info.flags)
		if old&flagInvalid != 0 {
			return
		}
		if atomic.CompareAndSwapUint32(&info.flags, old, old|flagInvalid) {
			return
		}
	}
}
