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

// Device is the block-device capability of §6. Addressing is computed
// by the caller (segmentOf in address.go) and handed to the device as
// (segmentID, offset) pairs; the device itself is oblivious to logical
// addresses.
type Device interface {
	WriteAsync(src []byte, segmentID int64, destOffset int64, callback func(err error))
	ReadAsync(segmentID int64, srcOffset int64, nBytes int64, callback func(data []byte, err error))
	DeleteSegmentRange(fromSegment, toSegment int64)
	Close() error
	SectorSize() int
	SegmentSize() int64
}

// roundUpSector rounds n up to the next multiple of sectorSize, as device
// reads/writes must be sector-aligned.
func roundUpSector(n int64, sectorSize int) int64 {
	s := int64(sectorSize)
	if s <= 0 {
		return n
	}
	if n%s == 0 {
		return n
	}
	return (n/s + 1) * s
}
