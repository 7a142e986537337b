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

// internalStatus is the set of outcomes the three operation state
// machines dispatch on internally (§5, §7); none of these ever escape
// to a caller directly, Status does.
type internalStatus uint8

const (
	internalSuccess internalStatus = iota
	internalNotFound
	internalRetryNow
	internalRetryLater
	internalRecordOnDisk
	internalCPRShiftDetected
)

func (s internalStatus) String() string {
	switch s {
	case internalSuccess:
		return "SUCCESS"
	case internalNotFound:
		return "NOT_FOUND"
	case internalRetryNow:
		return "RETRY_NOW"
	case internalRetryLater:
		return "RETRY_LATER"
	case internalRecordOnDisk:
		return "RECORD_ON_DISK"
	case internalCPRShiftDetected:
		return "CPR_SHIFT_DETECTED"
	default:
		return "?"
	}
}

// Status is the public outcome of a Read/Upsert/RMW call (§7).
type Status uint8

const (
	StatusOK Status = iota
	StatusNotFound
	StatusPending
	StatusError
)

func (s Status) String() string {
	switch s {
	case StatusOK:
		return "OK"
	case StatusNotFound:
		return "NOT_FOUND"
	case StatusPending:
		return "PENDING"
	case StatusError:
		return "ERROR"
	default:
		return "?"
	}
}
