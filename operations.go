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

// Read implements the public side of §4.4.1/§4.4.4: it runs InternalRead,
// and on RECORD_ON_DISK registers a pendingContext, issues the async
// disk fetch, and returns StatusPending. callback fires exactly once,
// either inline (OK/NOT_FOUND/ERROR) or, for a pending read, on the
// device's completion goroutine once the fetch has finished.
func (s *Session) Read(key, input []byte, callback func(output []byte, status Status)) Status {
	s.nextSerialNo()
	output, status, bucket, chainHead, diskAddr := s.InternalRead(key, input)

	for status == internalCPRShiftDetected {
		s.Refresh()
		output, status, bucket, chainHead, diskAddr = s.InternalRead(key, input)
	}

	switch status {
	case internalSuccess:
		if callback != nil {
			callback(output, StatusOK)
		}
		return StatusOK
	case internalNotFound:
		if callback != nil {
			callback(nil, StatusNotFound)
		}
		return StatusNotFound
	case internalRecordOnDisk:
		rc := &readContext{key: append([]byte(nil), key...), input: append([]byte(nil), input...), bucket: bucket, entryAddr: chainHead}
		ctx := &pendingContext{
			resumeFromDisk: func(rec *record, err error) internalStatus {
				out, st := s.InternalContinuePendingRead(rc, rec, err)
				if st == internalSuccess && callback != nil {
					callback(out, StatusOK)
				} else if callback != nil {
					callback(nil, publicStatus(st))
				}
				return st
			},
		}
		s.pending.add(ctx)
		s.store.alloc.AsyncGetFromDisk(diskAddr, func(rec *record, err error) {
			ctx.resumeFromDisk(rec, err)
			s.pending.remove(ctx.id)
		})
		return StatusPending
	default:
		if callback != nil {
			callback(nil, StatusError)
		}
		return StatusError
	}
}
