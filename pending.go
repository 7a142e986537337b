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

	"github.com/google/btree"
)

// pendingContext carries everything an operation state machine needs to
// resume once a disk read completes or a retryable condition (CPR phase
// shift, index grow in progress) clears, per §5/§7's PendingContext.
type pendingContext struct {
	id int64

	// resumeFromDisk is set when the operation is waiting on
	// AsyncGetFromDisk; it is invoked with the record it fetched (nil on
	// a not-found/tombstone-at-EOF) and reports the operation's final
	// internal status.
	resumeFromDisk func(rec *record, err error) internalStatus

	// retry is set when the operation should simply be re-attempted from
	// its entry point once CompletePending drains the retry queue (a
	// CPR_SHIFT_DETECTED or index-grow-in-progress bounce).
	retry func() internalStatus

	onComplete func(status Status)
}

// pendingTable is a session's bookkeeping for outstanding async
// operations: an ordered id set (so CompletePending has a deterministic
// drain order, and so the smallest outstanding id is cheap to inspect
// for diagnostics) paired with the payload map proper.
type pendingTable struct {
	mu       sync.Mutex
	nextID   int64
	ids      *btree.BTreeG[int64]
	byID     map[int64]*pendingContext
	retryIDs []int64
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		ids:  btree.NewG[int64](8, func(a, b int64) bool { return a < b }),
		byID: make(map[int64]*pendingContext),
	}
}

func (pt *pendingTable) add(ctx *pendingContext) int64 {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.nextID++
	ctx.id = pt.nextID
	pt.ids.ReplaceOrInsert(ctx.id)
	pt.byID[ctx.id] = ctx
	return ctx.id
}

func (pt *pendingTable) remove(id int64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.ids.Delete(id)
	delete(pt.byID, id)
}

func (pt *pendingTable) enqueueRetry(id int64) {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	pt.retryIDs = append(pt.retryIDs, id)
}

func (pt *pendingTable) Count() int {
	pt.mu.Lock()
	defer pt.mu.Unlock()
	return pt.ids.Len()
}

// CompletePending re-runs the operations parked on this session's retry
// queue and reports whether nothing is left outstanding. Pending disk
// reads are not resumed here: each one is continued on the device's
// completion callback, which also removes it from the table, so
// CompletePending only waits for that to happen. With wait false it
// returns after one pass; with wait true it loops, refreshing the
// session whenever a pass re-ran nothing, until the table is empty.
func (s *Session) CompletePending(wait bool) bool {
	for {
		s.pending.mu.Lock()
		if s.pending.ids.Len() == 0 {
			s.pending.mu.Unlock()
			return true
		}
		retry := s.pending.retryIDs
		s.pending.retryIDs = nil
		s.pending.mu.Unlock()

		progressed := false
		for _, id := range retry {
			s.pending.mu.Lock()
			ctx, ok := s.pending.byID[id]
			s.pending.mu.Unlock()
			if !ok || ctx.retry == nil {
				continue
			}
			status := ctx.retry()
			progressed = true
			s.handleResolvedStatus(ctx, status)
		}
		if s.pending.Count() == 0 {
			return true
		}
		if !wait {
			return false
		}
		if !progressed {
			s.Refresh()
		}
	}
}

// handleResolvedStatus finalizes ctx once its internal status is no
// longer a retry/pending signal, invoking its completion callback with
// the mapped public Status and removing it from the table.
func (s *Session) handleResolvedStatus(ctx *pendingContext, status internalStatus) {
	switch status {
	case internalRetryLater, internalCPRShiftDetected:
		s.pending.enqueueRetry(ctx.id)
		return
	case internalRetryNow:
		if ctx.retry != nil {
			s.handleResolvedStatus(ctx, ctx.retry())
			return
		}
		s.pending.enqueueRetry(ctx.id)
		return
	}
	s.pending.remove(ctx.id)
	if ctx.onComplete != nil {
		ctx.onComplete(publicStatus(status))
	}
}

func publicStatus(s internalStatus) Status {
	switch s {
	case internalSuccess:
		return StatusOK
	case internalNotFound:
		return StatusNotFound
	default:
		return StatusError
	}
}
