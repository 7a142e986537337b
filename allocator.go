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
	"encoding/binary"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/pierrec/lz4/v4"
)

// logPage is one fixed-size slice of the hybrid log held resident in
// memory. Per Design Notes §9 a page is a Go map from logical address to
// *record rather than a raw byte buffer: the engine never needs pointer
// arithmetic into a record, only lookup/hash/equal/size, so the map view
// is the idiomatic substitute for FASTER's packed page layout.
type logPage struct {
	index     int64
	records   map[Address]*record
	bytesUsed int64
	sealed    atomic.Bool
	flushed   atomic.Bool
}

func newLogPage(index int64) *logPage {
	return &logPage{index: index, records: make(map[Address]*record, 64)}
}

// AllocatorConfig sizes the hybrid log allocator.
type AllocatorConfig struct {
	PageSize           int64 // must be a power of two
	MemoryBudgetBytes  int64 // resident bytes before the pager starts evicting sealed pages
	MemorySizeBits     uint  // kept for parity with §2's MemorySizeBits knob; informs page count when PageSize*2^k sizing is used
	Device             Device
}

// HybridLogAllocator is the hybrid log of §2/§3/§4.2: a monotonically
// growing logical address space backed by an in-memory window of pages
// over [Head, Tail) and spilling older pages to a Device below Head.
type HybridLogAllocator struct {
	cfg AllocatorConfig

	pageBits uint

	tail         atomic.Int64 // next address to allocate from (Address)
	headAddress  atomic.Int64
	safeReadOnly atomic.Int64
	readOnly     atomic.Int64
	beginAddress atomic.Int64

	mu    sync.RWMutex
	pages map[int64]*logPage

	device Device
	epoch  *EpochManager
	cache  *pageCache

	memoryBudgetBytes int64
}

// NewHybridLogAllocator creates an allocator whose logical address space
// starts at 1 (address 0 is InvalidAddress) and whose watermarks all
// start equal (an empty log: Begin == Head == SafeReadOnly == ReadOnly
// == Tail).
func NewHybridLogAllocator(cfg AllocatorConfig, em *EpochManager) *HybridLogAllocator {
	a := &HybridLogAllocator{
		cfg:               cfg,
		pageBits:          segmentBitsFor(cfg.PageSize),
		pages:             make(map[int64]*logPage),
		device:            cfg.Device,
		epoch:             em,
		memoryBudgetBytes: cfg.MemoryBudgetBytes,
	}
	a.tail.Store(int64(1))
	a.headAddress.Store(1)
	a.safeReadOnly.Store(1)
	a.readOnly.Store(1)
	a.beginAddress.Store(1)
	a.cache = newPageCache(cfg.MemoryBudgetBytes, a.onEvictPressure)
	return a
}

func (a *HybridLogAllocator) pageIndexOf(addr Address) int64 {
	seg, _ := segmentOf(addr, a.pageBits)
	return seg
}

// Watermarks returns a consistent snapshot (§3's four boundary addresses).
func (a *HybridLogAllocator) Watermarks() watermarks {
	return watermarks{
		begin:        Address(a.beginAddress.Load()),
		head:         Address(a.headAddress.Load()),
		safeReadOnly: Address(a.safeReadOnly.Load()),
		readOnly:     Address(a.readOnly.Load()),
		tail:         Address(a.tail.Load()),
	}
}

// Allocate reserves physicalSize(keyLen, valueLen) bytes at a fresh
// logical address and returns that address with the record view already
// inserted into its owning page. It never allocates across a page
// boundary: a request that would straddle one instead pads the current
// page and retries from the next page's first address, mirroring
// FASTER's per-page allocation bookkeeping (§4.2).
//
// ok is false when the resident span [Head, Tail) exceeds the memory
// budget; the caller should Refresh its epoch (so the pager's drain callback can
// fire) and retry, exactly as PendingContext retries RETRY_LATER in the
// operation state machines.
func (a *HybridLogAllocator) Allocate(keyLen, valueLen int) (addr Address, ok bool) {
	size := physicalSize(keyLen, valueLen)
	if size > a.cfg.PageSize {
		panic("hybridstore: record larger than page size")
	}
	for {
		if a.overBudget() {
			return InvalidAddress, false
		}
		old := a.tail.Load()
		pageOld := a.pageIndexOf(Address(old))
		newTail := old + size
		pageNew := a.pageIndexOf(Address(newTail - 1))
		if pageNew != pageOld {
			// Pad to the start of the next page instead of splitting the record.
			nextPageStart := (pageOld + 1) << a.pageBits
			if a.tail.CompareAndSwap(old, nextPageStart) {
				a.sealPageAsync(pageOld)
			}
			continue
		}
		if !a.tail.CompareAndSwap(old, newTail) {
			continue
		}
		a.putRecordSlot(Address(old), pageOld, int64(size))
		return Address(old), true
	}
}

func (a *HybridLogAllocator) overBudget() bool {
	resident := (a.tail.Load() - a.headAddress.Load())
	return resident > a.memoryBudgetBytes
}

func (a *HybridLogAllocator) putRecordSlot(addr Address, pageIndex int64, size int64) {
	a.mu.Lock()
	p, ok := a.pages[pageIndex]
	if !ok {
		p = newLogPage(pageIndex)
		a.pages[pageIndex] = p
	}
	p.bytesUsed += size
	a.mu.Unlock()
	a.cache.Touch(pageIndex, p.bytesUsed)
}

// StoreRecord writes rec into the slot Allocate reserved at addr. Kept
// as a separate step from Allocate so callers (InternalUpsert,
// InternalRMW's CopyUpdater path) can fill in key/value bytes only once
// they are computed, without holding the allocator's page lock while
// doing so.
func (a *HybridLogAllocator) StoreRecord(addr Address, rec *record) {
	pageIndex := a.pageIndexOf(addr)
	a.mu.Lock()
	p := a.pages[pageIndex]
	if p != nil {
		p.records[addr] = rec
	}
	a.mu.Unlock()
}

// GetPhysicalAddress returns the in-memory record at addr, or nil if
// addr's page is not resident (the caller must fall back to
// AsyncGetFromDisk). Valid for any addr >= HeadAddress.
func (a *HybridLogAllocator) GetPhysicalAddress(addr Address) *record {
	pageIndex := a.pageIndexOf(addr)
	a.mu.RLock()
	defer a.mu.RUnlock()
	p, ok := a.pages[pageIndex]
	if !ok {
		return nil
	}
	return p.records[addr]
}

// CheckForAllocateComplete reports whether the page owning addr is
// fully constructed and visible to readers. In this map-backed design
// page construction is synchronous with Allocate, so this is always
// true for any address below Tail; it is kept so callers written
// against the async-allocate shape of §4.2 compile unchanged against a
// backend where page construction genuinely is asynchronous (e.g. a
// future mmap-backed allocator).
func (a *HybridLogAllocator) CheckForAllocateComplete(addr Address) bool {
	return addr < Address(a.tail.Load())
}

// sealPageAsync marks pageIndex immutable (no further StoreRecord calls
// are expected for it) by setting its sealed flag. It takes no epoch
// bump and does not notify the pager; flush and eviction are driven by
// the pageCache's memory budget alone. Sealing does not move ReadOnlyAddress: that is ShiftReadOnly's
// job, driven by the store's background maintenance loop so several
// pages can be sealed before one coordinated watermark bump.
func (a *HybridLogAllocator) sealPageAsync(pageIndex int64) {
	a.mu.RLock()
	p := a.pages[pageIndex]
	a.mu.RUnlock()
	if p == nil {
		return
	}
	p.sealed.Store(true)
}

// ShiftReadOnly advances ReadOnlyAddress to newReadOnly (must be <=
// Tail), closing the Mutable region up to that point. Call sites hold no
// latch: concurrent in-flight updates below the old ReadOnlyAddress are
// impossible by construction (they would have failed their compare-and-
// swap against a now-immutable page), and §4.4's RCU rule handles the
// fuzzy window between SafeReadOnly and ReadOnly.
func (a *HybridLogAllocator) ShiftReadOnly(newReadOnly Address) {
	for {
		old := a.readOnly.Load()
		if int64(newReadOnly) <= old {
			return
		}
		if a.readOnly.CompareAndSwap(old, int64(newReadOnly)) {
			return
		}
	}
}

// ShiftSafeReadOnly advances SafeReadOnlyAddress once the epoch has
// drained past the bump that closed off new fuzzy-region readers,
// collapsing the Fuzzy region into Immutable.
func (a *HybridLogAllocator) ShiftSafeReadOnly(newSafeReadOnly Address) {
	for {
		old := a.safeReadOnly.Load()
		if int64(newSafeReadOnly) <= old {
			return
		}
		if a.safeReadOnly.CompareAndSwap(old, int64(newSafeReadOnly)) {
			return
		}
	}
}

// onEvictPressure is the pageCache's onEvict hook: flush the named page
// to the device, then once it is durable, drop it from memory and raise
// HeadAddress to the end of that page (HeadAddress never moves back).
func (a *HybridLogAllocator) onEvictPressure(pageIndex int64) {
	a.flushPage(pageIndex, func(err error) {
		if err != nil {
			return
		}
		a.evictPage(pageIndex)
	})
}

// flushPage compresses pageIndex's live records with lz4 and writes the
// resulting buffer to the device at that page's segment, mirroring
// §4.2's "flush sealed pages to the device" duty of the background
// pager. The page remains resident (and readable) until evictPage runs.
func (a *HybridLogAllocator) flushPage(pageIndex int64, callback func(err error)) {
	a.mu.RLock()
	p, ok := a.pages[pageIndex]
	a.mu.RUnlock()
	if !ok {
		callback(nil)
		return
	}
	raw := encodePage(p)
	compressed := make([]byte, lz4.CompressBlockBound(len(raw)))
	var compressor lz4.Compressor
	n, err := compressor.CompressBlock(raw, compressed)
	if err != nil {
		callback(err)
		return
	}
	header := make([]byte, 8)
	binary.LittleEndian.PutUint64(header, uint64(len(raw)))
	payload := append(header, compressed[:n]...)
	segmentID, _ := segmentOf(Address(pageIndex<<a.pageBits), a.pageBits)
	a.device.WriteAsync(payload, segmentID, 0, func(err error) {
		if err == nil {
			p.flushed.Store(true)
		}
		callback(err)
	})
}

func (a *HybridLogAllocator) evictPage(pageIndex int64) {
	a.epoch.BumpEpoch(func() {
		a.mu.Lock()
		delete(a.pages, pageIndex)
		a.mu.Unlock()
		a.cache.Forget(pageIndex)
		next := Address((pageIndex + 1) << a.pageBits)
		for {
			old := a.headAddress.Load()
			if int64(next) <= old {
				return
			}
			if a.headAddress.CompareAndSwap(old, int64(next)) {
				return
			}
		}
	})
}

// AsyncGetFromDisk retrieves the page containing addr from the device,
// decompresses it, and invokes callback with the record stored at addr
// (or nil, errRecordNotFound if the page no longer holds it, e.g. after
// compaction). Used by InternalRead/InternalRMW when GetPhysicalAddress
// returns nil for an address still >= BeginAddress.
func (a *HybridLogAllocator) AsyncGetFromDisk(addr Address, callback func(rec *record, err error)) {
	pageIndex := a.pageIndexOf(addr)
	segmentID, _ := segmentOf(Address(pageIndex<<a.pageBits), a.pageBits)
	a.device.ReadAsync(segmentID, 0, a.cfg.PageSize+8, func(data []byte, err error) {
		if err != nil {
			callback(nil, err)
			return
		}
		if len(data) < 8 {
			callback(nil, fmt.Errorf("hybridstore: short page read for segment %d", segmentID))
			return
		}
		rawLen := binary.LittleEndian.Uint64(data[:8])
		raw := make([]byte, rawLen)
		if _, err := lz4.UncompressBlock(data[8:], raw); err != nil {
			callback(nil, err)
			return
		}
		recs := decodePage(raw)
		rec, ok := recs[addr]
		if !ok {
			callback(nil, errRecordNotFound)
			return
		}
		callback(rec, nil)
	})
}

// ShiftBeginAddress advances BeginAddress to newBegin and tells the
// device to discard whole segments now strictly below it. Callers must
// only do this once the CPR coordinator and hash index GC sweep agree
// the truncated range holds no record still reachable from the index
// (§4.5's GC phase).
func (a *HybridLogAllocator) ShiftBeginAddress(newBegin Address) {
	old := Address(a.beginAddress.Load())
	if newBegin <= old {
		return
	}
	a.beginAddress.Store(int64(newBegin))
	fromPage := a.pageIndexOf(old)
	toPage := a.pageIndexOf(newBegin)
	if toPage > fromPage {
		a.device.DeleteSegmentRange(fromPage, toPage)
	}
}

// TailAddress returns the next address Allocate would hand out.
func (a *HybridLogAllocator) TailAddress() Address { return Address(a.tail.Load()) }

// errRecordNotFound is returned by AsyncGetFromDisk when a flushed page
// no longer contains the requested address (already compacted away).
var errRecordNotFound = fmt.Errorf("hybridstore: record not found on disk")

// encodePage/decodePage give logPage a stable on-device byte format:
// a repeated [address(8) | recordInfo(16) | keyLen(4) | key | valueLen(4) | value]
// sequence, sorted by address for reproducible checkpoints.
func encodePage(p *logPage) []byte {
	addrs := make([]Address, 0, len(p.records))
	for addr := range p.records {
		addrs = append(addrs, addr)
	}
	for i := 1; i < len(addrs); i++ {
		for j := i; j > 0 && addrs[j-1] > addrs[j]; j-- {
			addrs[j-1], addrs[j] = addrs[j], addrs[j-1]
		}
	}
	buf := make([]byte, 0, p.bytesUsed+int64(len(addrs))*8)
	for _, addr := range addrs {
		rec := p.records[addr]
		var addrBytes [8]byte
		binary.LittleEndian.PutUint64(addrBytes[:], uint64(addr))
		buf = append(buf, addrBytes[:]...)
		buf = append(buf, encodeRecord(rec)...)
	}
	return buf
}

func decodePage(raw []byte) map[Address]*record {
	out := make(map[Address]*record)
	off := 0
	for off+8 <= len(raw) {
		addr := Address(binary.LittleEndian.Uint64(raw[off : off+8]))
		off += 8
		rec, n := decodeRecord(raw[off:])
		if rec == nil {
			break
		}
		out[addr] = rec
		off += n
	}
	return out
}

func encodeRecord(rec *record) []byte {
	buf := make([]byte, 0, recordInfoSize+4+len(rec.key)+4+len(rec.value))
	var tmp [8]byte
	binary.LittleEndian.PutUint32(tmp[:4], rec.info.Version)
	binary.LittleEndian.PutUint32(tmp[4:], rec.info.flags)
	buf = append(buf, tmp[:]...)
	binary.LittleEndian.PutUint64(tmp[:], uint64(rec.info.PreviousAddress))
	buf = append(buf, tmp[:]...)
	var lenBuf [4]byte
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(rec.key)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, rec.key...)
	binary.LittleEndian.PutUint32(lenBuf[:], uint32(len(rec.value)))
	buf = append(buf, lenBuf[:]...)
	buf = append(buf, rec.value...)
	return buf
}

func decodeRecord(raw []byte) (*record, int) {
	if len(raw) < recordInfoSize+4 {
		return nil, 0
	}
	info := RecordInfo{
		Version:         binary.LittleEndian.Uint32(raw[0:4]),
		flags:           binary.LittleEndian.Uint32(raw[4:8]),
		PreviousAddress: Address(binary.LittleEndian.Uint64(raw[8:16])),
	}
	off := recordInfoSize
	keyLen := int(binary.LittleEndian.Uint32(raw[off : off+4]))
	off += 4
	if off+keyLen+4 > len(raw) {
		return nil, 0
	}
	key := append([]byte(nil), raw[off:off+keyLen]...)
	off += keyLen
	valueLen := int(binary.LittleEndian.Uint32(raw[off : off+4]))
	off += 4
	if off+valueLen > len(raw) {
		return nil, 0
	}
	value := append([]byte(nil), raw[off:off+valueLen]...)
	off += valueLen
	return &record{info: info, key: key, value: value}, off
}
