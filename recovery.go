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
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/pierrec/lz4/v4"
)

// RecoveryInfo reports what Recover found, including the per-session
// serial-number markers a caller hands to ContinueSession to resume
// exactly where the checkpointed prefix left off (§6, testable
// property 5).
type RecoveryInfo struct {
	Version         uint32
	ContinueTokens  map[string]uint64 // sessionGuid -> serialNum
}

// Recover reloads the index and hybrid log named by indexToken and
// hybridLogToken, replaying every record from BeginAddress to the
// checkpointed TailAddress back into a fresh hash index (§4.5).
func (s *Store) Recover(indexToken, hybridLogToken string) (*RecoveryInfo, error) {
	dir := s.cfg.CheckpointDirectory
	if dir == "" {
		return nil, errorf("Recover requires Config.CheckpointDirectory")
	}

	sizeBits, err := readIndexMeta(dir, indexToken)
	if err != nil {
		return nil, err
	}
	version, headAddr, beginAddr, tailAddr, guids, err := readHybridLogMeta(dir, hybridLogToken)
	if err != nil {
		return nil, err
	}

	tokens := make(map[string]uint64, len(guids))
	for _, guid := range guids {
		serial, err := readSessionMeta(dir, hybridLogToken, guid)
		if err != nil {
			return nil, err
		}
		tokens[guid] = serial
	}

	em := NewEpochManager()
	em.state.Store(packState(SystemState{Phase: PhaseRest, Version: version}))
	idx := NewHashIndex(em, sizeBits)

	s.epoch = em
	s.index = idx
	s.alloc.headAddress.Store(int64(headAddr))
	s.alloc.beginAddress.Store(int64(beginAddr))
	s.alloc.readOnly.Store(int64(tailAddr))
	s.alloc.safeReadOnly.Store(int64(tailAddr))
	s.alloc.tail.Store(int64(tailAddr))

	if err := s.replayLog(beginAddr, tailAddr); err != nil {
		return nil, err
	}

	return &RecoveryInfo{Version: version, ContinueTokens: tokens}, nil
}

// replayLog walks every page in [begin, tail) and re-inserts each
// record's logical address as the head of its key's bucket chain,
// newest address last so later writes correctly overwrite an earlier
// head for the same key.
type pageReadResult struct {
	recs map[Address]*record
	err  error
}

func (s *Store) replayLog(begin, tail Address) error {
	pageBits := s.alloc.pageBits
	firstPage := s.alloc.pageIndexOf(begin)
	lastPage := s.alloc.pageIndexOf(tail)
	for pageIndex := firstPage; pageIndex <= lastPage; pageIndex++ {
		segmentID, _ := segmentOf(Address(pageIndex<<pageBits), pageBits)
		result := make(chan pageReadResult, 1)
		s.device.ReadAsync(segmentID, 0, s.alloc.cfg.PageSize+8, func(data []byte, err error) {
			result <- decodeFlushedPage(data, err)
		})
		r := <-result
		if r.err != nil {
			continue // a missing/short segment means that page was never flushed; skip
		}
		s.alloc.mu.Lock()
		s.alloc.pages[pageIndex] = &logPage{index: pageIndex, records: r.recs}
		s.alloc.mu.Unlock()
		for addr, rec := range r.recs {
			if addr < begin || addr >= tail {
				continue
			}
			s.reinsertHead(addr, rec)
		}
	}
	return nil
}

// decodeFlushedPage mirrors allocator.go's AsyncGetFromDisk decode
// logic but returns every record in the page rather than a single
// addressed one, since replay needs them all.
func decodeFlushedPage(data []byte, err error) pageReadResult {
	if err != nil {
		return pageReadResult{err: err}
	}
	if len(data) < 8 {
		return pageReadResult{recs: map[Address]*record{}}
	}
	rawLen := binary.LittleEndian.Uint64(data[:8])
	raw := make([]byte, rawLen)
	n, derr := lz4.UncompressBlock(data[8:], raw)
	if derr != nil {
		return pageReadResult{err: derr}
	}
	return pageReadResult{recs: decodePage(raw[:n])}
}

func (s *Store) reinsertHead(addr Address, rec *record) {
	hash := s.keys.Hash(rec.key)
	for {
		b, existing, found := s.index.FindTag(hash)
		if found {
			if existing.address() >= addr {
				return // a newer head for this key already recorded
			}
			slots, idx := locateSlot(b, existing)
			if slots == nil {
				continue
			}
			newEntry := existing.withAddress(addr)
			if slots[idx].CompareAndSwap(uint64(existing), uint64(newEntry)) {
				return
			}
			continue
		}
		_, slotsEntries, slotIndex, reserved, created := s.index.FindOrCreateTag(hash)
		if !created {
			continue
		}
		final := reserved.withAddress(addr).withoutTentative()
		if PublishTentative(slotsEntries, slotIndex, reserved, final) {
			return
		}
	}
}

func readIndexMeta(dir, token string) (uint8, error) {
	path := fmt.Sprintf("%s/index-%s.meta", dir, token)
	line, err := readFirstLine(path)
	if err != nil {
		return 0, err
	}
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return 0, errorf("corrupt index checkpoint metadata %q", path)
	}
	bits, err := strconv.Atoi(parts[2])
	if err != nil {
		return 0, errorf("corrupt index checkpoint metadata %q: %v", path, err)
	}
	return uint8(bits), nil
}

func readHybridLogMeta(dir, token string) (version uint32, head, begin, tail Address, guids []string, err error) {
	path := fmt.Sprintf("%s/hybridlog-%s.meta", dir, token)
	f, err := os.Open(path)
	if err != nil {
		return 0, 0, 0, 0, nil, err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return 0, 0, 0, 0, nil, errorf("corrupt hybrid-log checkpoint metadata %q", path)
	}
	parts := strings.Split(scanner.Text(), ",")
	if len(parts) != 6 {
		return 0, 0, 0, 0, nil, errorf("corrupt hybrid-log checkpoint metadata %q", path)
	}
	v, _ := strconv.ParseUint(parts[1], 10, 32)
	h, _ := strconv.ParseInt(parts[2], 10, 64)
	b, _ := strconv.ParseInt(parts[3], 10, 64)
	t, _ := strconv.ParseInt(parts[4], 10, 64)
	numSessions, _ := strconv.Atoi(parts[5])
	for i := 0; i < numSessions && scanner.Scan(); i++ {
		guids = append(guids, scanner.Text())
	}
	return uint32(v), Address(h), Address(b), Address(t), guids, scanner.Err()
}

func readSessionMeta(dir, token, guid string) (uint64, error) {
	path := fmt.Sprintf("%s/session-%s-%s.meta", dir, token, guid)
	line, err := readFirstLine(path)
	if err != nil {
		return 0, err
	}
	parts := strings.Split(line, ",")
	if len(parts) != 3 {
		return 0, errorf("corrupt session checkpoint metadata %q", path)
	}
	serial, err := strconv.ParseUint(parts[2], 10, 64)
	if err != nil {
		return 0, errorf("corrupt session checkpoint metadata %q: %v", path, err)
	}
	return serial, nil
}

func readFirstLine(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	scanner := bufio.NewScanner(f)
	if !scanner.Scan() {
		return "", errorf("empty checkpoint metadata file %q", path)
	}
	return scanner.Text(), scanner.Err()
}
