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
	"fmt"

	"github.com/docker/go-units"
)

// Config is passed explicitly to NewStore; per Design Notes §9 the
// coordinator and allocator never read a process-global, unlike the
// teacher package's storage.Settings singleton.
type Config struct {
	// CheckpointDirectory holds the index, hybrid-log and per-session
	// checkpoint metadata (.meta) files; no ht.dat/ofb.dat/snapshot.dat
	// binary files are written.
	CheckpointDirectory string

	// IndexSizeBits is log2 of the initial bucket count.
	IndexSizeBits uint8

	// MemorySize and PageSize accept human sizes ("2GiB", "64MiB") parsed
	// with docker/go-units, the same library the teacher's sibling tools
	// in this pack use for human-readable byte quantities.
	MemorySize string
	PageSize   string

	SectorAlignment int

	// Device is the block-device capability (§6). If nil, NewStore
	// creates a FileDevice rooted at CheckpointDirectory+"/log".
	Device Device

	Functions Functions
	Keys      KeyOps

	// CopyReadsToTail enables the InternalContinuePendingRead tail
	// promotion described in §4.4.1.
	CopyReadsToTail bool
}

func (c Config) parsedMemorySize() (int64, error) {
	if c.MemorySize == "" {
		return 1 << 30, nil
	}
	return units.RAMInBytes(c.MemorySize)
}

func (c Config) parsedPageSize() (int64, error) {
	if c.PageSize == "" {
		return 1 << 20, nil
	}
	n, err := units.RAMInBytes(c.PageSize)
	if err != nil {
		return 0, err
	}
	if n&(n-1) != 0 {
		return 0, fmt.Errorf("hybridstore: page size %q must be a power of two", c.PageSize)
	}
	return n, nil
}

func (c Config) validate() error {
	if c.Functions == nil {
		return fmt.Errorf("hybridstore: Config.Functions is required")
	}
	if c.Keys == nil {
		return fmt.Errorf("hybridstore: Config.Keys is required")
	}
	if c.IndexSizeBits == 0 {
		return fmt.Errorf("hybridstore: Config.IndexSizeBits must be > 0")
	}
	return nil
}
