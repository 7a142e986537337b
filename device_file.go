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
	"io"
	"os"
	"sync"
)

// FileDevice stores one file per segment under a base directory,
// grounded on storage/persistence-files.go's FileStorage: one physical
// file per shard/segment, opened lazily and kept around for the
// device's lifetime.
type FileDevice struct {
	dir         string
	sectorSize  int
	segmentSize int64

	mu    sync.Mutex
	files map[int64]*os.File
}

// NewFileDevice creates (or reopens) a segment-file device rooted at dir.
func NewFileDevice(dir string, sectorSize int, segmentSize int64) *FileDevice {
	os.MkdirAll(dir, 0750)
	return &FileDevice{
		dir:         dir,
		sectorSize:  sectorSize,
		segmentSize: segmentSize,
		files:       make(map[int64]*os.File),
	}
}

func (d *FileDevice) segmentPath(segmentID int64) string {
	return fmt.Sprintf("%s/segment-%d.dat", d.dir, segmentID)
}

func (d *FileDevice) fileFor(segmentID int64) (*os.File, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if f, ok := d.files[segmentID]; ok {
		return f, nil
	}
	f, err := os.OpenFile(d.segmentPath(segmentID), os.O_RDWR|os.O_CREATE, 0640)
	if err != nil {
		return nil, err
	}
	d.files[segmentID] = f
	return f, nil
}

func (d *FileDevice) WriteAsync(src []byte, segmentID int64, destOffset int64, callback func(err error)) {
	go func() {
		f, err := d.fileFor(segmentID)
		if err != nil {
			callback(err)
			return
		}
		_, err = f.WriteAt(src, destOffset)
		callback(err)
	}()
}

func (d *FileDevice) ReadAsync(segmentID int64, srcOffset int64, nBytes int64, callback func(data []byte, err error)) {
	go func() {
		f, err := d.fileFor(segmentID)
		if err != nil {
			callback(nil, err)
			return
		}
		buf := make([]byte, nBytes)
		n, err := f.ReadAt(buf, srcOffset)
		if err == io.EOF {
			err = nil
		}
		callback(buf[:n], err)
	}()
}

func (d *FileDevice) DeleteSegmentRange(fromSegment, toSegment int64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for seg := fromSegment; seg < toSegment; seg++ {
		if f, ok := d.files[seg]; ok {
			f.Close()
			delete(d.files, seg)
		}
		os.Remove(d.segmentPath(seg))
	}
}

func (d *FileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	var firstErr error
	for _, f := range d.files {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (d *FileDevice) SectorSize() int    { return d.sectorSize }
func (d *FileDevice) SegmentSize() int64 { return d.segmentSize }
