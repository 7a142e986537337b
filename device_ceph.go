//go:build ceph

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
	"sync"

	"github.com/ceph/go-ceph/rados"
)

// CephDeviceConfig configures a RADOS-backed device, grounded on
// storage/persistence-ceph.go's CephFactory.
type CephDeviceConfig struct {
	UserName        string
	ClusterName     string
	ConfFile        string
	Pool            string
	Prefix          string
	SectorAlignment int
	SegmentBytes    int64
}

// CephDevice stores one RADOS object per segment in cfg.Pool, named
// "<prefix>segment-<id>". Unlike S3, RADOS supports writes at an offset,
// so WriteAsync honors destOffset directly instead of replacing the
// whole object.
type CephDevice struct {
	cfg CephDeviceConfig

	mu      sync.Mutex
	conn    *rados.Conn
	ioctx   *rados.IOContext
	opened  bool
	openErr error
}

func NewCephDevice(cfg CephDeviceConfig) *CephDevice {
	return &CephDevice{cfg: cfg}
}

func (d *CephDevice) ensureOpen() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened {
		return d.openErr
	}
	d.opened = true
	conn, err := rados.NewConnWithClusterAndUser(d.cfg.ClusterName, d.cfg.UserName)
	if err != nil {
		d.openErr = err
		return err
	}
	if err := conn.ReadConfigFile(d.cfg.ConfFile); err != nil {
		d.openErr = err
		return err
	}
	if err := conn.Connect(); err != nil {
		d.openErr = err
		return err
	}
	ioctx, err := conn.OpenIOContext(d.cfg.Pool)
	if err != nil {
		d.openErr = err
		return err
	}
	d.conn = conn
	d.ioctx = ioctx
	return nil
}

func (d *CephDevice) objectName(segmentID int64) string {
	return fmt.Sprintf("%ssegment-%d", d.cfg.Prefix, segmentID)
}

func (d *CephDevice) WriteAsync(src []byte, segmentID int64, destOffset int64, callback func(err error)) {
	go func() {
		if err := d.ensureOpen(); err != nil {
			callback(err)
			return
		}
		callback(d.ioctx.Write(d.objectName(segmentID), src, uint64(destOffset)))
	}()
}

func (d *CephDevice) ReadAsync(segmentID int64, srcOffset int64, nBytes int64, callback func(data []byte, err error)) {
	go func() {
		if err := d.ensureOpen(); err != nil {
			callback(nil, err)
			return
		}
		buf := make([]byte, nBytes)
		n, err := d.ioctx.Read(d.objectName(segmentID), buf, uint64(srcOffset))
		if err != nil {
			callback(nil, err)
			return
		}
		callback(buf[:n], nil)
	}()
}

func (d *CephDevice) DeleteSegmentRange(fromSegment, toSegment int64) {
	go func() {
		if err := d.ensureOpen(); err != nil {
			return
		}
		for seg := fromSegment; seg < toSegment; seg++ {
			d.ioctx.Delete(d.objectName(seg))
		}
	}()
}

func (d *CephDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ioctx != nil {
		d.ioctx.Destroy()
	}
	if d.conn != nil {
		d.conn.Shutdown()
	}
	return nil
}

func (d *CephDevice) SectorSize() int    { return d.cfg.SectorAlignment }
func (d *CephDevice) SegmentSize() int64 { return d.cfg.SegmentBytes }
