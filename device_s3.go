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
	"bytes"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3DeviceConfig configures an S3Device, grounded on
// storage/persistence-s3.go's S3Factory.
type S3DeviceConfig struct {
	AccessKeyID     string
	SecretAccessKey string
	Region          string
	Endpoint        string
	Bucket          string
	Prefix          string
	ForcePathStyle  bool
	SectorAlignment int
	SegmentBytes    int64
}

// S3Device stores one object per segment: "<prefix>/segment-<id>.dat".
// S3 has no in-place append or partial overwrite, so WriteAsync always
// buffers the full segment content it is given and replaces the object;
// callers are expected to write whole sealed pages, not small patches,
// which matches how the allocator's pager uses a Device (§4.2: flush a
// sealed page in one shot).
type S3Device struct {
	cfg S3DeviceConfig

	mu     sync.Mutex
	client *s3.Client
	opened bool
}

// NewS3Device creates an S3-backed device. The client connects lazily
// on first use.
func NewS3Device(cfg S3DeviceConfig) *S3Device {
	return &S3Device{cfg: cfg}
}

func (d *S3Device) ensureOpen() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.opened {
		return
	}
	ctx := context.Background()
	var opts []func(*config.LoadOptions) error
	if d.cfg.Region != "" {
		opts = append(opts, config.WithRegion(d.cfg.Region))
	}
	if d.cfg.AccessKeyID != "" && d.cfg.SecretAccessKey != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(d.cfg.AccessKeyID, d.cfg.SecretAccessKey, ""),
		))
	}
	awsCfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		panic(fmt.Sprintf("hybridstore: S3Device failed to load AWS config: %v", err))
	}
	var s3Opts []func(*s3.Options)
	if d.cfg.Endpoint != "" {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.BaseEndpoint = aws.String(d.cfg.Endpoint) })
	}
	if d.cfg.ForcePathStyle {
		s3Opts = append(s3Opts, func(o *s3.Options) { o.UsePathStyle = true })
	}
	d.client = s3.NewFromConfig(awsCfg, s3Opts...)
	d.opened = true
}

func (d *S3Device) objectKey(segmentID int64) string {
	if d.cfg.Prefix != "" {
		return fmt.Sprintf("%s/segment-%d.dat", d.cfg.Prefix, segmentID)
	}
	return fmt.Sprintf("segment-%d.dat", segmentID)
}

func (d *S3Device) WriteAsync(src []byte, segmentID int64, destOffset int64, callback func(err error)) {
	go func() {
		d.ensureOpen()
		// destOffset is ignored: S3 objects are replaced whole (see type doc).
		_, err := d.client.PutObject(context.Background(), &s3.PutObjectInput{
			Bucket: aws.String(d.cfg.Bucket),
			Key:    aws.String(d.objectKey(segmentID)),
			Body:   bytes.NewReader(src),
		})
		callback(err)
	}()
}

func (d *S3Device) ReadAsync(segmentID int64, srcOffset int64, nBytes int64, callback func(data []byte, err error)) {
	go func() {
		d.ensureOpen()
		rng := fmt.Sprintf("bytes=%d-%d", srcOffset, srcOffset+nBytes-1)
		resp, err := d.client.GetObject(context.Background(), &s3.GetObjectInput{
			Bucket: aws.String(d.cfg.Bucket),
			Key:    aws.String(d.objectKey(segmentID)),
			Range:  aws.String(rng),
		})
		if err != nil {
			callback(nil, err)
			return
		}
		defer resp.Body.Close()
		data, err := io.ReadAll(resp.Body)
		callback(data, err)
	}()
}

func (d *S3Device) DeleteSegmentRange(fromSegment, toSegment int64) {
	go func() {
		d.ensureOpen()
		for seg := fromSegment; seg < toSegment; seg++ {
			d.client.DeleteObject(context.Background(), &s3.DeleteObjectInput{
				Bucket: aws.String(d.cfg.Bucket),
				Key:    aws.String(d.objectKey(seg)),
			})
		}
	}()
}

func (d *S3Device) Close() error { return nil }

func (d *S3Device) SectorSize() int    { return d.cfg.SectorAlignment }
func (d *S3Device) SegmentSize() int64 { return d.cfg.SegmentBytes }
