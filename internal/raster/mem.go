// Copyright (C) 2020 Markus L. Noga
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE.  See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with this program.  If not, see <https://www.gnu.org/licenses/>.

package raster

import (
	"errors"
	"fmt"
	"sync"

	"github.com/pbnjay/memory"
)

var ErrMemoryBudget = errors.New("in-memory raster exceeds memory budget")

// Keeps rasters in memory, addressed by path. Samples are stored as float64
// after conversion to the raster's pixel type. Safe for concurrent use.
type MemBackend struct {
	mu      sync.Mutex
	rasters map[string]*memRaster
	used    int64
	limit   int64 // bytes
}

type memRaster struct {
	spec Spec
	data [][]float64 // per band, row-major
}

// Creates an in-memory backend limited to the given number of megabytes.
// A limit of zero or less uses half the physical memory.
func NewMemBackend(limitMB int64) *MemBackend {
	limit := limitMB * 1024 * 1024
	if limit <= 0 {
		limit = int64(memory.TotalMemory() / 2)
	}
	return &MemBackend{rasters: make(map[string]*memRaster), limit: limit}
}

func (b *MemBackend) Name() string { return "mem" }

// Bytes currently held
func (b *MemBackend) Used() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.used
}

func (b *MemBackend) Open(path string) (Reader, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	r, ok := b.rasters[path]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	return &memReader{r: r}, nil
}

func (b *MemBackend) Create(path string, spec Spec) (Writer, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	size := int64(spec.Width) * int64(spec.Height) * int64(spec.Bands) * 8

	b.mu.Lock()
	defer b.mu.Unlock()
	freed := int64(0)
	if old, ok := b.rasters[path]; ok {
		freed = old.size()
	}
	if b.used-freed+size > b.limit {
		return nil, fmt.Errorf("%w: %s needs %d MB, %d of %d MB in use", ErrMemoryBudget, path,
			size/(1024*1024), b.used/(1024*1024), b.limit/(1024*1024))
	}
	r := &memRaster{spec: spec, data: make([][]float64, spec.Bands)}
	for i := range r.data {
		r.data[i] = make([]float64, spec.Width*spec.Height)
	}
	b.rasters[path] = r
	b.used += size - freed
	return &memWriter{r: r}, nil
}

func (b *MemBackend) Remove(path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if r, ok := b.rasters[path]; ok {
		b.used -= r.size()
		delete(b.rasters, path)
	}
	return nil
}

// Stores a raster directly, e.g. synthetic test data. Values are converted to the pixel type.
func (b *MemBackend) Put(path string, spec Spec, bands [][]float64) error {
	if len(bands) != spec.Bands {
		return fmt.Errorf("%d bands of data for %d bands", len(bands), spec.Bands)
	}
	w, err := b.Create(path, spec)
	if err != nil {
		return err
	}
	for band, data := range bands {
		if len(data) != spec.Width*spec.Height {
			b.Remove(path)
			return fmt.Errorf("band %d has %d values, want %d", band, len(data), spec.Width*spec.Height)
		}
		for y := 0; y < spec.Height; y++ {
			if err := w.WriteRow(band, y, data[y*spec.Width:(y+1)*spec.Width]); err != nil {
				return err
			}
		}
	}
	return w.Close()
}

func (r *memRaster) size() int64 {
	return int64(r.spec.Width) * int64(r.spec.Height) * int64(r.spec.Bands) * 8
}

type memReader struct {
	r *memRaster
}

func (m *memReader) Size() (int, int, int) {
	return m.r.spec.Width, m.r.spec.Height, m.r.spec.Bands
}
func (m *memReader) PixelType() PixelType            { return m.r.spec.Type }
func (m *memReader) GeoTransform() GeoTransform      { return m.r.spec.GeoTransform }
func (m *memReader) Projection() string              { return m.r.spec.Projection }
func (m *memReader) NoData(band int) (float64, bool) { return m.r.spec.NoData, m.r.spec.HasNoData }

func (m *memReader) ReadRow(band, y int, dst []float64) error {
	return m.ReadWindow(band, 0, y, m.r.spec.Width, 1, dst)
}

func (m *memReader) ReadWindow(band, x0, y0, cols, rows int, dst []float64) error {
	s := &m.r.spec
	if err := checkWindow(s.Width, s.Height, s.Bands, band, x0, y0, cols, rows, len(dst)); err != nil {
		return err
	}
	data := m.r.data[band]
	for y := 0; y < rows; y++ {
		start := (y0+y)*s.Width + x0
		copy(dst[y*cols:(y+1)*cols], data[start:start+cols])
	}
	return nil
}

func (m *memReader) Close() error { return nil }

type memWriter struct {
	r *memRaster
}

func (m *memWriter) Spec() Spec { return m.r.spec }

func (m *memWriter) WriteRow(band, y int, src []float64) error {
	s := &m.r.spec
	if err := checkWindow(s.Width, s.Height, s.Bands, band, 0, y, s.Width, 1, len(src)); err != nil {
		return err
	}
	row := m.r.data[band][y*s.Width : (y+1)*s.Width]
	for i := range row {
		row[i] = s.Type.Convert(src[i])
	}
	return nil
}

func (m *memWriter) Flush() error { return nil }
func (m *memWriter) Close() error { return nil }
