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

// Package raster provides band-addressable, row-streamed access to multi-band
// georeferenced rasters, with interchangeable storage backends.
package raster

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrNotFound = errors.New("raster not found")
	ErrBounds   = errors.New("access out of raster bounds")
)

// Native sample type of a raster
type PixelType int

const (
	Unknown PixelType = iota
	Byte
	UInt16
	Int16
	UInt32
	Int32
	Float32
	Float64
)

var pixelTypeNames = [...]string{"unknown", "byte", "uint16", "int16", "uint32", "int32", "float32", "float64"}

func (t PixelType) String() string {
	if t < 0 || int(t) >= len(pixelTypeNames) {
		return fmt.Sprintf("PixelType(%d)", int(t))
	}
	return pixelTypeNames[t]
}

// Parses a pixel type name as printed by String
func ParsePixelType(s string) (PixelType, error) {
	for i, n := range pixelTypeNames {
		if i > 0 && n == s {
			return PixelType(i), nil
		}
	}
	return Unknown, fmt.Errorf("unknown pixel type '%s'", s)
}

// Size of one sample in bytes
func (t PixelType) Size() int {
	switch t {
	case Byte:
		return 1
	case UInt16, Int16:
		return 2
	case UInt32, Int32, Float32:
		return 4
	case Float64:
		return 8
	}
	return 0
}

func (t PixelType) IsInteger() bool { return t >= Byte && t <= Int32 }

// Value range of an integer type. Floating point types return the infinities.
func (t PixelType) Range() (min, max float64) {
	switch t {
	case Byte:
		return 0, math.MaxUint8
	case UInt16:
		return 0, math.MaxUint16
	case Int16:
		return math.MinInt16, math.MaxInt16
	case UInt32:
		return 0, math.MaxUint32
	case Int32:
		return math.MinInt32, math.MaxInt32
	}
	return math.Inf(-1), math.Inf(1)
}

// Converts v to the nearest value representable in this type. Integer types
// round half away from zero and clamp to their range, NaN becomes 0.
func (t PixelType) Convert(v float64) float64 {
	switch {
	case t.IsInteger():
		if math.IsNaN(v) {
			return 0
		}
		min, max := t.Range()
		v = math.Round(v)
		if v < min {
			return min
		}
		if v > max {
			return max
		}
		return v
	case t == Float32:
		return float64(float32(v))
	}
	return v
}

// Whether every value of type o is exactly representable in t
func (t PixelType) holds(o PixelType) bool {
	if t == o {
		return true
	}
	if !t.IsInteger() {
		if !o.IsInteger() {
			return t.Size() >= o.Size()
		}
		return o.Size()*2 <= t.Size()
	}
	if !o.IsInteger() {
		return false
	}
	tmin, tmax := t.Range()
	omin, omax := o.Range()
	return tmin <= omin && tmax >= omax
}

// Returns the narrowest pixel type that holds all values of a and b
func Wider(a, b PixelType) PixelType {
	for t := Byte; t <= Float64; t++ {
		if t.holds(a) && t.holds(b) {
			return t
		}
	}
	return Float64
}

// Affine pixel-to-world transform: X = G[0] + col*G[1] + row*G[2],
// Y = G[3] + col*G[4] + row*G[5]. Rotation terms G[2] and G[4] are assumed zero.
type GeoTransform [6]float64

// Identity transform, pixel coordinates equal world coordinates
var IdentityGeoTransform = GeoTransform{0, 1, 0, 0, 0, 1}

// Returns the transform of the subwindow whose top-left pixel is (x0, y0)
func (g GeoTransform) Offset(x0, y0 int) GeoTransform {
	res := g
	res[0] = g[0] + float64(x0)*g[1] + float64(y0)*g[2]
	res[3] = g[3] + float64(x0)*g[4] + float64(y0)*g[5]
	return res
}

// Pixel width and height in world units
func (g GeoTransform) PixelSize() (float64, float64) { return g[1], g[5] }

// Geometry and sample format of a raster
type Spec struct {
	Width        int
	Height       int
	Bands        int
	Type         PixelType
	GeoTransform GeoTransform
	Projection   string
	NoData       float64 // no-data value, valid if HasNoData
	HasNoData    bool
}

func (s Spec) String() string {
	return fmt.Sprintf("%dx%dx%d %s", s.Width, s.Height, s.Bands, s.Type)
}

// Checks dimensions and pixel type
func (s Spec) Validate() error {
	if s.Width <= 0 || s.Height <= 0 || s.Bands <= 0 {
		return fmt.Errorf("invalid raster dimensions %dx%dx%d", s.Width, s.Height, s.Bands)
	}
	if s.Type.Size() == 0 {
		return fmt.Errorf("invalid pixel type %s", s.Type)
	}
	return nil
}

// Number of bytes of sample data
func (s Spec) DataSize() int64 {
	return int64(s.Width) * int64(s.Height) * int64(s.Bands) * int64(s.Type.Size())
}

// Read-only access to a raster. Bands are zero-based, rows run top to bottom.
type Reader interface {
	Size() (width, height, bands int)
	PixelType() PixelType
	GeoTransform() GeoTransform
	Projection() string
	NoData(band int) (value float64, ok bool)

	// Reads one full-width scan row of a band into dst, which must hold width values
	ReadRow(band, y int, dst []float64) error

	// Reads a cols x rows window of a band into dst in row-major order
	ReadWindow(band, x0, y0, cols, rows int, dst []float64) error

	Close() error
}

// Write access to a newly created raster
type Writer interface {
	Spec() Spec

	// Writes one full-width scan row of a band. Values are converted to the pixel type.
	WriteRow(band, y int, src []float64) error

	Flush() error
	Close() error
}

// Storage backend for rasters addressed by path
type Backend interface {
	Name() string
	Open(path string) (Reader, error)
	Create(path string, spec Spec) (Writer, error)
	Remove(path string) error
}

// Returns the spec of an open raster
func SpecOf(r Reader) Spec {
	w, h, b := r.Size()
	s := Spec{Width: w, Height: h, Bands: b, Type: r.PixelType(), GeoTransform: r.GeoTransform(), Projection: r.Projection()}
	s.NoData, s.HasNoData = r.NoData(0)
	return s
}

func checkWindow(width, height, bands, band, x0, y0, cols, rows, dstLen int) error {
	if band < 0 || band >= bands {
		return fmt.Errorf("%w: band %d of %d", ErrBounds, band, bands)
	}
	if x0 < 0 || y0 < 0 || cols < 0 || rows < 0 || x0+cols > width || y0+rows > height {
		return fmt.Errorf("%w: window (%d,%d)+%dx%d of %dx%d", ErrBounds, x0, y0, cols, rows, width, height)
	}
	if dstLen < cols*rows {
		return fmt.Errorf("buffer of %d values for %dx%d window", dstLen, cols, rows)
	}
	return nil
}
