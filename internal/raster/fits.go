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
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strconv"

	"github.com/rs/zerolog"
)

// Header keys for georeferencing, which standard FITS lacks
const (
	keyGeoTransform = "GEOTRAN"
	keyProjection   = "PROJECTN"
	keyNoData       = "NODATA"
)

// Rasters stored as FITS primary HDU image cubes, with NAXIS1 columns,
// NAXIS2 rows and NAXIS3 bands. Rows are read and written in place.
// Spec here:   https://fits.gsfc.nasa.gov/standard40/fits_standard40aa-le.pdf
type FITSBackend struct {
	Log zerolog.Logger
}

func NewFITSBackend(log zerolog.Logger) *FITSBackend {
	return &FITSBackend{Log: log.With().Str("backend", "fits").Logger()}
}

func (b *FITSBackend) Name() string { return "fits" }

func (b *FITSBackend) Open(path string) (Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
		}
		return nil, err
	}
	r, err := newFITSReader(f, func(msg string) { b.Log.Warn().Str("file", path).Msg(msg) })
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return r, nil
}

func (b *FITSBackend) Create(path string, spec Spec) (Writer, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0644)
	if err != nil {
		return nil, err
	}
	w, err := newFITSWriter(f, spec)
	if err != nil {
		f.Close()
		os.Remove(path)
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return w, nil
}

func (b *FITSBackend) Remove(path string) error {
	err := os.Remove(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}

// Sample encoding of a FITS data unit
type fitsFormat struct {
	bitpix int64
	bzero  float64
	bscale float64
}

func formatFor(t PixelType) fitsFormat {
	switch t {
	case Byte:
		return fitsFormat{8, 0, 1}
	case Int16:
		return fitsFormat{16, 0, 1}
	case UInt16:
		return fitsFormat{16, 32768, 1}
	case Int32:
		return fitsFormat{32, 0, 1}
	case UInt32:
		return fitsFormat{32, 2147483648, 1}
	case Float32:
		return fitsFormat{-32, 0, 1}
	}
	return fitsFormat{-64, 0, 1}
}

// Pixel type represented by the format, recognizing the unsigned BZERO convention
func (f fitsFormat) pixelType() PixelType {
	switch f.bitpix {
	case 8:
		return Byte
	case 16:
		if f.bzero == 32768 && f.bscale == 1 {
			return UInt16
		}
		if f.bzero == 0 && f.bscale == 1 {
			return Int16
		}
	case 32:
		if f.bzero == 2147483648 && f.bscale == 1 {
			return UInt32
		}
		if f.bzero == 0 && f.bscale == 1 {
			return Int32
		}
	case -32:
		return Float32
	}
	return Float64
}

func (f fitsFormat) sampleSize() int {
	s := int(f.bitpix / 8)
	if s < 0 {
		return -s
	}
	return s
}

// Decodes big-endian samples from buf into dst, applying BSCALE and BZERO
func (f fitsFormat) decode(dst []float64, buf []byte) {
	switch f.bitpix {
	case 8:
		for i := range dst {
			dst[i] = float64(buf[i])*f.bscale + f.bzero
		}
	case 16:
		for i := range dst {
			dst[i] = float64(int16(binary.BigEndian.Uint16(buf[2*i:])))*f.bscale + f.bzero
		}
	case 32:
		for i := range dst {
			dst[i] = float64(int32(binary.BigEndian.Uint32(buf[4*i:])))*f.bscale + f.bzero
		}
	case 64:
		for i := range dst {
			dst[i] = float64(int64(binary.BigEndian.Uint64(buf[8*i:])))*f.bscale + f.bzero
		}
	case -32:
		for i := range dst {
			dst[i] = float64(math.Float32frombits(binary.BigEndian.Uint32(buf[4*i:])))*f.bscale + f.bzero
		}
	case -64:
		for i := range dst {
			dst[i] = math.Float64frombits(binary.BigEndian.Uint64(buf[8*i:]))*f.bscale + f.bzero
		}
	}
}

// Encodes values of the given pixel type into big-endian samples
func (f fitsFormat) encode(buf []byte, src []float64, t PixelType) {
	for i, v := range src {
		v = (t.Convert(v) - f.bzero) / f.bscale
		switch f.bitpix {
		case 8:
			buf[i] = uint8(v)
		case 16:
			binary.BigEndian.PutUint16(buf[2*i:], uint16(int16(v)))
		case 32:
			binary.BigEndian.PutUint32(buf[4*i:], uint32(int32(v)))
		case -32:
			binary.BigEndian.PutUint32(buf[4*i:], math.Float32bits(float32(v)))
		case -64:
			binary.BigEndian.PutUint64(buf[8*i:], math.Float64bits(v))
		}
	}
}

type fitsReader struct {
	f      *os.File
	header fitsHeader
	format fitsFormat
	spec   Spec
	buf    []byte
}

func newFITSReader(f *os.File, warn func(string)) (*fitsReader, error) {
	r := &fitsReader{f: f, header: newFitsHeader()}
	h := &r.header
	if err := h.read(bufio.NewReader(f), warn); err != nil {
		return nil, err
	}

	// check mandatory fields as per standard
	if !h.Bools["SIMPLE"] {
		return nil, fmt.Errorf("not a valid FITS file; SIMPLE=T missing in header")
	}
	var err error
	if r.format.bitpix, err = h.popInt("BITPIX"); err != nil {
		return nil, err
	}
	switch r.format.bitpix {
	case 8, 16, 32, 64, -32, -64:
	default:
		return nil, fmt.Errorf("unknown BITPIX value %d", r.format.bitpix)
	}
	naxis, err := h.popInt("NAXIS")
	if err != nil {
		return nil, err
	}
	if naxis < 2 || naxis > 3 {
		return nil, fmt.Errorf("NAXIS=%d, want 2 or 3", naxis)
	}
	naxisn := []int64{1, 1, 1}
	for i := int64(1); i <= naxis; i++ {
		if naxisn[i-1], err = h.popInt("NAXIS" + strconv.FormatInt(i, 10)); err != nil {
			return nil, err
		}
	}
	if r.format.bzero, err = h.popIntOrFloat("BZERO"); err != nil {
		r.format.bzero = 0
	}
	if r.format.bscale, err = h.popIntOrFloat("BSCALE"); err != nil {
		r.format.bscale = 1
	}

	r.spec = Spec{
		Width:        int(naxisn[0]),
		Height:       int(naxisn[1]),
		Bands:        int(naxisn[2]),
		Type:         r.format.pixelType(),
		GeoTransform: IdentityGeoTransform,
		Projection:   h.Strings[keyProjection],
	}
	for i := range r.spec.GeoTransform {
		if v, err := h.popIntOrFloat(keyGeoTransform + strconv.Itoa(i)); err == nil {
			r.spec.GeoTransform[i] = v
		}
	}
	if v, err := h.popIntOrFloat(keyNoData); err == nil {
		r.spec.NoData, r.spec.HasNoData = v, true
	}
	if err := r.spec.Validate(); err != nil {
		return nil, err
	}
	r.buf = make([]byte, r.spec.Width*r.format.sampleSize())
	return r, nil
}

func (r *fitsReader) Size() (int, int, int)      { return r.spec.Width, r.spec.Height, r.spec.Bands }
func (r *fitsReader) PixelType() PixelType       { return r.spec.Type }
func (r *fitsReader) GeoTransform() GeoTransform { return r.spec.GeoTransform }
func (r *fitsReader) Projection() string         { return r.spec.Projection }

func (r *fitsReader) NoData(band int) (float64, bool) { return r.spec.NoData, r.spec.HasNoData }

// Byte offset of the sample at (band, x, y)
func (r *fitsReader) offset(band, x, y int) int64 {
	s := &r.spec
	idx := (int64(band)*int64(s.Height)+int64(y))*int64(s.Width) + int64(x)
	return r.header.Length + idx*int64(r.format.sampleSize())
}

func (r *fitsReader) ReadRow(band, y int, dst []float64) error {
	return r.ReadWindow(band, 0, y, r.spec.Width, 1, dst)
}

func (r *fitsReader) ReadWindow(band, x0, y0, cols, rows int, dst []float64) error {
	s := &r.spec
	if err := checkWindow(s.Width, s.Height, s.Bands, band, x0, y0, cols, rows, len(dst)); err != nil {
		return err
	}
	n := cols * r.format.sampleSize()
	for y := 0; y < rows; y++ {
		if _, err := r.f.ReadAt(r.buf[:n], r.offset(band, x0, y0+y)); err != nil {
			return fmt.Errorf("band %d row %d: %w", band, y0+y, err)
		}
		r.format.decode(dst[y*cols:(y+1)*cols], r.buf[:n])
	}
	return nil
}

func (r *fitsReader) Close() error { return r.f.Close() }

type fitsWriter struct {
	f          *os.File
	spec       Spec
	format     fitsFormat
	headerSize int64
	buf        []byte
}

func newFITSWriter(f *os.File, spec Spec) (*fitsWriter, error) {
	w := &fitsWriter{f: f, spec: spec, format: formatFor(spec.Type)}

	cw := cardWriter{}
	cw.writeBool("SIMPLE", true, "FITS standard 4.0")
	cw.writeInt("BITPIX", w.format.bitpix, "")
	cw.writeInt("NAXIS", 3, "[1] Number of axis")
	cw.writeInt("NAXIS1", int64(spec.Width), "[1] Columns")
	cw.writeInt("NAXIS2", int64(spec.Height), "[1] Rows")
	cw.writeInt("NAXIS3", int64(spec.Bands), "[1] Bands")
	if w.format.bzero != 0 {
		cw.writeFloat("BZERO", w.format.bzero, "[1] Zero offset")
		cw.writeFloat("BSCALE", w.format.bscale, "[1] Value scaler")
	}
	for i, v := range spec.GeoTransform {
		cw.writeFloat(keyGeoTransform+strconv.Itoa(i), v, "Affine pixel to world transform")
	}
	if spec.HasNoData && isCardFloat(spec.NoData) {
		cw.writeFloat(keyNoData, spec.NoData, "No-data value")
	}
	if spec.Projection != "" {
		cw.writeString(keyProjection, spec.Projection)
	}
	cw.writeEnd()

	header := cw.bytes()
	if _, err := f.WriteAt(header, 0); err != nil {
		return nil, err
	}
	w.headerSize = int64(len(header))

	// preallocate the data unit, padded to full blocks
	size := w.headerSize + spec.DataSize()
	if rem := size % fitsBlockSize; rem > 0 {
		size += fitsBlockSize - rem
	}
	if err := f.Truncate(size); err != nil {
		return nil, err
	}
	w.buf = make([]byte, spec.Width*spec.Type.Size())
	return w, nil
}

func (w *fitsWriter) Spec() Spec { return w.spec }

func (w *fitsWriter) WriteRow(band, y int, src []float64) error {
	s := &w.spec
	if err := checkWindow(s.Width, s.Height, s.Bands, band, 0, y, s.Width, 1, len(src)); err != nil {
		return err
	}
	w.format.encode(w.buf, src[:s.Width], s.Type)
	off := w.headerSize + (int64(band)*int64(s.Height)+int64(y))*int64(s.Width)*int64(s.Type.Size())
	if _, err := w.f.WriteAt(w.buf, off); err != nil {
		return fmt.Errorf("band %d row %d: %w", band, y, err)
	}
	return nil
}

func (w *fitsWriter) Flush() error { return w.f.Sync() }

func (w *fitsWriter) Close() error { return w.f.Close() }
