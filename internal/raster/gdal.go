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

//go:build gdal

package raster

import (
	"fmt"

	"github.com/lukeroth/gdal"
)

// Rasters in any format GDAL reads. New rasters use the configured driver.
type GDALBackend struct {
	Driver string // e.g. "GTiff"
}

func init() {
	factories["gdal"] = func(o Options) Backend { return NewGDALBackend(o.GDALDriver) }
}

func NewGDALBackend(driver string) *GDALBackend {
	if driver == "" {
		driver = "GTiff"
	}
	return &GDALBackend{Driver: driver}
}

func (b *GDALBackend) Name() string { return "gdal" }

func (b *GDALBackend) Open(path string) (Reader, error) {
	ds, err := gdal.Open(path, gdal.ReadOnly)
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %s", ErrNotFound, path, err.Error())
	}
	if ds.RasterXSize() == 0 || ds.RasterYSize() == 0 || ds.RasterCount() == 0 {
		ds.Close()
		return nil, fmt.Errorf("%s: missing width, height or bands", path)
	}
	return &gdalReader{ds: ds}, nil
}

func (b *GDALBackend) Create(path string, spec Spec) (Writer, error) {
	if err := spec.Validate(); err != nil {
		return nil, err
	}
	driver, err := gdal.GetDriverByName(b.Driver)
	if err != nil {
		return nil, err
	}
	ds := driver.Create(path, spec.Width, spec.Height, spec.Bands, toGDALType(spec.Type), nil)
	if ds.RasterCount() != spec.Bands {
		return nil, fmt.Errorf("couldn't create output %s", path)
	}
	if err := ds.SetGeoTransform([6]float64(spec.GeoTransform)); err != nil {
		ds.Close()
		return nil, err
	}
	if spec.Projection != "" {
		if err := ds.SetProjection(spec.Projection); err != nil {
			ds.Close()
			return nil, err
		}
	}
	if spec.HasNoData {
		for i := 1; i <= spec.Bands; i++ {
			band := ds.RasterBand(i)
			if err := band.SetNoDataValue(spec.NoData); err != nil {
				ds.Close()
				return nil, err
			}
		}
	}
	return &gdalWriter{ds: ds, spec: spec}, nil
}

func (b *GDALBackend) Remove(path string) error {
	driver, err := gdal.GetDriverByName(b.Driver)
	if err != nil {
		return err
	}
	return driver.DeleteDataset(path)
}

func toGDALType(t PixelType) gdal.DataType {
	switch t {
	case Byte:
		return gdal.Byte
	case UInt16:
		return gdal.UInt16
	case Int16:
		return gdal.Int16
	case UInt32:
		return gdal.UInt32
	case Int32:
		return gdal.Int32
	case Float32:
		return gdal.Float32
	}
	return gdal.Float64
}

func fromGDALType(t gdal.DataType) PixelType {
	switch t {
	case gdal.Byte:
		return Byte
	case gdal.UInt16:
		return UInt16
	case gdal.Int16:
		return Int16
	case gdal.UInt32:
		return UInt32
	case gdal.Int32:
		return Int32
	case gdal.Float32:
		return Float32
	}
	return Float64
}

type gdalReader struct {
	ds gdal.Dataset
}

func (r *gdalReader) Size() (int, int, int) {
	return r.ds.RasterXSize(), r.ds.RasterYSize(), r.ds.RasterCount()
}

func (r *gdalReader) PixelType() PixelType {
	return fromGDALType(r.ds.RasterBand(1).RasterDataType())
}

func (r *gdalReader) GeoTransform() GeoTransform {
	return GeoTransform(r.ds.GeoTransform())
}

func (r *gdalReader) Projection() string { return r.ds.Projection() }

func (r *gdalReader) NoData(band int) (float64, bool) {
	return r.ds.RasterBand(band + 1).NoDataValue()
}

func (r *gdalReader) ReadRow(band, y int, dst []float64) error {
	return r.ReadWindow(band, 0, y, r.ds.RasterXSize(), 1, dst)
}

func (r *gdalReader) ReadWindow(band, x0, y0, cols, rows int, dst []float64) error {
	w, h, bands := r.Size()
	if err := checkWindow(w, h, bands, band, x0, y0, cols, rows, len(dst)); err != nil {
		return err
	}
	return r.ds.RasterBand(band+1).IO(gdal.Read, x0, y0, cols, rows, dst[:cols*rows], cols, rows, 0, 0)
}

func (r *gdalReader) Close() error {
	r.ds.Close()
	return nil
}

type gdalWriter struct {
	ds   gdal.Dataset
	spec Spec
	buf  []float64
}

func (w *gdalWriter) Spec() Spec { return w.spec }

func (w *gdalWriter) WriteRow(band, y int, src []float64) error {
	s := &w.spec
	if err := checkWindow(s.Width, s.Height, s.Bands, band, 0, y, s.Width, 1, len(src)); err != nil {
		return err
	}
	if w.buf == nil {
		w.buf = make([]float64, s.Width)
	}
	for i := range w.buf {
		w.buf[i] = s.Type.Convert(src[i])
	}
	return w.ds.RasterBand(band+1).IO(gdal.Write, 0, y, s.Width, 1, w.buf, s.Width, 1, 0, 0)
}

func (w *gdalWriter) Flush() error {
	w.ds.FlushCache()
	return nil
}

func (w *gdalWriter) Close() error {
	w.ds.Close()
	return nil
}
