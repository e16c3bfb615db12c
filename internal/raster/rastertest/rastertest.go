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

// Package rastertest generates synthetic bitemporal raster pairs for tests.
package rastertest

import (
	"image"

	"github.com/mlnoga/arrnorm/internal/raster"
	"github.com/valyala/fastrand"
)

// Describes a synthetic pair. The target equals Gain*reference+Offset plus uniform
// noise of the given amplitude, except inside Change, where it is unrelated.
type PairOptions struct {
	Width, Height, Bands int
	Gain, Offset         float64
	Noise                float64
	Change               image.Rectangle
	Type                 raster.PixelType // defaults to Float32
	GeoTransform         raster.GeoTransform
	Projection           string
	Seed                 uint32
}

// Generates reference and target band data, each band in row-major order
func Generate(o PairOptions) (ref, tgt [][]float64) {
	var rng fastrand.RNG
	rng.Seed(o.Seed + 1)
	uniform := func() float64 { return float64(rng.Uint32n(1<<24)) / (1 << 24) }

	n := o.Width * o.Height
	ref = make([][]float64, o.Bands)
	tgt = make([][]float64, o.Bands)
	for k := range ref {
		ref[k] = make([]float64, n)
		tgt[k] = make([]float64, n)
	}
	for y := 0; y < o.Height; y++ {
		for x := 0; x < o.Width; x++ {
			i := y*o.Width + x
			shared := uniform()
			changed := image.Pt(x, y).In(o.Change)
			for k := 0; k < o.Bands; k++ {
				r := 100 + 20*float64(k) + 60*shared + 40*uniform()
				ref[k][i] = r
				if changed {
					tgt[k][i] = 50 + 300*uniform()
				} else {
					tgt[k][i] = o.Gain*r + o.Offset + o.Noise*(uniform()-0.5)
				}
			}
		}
	}
	return ref, tgt
}

// Stores a generated pair in the in-memory backend
func Pair(b *raster.MemBackend, refPath, tgtPath string, o PairOptions) error {
	ref, tgt := Generate(o)
	spec := SpecFor(o)
	if err := b.Put(refPath, spec, ref); err != nil {
		return err
	}
	return b.Put(tgtPath, spec, tgt)
}

// Raster spec of a generated pair
func SpecFor(o PairOptions) raster.Spec {
	t := o.Type
	if t == raster.Unknown {
		t = raster.Float32
	}
	gt := o.GeoTransform
	if gt == (raster.GeoTransform{}) {
		gt = raster.IdentityGeoTransform
	}
	return raster.Spec{Width: o.Width, Height: o.Height, Bands: o.Bands, Type: t, GeoTransform: gt, Projection: o.Projection}
}
