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

package stats

import (
	"fmt"
	"math"
)

// Basic statistics on a raster band, accumulated row by row.
// Non-finite samples are counted but excluded from min, max and moments.
type BandStats struct {
	Count     int64 // number of samples seen
	NonFinite int64 // NaN or Inf samples
	NonZero   int64 // finite samples different from zero

	Min float64
	Max float64

	mean float64
	m2   float64
	n    int64
}

func NewBandStats() *BandStats {
	return &BandStats{Min: math.Inf(1), Max: math.Inf(-1)}
}

// Adds a row of samples
func (s *BandStats) Add(row []float64) {
	for _, v := range row {
		s.Count++
		if math.IsNaN(v) || math.IsInf(v, 0) {
			s.NonFinite++
			continue
		}
		if v != 0 {
			s.NonZero++
		}
		if v < s.Min {
			s.Min = v
		}
		if v > s.Max {
			s.Max = v
		}
		s.n++
		d := v - s.mean
		s.mean += d / float64(s.n)
		s.m2 += d * (v - s.mean)
	}
}

func (s *BandStats) Mean() float64 { return s.mean }

func (s *BandStats) StdDev() float64 {
	if s.n == 0 {
		return 0
	}
	return math.Sqrt(s.m2 / float64(s.n))
}

// True if the band holds nothing but zeros, NaNs or Infs
func (s *BandStats) AllZero() bool { return s.NonZero == 0 }

// Pretty print band stats to string
func (s *BandStats) String() string {
	return fmt.Sprintf("Min %.6g Max %.6g Mean %.6g StdDev %.6g NonZero %d/%d",
		s.Min, s.Max, s.Mean(), s.StdDev(), s.NonZero, s.Count)
}
