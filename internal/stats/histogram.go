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
	"strings"
)

// Fixed-range histogram, filled incrementally. Used to summarize
// no-change probabilities in [0,1] for the log.
type Histogram struct {
	Min, Max float64
	Bins     []int64
	Outside  int64 // NaNs and values outside [Min,Max]
}

func NewHistogram(min, max float64, numBins int) *Histogram {
	return &Histogram{Min: min, Max: max, Bins: make([]int64, numBins)}
}

// Adds data to the histogram
func (h *Histogram) Add(data []float64) {
	scale := float64(len(h.Bins)) / (h.Max - h.Min)
	last := len(h.Bins) - 1
	for _, d := range data {
		if !(d >= h.Min && d <= h.Max) {
			h.Outside++
			continue
		}
		index := int((d - h.Min) * scale)
		if index > last {
			index = last
		}
		h.Bins[index]++
	}
}

// Returns the center and the count of the histogram peak
func (h *Histogram) Peak() (x float64, y int64) {
	maxIndex, maxValue := 0, int64(math.MinInt64)
	for i, v := range h.Bins {
		if v > maxValue {
			maxIndex, maxValue = i, v
		}
	}
	x = h.Min + (float64(maxIndex)+0.5)*(h.Max-h.Min)/float64(len(h.Bins))
	return x, maxValue
}

// Number of entries at or above x, rounded to bin boundaries
func (h *Histogram) CountAbove(x float64) (n int64) {
	binWidth := (h.Max - h.Min) / float64(len(h.Bins))
	for i, v := range h.Bins {
		if h.Min+float64(i)*binWidth >= x {
			n += v
		}
	}
	return n
}

func (h *Histogram) String() string {
	b := strings.Builder{}
	binWidth := (h.Max - h.Min) / float64(len(h.Bins))
	for i, v := range h.Bins {
		if i > 0 {
			b.WriteString(" ")
		}
		fmt.Fprintf(&b, "[%.2g,%.2g):%d", h.Min+float64(i)*binWidth, h.Min+float64(i+1)*binWidth, v)
	}
	return b.String()
}
