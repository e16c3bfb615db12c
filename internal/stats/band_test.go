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
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBandStats(t *testing.T) {
	s := NewBandStats()
	s.Add([]float64{0, 2, 4})
	s.Add([]float64{math.NaN(), 6, math.Inf(-1)})

	assert.Equal(t, int64(6), s.Count)
	assert.Equal(t, int64(2), s.NonFinite)
	assert.Equal(t, int64(3), s.NonZero)
	assert.Equal(t, 0.0, s.Min)
	assert.Equal(t, 6.0, s.Max)
	assert.InDelta(t, 3.0, s.Mean(), 1e-12)
	assert.InDelta(t, math.Sqrt(5), s.StdDev(), 1e-12)
	assert.False(t, s.AllZero())
}

func TestBandStatsAllZero(t *testing.T) {
	s := NewBandStats()
	s.Add([]float64{0, 0, math.NaN()})
	assert.True(t, s.AllZero())
}

func TestHistogram(t *testing.T) {
	h := NewHistogram(0, 1, 10)
	h.Add([]float64{0, 0.05, 0.96, 1, 1, 1, math.NaN(), 1.5})
	assert.Equal(t, int64(2), h.Bins[0])
	assert.Equal(t, int64(4), h.Bins[9])
	assert.Equal(t, int64(2), h.Outside)
	x, y := h.Peak()
	assert.InDelta(t, 0.95, x, 1e-12)
	assert.Equal(t, int64(4), y)
	assert.Equal(t, int64(4), h.CountAbove(0.9))
}
