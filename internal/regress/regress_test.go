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

package regress

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/mat"
)

func linePoints(n int, a0, b0, noise float64) (x, y []float64) {
	var rng fastrand.RNG
	rng.Seed(7)
	x, y = make([]float64, n), make([]float64, n)
	for i := range x {
		x[i] = float64(rng.Uint32n(1000))
		e := (float64(rng.Uint32n(1<<16))/float64(1<<16) - 0.5) * noise
		y[i] = a0 + b0*x[i] + e
	}
	return x, y
}

func TestOrthoExactLine(t *testing.T) {
	x, y := linePoints(100, -25, 0.5, 0)
	f, err := Ortho(x, y)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, f.Slope, 1e-9)
	assert.InDelta(t, -25, f.Intercept, 1e-6)
	assert.InDelta(t, 1, f.R, 1e-12)
}

func TestOrthoConvergesWithSamples(t *testing.T) {
	prevErr := math.Inf(1)
	for _, n := range []int{100, 10000} {
		x, y := linePoints(n, 10, 2, 4)
		f, err := Ortho(x, y)
		require.NoError(t, err)
		e := math.Abs(f.Slope-2) + math.Abs(f.Intercept-10)/1000
		assert.Less(t, e, 0.05, "n=%d fit %v", n, f)
		assert.Greater(t, f.R, 0.999)
		if n > 100 {
			assert.LessOrEqual(t, e, prevErr*2)
		}
		prevErr = e
	}
}

func TestOrthoNegativeSlope(t *testing.T) {
	x, y := linePoints(500, 300, -1.5, 0)
	f, err := Ortho(x, y)
	require.NoError(t, err)
	assert.InDelta(t, -1.5, f.Slope, 1e-9)
	assert.InDelta(t, -1, f.R, 1e-12)
	assert.InDelta(t, 300-1.5*4, f.Apply(4), 1e-6)
}

func TestOrthoDegenerate(t *testing.T) {
	_, err := Ortho([]float64{1, 1, 1}, []float64{1, 2, 3})
	assert.ErrorIs(t, err, ErrDegenerate)
	_, err = Ortho([]float64{1, 2, 3}, []float64{5, 5, 5})
	assert.ErrorIs(t, err, ErrDegenerate)
	_, err = Ortho([]float64{1}, []float64{5})
	assert.ErrorIs(t, err, ErrDegenerate)
	_, err = Ortho([]float64{1, 2}, []float64{5})
	assert.Error(t, err)
}

func TestFromMomentsMatchesOrtho(t *testing.T) {
	x, y := linePoints(1000, 3, 0.8, 10)
	want, err := Ortho(x, y)
	require.NoError(t, err)

	// population-normalized moments give the same line
	n := float64(len(x))
	var mx, my float64
	for i := range x {
		mx += x[i]
		my += y[i]
	}
	mx, my = mx/n, my/n
	var sxx, sxy, syy float64
	for i := range x {
		sxx += (x[i] - mx) * (x[i] - mx)
		sxy += (x[i] - mx) * (y[i] - my)
		syy += (y[i] - my) * (y[i] - my)
	}
	cov := mat.NewSymDense(2, []float64{sxx / n, sxy / n, sxy / n, syy / n})
	got, err := FromMoments(mx, my, cov)
	require.NoError(t, err)
	assert.InDelta(t, want.Slope, got.Slope, 1e-9)
	assert.InDelta(t, want.Intercept, got.Intercept, 1e-6)
	assert.InDelta(t, want.R, got.R, 1e-9)
}
