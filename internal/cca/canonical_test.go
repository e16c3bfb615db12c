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

package cca

import (
	"math"
	"testing"

	"github.com/mlnoga/arrnorm/internal/stats"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/mat"
)

// uniform in [-0.5, 0.5)
func noise(rng *fastrand.RNG) float64 {
	return float64(rng.Uint32n(1<<20))/float64(1<<20) - 0.5
}

// Joint covariance of a synthetic bitemporal pair with the given number of
// bands per side. Target bands mix the reference bands plus independent noise.
func syntheticCovariance(t *testing.T, bands, samples int) (*mat.SymDense, []float64) {
	var rng fastrand.RNG
	rng.Seed(42)
	acc := stats.NewCovariance(2 * bands)
	rows := mat.NewDense(samples, 2*bands, nil)
	for s := 0; s < samples; s++ {
		for i := 0; i < bands; i++ {
			rows.Set(s, i, 100*noise(&rng)+float64(10*i))
		}
		for i := 0; i < bands; i++ {
			v := 0.0
			for k := 0; k < bands; k++ {
				w := 0.2
				if k == i {
					w = 1.5
				}
				v += w * rows.At(s, k)
			}
			rows.Set(s, bands+i, v+float64(5*(i+1))*noise(&rng)+50)
		}
	}
	require.NoError(t, acc.Update(rows, nil))
	cov, err := acc.Covariance()
	require.NoError(t, err)
	means, err := acc.Mean()
	require.NoError(t, err)
	return cov, means
}

func TestScalarClosedFormMatchesEigensolver(t *testing.T) {
	s11 := mat.NewSymDense(1, []float64{9})
	s22 := mat.NewSymDense(1, []float64{25})
	s12 := mat.NewDense(1, 1, []float64{12})

	mu2s, as, bs, err := solveScalar(s11, s22, s12)
	require.NoError(t, err)
	mu2g, ag, bg, err := solveGeneral(s11, s22, s12)
	require.NoError(t, err)

	assert.InDelta(t, mu2s[0], mu2g[0], 1e-12)
	assert.InDelta(t, 144.0/225.0, mu2s[0], 1e-12)
	assert.InDelta(t, math.Abs(as.At(0, 0)), math.Abs(ag.At(0, 0)), 1e-12)
	assert.InDelta(t, math.Abs(bs.At(0, 0)), math.Abs(bg.At(0, 0)), 1e-12)
}

func TestSolveProperties(t *testing.T) {
	cov, means := syntheticCovariance(t, 3, 2000)
	p, err := Solve(cov, means)
	require.NoError(t, err)
	require.Equal(t, 3, p.Bands())

	for j, r := range p.Rho {
		assert.GreaterOrEqual(t, r, 0.0)
		assert.LessOrEqual(t, r, 1.0)
		if j > 0 {
			assert.LessOrEqual(t, p.Rho[j-1], r)
		}
		assert.InDelta(t, math.Sqrt(2*(1-r)), p.SigMADs[j], 1e-12)
	}

	// canonical variates have unit variance
	s11 := subSym(cov, 0, 3)
	s22 := subSym(cov, 3, 3)
	var tmp, aSa, bSb mat.Dense
	tmp.Mul(s11, p.A)
	aSa.Mul(p.A.T(), &tmp)
	tmp.Reset()
	tmp.Mul(s22, p.B)
	bSb.Mul(p.B.T(), &tmp)
	assert.True(t, mat.EqualApprox(&aSa, eye(3), 1e-8))
	assert.True(t, mat.EqualApprox(&bSb, eye(3), 1e-8))

	assert.Equal(t, means[:3], p.Means1)
	assert.Equal(t, means[3:], p.Means2)
}

func TestCanonicalizeIdempotent(t *testing.T) {
	cov, means := syntheticCovariance(t, 2, 1000)
	p, err := Solve(cov, means)
	require.NoError(t, err)

	a := mat.DenseCopyOf(p.A)
	b := mat.DenseCopyOf(p.B)
	s11 := subSym(cov, 0, 2)
	s12 := mat.NewDense(2, 2, []float64{cov.At(0, 2), cov.At(0, 3), cov.At(1, 2), cov.At(1, 3)})
	Canonicalize(a, b, s11, s12)
	assert.True(t, mat.Equal(a, p.A))
	assert.True(t, mat.Equal(b, p.B))

	// flipping a column is undone
	flipCol(a, 1)
	flipCol(b, 0)
	Canonicalize(a, b, s11, s12)
	assert.True(t, mat.Equal(a, p.A))
	assert.True(t, mat.Equal(b, p.B))
}

func TestCanonicalizeZeroSumKeepsSign(t *testing.T) {
	s11 := mat.NewSymDense(1, []float64{1})
	s12 := mat.NewDense(1, 1, []float64{0})
	a := mat.NewDense(1, 1, []float64{0})
	b := mat.NewDense(1, 1, []float64{-1})
	Canonicalize(a, b, s11, s12)
	assert.Equal(t, 0.0, a.At(0, 0))
	assert.Equal(t, -1.0, b.At(0, 0))
}

func TestSolveSingular(t *testing.T) {
	// reference bands are identical
	cov := mat.NewSymDense(4, []float64{
		4, 4, 1, 1,
		4, 4, 1, 1,
		1, 1, 3, 0,
		1, 1, 0, 3,
	})
	_, err := Solve(cov, make([]float64, 4))
	assert.ErrorIs(t, err, ErrSingular)
}

func TestSolvePerfectCorrelation(t *testing.T) {
	cov := mat.NewSymDense(2, []float64{4, 4, 4, 4})
	p, err := Solve(cov, []float64{1, 1})
	require.NoError(t, err)
	assert.Equal(t, 1.0, p.Rho[0])
	assert.InDelta(t, math.Sqrt(MinMADVariance), p.SigMADs[0], 1e-15)
}

// target = 2*reference + 50 exactly: all correlations are one, and the
// target vectors must stay paired with the reference vectors
func TestSolveExactAffineRelation(t *testing.T) {
	s11 := []float64{4, 1, 1, 3}
	cov := mat.NewSymDense(4, []float64{
		s11[0], s11[1], 2 * s11[0], 2 * s11[1],
		s11[2], s11[3], 2 * s11[2], 2 * s11[3],
		2 * s11[0], 2 * s11[2], 4 * s11[0], 4 * s11[1],
		2 * s11[1], 2 * s11[3], 4 * s11[2], 4 * s11[3],
	})
	p, err := Solve(cov, []float64{1, 2, 52, 54})
	require.NoError(t, err)

	for j := range p.Rho {
		assert.InDelta(t, 1, p.Rho[j], 1e-6)
		assert.GreaterOrEqual(t, p.SigMADs[j], math.Sqrt(MinMADVariance))
	}
	var half mat.Dense
	half.Scale(0.5, p.A)
	assert.True(t, mat.EqualApprox(p.B, &half, 1e-9))

	mad := make([]float64, 2)
	chisqr := p.MAD([]float64{3, -1}, []float64{56, 48}, mad)
	assert.InDelta(t, 0, mad[0], 1e-9)
	assert.InDelta(t, 0, mad[1], 1e-9)
	assert.Less(t, chisqr, 1e-3)
}

func TestSolveOddDimension(t *testing.T) {
	_, err := Solve(mat.NewSymDense(3, nil), make([]float64, 3))
	assert.Error(t, err)
}

func TestMADChiSquare(t *testing.T) {
	p := &Params{
		A:       mat.NewDense(2, 2, []float64{1, 0, 0, 1}),
		B:       mat.NewDense(2, 2, []float64{2, 0, 0, 2}),
		Means1:  []float64{1, 1},
		Means2:  []float64{0, 0},
		SigMADs: []float64{1, 2},
		Rho:     []float64{0.5, 0.5},
	}
	mad := make([]float64, 2)
	chisqr := p.MAD([]float64{3, 5}, []float64{1, 1}, mad)
	// u = (2, 4), v = (2, 2)
	assert.Equal(t, []float64{0, 2}, mad)
	assert.InDelta(t, 1.0, chisqr, 1e-12)
}
