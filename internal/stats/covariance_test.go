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
	"github.com/stretchr/testify/require"
	"github.com/valyala/fastrand"
	"gonum.org/v1/gonum/mat"
)

func randomBatch(rng *fastrand.RNG, rows, cols int) *mat.Dense {
	data := make([]float64, rows*cols)
	for i := range data {
		data[i] = float64(rng.Uint32n(10000))/100 - 30
	}
	return mat.NewDense(rows, cols, data)
}

// Two-pass reference implementation
func directWeighted(x *mat.Dense, w []float64) (mean []float64, cov *mat.SymDense) {
	rows, cols := x.Dims()
	mean = make([]float64, cols)
	total := 0.0
	for i := 0; i < rows; i++ {
		total += w[i]
		for j := 0; j < cols; j++ {
			mean[j] += w[i] * x.At(i, j)
		}
	}
	for j := range mean {
		mean[j] /= total
	}
	cov = mat.NewSymDense(cols, nil)
	for j := 0; j < cols; j++ {
		for k := 0; k <= j; k++ {
			s := 0.0
			for i := 0; i < rows; i++ {
				s += w[i] * (x.At(i, j) - mean[j]) * (x.At(i, k) - mean[k])
			}
			cov.SetSym(j, k, s/total)
		}
	}
	return mean, cov
}

func TestCovarianceMatchesTwoPass(t *testing.T) {
	rng := fastrand.RNG{}
	x := randomBatch(&rng, 300, 4)
	w := make([]float64, 300)
	for i := range w {
		w[i] = float64(rng.Uint32n(1000)) / 1000
	}

	c := NewCovariance(4)
	// feed in uneven row batches
	for start := 0; start < 300; {
		end := start + 1 + int(rng.Uint32n(37))
		if end > 300 {
			end = 300
		}
		require.NoError(t, c.Update(x.Slice(start, end, 0, 4), w[start:end]))
		start = end
	}

	wantMean, wantCov := directWeighted(x, w)
	gotMean, err := c.Mean()
	require.NoError(t, err)
	gotCov, err := c.Covariance()
	require.NoError(t, err)

	for j := range wantMean {
		assert.InDelta(t, wantMean[j], gotMean[j], 1e-9, "mean[%d]", j)
	}
	assert.True(t, mat.EqualApprox(wantCov, gotCov, 1e-8), "covariance\nwant %v\ngot  %v", mat.Formatted(wantCov), mat.Formatted(gotCov))
}

func TestCovarianceUnweightedIsPopulation(t *testing.T) {
	x := mat.NewDense(4, 2, []float64{
		1, 2,
		2, 4,
		3, 6,
		4, 8,
	})
	c := NewCovariance(2)
	require.NoError(t, c.Update(x, nil))
	cov, err := c.Covariance()
	require.NoError(t, err)
	assert.InDelta(t, 1.25, cov.At(0, 0), 1e-12)
	assert.InDelta(t, 2.5, cov.At(0, 1), 1e-12)
	assert.InDelta(t, 5.0, cov.At(1, 1), 1e-12)
	assert.Equal(t, 4.0, c.Weight())
}

func TestCovarianceRejectsNegativeWeights(t *testing.T) {
	rng := fastrand.RNG{}
	c := NewCovariance(3)
	require.NoError(t, c.Update(randomBatch(&rng, 10, 3), nil))
	before, _ := c.Mean()

	err := c.Update(randomBatch(&rng, 3, 3), []float64{1, -0.5, 1})
	assert.ErrorIs(t, err, ErrNegativeWeight)
	err = c.Update(randomBatch(&rng, 1, 3), []float64{math.NaN()})
	assert.ErrorIs(t, err, ErrNegativeWeight)

	after, _ := c.Mean()
	assert.Equal(t, before, after)
	assert.Equal(t, 10.0, c.Weight())
}

func TestCovarianceZeroWeightsAreNoOp(t *testing.T) {
	rng := fastrand.RNG{}
	c := NewCovariance(2)
	require.NoError(t, c.Update(randomBatch(&rng, 20, 2), nil))
	meanBefore, _ := c.Mean()
	covBefore, _ := c.Covariance()

	require.NoError(t, c.Update(randomBatch(&rng, 5, 2), make([]float64, 5)))

	meanAfter, _ := c.Mean()
	covAfter, _ := c.Covariance()
	assert.Equal(t, meanBefore, meanAfter)
	assert.True(t, mat.Equal(covBefore, covAfter))
}

func TestCovarianceEmpty(t *testing.T) {
	c := NewCovariance(2)
	require.NoError(t, c.Update(mat.NewDense(2, 2, []float64{1, 2, 3, 4}), []float64{0, 0}))
	_, err := c.Mean()
	assert.ErrorIs(t, err, ErrNoWeight)
	_, err = c.Covariance()
	assert.ErrorIs(t, err, ErrNoWeight)
}

func TestCovarianceDimensionMismatch(t *testing.T) {
	c := NewCovariance(3)
	assert.ErrorIs(t, c.Update(mat.NewDense(1, 2, nil), nil), ErrDimension)
	assert.ErrorIs(t, c.Update(mat.NewDense(2, 3, nil), []float64{1}), ErrDimension)
}

func TestCovarianceMergeEqualsSequential(t *testing.T) {
	rng := fastrand.RNG{}
	x := randomBatch(&rng, 200, 3)

	seq := NewCovariance(3)
	require.NoError(t, seq.Update(x, nil))

	a, b := NewCovariance(3), NewCovariance(3)
	require.NoError(t, a.Update(x.Slice(0, 73, 0, 3), nil))
	require.NoError(t, b.Update(x.Slice(73, 200, 0, 3), nil))
	require.NoError(t, b.Merge(a)) // order must not matter

	seqCov, _ := seq.Covariance()
	mergedCov, _ := b.Covariance()
	assert.True(t, mat.EqualApprox(seqCov, mergedCov, 1e-8))
	seqMean, _ := seq.Mean()
	mergedMean, _ := b.Mean()
	for j := range seqMean {
		assert.InDelta(t, seqMean[j], mergedMean[j], 1e-10)
	}
}

func TestCovarianceReset(t *testing.T) {
	c := NewCovariance(2)
	require.NoError(t, c.Update(mat.NewDense(1, 2, []float64{5, 6}), nil))
	c.Reset(2)
	assert.Equal(t, 0.0, c.Weight())
	c.Reset(4)
	assert.Equal(t, 4, c.Dim())
	require.NoError(t, c.Update(mat.NewDense(1, 4, []float64{1, 2, 3, 4}), nil))
	m, err := c.Mean()
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 2, 3, 4}, m)
}
