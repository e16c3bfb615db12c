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
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrNegativeWeight = errors.New("negative or NaN observation weight")
	ErrNoWeight       = errors.New("no accumulated weight")
	ErrDimension      = errors.New("dimension mismatch")
)

// Streaming weighted mean and covariance, using provisional means.
// Observations arrive in batches of rows; nothing but the running
// mean, the centered cross product sum and the total weight is kept.
type Covariance struct {
	dim    int
	weight float64   // total weight
	mean   []float64 // weighted running mean
	m2     []float64 // dim x dim, sum of w*(x-mean)(x-mean)^T, lower triangle maintained
	delta  []float64 // scratch
}

// Creates an empty accumulator of the given dimension
func NewCovariance(dim int) *Covariance {
	c := &Covariance{}
	c.Reset(dim)
	return c
}

// Discards all accumulated state and sets the dimension
func (c *Covariance) Reset(dim int) {
	if dim < 0 {
		dim = 0
	}
	if c.dim != dim || c.mean == nil {
		c.mean = make([]float64, dim)
		c.m2 = make([]float64, dim*dim)
		c.delta = make([]float64, dim)
	} else {
		for i := range c.mean {
			c.mean[i] = 0
		}
		for i := range c.m2 {
			c.m2[i] = 0
		}
	}
	c.dim, c.weight = dim, 0
}

func (c *Covariance) Dim() int        { return c.dim }
func (c *Covariance) Weight() float64 { return c.weight }

// Adds the rows of batch as observations. Weights must be nil (all ones)
// or have one non-negative entry per row. Rows with zero weight are skipped.
// On error the accumulated state is unchanged.
func (c *Covariance) Update(batch mat.Matrix, weights []float64) error {
	rows, cols := batch.Dims()
	if cols != c.dim {
		return fmt.Errorf("%w: batch has %d columns, accumulator %d", ErrDimension, cols, c.dim)
	}
	if weights != nil {
		if len(weights) != rows {
			return fmt.Errorf("%w: %d weights for %d rows", ErrDimension, len(weights), rows)
		}
		for i, w := range weights {
			if !(w >= 0) || math.IsInf(w, 1) {
				return fmt.Errorf("%w: weights[%d]=%g", ErrNegativeWeight, i, w)
			}
		}
	}

	raw, isRaw := batch.(mat.RawMatrixer)
	var row []float64
	if !isRaw {
		row = make([]float64, cols)
	}
	for i := 0; i < rows; i++ {
		w := 1.0
		if weights != nil {
			w = weights[i]
		}
		if w == 0 {
			continue
		}
		if isRaw {
			blas := raw.RawMatrix()
			row = blas.Data[i*blas.Stride : i*blas.Stride+cols]
		} else {
			for j := range row {
				row[j] = batch.At(i, j)
			}
		}
		c.add(row, w)
	}
	return nil
}

// Adds a single weighted observation
func (c *Covariance) add(x []float64, w float64) {
	newWeight := c.weight + w
	ratio := w / newWeight
	for j, v := range x {
		d := v - c.mean[j]
		c.delta[j] = d
		c.mean[j] += d * ratio
	}
	f := w * c.weight / newWeight
	for j := 0; j < c.dim; j++ {
		dj := c.delta[j] * f
		rowJ := c.m2[j*c.dim : j*c.dim+j+1]
		for k := range rowJ {
			rowJ[k] += dj * c.delta[k]
		}
	}
	c.weight = newWeight
}

// Combines another accumulator into this one. The reduction is commutative
// and associative, so partial sums over row batches may be merged in any order.
func (c *Covariance) Merge(o *Covariance) error {
	if o.dim != c.dim {
		return fmt.Errorf("%w: merging dimension %d into %d", ErrDimension, o.dim, c.dim)
	}
	if o.weight == 0 {
		return nil
	}
	if c.weight == 0 {
		copy(c.mean, o.mean)
		copy(c.m2, o.m2)
		c.weight = o.weight
		return nil
	}
	newWeight := c.weight + o.weight
	for j := range c.delta {
		c.delta[j] = o.mean[j] - c.mean[j]
	}
	f := c.weight * o.weight / newWeight
	for j := 0; j < c.dim; j++ {
		for k := 0; k <= j; k++ {
			idx := j*c.dim + k
			c.m2[idx] += o.m2[idx] + f*c.delta[j]*c.delta[k]
		}
		c.mean[j] += c.delta[j] * o.weight / newWeight
	}
	c.weight = newWeight
	return nil
}

// Returns the weighted mean. Fails if no weight has been accumulated.
func (c *Covariance) Mean() ([]float64, error) {
	if c.weight == 0 {
		return nil, ErrNoWeight
	}
	return append([]float64(nil), c.mean...), nil
}

// Returns the weighted population covariance, normalized by the total weight.
// Fails if no weight has been accumulated.
func (c *Covariance) Covariance() (*mat.SymDense, error) {
	if c.weight == 0 {
		return nil, ErrNoWeight
	}
	s := mat.NewSymDense(c.dim, nil)
	inv := 1 / c.weight
	for j := 0; j < c.dim; j++ {
		for k := 0; k <= j; k++ {
			s.SetSym(j, k, c.m2[j*c.dim+k]*inv)
		}
	}
	return s, nil
}
