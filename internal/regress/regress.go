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

// Package regress fits straight lines by orthogonal (total least squares) regression.
package regress

import (
	"errors"
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

// ErrDegenerate is returned when one axis has no variance or the principal axis is vertical
var ErrDegenerate = errors.New("degenerate orthogonal regression")

// A fitted line y = Intercept + Slope*x, with the correlation coefficient of the sample
type Fit struct {
	Slope     float64 `json:"slope"`
	Intercept float64 `json:"intercept"`
	R         float64 `json:"r"`
}

func (f Fit) String() string {
	return fmt.Sprintf("y = %.6g + %.6g*x (R=%.6f)", f.Intercept, f.Slope, f.R)
}

// Applies the fitted line to x
func (f Fit) Apply(x float64) float64 { return f.Intercept + f.Slope*x }

// Fits y ~ a + b*x minimizing the perpendicular distances of the points (x_i, y_i)
// to the line. The first argument is the independent variable.
func Ortho(x, y []float64) (Fit, error) {
	if len(x) != len(y) {
		return Fit{}, fmt.Errorf("%d x values for %d y values", len(x), len(y))
	}
	if len(x) < 2 {
		return Fit{}, fmt.Errorf("%w: %d points", ErrDegenerate, len(x))
	}
	mx, vx := stat.MeanVariance(x, nil)
	my, vy := stat.MeanVariance(y, nil)
	cxy := stat.Covariance(x, y, nil)
	cov := mat.NewSymDense(2, []float64{vx, cxy, cxy, vy})
	return FromMoments(mx, my, cov)
}

// Fits y ~ a + b*x from the means of x and y and their 2x2 covariance,
// with x in row and column 0. Any normalization of the covariance works.
func FromMoments(meanX, meanY float64, cov mat.Symmetric) (Fit, error) {
	if cov.SymmetricDim() != 2 {
		return Fit{}, fmt.Errorf("covariance of dimension %d, want 2", cov.SymmetricDim())
	}
	sxx, sxy, syy := cov.At(0, 0), cov.At(0, 1), cov.At(1, 1)
	if !(sxx > 0) || !(syy > 0) {
		return Fit{}, fmt.Errorf("%w: variances %g and %g", ErrDegenerate, sxx, syy)
	}
	r := sxy / math.Sqrt(sxx*syy)

	var es mat.EigenSym
	if ok := es.Factorize(cov, true); !ok {
		return Fit{}, fmt.Errorf("%w: eigendecomposition failed", ErrDegenerate)
	}
	var vs mat.Dense
	es.VectorsTo(&vs)
	values := es.Values(nil)
	principal := 1
	if values[0] > values[1] {
		principal = 0
	}
	vx, vy := vs.At(0, principal), vs.At(1, principal)
	if vx == 0 {
		return Fit{}, fmt.Errorf("%w: vertical principal axis", ErrDegenerate)
	}
	b := vy / vx
	return Fit{Slope: b, Intercept: meanY - b*meanX, R: r}, nil
}
