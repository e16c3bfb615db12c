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
	"errors"
	"fmt"
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

var (
	ErrSingular = errors.New("singular or ill-conditioned covariance")
	ErrEigen    = errors.New("eigendecomposition failed")
)

// Condition number above which a covariance block counts as singular
const MaxCondition = 1e12

// Solves the symmetric generalized eigenproblem C v = lambda M v for symmetric C and
// symmetric positive definite M, by Cholesky reduction to a standard problem.
// Eigenvalues are returned in ascending order, eigenvectors in the matching columns
// and normalized so that V^T M V = I.
func GenEigSym(c, m mat.Symmetric) (values []float64, vectors *mat.Dense, err error) {
	n := m.SymmetricDim()
	if c.SymmetricDim() != n {
		return nil, nil, fmt.Errorf("generalized eigenproblem with %dx%d and %dx%d matrices", c.SymmetricDim(), c.SymmetricDim(), n, n)
	}

	var chol mat.Cholesky
	if ok := chol.Factorize(m); !ok {
		return nil, nil, fmt.Errorf("%w: matrix not positive definite", ErrSingular)
	}
	if cond := chol.Cond(); !(cond <= MaxCondition) {
		return nil, nil, fmt.Errorf("%w: condition number %.3g", ErrSingular, cond)
	}
	var l, li mat.TriDense
	chol.LTo(&l)
	if err := li.InverseTri(&l); err != nil {
		return nil, nil, fmt.Errorf("%w: %s", ErrSingular, err.Error())
	}

	// reduce to L^-1 C L^-T
	var tmp, reduced mat.Dense
	tmp.Mul(&li, c)
	reduced.Mul(&tmp, li.T())

	var es mat.EigenSym
	if ok := es.Factorize(symmetrize(&reduced), true); !ok {
		return nil, nil, ErrEigen
	}
	values = es.Values(nil)
	var w mat.Dense
	es.VectorsTo(&w)

	// back-transform to V = L^-T W
	vectors = mat.NewDense(n, n, nil)
	vectors.Mul(li.T(), &w)

	order := argsort(values)
	return permute(values, order), permuteCols(vectors, order), nil
}

// Returns (a+a^T)/2 as a symmetric matrix, removing round-off asymmetry
func symmetrize(a mat.Matrix) *mat.SymDense {
	n, _ := a.Dims()
	s := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			s.SetSym(i, j, 0.5*(a.At(i, j)+a.At(j, i)))
		}
	}
	return s
}

// Indices that sort xs ascending. Stable, so equal values keep their order
func argsort(xs []float64) []int {
	idx := make([]int, len(xs))
	for i := range idx {
		idx[i] = i
	}
	sort.SliceStable(idx, func(i, j int) bool { return xs[idx[i]] < xs[idx[j]] })
	return idx
}

func permute(xs []float64, order []int) []float64 {
	res := make([]float64, len(order))
	for i, o := range order {
		res[i] = xs[o]
	}
	return res
}

func permuteCols(a *mat.Dense, order []int) *mat.Dense {
	r, _ := a.Dims()
	res := mat.NewDense(r, len(order), nil)
	for j, o := range order {
		for i := 0; i < r; i++ {
			res.Set(i, j, a.At(i, o))
		}
	}
	return res
}

func isFinite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }
