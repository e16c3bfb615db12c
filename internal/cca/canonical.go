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

// Package cca computes canonical correlations between a reference and a target
// band set from their joint covariance, and the MAD variates derived from them.
package cca

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// Lower bound on the variance 2(1-rho) of a MAD variate. A target that is an
// exact affine image of the reference has rho of one; the bound keeps the
// chi-square of its pixels finite and close to zero.
const MinMADVariance = 1e-12

// Squared correlations below this leave a target canonical vector unpaired
const minPairedMu2 = 1e-10

// Canonical transformation parameters of one IR-MAD round. Immutable once computed.
type Params struct {
	A       *mat.Dense // bands x bands, reference side canonical vectors in columns
	B       *mat.Dense // bands x bands, target side canonical vectors in columns
	Means1  []float64  // reference band means
	Means2  []float64  // target band means
	SigMADs []float64  // standard deviation of each MAD variate
	Rho     []float64  // canonical correlations, ascending
}

// Number of spectral bands per side
func (p *Params) Bands() int { return len(p.Rho) }

// Computes the canonical parameters from the joint 2B x 2B covariance s of
// reference bands 0..B-1 and target bands B..2B-1, and the joint means.
func Solve(s mat.Symmetric, means []float64) (*Params, error) {
	n := s.SymmetricDim()
	if n%2 != 0 || n == 0 || len(means) != n {
		return nil, fmt.Errorf("covariance of dimension %d with %d means", n, len(means))
	}
	bands := n / 2

	s11 := subSym(s, 0, bands)
	s22 := subSym(s, bands, bands)
	s12 := mat.NewDense(bands, bands, nil)
	for i := 0; i < bands; i++ {
		for j := 0; j < bands; j++ {
			s12.Set(i, j, s.At(i, bands+j))
		}
	}

	var mu2 []float64
	var a, b *mat.Dense
	var err error
	if bands == 1 {
		mu2, a, b, err = solveScalar(s11, s22, s12)
	} else {
		mu2, a, b, err = solveGeneral(s11, s22, s12)
	}
	if err != nil {
		return nil, err
	}

	rho := make([]float64, bands)
	sigma := make([]float64, bands)
	for i, m := range mu2 {
		if !isFinite(m) {
			return nil, fmt.Errorf("%w: squared canonical correlation %g", ErrEigen, m)
		}
		rho[i] = math.Sqrt(math.Min(math.Max(m, 0), 1))
		sigma[i] = math.Sqrt(math.Max(2*(1-rho[i]), MinMADVariance))
	}

	Canonicalize(a, b, s11, s12)

	return &Params{
		A:       a,
		B:       b,
		Means1:  append([]float64(nil), means[:bands]...),
		Means2:  append([]float64(nil), means[bands:]...),
		SigMADs: sigma,
		Rho:     rho,
	}, nil
}

// Closed form for a single band pair
func solveScalar(s11, s22 *mat.SymDense, s12 *mat.Dense) (mu2 []float64, a, b *mat.Dense, err error) {
	m1, m2, c := s11.At(0, 0), s22.At(0, 0), s12.At(0, 0)
	if !(m1 > 0) || !(m2 > 0) {
		return nil, nil, nil, fmt.Errorf("%w: band variance %g, %g", ErrSingular, m1, m2)
	}
	c1 := c * c / m2
	mu2 = []float64{c1 / m1}
	a = mat.NewDense(1, 1, []float64{1 / math.Sqrt(m1)})
	b = mat.NewDense(1, 1, []float64{1 / math.Sqrt(m2)})
	return mu2, a, b, nil
}

// Paired generalized eigenproblems
//
//	C1 = S12 S22^-1 S21, M1 = S11
//	C2 = S21 S11^-1 S12, M2 = S22
//
// Each side is sorted by its own eigenvalues; correlations come from side 2.
// Target vectors are then paired with the reference vectors, see pairTargetSide.
func solveGeneral(s11, s22 *mat.SymDense, s12 *mat.Dense) (mu2 []float64, a, b *mat.Dense, err error) {
	inv11, err := invertSPD(s11)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reference covariance: %w", err)
	}
	inv22, err := invertSPD(s22)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("target covariance: %w", err)
	}

	var tmp, c1, c2 mat.Dense
	tmp.Mul(s12, inv22)
	c1.Mul(&tmp, s12.T())
	tmp.Reset()
	tmp.Mul(s12.T(), inv11)
	c2.Mul(&tmp, s12)

	mu2a, a, err := GenEigSym(symmetrize(&c1), s11)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("reference side: %w", err)
	}
	mu2, b, err = GenEigSym(symmetrize(&c2), s22)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("target side: %w", err)
	}
	pairTargetSide(a, b, mu2a, inv22, s12)
	return mu2, a, b, nil
}

// Replaces each target vector by the partner of its reference vector,
// b_j = S22^-1 S21 a_j / sqrt(mu2_j), which is S22-normalized and equals the
// side 2 eigenvector up to sign when correlations are distinct. With repeated
// correlations, such as an exact affine relation where all of them are one,
// the two eigenproblems return unrelated bases of the same eigenspace and only
// the derived vectors keep u_j and v_j paired. Columns without correlation
// keep their side 2 eigenvector.
func pairTargetSide(a, b *mat.Dense, mu2a []float64, inv22 *mat.SymDense, s12 *mat.Dense) {
	var tmp, paired mat.Dense
	tmp.Mul(s12.T(), a)
	paired.Mul(inv22, &tmp)
	n, _ := b.Dims()
	for j, m := range mu2a {
		if !(m > minPairedMu2) {
			continue
		}
		f := 1 / math.Sqrt(math.Min(m, 1))
		for i := 0; i < n; i++ {
			b.Set(i, j, paired.At(i, j)*f)
		}
	}
}

func invertSPD(s *mat.SymDense) (*mat.SymDense, error) {
	var chol mat.Cholesky
	if ok := chol.Factorize(s); !ok {
		return nil, fmt.Errorf("%w: matrix not positive definite", ErrSingular)
	}
	if cond := chol.Cond(); !(cond <= MaxCondition) {
		return nil, fmt.Errorf("%w: condition number %.3g", ErrSingular, cond)
	}
	var inv mat.SymDense
	if err := chol.InverseTo(&inv); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSingular, err.Error())
	}
	return &inv, nil
}

// Removes the sign ambiguity of the canonical vectors, in place:
// each column of A is flipped so the sum of its correlations with the
// standardized reference bands, sum_i (D S11 A)_ij with D = diag(1/sqrt(diag(S11))),
// is non-negative; then each column of B is flipped so that (A^T S12 B)_jj
// is non-negative. A sum of exactly zero keeps its sign. Idempotent.
func Canonicalize(a, b *mat.Dense, s11 mat.Symmetric, s12 mat.Matrix) {
	bands := s11.SymmetricDim()

	var sa mat.Dense
	sa.Mul(s11, a)
	for j := 0; j < bands; j++ {
		sum := 0.0
		for i := 0; i < bands; i++ {
			sum += sa.At(i, j) / math.Sqrt(s11.At(i, i))
		}
		if sum < 0 {
			flipCol(a, j)
		}
	}

	var as, asb mat.Dense
	as.Mul(a.T(), s12)
	asb.Mul(&as, b)
	for j := 0; j < bands; j++ {
		if asb.At(j, j) < 0 {
			flipCol(b, j)
		}
	}
}

func flipCol(a *mat.Dense, j int) {
	r, _ := a.Dims()
	for i := 0; i < r; i++ {
		a.Set(i, j, -a.At(i, j))
	}
}

func subSym(s mat.Symmetric, offset, n int) *mat.SymDense {
	res := mat.NewSymDense(n, nil)
	for i := 0; i < n; i++ {
		for j := i; j < n; j++ {
			res.SetSym(i, j, s.At(offset+i, offset+j))
		}
	}
	return res
}

// Computes the MAD variates of one pixel into mad, given its reference and target
// band values, and returns the chi-square statistic sum((mad_j/sigma_j)^2).
// mad must have room for Bands() values.
func (p *Params) MAD(ref, tgt, mad []float64) (chisqr float64) {
	n := p.Bands()
	for j := 0; j < n; j++ {
		u, v := 0.0, 0.0
		for i := 0; i < n; i++ {
			u += (ref[i] - p.Means1[i]) * p.A.At(i, j)
			v += (tgt[i] - p.Means2[i]) * p.B.At(i, j)
		}
		d := u - v
		mad[j] = d
		z := d / p.SigMADs[j]
		chisqr += z * z
	}
	return chisqr
}
