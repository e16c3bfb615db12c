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

	"gonum.org/v1/gonum/stat/distuv"
)

// No-change probability for chi-square statistics with a fixed number of degrees of freedom
type NoChange struct {
	dist distuv.ChiSquared
}

func NewNoChange(df int) NoChange {
	return NoChange{dist: distuv.ChiSquared{K: float64(df)}}
}

// Degrees of freedom
func (n NoChange) DF() int { return int(n.dist.K) }

// Returns 1 - CDF(chisqr). Non-finite or negative statistics map to 0,
// i.e. they are treated as certain change.
func (n NoChange) Probability(chisqr float64) float64 {
	if !(chisqr >= 0) || math.IsInf(chisqr, 1) {
		return 0
	}
	return 1 - n.dist.CDF(chisqr)
}

// Applies Probability to all entries of chisqr, writing into dst. Allocates dst if nil
func (n NoChange) Probabilities(dst, chisqr []float64) []float64 {
	if dst == nil {
		dst = make([]float64, len(chisqr))
	}
	for i, c := range chisqr {
		dst[i] = n.Probability(c)
	}
	return dst
}
