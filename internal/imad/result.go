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

package imad

import (
	"math"
	"time"

	"github.com/mlnoga/arrnorm/internal/cca"
)

// Record of one completed IR-MAD iteration
type Round struct {
	Iter     int           // zero-based iteration number
	Delta    float64       // max absolute change of the canonical correlations against the previous round
	Weight   float64       // total observation weight accumulated
	Duration time.Duration // time spent in the round
	Params   *cca.Params   // canonical parameters, immutable
}

// Outcome of the iteration: all completed rounds and the selected one
type Result struct {
	Rounds []Round
	Best   int // index of the selected round
}

// Returns the selected round
func (r *Result) BestRound() Round { return r.Rounds[r.Best] }

// Canonical correlations per round, for reporting convergence
func (r *Result) Rhos() [][]float64 {
	res := make([][]float64, len(r.Rounds))
	for i, round := range r.Rounds {
		res[i] = append([]float64(nil), round.Params.Rho...)
	}
	return res
}

// Deltas per round
func (r *Result) Deltas() []float64 {
	res := make([]float64, len(r.Rounds))
	for i, round := range r.Rounds {
		res[i] = round.Delta
	}
	return res
}

// Returns the index of the smallest delta. Ties go to the earliest round,
// NaN deltas are never selected unless all are NaN. Returns -1 if deltas is empty.
func SelectBest(deltas []float64) int {
	best := -1
	for i, d := range deltas {
		if math.IsNaN(d) {
			continue
		}
		if best < 0 || d < deltas[best] {
			best = i
		}
	}
	if best < 0 && len(deltas) > 0 {
		return 0
	}
	return best
}
