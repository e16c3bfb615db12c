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

import "math"

// Selects the kth lowest element (1-based) from an array of float64. Partially reorders the array.
// Array must not contain IEEE NaN
func QSelect(a []float64, k int) float64 {
	left, right := 0, len(a)-1
	for left < right {
		// partition
		mid := (left + right) >> 1
		pivot := a[mid]
		l, r := left-1, right+1
		for {
			for {
				l++
				if a[l] >= pivot {
					break
				}
			}
			for {
				r--
				if a[r] <= pivot {
					break
				}
			}
			if l >= r {
				break // index in r
			}
			a[l], a[r] = a[r], a[l]
		}
		index := r

		offset := index - left + 1
		if k <= offset {
			right = index
		} else {
			left = index + 1
			k = k - offset
		}
	}
	return a[left]
}

// Select median of an array of float64, the upper one for even lengths. Partially reorders the array.
// Array must not contain IEEE NaN
func QSelectMedian(a []float64) float64 {
	return QSelect(a, (len(a)>>1)+1)
}

// Returns the element at quantile q in [0,1] by nearest rank. Partially reorders the array.
// Array must not contain IEEE NaN
func Quantile(a []float64, q float64) float64 {
	if len(a) == 0 {
		return math.NaN()
	}
	k := int(math.Ceil(q * float64(len(a))))
	if k < 1 {
		k = 1
	} else if k > len(a) {
		k = len(a)
	}
	return QSelect(a, k)
}
