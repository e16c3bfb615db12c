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

package feedback

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func TestProgressThrottled(t *testing.T) {
	var seen []float64
	fb := New(context.Background(), zerolog.Nop())
	fb.OnProgress = func(p float64) { seen = append(seen, p) }
	for p := 0.0; p <= 100; p += 2.5 {
		fb.ReportProgress(p)
	}
	assert.Equal(t, []float64{0, 10, 20, 30, 40, 50, 60, 70, 80, 90, 100}, seen)
}

func TestProgressClamped(t *testing.T) {
	var seen []float64
	fb := New(context.Background(), zerolog.Nop())
	fb.OnProgress = func(p float64) { seen = append(seen, p) }
	fb.ReportProgress(-5)
	fb.ReportProgress(250)
	assert.Equal(t, []float64{0, 100}, seen)
}

func TestCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fb := New(ctx, zerolog.Nop())
	assert.False(t, fb.IsCanceled())
	cancel()
	assert.True(t, fb.IsCanceled())
	assert.False(t, Nop{}.IsCanceled())
}

func TestLog(t *testing.T) {
	var buf bytes.Buffer
	fb := New(context.Background(), zerolog.New(&buf))
	fb.Log("no-change pixels: 42")
	assert.Contains(t, buf.String(), "no-change pixels: 42")
}
