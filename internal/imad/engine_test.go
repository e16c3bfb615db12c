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
	"context"
	"image"
	"math"
	"testing"

	"github.com/mlnoga/arrnorm/internal/errs"
	"github.com/mlnoga/arrnorm/internal/feedback"
	"github.com/mlnoga/arrnorm/internal/raster"
	"github.com/mlnoga/arrnorm/internal/raster/rastertest"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testPair = rastertest.PairOptions{
	Width: 40, Height: 30, Bands: 3,
	Gain: 1.5, Offset: 20, Noise: 4,
	Change:       image.Rect(10, 10, 20, 20),
	GeoTransform: raster.GeoTransform{300000, 10, 0, 5000000, 0, -10},
	Projection:   "EPSG:32633",
}

func openPair(t *testing.T, o rastertest.PairOptions, edit func(ref, tgt [][]float64)) (*raster.MemBackend, raster.Reader, raster.Reader) {
	b := raster.NewMemBackend(64)
	ref, tgt := rastertest.Generate(o)
	if edit != nil {
		edit(ref, tgt)
	}
	spec := rastertest.SpecFor(o)
	require.NoError(t, b.Put("ref", spec, ref))
	require.NoError(t, b.Put("tgt", spec, tgt))
	r, err := b.Open("ref")
	require.NoError(t, err)
	g, err := b.Open("tgt")
	require.NoError(t, err)
	return b, r, g
}

func TestSelectBest(t *testing.T) {
	assert.Equal(t, 3, SelectBest([]float64{0.5, 0.2, 0.35, 0.1, 0.4}))
	assert.Equal(t, 1, SelectBest([]float64{0.5, 0.1, 0.35, 0.1}))
	assert.Equal(t, 2, SelectBest([]float64{math.NaN(), 0.3, 0.2}))
	assert.Equal(t, 0, SelectBest([]float64{math.NaN()}))
	assert.Equal(t, -1, SelectBest(nil))
}

func TestRunAllIterations(t *testing.T) {
	_, ref, tgt := openPair(t, testPair, nil)
	var seen []int
	e, err := New(ref, tgt, Config{MaxIters: 4, OnRound: func(r Round) { seen = append(seen, r.Iter) }}, nil, zerolog.Nop())
	require.NoError(t, err)

	res, err := e.Run(context.Background())
	require.NoError(t, err)
	require.Len(t, res.Rounds, 4)
	assert.Equal(t, []int{0, 1, 2, 3}, seen)
	assert.Equal(t, SelectBest(res.Deltas()), res.Best)

	rhos := res.Rhos()
	require.Len(t, rhos, 4)
	// first delta is measured against zero correlations
	assert.InDelta(t, rhos[0][2], res.Rounds[0].Delta, 1e-12)
	for _, rho := range rhos {
		for _, r := range rho {
			assert.True(t, r >= 0 && r <= 1, "rho %v", rho)
		}
	}
	assert.Equal(t, float64(40*30), res.Rounds[0].Weight)
	// reweighting suppresses the changed pixels
	assert.Less(t, res.Rounds[1].Weight, res.Rounds[0].Weight)
}

func TestZeroRowIsSkipped(t *testing.T) {
	_, ref, tgt := openPair(t, testPair, func(ref, tgt [][]float64) {
		for k := range ref {
			for x := 0; x < testPair.Width; x++ {
				ref[k][x] = 0
			}
		}
	})
	e, err := New(ref, tgt, Config{MaxIters: 1}, nil, zerolog.Nop())
	require.NoError(t, err)
	res, err := e.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, float64(40*29), res.Rounds[0].Weight)
}

func TestAllZeroBandIsFatal(t *testing.T) {
	_, ref, tgt := openPair(t, testPair, func(ref, tgt [][]float64) {
		for i := range tgt[1] {
			tgt[1][i] = 0
		}
	})
	e, err := New(ref, tgt, Config{MaxIters: 2}, nil, zerolog.Nop())
	require.NoError(t, err)
	_, err = e.Run(context.Background())
	require.Error(t, err)
	assert.Equal(t, errs.KindPrecondition, errs.KindOf(err))
	assert.Contains(t, err.Error(), "target band 2")
}

type cancelAfter struct {
	feedback.Nop
	n int
}

func (c *cancelAfter) IsCanceled() bool {
	c.n--
	return c.n < 0
}

func TestCancellation(t *testing.T) {
	_, ref, tgt := openPair(t, testPair, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	e, err := New(ref, tgt, Config{MaxIters: 2}, nil, zerolog.Nop())
	require.NoError(t, err)
	_, err = e.Run(ctx)
	assert.ErrorIs(t, err, errs.ErrCanceled)

	// canceled mid-round through the feedback
	e, err = New(ref, tgt, Config{MaxIters: 3}, &cancelAfter{n: 250}, zerolog.Nop())
	require.NoError(t, err)
	res, err := e.Run(context.Background())
	assert.ErrorIs(t, err, errs.ErrCanceled)
	assert.Nil(t, res)
}

func TestRunToFileWindow(t *testing.T) {
	b, ref, tgt := openPair(t, testPair, nil)
	win := &Window{X0: 5, Y0: 4, Cols: 30, Rows: 22}
	e, err := New(ref, tgt, Config{MaxIters: 3, Window: win}, nil, zerolog.Nop())
	require.NoError(t, err)

	res, err := e.RunToFile(context.Background(), b, "mad")
	require.NoError(t, err)
	require.NotNil(t, res)

	mad, err := b.Open("mad")
	require.NoError(t, err)
	w, h, bands := mad.Size()
	assert.Equal(t, []int{30, 22, 4}, []int{w, h, bands})
	assert.Equal(t, testPair.GeoTransform.Offset(5, 4), mad.GeoTransform())
	assert.Equal(t, "EPSG:32633", mad.Projection())

	// chi-square is larger inside the changed area, which spans window pixels (5..15, 6..16)
	row := make([]float64, w)
	var in, out float64
	var nIn, nOut int
	for y := 0; y < h; y++ {
		require.NoError(t, mad.ReadRow(3, y, row))
		for x, c := range row {
			require.GreaterOrEqual(t, c, 0.0)
			if image.Pt(x+5, y+4).In(testPair.Change) {
				in += c
				nIn++
			} else {
				out += c
				nOut++
			}
		}
	}
	assert.Greater(t, in/float64(nIn), 10*out/float64(nOut))
}

func TestPreconditions(t *testing.T) {
	_, ref, tgt := openPair(t, testPair, nil)
	cases := map[string]Config{
		"band zero":      {BandPositions: []int{0}},
		"band too large": {BandPositions: []int{1, 4}},
		"duplicate band": {BandPositions: []int{2, 2}},
		"empty bands":    {BandPositions: []int{}},
		"window outside": {Window: &Window{X0: 30, Y0: 0, Cols: 20, Rows: 10}},
		"empty window":   {Window: &Window{Cols: 0, Rows: 10}},
		"target outside": {Window: &Window{Cols: 20, Rows: 10}, TargetOrigin: &image.Point{X: 30, Y: 0}},
	}
	for name, cfg := range cases {
		_, err := New(ref, tgt, cfg, nil, zerolog.Nop())
		assert.Equal(t, errs.KindPrecondition, errs.KindOf(err), name)
	}

	e, err := New(ref, tgt, Config{BandPositions: []int{3, 1}}, nil, zerolog.Nop())
	require.NoError(t, err)
	assert.Equal(t, 2, e.Bands())
	assert.Equal(t, DefaultMaxIters, e.cfg.MaxIters)
}

func TestBandMismatchNeedsPositions(t *testing.T) {
	b := raster.NewMemBackend(16)
	o := testPair
	require.NoError(t, rastertest.Pair(b, "ref", "tgt", o))
	o.Bands = 2
	require.NoError(t, rastertest.Pair(b, "ref2", "tgt2", o))
	ref, err := b.Open("ref")
	require.NoError(t, err)
	tgt, err := b.Open("tgt2")
	require.NoError(t, err)

	_, err = New(ref, tgt, Config{}, nil, zerolog.Nop())
	assert.Equal(t, errs.KindPrecondition, errs.KindOf(err))
	_, err = New(ref, tgt, Config{BandPositions: []int{1, 2}}, nil, zerolog.Nop())
	assert.NoError(t, err)
}
