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

// Package imad computes iteratively reweighted multivariate alteration detection
// (IR-MAD) change statistics between a reference and a target raster.
package imad

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"
	"time"

	"github.com/mlnoga/arrnorm/internal/cca"
	"github.com/mlnoga/arrnorm/internal/errs"
	"github.com/mlnoga/arrnorm/internal/feedback"
	"github.com/mlnoga/arrnorm/internal/raster"
	"github.com/mlnoga/arrnorm/internal/stats"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

const op = "imad"

// Default number of iterations
const DefaultMaxIters = 25

// Spatial subset of a raster, in pixels
type Window struct {
	X0   int `json:"x0" yaml:"x0"`
	Y0   int `json:"y0" yaml:"y0"`
	Cols int `json:"cols" yaml:"cols"`
	Rows int `json:"rows" yaml:"rows"`
}

func (w Window) String() string { return fmt.Sprintf("(%d,%d)+%dx%d", w.X0, w.Y0, w.Cols, w.Rows) }

type Config struct {
	MaxIters      int          // number of iterations, all of which are run
	BandPositions []int        // 1-based band numbers to compare, nil for all
	Window        *Window      // subset of the reference, nil for the full raster
	TargetOrigin  *image.Point // top-left target pixel of the window, if it differs from the window origin
	OnRound       func(Round)  // called after each completed round
}

// IR-MAD run over one reference/target pair. Owns all of its state, so one
// engine serves exactly one job.
type Engine struct {
	cfg      Config
	ref, tgt raster.Reader
	fb       feedback.Feedback
	log      zerolog.Logger

	bands  []int // zero-based
	win    Window
	origin image.Point // target window origin

	tile   *mat.Dense // cols x 2B
	row    []float64
	weight []float64
}

// Validates the configuration against the rasters and creates the engine
func New(ref, tgt raster.Reader, cfg Config, fb feedback.Feedback, log zerolog.Logger) (*Engine, error) {
	if cfg.MaxIters <= 0 {
		cfg.MaxIters = DefaultMaxIters
	}
	if fb == nil {
		fb = feedback.Nop{}
	}
	e := &Engine{cfg: cfg, ref: ref, tgt: tgt, fb: fb, log: log}

	rw, rh, rb := ref.Size()
	tw, th, tb := tgt.Size()
	if cfg.BandPositions == nil {
		if rb != tb {
			return nil, errs.Preconditionf(op, "reference has %d bands, target %d", rb, tb)
		}
		for i := 0; i < rb; i++ {
			e.bands = append(e.bands, i)
		}
	} else {
		if len(cfg.BandPositions) == 0 {
			return nil, errs.Preconditionf(op, "no band positions given")
		}
		seen := map[int]bool{}
		for _, p := range cfg.BandPositions {
			if p < 1 || p > rb || p > tb {
				return nil, errs.Preconditionf(op, "band position %d outside 1..%d", p, min(rb, tb))
			}
			if seen[p] {
				return nil, errs.Preconditionf(op, "band position %d given twice", p)
			}
			seen[p] = true
			e.bands = append(e.bands, p-1)
		}
	}

	e.win = Window{0, 0, rw, rh}
	if cfg.Window != nil {
		e.win = *cfg.Window
	}
	w := e.win
	if w.Cols <= 0 || w.Rows <= 0 || w.X0 < 0 || w.Y0 < 0 || w.X0+w.Cols > rw || w.Y0+w.Rows > rh {
		return nil, errs.Preconditionf(op, "window %s outside reference of %dx%d", w, rw, rh)
	}
	e.origin = image.Pt(w.X0, w.Y0)
	if cfg.TargetOrigin != nil {
		e.origin = *cfg.TargetOrigin
	}
	if e.origin.X < 0 || e.origin.Y < 0 || e.origin.X+w.Cols > tw || e.origin.Y+w.Rows > th {
		return nil, errs.Preconditionf(op, "window %dx%d at %v outside target of %dx%d", w.Cols, w.Rows, e.origin, tw, th)
	}
	rx, ry := ref.GeoTransform().PixelSize()
	if tx, ty := tgt.GeoTransform().PixelSize(); tx != rx || ty != ry {
		log.Warn().Float64("ref_x", rx).Float64("ref_y", ry).Float64("target_x", tx).Float64("target_y", ty).
			Msg("pixel sizes differ, assuming rasters are co-registered")
	}

	nb := len(e.bands)
	e.tile = mat.NewDense(w.Cols, 2*nb, nil)
	e.row = make([]float64, w.Cols)
	e.weight = make([]float64, w.Cols)
	return e, nil
}

// Number of compared bands per side
func (e *Engine) Bands() int { return len(e.bands) }

// Effective window on the reference
func (e *Engine) Window() Window { return e.win }

func (e *Engine) canceled(ctx context.Context) bool {
	return ctx.Err() != nil || e.fb.IsCanceled()
}

// Runs all iterations and selects the round with the smallest delta.
// Returns errs.ErrCanceled if canceled, without a result.
func (e *Engine) Run(ctx context.Context) (*Result, error) {
	if err := e.checkBands(ctx); err != nil {
		return nil, err
	}

	nb := len(e.bands)
	cov := stats.NewCovariance(2 * nb)
	nc := stats.NewNoChange(nb)
	mad := make([]float64, nb)
	oldRho := make([]float64, nb)
	var prev *cca.Params
	res := &Result{}

	e.fb.Log(fmt.Sprintf("IR-MAD over %d bands, window %s, %d iterations", nb, e.win, e.cfg.MaxIters))
	for iter := 0; iter < e.cfg.MaxIters; iter++ {
		if e.canceled(ctx) {
			return nil, errs.ErrCanceled
		}
		start := time.Now()
		cov.Reset(2 * nb)
		for y := 0; y < e.win.Rows; y++ {
			if e.canceled(ctx) {
				return nil, errs.ErrCanceled
			}
			if err := e.readTile(y); err != nil {
				return nil, errs.IO(op, err)
			}
			e.admit(prev, nc, mad)
			if err := cov.Update(e.tile, e.weight); err != nil {
				return nil, errs.Numerical(op, err)
			}
			e.fb.ReportProgress(100 * float64(iter*e.win.Rows+y+1) / float64((e.cfg.MaxIters+1)*e.win.Rows))
		}

		params, err := e.solve(cov)
		if err != nil {
			if len(res.Rounds) == 0 {
				if errors.Is(err, stats.ErrNoWeight) {
					return nil, errs.Preconditionf(op, "no pixels with data in both rasters")
				}
				return nil, errs.Numerical(op, fmt.Errorf("iteration %d: %w", iter, err))
			}
			e.log.Warn().Err(err).Int("iter", iter).Msg("numerical failure, keeping completed rounds")
			e.fb.Log(fmt.Sprintf("iteration %d failed: %s", iter, err.Error()))
			break
		}

		delta := 0.0
		for i, r := range params.Rho {
			delta = math.Max(delta, math.Abs(r-oldRho[i]))
		}
		copy(oldRho, params.Rho)
		prev = params

		round := Round{Iter: iter, Delta: delta, Weight: cov.Weight(), Duration: time.Since(start), Params: params}
		res.Rounds = append(res.Rounds, round)
		e.log.Info().Int("iter", iter).Float64("delta", delta).Floats64("rho", params.Rho).
			Dur("duration", round.Duration).Msg("round")
		if e.cfg.OnRound != nil {
			e.cfg.OnRound(round)
		}
	}

	res.Best = SelectBest(res.Deltas())
	best := res.BestRound()
	e.fb.Log(fmt.Sprintf("selected iteration %d with delta %.6g, rho %v", best.Iter, best.Delta, best.Params.Rho))
	return res, nil
}

func (e *Engine) solve(cov *stats.Covariance) (*cca.Params, error) {
	s, err := cov.Covariance()
	if err != nil {
		return nil, err
	}
	means, err := cov.Mean()
	if err != nil {
		return nil, err
	}
	return cca.Solve(s, means)
}

// Fails if any compared band is zero throughout the window, on either side
func (e *Engine) checkBands(ctx context.Context) error {
	for side, r := range []raster.Reader{e.ref, e.tgt} {
		x0, y0 := e.win.X0, e.win.Y0
		name := "reference"
		if side == 1 {
			x0, y0, name = e.origin.X, e.origin.Y, "target"
		}
		for _, b := range e.bands {
			bs := stats.NewBandStats()
			for y := 0; y < e.win.Rows; y++ {
				if e.canceled(ctx) {
					return errs.ErrCanceled
				}
				if err := r.ReadWindow(b, x0, y0+y, e.win.Cols, 1, e.row); err != nil {
					return errs.IO(op, err)
				}
				bs.Add(e.row)
			}
			if bs.AllZero() {
				return errs.Preconditionf(op, "%s band %d contains no data", name, b+1)
			}
			e.log.Debug().Str("side", name).Int("band", b+1).Str("stats", bs.String()).Msg("band")
		}
	}
	return nil
}

// Reads scan row y of the window into the tile, reference bands first.
// Non-finite values become 0.
func (e *Engine) readTile(y int) error {
	raw := e.tile.RawMatrix()
	nb := len(e.bands)
	for side, r := range []raster.Reader{e.ref, e.tgt} {
		x0, y0 := e.win.X0, e.win.Y0
		if side == 1 {
			x0, y0 = e.origin.X, e.origin.Y
		}
		for k, b := range e.bands {
			if err := r.ReadWindow(b, x0, y0+y, e.win.Cols, 1, e.row); err != nil {
				return fmt.Errorf("band %d row %d: %w", b+1, y0+y, err)
			}
			col := side*nb + k
			for i, v := range e.row {
				if math.IsNaN(v) || math.IsInf(v, 0) {
					v = 0
				}
				raw.Data[i*raw.Stride+col] = v
			}
		}
	}
	return nil
}

// Sets the observation weight of each pixel in the tile. Pixels whose reference
// or target band sum is zero are excluded. Without previous parameters all other
// pixels weigh 1, else their no-change probability under those parameters.
func (e *Engine) admit(prev *cca.Params, nc stats.NoChange, mad []float64) {
	raw := e.tile.RawMatrix()
	nb := len(e.bands)
	for i := range e.weight {
		px := raw.Data[i*raw.Stride : i*raw.Stride+2*nb]
		sumRef, sumTgt := 0.0, 0.0
		for k := 0; k < nb; k++ {
			sumRef += px[k]
			sumTgt += px[nb+k]
		}
		if sumRef == 0 || sumTgt == 0 {
			e.weight[i] = 0
			continue
		}
		if prev == nil {
			e.weight[i] = 1
			continue
		}
		e.weight[i] = nc.Probability(prev.MAD(px[:nb], px[nb:], mad))
	}
}

// Geometry of the MAD raster: B MAD bands and a chi-square band over the window,
// georeferenced like the reference window
func (e *Engine) MADSpec() raster.Spec {
	return raster.Spec{
		Width:        e.win.Cols,
		Height:       e.win.Rows,
		Bands:        len(e.bands) + 1,
		Type:         raster.Float32,
		GeoTransform: e.ref.GeoTransform().Offset(e.win.X0, e.win.Y0),
		Projection:   e.ref.Projection(),
	}
}

// Writes the MAD variates and their chi-square statistic under the given parameters
func (e *Engine) WriteMAD(ctx context.Context, params *cca.Params, w raster.Writer) error {
	nb := len(e.bands)
	if params.Bands() != nb {
		return errs.Preconditionf(op, "parameters for %d bands, engine compares %d", params.Bands(), nb)
	}
	rows := make([][]float64, nb+1)
	for i := range rows {
		rows[i] = make([]float64, e.win.Cols)
	}
	mad := make([]float64, nb)
	for y := 0; y < e.win.Rows; y++ {
		if e.canceled(ctx) {
			return errs.ErrCanceled
		}
		if err := e.readTile(y); err != nil {
			return errs.IO(op, err)
		}
		raw := e.tile.RawMatrix()
		for i := 0; i < e.win.Cols; i++ {
			px := raw.Data[i*raw.Stride : i*raw.Stride+2*nb]
			rows[nb][i] = params.MAD(px[:nb], px[nb:], mad)
			for k := 0; k < nb; k++ {
				rows[k][i] = mad[k]
			}
		}
		for b, row := range rows {
			if err := w.WriteRow(b, y, row); err != nil {
				return errs.IO(op, err)
			}
		}
		e.fb.ReportProgress(100 * float64(e.cfg.MaxIters*e.win.Rows+y+1) / float64((e.cfg.MaxIters+1)*e.win.Rows))
	}
	if err := w.Flush(); err != nil {
		return errs.IO(op, err)
	}
	return nil
}

// Runs the iteration and writes the MAD raster of the selected round to path on the backend.
// A partially written MAD raster is removed on failure.
func (e *Engine) RunToFile(ctx context.Context, backend raster.Backend, path string) (res *Result, err error) {
	if res, err = e.Run(ctx); err != nil {
		return nil, err
	}
	w, err := backend.Create(path, e.MADSpec())
	if err != nil {
		return nil, errs.IO(op, err)
	}
	defer func() {
		if cerr := w.Close(); cerr != nil && err == nil {
			err = errs.IO(op, cerr)
		}
		if err != nil {
			if rerr := backend.Remove(path); rerr != nil {
				e.log.Warn().Err(rerr).Str("file", path).Msg("removing partial MAD raster")
			}
		}
	}()
	if err = e.WriteMAD(ctx, res.BestRound().Params, w); err != nil {
		return nil, err
	}
	e.fb.Log("MAD raster written to " + path)
	return res, nil
}
