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

// Package radcal performs automatic radiometric calibration of a target raster
// onto a reference, from the invariant pixels identified by an IR-MAD run.
package radcal

import (
	"context"
	"errors"
	"fmt"
	"image"
	"math"

	"github.com/mlnoga/arrnorm/internal/errs"
	"github.com/mlnoga/arrnorm/internal/feedback"
	"github.com/mlnoga/arrnorm/internal/raster"
	"github.com/mlnoga/arrnorm/internal/regress"
	"github.com/mlnoga/arrnorm/internal/stats"
	"github.com/rs/zerolog"
	"gonum.org/v1/gonum/mat"
)

const op = "radcal"

// Default no-change probability threshold
const DefaultThreshold = 0.95

// ErrNoCalibration is returned when no pixel exceeds the no-change probability threshold
var ErrNoCalibration = errors.New("no invariant pixels above the no-change probability threshold")

type Config struct {
	Threshold     float64          // pixels with no-change probability above this calibrate, 0 admits any ncp > 0
	BandPositions []int            // 1-based band numbers matching the MAD bands, nil for all
	Origin        image.Point      // top-left reference pixel of the MAD raster
	TargetOrigin  *image.Point     // top-left target pixel, if it differs from Origin
	OutputType    raster.PixelType // Unknown for the wider of the reference and target types
	NoNegative    bool             // write negative calibrated values as 0 and mark 0 as no-data
}

// Configuration with the default threshold and all bands
func DefaultConfig() Config {
	return Config{Threshold: DefaultThreshold}
}

// Per-band affine calibration of the target onto the reference
type Calibration struct {
	Bands      []int         `json:"bands"` // 1-based band numbers
	Fits       []regress.Fit `json:"fits"`  // reference = Intercept + Slope*target
	NoChange   int64         `json:"noChange"`
	Threshold  float64       `json:"threshold"`
	NoNegative bool          `json:"noNegative,omitempty"`
}

// Calibrates one target value of the i-th calibrated band
func (c *Calibration) Apply(i int, v float64) float64 {
	r := c.Fits[i].Apply(v)
	if c.NoNegative && r < 0 {
		return 0
	}
	return r
}

func (c *Calibration) noData(s raster.Spec) raster.Spec {
	if c.NoNegative {
		s.NoData, s.HasNoData = 0, true
	}
	return s
}

// Fits and applies the calibration for one MAD raster. Owns all of its state.
type Engine struct {
	cfg           Config
	mad, ref, tgt raster.Reader
	fb            feedback.Feedback
	log           zerolog.Logger

	bands  []int // zero-based
	width  int
	height int
	origin image.Point // target origin
	nc     stats.NoChange
}

func New(mad, ref, tgt raster.Reader, cfg Config, fb feedback.Feedback, log zerolog.Logger) (*Engine, error) {
	if !(cfg.Threshold >= 0 && cfg.Threshold < 1) {
		return nil, errs.Preconditionf(op, "no-change probability threshold %g outside [0,1)", cfg.Threshold)
	}
	if fb == nil {
		fb = feedback.Nop{}
	}
	e := &Engine{cfg: cfg, mad: mad, ref: ref, tgt: tgt, fb: fb, log: log}

	var madBands int
	e.width, e.height, madBands = mad.Size()
	if madBands < 2 {
		return nil, errs.Preconditionf(op, "MAD raster has %d bands, need at least 2", madBands)
	}
	nb := madBands - 1
	_, _, rb := ref.Size()
	_, _, tb := tgt.Size()
	if cfg.BandPositions == nil {
		for i := 0; i < nb; i++ {
			e.bands = append(e.bands, i)
		}
	} else {
		for _, p := range cfg.BandPositions {
			e.bands = append(e.bands, p-1)
		}
	}
	if len(e.bands) != nb {
		return nil, errs.Preconditionf(op, "%d band positions for %d MAD variates", len(e.bands), nb)
	}
	for _, b := range e.bands {
		if b < 0 || b >= rb || b >= tb {
			return nil, errs.Preconditionf(op, "band %d outside reference with %d and target with %d bands", b+1, rb, tb)
		}
	}

	e.origin = cfg.Origin
	if cfg.TargetOrigin != nil {
		e.origin = *cfg.TargetOrigin
	}
	for _, c := range []struct {
		name string
		r    raster.Reader
		at   image.Point
	}{{"reference", ref, cfg.Origin}, {"target", tgt, e.origin}} {
		w, h, _ := c.r.Size()
		if c.at.X < 0 || c.at.Y < 0 || c.at.X+e.width > w || c.at.Y+e.height > h {
			return nil, errs.Preconditionf(op, "MAD raster of %dx%d at %v outside %s of %dx%d", e.width, e.height, c.at, c.name, w, h)
		}
	}
	e.nc = stats.NewNoChange(nb)
	return e, nil
}

// Output type: the configured one, else the wider of the reference and target types
func (e *Engine) OutputType() raster.PixelType {
	if e.cfg.OutputType != raster.Unknown {
		return e.cfg.OutputType
	}
	return raster.Wider(e.ref.PixelType(), e.tgt.PixelType())
}

// Geometry of the calibrated output, matching the MAD raster
func (e *Engine) OutputSpec() raster.Spec {
	s := raster.Spec{
		Width:        e.width,
		Height:       e.height,
		Bands:        len(e.bands),
		Type:         e.OutputType(),
		GeoTransform: e.mad.GeoTransform(),
		Projection:   e.mad.Projection(),
	}
	if e.cfg.NoNegative {
		s.NoData, s.HasNoData = 0, true
	}
	return s
}

func (e *Engine) canceled(ctx context.Context) bool {
	return ctx.Err() != nil || e.fb.IsCanceled()
}

// Selects the invariant pixels and fits one orthogonal regression per band,
// streaming the moments row by row
func (e *Engine) Fit(ctx context.Context) (*Calibration, error) {
	nb := len(e.bands)
	chisqr := make([]float64, e.width)
	ncp := make([]float64, e.width)
	weight := make([]float64, e.width)
	pair := mat.NewDense(e.width, 2, nil) // target, reference
	refRow := make([]float64, e.width)
	tgtRow := make([]float64, e.width)

	moments := make([]*stats.Covariance, nb)
	for i := range moments {
		moments[i] = stats.NewCovariance(2)
	}
	hist := stats.NewHistogram(0, 1, 20)
	var selected int64

	for y := 0; y < e.height; y++ {
		if e.canceled(ctx) {
			return nil, errs.ErrCanceled
		}
		if err := e.mad.ReadRow(nb, y, chisqr); err != nil {
			return nil, errs.IO(op, err)
		}
		e.nc.Probabilities(ncp, chisqr)
		hist.Add(ncp)
		rowSelected := 0
		for i, p := range ncp {
			weight[i] = 0
			if p > e.cfg.Threshold {
				weight[i] = 1
				rowSelected++
			}
		}
		selected += int64(rowSelected)
		if rowSelected == 0 {
			continue
		}

		for k, b := range e.bands {
			if err := e.ref.ReadWindow(b, e.cfg.Origin.X, e.cfg.Origin.Y+y, e.width, 1, refRow); err != nil {
				return nil, errs.IO(op, err)
			}
			if err := e.tgt.ReadWindow(b, e.origin.X, e.origin.Y+y, e.width, 1, tgtRow); err != nil {
				return nil, errs.IO(op, err)
			}
			for i := range refRow {
				pair.Set(i, 0, finite(tgtRow[i]))
				pair.Set(i, 1, finite(refRow[i]))
			}
			if err := moments[k].Update(pair, weight); err != nil {
				return nil, errs.Numerical(op, err)
			}
		}
		e.fb.ReportProgress(50 * float64(y+1) / float64(e.height))
	}

	e.log.Debug().Str("ncp", hist.String()).Msg("no-change probability histogram")
	e.fb.Log(fmt.Sprintf("no-change probability threshold: %g", e.cfg.Threshold))
	e.fb.Log(fmt.Sprintf("no-change pixels: %d", selected))
	if selected == 0 {
		return nil, errs.Precondition(op, ErrNoCalibration)
	}

	cal := &Calibration{NoChange: selected, Threshold: e.cfg.Threshold, NoNegative: e.cfg.NoNegative}
	for k, b := range e.bands {
		mean, err := moments[k].Mean()
		if err != nil {
			return nil, errs.Numerical(op, err)
		}
		cov, err := moments[k].Covariance()
		if err != nil {
			return nil, errs.Numerical(op, err)
		}
		fit, err := regress.FromMoments(mean[0], mean[1], cov)
		if err != nil {
			return nil, errs.Numerical(op, fmt.Errorf("band %d: %w", b+1, err))
		}
		cal.Bands = append(cal.Bands, b+1)
		cal.Fits = append(cal.Fits, fit)
		e.fb.Log(fmt.Sprintf("band: %d  slope: %.6g intercept: %.6g  correlation: %.6f", b+1, fit.Slope, fit.Intercept, fit.R))
	}
	return cal, nil
}

// Writes the calibrated target over the MAD raster's window
func (e *Engine) Apply(ctx context.Context, cal *Calibration, w raster.Writer) error {
	return applyRows(ctx, e.fb, e.tgt, cal, e.bands, e.origin, e.width, e.height, w, 50)
}

// Writes the calibration applied to every pixel of a full target scene
func ApplyFullScene(ctx context.Context, fb feedback.Feedback, src raster.Reader, cal *Calibration, w raster.Writer) error {
	if fb == nil {
		fb = feedback.Nop{}
	}
	width, height, bands := src.Size()
	idx := make([]int, len(cal.Bands))
	for i, b := range cal.Bands {
		if b < 1 || b > bands {
			return errs.Preconditionf(op, "full scene has %d bands, calibration needs band %d", bands, b)
		}
		idx[i] = b - 1
	}
	return applyRows(ctx, fb, src, cal, idx, image.Point{}, width, height, w, 0)
}

// Geometry of a calibrated full scene
func FullSceneSpec(src raster.Reader, cal *Calibration, t raster.PixelType) raster.Spec {
	width, height, _ := src.Size()
	if t == raster.Unknown {
		t = src.PixelType()
	}
	return cal.noData(raster.Spec{
		Width:        width,
		Height:       height,
		Bands:        len(cal.Fits),
		Type:         t,
		GeoTransform: src.GeoTransform(),
		Projection:   src.Projection(),
	})
}

func applyRows(ctx context.Context, fb feedback.Feedback, src raster.Reader, cal *Calibration, bands []int,
	origin image.Point, width, height int, w raster.Writer, progressBase float64) error {
	if len(bands) != len(cal.Fits) {
		return errs.Preconditionf(op, "calibration for %d bands applied to %d", len(cal.Fits), len(bands))
	}
	row := make([]float64, width)
	for k, b := range bands {
		for y := 0; y < height; y++ {
			if ctx.Err() != nil || fb.IsCanceled() {
				return errs.ErrCanceled
			}
			if err := src.ReadWindow(b, origin.X, origin.Y+y, width, 1, row); err != nil {
				return errs.IO(op, err)
			}
			for i, v := range row {
				row[i] = cal.Apply(k, v)
			}
			if err := w.WriteRow(k, y, row); err != nil {
				return errs.IO(op, err)
			}
		}
		fb.ReportProgress(progressBase + (100-progressBase)*float64(k+1)/float64(len(bands)))
	}
	if err := w.Flush(); err != nil {
		return errs.IO(op, err)
	}
	return nil
}

func finite(v float64) float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0
	}
	return v
}
