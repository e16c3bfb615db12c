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

package ops

import (
	"context"
	"fmt"
	"math"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/mlnoga/arrnorm/internal/errs"
	"github.com/mlnoga/arrnorm/internal/feedback"
	"github.com/mlnoga/arrnorm/internal/imad"
	"github.com/mlnoga/arrnorm/internal/logging"
	"github.com/mlnoga/arrnorm/internal/metrics"
	"github.com/mlnoga/arrnorm/internal/radcal"
	"github.com/mlnoga/arrnorm/internal/raster"
)

// Normalizes one or more target rasters onto a reference: IR-MAD change detection
// followed by radiometric calibration on the invariant pixels
type Normalization struct {
	OpBase
	Reference     string       `json:"reference"`
	Targets       []string     `json:"targets"`
	Outputs       []string     `json:"outputs,omitempty"` // per target, <root>_norm<ext> if empty
	MaxIters      int          `json:"maxIters"`
	ProbThres     float64      `json:"probThres"`
	BandPositions []int        `json:"bandPositions,omitempty"`
	Window        *imad.Window `json:"window,omitempty"`
	OutputType    string       `json:"outputType,omitempty"` // pixel type name, empty for the wider input type
	KeepMAD       bool         `json:"keepMAD"`
	FullScene     bool         `json:"fullScene"`  // also calibrate the whole target, for windowed runs
	NoNegative    bool         `json:"noNegative"` // negative calibrated values become no-data
	Preview       bool         `json:"preview"`

	Reports []*Report `json:"reports,omitempty"` // filled in by Run, one per target
}

// Outcome of normalizing one target
type Report struct {
	Target      string              `json:"target"`
	Output      string              `json:"output"`
	FullOut     string              `json:"fullOut,omitempty"`
	MAD         string              `json:"mad,omitempty"` // only if kept
	Previews    []string            `json:"previews,omitempty"`
	Iterations  int                 `json:"iterations"`
	Best        int                 `json:"best"`
	Delta       float64             `json:"delta"`
	Rho         []float64           `json:"rho"`
	Calibration *radcal.Calibration `json:"calibration"`
	Duration    time.Duration       `json:"duration"`
	Error       string              `json:"error,omitempty"`
}

func init() { SetOperatorFactory(func() Operator { return NewNormalizationDefault() }) } // register the operator for JSON decoding

func NewNormalizationDefault() *Normalization { return NewNormalization("") }

func NewNormalization(reference string, targets ...string) *Normalization {
	return &Normalization{
		OpBase:    OpBase{Type: "normalize", Active: true},
		Reference: reference,
		Targets:   targets,
		MaxIters:  imad.DefaultMaxIters,
		ProbThres: radcal.DefaultThreshold,
	}
}

// Output path for the i-th target
func (op *Normalization) output(i int) string {
	if i < len(op.Outputs) && op.Outputs[i] != "" {
		return op.Outputs[i]
	}
	return raster.NormFileName(op.Targets[i])
}

func (op *Normalization) validate(c *Context) error {
	if op.Reference == "" {
		return errs.Preconditionf(op.Type, "no reference given")
	}
	if len(op.Targets) == 0 {
		return errs.Preconditionf(op.Type, "no targets given")
	}
	if len(op.Outputs) != 0 && len(op.Outputs) != len(op.Targets) {
		return errs.Preconditionf(op.Type, "%d outputs given for %d targets", len(op.Outputs), len(op.Targets))
	}
	if op.ProbThres < 0 || op.ProbThres >= 1 {
		return errs.Preconditionf(op.Type, "probability threshold %g outside [0,1)", op.ProbThres)
	}
	if _, err := parseOutputType(op.OutputType); err != nil {
		return errs.Precondition(op.Type, err)
	}
	seen := map[string]bool{op.Reference: true}
	for i, t := range op.Targets {
		if seen[t] {
			return errs.Preconditionf(op.Type, "'%s' given more than once", t)
		}
		seen[t] = true
		if err := c.checkPaths(t, op.output(i)); err != nil {
			return errs.Precondition(op.Type, err)
		}
	}
	if err := c.checkPaths(op.Reference); err != nil {
		return errs.Precondition(op.Type, err)
	}
	return nil
}

func parseOutputType(s string) (raster.PixelType, error) {
	if s == "" {
		return raster.Unknown, nil
	}
	return raster.ParsePixelType(s)
}

// Normalizes all targets, up to c.MaxThreads at a time. Failures of individual
// targets are joined into the returned error; their reports carry the message.
func (op *Normalization) Run(ctx context.Context, c *Context) error {
	if err := op.validate(c); err != nil {
		return err
	}
	op.Reports = make([]*Report, len(op.Targets))
	tasks := make([]func(ctx context.Context) error, len(op.Targets))
	for i := range op.Targets {
		i := i
		tasks[i] = func(ctx context.Context) error {
			rep, err := op.normalize(ctx, c, op.Targets[i], op.output(i))
			if err != nil {
				rep.Error = err.Error()
				err = fmt.Errorf("%s: %w", op.Targets[i], err)
			}
			op.Reports[i] = rep
			return err
		}
	}
	return RunAll(ctx, tasks, c.MaxThreads)
}

// Normalizes a single target. Intermediates are released in one place on every exit path.
func (op *Normalization) normalize(ctx context.Context, c *Context, target, output string) (rep *Report, err error) {
	start := time.Now()
	log := logging.Component(c.Log, op.Type).With().Str("target", filepath.Base(target)).Logger()
	rep = &Report{Target: target, Output: output}
	madPath := raster.MADFileName(op.Reference, target)
	madWritten := false

	defer func() {
		rep.Duration = time.Since(start)
		c.Metrics.RecordJob(jobResult(err), rep.Duration)
		if madWritten && (!op.KeepMAD || err != nil) {
			if rerr := c.Backend.Remove(madPath); rerr != nil {
				log.Warn().Err(rerr).Str("file", madPath).Msg("removing MAD raster")
			}
			rep.MAD = ""
		}
		switch {
		case err == nil:
			log.Info().Dur("duration", rep.Duration).Str("output", output).Msg("done")
		case errs.IsCanceled(err):
			log.Warn().Msg("canceled")
		default:
			log.Error().Err(err).Str("kind", errs.KindOf(err).String()).Msg("failed")
		}
	}()

	fb := c.feedback(ctx, log, target)
	fb.Log("processing image: " + filepath.Base(target))
	fb.ReportProgress(0)

	res, err := op.runIMAD(ctx, c, phase{fb, 0, 70}, log, target, madPath)
	if err != nil {
		return rep, err
	}
	madWritten = true
	if op.KeepMAD {
		rep.MAD = madPath
	}
	best := res.BestRound()
	rep.Iterations, rep.Best, rep.Delta, rep.Rho = len(res.Rounds), best.Iter, best.Delta, best.Params.Rho

	outType, _ := parseOutputType(op.OutputType)
	cfg := radcal.Config{
		Threshold:     op.ProbThres,
		BandPositions: op.BandPositions,
		OutputType:    outType,
		NoNegative:    op.NoNegative,
	}
	if op.Window != nil {
		cfg.Origin.X, cfg.Origin.Y = op.Window.X0, op.Window.Y0
	}
	files := radcal.Files{MAD: madPath, Reference: op.Reference, Target: target, Output: output}
	if op.FullScene {
		files.FullScene, files.FullOut = target, raster.FullSceneFileName(target)
		rep.FullOut = files.FullOut
	}
	fb.Log("radcal with MAD raster " + filepath.Base(madPath))
	cal, err := radcal.RunFiles(ctx, c.Backend, files, cfg, phase{fb, 70, 100}, logging.Component(log, "radcal"))
	if err != nil {
		rep.FullOut = ""
		return rep, err
	}
	rep.Calibration = cal
	c.Metrics.ObserveRadcal(cal.NoChange)

	if op.Preview {
		rep.Previews = op.writePreviews(c, log, madPath, output)
	}
	fb.ReportProgress(100)
	fb.Log("normalized image saved in: " + filepath.Base(output))
	return rep, nil
}

// Checks the pair and runs IR-MAD into the MAD raster
func (op *Normalization) runIMAD(ctx context.Context, c *Context, fb feedback.Feedback, log zerolog.Logger,
	target, madPath string) (*imad.Result, error) {
	ref, err := c.Backend.Open(op.Reference)
	if err != nil {
		return nil, errs.IO(op.Type, err)
	}
	defer ref.Close()
	tgt, err := c.Backend.Open(target)
	if err != nil {
		return nil, errs.IO(op.Type, err)
	}
	defer tgt.Close()

	if err := checkPixelSize(tgt.GeoTransform()); err != nil {
		return nil, errs.Precondition(op.Type, fmt.Errorf("%s: %w", filepath.Base(target), err))
	}
	cfg := imad.Config{
		MaxIters:      op.MaxIters,
		BandPositions: op.BandPositions,
		Window:        op.Window,
		OnRound:       func(imad.Round) { c.Metrics.ObserveRound() },
	}
	e, err := imad.New(ref, tgt, cfg, fb, logging.Component(log, "imad"))
	if err != nil {
		return nil, err
	}
	res, err := e.RunToFile(ctx, c.Backend, madPath)
	if err != nil {
		return nil, err
	}
	c.Metrics.ObserveIMAD(res.BestRound().Delta)
	return res, nil
}

// Pixels must be square to within a thousandth of a map unit
func checkPixelSize(g raster.GeoTransform) error {
	x, y := g.PixelSize()
	rx, ry := math.Round(math.Abs(x)*1000), math.Round(math.Abs(y)*1000)
	if rx != ry {
		return fmt.Errorf("pixel size %gx%g is not square", x, y)
	}
	return nil
}

// Writes the no-change probability map and a preview of the first calibrated band.
// Preview failures are logged, not returned.
func (op *Normalization) writePreviews(c *Context, log zerolog.Logger, madPath, output string) (written []string) {
	root := strings.TrimSuffix(output, filepath.Ext(output))
	ncpName, bandName := root+"_ncp.tif", root+"_preview.tif"

	if mad, err := c.Backend.Open(madPath); err != nil {
		log.Warn().Err(err).Msg("opening MAD raster for preview")
	} else {
		if err := raster.WriteNoChangePreview(mad, ncpName, op.ProbThres); err != nil {
			log.Warn().Err(err).Str("file", ncpName).Msg("writing no-change preview")
		} else {
			written = append(written, ncpName)
		}
		mad.Close()
	}

	if out, err := c.Backend.Open(output); err != nil {
		log.Warn().Err(err).Msg("opening output for preview")
	} else {
		if err := raster.WriteBandPreview(out, 0, bandName, 2.2); err != nil {
			log.Warn().Err(err).Str("file", bandName).Msg("writing band preview")
		} else {
			written = append(written, bandName)
		}
		out.Close()
	}
	return written
}

func jobResult(err error) string {
	switch {
	case err == nil:
		return metrics.ResultSuccess
	case errs.IsCanceled(err):
		return metrics.ResultCanceled
	default:
		return metrics.ResultFailure
	}
}
