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
	"image"
	"math"
	"path/filepath"
	"time"

	"github.com/mlnoga/arrnorm/internal/errs"
	"github.com/mlnoga/arrnorm/internal/imad"
	"github.com/mlnoga/arrnorm/internal/logging"
	"github.com/mlnoga/arrnorm/internal/radcal"
	"github.com/mlnoga/arrnorm/internal/raster"
)

// Runs IR-MAD on a reference/target pair and keeps the MAD raster
type OpIMAD struct {
	OpBase
	Reference     string       `json:"reference"`
	Target        string       `json:"target"`
	MAD           string       `json:"mad,omitempty"` // MAD(<ref root>&<target basename>)<ext> if empty
	MaxIters      int          `json:"maxIters"`
	BandPositions []int        `json:"bandPositions,omitempty"`
	Window        *imad.Window `json:"window,omitempty"`
	Preview       float64      `json:"preview,omitempty"` // threshold of a no-change preview, 0 for none

	Result *imad.Result `json:"-"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpIMADDefault() }) } // register the operator for JSON decoding

func NewOpIMADDefault() *OpIMAD { return NewOpIMAD("", "") }

func NewOpIMAD(reference, target string) *OpIMAD {
	return &OpIMAD{
		OpBase:    OpBase{Type: "imad", Active: true},
		Reference: reference,
		Target:    target,
		MaxIters:  imad.DefaultMaxIters,
	}
}

func (op *OpIMAD) Run(ctx context.Context, c *Context) (err error) {
	if op.Reference == "" || op.Target == "" {
		return errs.Preconditionf(op.Type, "reference and target are required")
	}
	if op.MAD == "" {
		op.MAD = raster.MADFileName(op.Reference, op.Target)
	}
	if err := c.checkPaths(op.Reference, op.Target, op.MAD); err != nil {
		return errs.Precondition(op.Type, err)
	}
	start := time.Now()
	log := logging.Component(c.Log, op.Type).With().Str("target", filepath.Base(op.Target)).Logger()
	defer func() { c.Metrics.RecordJob(jobResult(err), time.Since(start)) }()

	ref, err := c.Backend.Open(op.Reference)
	if err != nil {
		return errs.IO(op.Type, err)
	}
	defer ref.Close()
	tgt, err := c.Backend.Open(op.Target)
	if err != nil {
		return errs.IO(op.Type, err)
	}
	defer tgt.Close()

	cfg := imad.Config{
		MaxIters:      op.MaxIters,
		BandPositions: op.BandPositions,
		Window:        op.Window,
		OnRound:       func(imad.Round) { c.Metrics.ObserveRound() },
	}
	e, err := imad.New(ref, tgt, cfg, c.feedback(ctx, log, op.Target), log)
	if err != nil {
		return err
	}
	if op.Result, err = e.RunToFile(ctx, c.Backend, op.MAD); err != nil {
		return err
	}
	best := op.Result.BestRound()
	c.Metrics.ObserveIMAD(best.Delta)
	log.Info().Int("best", best.Iter).Float64("delta", best.Delta).Floats64("rho", best.Params.Rho).
		Str("mad", op.MAD).Msg("done")

	if op.Preview > 0 {
		name := op.MAD[:len(op.MAD)-len(filepath.Ext(op.MAD))] + "_ncp.tif"
		mad, err := c.Backend.Open(op.MAD)
		if err != nil {
			return errs.IO(op.Type, err)
		}
		defer mad.Close()
		if err := raster.WriteNoChangePreview(mad, name, op.Preview); err != nil {
			log.Warn().Err(err).Str("file", name).Msg("writing no-change preview")
		}
	}
	return nil
}

// Calibrates a target onto its reference using an existing MAD raster
type OpRadcal struct {
	OpBase
	MAD           string       `json:"mad"`
	Reference     string       `json:"reference,omitempty"` // from the MAD file name if empty
	Target        string       `json:"target,omitempty"`    // from the MAD file name if empty
	Output        string       `json:"output,omitempty"`    // <target root>_norm<ext> if empty
	FullScene     string       `json:"fullScene,omitempty"`
	ProbThres     float64      `json:"probThres"`
	BandPositions []int        `json:"bandPositions,omitempty"`
	Origin        *image.Point `json:"origin,omitempty"` // reference pixel of the MAD origin, from the geotransforms if nil
	OutputType    string       `json:"outputType,omitempty"`
	NoNegative    bool         `json:"noNegative"`

	Calibration *radcal.Calibration `json:"calibration,omitempty"`
}

func init() { SetOperatorFactory(func() Operator { return NewOpRadcalDefault() }) } // register the operator for JSON decoding

func NewOpRadcalDefault() *OpRadcal { return NewOpRadcal("") }

func NewOpRadcal(mad string) *OpRadcal {
	return &OpRadcal{
		OpBase:    OpBase{Type: "radcal", Active: true},
		MAD:       mad,
		ProbThres: radcal.DefaultThreshold,
	}
}

func (op *OpRadcal) Run(ctx context.Context, c *Context) (err error) {
	if op.MAD == "" {
		return errs.Preconditionf(op.Type, "MAD raster is required")
	}
	if op.Reference == "" || op.Target == "" {
		ref, tgt, err := raster.ParseMADFileName(op.MAD)
		if err != nil {
			return errs.Precondition(op.Type, err)
		}
		if op.Reference == "" {
			op.Reference = ref
		}
		if op.Target == "" {
			op.Target = tgt
		}
	}
	if op.Output == "" {
		op.Output = raster.NormFileName(op.Target)
	}
	outType, err := parseOutputType(op.OutputType)
	if err != nil {
		return errs.Precondition(op.Type, err)
	}
	if err := c.checkPaths(op.MAD, op.Reference, op.Target, op.Output, op.FullScene); err != nil {
		return errs.Precondition(op.Type, err)
	}
	start := time.Now()
	log := logging.Component(c.Log, op.Type).With().Str("target", filepath.Base(op.Target)).Logger()
	defer func() { c.Metrics.RecordJob(jobResult(err), time.Since(start)) }()

	cfg := radcal.Config{
		Threshold:     op.ProbThres,
		BandPositions: op.BandPositions,
		OutputType:    outType,
		NoNegative:    op.NoNegative,
	}
	if op.Origin != nil {
		cfg.Origin = *op.Origin
	} else if cfg.Origin, err = op.madOrigin(c); err != nil {
		return err
	}
	files := radcal.Files{MAD: op.MAD, Reference: op.Reference, Target: op.Target, Output: op.Output, FullScene: op.FullScene}
	if op.Calibration, err = radcal.RunFiles(ctx, c.Backend, files, cfg, c.feedback(ctx, log, op.Target), log); err != nil {
		return err
	}
	c.Metrics.ObserveRadcal(op.Calibration.NoChange)
	return nil
}

// Locates the MAD raster inside the reference from the two geotransforms
func (op *OpRadcal) madOrigin(c *Context) (image.Point, error) {
	mad, err := c.Backend.Open(op.MAD)
	if err != nil {
		return image.Point{}, errs.IO(op.Type, err)
	}
	defer mad.Close()
	ref, err := c.Backend.Open(op.Reference)
	if err != nil {
		return image.Point{}, errs.IO(op.Type, err)
	}
	defer ref.Close()
	p, err := originOf(mad.GeoTransform(), ref.GeoTransform())
	if err != nil {
		return image.Point{}, errs.Precondition(op.Type, err)
	}
	return p, nil
}

// Pixel offset of inner within outer. Both must share pixel sizes, and the
// offset must be whole pixels.
func originOf(inner, outer raster.GeoTransform) (image.Point, error) {
	ox, oy := outer.PixelSize()
	ix, iy := inner.PixelSize()
	if ox == 0 || oy == 0 || ix != ox || iy != oy {
		return image.Point{}, fmt.Errorf("pixel sizes %gx%g and %gx%g differ", ix, iy, ox, oy)
	}
	fx, fy := (inner[0]-outer[0])/ox, (inner[3]-outer[3])/oy
	x, y := math.Round(fx), math.Round(fy)
	if math.Abs(fx-x) > 1e-6 || math.Abs(fy-y) > 1e-6 {
		return image.Point{}, fmt.Errorf("offset %.3f,%.3f is not a whole number of pixels", fx, fy)
	}
	return image.Pt(int(x), int(y)), nil
}
