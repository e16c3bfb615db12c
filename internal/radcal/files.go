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

package radcal

import (
	"context"

	"github.com/mlnoga/arrnorm/internal/errs"
	"github.com/mlnoga/arrnorm/internal/feedback"
	"github.com/mlnoga/arrnorm/internal/raster"
	"github.com/rs/zerolog"
)

// Input and output paths of a calibration run on a backend
type Files struct {
	MAD       string // MAD raster, named MAD(<reference root>&<target basename>)<ext>
	Reference string // derived from the MAD name if empty
	Target    string // derived from the MAD name if empty
	Output    string // calibrated target over the MAD window
	FullScene string // optional target scene to calibrate in full
	FullOut   string // output for the full scene, <root>_norm_all<ext> if empty
}

// Resolves reference and target from the MAD file name where not given
func (f *Files) resolve() error {
	if f.Reference != "" && f.Target != "" {
		return nil
	}
	ref, tgt, err := raster.ParseMADFileName(f.MAD)
	if err != nil {
		return errs.Precondition(op, err)
	}
	if f.Reference == "" {
		f.Reference = ref
	}
	if f.Target == "" {
		f.Target = tgt
	}
	return nil
}

// Runs the calibration from files: fits on the invariant pixels of the MAD raster,
// writes the calibrated window and optionally the calibrated full scene.
// Outputs are removed again if the run fails or is canceled.
func RunFiles(ctx context.Context, backend raster.Backend, files Files, cfg Config,
	fb feedback.Feedback, log zerolog.Logger) (cal *Calibration, err error) {
	if err := files.resolve(); err != nil {
		return nil, err
	}
	log.Info().Str("reference", files.Reference).Str("target", files.Target).Str("mad", files.MAD).Msg("radcal")

	var readers []raster.Reader
	var created []string
	defer func() {
		for _, r := range readers {
			r.Close()
		}
		if err != nil {
			for _, p := range created {
				if rerr := backend.Remove(p); rerr != nil {
					log.Warn().Err(rerr).Str("file", p).Msg("removing partial output")
				}
			}
			cal = nil
		}
	}()
	open := func(path string) (raster.Reader, error) {
		r, err := backend.Open(path)
		if err != nil {
			return nil, errs.IO(op, err)
		}
		readers = append(readers, r)
		return r, nil
	}

	mad, err := open(files.MAD)
	if err != nil {
		return nil, err
	}
	ref, err := open(files.Reference)
	if err != nil {
		return nil, err
	}
	tgt, err := open(files.Target)
	if err != nil {
		return nil, err
	}

	e, err := New(mad, ref, tgt, cfg, fb, log)
	if err != nil {
		return nil, err
	}
	if cal, err = e.Fit(ctx); err != nil {
		return nil, err
	}

	w, err := backend.Create(files.Output, e.OutputSpec())
	if err != nil {
		return nil, errs.IO(op, err)
	}
	created = append(created, files.Output)
	err = e.Apply(ctx, cal, w)
	if cerr := w.Close(); err == nil && cerr != nil {
		err = errs.IO(op, cerr)
	}
	if err != nil {
		return nil, err
	}
	e.fb.Log("result written to: " + files.Output)

	if files.FullScene == "" {
		return cal, nil
	}
	if files.FullOut == "" {
		files.FullOut = raster.FullSceneFileName(files.FullScene)
	}
	fs, err := open(files.FullScene)
	if err != nil {
		return nil, err
	}
	fw, err := backend.Create(files.FullOut, FullSceneSpec(fs, cal, e.OutputType()))
	if err != nil {
		return nil, errs.IO(op, err)
	}
	created = append(created, files.FullOut)
	err = ApplyFullScene(ctx, e.fb, fs, cal, fw)
	if cerr := fw.Close(); err == nil && cerr != nil {
		err = errs.IO(op, cerr)
	}
	if err != nil {
		return nil, err
	}
	e.fb.Log("full result written to: " + files.FullOut)
	return cal, nil
}
