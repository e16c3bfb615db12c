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

package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/mlnoga/arrnorm/internal/imad"
	"github.com/mlnoga/arrnorm/internal/ops"
)

var (
	outputs    []string
	outputType string
	noNegative bool
	madPath    string
	radcalRef  string
	radcalTgt  string
	showJSON   bool
)

var normalizeCmd = &cobra.Command{
	Use:   "normalize <reference> <target> [target...]",
	Short: "Normalize target images onto a reference",
	Long: `Runs IR-MAD on each reference/target pair, selects the invariant pixels by their
no-change probability and writes each target calibrated onto the reference to
<target root>_norm<ext>, unless --output is given.`,
	Example: `  arrnorm normalize ref.fits tgt.fits
  arrnorm normalize --window 100,100,1024,1024 --full-scene --keep-mad ref.fits t1.fits t2.fits`,
	Args: cobra.MinimumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		op := ops.NewNormalization(args[0], args[1:]...)
		op.Outputs = outputs
		op.MaxIters = cfg.MaxIters
		op.ProbThres = cfg.ProbThres
		op.BandPositions = cfg.BandPositions
		op.Window = cfg.Window
		op.OutputType = outputType
		op.KeepMAD = cfg.KeepMAD
		op.FullScene = cfg.FullScene
		op.NoNegative = noNegative
		op.Preview = cfg.Preview
		err := runOp(op)
		for _, rep := range op.Reports {
			if rep == nil || rep.Error != "" {
				continue
			}
			logger.Info().Str("target", rep.Target).Str("output", rep.Output).Int("best", rep.Best).
				Float64("delta", rep.Delta).Int64("no_change", rep.Calibration.NoChange).Msg("normalized")
		}
		if showJSON {
			printJSON(op.Reports)
		}
		return err
	},
}

var imadCmd = &cobra.Command{
	Use:   "imad <reference> <target>",
	Short: "Run IR-MAD change detection and keep the MAD raster",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		op := ops.NewOpIMAD(args[0], args[1])
		op.MAD = madPath
		op.MaxIters = cfg.MaxIters
		op.BandPositions = cfg.BandPositions
		op.Window = cfg.Window
		if cfg.Preview {
			op.Preview = cfg.ProbThres
		}
		err := runOp(op)
		if err == nil && showJSON {
			printJSON(op.Result)
		}
		return err
	},
}

var radcalCmd = &cobra.Command{
	Use:   "radcal <madfile> [fullscene]",
	Short: "Calibrate a target onto its reference using a MAD raster",
	Long: `Reference and target are derived from the MAD raster name
MAD(<reference root>&<target basename>)<ext> unless given. If a full scene is
given, it is calibrated as well and written to <root>_norm_all<ext>.`,
	Args: cobra.RangeArgs(1, 2),
	RunE: func(cmd *cobra.Command, args []string) error {
		op := ops.NewOpRadcal(args[0])
		if len(args) > 1 {
			op.FullScene = args[1]
		}
		op.Reference, op.Target = radcalRef, radcalTgt
		if len(outputs) > 0 {
			op.Output = outputs[0]
		}
		op.ProbThres = cfg.ProbThres
		op.BandPositions = cfg.BandPositions
		op.OutputType = outputType
		op.NoNegative = noNegative
		err := runOp(op)
		if err == nil && showJSON {
			printJSON(op.Calibration)
		}
		return err
	},
}

var runCmd = &cobra.Command{
	Use:   "run <job.json>",
	Short: "Run a job description in JSON",
	Long: `Runs a JSON job description such as
  {"type":"seq","active":true,"steps":[
    {"type":"normalize","active":true,"reference":"ref.fits","targets":["tgt.fits"],"maxIters":25,"probThres":0.95}]}`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := os.ReadFile(args[0])
		if err != nil {
			return err
		}
		op, err := ops.Decode(raw)
		if err != nil {
			return fmt.Errorf("%s: %w", args[0], err)
		}
		err = runOp(op)
		if showJSON {
			printJSON(op)
		}
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{normalizeCmd, radcalCmd} {
		c.Flags().StringSliceVar(&outputs, "output", nil, "output `file`, one per target")
		c.Flags().StringVar(&outputType, "output-type", "", "output pixel type, default the wider of the input types")
		c.Flags().BoolVar(&noNegative, "no-negative", false, "write negative calibrated values as 0 and mark 0 as no-data")
	}
	imadCmd.Flags().StringVar(&madPath, "mad", "", "MAD raster `file`, default MAD(<reference root>&<target basename>)<ext>")
	radcalCmd.Flags().StringVar(&radcalRef, "reference", "", "reference `file`, default from the MAD raster name")
	radcalCmd.Flags().StringVar(&radcalTgt, "target", "", "target `file`, default from the MAD raster name")
	for _, c := range []*cobra.Command{normalizeCmd, imadCmd, radcalCmd, runCmd} {
		c.Flags().BoolVar(&showJSON, "json", false, "print the result as JSON")
		rootCmd.AddCommand(c)
	}
}

func windowOf(v []int) *imad.Window {
	return &imad.Window{X0: v[0], Y0: v[1], Cols: v[2], Rows: v[3]}
}

func printJSON(v interface{}) {
	m, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		logger.Warn().Err(err).Msg("printing JSON")
		return
	}
	fmt.Println(string(m))
}
