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
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"github.com/klauspost/cpuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/mlnoga/arrnorm/internal/config"
	"github.com/mlnoga/arrnorm/internal/errs"
	"github.com/mlnoga/arrnorm/internal/logging"
	"github.com/mlnoga/arrnorm/internal/ops"
	"github.com/mlnoga/arrnorm/internal/raster"
)

const version = "0.3.0"

var (
	configPath string
	cfg        = config.Default()
	flagValues = config.Default() // targets of the config flags, applied when set
	flagWindow []int
	threads    int

	logger  *logging.Logger
	backend raster.Backend
)

// rootCmd is the base command for the arrnorm CLI
var rootCmd = &cobra.Command{
	Use:   "arrnorm",
	Short: "Automatic relative radiometric normalization of multispectral rasters",
	Long: `arrnorm Copyright (c) 2020 Markus L. Noga
This program comes with ABSOLUTELY NO WARRANTY.
This is free software, and you are welcome to redistribute it under certain conditions.
Refer to https://www.gnu.org/licenses/gpl-3.0.en.html for details.

arrnorm finds the pixels that did not change between a reference and a target
image with iteratively reweighted multivariate alteration detection (IR-MAD),
and calibrates the target onto the reference by orthogonal regression over them.`,
	SilenceUsage:      true,
	SilenceErrors:     true,
	PersistentPreRunE: setup,
	PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
		if logger != nil {
			return logger.Close()
		}
		return nil
	},
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&configPath, "config", "", "load settings from YAML `file`, flags override file values")
	pf.IntVar(&flagValues.MaxIters, "max-iters", flagValues.MaxIters, "number of IR-MAD iterations, all of which are run")
	pf.Float64Var(&flagValues.ProbThres, "prob-thres", flagValues.ProbThres, "no-change probability threshold for calibration, in [0,1)")
	pf.StringVar(&flagValues.Backend, "backend", flagValues.Backend, fmt.Sprintf("raster backend, one of %v", raster.BackendNames()))
	pf.Int64Var(&flagValues.MemoryMB, "memory-mb", 0, "memory budget of the mem backend in MiB, 0=half the physical memory")
	pf.StringVar(&flagValues.GDALDriver, "gdal-driver", "", "output driver of the gdal backend, e.g. GTiff")
	pf.IntSliceVar(&flagValues.BandPositions, "band-positions", nil, "1-based band numbers to use, default all")
	pf.IntSliceVar(&flagWindow, "window", nil, "spatial subset `x0,y0,cols,rows` of the reference")
	pf.BoolVar(&flagValues.KeepMAD, "keep-mad", false, "keep the MAD raster after calibration")
	pf.BoolVar(&flagValues.FullScene, "full-scene", false, "also calibrate the whole target scene of a windowed run")
	pf.BoolVar(&flagValues.Preview, "preview", false, "write TIFF previews of the no-change probability and the result")
	pf.StringVar(&flagValues.Log.Level, "log-level", flagValues.Log.Level, "log level: trace, debug, info, warn or error")
	pf.StringVar(&flagValues.Log.File, "log-file", "", "also write the log as JSON lines to `file`")
	pf.IntVar(&threads, "threads", runtime.GOMAXPROCS(0), "number of targets processed concurrently")

	rootCmd.AddCommand(versionCmd, legalCmd)
}

// Flags that override a config file value when set
var overrides = map[string]func(c *config.Config){
	"max-iters":      func(c *config.Config) { c.MaxIters = flagValues.MaxIters },
	"prob-thres":     func(c *config.Config) { c.ProbThres = flagValues.ProbThres },
	"backend":        func(c *config.Config) { c.Backend = flagValues.Backend },
	"memory-mb":      func(c *config.Config) { c.MemoryMB = flagValues.MemoryMB },
	"gdal-driver":    func(c *config.Config) { c.GDALDriver = flagValues.GDALDriver },
	"band-positions": func(c *config.Config) { c.BandPositions = flagValues.BandPositions },
	"keep-mad":       func(c *config.Config) { c.KeepMAD = flagValues.KeepMAD },
	"full-scene":     func(c *config.Config) { c.FullScene = flagValues.FullScene },
	"preview":        func(c *config.Config) { c.Preview = flagValues.Preview },
	"log-level":      func(c *config.Config) { c.Log.Level = flagValues.Log.Level },
	"log-file":       func(c *config.Config) { c.Log.File = flagValues.Log.File },
	"listen":         func(c *config.Config) { c.Server.Listen = flagValues.Server.Listen },
	"chroot":         func(c *config.Config) { c.Server.Chroot = flagValues.Server.Chroot },
	"setuid":         func(c *config.Config) { c.Server.Setuid = flagValues.Server.Setuid },
}

// Merges the config file and the flags that were set, then creates the logger and backend
func setup(cmd *cobra.Command, args []string) error {
	if configPath != "" {
		c, err := config.Load(configPath)
		if err != nil {
			return err
		}
		cfg = c
	}
	if err := applyFlags(cmd.Flags(), cfg); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	var err error
	if logger, err = logging.New(logging.Options{Level: cfg.Log.Level, File: cfg.Log.File}); err != nil {
		return err
	}
	backend, err = raster.NewBackend(cfg.Backend, cfg.BackendOptions(logging.Component(logger.Logger, "raster")))
	return err
}

func applyFlags(fs *pflag.FlagSet, c *config.Config) error {
	fs.Visit(func(f *pflag.Flag) {
		if o, ok := overrides[f.Name]; ok {
			o(c)
		}
	})
	if fs.Changed("window") {
		if len(flagWindow) != 4 {
			return fmt.Errorf("--window needs x0,y0,cols,rows, got %d values", len(flagWindow))
		}
		c.Window = windowOf(flagWindow)
	}
	return nil
}

// Execution context for operators run from the command line
func newOpsContext() *ops.Context {
	c := ops.NewContext(logger.Logger, backend, nil)
	c.MaxThreads = threads
	return c
}

// Context canceled on interrupt or termination
func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// Runs an operator and logs the elapsed time
func runOp(op ops.Operator) error {
	ctx, cancel := signalContext()
	defer cancel()
	start := time.Now()
	logger.Info().Str("op", op.GetType()).Str("cpu", cpuid.CPU.BrandName).Int("threads", threads).
		Int64("memory_mb", cfg.MemoryMB).Str("backend", backend.Name()).Msg("starting")
	err := op.Run(ctx, newOpsContext())
	logger.Info().Dur("elapsed", time.Since(start)).Msg("done")
	return err
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Show version information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "arrnorm version %s\n", version)
		fmt.Fprintf(out, "%s %s/%s\n", runtime.Version(), runtime.GOOS, runtime.GOARCH)
		fmt.Fprintf(out, "CPU %s, %d physical cores, %d logical, AVX2 %v\n",
			cpuid.CPU.BrandName, cpuid.CPU.PhysicalCores, cpuid.CPU.LogicalCores, cpuid.CPU.AVX2())
		fmt.Fprintf(out, "Raster backends %v\n", raster.BackendNames())
	},
}

var legalCmd = &cobra.Command{
	Use:   "legal",
	Short: "Show license and attribution information",
	Args:  cobra.NoArgs,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprint(cmd.OutOrStdout(), legal)
	},
}

// Exit codes by failure kind
func exitCode(err error) int {
	if errs.IsCanceled(err) {
		return 130
	}
	switch errs.KindOf(err) {
	case errs.KindPrecondition:
		return 2
	case errs.KindNumerical:
		return 3
	case errs.KindIO:
		return 4
	default:
		return 1
	}
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		if logger != nil {
			logger.Error().Err(err).Str("kind", errs.KindOf(err).String()).Msg("failed")
			logger.Close()
		} else {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(exitCode(err))
	}
}
