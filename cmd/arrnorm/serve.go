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
	"github.com/spf13/cobra"

	"github.com/mlnoga/arrnorm/internal/logging"
	"github.com/mlnoga/arrnorm/internal/metrics"
	"github.com/mlnoga/arrnorm/internal/rest"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve normalization jobs over HTTP",
	Long: `Serves POST /api/v1/normalize, /api/v1/imad and /api/v1/radcal with JSON job
descriptions, streaming the job log back as text, plus GET /api/v1/ping and
GET /metrics. Only relative paths inside the working directory are accepted.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := rest.MakeSandbox(logging.Component(logger.Logger, "sandbox"), cfg.Server.Chroot, cfg.Server.Setuid); err != nil {
			return err
		}
		s := rest.NewServer(backend, metrics.New(), logger.Logger)
		s.MaxThreads = threads
		s.LogLevel = logger.GetLevel()
		ctx, cancel := signalContext()
		defer cancel()
		return s.Serve(ctx, cfg.Server.Listen)
	},
}

func init() {
	serveCmd.Flags().StringVar(&flagValues.Server.Listen, "listen", flagValues.Server.Listen, "listen `address`")
	serveCmd.Flags().StringVar(&flagValues.Server.Chroot, "chroot", "", "chroot into `dir` before serving, requires root")
	serveCmd.Flags().IntVar(&flagValues.Server.Setuid, "setuid", -1, "switch to user `id` before serving, -1=keep")
	rootCmd.AddCommand(serveCmd)
}
