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
	"runtime"

	"github.com/pbnjay/memory"
	"github.com/rs/zerolog"

	"github.com/mlnoga/arrnorm/internal/feedback"
	"github.com/mlnoga/arrnorm/internal/metrics"
	"github.com/mlnoga/arrnorm/internal/raster"
)

// An execution context for operators
type Context struct {
	Log           zerolog.Logger
	Backend       raster.Backend
	Metrics       *metrics.Registry // optional
	MemoryMB      int               // memory.TotalMemory()/1024/1024
	MaxThreads    int               `json:"maxThreads"` // targets normalized concurrently
	RestrictPaths bool              // accept only relative paths inside the working tree
	OnProgress    func(target string, percent float64)
}

func NewContext(log zerolog.Logger, backend raster.Backend, m *metrics.Registry) *Context {
	return &Context{
		Log:        log,
		Backend:    backend,
		Metrics:    m,
		MemoryMB:   int(memory.TotalMemory() / 1024 / 1024),
		MaxThreads: runtime.GOMAXPROCS(0),
	}
}

// Creates the feedback channel for processing one target
func (c *Context) feedback(ctx context.Context, log zerolog.Logger, target string) *feedback.Context {
	fb := feedback.New(ctx, log)
	if c.OnProgress != nil {
		fb.OnProgress = func(p float64) { c.OnProgress(target, p) }
	}
	return fb
}

// Maps the progress of one phase into [lo,hi] of the overall progress
type phase struct {
	feedback.Feedback
	lo, hi float64
}

func (p phase) ReportProgress(percent float64) {
	p.Feedback.ReportProgress(p.lo + (p.hi-p.lo)*percent/100)
}
