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

// Package feedback reports progress and log messages of a long-running
// computation and tells it when to stop.
package feedback

import (
	"context"
	"math"
	"sync"

	"github.com/rs/zerolog"
)

// Progress, log and cancellation channel of a computation
type Feedback interface {
	ReportProgress(percent float64)
	Log(msg string)
	IsCanceled() bool
}

// Feedback driven by a context and a logger. Progress is logged whenever
// it advances by at least Step percent, and passed to OnProgress if set.
type Context struct {
	ctx        context.Context
	log        zerolog.Logger
	Step       float64
	OnProgress func(percent float64)

	mu       sync.Mutex
	last     float64
	reported bool
}

func New(ctx context.Context, log zerolog.Logger) *Context {
	return &Context{ctx: ctx, log: log, Step: 10}
}

func (c *Context) ReportProgress(percent float64) {
	percent = math.Max(0, math.Min(100, percent))
	c.mu.Lock()
	due := !c.reported || percent-c.last >= c.Step || (percent == 100 && c.last < 100)
	if due {
		c.last, c.reported = percent, true
	}
	c.mu.Unlock()
	if !due {
		return
	}
	c.log.Debug().Float64("percent", percent).Msg("progress")
	if c.OnProgress != nil {
		c.OnProgress(percent)
	}
}

func (c *Context) Log(msg string) { c.log.Info().Msg(msg) }

func (c *Context) IsCanceled() bool { return c.ctx.Err() != nil }

// Discards all feedback and never cancels
type Nop struct{}

func (Nop) ReportProgress(float64) {}
func (Nop) Log(string)             {}
func (Nop) IsCanceled() bool       { return false }
