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

// Package rest serves normalization jobs over HTTP. Job logs are streamed
// back to the client as plain text while the job runs.
package rest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"

	"github.com/mlnoga/arrnorm/internal/logging"
	"github.com/mlnoga/arrnorm/internal/metrics"
	"github.com/mlnoga/arrnorm/internal/ops"
	"github.com/mlnoga/arrnorm/internal/raster"
)

// Shared state of the HTTP handlers
type Server struct {
	Backend    raster.Backend
	Metrics    *metrics.Registry
	Log        zerolog.Logger
	LogLevel   zerolog.Level // level of the log streamed to clients
	MaxThreads int           // per job, 0 for GOMAXPROCS
	Defaults   func() *ops.Normalization
}

func NewServer(backend raster.Backend, m *metrics.Registry, log zerolog.Logger) *Server {
	return &Server{
		Backend:  backend,
		Metrics:  m,
		Log:      logging.Component(log, "rest"),
		LogLevel: zerolog.InfoLevel,
		Defaults: ops.NewNormalizationDefault,
	}
}

// Builds the gin router with all routes
func (s *Server) Router() *gin.Engine {
	r := gin.New()
	r.Use(gin.Recovery(), s.accessLog)
	api := r.Group("/api")
	{
		v1 := api.Group("/v1")
		{
			v1.GET("/ping", getPing)
			v1.POST("/normalize", func(c *gin.Context) { s.postOp(c, s.Defaults()) })
			v1.POST("/imad", func(c *gin.Context) { s.postOp(c, ops.NewOpIMADDefault()) })
			v1.POST("/radcal", func(c *gin.Context) { s.postOp(c, ops.NewOpRadcalDefault()) })
		}
	}
	if s.Metrics != nil {
		r.GET("/metrics", gin.WrapH(s.Metrics.Handler()))
	}
	return r
}

// Listens on addr until ctx is done, then shuts down gracefully
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{Addr: addr, Handler: s.Router(), ReadHeaderTimeout: 10 * time.Second}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.Log.Info().Str("listen", addr).Msg("serving")

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) accessLog(c *gin.Context) {
	start := time.Now()
	c.Next()
	s.Log.Info().Str("method", c.Request.Method).Str("path", c.Request.URL.Path).
		Int("status", c.Writer.Status()).Dur("latency", time.Since(start)).Msg("request")
}

func getPing(c *gin.Context) {
	c.JSON(200, gin.H{
		"message": "pong",
	})
}

func printArgs(logWriter io.Writer, prefix, suffix string, args interface{}) error {
	m, err := json.MarshalIndent(args, "", "  ")
	if err != nil {
		return err
	}
	fmt.Fprintf(logWriter, "%s%s%s", prefix, string(m), suffix)
	return nil
}

// Serializes and flushes writes of concurrently running targets
type flushWriter struct {
	mu sync.Mutex
	w  gin.ResponseWriter
}

func (f *flushWriter) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	n, err := f.w.Write(p)
	f.w.Flush()
	return n, err
}

// Binds the operator from the request body, runs it and streams its log.
// The job is canceled when the client goes away.
func (s *Server) postOp(c *gin.Context, op ops.Operator) {
	typ := op.GetType()
	if err := c.ShouldBindJSON(op); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	if op.GetType() != typ {
		c.JSON(http.StatusBadRequest, gin.H{"error": fmt.Sprintf("expected operator type '%s', got '%s'", typ, op.GetType())})
		return
	}

	header := c.Writer.Header()
	header.Set("Content-Type", "text/plain; charset=utf-8")
	c.Writer.WriteHeader(http.StatusOK)
	logWriter := &flushWriter{w: c.Writer}

	if err := printArgs(logWriter, "Arguments:\n", "\n", op); err != nil {
		fmt.Fprintf(logWriter, "Error printing arguments: %s\n", err.Error())
		return
	}

	oc := ops.NewContext(logging.NewStream(logWriter, s.LogLevel), s.Backend, s.Metrics)
	oc.RestrictPaths = true
	if s.MaxThreads > 0 {
		oc.MaxThreads = s.MaxThreads
	}
	oc.OnProgress = func(target string, percent float64) {
		fmt.Fprintf(logWriter, "progress %s %.0f%%\n", target, percent)
	}

	err := op.Run(c.Request.Context(), oc)
	if err := printArgs(logWriter, "Result:\n", "\n", op); err != nil {
		fmt.Fprintf(logWriter, "Error printing result: %s\n", err.Error())
	}
	if err != nil {
		s.Log.Warn().Err(err).Str("op", typ).Msg("job failed")
		fmt.Fprintf(logWriter, "error: %s\n", err.Error())
		return
	}
	fmt.Fprintf(logWriter, "done\n")
}
