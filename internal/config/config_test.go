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

package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "arrnorm.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestDefaultIsValid(t *testing.T) {
	c := Default()
	require.NoError(t, c.Validate())
	assert.Equal(t, 25, c.MaxIters)
	assert.Equal(t, 0.95, c.ProbThres)
	assert.Equal(t, "fits", c.Backend)
	assert.Equal(t, -1, c.Server.Setuid)
}

func TestLoadOverridesDefaults(t *testing.T) {
	path := writeConfig(t, `
max_iters: 10
backend: mem
memory_mb: 64
band_positions: [1, 3, 4]
window: {x0: 10, y0: 20, cols: 100, rows: 50}
keep_mad: true
log:
  level: debug
server:
  listen: 127.0.0.1:9090
`)
	c, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 10, c.MaxIters)
	assert.Equal(t, 0.95, c.ProbThres, "unset keys keep their default")
	assert.Equal(t, "mem", c.Backend)
	assert.Equal(t, []int{1, 3, 4}, c.BandPositions)
	require.NotNil(t, c.Window)
	assert.Equal(t, 10, c.Window.X0)
	assert.Equal(t, 50, c.Window.Rows)
	assert.True(t, c.KeepMAD)
	assert.False(t, c.FullScene)
	assert.Equal(t, "debug", c.Log.Level)
	assert.Equal(t, "127.0.0.1:9090", c.Server.Listen)
	assert.Equal(t, -1, c.Server.Setuid)

	opts := c.BackendOptions(zerolog.Nop())
	assert.Equal(t, int64(64), opts.MemoryMB)
}

func TestLoadRejectsInvalid(t *testing.T) {
	cases := map[string]string{
		"iterations": "max_iters: 0\n",
		"threshold":  "prob_thres: 1.0\n",
		"backend":    "backend: hdf5\n",
		"position":   "band_positions: [0, 1]\n",
		"duplicate":  "band_positions: [2, 2]\n",
		"window":     "window: {x0: 0, y0: 0, cols: 0, rows: 5}\n",
		"setuid":     "server: {setuid: -2}\n",
		"syntax":     "max_iters: [\n",
	}
	for name, content := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, content))
			assert.Error(t, err)
		})
	}
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
