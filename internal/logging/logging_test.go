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

package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConsoleAndFile(t *testing.T) {
	var console bytes.Buffer
	fn := filepath.Join(t.TempDir(), "run.log")
	l, err := New(Options{Level: "debug", File: fn, Console: &console, NoColor: true})
	require.NoError(t, err)

	lg := Component(l.Logger, "imad")
	lg.Info().Int("round", 3).Msg("solved")
	require.NoError(t, l.Close())

	assert.Contains(t, console.String(), "solved")
	assert.Contains(t, console.String(), "component=imad")
	data, err := os.ReadFile(fn)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"component":"imad"`)
	assert.Contains(t, string(data), `"round":3`)
}

func TestLevelFilters(t *testing.T) {
	var console bytes.Buffer
	l, err := New(Options{Level: "warn", Console: &console, NoColor: true})
	require.NoError(t, err)
	l.Info().Msg("hidden")
	l.Warn().Msg("shown")
	assert.NotContains(t, console.String(), "hidden")
	assert.Contains(t, console.String(), "shown")
	assert.NoError(t, l.Close())
}

func TestBadLevel(t *testing.T) {
	_, err := New(Options{Level: "loud"})
	assert.Error(t, err)
}

func TestStream(t *testing.T) {
	var buf bytes.Buffer
	lg := NewStream(&buf, zerolog.InfoLevel)
	lg.Info().Msg("hello")
	assert.Contains(t, buf.String(), "hello")
}
