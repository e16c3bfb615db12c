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

package raster

import (
	"bytes"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const longProjection = `PROJCS["WGS 84 / UTM zone 33N",GEOGCS["WGS 84",DATUM["WGS_1984",SPHEROID["WGS 84",6378137,298.257223563]],PRIMEM["Greenwich",0],UNIT["degree",0.0174532925199433]],PROJECTION["Transverse_Mercator"],UNIT["metre",1],AUTHORITY["EPSG","32633"]] it's quoted`

func writeFITS(t *testing.T, b Backend, path string, spec Spec, bands [][]float64) {
	w, err := b.Create(path, spec)
	require.NoError(t, err)
	for band, data := range bands {
		for y := 0; y < spec.Height; y++ {
			require.NoError(t, w.WriteRow(band, y, data[y*spec.Width:(y+1)*spec.Width]))
		}
	}
	require.NoError(t, w.Flush())
	require.NoError(t, w.Close())
}

func TestFITSRoundTrip(t *testing.T) {
	b := NewFITSBackend(zerolog.Nop())
	dir := t.TempDir()

	for _, pt := range []PixelType{Byte, Int16, UInt16, Int32, UInt32, Float32, Float64} {
		t.Run(pt.String(), func(t *testing.T) {
			spec := Spec{
				Width: 5, Height: 3, Bands: 2, Type: pt,
				GeoTransform: GeoTransform{500000, 30, 0, 4200000, 0, -30},
				Projection:   longProjection,
				NoData:       0, HasNoData: true,
			}
			bands := make([][]float64, 2)
			for i := range bands {
				bands[i] = make([]float64, 15)
				for j := range bands[i] {
					bands[i][j] = float64(10*i + j + 1)
				}
			}
			path := filepath.Join(dir, pt.String()+".fits")
			writeFITS(t, b, path, spec, bands)

			r, err := b.Open(path)
			require.NoError(t, err)
			defer r.Close()

			assert.Equal(t, spec, SpecOf(r))
			row := make([]float64, 5)
			require.NoError(t, r.ReadRow(1, 2, row))
			assert.Equal(t, []float64{21, 22, 23, 24, 25}, row)

			win := make([]float64, 4)
			require.NoError(t, r.ReadWindow(0, 3, 1, 2, 2, win))
			assert.Equal(t, []float64{9, 10, 14, 15}, win)

			assert.ErrorIs(t, r.ReadRow(2, 0, row), ErrBounds)
			assert.ErrorIs(t, r.ReadWindow(0, 4, 0, 2, 1, win), ErrBounds)
		})
	}
}

func TestFITSClampsIntegerOutput(t *testing.T) {
	b := NewFITSBackend(zerolog.Nop())
	path := filepath.Join(t.TempDir(), "clamp.fits")
	spec := Spec{Width: 4, Height: 1, Bands: 1, Type: UInt16, GeoTransform: IdentityGeoTransform}
	writeFITS(t, b, path, spec, [][]float64{{-5, 1.4, 1.6, 70000}})

	r, err := b.Open(path)
	require.NoError(t, err)
	defer r.Close()
	row := make([]float64, 4)
	require.NoError(t, r.ReadRow(0, 0, row))
	assert.Equal(t, []float64{0, 1, 2, 65535}, row)
	_, ok := r.NoData(0)
	assert.False(t, ok)
}

func TestFITSOpenMissing(t *testing.T) {
	b := NewFITSBackend(zerolog.Nop())
	_, err := b.Open(filepath.Join(t.TempDir(), "nope.fits"))
	assert.ErrorIs(t, err, ErrNotFound)
	assert.NoError(t, b.Remove(filepath.Join(t.TempDir(), "nope.fits")))
}

func TestHeaderContinueAndEscapes(t *testing.T) {
	cw := cardWriter{}
	cw.writeBool("SIMPLE", true, "")
	cw.writeInt("BITPIX", -32, "")
	cw.writeFloat("ONE", 1, "exactly one")
	cw.writeFloat("SMALL", -2.5e-12, "")
	cw.writeString("LONG", longProjection)
	cw.writeString("SHORT", "a'b")
	cw.writeHistory("created by test")
	cw.writeEnd()
	data := cw.bytes()
	require.Equal(t, 0, len(data)%fitsBlockSize)
	for i := 0; i < len(data); i += headerLineSize {
		line := string(data[i : i+headerLineSize])
		require.NotNil(t, reParser.FindStringSubmatch(line), "unparsable card %q", line)
	}

	h := newFitsHeader()
	var warnings []string
	require.NoError(t, h.read(bytes.NewReader(data), func(msg string) { warnings = append(warnings, msg) }))
	assert.Empty(t, warnings)
	assert.True(t, h.Bools["SIMPLE"])
	assert.Equal(t, int64(-32), h.Ints["BITPIX"])
	assert.Equal(t, 1.0, h.Floats["ONE"])
	assert.Equal(t, -2.5e-12, h.Floats["SMALL"])
	assert.Equal(t, longProjection, h.Strings["LONG"])
	assert.Equal(t, "a'b", h.Strings["SHORT"])
	assert.Equal(t, []string{"created by test"}, h.History)
	assert.Equal(t, int64(fitsBlockSize), h.Length)
}

func TestHeaderFortranExponent(t *testing.T) {
	cw := cardWriter{}
	cw.line("EXPOSURE=              1.5D+02 / seconds")
	cw.writeEnd()
	h := newFitsHeader()
	require.NoError(t, h.read(bytes.NewReader(cw.bytes()), func(string) {}))
	assert.Equal(t, 150.0, h.Floats["EXPOSURE"])
}

func TestHeaderRejectsTruncatedFile(t *testing.T) {
	h := newFitsHeader()
	err := h.read(strings.NewReader("SIMPLE  =                    T"), func(string) {})
	assert.Error(t, err)
}
