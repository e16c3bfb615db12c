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
	"bufio"
	"fmt"
	"image"
	"image/color"
	"io"
	"math"
	"os"

	"github.com/lucasb-eyer/go-colorful"
	"github.com/mlnoga/arrnorm/internal/stats"
	"golang.org/x/image/tiff"
)

// End points of the no-change probability colour ramp
var (
	changeColor   = colorful.Color{R: 0.85, G: 0.1, B: 0.1}
	noChangeColor = colorful.Color{R: 0.1, G: 0.7, B: 0.2}
)

// Writes a colour TIFF of the no-change probability of a MAD raster, whose last band
// holds the chi-square statistic with one degree of freedom per remaining band.
// Red marks change, green no change, pixels above thresh are drawn at full brightness.
func WriteNoChangePreview(mad Reader, fileName string, thresh float64) error {
	width, height, bands := mad.Size()
	if bands < 2 {
		return fmt.Errorf("MAD raster with %d bands has no chi-square band", bands)
	}
	nc := stats.NewNoChange(bands - 1)

	img := image.NewRGBA64(image.Rect(0, 0, width, height))
	row := make([]float64, width)
	for y := 0; y < height; y++ {
		if err := mad.ReadRow(bands-1, y, row); err != nil {
			return err
		}
		for x, chisqr := range row {
			p := nc.Probability(chisqr)
			c := changeColor.BlendHcl(noChangeColor, p).Clamped()
			if p <= thresh {
				h, s, l := c.Hsl()
				c = colorful.Hsl(h, s, l*0.6).Clamped()
			}
			img.SetRGBA64(x, y, color.RGBA64{uint16(c.R * 65535), uint16(c.G * 65535), uint16(c.B * 65535), 65535})
		}
	}
	return writeTIFF(fileName, img)
}

// Number of pixels sampled for the preview stretch
const previewSamples = 1 << 16

// Writes one band of a raster to a 16-bit grayscale TIFF, stretched linearly
// between the 0.5% and 99.5% quantiles of a pixel sample, and then applying the given gamma.
func WriteBandPreview(r Reader, band int, fileName string, gamma float64) error {
	width, height, _ := r.Size()
	row := make([]float64, width)
	step := width * height / previewSamples
	if step < 1 {
		step = 1
	}
	samples := make([]float64, 0, width*height/step+1)
	for y, i := 0, 0; y < height; y++ {
		if err := r.ReadRow(band, y, row); err != nil {
			return err
		}
		for _, v := range row {
			if i%step == 0 && !math.IsNaN(v) && !math.IsInf(v, 0) {
				samples = append(samples, v)
			}
			i++
		}
	}
	min, max := 0.0, 1.0
	if len(samples) > 0 {
		min, max = stats.Quantile(samples, 0.005), stats.Quantile(samples, 0.995)
	}
	if !(max > min) {
		max = min + 1
	}

	img := image.NewGray16(image.Rect(0, 0, width, height))
	scale := 1 / (max - min)
	gammaInv := 1.0
	if gamma > 0 {
		gammaInv = 1 / gamma
	}
	for y := 0; y < height; y++ {
		if err := r.ReadRow(band, y, row); err != nil {
			return err
		}
		for x, v := range row {
			gray := (v - min) * scale
			// replace NaNs with zeros for export, else TIFF output breaks
			if math.IsNaN(gray) || gray < 0 {
				gray = 0
			}
			if gray > 1 {
				gray = 1
			}
			if gammaInv != 1.0 {
				gray = math.Pow(gray, gammaInv)
			}
			img.SetGray16(x, y, color.Gray16{uint16(gray * 65535)})
		}
	}
	return writeTIFF(fileName, img)
}

func writeTIFF(fileName string, img image.Image) error {
	file, err := os.Create(fileName)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := bufio.NewWriter(file)
	if err := encodeTIFF(writer, img); err != nil {
		return err
	}
	return writer.Flush()
}

func encodeTIFF(w io.Writer, img image.Image) error {
	return tiff.Encode(w, img, &tiff.Options{Compression: tiff.Deflate, Predictor: true})
}
