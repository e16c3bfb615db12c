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
	"fmt"
	"io"
	"math"
	"regexp"
	"strconv"
	"strings"
)

const (
	fitsBlockSize  = 2880 // FITS files are organized in blocks of this many bytes
	headerLineSize = 80   // length of one header card
)

var reParser *regexp.Regexp = compileRE() // Regexp parser for FITS header lines

// FITS header data. Integer and floating point values are kept apart, as in the file.
type fitsHeader struct {
	Bools    map[string]bool
	Ints     map[string]int64
	Floats   map[string]float64
	Strings  map[string]string
	Comments []string
	History  []string
	End      bool
	Length   int64 // header size in bytes, a multiple of fitsBlockSize

	continued string // key of the string value awaiting a CONTINUE card
}

func newFitsHeader() fitsHeader {
	return fitsHeader{
		Bools:   make(map[string]bool),
		Ints:    make(map[string]int64),
		Floats:  make(map[string]float64),
		Strings: make(map[string]string),
	}
}

func (h *fitsHeader) popInt(key string) (int64, error) {
	if val, ok := h.Ints[key]; ok {
		delete(h.Ints, key)
		return val, nil
	}
	return 0, fmt.Errorf("FITS header does not contain key %s", key)
}

func (h *fitsHeader) popIntOrFloat(key string) (float64, error) {
	if val, ok := h.Ints[key]; ok {
		delete(h.Ints, key)
		return float64(val), nil
	} else if val, ok := h.Floats[key]; ok {
		delete(h.Floats, key)
		return val, nil
	}
	return 0, fmt.Errorf("FITS header does not contain key %s", key)
}

func (h *fitsHeader) read(r io.Reader, warn func(string)) error {
	buf := make([]byte, fitsBlockSize)

	for h.Length = 0; !h.End; {
		// read next header unit
		if _, err := io.ReadFull(r, buf); err != nil {
			return fmt.Errorf("reading FITS header: %w", err)
		}
		h.Length += fitsBlockSize

		// parse all lines in this header unit
		for lineNo := 0; lineNo < fitsBlockSize/headerLineSize && !h.End; lineNo++ {
			line := buf[lineNo*headerLineSize : (lineNo+1)*headerLineSize]
			subValues := reParser.FindSubmatch(line)
			if subValues == nil {
				warn(fmt.Sprintf("Cannot parse '%s', ignoring", string(line)))
			} else {
				h.readLine(reParser.SubexpNames(), subValues)
			}
		}
	}
	return nil
}

func (h *fitsHeader) readLine(subNames []string, subValues [][]byte) {
	key := ""
	// ignore index 0 which is the whole line
	for i := 1; i < len(subNames); i++ {
		if subValues[i] == nil || len(subNames[i]) != 1 {
			continue
		}
		switch c := subNames[i][0]; c {
		case 'E': // end line
			h.End = true
		case 'H': // history line
			h.History = append(h.History, strings.TrimRight(string(subValues[i]), " "))
		case 'C': // comment line
			h.Comments = append(h.Comments, strings.TrimRight(string(subValues[i]), " "))
		case 'k': // key
			key = string(subValues[i])
		case 'b': // boolean
			if len(subValues[i]) > 0 {
				v := subValues[i][0]
				h.Bools[key] = v == 't' || v == 'T'
			}
		case 'i': // int
			if val, err := strconv.ParseInt(string(subValues[i]), 10, 64); err == nil {
				h.Ints[key] = val
			}
		case 'f': // float, possibly with Fortran exponent
			s := strings.Replace(string(subValues[i]), "D", "E", 1)
			if val, err := strconv.ParseFloat(s, 64); err == nil {
				h.Floats[key] = val
			}
		case 's': // string
			h.setString(key, unescape(subValues[i]))
		case 'n': // CONTINUE of the previous string
			if h.continued != "" {
				h.setString(h.continued, h.Strings[h.continued]+unescape(subValues[i]))
			}
		}
	}
}

// Stores a string value, tracking the long-string continuation marker
func (h *fitsHeader) setString(key, val string) {
	if strings.HasSuffix(val, "&") {
		h.Strings[key] = val[:len(val)-1]
		h.continued = key
		return
	}
	h.Strings[key] = val
	h.continued = ""
}

// Undoes quote doubling. Trailing blanks are not significant
func unescape(b []byte) string {
	return strings.TrimRight(strings.ReplaceAll(string(b), "''", "'"), " ")
}

// Build regexp parser for FITS header lines
func compileRE() *regexp.Regexp {
	white := "\\s+"
	whiteOpt := "\\s*"
	whiteLine := white

	hist := "HISTORY"
	rest := ".*"
	histLine := hist + white + "(?P<H>" + rest + ")"

	commKey := "COMMENT"
	commLine := commKey + white + "(?P<C>" + rest + ")"

	end := "(?P<E>END)"
	endLine := end + whiteOpt

	key := "(?P<k>[A-Z0-9_-]+)"
	equals := "="

	boo := "(?P<b>[TF])"
	inte := "(?P<i>[+-]?[0-9]+)"
	floa := "(?P<f>[+-]?[0-9]*\\.[0-9]*(?:[ED][-+]?[0-9]+)?)"
	stri := "'(?P<s>(?:[^']|'')*)'"
	val := "(?:" + boo + "|" + inte + "|" + floa + "|" + stri + ")"

	commOpt := "(?:/(?P<c>.*))?"
	keyLine := key + whiteOpt + equals + whiteOpt + val + whiteOpt + commOpt

	contLine := "CONTINUE" + white + "'(?P<n>(?:[^']|'')*)'" + whiteOpt + commOpt

	lineRe := "^(?:" + whiteLine + "|" + histLine + "|" + commLine + "|" + contLine + "|" + keyLine + "|" + endLine + ")$"
	return regexp.MustCompile(lineRe)
}

// Accumulates FITS header cards in order
type cardWriter struct {
	sb strings.Builder
}

// Writes a fixed-format card with a right-aligned value and an optional comment
func (w *cardWriter) card(key, value, comment string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	line := fmt.Sprintf("%-8s= %20s", key, value)
	if comment != "" && len(line)+3 < headerLineSize {
		line += " / " + comment
	}
	w.line(line)
}

// Pads or truncates to exactly one card
func (w *cardWriter) line(s string) {
	if len(s) > headerLineSize {
		s = s[:headerLineSize]
	}
	w.sb.WriteString(s)
	w.sb.WriteString(strings.Repeat(" ", headerLineSize-len(s)))
}

func (w *cardWriter) writeBool(key string, value bool, comment string) {
	v := "F"
	if value {
		v = "T"
	}
	w.card(key, v, comment)
}

func (w *cardWriter) writeInt(key string, value int64, comment string) {
	w.card(key, strconv.FormatInt(value, 10), comment)
}

// Floats always carry a decimal point, so they read back as floats
func (w *cardWriter) writeFloat(key string, value float64, comment string) {
	s := strconv.FormatFloat(value, 'E', -1, 64)
	if !strings.Contains(s, ".") {
		s = strings.Replace(s, "E", ".0E", 1)
	}
	w.card(key, s, comment)
}

// Max escaped characters per string card, leaving room for quotes and the '&' marker
const maxStringChunk = 66

// Writes a string value, split over CONTINUE cards if long. Quotes are doubled,
// and a doubled quote is never split across cards.
func (w *cardWriter) writeString(key, value string) {
	if len(key) > 8 {
		key = key[0:8]
	}
	var chunks []string
	var cur strings.Builder
	for _, r := range value {
		esc := string(r)
		if r == '\'' {
			esc = "''"
		}
		if cur.Len()+len(esc) > maxStringChunk {
			chunks = append(chunks, cur.String())
			cur.Reset()
		}
		cur.WriteString(esc)
	}
	chunks = append(chunks, cur.String())

	for i, c := range chunks {
		if i < len(chunks)-1 {
			c += "&"
		}
		if i == 0 {
			w.line(fmt.Sprintf("%-8s= '%s'", key, c))
		} else {
			w.line(fmt.Sprintf("CONTINUE  '%s'", c))
		}
	}
}

func (w *cardWriter) writeHistory(text string) {
	w.line("HISTORY " + text)
}

// Writes the END card and pads the header to a full block
func (w *cardWriter) writeEnd() {
	w.line("END")
	if rem := w.sb.Len() % fitsBlockSize; rem > 0 {
		w.sb.WriteString(strings.Repeat(" ", fitsBlockSize-rem))
	}
}

func (w *cardWriter) bytes() []byte { return []byte(w.sb.String()) }

// Returns true if v can be stored in a FITS float card
func isCardFloat(v float64) bool { return !math.IsNaN(v) && !math.IsInf(v, 0) }
