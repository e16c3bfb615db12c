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
	"path/filepath"
	"strings"
)

// Returns the path of the MAD raster for a reference and target pair, placed next to
// the reference: MAD(<reference root>&<target basename>)<reference extension>
func MADFileName(refPath, targetPath string) string {
	dir := filepath.Dir(refPath)
	refBase := filepath.Base(refPath)
	ext := filepath.Ext(refBase)
	root := strings.TrimSuffix(refBase, ext)
	return filepath.Join(dir, fmt.Sprintf("MAD(%s&%s)%s", root, filepath.Base(targetPath), ext))
}

// Recovers the reference and target paths from a MAD raster path. Both are
// expected in the MAD raster's directory, the reference with its extension.
func ParseMADFileName(madPath string) (refPath, targetPath string, err error) {
	dir := filepath.Dir(madPath)
	base := filepath.Base(madPath)
	ext := filepath.Ext(base)
	root := strings.TrimSuffix(base, ext)

	b := strings.Index(root, "(")
	e := strings.LastIndex(root, ")")
	if b < 0 || e < b {
		return "", "", fmt.Errorf("'%s' is not a MAD file name", base)
	}
	inner := root[b+1 : e]
	amp := strings.Index(inner, "&")
	if amp <= 0 || amp == len(inner)-1 {
		return "", "", fmt.Errorf("'%s' does not name a reference and a target", base)
	}
	return filepath.Join(dir, inner[:amp]+ext), filepath.Join(dir, inner[amp+1:]), nil
}

// Returns the path of the normalized full scene for a target: <root>_norm_all<ext>
func FullSceneFileName(targetPath string) string {
	ext := filepath.Ext(targetPath)
	return strings.TrimSuffix(targetPath, ext) + "_norm_all" + ext
}

// Returns the default path of the normalized target: <root>_norm<ext>
func NormFileName(targetPath string) string {
	ext := filepath.Ext(targetPath)
	return strings.TrimSuffix(targetPath, ext) + "_norm" + ext
}
