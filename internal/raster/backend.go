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
	"sort"

	"github.com/rs/zerolog"
)

// Settings for constructing a backend
type Options struct {
	Log        zerolog.Logger
	MemoryMB   int64  // budget of the mem backend
	GDALDriver string // output driver of the gdal backend
}

type factory func(Options) Backend

var factories = map[string]factory{
	"fits": func(o Options) Backend { return NewFITSBackend(o.Log) },
	"mem":  func(o Options) Backend { return NewMemBackend(o.MemoryMB) },
}

// Creates the backend with the given name. The gdal backend is only
// available in builds with the gdal tag.
func NewBackend(name string, opts Options) (Backend, error) {
	f, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("unknown raster backend '%s', available: %v", name, BackendNames())
	}
	return f(opts), nil
}

// Names of the available backends, sorted
func BackendNames() []string {
	names := make([]string, 0, len(factories))
	for n := range factories {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}
