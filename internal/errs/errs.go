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

// Package errs classifies failures of a normalization run into preconditions,
// numerical failures and I/O failures. Cancellation is not an error kind,
// it is reported with the ErrCanceled sentinel.
package errs

import (
	"errors"
	"fmt"
)

// Kind of failure
type Kind int

const (
	KindUnknown Kind = iota
	KindPrecondition
	KindNumerical
	KindIO
)

func (k Kind) String() string {
	switch k {
	case KindPrecondition:
		return "precondition"
	case KindNumerical:
		return "numerical"
	case KindIO:
		return "io"
	default:
		return "unknown"
	}
}

// ErrCanceled is returned when a run was canceled. No output is produced.
var ErrCanceled = errors.New("canceled")

// A classified failure
type Error struct {
	Kind Kind
	Op   string // operation that failed, e.g. "imad" or "radcal"
	Err  error
}

func (e *Error) Error() string {
	if e.Op == "" {
		return fmt.Sprintf("%s error: %s", e.Kind, e.Err.Error())
	}
	return fmt.Sprintf("%s: %s error: %s", e.Op, e.Kind, e.Err.Error())
}

func (e *Error) Unwrap() error { return e.Err }

func newError(kind Kind, op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrCanceled) {
		return err
	}
	return &Error{Kind: kind, Op: op, Err: err}
}

// Precondition wraps err as a precondition violation: bad inputs detected before any output.
func Precondition(op string, err error) error { return newError(KindPrecondition, op, err) }

// Preconditionf formats a precondition violation
func Preconditionf(op, format string, args ...interface{}) error {
	return newError(KindPrecondition, op, fmt.Errorf(format, args...))
}

// Numerical wraps err as a numerical failure, e.g. a singular covariance
func Numerical(op string, err error) error { return newError(KindNumerical, op, err) }

// IO wraps err as a raster I/O failure
func IO(op string, err error) error { return newError(KindIO, op, err) }

// KindOf returns the kind of the first classified error in the chain
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// IsCanceled reports whether err signals cancellation
func IsCanceled(err error) bool { return errors.Is(err, ErrCanceled) }
