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

// Package ops describes normalization jobs as JSON-serializable operators
// and runs them against a raster backend.
package ops

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
)

// A job step: validated and run against an execution context
type Operator interface {
	GetType() string
	IsActive() bool
	Run(ctx context.Context, c *Context) error
}

// Base type for operators, including type information for JSON serializing/deserializing
type OpBase struct {
	Type   string `json:"type"`
	Active bool   `json:"active"`
}

func (op *OpBase) GetType() string { return op.Type }
func (op *OpBase) IsActive() bool  { return op.Active }

// Factory method for operators. For JSON serializing/deserializing
type OperatorFactory func() Operator

// Mapping from operator type strings to factory method for the type
var operatorFactories = map[string]OperatorFactory{}

// Returns the operator factory for a given type string
func GetOperatorFactory(t string) OperatorFactory {
	return operatorFactories[t]
}

// Registers a given type string for a given type of Operator, identified via an exemplar generator
func SetOperatorFactory(f OperatorFactory) {
	op := f()
	t := op.GetType()
	if GetOperatorFactory(t) != nil {
		panic(fmt.Sprintf("error: re-registering operator key %s\n", t))
	}
	operatorFactories[t] = f
}

// Decodes a single operator of any registered type from JSON
func Decode(raw []byte) (Operator, error) {
	var base OpBase
	if err := json.Unmarshal(raw, &base); err != nil {
		return nil, err
	}
	factory := GetOperatorFactory(base.Type)
	if factory == nil {
		return nil, fmt.Errorf("unknown operator type '%s'", base.Type)
	}
	op := factory()
	if err := json.Unmarshal(raw, op); err != nil {
		return nil, err
	}
	return op, nil
}

// Applies a sequence of operators in order, stopping at the first failure
type OpSequence struct {
	OpBase
	Steps    []Operator        `json:"-"`     // the actual steps
	StepsRaw []json.RawMessage `json:"steps"` // helper for unmarshaling
}

func init() { SetOperatorFactory(func() Operator { return NewOpSequenceDefault() }) } // register the operator for JSON decoding

func NewOpSequenceDefault() *OpSequence { return NewOpSequence() }

func NewOpSequence(steps ...Operator) *OpSequence {
	return &OpSequence{
		OpBase: OpBase{Type: "seq", Active: len(steps) > 0},
		Steps:  steps,
	}
}

// Unmarshals a sequence of polymorphic operators from JSON.
// Uses temporary op.StepsRaw inspired by https://alexkappa.medium.com/json-polymorphism-in-go-4cade1e58ed1
func (op *OpSequence) UnmarshalJSON(b []byte) error {
	type alias OpSequence
	if err := json.Unmarshal(b, (*alias)(op)); err != nil {
		return err
	}
	op.Steps = nil
	for _, raw := range op.StepsRaw {
		step, err := Decode(raw)
		if err != nil {
			return fmt.Errorf("%w in raw JSON message '%s'", err, string(raw))
		}
		op.Steps = append(op.Steps, step)
	}
	op.StepsRaw = nil
	return nil
}

// Appends one or more operators to the existing sequence
func (op *OpSequence) Append(steps ...Operator) {
	op.Steps = append(op.Steps, steps...)
}

// Marshals a sequence with polymorphic operators to JSON.
// Uses the actual op.Steps with label "steps", and ignores op.StepsRaw
func (op *OpSequence) MarshalJSON() (bs []byte, err error) {
	buf := bytes.Buffer{}
	buf.WriteString("{\"type\":")
	inner, err := json.Marshal(op.Type)
	if err != nil {
		return nil, err
	}
	buf.Write(inner)
	fmt.Fprintf(&buf, ", \"active\":%v, \"steps\":", op.Active)
	if op.Steps == nil {
		buf.WriteString("[]")
	} else if inner, err = json.Marshal(op.Steps); err != nil {
		return nil, err
	} else {
		buf.Write(inner)
	}
	buf.WriteRune('}')
	return buf.Bytes(), nil
}

func (op *OpSequence) Run(ctx context.Context, c *Context) error {
	for i, step := range op.Steps {
		if !step.IsActive() {
			continue
		}
		if err := step.Run(ctx, c); err != nil {
			return fmt.Errorf("step %d (%s): %w", i+1, step.GetType(), err)
		}
	}
	return nil
}

// Runs tasks with the given concurrency limit and joins their errors
func RunAll(ctx context.Context, tasks []func(ctx context.Context) error, maxThreads int) error {
	if maxThreads < 1 {
		maxThreads = 1
	}
	limiter := make(chan bool, maxThreads)
	errs := make(chan error, len(tasks))
	for _, task := range tasks {
		limiter <- true
		go func(task func(ctx context.Context) error) {
			defer func() { <-limiter }()
			errs <- task(ctx)
		}(task)
	}
	for i := 0; i < cap(limiter); i++ { // wait for goroutines to finish
		limiter <- true
	}
	var all []error
	for range tasks { // collect errors
		if e := <-errs; e != nil {
			all = append(all, e)
		}
	}
	return errors.Join(all...)
}

// Returns true if a path is considered safe, i.e. not an absolute path,
// and doesn't contain the ".." characters to change to a parent directory
func isPathAllowed(p string) bool {
	if filepath.IsAbs(p) {
		return false // relative paths only
	}
	if strings.Contains(p, "..") {
		return false // no going outside the tree
	}
	return true
}

// Checks all non-empty paths if the context restricts them
func (c *Context) checkPaths(paths ...string) error {
	if !c.RestrictPaths {
		return nil
	}
	for _, p := range paths {
		if p != "" && !isPathAllowed(p) {
			return fmt.Errorf("path '%s' outside current directory tree", p)
		}
	}
	return nil
}
