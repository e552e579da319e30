/* Copyright 2026 The Legion Authors
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 * http://www.apache.org/licenses/LICENSE-2.0
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

// Package exprs provides pluggable expression interpreters for
// compute and branch steps in behavior documents.
//
// The hot per-tick interpreter never evaluates expressions; only the
// step-through executor does, and only at steps that are already
// suspension points or branch decisions.
package exprs

import (
	"context"
	"errors"
)

// InterpreterNotFound occurs when a step names an interpreter missing
// from the registry.
var InterpreterNotFound = errors.New("interpreter not found")

// Interpreter can compile and evaluate expression source against a
// set of bindings.
type Interpreter interface {
	// Compile can make something that helps when Eval()ing the
	// source later.
	Compile(ctx context.Context, src string) (interface{}, error)

	// Eval evaluates the source.  The result of a previous
	// Compile() might be provided.
	Eval(ctx context.Context, src string, compiled interface{}, bindings map[string]interface{}) (interface{}, error)
}

// Map is a registry of Interpreters by name.
type Map map[string]Interpreter

// Eval finds the named interpreter (DefaultName if name is empty) and
// evaluates the source without precompilation.
func (m Map) Eval(ctx context.Context, name, src string, bindings map[string]interface{}) (interface{}, error) {
	if name == "" {
		name = DefaultName
	}
	in, have := m[name]
	if !have {
		return nil, InterpreterNotFound
	}
	return in.Eval(ctx, src, nil, bindings)
}

// DefaultName is the interpreter used when a step doesn't name one.
var DefaultName = "ecmascript"

// Standard returns the standard interpreters.
func Standard() Map {
	es := NewECMAScript()
	return Map{
		"ecmascript":     es,
		"ecmascript-5.1": es,
		"goja":           es,
	}
}

// Truthy interprets an evaluation result as a branch condition.
func Truthy(v interface{}) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case float64:
		return x != 0
	case int64:
		return x != 0
	case int:
		return x != 0
	case string:
		return x != ""
	default:
		return true
	}
}
