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

package exprs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dop251/goja"
)

var (
	// InterruptedMessage is the string value of Interrupted.
	InterruptedMessage = "RuntimeError: timeout"

	// Interrupted is returned by Eval if the evaluation is
	// interrupted (say by a context deadline).
	Interrupted = errors.New(InterruptedMessage)

	// DefaultEvalTimeout bounds an evaluation when the context has
	// no deadline.  A runaway expression must not wedge an
	// executor's worker.
	DefaultEvalTimeout = time.Second
)

// ECMAScript evaluates expressions with Goja, a Go implementation of
// ECMAScript 5.1+.
//
// See https://github.com/dop251/goja.
type ECMAScript struct{}

// NewECMAScript makes a new ECMAScript interpreter.
func NewECMAScript() *ECMAScript {
	return &ECMAScript{}
}

// Compile parses the source once so repeated Evals skip parsing.
func (i *ECMAScript) Compile(ctx context.Context, src string) (interface{}, error) {
	return goja.Compile("", src, true)
}

// Eval evaluates the source with the bindings exposed as the global
// "bindings" object.  The evaluation is interrupted at the context
// deadline (or DefaultEvalTimeout).
func (i *ECMAScript) Eval(ctx context.Context, src string, compiled interface{}, bindings map[string]interface{}) (interface{}, error) {
	var program *goja.Program
	if compiled != nil {
		var is bool
		if program, is = compiled.(*goja.Program); !is {
			return nil, fmt.Errorf("bad compiled type %T", compiled)
		}
	} else {
		p, err := goja.Compile("", src, true)
		if err != nil {
			return nil, err
		}
		program = p
	}

	vm := goja.New()
	if bindings == nil {
		bindings = map[string]interface{}{}
	}
	if err := vm.Set("bindings", bindings); err != nil {
		return nil, err
	}

	deadline, have := ctx.Deadline()
	if !have {
		deadline = time.Now().Add(DefaultEvalTimeout)
	}
	timer := time.AfterFunc(time.Until(deadline), func() {
		vm.Interrupt(InterruptedMessage)
	})
	defer timer.Stop()

	v, err := vm.RunProgram(program)
	if err != nil {
		if _, is := err.(*goja.InterruptedError); is {
			return nil, Interrupted
		}
		return nil, err
	}

	return v.Export(), nil
}
