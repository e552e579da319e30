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

package core

import (
	"context"
)

// Action is a typed action record handed to an external actuation
// service.  The core never performs the action itself.
type Action struct {
	// Kind is one of the emitting Document's declared action kinds.
	Kind string `json:"kind"`

	// Values is the numeric payload of a program emit (the selected
	// registers, in arg order).
	Values []float64 `json:"values,omitempty"`

	// Payload is the structured payload of a step emit.
	Payload map[string]interface{} `json:"payload,omitempty"`
}

// Emitter receives emitted actions.
//
// Implementations must not retain the Action's Values slice beyond
// the call: the interpreter reuses its emit buffers across ticks.
type Emitter interface {
	Emit(ctx context.Context, actorID string, a Action) error
}

// EmitterFunc makes a plain function an Emitter.
type EmitterFunc func(ctx context.Context, actorID string, a Action) error

func (f EmitterFunc) Emit(ctx context.Context, actorID string, a Action) error {
	return f(ctx, actorID, a)
}
