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
	"github.com/legionkit/legion/plan"
	"github.com/legionkit/legion/vars"
)

// Document is a compiled, versioned behavior artifact.
//
// A Document carries either a Program (a fixed-shape instruction
// sequence executed tick by tick) or a Steps tree (a long-running,
// suspendable behavior interpreted by the script executor) -- never
// both.  A Document is immutable after Compile; re-publishing means
// loading a new Document and binding new actors to it (see
// DocumentRef), never mutating a running actor's copy.
type Document struct {
	// Name is the generic name for this behavior.  Something like
	// "villager-daily-routine".  Cf. Id.
	Name string `json:"name,omitempty" yaml:",omitempty"`

	// Version is the version of this behavior.  Something like
	// "1.2".
	Version string `json:"version,omitempty" yaml:",omitempty"`

	// Id should be a globally unique identifier (such as a hash of
	// a canonical representation of the Document).
	//
	// This package does not read or write this value.
	Id string `json:"id,omitempty" yaml:",omitempty"`

	// Doc is general documentation about how this behavior works.
	Doc string `json:"doc,omitempty" yaml:",omitempty"`

	// Namespaces declares every variable namespace this Document
	// may reference.  The declaration bounds each actor's variable
	// cache and lets the resolution layer load providers lazily.
	Namespaces []string `json:"namespaces,omitempty" yaml:",omitempty"`

	// ActionKinds declares every action kind this Document may
	// emit.
	ActionKinds []string `json:"actionKinds,omitempty" yaml:"actionKinds,omitempty"`

	// Registers is the size of the fixed per-actor working set for
	// Program execution.
	Registers int `json:"registers,omitempty" yaml:",omitempty"`

	// Program is the compiled instruction sequence (if this is a
	// bytecode-driven behavior).
	Program []Instr `json:"program,omitempty" yaml:",omitempty"`

	// Steps is the root of the step tree (if this is a long-running
	// behavior).
	Steps *Step `json:"steps,omitempty" yaml:",omitempty"`

	// Goals names the planning problems that plan instructions and
	// plan steps may invoke.
	Goals map[string]*GoalSpec `json:"goals,omitempty" yaml:",omitempty"`

	// declared is the Namespaces set, built by Compile.
	declared map[string]bool

	compiled bool
}

// GoalSpec is one named planning problem.
type GoalSpec struct {
	Doc string `json:"doc,omitempty" yaml:",omitempty"`

	// Goal is the condition the planner must satisfy.
	Goal plan.Facts `json:"goal" yaml:"goal"`

	// Library is the bounded set of candidate actions.
	Library []plan.Action `json:"library" yaml:"library"`

	// Budget caps node expansions.  Zero means plan.DefaultBudget.
	Budget int `json:"budget,omitempty" yaml:",omitempty"`

	// World maps fact keys to variable references
	// ("namespace.path").  The interpreter resolves each reference
	// when the goal is invoked to build the world-state snapshot.
	// An Unavailable reference simply leaves its fact out of the
	// snapshot.
	World map[string]string `json:"world,omitempty" yaml:",omitempty"`
}

// Declares reports whether the Document declares the namespace.
func (d *Document) Declares(namespace string) bool {
	if d.declared != nil {
		return d.declared[namespace]
	}
	for _, ns := range d.Namespaces {
		if ns == namespace {
			return true
		}
	}
	return false
}

// DeclaresKind reports whether the Document declares the action kind.
func (d *Document) DeclaresKind(kind string) bool {
	for _, k := range d.ActionKinds {
		if k == kind {
			return true
		}
	}
	return false
}

// Compiled reports whether Compile has succeeded on this Document.
func (d *Document) Compiled() bool {
	return d.compiled
}

// Compile validates the whole Document and prepares it for execution.
//
// There is no partial load: either every check passes and the
// Document becomes usable, or the first failure is returned and the
// Document stays unusable.  Checks include: exactly one of Program
// and Steps, every declared namespace registered (when a registry is
// given), every reference inside a declared namespace, every emitted
// action kind declared, instruction shape and branch targets, step
// tree shape, and goal table consistency.
//
// A nil registry skips only the provider-registration check, which is
// useful for offline compilation; a loading service always passes its
// registry.
func (d *Document) Compile(registry *vars.Registry) error {
	hasProgram := len(d.Program) > 0
	hasSteps := d.Steps != nil

	if hasProgram == hasSteps {
		return &BadDocument{d, "document must have exactly one of program and steps"}
	}

	d.declared = make(map[string]bool, len(d.Namespaces))
	for _, ns := range d.Namespaces {
		d.declared[ns] = true
		if registry != nil && !registry.Has(ns) {
			return &UnregisteredNamespace{d, ns}
		}
	}

	if err := d.compileGoals(); err != nil {
		return err
	}

	if hasProgram {
		if err := d.compileProgram(); err != nil {
			return err
		}
	} else {
		if err := d.Steps.validate(d, "root"); err != nil {
			return err
		}
	}

	d.compiled = true
	return nil
}

// checkRef verifies that a "namespace.path" reference parses and uses
// a declared namespace.
func (d *Document) checkRef(ref string) error {
	ns, _, err := vars.SplitRef(ref)
	if err != nil {
		return &UndeclaredRef{d, ref}
	}
	if !d.declared[ns] {
		return &UndeclaredRef{d, ref}
	}
	return nil
}

func (d *Document) compileGoals() error {
	for name, g := range d.Goals {
		if g == nil || len(g.Goal) == 0 {
			return &BadDocument{d, `goal "` + name + `" has no condition`}
		}
		req := plan.Request{Actions: g.Library}
		if err := req.Validate(); err != nil {
			return &BadDocument{d, `goal "` + name + `": ` + err.Error()}
		}
		for _, ref := range g.World {
			if err := d.checkRef(ref); err != nil {
				return err
			}
		}
	}
	return nil
}
