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

// Package plan finds lowest-cost action sequences with best-first
// search.
//
// The planner is pure: for fixed (state, goal, action library) it
// always returns an identical plan or an identical failure, regardless
// of call history.  Ties between equal-cost sequences are broken by
// discovery order, which is stable for a fixed action library
// ordering.
package plan

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	// ErrNoPlan is returned when no action sequence reaches the
	// goal.  Callers fall back to an idle or default goal; ErrNoPlan
	// is never fatal.
	ErrNoPlan = errors.New("no plan found")

	// ErrBudget is returned when the node-expansion budget runs out
	// before the search finishes.  An inadmissible heuristic can at
	// worst burn the budget; it can't make the search run unbounded.
	ErrBudget = errors.New("expansion budget exhausted")

	// DefaultBudget is used when a Request doesn't set one.
	DefaultBudget = 10000
)

// Facts is an opaque key/value snapshot of world state.  Values are
// compared for equality only; the planner assigns no meaning to them.
type Facts map[string]interface{}

// Copy makes a shallow copy of the Facts.
func (fs Facts) Copy() Facts {
	acc := make(Facts, len(fs))
	for k, v := range fs {
		acc[k] = v
	}
	return acc
}

// Satisfies reports whether every fact in the goal holds in fs.
func (fs Facts) Satisfies(goal Facts) bool {
	for k, want := range goal {
		got, have := fs[k]
		if !have || got != want {
			return false
		}
	}
	return true
}

// key renders the Facts canonically so that equal states collapse to
// one search node.
func (fs Facts) key() string {
	ks := make([]string, 0, len(fs))
	for k := range fs {
		ks = append(ks, k)
	}
	sort.Strings(ks)
	var b strings.Builder
	for _, k := range ks {
		fmt.Fprintf(&b, "%s=%v;", k, fs[k])
	}
	return b.String()
}

// Action is one candidate step in the action library.
type Action struct {
	// Name identifies the action in the resulting plan.
	Name string `json:"name" yaml:"name"`

	// Cost must be positive.
	Cost float64 `json:"cost" yaml:"cost"`

	// Pre are facts that must hold before the action applies.
	Pre Facts `json:"pre,omitempty" yaml:"pre,omitempty"`

	// Eff are facts the action makes true.
	Eff Facts `json:"eff,omitempty" yaml:"eff,omitempty"`
}

// applicable reports whether the action's preconditions hold.
func (a *Action) applicable(state Facts) bool {
	return state.Satisfies(a.Pre)
}

// apply returns the successor state.
func (a *Action) apply(state Facts) Facts {
	next := state.Copy()
	for k, v := range a.Eff {
		next[k] = v
	}
	return next
}

// Heuristic estimates remaining cost from a state to the goal.  It
// must never overestimate for the returned plan to be optimal; an
// overestimating heuristic only costs optimality, never termination.
type Heuristic func(state, goal Facts) float64

// Request is one planning problem.
type Request struct {
	State   Facts
	Goal    Facts
	Actions []Action

	// Budget is the maximum number of node expansions.  Zero means
	// DefaultBudget.
	Budget int

	// Heuristic may be nil, which degrades the search to uniform
	// cost (always admissible).
	Heuristic Heuristic
}

// Plan is the result of a successful search.
type Plan struct {
	// Actions is the ordered sequence that transforms the request
	// state into one satisfying the goal.
	Actions []Action

	// Cost is the total cost of the sequence.
	Cost float64

	// Expanded is the number of nodes the search expanded.
	Expanded int
}

// Names returns the action names in order.  Handy in tests and logs.
func (p *Plan) Names() []string {
	acc := make([]string, len(p.Actions))
	for i, a := range p.Actions {
		acc[i] = a.Name
	}
	return acc
}

// BadAction occurs when an action library entry is malformed.
type BadAction struct {
	Action Action
	Reason string
}

func (e *BadAction) Error() string {
	return fmt.Sprintf("bad action %q: %s", e.Action.Name, e.Reason)
}

// Validate checks the request's action library.  Find calls this, but
// document loading can call it earlier to reject a bad library before
// any actor runs.
func (r *Request) Validate() error {
	for _, a := range r.Actions {
		if a.Name == "" {
			return &BadAction{a, "empty name"}
		}
		if a.Cost <= 0 {
			return &BadAction{a, "cost must be positive"}
		}
		if len(a.Eff) == 0 {
			return &BadAction{a, "no effects"}
		}
	}
	return nil
}
