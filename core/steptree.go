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
	"encoding/json"
	"fmt"
	"time"

	"github.com/gorhill/cronexpr"
)

// Step kinds.
const (
	StepSeq     = "seq"     // run Steps in order
	StepEmit    = "emit"    // emit an action
	StepCall    = "call"    // external service call; suspends
	StepPlan    = "plan"    // planner invocation; suspends
	StepWait    = "wait"    // wait for a duration or cron time; suspends
	StepCompute = "compute" // evaluate an expression into a binding
	StepBranch  = "branch"  // evaluate a condition; run Then or Else
)

// Duration is a time.Duration that (de)serializes as a string like
// "250ms" or "2h".
type Duration time.Duration

func (d Duration) D() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(bs []byte) error {
	var s string
	if err := json.Unmarshal(bs, &s); err != nil {
		return err
	}
	return d.parse(s)
}

// UnmarshalYAML implements yaml.Unmarshaler (the gopkg.in/yaml.v2 /
// jsccast form).
func (d *Duration) UnmarshalYAML(unmarshal func(interface{}) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	return d.parse(s)
}

func (d *Duration) parse(s string) error {
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

// RetryPolicy says how a call step handles failure.  Without one, a
// failed call terminates the step's branch.
type RetryPolicy struct {
	// MaxAttempts counts the first try.
	MaxAttempts int `json:"maxAttempts" yaml:"maxAttempts"`

	// Backoff is the delay between attempts.
	Backoff Duration `json:"backoff,omitempty" yaml:",omitempty"`
}

// Step is one node of a long-running behavior tree.
//
// A Step's Kind determines which fields matter; the rest stay zero.
// Call, plan, and wait steps are the executor's named suspension
// points.
type Step struct {
	Kind string `json:"kind" yaml:"kind"`
	Doc  string `json:"doc,omitempty" yaml:",omitempty"`

	// Steps are the children of a seq step.
	Steps []*Step `json:"steps,omitempty" yaml:",omitempty"`

	// ActionKind and Args describe the action an emit step
	// produces.  String Args of the form "@name" are replaced with
	// the named binding's value.
	ActionKind string                 `json:"actionKind,omitempty" yaml:"actionKind,omitempty"`
	Args       map[string]interface{} `json:"args,omitempty" yaml:",omitempty"`

	// Service, Payload, Timeout, and Retry describe a call step.
	Service string                 `json:"service,omitempty" yaml:",omitempty"`
	Payload map[string]interface{} `json:"payload,omitempty" yaml:",omitempty"`
	Timeout Duration               `json:"timeout,omitempty" yaml:",omitempty"`
	Retry   *RetryPolicy           `json:"retry,omitempty" yaml:",omitempty"`

	// Goal names the GoalSpec a plan step invokes.
	Goal string `json:"goal,omitempty" yaml:",omitempty"`

	// Bind receives a step's result: the call response, the plan's
	// action names, or the computed value.
	Bind string `json:"bind,omitempty" yaml:",omitempty"`

	// For and Cron describe a wait step.  Exactly one is set: For
	// waits a duration, Cron waits until the expression's next
	// firing.
	For  Duration `json:"for,omitempty" yaml:",omitempty"`
	Cron string   `json:"cron,omitempty" yaml:",omitempty"`

	// Interpreter and Source describe the expression of a compute
	// or branch step.
	Interpreter string `json:"interpreter,omitempty" yaml:",omitempty"`
	Source      string `json:"source,omitempty" yaml:",omitempty"`

	// Then and Else are a branch step's arms.  Else may be nil.
	Then *Step `json:"then,omitempty" yaml:",omitempty"`
	Else *Step `json:"else,omitempty" yaml:",omitempty"`
}

// validate checks one step and its children.  The path pins error
// messages to a location in the tree.
func (s *Step) validate(d *Document, path string) error {
	if s == nil {
		return &BadStep{d, path, "nil step"}
	}
	switch s.Kind {
	case StepSeq:
		if len(s.Steps) == 0 {
			return &BadStep{d, path, "empty seq"}
		}
		for i, child := range s.Steps {
			if err := child.validate(d, fmt.Sprintf("%s.steps[%d]", path, i)); err != nil {
				return err
			}
		}
	case StepEmit:
		if !d.DeclaresKind(s.ActionKind) {
			return &UndeclaredActionKind{d, s.ActionKind}
		}
	case StepCall:
		if s.Service == "" {
			return &BadStep{d, path, "call without service"}
		}
		if s.Timeout <= 0 {
			return &BadStep{d, path, "call without timeout"}
		}
		if s.Retry != nil && s.Retry.MaxAttempts < 1 {
			return &BadStep{d, path, "retry maxAttempts must be at least 1"}
		}
	case StepPlan:
		g, have := d.Goals[s.Goal]
		if !have {
			return &UnknownGoal{d, s.Goal}
		}
		for _, a := range g.Library {
			if !d.DeclaresKind(a.Name) {
				return &UndeclaredActionKind{d, a.Name}
			}
		}
	case StepWait:
		if (s.For > 0) == (s.Cron != "") {
			return &BadStep{d, path, "wait needs exactly one of for and cron"}
		}
		if s.Cron != "" {
			if _, err := cronexpr.Parse(s.Cron); err != nil {
				return &BadStep{d, path, "bad cron expression: " + err.Error()}
			}
		}
	case StepCompute:
		if s.Source == "" {
			return &BadStep{d, path, "compute without source"}
		}
		if s.Bind == "" {
			return &BadStep{d, path, "compute without bind"}
		}
	case StepBranch:
		if s.Source == "" {
			return &BadStep{d, path, "branch without source"}
		}
		if s.Then == nil {
			return &BadStep{d, path, "branch without then"}
		}
		if err := s.Then.validate(d, path+".then"); err != nil {
			return err
		}
		if s.Else != nil {
			if err := s.Else.validate(d, path+".else"); err != nil {
				return err
			}
		}
	default:
		return &BadStep{d, path, `unknown kind "` + s.Kind + `"`}
	}
	return nil
}
