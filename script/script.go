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

// Package script interprets long-running behavior documents.
//
// An Executor walks a Document's step tree until it reaches a
// blocking step -- an external call, a planner invocation, or a wait
// -- and then suspends, handing its host a Suspension that says what
// it's waiting for.  The host performs the operation (or parks a
// timer) and resumes the executor with the outcome.  A suspended
// executor holds no scheduler resources; it's just data, and that
// data is serializable.
package script

import (
	"errors"
	"fmt"
	"time"

	"github.com/legionkit/legion/core"
	"github.com/legionkit/legion/plan"
)

var (
	// ErrBadToken is returned by Resume when the token doesn't
	// match the pending suspension.  Duplicate deliveries of an
	// already-applied result land here, which is what makes
	// resumption exactly-once.
	ErrBadToken = errors.New("resume token does not match pending suspension")

	// ErrNotSuspended is returned by Resume when the executor has
	// nothing pending.
	ErrNotSuspended = errors.New("executor is not suspended")

	// ErrTerminated is returned by Advance and Resume after the
	// executor has terminated.
	ErrTerminated = errors.New("executor has terminated")
)

// Status is the executor's liveness state.
type Status int

const (
	Running Status = iota
	Suspended
	Terminated
)

func (s Status) String() string {
	switch s {
	case Running:
		return "running"
	case Suspended:
		return "suspended"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// Suspension reasons.
const (
	ReasonCall = "call"
	ReasonPlan = "plan"
	ReasonWait = "wait"
)

// Suspension describes what a suspended executor awaits.
type Suspension struct {
	// Reason is ReasonCall, ReasonPlan, or ReasonWait.
	Reason string

	// Token must accompany the Resume that answers this
	// suspension.
	Token string

	// Service, Payload, and Timeout describe the pending external
	// call.  Attempt counts from 1; NotBefore is nonzero when a
	// retry policy imposes a backoff delay.
	Service   string
	Payload   map[string]interface{}
	Timeout   time.Duration
	Attempt   int
	NotBefore time.Time

	// Request is the pending planning problem.
	Request *plan.Request

	// Until is when a wait elapses.
	Until time.Time
}

// Outcome is the result a host delivers to Resume.
type Outcome struct {
	// Value is the call response or the *plan.Plan.
	Value interface{}

	// Err is a failure message; empty means success.  A planner's
	// no-plan failure goes here too.
	Err string

	// TimedOut marks a call that hit its declared timeout.  A
	// timeout is a typed failure, not a crash.
	TimedOut bool
}

// CallError is the typed failure of an external call step.
type CallError struct {
	Service  string
	Message  string
	TimedOut bool
}

func (e *CallError) Error() string {
	if e.TimedOut {
		return fmt.Sprintf("call to %q timed out", e.Service)
	}
	return fmt.Sprintf("call to %q failed: %s", e.Service, e.Message)
}

// stepAt navigates a path of child indexes from the document root.
//
// For a seq step the index selects a child; for a branch step index 0
// is the Then arm and index 1 the Else arm.  Paths are what make an
// executor's position serializable.
func stepAt(root *core.Step, path []int) (*core.Step, error) {
	s := root
	for depth, i := range path {
		switch s.Kind {
		case core.StepSeq:
			if i < 0 || i >= len(s.Steps) {
				return nil, fmt.Errorf("path index %d out of range at depth %d", i, depth)
			}
			s = s.Steps[i]
		case core.StepBranch:
			switch i {
			case 0:
				s = s.Then
			case 1:
				s = s.Else
			default:
				return nil, fmt.Errorf("branch path index %d at depth %d", i, depth)
			}
			if s == nil {
				return nil, fmt.Errorf("path selects missing branch arm at depth %d", depth)
			}
		default:
			return nil, fmt.Errorf("path descends into leaf step at depth %d", depth)
		}
	}
	return s, nil
}

// successor computes the path of the step that runs after the step at
// the given path completes.  A nil result means the document is done.
func successor(root *core.Step, path []int) ([]int, error) {
	for len(path) > 0 {
		parentPath := path[:len(path)-1]
		parent, err := stepAt(root, parentPath)
		if err != nil {
			return nil, err
		}
		if parent.Kind == core.StepSeq {
			i := path[len(path)-1]
			if i+1 < len(parent.Steps) {
				next := make([]int, len(path))
				copy(next, path)
				next[len(next)-1] = i + 1
				return next, nil
			}
		}
		// A completed branch arm (or the last seq child)
		// completes its parent.
		path = parentPath
	}
	return nil, nil
}
