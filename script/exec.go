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

package script

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorhill/cronexpr"

	"github.com/legionkit/legion/core"
	"github.com/legionkit/legion/exprs"
	"github.com/legionkit/legion/plan"
	"github.com/legionkit/legion/vars"
)

// ErrCancelled marks an executor terminated by its scheduler.  The
// cancelled step is treated as a failure with no partial effect: its
// pending result, if one ever arrives, is dropped.
var ErrCancelled = errors.New("cancelled")

// Executor interprets one actor's step-tree Document.
//
// An Executor is owned by one worker at a time.  Ticks and
// resumptions on it are strictly sequential; the host never calls two
// of its methods concurrently.
type Executor struct {
	doc          *core.Document
	actorID      string
	cache        *vars.Cache
	emitter      core.Emitter
	interpreters exprs.Map

	bindings map[string]interface{}
	cur      []int
	status   Status
	pending  *Suspension
	attempt  int
	termErr  error

	// now is replaceable in tests.
	now func() time.Time
}

// NewExecutor binds a compiled step-tree Document to an actor.
func NewExecutor(doc *core.Document, actorID string, cache *vars.Cache, emitter core.Emitter, interpreters exprs.Map) (*Executor, error) {
	if !doc.Compiled() {
		return nil, &core.NotCompiled{Doc: doc}
	}
	if doc.Steps == nil {
		return nil, &core.BadDocument{Doc: doc, Reason: "executor requires a steps document"}
	}
	if interpreters == nil {
		interpreters = exprs.Standard()
	}
	return &Executor{
		doc:          doc,
		actorID:      actorID,
		cache:        cache,
		emitter:      emitter,
		interpreters: interpreters,
		bindings:     map[string]interface{}{},
		cur:          []int{},
		now:          time.Now,
	}, nil
}

// Status returns the executor's liveness state.
func (e *Executor) Status() Status {
	return e.status
}

// Err returns the terminal error, if the executor terminated on an
// unrecoverable step failure or cancellation.
func (e *Executor) Err() error {
	return e.termErr
}

// Bindings exposes the executor's current bindings.  Callers must not
// mutate the map while the executor is Running.
func (e *Executor) Bindings() map[string]interface{} {
	return e.bindings
}

// Pending returns the current suspension, if any.
func (e *Executor) Pending() *Suspension {
	return e.pending
}

// Advance runs the executor until it suspends or terminates.
//
// A nil Suspension with a nil error means the document completed (or
// failed; check Err).  Calling Advance on an already-suspended
// executor just returns the pending Suspension.
func (e *Executor) Advance(ctx context.Context) (*Suspension, error) {
	switch e.status {
	case Terminated:
		return nil, ErrTerminated
	case Suspended:
		return e.pending, nil
	}
	return e.run(ctx)
}

// Resume delivers the outcome of the pending suspension.
//
// The token must match; a duplicate delivery of an already-applied
// result gets ErrBadToken and changes nothing.  On success the
// executor continues until its next suspension or termination.
func (e *Executor) Resume(ctx context.Context, token string, out Outcome) (*Suspension, error) {
	switch e.status {
	case Terminated:
		return nil, ErrTerminated
	case Running:
		return nil, ErrNotSuspended
	}
	if e.pending == nil || e.pending.Token != token {
		return nil, ErrBadToken
	}

	s, err := stepAt(e.doc.Steps, e.cur)
	if err != nil {
		return nil, e.fail(err)
	}

	switch e.pending.Reason {
	case ReasonCall:
		if out.Err != "" || out.TimedOut {
			callErr := &CallError{
				Service:  s.Service,
				Message:  out.Err,
				TimedOut: out.TimedOut,
			}
			if s.Retry != nil && e.attempt < s.Retry.MaxAttempts {
				// Re-suspend for the next attempt.  The new
				// token invalidates any late duplicate of the
				// failed attempt's result.
				return e.suspendCall(s, e.attempt+1), nil
			}
			return nil, e.fail(callErr)
		}
		if s.Bind != "" {
			e.bindings[s.Bind] = out.Value
		}
	case ReasonPlan:
		// Planning failure is never fatal: the document's branch
		// steps decide the fallback.
		if out.Err != "" {
			if s.Bind != "" {
				e.bindings[s.Bind] = nil
			}
		} else if s.Bind != "" {
			if p, is := out.Value.(*plan.Plan); is && p != nil {
				e.bindings[s.Bind] = planNames(p)
			} else {
				e.bindings[s.Bind] = out.Value
			}
		}
	case ReasonWait:
		// Nothing to bind.
	}

	e.pending = nil
	e.attempt = 0
	e.status = Running

	if err := e.moveOn(); err != nil {
		return nil, e.fail(err)
	}
	if e.status == Terminated {
		return nil, nil
	}
	return e.run(ctx)
}

// Cancel terminates the executor.  Any in-flight result is dropped
// when it arrives (its token no longer matches anything).
func (e *Executor) Cancel() {
	if e.status == Terminated {
		return
	}
	e.pending = nil
	e.status = Terminated
	e.termErr = ErrCancelled
}

// run advances through non-blocking steps until a suspension or
// termination.
func (e *Executor) run(ctx context.Context) (*Suspension, error) {
	for e.status == Running {
		s, err := stepAt(e.doc.Steps, e.cur)
		if err != nil {
			return nil, e.fail(err)
		}

		switch s.Kind {
		case core.StepSeq:
			e.cur = childPath(e.cur, 0)

		case core.StepEmit:
			if e.emitter != nil {
				a := core.Action{
					Kind:    s.ActionKind,
					Payload: e.interpolate(s.Args),
				}
				if err := e.emitter.Emit(ctx, e.actorID, a); err != nil {
					return nil, e.fail(err)
				}
			}
			if err := e.moveOn(); err != nil {
				return nil, e.fail(err)
			}

		case core.StepCompute:
			v, err := e.interpreters.Eval(ctx, s.Interpreter, s.Source, e.bindings)
			if err != nil {
				return nil, e.fail(err)
			}
			e.bindings[s.Bind] = v
			if err := e.moveOn(); err != nil {
				return nil, e.fail(err)
			}

		case core.StepBranch:
			v, err := e.interpreters.Eval(ctx, s.Interpreter, s.Source, e.bindings)
			if err != nil {
				return nil, e.fail(err)
			}
			switch {
			case exprs.Truthy(v):
				e.cur = childPath(e.cur, 0)
			case s.Else != nil:
				e.cur = childPath(e.cur, 1)
			default:
				if err := e.moveOn(); err != nil {
					return nil, e.fail(err)
				}
			}

		case core.StepCall:
			return e.suspendCall(s, 1), nil

		case core.StepPlan:
			return e.suspendPlan(ctx, s)

		case core.StepWait:
			var until time.Time
			if s.For > 0 {
				until = e.now().Add(s.For.D())
			} else {
				until = cronexpr.MustParse(s.Cron).Next(e.now())
			}
			e.pending = &Suspension{
				Reason: ReasonWait,
				Token:  uuid.NewString(),
				Until:  until,
			}
			e.status = Suspended
			return e.pending, nil

		default:
			return nil, e.fail(&core.BadStep{Doc: e.doc, Path: "runtime", Reason: "unknown kind " + s.Kind})
		}
	}

	return nil, nil
}

func (e *Executor) suspendCall(s *core.Step, attempt int) *Suspension {
	sus := &Suspension{
		Reason:  ReasonCall,
		Token:   uuid.NewString(),
		Service: s.Service,
		Payload: e.interpolate(s.Payload),
		Timeout: s.Timeout.D(),
		Attempt: attempt,
	}
	if attempt > 1 && s.Retry != nil && s.Retry.Backoff > 0 {
		sus.NotBefore = e.now().Add(s.Retry.Backoff.D())
	}
	e.pending = sus
	e.attempt = attempt
	e.status = Suspended
	return sus
}

func (e *Executor) suspendPlan(ctx context.Context, s *core.Step) (*Suspension, error) {
	g := e.doc.Goals[s.Goal]

	state := make(plan.Facts, len(g.World))
	for fact, ref := range g.World {
		v, err := e.cache.Resolve(ctx, ref)
		if err != nil {
			if errors.Is(err, vars.ErrUnavailable) {
				continue
			}
			return nil, e.fail(err)
		}
		state[fact] = v
	}

	e.pending = &Suspension{
		Reason: ReasonPlan,
		Token:  uuid.NewString(),
		Request: &plan.Request{
			State:   state,
			Goal:    g.Goal,
			Actions: g.Library,
			Budget:  g.Budget,
		},
	}
	e.status = Suspended
	return e.pending, nil
}

// moveOn steps to the successor of the current step, terminating
// normally when there isn't one.
func (e *Executor) moveOn() error {
	next, err := successor(e.doc.Steps, e.cur)
	if err != nil {
		return err
	}
	if next == nil {
		e.status = Terminated
		return nil
	}
	e.cur = next
	return nil
}

// fail terminates the executor with the given step failure.
func (e *Executor) fail(err error) error {
	e.pending = nil
	e.status = Terminated
	e.termErr = err
	return nil
}

// interpolate copies args, replacing "@name" strings with the named
// binding's value.
func (e *Executor) interpolate(args map[string]interface{}) map[string]interface{} {
	if args == nil {
		return nil
	}
	out := make(map[string]interface{}, len(args))
	for k, v := range args {
		if s, is := v.(string); is && strings.HasPrefix(s, "@") {
			out[k] = e.bindings[s[1:]]
			continue
		}
		out[k] = v
	}
	return out
}

func planNames(p *plan.Plan) []interface{} {
	acc := make([]interface{}, len(p.Actions))
	for i, a := range p.Actions {
		acc[i] = a.Name
	}
	return acc
}

func childPath(path []int, i int) []int {
	next := make([]int, len(path)+1)
	copy(next, path)
	next[len(path)] = i
	return next
}
