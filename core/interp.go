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
	"errors"
	"fmt"

	"github.com/legionkit/legion/plan"
	"github.com/legionkit/legion/vars"
)

var (
	// DefaultTickBudget is the instruction limit per tick when the
	// caller passes zero.
	DefaultTickBudget = 256

	// ErrNoPlanner occurs when a Document with plan instructions is
	// bound to a Machine without a planner.
	ErrNoPlanner = errors.New("document plans but machine has no planner")
)

// Planner produces a plan for a request, or a typed failure.
type Planner interface {
	Find(req plan.Request) (*plan.Plan, error)
}

// PlannerFunc makes a plain function a Planner.  plan.Find itself
// qualifies.
type PlannerFunc func(req plan.Request) (*plan.Plan, error)

func (f PlannerFunc) Find(req plan.Request) (*plan.Plan, error) {
	return f(req)
}

// TickStatus says how a tick ended.
type TickStatus int

const (
	// TickDone means the program ran to completion this tick.  The
	// next tick starts the program over.
	TickDone TickStatus = iota

	// TickYielded means the budget ran out.  The next tick resumes
	// at the saved program counter.
	TickYielded
)

// TickResult is everything a tick produced.
type TickResult struct {
	Status TickStatus

	// Actions are the emitted actions, in emission order.  The
	// slice and its Values are reused on the next Tick; callers
	// that keep actions must copy them.
	Actions []Action

	// Steps is the number of instructions executed.
	Steps int
}

// Machine executes one actor's compiled Program.
//
// The working set -- registers, emit buffers -- is allocated once at
// creation.  The steady-state tick path allocates nothing; only
// planner invocations (explicit suspension points) may allocate.
// A Machine is owned by one worker at a time and is not safe for
// concurrent use.
type Machine struct {
	doc     *Document
	cache   *vars.Cache
	planner Planner

	pc   int
	regs []float64

	// actions is the reusable emission buffer; valbuf is the arena
	// emitted payloads are copied into.  Both are truncated, never
	// freed, at the start of each tick, so a program that loops over
	// an emit grows them at most once.
	actions []Action
	valbuf  []float64
}

// NewMachine binds a compiled Document to a per-actor cache and an
// optional planner.
func NewMachine(doc *Document, cache *vars.Cache, planner Planner) (*Machine, error) {
	if !doc.Compiled() {
		return nil, &NotCompiled{doc}
	}
	if len(doc.Program) == 0 {
		return nil, &BadDocument{doc, "machine requires a program document"}
	}

	emits := 0
	args := 0
	for i := range doc.Program {
		in := &doc.Program[i]
		switch in.opcode {
		case opEmit:
			emits++
			args += len(in.Args)
		case opPlan:
			if planner == nil {
				return nil, ErrNoPlanner
			}
		}
	}

	return &Machine{
		doc:     doc,
		cache:   cache,
		planner: planner,
		regs:    make([]float64, doc.Registers),
		actions: make([]Action, 0, emits),
		valbuf:  make([]float64, 0, args),
	}, nil
}

// Document returns the Document this Machine executes.
func (m *Machine) Document() *Document {
	return m.doc
}

// Tick executes up to budget instructions (DefaultTickBudget if
// budget is zero or less).
//
// A planner invocation runs synchronously within this call: it
// suspends this actor's thread of control, never anyone else's.
func (m *Machine) Tick(ctx context.Context, budget int) (TickResult, error) {
	if budget <= 0 {
		budget = DefaultTickBudget
	}

	m.actions = m.actions[:0]
	m.valbuf = m.valbuf[:0]
	program := m.doc.Program
	steps := 0

	for steps < budget {
		if m.pc >= len(program) {
			m.pc = 0
			return TickResult{Status: TickDone, Actions: m.actions, Steps: steps}, nil
		}

		in := &program[m.pc]
		steps++
		next := m.pc + 1

		switch in.opcode {
		case opRead:
			v, err := m.cache.Resolve(ctx, in.Ref)
			switch {
			case err == nil:
				n, ok := number(v)
				if !ok {
					n = in.Fallback
				}
				m.regs[in.Dst] = n
			case errors.Is(err, vars.ErrUnavailable):
				m.regs[in.Dst] = in.Fallback
			default:
				return TickResult{Actions: m.actions, Steps: steps}, err
			}
		case opConst:
			m.regs[in.Dst] = in.Imm
		case opAdd:
			m.regs[in.Dst] = m.regs[in.Src] + m.regs[in.Src2]
		case opSub:
			m.regs[in.Dst] = m.regs[in.Src] - m.regs[in.Src2]
		case opMul:
			m.regs[in.Dst] = m.regs[in.Src] * m.regs[in.Src2]
		case opLt:
			m.regs[in.Dst] = b2f(m.regs[in.Src] < m.regs[in.Src2])
		case opLe:
			m.regs[in.Dst] = b2f(m.regs[in.Src] <= m.regs[in.Src2])
		case opGt:
			m.regs[in.Dst] = b2f(m.regs[in.Src] > m.regs[in.Src2])
		case opGe:
			m.regs[in.Dst] = b2f(m.regs[in.Src] >= m.regs[in.Src2])
		case opEq:
			m.regs[in.Dst] = b2f(m.regs[in.Src] == m.regs[in.Src2])
		case opAnd:
			m.regs[in.Dst] = b2f(m.regs[in.Src] != 0 && m.regs[in.Src2] != 0)
		case opOr:
			m.regs[in.Dst] = b2f(m.regs[in.Src] != 0 || m.regs[in.Src2] != 0)
		case opNot:
			m.regs[in.Dst] = b2f(m.regs[in.Src] == 0)
		case opJump:
			next = in.Target
		case opBranch:
			if m.regs[in.Src] != 0 {
				next = in.Target
			}
		case opEmit:
			// Each emission gets its own arena segment, so an
			// emit executed again within the tick can't overwrite
			// earlier actions' payloads.
			start := len(m.valbuf)
			for _, r := range in.Args {
				m.valbuf = append(m.valbuf, m.regs[r])
			}
			end := len(m.valbuf)
			m.actions = append(m.actions, Action{
				Kind:   in.Kind,
				Values: m.valbuf[start:end:end],
			})
		case opPlan:
			found, err := m.invokePlanner(ctx, in)
			if err != nil {
				return TickResult{Actions: m.actions, Steps: steps}, err
			}
			m.regs[in.Dst] = b2f(found)
		case opHalt:
			m.pc = 0
			return TickResult{Status: TickDone, Actions: m.actions, Steps: steps}, nil
		}

		m.pc = next
	}

	// Budget exhausted: resume here next tick.
	return TickResult{Status: TickYielded, Actions: m.actions, Steps: steps}, nil
}

// invokePlanner builds the world snapshot from the goal's declared
// references and runs the planner.  A planning failure (no plan,
// budget exhausted) is a normal result, not an error; the plan's
// actions are emitted in order when planning succeeds.
func (m *Machine) invokePlanner(ctx context.Context, in *Instr) (bool, error) {
	g := m.doc.Goals[in.Goal]

	state := make(plan.Facts, len(g.World))
	for fact, ref := range g.World {
		v, err := m.cache.Resolve(ctx, ref)
		if err != nil {
			if errors.Is(err, vars.ErrUnavailable) {
				continue // partial snapshot beats no snapshot
			}
			return false, err
		}
		state[fact] = v
	}

	p, err := m.planner.Find(plan.Request{
		State:   state,
		Goal:    g.Goal,
		Actions: g.Library,
		Budget:  g.Budget,
	})
	switch {
	case err == nil:
		for i := range p.Actions {
			m.actions = append(m.actions, Action{Kind: p.Actions[i].Name})
		}
		return true, nil
	case errors.Is(err, plan.ErrNoPlan), errors.Is(err, plan.ErrBudget):
		return false, nil
	default:
		return false, fmt.Errorf("planner: %w", err)
	}
}

// MachineState is the serializable execution position of a Machine.
type MachineState struct {
	PC   int       `json:"pc" cbor:"1,keyasint"`
	Regs []float64 `json:"regs" cbor:"2,keyasint"`
}

// State snapshots the Machine for persistence or relocation.
func (m *Machine) State() MachineState {
	regs := make([]float64, len(m.regs))
	copy(regs, m.regs)
	return MachineState{PC: m.pc, Regs: regs}
}

// Restore loads a snapshot.  The register count must match the
// Document's declaration.
func (m *Machine) Restore(st MachineState) error {
	if len(st.Regs) != len(m.regs) {
		return &BadDocument{m.doc, "snapshot register count mismatch"}
	}
	if st.PC < 0 || st.PC > len(m.doc.Program) {
		return &BadDocument{m.doc, "snapshot pc out of range"}
	}
	m.pc = st.PC
	copy(m.regs, st.Regs)
	return nil
}

func b2f(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// number coerces a resolved variable value to a float64 register
// value.
func number(v vars.Value) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint64:
		return float64(n), true
	case bool:
		return b2f(n), true
	default:
		return 0, false
	}
}
