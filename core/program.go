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

// The instruction set is closed: variable read, constant load,
// arithmetic, comparison, boolean ops, conditional branch, action
// emit, and planner invoke.  Anything else is a load-time error.

// Ops (the wire names of instructions).
const (
	OpRead   = "read"   // regs[dst] = resolve(ref), or fallback on Unavailable
	OpConst  = "const"  // regs[dst] = imm
	OpAdd    = "add"    // regs[dst] = regs[src] + regs[src2]
	OpSub    = "sub"    // regs[dst] = regs[src] - regs[src2]
	OpMul    = "mul"    // regs[dst] = regs[src] * regs[src2]
	OpLt     = "lt"     // regs[dst] = regs[src] < regs[src2]
	OpLe     = "le"     // regs[dst] = regs[src] <= regs[src2]
	OpGt     = "gt"     // regs[dst] = regs[src] > regs[src2]
	OpGe     = "ge"     // regs[dst] = regs[src] >= regs[src2]
	OpEq     = "eq"     // regs[dst] = regs[src] == regs[src2]
	OpAnd    = "and"    // regs[dst] = regs[src] && regs[src2]
	OpOr     = "or"     // regs[dst] = regs[src] || regs[src2]
	OpNot    = "not"    // regs[dst] = !regs[src]
	OpJump   = "jump"   // pc = target
	OpBranch = "branch" // if regs[src] then pc = target
	OpEmit   = "emit"   // emit Action{kind, regs[args...]}
	OpPlan   = "plan"   // invoke planner on goal; regs[dst] = plan found
	OpHalt   = "halt"   // completed this tick
)

// opcodes for the execution switch.  Compile translates the wire
// names once so Tick never compares strings.
const (
	opRead = iota
	opConst
	opAdd
	opSub
	opMul
	opLt
	opLe
	opGt
	opGe
	opEq
	opAnd
	opOr
	opNot
	opJump
	opBranch
	opEmit
	opPlan
	opHalt
)

var opcodes = map[string]int{
	OpRead:   opRead,
	OpConst:  opConst,
	OpAdd:    opAdd,
	OpSub:    opSub,
	OpMul:    opMul,
	OpLt:     opLt,
	OpLe:     opLe,
	OpGt:     opGt,
	OpGe:     opGe,
	OpEq:     opEq,
	OpAnd:    opAnd,
	OpOr:     opOr,
	OpNot:    opNot,
	OpJump:   opJump,
	OpBranch: opBranch,
	OpEmit:   opEmit,
	OpPlan:   opPlan,
	OpHalt:   opHalt,
}

// Instr is one fixed-shape instruction.  Unused fields are zero.
type Instr struct {
	Op string `json:"op" yaml:"op"`

	// Dst, Src, and Src2 are register indexes.
	Dst  int `json:"dst,omitempty" yaml:",omitempty"`
	Src  int `json:"src,omitempty" yaml:",omitempty"`
	Src2 int `json:"src2,omitempty" yaml:",omitempty"`

	// Imm is the constant for OpConst.
	Imm float64 `json:"imm,omitempty" yaml:",omitempty"`

	// Ref is the "namespace.path" reference for OpRead.
	Ref string `json:"ref,omitempty" yaml:",omitempty"`

	// Fallback is the value OpRead uses when resolution returns
	// Unavailable.  Zero means "treat as zero", which is itself a
	// declared fallback.
	Fallback float64 `json:"fallback,omitempty" yaml:",omitempty"`

	// Kind is the action kind for OpEmit.
	Kind string `json:"kind,omitempty" yaml:",omitempty"`

	// Args are register indexes whose values become the emitted
	// action's payload.
	Args []int `json:"args,omitempty" yaml:",omitempty"`

	// Target is the jump destination for OpJump and OpBranch.
	Target int `json:"target,omitempty" yaml:",omitempty"`

	// Goal names the GoalSpec for OpPlan.
	Goal string `json:"goal,omitempty" yaml:",omitempty"`

	opcode int
}

// compileProgram validates the instruction sequence and resolves wire
// op names to opcodes.
func (d *Document) compileProgram() error {
	if d.Registers <= 0 {
		return &BadDocument{d, "program requires a positive register count"}
	}

	reg := func(i, r int, which string) error {
		if r < 0 || r >= d.Registers {
			return &BadInstruction{d, i, which + " register out of range"}
		}
		return nil
	}

	for i := range d.Program {
		in := &d.Program[i]
		code, known := opcodes[in.Op]
		if !known {
			return &BadInstruction{d, i, `unknown op "` + in.Op + `"`}
		}
		in.opcode = code

		switch code {
		case opRead:
			if err := reg(i, in.Dst, "dst"); err != nil {
				return err
			}
			if err := d.checkRef(in.Ref); err != nil {
				return err
			}
		case opConst:
			if err := reg(i, in.Dst, "dst"); err != nil {
				return err
			}
		case opAdd, opSub, opMul, opLt, opLe, opGt, opGe, opEq, opAnd, opOr:
			if err := reg(i, in.Dst, "dst"); err != nil {
				return err
			}
			if err := reg(i, in.Src, "src"); err != nil {
				return err
			}
			if err := reg(i, in.Src2, "src2"); err != nil {
				return err
			}
		case opNot:
			if err := reg(i, in.Dst, "dst"); err != nil {
				return err
			}
			if err := reg(i, in.Src, "src"); err != nil {
				return err
			}
		case opJump:
			if in.Target < 0 || in.Target >= len(d.Program) {
				return &BadInstruction{d, i, "jump target out of range"}
			}
		case opBranch:
			if err := reg(i, in.Src, "src"); err != nil {
				return err
			}
			if in.Target < 0 || in.Target >= len(d.Program) {
				return &BadInstruction{d, i, "branch target out of range"}
			}
		case opEmit:
			if !d.DeclaresKind(in.Kind) {
				return &UndeclaredActionKind{d, in.Kind}
			}
			for _, a := range in.Args {
				if err := reg(i, a, "arg"); err != nil {
					return err
				}
			}
		case opPlan:
			if err := reg(i, in.Dst, "dst"); err != nil {
				return err
			}
			g, have := d.Goals[in.Goal]
			if !have {
				return &UnknownGoal{d, in.Goal}
			}
			for _, a := range g.Library {
				if !d.DeclaresKind(a.Name) {
					return &UndeclaredActionKind{d, a.Name}
				}
			}
		case opHalt:
			// No operands.
		}
	}

	return nil
}
