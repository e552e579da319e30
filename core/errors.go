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

// These errors are load-time errors: a Document that trips any of
// them is rejected before any actor runs it.

import (
	"fmt"
)

// NotCompiled occurs when a Document is used (say via NewMachine)
// before it has been Compile()d.
type NotCompiled struct {
	Doc *Document
}

func (e *NotCompiled) Error() string {
	return `document "` + e.Doc.Name + `" not compiled`
}

// UnregisteredNamespace occurs when a Document declares a namespace
// with no registered provider.
type UnregisteredNamespace struct {
	Doc       *Document
	Namespace string
}

func (e *UnregisteredNamespace) Error() string {
	return `namespace "` + e.Namespace + `" declared by document "` + e.Doc.Name +
		`" has no registered provider`
}

// UndeclaredRef occurs when an instruction or step references a
// namespace the Document didn't declare.
type UndeclaredRef struct {
	Doc *Document
	Ref string
}

func (e *UndeclaredRef) Error() string {
	return `reference "` + e.Ref + `" in document "` + e.Doc.Name +
		`" uses an undeclared namespace`
}

// UndeclaredActionKind occurs when an emit instruction or step names
// an action kind outside the Document's declared set.
type UndeclaredActionKind struct {
	Doc  *Document
	Kind string
}

func (e *UndeclaredActionKind) Error() string {
	return `action kind "` + e.Kind + `" not declared by document "` + e.Doc.Name + `"`
}

// BadInstruction occurs when a Program instruction is malformed: an
// unknown op, an out-of-range register or branch target, a missing
// operand.
type BadInstruction struct {
	Doc    *Document
	Index  int
	Reason string
}

func (e *BadInstruction) Error() string {
	return fmt.Sprintf("bad instruction %d in document %q: %s", e.Index, e.Doc.Name, e.Reason)
}

// BadStep occurs when a step in a Document's step tree is malformed.
type BadStep struct {
	Doc    *Document
	Path   string
	Reason string
}

func (e *BadStep) Error() string {
	return fmt.Sprintf("bad step %s in document %q: %s", e.Path, e.Doc.Name, e.Reason)
}

// UnknownGoal occurs when a plan instruction or step names a goal
// missing from the Document's goal table.
type UnknownGoal struct {
	Doc  *Document
	Goal string
}

func (e *UnknownGoal) Error() string {
	return `goal "` + e.Goal + `" not found in document "` + e.Doc.Name + `"`
}

// BadDocument covers structural problems: neither or both of Program
// and Steps present, no registers, and the like.
type BadDocument struct {
	Doc    *Document
	Reason string
}

func (e *BadDocument) Error() string {
	return `bad document "` + e.Doc.Name + `": ` + e.Reason
}
