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

package plan

import (
	"container/heap"
)

// node is one state in the search graph.
type node struct {
	state  Facts
	key    string
	g      float64 // cost from start
	f      float64 // g + heuristic
	seq    int     // insertion order, for deterministic tie-breaking
	parent *node
	via    int // index into the action library, -1 at the root
	index  int // heap bookkeeping
}

// openSet is a min-heap on (f, seq).  Breaking f-ties by insertion
// order keeps repeated invocations byte-for-byte identical.
type openSet []*node

func (q openSet) Len() int { return len(q) }

func (q openSet) Less(i, j int) bool {
	if q[i].f != q[j].f {
		return q[i].f < q[j].f
	}
	return q[i].seq < q[j].seq
}

func (q openSet) Swap(i, j int) {
	q[i], q[j] = q[j], q[i]
	q[i].index = i
	q[j].index = j
}

func (q *openSet) Push(x interface{}) {
	n := x.(*node)
	n.index = len(*q)
	*q = append(*q, n)
}

func (q *openSet) Pop() interface{} {
	old := *q
	last := len(old) - 1
	n := old[last]
	old[last] = nil
	n.index = -1
	*q = old[:last]
	return n
}

// Find runs best-first search over the request.
//
// With an admissible heuristic the returned plan's total cost is
// minimal.  With an inadmissible one, the search still terminates
// (closed set plus expansion budget) but may return a suboptimal plan.
func Find(req Request) (*Plan, error) {
	if err := req.Validate(); err != nil {
		return nil, err
	}

	budget := req.Budget
	if budget <= 0 {
		budget = DefaultBudget
	}
	h := req.Heuristic
	if h == nil {
		h = func(Facts, Facts) float64 { return 0 }
	}

	start := &node{
		state: req.State.Copy(),
		key:   req.State.key(),
		via:   -1,
	}
	start.f = h(start.state, req.Goal)

	open := make(openSet, 0, 64)
	heap.Init(&open)
	heap.Push(&open, start)

	seq := 1
	gScore := map[string]float64{start.key: 0}
	expanded := 0

	for open.Len() > 0 {
		n := heap.Pop(&open).(*node)

		// A cheaper route to this state was expanded already.
		if best, have := gScore[n.key]; have && n.g > best {
			continue
		}

		if n.state.Satisfies(req.Goal) {
			return unwind(n, req.Actions, expanded), nil
		}

		if expanded >= budget {
			return nil, ErrBudget
		}
		expanded++

		for i := range req.Actions {
			a := &req.Actions[i]
			if !a.applicable(n.state) {
				continue
			}
			next := a.apply(n.state)
			key := next.key()
			g := n.g + a.Cost
			if best, have := gScore[key]; have && g >= best {
				continue
			}
			gScore[key] = g
			heap.Push(&open, &node{
				state:  next,
				key:    key,
				g:      g,
				f:      g + h(next, req.Goal),
				seq:    seq,
				parent: n,
				via:    i,
			})
			seq++
		}
	}

	return nil, ErrNoPlan
}

// unwind walks parent links back to the root and reverses the path.
func unwind(n *node, lib []Action, expanded int) *Plan {
	depth := 0
	for m := n; m.via >= 0; m = m.parent {
		depth++
	}
	actions := make([]Action, depth)
	for m := n; m.via >= 0; m = m.parent {
		depth--
		actions[depth] = lib[m.via]
	}
	return &Plan{
		Actions:  actions,
		Cost:     n.g,
		Expanded: expanded,
	}
}
