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

package sched

import (
	"fmt"
	"sync"

	"github.com/legionkit/legion/script"
	"github.com/legionkit/legion/vars"
)

// OverflowPolicy says what a full perception queue drops.  The zero
// value is "unset"; config resolution replaces it with a default.
type OverflowPolicy int

const (
	// DropOldest discards the oldest queued perception to admit the
	// new one.  Favors responsiveness.
	DropOldest OverflowPolicy = iota + 1

	// DropNewest discards the incoming perception.  Favors causal
	// history.
	DropNewest
)

func (p OverflowPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case DropNewest:
		return "drop-newest"
	default:
		return fmt.Sprintf("overflow(%d)", int(p))
	}
}

// Perception is one inbound event for one actor.
//
// A perception either pushes observed values for a namespace into the
// actor's variable cache (Namespace and Values set) or answers a
// suspended executor (Token and Outcome set).
type Perception struct {
	Namespace string
	Values    map[string]vars.Value

	Token   string
	Outcome *script.Outcome
}

// queue is an actor's bounded perception queue.  Push is safe from
// any goroutine; drain only from the actor's worker.
type queue struct {
	mu      sync.Mutex
	buf     []Perception
	limit   int
	policy  OverflowPolicy
	dropped uint64
}

func newQueue(limit int, policy OverflowPolicy) *queue {
	return &queue{
		buf:    make([]Perception, 0, limit),
		limit:  limit,
		policy: policy,
	}
}

// push enqueues a perception, applying the overflow policy when the
// queue is full.  Reports whether anything was dropped.
func (q *queue) push(p Perception) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.buf) < q.limit {
		q.buf = append(q.buf, p)
		return false
	}

	q.dropped++
	if q.policy == DropNewest {
		return true
	}
	copy(q.buf, q.buf[1:])
	q.buf[len(q.buf)-1] = p
	return true
}

// drain moves all queued perceptions into the given scratch slice.
func (q *queue) drain(scratch []Perception) []Perception {
	q.mu.Lock()
	defer q.mu.Unlock()
	scratch = append(scratch[:0], q.buf...)
	q.buf = q.buf[:0]
	return scratch
}

func (q *queue) drops() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
