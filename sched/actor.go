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
	"sync/atomic"
	"time"

	"github.com/legionkit/legion/core"
	"github.com/legionkit/legion/script"
	"github.com/legionkit/legion/vars"
)

// Liveness is an actor's scheduling state.
type Liveness int

const (
	// Active actors are ticked at their cadence.
	Active Liveness = iota

	// Suspended actors are parked on a pending call, plan, or wait.
	// They hold no worker; a perception re-activates them.
	Suspended

	// Terminated actors are done.  Remove reaps them.
	Terminated
)

func (l Liveness) String() string {
	switch l {
	case Active:
		return "active"
	case Suspended:
		return "suspended"
	case Terminated:
		return "terminated"
	default:
		return fmt.Sprintf("liveness(%d)", int(l))
	}
}

// ActorConfig is the per-actor-class tuning.  Zero values take the
// scheduler's defaults.
type ActorConfig struct {
	// Cadence is how often a program actor ticks.
	Cadence time.Duration

	// TickBudget caps instructions per tick.
	TickBudget int

	// QueueLimit bounds the perception queue; Overflow says what a
	// full queue drops.
	QueueLimit int
	Overflow   OverflowPolicy
}

// Actor is one live cognitive process: one Behavior Document, one
// entity identity, one variable cache, one bounded perception queue.
//
// Exactly one shard owns an actor; only that shard's worker touches
// the machine, the executor, and the cache entries.  The queue, the
// liveness word, and the gone flag are the cross-goroutine surface.
type Actor struct {
	id    string
	doc   *core.Document
	cache *vars.Cache
	conf  ActorConfig

	// Exactly one of machine and exec is set, per the document's
	// form.
	machine *core.Machine
	exec    *script.Executor

	queue   *queue
	scratch []Perception

	// liveness is written by the owning worker and read by Info
	// without the shard lock, so access goes through the atomic.
	liveness atomic.Int32
	due      time.Time

	// gone is set by Remove (under the shard lock); the worker reaps
	// on its next pass.
	gone bool
}

// ID returns the actor's entity identity.
func (a *Actor) ID() string {
	return a.id
}

// Liveness returns the actor's scheduling state.
func (a *Actor) Liveness() Liveness {
	return Liveness(a.liveness.Load())
}

func (a *Actor) setLiveness(l Liveness) {
	a.liveness.Store(int32(l))
}

// ActorInfo is a point-in-time external view of one actor.
type ActorInfo struct {
	ID       string
	Document string
	Version  string
	Liveness Liveness

	// QueueDropped counts perceptions discarded by the overflow
	// policy since the actor was created.
	QueueDropped uint64
}
