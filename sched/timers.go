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
	"context"
	"fmt"
	"sync"
	"time"
)

// TimerEntry represents a pending timer for a parked actor.
type TimerEntry struct {
	Id         string
	ActorID    string
	Perception Perception
	At         time.Time
	Ctl        chan bool `json:"-"`

	timers *Timers
}

// Timers holds the timers that re-enqueue suspended actors: wait-step
// deadlines and retry backoffs.  A parked actor holds no worker; its
// timer is the only resource.
type Timers struct {
	Map  map[string]*TimerEntry
	Fire func(context.Context, *TimerEntry) `json:"-"`

	sync.Mutex
}

// NewTimers creates a Timers with the given function that fired
// entries will use to deliver their perceptions.
func NewTimers(fire func(context.Context, *TimerEntry)) *Timers {
	return &Timers{
		Map:  make(map[string]*TimerEntry, 8),
		Fire: fire,
	}
}

// Add creates a new timer that will deliver the given perception to
// the actor at the appointed time (if the timer isn't cancelled
// first).  Re-adding an id cancels the previous timer.
func (ts *Timers) Add(ctx context.Context, id, actorID string, p Perception, at time.Time) {
	ts.Lock()
	defer ts.Unlock()

	if _, have := ts.Map[id]; have {
		ts.cancel(id)
	}

	e := &TimerEntry{
		Id:         id,
		ActorID:    actorID,
		Perception: p,
		At:         at,
		Ctl:        make(chan bool),
		timers:     ts,
	}
	ts.Map[id] = e

	go e.run(ctx)
}

// run fires the TimerEntry at the appointed time if the entry isn't
// cancelled first.
func (te *TimerEntry) run(ctx context.Context) {
	t := time.NewTimer(time.Until(te.At))
	defer t.Stop()

	select {
	case <-t.C:
		te.timers.Lock()
		delete(te.timers.Map, te.Id)
		te.timers.Unlock()
		te.timers.Fire(ctx, te)
	case <-te.Ctl:
	case <-ctx.Done():
	}
}

func (ts *Timers) cancel(id string) error {
	t, have := ts.Map[id]
	if !have {
		return fmt.Errorf("timer %q doesn't exist", id)
	}
	delete(ts.Map, id)
	close(t.Ctl)
	return nil
}

// Cancel attempts to cancel the timer with the given id.
func (ts *Timers) Cancel(id string) error {
	ts.Lock()
	defer ts.Unlock()
	return ts.cancel(id)
}

// CancelActor cancels every pending timer for an actor.  Called on
// actor termination.
func (ts *Timers) CancelActor(actorID string) {
	ts.Lock()
	defer ts.Unlock()
	for id, e := range ts.Map {
		if e.ActorID == actorID {
			ts.cancel(id)
		}
	}
}
