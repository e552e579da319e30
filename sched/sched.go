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

// Package sched owns the population of live actors.
//
// A Scheduler shards actors across a fixed worker pool; each worker
// owns its shard exclusively, so no actor is ever ticked twice
// concurrently.  Workers round-robin their shard each cycle, ticking
// program actors at their cadence and driving step-tree executors to
// their next suspension.  Suspended actors hold no worker; a timer or
// an inbound perception re-activates them.
package sched

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/legionkit/legion/core"
	"github.com/legionkit/legion/exprs"
	"github.com/legionkit/legion/plan"
	"github.com/legionkit/legion/script"
	"github.com/legionkit/legion/vars"
)

// Caller performs a suspended executor's external call.  The result
// comes back through Deliver with the suspension's token; the caller
// must honor the suspension's Timeout and NotBefore.
type Caller interface {
	Call(ctx context.Context, actorID string, s *script.Suspension)
}

// CallerFunc makes a plain function a Caller.
type CallerFunc func(ctx context.Context, actorID string, s *script.Suspension)

func (f CallerFunc) Call(ctx context.Context, actorID string, s *script.Suspension) {
	f(ctx, actorID, s)
}

// DuplicateActor occurs when Add is given an id that's already live.
type DuplicateActor struct {
	ID string
}

func (e *DuplicateActor) Error() string {
	return fmt.Sprintf("actor %q already exists", e.ID)
}

// UnknownActor occurs when an operation names an actor the scheduler
// doesn't own.
type UnknownActor struct {
	ID string
}

func (e *UnknownActor) Error() string {
	return fmt.Sprintf("actor %q doesn't exist", e.ID)
}

// Config tunes a Scheduler.  Zero values take defaults.
type Config struct {
	// Workers is the shard count.
	Workers int

	// Resolution is how often an idle worker rescans its shard.
	Resolution time.Duration

	// Cadence, TickBudget, QueueLimit, and Overflow are the
	// defaults for actors whose ActorConfig leaves them zero.
	Cadence    time.Duration
	TickBudget int
	QueueLimit int
	Overflow   OverflowPolicy

	// Planner answers plan suspensions and machine plan
	// instructions.  Defaults to the exact search in plan.
	Planner core.Planner

	// Interpreters evaluates executor expressions.  Defaults to
	// exprs.Standard.
	Interpreters exprs.Map

	Logger *zap.Logger
}

// Scheduler owns actors and the workers that tick them.
type Scheduler struct {
	conf     Config
	registry *vars.Registry
	emitter  core.Emitter
	caller   Caller
	log      *zap.Logger
	timers   *Timers
	shards   []*shard
}

// New makes a Scheduler.  The registry supplies variable providers
// for actor caches; the emitter receives every action; the caller, if
// any, performs executors' external calls.
func New(conf Config, registry *vars.Registry, emitter core.Emitter, caller Caller) *Scheduler {
	if conf.Workers <= 0 {
		conf.Workers = 4
	}
	if conf.Resolution <= 0 {
		conf.Resolution = 25 * time.Millisecond
	}
	if conf.Cadence <= 0 {
		conf.Cadence = 250 * time.Millisecond
	}
	if conf.TickBudget <= 0 {
		conf.TickBudget = core.DefaultTickBudget
	}
	if conf.QueueLimit <= 0 {
		conf.QueueLimit = 64
	}
	if conf.Overflow == 0 {
		conf.Overflow = DropOldest
	}
	if conf.Planner == nil {
		conf.Planner = core.PlannerFunc(plan.Find)
	}
	if conf.Interpreters == nil {
		conf.Interpreters = exprs.Standard()
	}
	if conf.Logger == nil {
		conf.Logger = zap.NewNop()
	}

	s := &Scheduler{
		conf:     conf,
		registry: registry,
		emitter:  emitter,
		caller:   caller,
		log:      conf.Logger,
	}

	s.timers = NewTimers(func(ctx context.Context, te *TimerEntry) {
		if err := s.Deliver(te.ActorID, te.Perception); err != nil {
			s.log.Debug("timer fired for missing actor",
				zap.String("actor", te.ActorID), zap.String("timer", te.Id))
		}
	})

	s.shards = make([]*shard, conf.Workers)
	for i := range s.shards {
		s.shards[i] = &shard{
			s:      s,
			actors: make(map[string]*Actor, 32),
			wake:   make(chan struct{}, 1),
		}
	}

	return s
}

// Run drives the worker pool until the context is done.
func (s *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, sh := range s.shards {
		sh := sh
		g.Go(func() error {
			return sh.work(ctx)
		})
	}
	return g.Wait()
}

// shardFor maps an actor id to its owning shard.
func (s *Scheduler) shardFor(id string) *shard {
	h := fnv.New32a()
	h.Write([]byte(id))
	return s.shards[int(h.Sum32())%len(s.shards)]
}

// Add creates an actor for the entity id, bound to the document.
// The actor's cache is created empty: namespaces load lazily on first
// reference, so a document that declares little costs little.
func (s *Scheduler) Add(ctx context.Context, id string, doc *core.Document, conf ActorConfig) error {
	a, err := s.makeActor(id, doc, conf)
	if err != nil {
		return err
	}
	return s.shardFor(id).insert(a)
}

func (s *Scheduler) makeActor(id string, doc *core.Document, conf ActorConfig) (*Actor, error) {
	if conf.Cadence <= 0 {
		conf.Cadence = s.conf.Cadence
	}
	if conf.TickBudget <= 0 {
		conf.TickBudget = s.conf.TickBudget
	}
	if conf.QueueLimit <= 0 {
		conf.QueueLimit = s.conf.QueueLimit
	}
	if conf.Overflow == 0 {
		conf.Overflow = s.conf.Overflow
	}

	cache := vars.NewCache(id, s.registry, doc.Namespaces)

	a := &Actor{
		id:    id,
		doc:   doc,
		cache: cache,
		conf:  conf,
		queue: newQueue(conf.QueueLimit, conf.Overflow),
	}

	if len(doc.Program) > 0 {
		m, err := core.NewMachine(doc, cache, s.conf.Planner)
		if err != nil {
			return nil, err
		}
		a.machine = m
	} else {
		e, err := script.NewExecutor(doc, id, cache, s.emitter, s.conf.Interpreters)
		if err != nil {
			return nil, err
		}
		a.exec = e
	}

	return a, nil
}

// Remove marks an actor for removal.  Its worker cancels any pending
// step (no partial effect application), cancels its timers, and reaps
// it on the next pass.
func (s *Scheduler) Remove(id string) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	a := sh.actors[id]
	if a != nil {
		a.gone = true
	}
	sh.mu.Unlock()
	if a == nil {
		return &UnknownActor{id}
	}
	sh.nudge()
	return nil
}

// Deliver routes a perception into the actor's bounded queue.  Safe
// from any goroutine.  A full queue applies the actor's overflow
// policy rather than growing.
func (s *Scheduler) Deliver(id string, p Perception) error {
	sh := s.shardFor(id)
	sh.mu.Lock()
	a := sh.actors[id]
	gone := a != nil && a.gone
	sh.mu.Unlock()
	if a == nil || gone {
		return &UnknownActor{id}
	}
	if a.queue.push(p) {
		s.log.Warn("perception dropped",
			zap.String("actor", id),
			zap.Stringer("policy", a.conf.Overflow))
	}
	sh.nudge()
	return nil
}

// Invalidate marks (namespace, entity) stale.  An empty EntityID
// invalidates the namespace for every actor.  Idempotent and safe
// from any goroutine; duplicates only cause an extra refetch.
func (s *Scheduler) Invalidate(inv vars.Invalidation) {
	if inv.EntityID != "" {
		sh := s.shardFor(inv.EntityID)
		sh.mu.Lock()
		a := sh.actors[inv.EntityID]
		sh.mu.Unlock()
		if a != nil {
			a.cache.Invalidate(inv.Namespace)
		}
		return
	}
	for _, sh := range s.shards {
		sh.mu.Lock()
		for _, a := range sh.actors {
			a.cache.Invalidate(inv.Namespace)
		}
		sh.mu.Unlock()
	}
}

// AttachBus subscribes the scheduler to an invalidation bus.
func (s *Scheduler) AttachBus(b *vars.Bus) {
	b.Subscribe(func(inv vars.Invalidation) {
		s.Invalidate(inv)
	})
}

// Info reports an actor's current state.
func (s *Scheduler) Info(id string) (ActorInfo, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	a := sh.actors[id]
	var info ActorInfo
	if a != nil {
		info = ActorInfo{
			ID:           a.id,
			Document:     a.doc.Name,
			Version:      a.doc.Version,
			Liveness:     a.Liveness(),
			QueueDropped: a.queue.drops(),
		}
	}
	sh.mu.Unlock()
	if a == nil {
		return info, &UnknownActor{id}
	}
	return info, nil
}

// shard is one worker's disjoint slice of the population.
type shard struct {
	s *Scheduler

	// mu guards membership, order, and liveness transitions made
	// from outside the worker (gone flags).  The worker alone
	// touches machines, executors, and cache entries.
	mu     sync.Mutex
	actors map[string]*Actor
	order  []string
	offset int

	wake chan struct{}
}

func (sh *shard) nudge() {
	select {
	case sh.wake <- struct{}{}:
	default:
	}
}

func (sh *shard) insert(a *Actor) error {
	sh.mu.Lock()
	if _, have := sh.actors[a.id]; have {
		sh.mu.Unlock()
		return &DuplicateActor{a.id}
	}
	sh.actors[a.id] = a
	sh.order = append(sh.order, a.id)
	sh.mu.Unlock()
	sh.nudge()
	return nil
}

func (sh *shard) work(ctx context.Context) error {
	ticker := time.NewTicker(sh.s.conf.Resolution)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		case <-sh.wake:
		}
		sh.cycle(ctx)
	}
}

// cycle attends every actor in the shard once, starting one past last
// cycle's start.  The rotation bounds how long any Active actor can
// wait for attention.
func (sh *shard) cycle(ctx context.Context) {
	now := time.Now()

	sh.mu.Lock()
	if len(sh.order) == 0 {
		sh.mu.Unlock()
		return
	}
	ids := append([]string{}, sh.order...)
	off := sh.offset % len(ids)
	sh.offset++
	sh.mu.Unlock()

	for i := range ids {
		id := ids[(off+i)%len(ids)]

		sh.mu.Lock()
		a := sh.actors[id]
		gone := a != nil && a.gone
		sh.mu.Unlock()

		if a == nil {
			continue
		}
		if gone {
			sh.reap(a)
			continue
		}
		sh.attend(ctx, a, now)
	}
}

func (sh *shard) reap(a *Actor) {
	if a.exec != nil {
		a.exec.Cancel()
	}
	sh.s.timers.CancelActor(a.id)

	sh.mu.Lock()
	delete(sh.actors, a.id)
	for i, id := range sh.order {
		if id == a.id {
			sh.order = append(sh.order[:i], sh.order[i+1:]...)
			break
		}
	}
	sh.mu.Unlock()

	sh.s.log.Debug("actor removed", zap.String("actor", a.id))
}

func (sh *shard) attend(ctx context.Context, a *Actor, now time.Time) {
	a.scratch = a.queue.drain(a.scratch)
	for i := range a.scratch {
		sh.apply(ctx, a, &a.scratch[i])
	}

	if a.Liveness() != Active {
		return
	}

	if a.machine != nil {
		if now.Before(a.due) {
			return
		}
		sh.tick(ctx, a)
		return
	}

	if a.exec.Status() == script.Running {
		sus, err := a.exec.Advance(ctx)
		sh.pump(ctx, a, sus, err)
	}
}

// apply consumes one perception: pushed observations go to the cache,
// results resume the executor.
func (sh *shard) apply(ctx context.Context, a *Actor, p *Perception) {
	if p.Namespace != "" {
		if err := a.cache.Put(p.Namespace, p.Values); err != nil {
			sh.s.log.Warn("perception for undeclared namespace",
				zap.String("actor", a.id),
				zap.String("namespace", p.Namespace))
		}
		return
	}

	if p.Token == "" {
		return
	}
	if a.exec == nil {
		sh.s.log.Warn("result perception for program actor",
			zap.String("actor", a.id), zap.String("token", p.Token))
		return
	}

	var out script.Outcome
	if p.Outcome != nil {
		out = *p.Outcome
	}

	sus, err := a.exec.Resume(ctx, p.Token, out)
	if errors.Is(err, script.ErrBadToken) ||
		errors.Is(err, script.ErrTerminated) ||
		errors.Is(err, script.ErrNotSuspended) {
		// Duplicate or stale delivery; the first one already
		// resumed the actor.
		sh.s.log.Debug("stale result dropped",
			zap.String("actor", a.id), zap.String("token", p.Token))
		return
	}

	a.setLiveness(Active)
	sh.pump(ctx, a, sus, err)
}

// pump drives an executor until it parks or terminates.  Plan
// suspensions resolve synchronously within the actor's own thread of
// control; calls and waits park the actor.
func (sh *shard) pump(ctx context.Context, a *Actor, sus *script.Suspension, err error) {
	for {
		if err != nil {
			sh.s.log.Error("executor failed",
				zap.String("actor", a.id), zap.Error(err))
			a.setLiveness(Terminated)
			sh.s.timers.CancelActor(a.id)
			return
		}
		if sus == nil {
			a.setLiveness(Terminated)
			sh.s.timers.CancelActor(a.id)
			if terr := a.exec.Err(); terr != nil && !errors.Is(terr, script.ErrCancelled) {
				sh.s.log.Warn("actor terminated on step failure",
					zap.String("actor", a.id), zap.Error(terr))
			} else {
				sh.s.log.Debug("actor completed", zap.String("actor", a.id))
			}
			return
		}

		switch sus.Reason {
		case script.ReasonPlan:
			sus, err = a.exec.Resume(ctx, sus.Token, sh.solve(sus.Request))

		case script.ReasonCall:
			a.setLiveness(Suspended)
			if sh.s.caller == nil {
				sh.s.log.Error("call suspension with no caller configured",
					zap.String("actor", a.id),
					zap.String("service", sus.Service))
				a.exec.Cancel()
				a.setLiveness(Terminated)
				return
			}
			sh.s.caller.Call(ctx, a.id, sus)
			return

		case script.ReasonWait:
			a.setLiveness(Suspended)
			sh.s.timers.Add(ctx, sus.Token, a.id,
				Perception{Token: sus.Token, Outcome: &script.Outcome{}},
				sus.Until)
			return
		}
	}
}

func (sh *shard) solve(req *plan.Request) script.Outcome {
	p, err := sh.s.conf.Planner.Find(*req)
	if err != nil {
		return script.Outcome{Err: err.Error()}
	}
	return script.Outcome{Value: p}
}

func (sh *shard) tick(ctx context.Context, a *Actor) {
	res, err := a.machine.Tick(ctx, a.conf.TickBudget)
	if err != nil {
		sh.s.log.Error("machine failed",
			zap.String("actor", a.id), zap.Error(err))
		a.setLiveness(Terminated)
		return
	}

	for i := range res.Actions {
		if sh.s.emitter == nil {
			break
		}
		if err := sh.s.emitter.Emit(ctx, a.id, res.Actions[i]); err != nil {
			sh.s.log.Warn("emit failed",
				zap.String("actor", a.id),
				zap.String("kind", res.Actions[i].Kind),
				zap.Error(err))
		}
	}

	if res.Status == core.TickYielded {
		a.due = time.Now()
		sh.nudge()
		return
	}
	a.due = time.Now().Add(a.conf.Cadence)
}
