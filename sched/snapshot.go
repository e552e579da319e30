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

	"github.com/fxamacker/cbor/v2"

	"github.com/legionkit/legion/core"
	"github.com/legionkit/legion/script"
	"github.com/legionkit/legion/storage"
	"github.com/legionkit/legion/vars"
)

// ActorSnapshot is the serializable state of one actor: enough to
// restart or relocate its cognitive process without losing suspension
// context.  Exactly one of Machine and Script is set, per the
// document's form.
type ActorSnapshot struct {
	ID         string `cbor:"1,keyasint"`
	DocName    string `cbor:"2,keyasint"`
	DocVersion string `cbor:"3,keyasint"`
	Liveness   int    `cbor:"4,keyasint"`

	Machine *core.MachineState `cbor:"5,keyasint,omitempty"`
	Cache   []vars.Entry       `cbor:"6,keyasint,omitempty"`

	Script []byte `cbor:"7,keyasint,omitempty"`

	Dropped uint64 `cbor:"8,keyasint,omitempty"`
}

// PeekSnapshot decodes a snapshot without restoring it.  Hosts use
// it to find the document a stored actor needs.
func PeekSnapshot(bs []byte) (*ActorSnapshot, error) {
	var snap ActorSnapshot
	if err := cbor.Unmarshal(bs, &snap); err != nil {
		return nil, err
	}
	return &snap, nil
}

// SnapshotActor encodes one actor's state.
//
// Snapshots are a checkpoint/restore mechanism: call while the
// scheduler is not running (before Run, or after Run has returned),
// when no worker owns the actor.
func (s *Scheduler) SnapshotActor(id string) ([]byte, error) {
	sh := s.shardFor(id)
	sh.mu.Lock()
	a := sh.actors[id]
	sh.mu.Unlock()
	if a == nil {
		return nil, &UnknownActor{id}
	}

	snap := &ActorSnapshot{
		ID:         a.id,
		DocName:    a.doc.Name,
		DocVersion: a.doc.Version,
		Liveness:   int(a.Liveness()),
		Dropped:    a.queue.drops(),
	}

	if a.machine != nil {
		st := a.machine.State()
		snap.Machine = &st
		snap.Cache = a.cache.Snapshot()
	} else {
		bs, err := a.exec.Snapshot().Encode()
		if err != nil {
			return nil, err
		}
		snap.Script = bs
	}

	return cbor.Marshal(snap)
}

// RestoreActor rebuilds an actor from a snapshot and inserts it.
//
// The document must match the snapshot's name and version.  A
// restored wait re-arms its timer; a restored call waits for its
// result to arrive through Deliver (the original token still
// matches); a restored plan suspension is re-solved on the actor's
// first cycle.  Like SnapshotActor, call while the scheduler is not
// running.
func (s *Scheduler) RestoreActor(ctx context.Context, doc *core.Document, bs []byte, conf ActorConfig) error {
	var snap ActorSnapshot
	if err := cbor.Unmarshal(bs, &snap); err != nil {
		return err
	}
	if doc.Name != snap.DocName || doc.Version != snap.DocVersion {
		return fmt.Errorf("snapshot is for document %s/%s, not %s/%s",
			snap.DocName, snap.DocVersion, doc.Name, doc.Version)
	}

	a, err := s.makeActor(snap.ID, doc, conf)
	if err != nil {
		return err
	}
	a.queue.dropped = snap.Dropped
	a.setLiveness(Liveness(snap.Liveness))

	switch {
	case snap.Machine != nil:
		if a.machine == nil {
			return &core.BadDocument{Doc: doc, Reason: "machine snapshot for a steps document"}
		}
		if err := a.machine.Restore(*snap.Machine); err != nil {
			return err
		}
		a.cache.Restore(snap.Cache)

	case snap.Script != nil:
		if a.exec == nil {
			return &core.BadDocument{Doc: doc, Reason: "executor snapshot for a program document"}
		}
		ss, err := script.DecodeSnapshot(snap.Script)
		if err != nil {
			return err
		}
		e, err := script.RestoreExecutor(ctx, doc, ss, a.cache, s.emitter, s.conf.Interpreters)
		if err != nil {
			return err
		}
		a.exec = e

		if e.Status() == script.Suspended {
			a.setLiveness(Suspended)
			sus := e.Pending()
			switch sus.Reason {
			case script.ReasonWait:
				s.timers.Add(ctx, sus.Token, a.id,
					Perception{Token: sus.Token, Outcome: &script.Outcome{}},
					sus.Until)
			case script.ReasonPlan:
				// Queue the solved plan; the worker applies it on
				// the actor's first cycle.
				out := s.shardFor(a.id).solve(sus.Request)
				a.queue.push(Perception{Token: sus.Token, Outcome: &out})
			}
		} else if e.Status() == script.Terminated {
			a.setLiveness(Terminated)
		}
	}

	return s.shardFor(snap.ID).insert(a)
}

// Checkpoint writes every live actor's snapshot to the store.  Call
// while the scheduler is not running.
func (s *Scheduler) Checkpoint(ctx context.Context, store storage.Store) error {
	for _, sh := range s.shards {
		sh.mu.Lock()
		ids := append([]string{}, sh.order...)
		sh.mu.Unlock()
		for _, id := range ids {
			bs, err := s.SnapshotActor(id)
			if err != nil {
				return err
			}
			if err := store.WriteActor(ctx, id, bs); err != nil {
				return err
			}
		}
	}
	return nil
}
