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
	"fmt"
	"time"

	"github.com/fxamacker/cbor/v2"

	"github.com/legionkit/legion/core"
	"github.com/legionkit/legion/exprs"
	"github.com/legionkit/legion/vars"
)

// Snapshot is the serializable suspension context of an Executor:
// position, bindings, the pending-await token, and the variable cache
// with its version tokens.  A snapshot is enough to relocate or
// restart the actor's cognitive process elsewhere.
type Snapshot struct {
	DocName    string                 `cbor:"1,keyasint"`
	DocVersion string                 `cbor:"2,keyasint"`
	ActorID    string                 `cbor:"3,keyasint"`
	Path       []int                  `cbor:"4,keyasint"`
	Status     int                    `cbor:"5,keyasint"`
	Bindings   map[string]interface{} `cbor:"6,keyasint,omitempty"`

	PendingToken  string    `cbor:"7,keyasint,omitempty"`
	PendingReason string    `cbor:"8,keyasint,omitempty"`
	Attempt       int       `cbor:"9,keyasint,omitempty"`
	WaitUntil     time.Time `cbor:"10,keyasint,omitempty"`
	NotBefore     time.Time `cbor:"11,keyasint,omitempty"`

	Cache []vars.Entry `cbor:"12,keyasint,omitempty"`
}

// Snapshot captures the executor's suspension context.  Call only
// between Advance/Resume calls (the host's tick loop guarantees
// that).
func (e *Executor) Snapshot() *Snapshot {
	snap := &Snapshot{
		DocName:    e.doc.Name,
		DocVersion: e.doc.Version,
		ActorID:    e.actorID,
		Path:       append([]int{}, e.cur...),
		Status:     int(e.status),
		Bindings:   e.bindings,
		Attempt:    e.attempt,
		Cache:      e.cache.Snapshot(),
	}
	if e.pending != nil {
		snap.PendingToken = e.pending.Token
		snap.PendingReason = e.pending.Reason
		snap.WaitUntil = e.pending.Until
		snap.NotBefore = e.pending.NotBefore
	}
	return snap
}

// Encode marshals the snapshot to CBOR.
func (s *Snapshot) Encode() ([]byte, error) {
	return cbor.Marshal(s)
}

// DecodeSnapshot unmarshals a CBOR snapshot.
func DecodeSnapshot(bs []byte) (*Snapshot, error) {
	var s Snapshot
	if err := cbor.Unmarshal(bs, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// RestoreExecutor rebuilds an Executor from a snapshot.
//
// The document must be the same name and version the snapshot was
// taken against: an actor keeps the version it started with.  A
// pending call or plan suspension is rebuilt from the step at the
// saved position with the saved token, so a result delivered after
// relocation still resumes exactly once.
func RestoreExecutor(ctx context.Context, doc *core.Document, snap *Snapshot, cache *vars.Cache, emitter core.Emitter, interpreters exprs.Map) (*Executor, error) {
	if doc.Name != snap.DocName || doc.Version != snap.DocVersion {
		return nil, fmt.Errorf("snapshot is for document %s/%s, not %s/%s",
			snap.DocName, snap.DocVersion, doc.Name, doc.Version)
	}

	e, err := NewExecutor(doc, snap.ActorID, cache, emitter, interpreters)
	if err != nil {
		return nil, err
	}

	e.cur = append([]int{}, snap.Path...)
	e.status = Status(snap.Status)
	if snap.Bindings != nil {
		e.bindings = snap.Bindings
	}
	e.attempt = snap.Attempt
	cache.Restore(snap.Cache)

	if e.status != Suspended {
		return e, nil
	}

	s, err := stepAt(doc.Steps, e.cur)
	if err != nil {
		return nil, err
	}

	switch snap.PendingReason {
	case ReasonCall:
		sus := e.suspendCall(s, snap.Attempt)
		sus.Token = snap.PendingToken
		sus.NotBefore = snap.NotBefore
	case ReasonPlan:
		if _, err := e.suspendPlan(ctx, s); err != nil {
			return nil, err
		}
		if e.status == Terminated {
			return nil, e.termErr
		}
		e.pending.Token = snap.PendingToken
	case ReasonWait:
		e.pending = &Suspension{
			Reason: ReasonWait,
			Token:  snap.PendingToken,
			Until:  snap.WaitUntil,
		}
	default:
		return nil, fmt.Errorf("snapshot has unknown pending reason %q", snap.PendingReason)
	}
	e.status = Suspended

	return e, nil
}
