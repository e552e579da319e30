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

// Package storage persists actor snapshots.
//
// A snapshot is an opaque encoded blob (the scheduler encodes CBOR);
// a Store just keys blobs by actor id so that a suspended actor's
// cognitive process can be restarted or relocated.
package storage

import (
	"context"
	"errors"
)

// NotFound is returned by ReadActor when no snapshot exists for the
// actor.
var NotFound = errors.New("no snapshot for actor")

// Store is a persistence interface suitable for actor populations.
type Store interface {
	WriteActor(ctx context.Context, id string, snapshot []byte) error

	ReadActor(ctx context.Context, id string) ([]byte, error)

	RemActor(ctx context.Context, id string) error

	// EachActor visits every stored snapshot.  Used at startup to
	// repopulate a scheduler.
	EachActor(ctx context.Context, f func(id string, snapshot []byte) error) error

	Close() error
}
