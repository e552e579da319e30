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

package vars

import (
	"context"
	"sync"
)

// Invalidation says that the cached values for (Namespace, EntityID)
// may be stale.
type Invalidation struct {
	Namespace string `json:"namespace"`
	EntityID  string `json:"entityId"`
}

// Bus delivers Invalidations to subscribers asynchronously.
//
// Delivery is at-least-once: a subscriber may see duplicates, which is
// fine because Cache.Invalidate is idempotent.  Publish never blocks
// on subscriber processing; the bus owns a goroutine that drains a
// buffered channel.
type Bus struct {
	mu     sync.Mutex
	subs   []func(Invalidation)
	ch     chan Invalidation
	once   sync.Once
	closed chan struct{}
}

// NewBus makes a Bus with the given delivery buffer size.
func NewBus(buffer int) *Bus {
	if buffer <= 0 {
		buffer = 256
	}
	return &Bus{
		ch:     make(chan Invalidation, buffer),
		closed: make(chan struct{}),
	}
}

// Subscribe registers a delivery function.
//
// The function is called from the bus's delivery goroutine, so it must
// be quick and must not block (Cache.Invalidate qualifies).
func (b *Bus) Subscribe(f func(Invalidation)) {
	b.mu.Lock()
	b.subs = append(b.subs, f)
	b.mu.Unlock()
}

// Publish enqueues an invalidation for delivery.
//
// If the buffer is full, Publish delivers synchronously rather than
// drop: an invalidation lost forever would leave a cache stale
// indefinitely, while a slow Publish only delays the publisher.
func (b *Bus) Publish(inv Invalidation) {
	select {
	case b.ch <- inv:
	case <-b.closed:
	default:
		b.deliver(inv)
	}
}

// Run drains the bus until the context is done.
func (b *Bus) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			b.once.Do(func() { close(b.closed) })
			return
		case inv := <-b.ch:
			b.deliver(inv)
		}
	}
}

func (b *Bus) deliver(inv Invalidation) {
	b.mu.Lock()
	subs := b.subs
	b.mu.Unlock()
	for _, f := range subs {
		f(inv)
	}
}
