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
	"fmt"
	"sync"
)

// UndeclaredNamespace occurs when a resolution is attempted for a
// namespace the actor's document didn't declare.  Document loading
// rejects such references, so seeing this error at runtime means a
// document bypassed Load.
type UndeclaredNamespace struct {
	EntityID  string
	Namespace string
}

func (e *UndeclaredNamespace) Error() string {
	return fmt.Sprintf("namespace %q not declared for entity %q", e.Namespace, e.EntityID)
}

// entry is one cached namespace for one actor.
type entry struct {
	values  map[string]Value
	version uint64
}

// Cache is the per-actor variable cache.
//
// The cache holds at most one entry per namespace the actor's document
// declares; it never holds a namespace outside that set, which bounds
// per-actor memory regardless of how many namespaces the registry
// knows.  Reads and writes of the entries are performed only by the
// actor's current worker.  Invalidate is the one cross-worker
// operation and is safe to call from any goroutine.
type Cache struct {
	entityID string
	registry *Registry
	declared map[string]bool
	entries  map[string]*entry

	// staleMu guards stale, the only state written from outside the
	// owning worker.
	staleMu sync.Mutex
	stale   map[string]bool
}

// NewCache makes a Cache for one entity restricted to the declared
// namespaces.
func NewCache(entityID string, registry *Registry, declared []string) *Cache {
	d := make(map[string]bool, len(declared))
	for _, ns := range declared {
		d[ns] = true
	}
	return &Cache{
		entityID: entityID,
		registry: registry,
		declared: d,
		entries:  make(map[string]*entry, len(declared)),
		stale:    make(map[string]bool, len(declared)),
	}
}

// EntityID returns the entity this cache belongs to.
func (c *Cache) EntityID() string {
	return c.entityID
}

// Resolve resolves a "namespace.path" reference.
//
// On first reference to a namespace, the full namespace is fetched
// from its provider and cached.  Later reads hit the cache until an
// invalidation for (namespace, entity) arrives.  A provider error or a
// missing path yields ErrUnavailable; the caller applies its declared
// fallback.
func (c *Cache) Resolve(ctx context.Context, ref string) (Value, error) {
	ns, path, err := SplitRef(ref)
	if err != nil {
		return nil, err
	}
	if !c.declared[ns] {
		return nil, &UndeclaredNamespace{c.entityID, ns}
	}

	e, have := c.entries[ns]
	if have && c.takeStale(ns) {
		have = false
	}
	if !have {
		p, registered := c.registry.Lookup(ns)
		if !registered {
			return nil, fmt.Errorf("%w: no provider for %q", ErrUnavailable, ns)
		}
		values, err := p.Fetch(ctx, c.entityID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
		}
		var version uint64
		if old := c.entries[ns]; old != nil {
			version = old.version
		}
		e = &entry{values: values, version: version + 1}
		c.entries[ns] = e
	}

	v, found := e.values[path]
	if !found {
		return nil, fmt.Errorf("%w: no value at %q", ErrUnavailable, ref)
	}
	return v, nil
}

// takeStale consumes the stale flag for a namespace.
func (c *Cache) takeStale(ns string) bool {
	c.staleMu.Lock()
	s := c.stale[ns]
	if s {
		delete(c.stale, ns)
	}
	c.staleMu.Unlock()
	return s
}

// Invalidate marks a namespace stale so the next Resolve refetches.
//
// Safe to call from any goroutine.  Idempotent: duplicate or
// out-of-order invalidations only cause an extra refetch.  An
// invalidation for an undeclared namespace is ignored, preserving the
// cardinality bound.
func (c *Cache) Invalidate(namespace string) {
	if !c.declared[namespace] {
		return
	}
	c.staleMu.Lock()
	c.stale[namespace] = true
	c.staleMu.Unlock()
}

// Put installs pushed observations for a namespace, replacing any
// cached entry and bumping its version.  Pushed values carry the same
// authority as a fresh provider fetch.  Call only from the owning
// worker.
func (c *Cache) Put(namespace string, values map[string]Value) error {
	if !c.declared[namespace] {
		return &UndeclaredNamespace{c.entityID, namespace}
	}
	var version uint64
	if old := c.entries[namespace]; old != nil {
		version = old.version
	}
	c.entries[namespace] = &entry{values: values, version: version + 1}
	c.takeStale(namespace)
	return nil
}

// Loaded reports whether the namespace has been fetched.  Used by
// tests and by snapshotting.
func (c *Cache) Loaded(namespace string) bool {
	_, have := c.entries[namespace]
	return have
}

// Len returns the number of cached namespaces.
func (c *Cache) Len() int {
	return len(c.entries)
}

// Entry is a serializable cache entry.  The Version token lets a
// restored actor distinguish pre- and post-invalidation values.
type Entry struct {
	Namespace string           `json:"namespace" cbor:"1,keyasint"`
	Values    map[string]Value `json:"values" cbor:"2,keyasint"`
	Version   uint64           `json:"version" cbor:"3,keyasint"`
}

// Snapshot exports the cache contents for persistence or relocation.
// Call only from the owning worker.
func (c *Cache) Snapshot() []Entry {
	acc := make([]Entry, 0, len(c.entries))
	for ns, e := range c.entries {
		acc = append(acc, Entry{
			Namespace: ns,
			Values:    e.values,
			Version:   e.version,
		})
	}
	return acc
}

// Restore loads previously snapshotted entries.  Entries for
// namespaces the cache doesn't declare are dropped.
func (c *Cache) Restore(entries []Entry) {
	for _, en := range entries {
		if !c.declared[en.Namespace] {
			continue
		}
		c.entries[en.Namespace] = &entry{
			values:  en.Values,
			version: en.Version,
		}
	}
}
