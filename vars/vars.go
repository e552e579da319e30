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

// Package vars resolves namespaced external values for actors.
//
// A Provider owns exactly one namespace (a dotted-path domain like
// "personality").  Providers are registered in a process-wide Registry
// during startup.  Each actor gets its own Cache, which lazily fetches
// a namespace on first reference and then serves reads until an
// invalidation for (namespace, entity) arrives.
package vars

import (
	"context"
	"errors"
	"strings"
	"sync"
)

// Value is a resolved variable value.
//
// Values are ordinary JSON-ish data: numbers, strings, bools, maps,
// and slices.
type Value interface{}

var (
	// ErrUnavailable is returned by Resolve when the provider is
	// unreachable or the requested path has no value.  Callers
	// supply a per-reference fallback instead of treating this as
	// fatal.
	ErrUnavailable = errors.New("unavailable")

	// ErrBadRef is returned when a variable reference isn't of the
	// form "namespace.segment[.segment...]".
	ErrBadRef = errors.New("bad variable reference")
)

// Provider resolves one namespace for one entity.
//
// A Provider is stateless with respect to individual actors.  Fetch
// returns the full path->value set for the namespace; the Cache stores
// that result so subsequent reads within the same or later ticks do
// not hit the provider again.
type Provider interface {
	Fetch(ctx context.Context, entityID string) (map[string]Value, error)
}

// ProviderFunc makes a plain function a Provider.
type ProviderFunc func(ctx context.Context, entityID string) (map[string]Value, error)

func (f ProviderFunc) Fetch(ctx context.Context, entityID string) (map[string]Value, error) {
	return f(ctx, entityID)
}

// SplitRef splits "namespace.path.to.value" into its namespace and the
// remaining path.
func SplitRef(ref string) (namespace string, path string, err error) {
	i := strings.IndexByte(ref, '.')
	if i <= 0 || len(ref) == i+1 {
		return "", "", ErrBadRef
	}
	return ref[:i], ref[i+1:], nil
}

// Registry maps namespaces to Providers.
//
// The registry is process-wide, append-only during startup, and
// read-mostly afterwards.  Concurrent reads after startup are safe.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

// NewRegistry makes an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		providers: make(map[string]Provider, 16),
	}
}

// DuplicateProvider occurs when a second Provider is registered for a
// namespace that already has one.
type DuplicateProvider struct {
	Namespace string
}

func (e *DuplicateProvider) Error() string {
	return `namespace "` + e.Namespace + `" already has a provider`
}

// Register adds a Provider for a namespace.
//
// Exactly one provider per namespace.  Call during process startup.
func (r *Registry) Register(namespace string, p Provider) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, have := r.providers[namespace]; have {
		return &DuplicateProvider{namespace}
	}
	r.providers[namespace] = p
	return nil
}

// Lookup finds the Provider for a namespace.
func (r *Registry) Lookup(namespace string) (Provider, bool) {
	r.mu.RLock()
	p, have := r.providers[namespace]
	r.mu.RUnlock()
	return p, have
}

// Has reports whether a namespace has a registered provider.  Document
// loading uses this to reject undeclared or unregistered references
// before any actor runs.
func (r *Registry) Has(namespace string) bool {
	_, have := r.Lookup(namespace)
	return have
}

// Namespaces returns the registered namespaces.
func (r *Registry) Namespaces() []string {
	r.mu.RLock()
	acc := make([]string, 0, len(r.providers))
	for ns := range r.providers {
		acc = append(acc, ns)
	}
	r.mu.RUnlock()
	return acc
}
