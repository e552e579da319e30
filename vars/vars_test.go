package vars

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSplitRef(t *testing.T) {
	ns, path, err := SplitRef("threat.level")
	require.NoError(t, err)
	require.Equal(t, "threat", ns)
	require.Equal(t, "level", path)

	ns, path, err = SplitRef("personality.traits.bravery")
	require.NoError(t, err)
	require.Equal(t, "personality", ns)
	require.Equal(t, "traits.bravery", path)

	for _, bad := range []string{"", "threat", "threat.", ".level"} {
		_, _, err := SplitRef(bad)
		require.ErrorIs(t, err, ErrBadRef, "ref %q", bad)
	}
}

func TestRegistryDuplicate(t *testing.T) {
	r := NewRegistry()
	p := ProviderFunc(func(ctx context.Context, entityID string) (map[string]Value, error) {
		return nil, nil
	})
	require.NoError(t, r.Register("threat", p))
	err := r.Register("threat", p)
	var dup *DuplicateProvider
	require.ErrorAs(t, err, &dup)
	require.Equal(t, "threat", dup.Namespace)
}

// countingProvider counts full namespace fetches.
type countingProvider struct {
	values map[string]Value
	err    error
	n      int
}

func (p *countingProvider) Fetch(ctx context.Context, entityID string) (map[string]Value, error) {
	p.n++
	if p.err != nil {
		return nil, p.err
	}
	return p.values, nil
}

func TestCacheLazyFetch(t *testing.T) {
	ctx := context.Background()

	threat := &countingProvider{values: map[string]Value{"level": 0.9}}
	r := NewRegistry()
	require.NoError(t, r.Register("threat", threat))

	c := NewCache("npc-1", r, []string{"threat"})

	v, err := c.Resolve(ctx, "threat.level")
	require.NoError(t, err)
	require.Equal(t, 0.9, v)
	require.Equal(t, 1, threat.n)

	// Second read is served from the cache.
	_, err = c.Resolve(ctx, "threat.level")
	require.NoError(t, err)
	require.Equal(t, 1, threat.n)
}

func TestCacheDeclarationBound(t *testing.T) {
	ctx := context.Background()

	r := NewRegistry()
	require.NoError(t, r.Register("threat", &countingProvider{values: map[string]Value{"level": 0.1}}))
	require.NoError(t, r.Register("economy", &countingProvider{values: map[string]Value{"gold": 12}}))

	c := NewCache("npc-1", r, []string{"threat"})

	_, err := c.Resolve(ctx, "economy.gold")
	var undeclared *UndeclaredNamespace
	require.ErrorAs(t, err, &undeclared)
	require.Equal(t, "economy", undeclared.Namespace)

	// The failed resolution must not have populated the cache, and
	// invalidations for undeclared namespaces must not either.
	c.Invalidate("economy")
	require.Equal(t, 0, c.Len())

	_, err = c.Resolve(ctx, "threat.level")
	require.NoError(t, err)
	require.Equal(t, 1, c.Len())
}

func TestCacheInvalidation(t *testing.T) {
	ctx := context.Background()

	threat := &countingProvider{values: map[string]Value{"level": 0.2}}
	r := NewRegistry()
	require.NoError(t, r.Register("threat", threat))

	c := NewCache("npc-1", r, []string{"threat"})

	_, err := c.Resolve(ctx, "threat.level")
	require.NoError(t, err)
	require.Equal(t, 1, threat.n)

	threat.values = map[string]Value{"level": 0.8}

	// Duplicate invalidations are idempotent: one refetch.
	c.Invalidate("threat")
	c.Invalidate("threat")

	v, err := c.Resolve(ctx, "threat.level")
	require.NoError(t, err)
	require.Equal(t, 0.8, v)
	require.Equal(t, 2, threat.n)

	_, err = c.Resolve(ctx, "threat.level")
	require.NoError(t, err)
	require.Equal(t, 2, threat.n)
}

func TestCacheUnavailable(t *testing.T) {
	ctx := context.Background()

	down := &countingProvider{err: errors.New("connection refused")}
	r := NewRegistry()
	require.NoError(t, r.Register("threat", down))

	c := NewCache("npc-1", r, []string{"threat", "mood"})

	_, err := c.Resolve(ctx, "threat.level")
	require.ErrorIs(t, err, ErrUnavailable)

	// A namespace with no registered provider is also Unavailable at
	// runtime (documents referencing it are rejected at load time).
	_, err = c.Resolve(ctx, "mood.cheer")
	require.ErrorIs(t, err, ErrUnavailable)

	// A registered provider without the requested path: same deal.
	down.err = nil
	down.values = map[string]Value{"level": 0.5}
	_, err = c.Resolve(ctx, "threat.alertness")
	require.ErrorIs(t, err, ErrUnavailable)
}

func TestCacheSnapshotRestore(t *testing.T) {
	ctx := context.Background()

	threat := &countingProvider{values: map[string]Value{"level": 0.4}}
	r := NewRegistry()
	require.NoError(t, r.Register("threat", threat))

	c := NewCache("npc-1", r, []string{"threat"})
	_, err := c.Resolve(ctx, "threat.level")
	require.NoError(t, err)

	snap := c.Snapshot()
	require.Len(t, snap, 1)
	require.Equal(t, uint64(1), snap[0].Version)

	// Restore into a fresh cache: no provider fetch needed.
	restored := NewCache("npc-1", r, []string{"threat"})
	restored.Restore(snap)
	v, err := restored.Resolve(ctx, "threat.level")
	require.NoError(t, err)
	require.Equal(t, 0.4, v)
	require.Equal(t, 1, threat.n)
}

func TestBusDelivery(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	b := NewBus(4)
	got := make(chan Invalidation, 4)
	b.Subscribe(func(inv Invalidation) {
		got <- inv
	})
	go b.Run(ctx)

	b.Publish(Invalidation{Namespace: "threat", EntityID: "npc-1"})

	inv := <-got
	require.Equal(t, "threat", inv.Namespace)
	require.Equal(t, "npc-1", inv.EntityID)
}
