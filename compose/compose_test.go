package compose

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/legionkit/legion/core"
	"github.com/legionkit/legion/vars"
)

func eveningSet(window core.Duration) *Composition {
	return &Composition{
		Name:       "tavern-evening-set",
		Version:    "1.0",
		Namespaces: []string{"mood"},
		Parts: []Part{
			{Segment: &SegmentSpec{Name: "opening",
				Args: map[string]interface{}{"tempo": "$mood.tempo"}}},
			{Point: &PointSpec{
				Name:    "verse-two",
				Window:  window,
				Bind:    "verse",
				Default: SegmentSpec{Name: "stock-verse",
					Args: map[string]interface{}{"theme": "rain"}},
			}},
			{Segment: &SegmentSpec{Name: "finale",
				Args: map[string]interface{}{"reprise": "@verse"}}},
		},
	}
}

func compiledSet(t *testing.T, window core.Duration) (*Composition, *vars.Cache) {
	t.Helper()
	registry := vars.NewRegistry()
	require.NoError(t, registry.Register("mood", vars.ProviderFunc(
		func(ctx context.Context, entityID string) (map[string]vars.Value, error) {
			return map[string]vars.Value{"tempo": 120.0}, nil
		})))
	c := eveningSet(window)
	require.NoError(t, c.Compile(registry))
	return c, vars.NewCache("bard-1", registry, c.Namespaces)
}

func collect(t *testing.T, s *Stream) []Segment {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- s.Run(context.Background()) }()

	var segs []Segment
	for seg := range s.Segments() {
		segs = append(segs, seg)
	}
	require.NoError(t, <-done)
	return segs
}

func names(segs []Segment) []string {
	acc := make([]string, len(segs))
	for i, s := range segs {
		acc[i] = s.Name
	}
	return acc
}

func TestDefaultOnWindowTimeout(t *testing.T) {
	c, cache := compiledSet(t, core.Duration(10*time.Millisecond))
	s, err := NewStream(c, cache)
	require.NoError(t, err)

	segs := collect(t, s)
	require.Equal(t, []string{"opening", "stock-verse", "finale"}, names(segs))

	require.Equal(t, 120.0, segs[0].Content["tempo"])

	require.False(t, segs[1].Extended)
	require.Equal(t, "verse-two", segs[1].Point)
	require.Equal(t, "rain", segs[1].Content["theme"])

	// The default bound itself, so the finale still reprises it.
	require.Equal(t, segs[1].Content, segs[2].Content["reprise"])
}

func TestExtensionWinsWindow(t *testing.T) {
	c, cache := compiledSet(t, core.Duration(time.Minute))
	s, err := NewStream(c, cache)
	require.NoError(t, err)

	// An early submission is fine: it resolves the point before the
	// stream even reaches it, so the long window never runs.
	ext := map[string]interface{}{"theme": "dragons"}
	require.NoError(t, s.Extend("verse-two", ext))

	segs := collect(t, s)
	require.Equal(t, []string{"opening", "verse-two", "finale"}, names(segs))

	require.True(t, segs[1].Extended)
	require.Equal(t, "verse-two", segs[1].Point)
	require.Equal(t, ext, segs[1].Content)
	require.Equal(t, ext, segs[2].Content["reprise"])
}

func TestFirstCommitterWins(t *testing.T) {
	c, cache := compiledSet(t, core.Duration(time.Minute))
	s, err := NewStream(c, cache)
	require.NoError(t, err)

	require.NoError(t, s.Extend("verse-two", map[string]interface{}{"theme": "dragons"}))
	require.ErrorIs(t, s.Extend("verse-two", map[string]interface{}{"theme": "gold"}),
		ErrResolved)

	segs := collect(t, s)
	require.Equal(t, "dragons", segs[1].Content["theme"])
}

func TestLateSubmissionRejected(t *testing.T) {
	c, cache := compiledSet(t, core.Duration(5*time.Millisecond))
	s, err := NewStream(c, cache)
	require.NoError(t, err)

	collect(t, s)

	// The window closed on the default; the straggler is rejected.
	require.ErrorIs(t, s.Extend("verse-two", map[string]interface{}{"theme": "gold"}),
		ErrResolved)
}

func TestUnknownPoint(t *testing.T) {
	c, cache := compiledSet(t, core.Duration(time.Minute))
	s, err := NewStream(c, cache)
	require.NoError(t, err)

	require.ErrorIs(t, s.Extend("bridge", nil), ErrUnknownPoint)

	require.NoError(t, s.Extend("verse-two", map[string]interface{}{"theme": "dragons"}))
	collect(t, s)
}

func TestSegmentOrderIndependentOfExtensionTiming(t *testing.T) {
	run := func(extend bool) []string {
		c, cache := compiledSet(t, core.Duration(5*time.Millisecond))
		s, err := NewStream(c, cache)
		require.NoError(t, err)
		if extend {
			require.NoError(t, s.Extend("verse-two", map[string]interface{}{"theme": "dragons"}))
		}
		segs := collect(t, s)
		require.Len(t, segs, 3)
		for i, seg := range segs {
			require.Equal(t, i, seg.Index)
		}
		acc := make([]string, len(segs))
		for i, seg := range segs {
			acc[i] = seg.Point
		}
		return acc
	}

	// Same points, same positions, whether the window was extended
	// or timed out.
	require.Equal(t, run(false), run(true))
}

func TestRunCancelled(t *testing.T) {
	c, cache := compiledSet(t, core.Duration(time.Minute))
	s, err := NewStream(c, cache)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()

	// Drain the opening, then cancel while the stream is parked on
	// the continuation window.
	<-s.Segments()
	cancel()
	require.ErrorIs(t, <-done, context.Canceled)
}

func TestCompileValidation(t *testing.T) {
	registry := vars.NewRegistry()

	for _, c := range []*Composition{
		{Name: "empty"},
		{Name: "both", Parts: []Part{{
			Segment: &SegmentSpec{Name: "x"},
			Point:   &PointSpec{Name: "p", Window: 1, Default: SegmentSpec{Name: "d"}},
		}}},
		{Name: "neither", Parts: []Part{{}}},
		{Name: "no-window", Parts: []Part{{
			Point: &PointSpec{Name: "p", Default: SegmentSpec{Name: "d"}},
		}}},
		{Name: "dup-point", Parts: []Part{
			{Point: &PointSpec{Name: "p", Window: 1, Default: SegmentSpec{Name: "d"}}},
			{Point: &PointSpec{Name: "p", Window: 1, Default: SegmentSpec{Name: "d"}}},
		}},
		{Name: "bad-ref", Parts: []Part{{
			Segment: &SegmentSpec{Name: "x",
				Args: map[string]interface{}{"v": "$mood.tempo"}},
		}}},
		{Name: "unregistered", Namespaces: []string{"mood"}, Parts: []Part{{
			Segment: &SegmentSpec{Name: "x"},
		}}},
	} {
		require.Error(t, c.Compile(registry), c.Name)
		require.False(t, c.Compiled(), c.Name)
	}

	_, err := NewStream(&Composition{Name: "raw"}, nil)
	require.Error(t, err)
}
