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

package compose

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/legionkit/legion/vars"
)

var (
	// ErrUnknownPoint is returned by Extend for a point name the
	// composition doesn't declare.
	ErrUnknownPoint = errors.New("no such continuation point")

	// ErrResolved is returned by Extend when the point has already
	// been resolved, by an earlier extension or by its timeout
	// default.  First committer wins; everyone later lands here.
	ErrResolved = errors.New("continuation point already resolved")
)

// Stream is one run of a Composition.  A Stream runs once from the
// composition's start; restarting means opening a new Stream.
//
// Run is single-threaded like every other per-actor interpreter here,
// but Extend is safe to call from any goroutine at any time between
// NewStream and the point's resolution.
type Stream struct {
	comp     *Composition
	cache    *vars.Cache
	out      chan Segment
	bindings map[string]interface{}
	points   map[string]*point
}

// point is the resolve-exactly-once slot behind one Continuation
// Point.
type point struct {
	spec *PointSpec

	mu       sync.Mutex
	resolved bool
	ext      map[string]interface{}
	done     chan struct{}
}

// commit tries to resolve the point with the given extension data
// (nil for the timeout default).  Exactly one commit ever wins.
func (p *point) commit(ext map[string]interface{}) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.resolved {
		return false
	}
	p.resolved = true
	p.ext = ext
	close(p.done)
	return true
}

// NewStream prepares a run of a compiled Composition for one actor.
// Extensions may be submitted as soon as the Stream exists; an early
// submission resolves its point before the window even opens.
func NewStream(comp *Composition, cache *vars.Cache) (*Stream, error) {
	if !comp.Compiled() {
		return nil, errors.New("composition is not compiled")
	}
	s := &Stream{
		comp:     comp,
		cache:    cache,
		out:      make(chan Segment),
		bindings: map[string]interface{}{},
		points:   map[string]*point{},
	}
	for i := range comp.Parts {
		if pt := comp.Parts[i].Point; pt != nil {
			s.points[pt.Name] = &point{spec: pt, done: make(chan struct{})}
		}
	}
	return s, nil
}

// Segments is the output stream.  Run closes it when the composition
// completes.
func (s *Stream) Segments() <-chan Segment {
	return s.out
}

// Extend submits extension data for a Continuation Point.  The first
// submission for a point wins; later ones get ErrResolved, including
// any that arrive after the point's window already closed on its
// default.
func (s *Stream) Extend(pointName string, data map[string]interface{}) error {
	p, have := s.points[pointName]
	if !have {
		return ErrUnknownPoint
	}
	if !p.commit(data) {
		return ErrResolved
	}
	return nil
}

// Run renders the composition in order, pushing each Segment to the
// output channel.  At a Continuation Point it waits at most the
// point's window; the stream never stalls on a missing extension.
func (s *Stream) Run(ctx context.Context) error {
	defer close(s.out)

	for i := range s.comp.Parts {
		part := s.comp.Parts[i]

		var seg Segment
		if part.Segment != nil {
			seg = s.render(ctx, part.Segment, i)
		} else {
			var err error
			if seg, err = s.await(ctx, part.Point, i); err != nil {
				return err
			}
		}

		select {
		case s.out <- seg:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// await blocks on a Continuation Point until it resolves, by an
// extension or by the window timeout committing the default.
func (s *Stream) await(ctx context.Context, spec *PointSpec, index int) (Segment, error) {
	p := s.points[spec.Name]

	timer := time.NewTimer(spec.Window.D())
	defer timer.Stop()

	select {
	case <-p.done:
	case <-timer.C:
		// A racing extension may have won between the timer firing
		// and this commit; its data is used if so.
		p.commit(nil)
	case <-ctx.Done():
		return Segment{}, ctx.Err()
	}

	if p.ext != nil {
		if spec.Bind != "" {
			s.bindings[spec.Bind] = p.ext
		}
		return Segment{
			Index:    index,
			Name:     spec.Name,
			Content:  p.ext,
			Point:    spec.Name,
			Extended: true,
		}, nil
	}

	seg := s.render(ctx, &spec.Default, index)
	seg.Point = spec.Name
	if spec.Bind != "" {
		s.bindings[spec.Bind] = seg.Content
	}
	return seg, nil
}

// render materializes a SegmentSpec: "@name" args take stream
// bindings, "$namespace.path" args resolve through the actor's
// variable cache, with Unavailable rendering as nil.
func (s *Stream) render(ctx context.Context, spec *SegmentSpec, index int) Segment {
	var content map[string]interface{}
	if spec.Args != nil {
		content = make(map[string]interface{}, len(spec.Args))
		for k, v := range spec.Args {
			content[k] = s.arg(ctx, v)
		}
	}
	return Segment{Index: index, Name: spec.Name, Content: content}
}

func (s *Stream) arg(ctx context.Context, v interface{}) interface{} {
	str, is := v.(string)
	if !is {
		return v
	}
	switch {
	case strings.HasPrefix(str, "@"):
		return s.bindings[str[1:]]
	case strings.HasPrefix(str, "$"):
		val, err := s.cache.Resolve(ctx, str[1:])
		if err != nil {
			return nil
		}
		return val
	}
	return v
}
