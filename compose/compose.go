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

// Package compose streams time-sequenced composition output.
//
// A Composition is a compiled, finite sequence of parts.  A fixed
// part renders one Segment.  A continuation part opens a bounded
// real-time window during which an external actor may submit
// extension data; if nothing arrives before the window closes, the
// part's declared default renders instead.  Either way the part
// yields exactly one Segment, so the stream's segment count and order
// never depend on extension timing.
package compose

import (
	"fmt"
	"strings"

	"github.com/legionkit/legion/core"
	"github.com/legionkit/legion/vars"
)

// Composition is a compiled, versioned streaming artifact.  Like a
// core.Document, it is immutable after Compile and restartable only
// by opening a fresh Stream from its start.
type Composition struct {
	// Name is the generic name for this composition.  Something
	// like "tavern-evening-set".
	Name string `json:"name,omitempty" yaml:",omitempty"`

	// Version is the version of this composition.
	Version string `json:"version,omitempty" yaml:",omitempty"`

	// Doc is general documentation about this composition.
	Doc string `json:"doc,omitempty" yaml:",omitempty"`

	// Namespaces declares every variable namespace segment args may
	// reference.
	Namespaces []string `json:"namespaces,omitempty" yaml:",omitempty"`

	// Parts is the ordered body of the composition.
	Parts []Part `json:"parts" yaml:"parts"`

	declared map[string]bool
	compiled bool
}

// Part is one element of a composition: exactly one of Segment and
// Point is set.
type Part struct {
	Segment *SegmentSpec `json:"segment,omitempty" yaml:",omitempty"`
	Point   *PointSpec   `json:"point,omitempty" yaml:",omitempty"`
}

// SegmentSpec describes one output segment before rendering.
//
// String args support two substitutions at render time: "@name" takes
// the named stream binding, and "$namespace.path" resolves through
// the actor's variable cache (an Unavailable reference renders as
// nil).
type SegmentSpec struct {
	Name string                 `json:"name" yaml:"name"`
	Args map[string]interface{} `json:"args,omitempty" yaml:",omitempty"`
}

// PointSpec declares a Continuation Point.
type PointSpec struct {
	// Name identifies the point to external extenders.  Unique
	// within the composition.
	Name string `json:"name" yaml:"name"`

	// Window bounds how long the stream waits for an extension once
	// it reaches this point.
	Window core.Duration `json:"window" yaml:"window"`

	// Default renders when the window closes unextended.
	Default SegmentSpec `json:"default" yaml:"default"`

	// Bind, if set, receives the resolved content (extension data
	// or the rendered default) as a stream binding for later
	// segments to interpolate.
	Bind string `json:"bind,omitempty" yaml:",omitempty"`
}

// Segment is one rendered element of the output stream.
type Segment struct {
	// Index is the segment's position in the stream, from 0.
	Index int

	// Name is the rendered SegmentSpec's name, or the Continuation
	// Point's name when the segment came from an extension.
	Name string

	Content map[string]interface{}

	// Point names the Continuation Point that produced this
	// segment, if any; Extended reports whether an extension won
	// the window.
	Point    string
	Extended bool
}

// Compiled reports whether Compile has succeeded on this Composition.
func (c *Composition) Compiled() bool {
	return c.compiled
}

// Compile validates the whole Composition.  No partial load: either
// every check passes or the first failure is returned and the
// Composition stays unusable.  A nil registry skips only the
// provider-registration check.
func (c *Composition) Compile(registry *vars.Registry) error {
	if len(c.Parts) == 0 {
		return fmt.Errorf("composition %q has no parts", c.Name)
	}

	c.declared = make(map[string]bool, len(c.Namespaces))
	for _, ns := range c.Namespaces {
		c.declared[ns] = true
		if registry != nil && !registry.Has(ns) {
			return fmt.Errorf("composition %q: namespace %q has no registered provider", c.Name, ns)
		}
	}

	points := make(map[string]bool, len(c.Parts))
	for i, p := range c.Parts {
		if (p.Segment == nil) == (p.Point == nil) {
			return fmt.Errorf("composition %q: part %d must have exactly one of segment and point", c.Name, i)
		}
		if p.Segment != nil {
			if err := c.checkSpec(p.Segment, i); err != nil {
				return err
			}
			continue
		}
		pt := p.Point
		if pt.Name == "" {
			return fmt.Errorf("composition %q: part %d point has no name", c.Name, i)
		}
		if points[pt.Name] {
			return fmt.Errorf("composition %q: duplicate point %q", c.Name, pt.Name)
		}
		points[pt.Name] = true
		if pt.Window <= 0 {
			return fmt.Errorf("composition %q: point %q needs a positive window", c.Name, pt.Name)
		}
		if err := c.checkSpec(&pt.Default, i); err != nil {
			return err
		}
	}

	c.compiled = true
	return nil
}

func (c *Composition) checkSpec(s *SegmentSpec, i int) error {
	if s.Name == "" {
		return fmt.Errorf("composition %q: part %d segment has no name", c.Name, i)
	}
	for _, v := range s.Args {
		ref, is := v.(string)
		if !is || !strings.HasPrefix(ref, "$") {
			continue
		}
		ns, _, err := vars.SplitRef(ref[1:])
		if err != nil || !c.declared[ns] {
			return fmt.Errorf("composition %q: part %d references undeclared %q", c.Name, i, ref)
		}
	}
	return nil
}
