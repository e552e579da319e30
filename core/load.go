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

package core

import (
	"encoding/json"
	"errors"
	"sync/atomic"

	"github.com/jsccast/yaml"

	"github.com/legionkit/legion/vars"
)

// LoadDocument decodes and compiles a Document from JSON or YAML.
//
// The payload is JSON if it starts with '{'; otherwise it's parsed as
// YAML.  Compilation failures reject the whole Document (no partial
// load).
func LoadDocument(body []byte, registry *vars.Registry) (*Document, error) {
	if len(body) == 0 {
		return nil, errors.New("empty document source")
	}

	var d Document
	var err error
	switch body[0] {
	case '{':
		err = json.Unmarshal(body, &d)
	default:
		err = yaml.Unmarshal(body, &d)
	}
	if err != nil {
		return nil, err
	}

	if err := d.Compile(registry); err != nil {
		return nil, err
	}

	return &d, nil
}

// DocumentRef points at the current version of a behavior.
//
// Publishing a new version swaps the pointer; actors created
// afterwards get the new Document, while actors already running keep
// the version they started with.  A running actor's Document is never
// mutated.
type DocumentRef struct {
	doc atomic.Pointer[Document]
}

// NewDocumentRef makes a ref with the given initial Document, which
// must be compiled.
func NewDocumentRef(d *Document) (*DocumentRef, error) {
	r := &DocumentRef{}
	if err := r.Publish(d); err != nil {
		return nil, err
	}
	return r, nil
}

// Publish atomically replaces the current Document.
func (r *DocumentRef) Publish(d *Document) error {
	if !d.Compiled() {
		return &NotCompiled{d}
	}
	r.doc.Store(d)
	return nil
}

// Current returns the Document new actors should bind to.
func (r *DocumentRef) Current() *Document {
	return r.doc.Load()
}
