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

package storage

import "context"

// Noop is a Store that remembers nothing.  Useful for populations
// that are cheap to rebuild.
type Noop struct{}

func (n *Noop) WriteActor(ctx context.Context, id string, snapshot []byte) error {
	return nil
}

func (n *Noop) ReadActor(ctx context.Context, id string) ([]byte, error) {
	return nil, NotFound
}

func (n *Noop) RemActor(ctx context.Context, id string) error {
	return nil
}

func (n *Noop) EachActor(ctx context.Context, f func(id string, snapshot []byte) error) error {
	return nil
}

func (n *Noop) Close() error {
	return nil
}
