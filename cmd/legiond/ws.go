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

package main

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/legionkit/legion/compose"
)

// StreamHub serves composition streams over a websocket.
//
// Clients receive every rendered segment and may extend a
// Continuation Point by sending
//
//	{"stream": ..., "point": ..., "data": {...}}
//
// Extension races resolve first-committer-wins; late submissions get
// an error reply, never a stall.
type StreamHub struct {
	log *zap.Logger

	mu      sync.Mutex
	streams map[string]*compose.Stream

	segs  chan outSegment
	conns sync.Map
}

type outSegment struct {
	Stream  string          `json:"stream"`
	Segment compose.Segment `json:"segment"`
}

type extendOp struct {
	Stream string                 `json:"stream"`
	Point  string                 `json:"point"`
	Data   map[string]interface{} `json:"data"`
}

func NewStreamHub(log *zap.Logger) *StreamHub {
	return &StreamHub{
		log:     log,
		streams: make(map[string]*compose.Stream, 8),
		segs:    make(chan outSegment, 256),
	}
}

// AddStream registers a stream under a name and forwards its segments
// to every connected client.  The caller runs the stream itself.
func (h *StreamHub) AddStream(name string, s *compose.Stream) {
	h.mu.Lock()
	h.streams[name] = s
	h.mu.Unlock()

	go func() {
		for seg := range s.Segments() {
			h.segs <- outSegment{Stream: name, Segment: seg}
		}
	}()
}

// Broadcast fans segments out to connections until the context is
// done.
func (h *StreamHub) Broadcast(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case seg := <-h.segs:
			h.conns.Range(func(k, v interface{}) bool {
				c := v.(chan outSegment)
				select {
				case c <- seg:
				default:
					h.log.Warn("segment dropped on slow connection")
				}
				return true
			})
		}
	}
}

// Serve registers the websocket endpoint on the given mux.
func (h *StreamHub) Serve(ctx context.Context, mux *http.ServeMux) {
	upgrader := websocket.Upgrader{}

	mux.HandleFunc("/ws/compose", func(w http.ResponseWriter, r *http.Request) {
		c, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			h.log.Warn("upgrade error", zap.Error(err))
			return
		}
		defer c.Close()

		ctl := make(chan bool)
		defer close(ctl)

		out := make(chan outSegment, 32)
		id := c.RemoteAddr().String()
		h.conns.Store(id, out)
		defer h.conns.Delete(id)

		go func() {
			for {
				select {
				case <-ctl:
					return
				case <-ctx.Done():
					return
				case seg := <-out:
					js, err := json.Marshal(&seg)
					if err != nil {
						h.log.Warn("marshal segment", zap.Error(err))
						continue
					}
					if err := c.WriteMessage(websocket.TextMessage, js); err != nil {
						h.log.Debug("segment write", zap.Error(err))
					}
				}
			}
		}()

		for {
			mt, message, err := c.ReadMessage()
			if err != nil {
				h.log.Debug("read error", zap.Error(err))
				break
			}

			var op extendOp
			reply := map[string]interface{}{"ok": true}
			if err := json.Unmarshal(message, &op); err != nil {
				reply = map[string]interface{}{"error": "can't parse: " + err.Error()}
			} else if err := h.extend(op); err != nil {
				reply = map[string]interface{}{"error": err.Error()}
			}

			js, _ := json.Marshal(reply)
			if err := c.WriteMessage(mt, js); err != nil {
				h.log.Debug("reply write", zap.Error(err))
				break
			}
		}
	})
}

func (h *StreamHub) extend(op extendOp) error {
	h.mu.Lock()
	s, have := h.streams[op.Stream]
	h.mu.Unlock()
	if !have {
		return &unknownStream{op.Stream}
	}
	return s.Extend(op.Point, op.Data)
}

type unknownStream struct {
	name string
}

func (e *unknownStream) Error() string {
	return "no such stream " + e.name
}
