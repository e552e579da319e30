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

// legiond hosts a population of actors behind an MQTT broker.
//
// Invalidations, perceptions, and call results arrive over MQTT;
// actions and pending calls go out the same way.  Composition streams
// are served over a websocket, where clients may extend Continuation
// Points.  Actor snapshots checkpoint to a bbolt file on shutdown and
// restore on startup.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/jsccast/yaml"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/legionkit/legion/compose"
	"github.com/legionkit/legion/core"
	"github.com/legionkit/legion/sched"
	"github.com/legionkit/legion/storage"
	"github.com/legionkit/legion/storage/bolt"
	"github.com/legionkit/legion/vars"
)

func main() {
	configFile := flag.String("c", "legiond.yaml", "Config filename")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}

	conf, err := LoadConfig(*configFile)
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}
	if conf.Logging == "development" {
		if log, err = zap.NewDevelopment(); err != nil {
			panic(err)
		}
	}
	defer log.Sync()

	registry := vars.NewRegistry()
	for ns, values := range conf.Seeds {
		vals := make(map[string]vars.Value, len(values))
		for k, v := range values {
			vals[k] = v
		}
		err := registry.Register(ns, vars.ProviderFunc(
			func(ctx context.Context, entityID string) (map[string]vars.Value, error) {
				return vals, nil
			}))
		if err != nil {
			log.Fatal("seed provider", zap.String("namespace", ns), zap.Error(err))
		}
	}

	docs := make(map[string]*core.DocumentRef, len(conf.Documents))
	for _, filename := range conf.Documents {
		bs, err := os.ReadFile(filename)
		if err != nil {
			log.Fatal("document", zap.String("file", filename), zap.Error(err))
		}
		d, err := core.LoadDocument(bs, registry)
		if err != nil {
			log.Fatal("document", zap.String("file", filename), zap.Error(err))
		}
		ref, err := core.NewDocumentRef(d)
		if err != nil {
			log.Fatal("document", zap.String("file", filename), zap.Error(err))
		}
		docs[d.Name] = ref
		log.Info("document loaded",
			zap.String("name", d.Name), zap.String("version", d.Version))
	}

	overflow, err := overflowPolicy(conf.Overflow)
	if err != nil {
		log.Fatal("config", zap.Error(err))
	}

	mq := NewMQTT(conf.MQTT, log)
	s := sched.New(sched.Config{
		Workers:    conf.Workers,
		Resolution: conf.Resolution.D(),
		Cadence:    conf.Cadence.D(),
		TickBudget: conf.TickBudget,
		QueueLimit: conf.QueueLimit,
		Overflow:   overflow,
		Logger:     log,
	}, registry, mq, mq)

	bus := vars.NewBus(256)
	s.AttachBus(bus)
	mq.sched = s
	mq.bus = bus

	ctx, stop := signal.NotifyContext(context.Background(),
		os.Interrupt, syscall.SIGTERM)
	defer stop()

	var store storage.Store = &storage.Noop{}
	if conf.Store != "" {
		b, err := bolt.NewStorage(conf.Store)
		if err != nil {
			log.Fatal("store", zap.Error(err))
		}
		if err := b.Open(); err != nil {
			log.Fatal("store", zap.Error(err))
		}
		store = b
	}

	specs := make(map[string]ActorSpec, len(conf.Actors))
	for _, spec := range conf.Actors {
		specs[spec.ID] = spec
	}

	// Stored actors resume where they left off; the rest start
	// fresh from config.
	restored := map[string]bool{}
	err = store.EachActor(ctx, func(id string, bs []byte) error {
		snap, err := sched.PeekSnapshot(bs)
		if err != nil {
			log.Warn("bad snapshot", zap.String("actor", id), zap.Error(err))
			return nil
		}
		ref := docs[snap.DocName]
		if ref == nil {
			log.Warn("stored actor's document not loaded",
				zap.String("actor", id), zap.String("document", snap.DocName))
			return nil
		}
		aconf, err := actorConfig(specs[id])
		if err != nil {
			return err
		}
		if err := s.RestoreActor(ctx, ref.Current(), bs, aconf); err != nil {
			log.Warn("restore failed", zap.String("actor", id), zap.Error(err))
			return nil
		}
		restored[id] = true
		return nil
	})
	if err != nil {
		log.Fatal("restore", zap.Error(err))
	}

	for _, spec := range conf.Actors {
		if restored[spec.ID] {
			continue
		}
		ref := docs[spec.Document]
		if ref == nil {
			log.Fatal("actor names unknown document",
				zap.String("actor", spec.ID), zap.String("document", spec.Document))
		}
		aconf, err := actorConfig(spec)
		if err != nil {
			log.Fatal("config", zap.Error(err))
		}
		if err := s.Add(ctx, spec.ID, ref.Current(), aconf); err != nil {
			log.Fatal("add actor", zap.String("actor", spec.ID), zap.Error(err))
		}
	}
	log.Info("population ready",
		zap.Int("restored", len(restored)),
		zap.Int("actors", len(conf.Actors)))

	g, ctx := errgroup.WithContext(ctx)

	hub := NewStreamHub(log)
	for _, cs := range conf.Compositions {
		comp, err := loadComposition(cs.File, registry)
		if err != nil {
			log.Fatal("composition", zap.String("file", cs.File), zap.Error(err))
		}
		cache := vars.NewCache(cs.Actor, registry, comp.Namespaces)
		stream, err := compose.NewStream(comp, cache)
		if err != nil {
			log.Fatal("composition", zap.String("file", cs.File), zap.Error(err))
		}
		hub.AddStream(comp.Name, stream)
		g.Go(func() error {
			return stream.Run(ctx)
		})
	}

	if err := mq.Start(ctx); err != nil {
		log.Fatal("mqtt", zap.Error(err))
	}

	g.Go(func() error {
		bus.Run(ctx)
		return nil
	})
	g.Go(func() error {
		return s.Run(ctx)
	})
	g.Go(func() error {
		hub.Broadcast(ctx)
		return nil
	})

	if conf.Listen != "" {
		mux := http.NewServeMux()
		hub.Serve(ctx, mux)
		srv := &http.Server{Addr: conf.Listen, Handler: mux}
		g.Go(func() error {
			err := srv.ListenAndServe()
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
		g.Go(func() error {
			<-ctx.Done()
			return srv.Shutdown(context.Background())
		})
		log.Info("listening", zap.String("addr", conf.Listen))
	}

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error("run", zap.Error(err))
	}

	mq.Stop()

	if err := s.Checkpoint(context.Background(), store); err != nil {
		log.Error("checkpoint", zap.Error(err))
	}
	if err := store.Close(); err != nil {
		log.Error("store close", zap.Error(err))
	}
	log.Info("bye")
}

func actorConfig(spec ActorSpec) (sched.ActorConfig, error) {
	overflow, err := overflowPolicy(spec.Overflow)
	if err != nil {
		return sched.ActorConfig{}, err
	}
	return sched.ActorConfig{
		Cadence:    spec.Cadence.D(),
		QueueLimit: spec.QueueLimit,
		Overflow:   overflow,
	}, nil
}

// loadComposition decodes and compiles a composition from JSON or
// YAML, the same way core.LoadDocument decodes documents.
func loadComposition(filename string, registry *vars.Registry) (*compose.Composition, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	if len(bs) == 0 {
		return nil, errors.New("empty composition source")
	}

	var c compose.Composition
	switch bs[0] {
	case '{':
		err = json.Unmarshal(bs, &c)
	default:
		err = yaml.Unmarshal(bs, &c)
	}
	if err != nil {
		return nil, err
	}

	if err := c.Compile(registry); err != nil {
		return nil, err
	}
	return &c, nil
}
