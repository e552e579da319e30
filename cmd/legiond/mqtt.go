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
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/legionkit/legion/core"
	"github.com/legionkit/legion/sched"
	"github.com/legionkit/legion/script"
	"github.com/legionkit/legion/vars"
)

// MQTT couples legiond to a broker.
//
// Inbound topics:
//
//	invalidate/<namespace>/<entityId>  mark (namespace, entity) stale;
//	                                   omit the entity to invalidate all
//	perceive/<actorId>                 push observed values:
//	                                   {"namespace": ..., "values": {...}}
//	result/<actorId>                   answer a pending call:
//	                                   {"token": ..., "value": ..., "error": ..., "timedOut": ...}
//
// Outbound topics:
//
//	act/<kind>        every emitted action
//	call/<service>    every external call an executor suspends on
type MQTT struct {
	client  mqtt.Client
	log     *zap.Logger
	qos     byte
	quiesce uint

	sched *sched.Scheduler
	bus   *vars.Bus
}

// NewMQTT builds the client but doesn't connect; Start does.
func NewMQTT(conf MQTTConfig, log *zap.Logger) *MQTT {
	m := &MQTT{
		log:     log,
		qos:     byte(conf.QoS),
		quiesce: conf.Quiesce,
	}
	if m.quiesce == 0 {
		m.quiesce = 100
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(conf.Broker)
	opts.SetClientID(conf.ClientID)
	opts.Username = conf.Username
	opts.Password = conf.Password
	opts.AutoReconnect = true
	opts.SetKeepAlive(10 * time.Second)
	opts.OnConnectionLost = func(client mqtt.Client, err error) {
		log.Warn("mqtt connection lost", zap.Error(err))
	}
	opts.DefaultPublishHandler = func(client mqtt.Client, msg mqtt.Message) {
		m.inHandler(msg)
	}

	m.client = mqtt.NewClient(opts)
	return m
}

// Start connects and subscribes.
func (m *MQTT) Start(ctx context.Context) error {
	if token := m.client.Connect(); token.Wait() && token.Error() != nil {
		return token.Error()
	}
	for _, topic := range []string{"invalidate/#", "perceive/#", "result/#"} {
		if t := m.client.Subscribe(topic, m.qos, nil); t.Wait() && t.Error() != nil {
			return t.Error()
		}
	}
	m.log.Info("mqtt connected")
	return nil
}

// Stop disconnects.
func (m *MQTT) Stop() {
	m.client.Disconnect(m.quiesce)
}

// inHandler routes broker messages by topic.
func (m *MQTT) inHandler(msg mqtt.Message) {
	parts := strings.Split(msg.Topic(), "/")

	switch parts[0] {
	case "invalidate":
		if len(parts) < 2 {
			m.log.Warn("bad invalidate topic", zap.String("topic", msg.Topic()))
			return
		}
		inv := vars.Invalidation{Namespace: parts[1]}
		if len(parts) > 2 {
			inv.EntityID = parts[2]
		}
		m.bus.Publish(inv)

	case "perceive":
		if len(parts) != 2 {
			m.log.Warn("bad perceive topic", zap.String("topic", msg.Topic()))
			return
		}
		var body struct {
			Namespace string                `json:"namespace"`
			Values    map[string]vars.Value `json:"values"`
		}
		if err := json.Unmarshal(msg.Payload(), &body); err != nil {
			m.log.Warn("bad perceive payload", zap.Error(err))
			return
		}
		err := m.sched.Deliver(parts[1], sched.Perception{
			Namespace: body.Namespace,
			Values:    body.Values,
		})
		if err != nil {
			m.log.Debug("perception for missing actor", zap.String("actor", parts[1]))
		}

	case "result":
		if len(parts) != 2 {
			m.log.Warn("bad result topic", zap.String("topic", msg.Topic()))
			return
		}
		var body struct {
			Token    string      `json:"token"`
			Value    interface{} `json:"value"`
			Error    string      `json:"error"`
			TimedOut bool        `json:"timedOut"`
		}
		if err := json.Unmarshal(msg.Payload(), &body); err != nil {
			m.log.Warn("bad result payload", zap.Error(err))
			return
		}
		err := m.sched.Deliver(parts[1], sched.Perception{
			Token: body.Token,
			Outcome: &script.Outcome{
				Value:    body.Value,
				Err:      body.Error,
				TimedOut: body.TimedOut,
			},
		})
		if err != nil {
			m.log.Debug("result for missing actor", zap.String("actor", parts[1]))
		}
	}
}

// Emit publishes an action to act/<kind>.  Implements core.Emitter.
func (m *MQTT) Emit(ctx context.Context, actorID string, a core.Action) error {
	js, err := json.Marshal(map[string]interface{}{
		"actor":   actorID,
		"kind":    a.Kind,
		"values":  a.Values,
		"payload": a.Payload,
	})
	if err != nil {
		return err
	}
	token := m.client.Publish("act/"+a.Kind, m.qos, false, js)
	token.Wait()
	return token.Error()
}

// Call publishes a pending external call to call/<service>.  Whoever
// serves the call answers on result/<actorId> with the token.
// Implements sched.Caller.
func (m *MQTT) Call(ctx context.Context, actorID string, sus *script.Suspension) {
	body := map[string]interface{}{
		"actor":     actorID,
		"token":     sus.Token,
		"service":   sus.Service,
		"payload":   sus.Payload,
		"timeoutMs": sus.Timeout.Milliseconds(),
		"attempt":   sus.Attempt,
	}
	if !sus.NotBefore.IsZero() {
		body["notBefore"] = sus.NotBefore.Format(time.RFC3339Nano)
	}
	js, err := json.Marshal(body)
	if err != nil {
		m.log.Error("marshal call", zap.Error(err))
		return
	}
	token := m.client.Publish("call/"+sus.Service, m.qos, false, js)
	token.Wait()
	if token.Error() != nil {
		m.log.Error("publish call", zap.Error(token.Error()))
	}
}
