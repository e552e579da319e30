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
	"fmt"
	"os"

	yaml "gopkg.in/yaml.v2"

	"github.com/legionkit/legion/core"
	"github.com/legionkit/legion/sched"
)

// Config is legiond's YAML configuration.
type Config struct {
	// Logging is "production" (default) or "development".
	Logging string `yaml:"logging"`

	Workers    int           `yaml:"workers"`
	Resolution core.Duration `yaml:"resolution"`
	Cadence    core.Duration `yaml:"cadence"`
	TickBudget int           `yaml:"tickBudget"`
	QueueLimit int           `yaml:"queueLimit"`

	// Overflow is "drop-oldest" (default) or "drop-newest".
	Overflow string `yaml:"overflow"`

	// Store is the bbolt snapshot file.  Empty disables
	// checkpointing.
	Store string `yaml:"store"`

	// Listen is the HTTP/websocket address for the composition
	// extension endpoint.  Empty disables it.
	Listen string `yaml:"listen"`

	MQTT MQTTConfig `yaml:"mqtt"`

	// Documents are behavior document files (JSON or YAML).
	Documents []string `yaml:"documents"`

	// Seeds are static variable providers: namespace to values.
	// Pushed perceptions and invalidations refresh them at runtime.
	Seeds map[string]map[string]interface{} `yaml:"seeds"`

	Actors []ActorSpec `yaml:"actors"`

	Compositions []CompositionSpec `yaml:"compositions"`
}

// MQTTConfig names the broker session parameters.
type MQTTConfig struct {
	Broker   string `yaml:"broker"`
	ClientID string `yaml:"clientId"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	QoS      int    `yaml:"qos"`

	// Quiesce is the disconnection quiescence in milliseconds.
	Quiesce uint `yaml:"quiesce"`
}

// ActorSpec binds one entity to one document.
type ActorSpec struct {
	ID       string        `yaml:"id"`
	Document string        `yaml:"document"`
	Cadence  core.Duration `yaml:"cadence"`

	QueueLimit int    `yaml:"queueLimit"`
	Overflow   string `yaml:"overflow"`
}

// CompositionSpec starts one composition stream for one entity.
type CompositionSpec struct {
	File  string `yaml:"file"`
	Actor string `yaml:"actor"`
}

// LoadConfig reads and parses a YAML config file.
func LoadConfig(filename string) (*Config, error) {
	bs, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var conf Config
	if err := yaml.Unmarshal(bs, &conf); err != nil {
		return nil, fmt.Errorf("config %s: %w", filename, err)
	}
	return &conf, nil
}

func overflowPolicy(s string) (sched.OverflowPolicy, error) {
	switch s {
	case "":
		return 0, nil // inherit the enclosing default
	case "drop-oldest":
		return sched.DropOldest, nil
	case "drop-newest":
		return sched.DropNewest, nil
	default:
		return 0, fmt.Errorf("unknown overflow policy %q", s)
	}
}
