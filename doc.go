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

// Package legion provides the execution core for large populations of
// autonomous actors.
//
// The pieces, leaf to root: package 'vars' resolves namespaced
// external variables through per-actor caches; package 'plan' is a
// goal-directed best-first planner; package 'core' loads Behavior
// Documents and ticks their compiled programs; package 'script'
// interprets long-running, suspendable step trees; package 'compose'
// streams time-sequenced output with live extension points; package
// 'sched' owns the population.  The 'legiond' command in 'cmd' hosts
// all of it behind an MQTT broker.
package legion
