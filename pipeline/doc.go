// Copyright 2025 Poiesic Systems
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.


// Package pipeline sequences a service's extraction stages over a
// corpus of people.
//
// Each person advances through a fixed state machine: pending,
// selecting evidence, executing the stage's fan-out, consolidating the
// stage's records, then either the next stage or a terminal state. One
// stage's consolidated output is fully materialized in memory before
// the next stage starts; the per-stage checkpoint store exists only so
// an interrupted run can resume.
//
// People run concurrently behind an errgroup limit, and every stage
// unit across all people funnels through one shared worker pool, so
// the run's total model-call concurrency is a single number no matter
// how wide any one person's fan-out is.
//
// Failures are contained per person: a unit that exhausts its retries
// becomes part of that person's terminal record, never an error for a
// sibling. The one exception is a fatal configuration error, which
// poisons every person identically and therefore aborts the whole
// service run.
package pipeline
