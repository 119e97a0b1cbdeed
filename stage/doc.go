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


// Package stage turns a service descriptor's stage into model calls.
//
// A stage's input mode determines its work units: one per selected
// evidence chunk, one per consolidated record of the previous stage,
// or a single combined unit per person. The Executor renders the
// stage's prompt templates for each unit, calls the completer under a
// per-attempt timeout, and validates the response against the stage's
// declared field schema.
//
// Failures retry according to their kind. Transient call failures
// back off exponentially with jitter. Validation failures re-prompt
// with a stricter instruction naming the exact keys expected. Fatal
// configuration errors abort without retrying. A unit that exhausts
// its budget returns a typed error for the caller to record; it never
// disturbs sibling units.
package stage
