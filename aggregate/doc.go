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


// Package aggregate merges service outputs into per-person profiles.
//
// Services own disjoint field namespaces, so aggregation is mostly a
// union: each service's consolidated facts land in the profile tagged
// with the service that asserted them. When two services do assert the
// same field (death status, say), the higher-confidence assertion wins
// and the other is kept as a cross reference rather than dropped.
//
// Aggregation degrades, never aborts: a service with no record for a
// person becomes a gap on that person's profile, and the batch always
// completes with whatever the services reported.
package aggregate
