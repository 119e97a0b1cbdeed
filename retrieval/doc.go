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


// Package retrieval provides similarity search and diverse evidence
// selection over per-person chunk corpora.
//
// The Index type ranks a person's pre-embedded chunks against a query
// embedding by cosine similarity. The Selector type picks the stage's
// evidence set from that ranking: top-k by score, spread across source
// domains under a per-source cap that relaxes rather than starve the
// selection.
//
// Indexes are read-only after construction and safe for concurrent
// queries, so one corpus serves many concurrent pipelines.
package retrieval
