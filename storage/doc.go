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


// Package storage provides the checkpoint storage abstraction for vitae.
//
// Checkpoints are a crash-recovery aid, not the primary data path: a
// pipeline hands consolidated records between stages in memory and only
// mirrors each completed stage to storage so an interrupted run can
// resume without repeating model calls.
//
// Public constructors return the RunRepository interface rather than a
// concrete type, so tests and alternative backends can substitute
// implementations without touching the coordinator:
//
//	repo, err := badger.NewRunRepository(path)  // returns storage.RunRepository
//
// All implementations must be thread-safe: one run checkpoints many
// people concurrently. Methods accept context.Context for cancellation.
package storage
