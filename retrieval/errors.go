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


package retrieval

import "errors"

var (
	// ErrDimensionMismatch is returned when embeddings of different
	// lengths meet: either within one corpus at load, or between a
	// query and the corpus it searches.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")

	// ErrNoQueryEmbedding is returned when a query carries no embedding.
	ErrNoQueryEmbedding = errors.New("query embedding required")

	// ErrIndexRequired is returned when a selector is given a nil index.
	ErrIndexRequired = errors.New("index required")
)
