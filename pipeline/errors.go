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


package pipeline

import "errors"

var (
	// ErrServiceRequired indicates a nil service descriptor.
	ErrServiceRequired = errors.New("service descriptor is required")

	// ErrEmbedderRequired indicates a nil embedder.
	ErrEmbedderRequired = errors.New("embedder is required")

	// ErrExecutorRequired indicates a nil stage executor.
	ErrExecutorRequired = errors.New("stage executor is required")

	// ErrWriterRequired indicates a nil record writer.
	ErrWriterRequired = errors.New("record writer is required")

	// ErrInvalidConcurrency indicates a non-positive concurrency limit.
	ErrInvalidConcurrency = errors.New("concurrency must be positive")
)
