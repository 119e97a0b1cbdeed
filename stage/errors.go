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


package stage

import "errors"

var (
	// ErrCompleterRequired indicates an Executor was constructed
	// without a completer.
	ErrCompleterRequired = errors.New("completer is required")

	// ErrInvalidMaxRetries indicates a negative retry budget.
	ErrInvalidMaxRetries = errors.New("max retries must not be negative")

	// ErrInvalidDelay indicates a non-positive backoff base delay.
	ErrInvalidDelay = errors.New("base delay must be positive")

	// ErrInvalidTimeout indicates a non-positive per-attempt timeout.
	ErrInvalidTimeout = errors.New("timeout must be positive")
)
