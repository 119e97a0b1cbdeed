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


// Package output reads and writes service output files.
//
// A service output file is newline-delimited JSON, one core.PersonRecord
// per line, append-only, one file per run. The Writer serializes
// concurrent appends behind a mutex and holds an OS-level file lock for
// its lifetime, so two processes cannot interleave lines in one file.
// Appends are all-or-nothing: a record is fully marshaled before any
// byte reaches the file.
//
// The Reader streams records back for aggregation and for multi-service
// pipelines that consume a previous run's output.
package output
