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


// Package config loads and validates TOML service descriptors.
//
// A descriptor declares everything the engine needs to run one
// extraction service: the profile namespace it owns, retrieval and
// retry defaults, and an ordered list of stages with their prompt
// templates, response field declarations and consolidation rules.
// Descriptor files carry the service version in their name
// (birthfinder_v2.toml) and the version tag inside, so outputs remain
// attributable to the prompt set that produced them.
//
// Validation is strict and runs at load time: unknown TOML keys,
// unknown template variables, empty field sets and malformed stage
// wiring all fail with core.ErrFatalConfig before any model call is
// made.
package config
