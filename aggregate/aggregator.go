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


package aggregate

import (
	"context"
	"errors"
	"io/fs"
	"log/slog"
	"slices"
	"strings"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/poiesic/vitae/config"
	"github.com/poiesic/vitae/core"
	"github.com/poiesic/vitae/output"
)

// Input pairs one service's descriptor with its output file. The
// descriptor supplies the namespace and the final stage's
// consolidation rule, which decides whether the service's facts
// aggregate as single values or as value lists.
type Input struct {
	Service *config.Service
	Path    string
}

// Aggregator builds person profiles from service outputs.
type Aggregator struct {
	logger *slog.Logger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets a custom logger.
// Default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// New creates an Aggregator.
func New(opts ...Option) *Aggregator {
	a := &Aggregator{
		logger: slog.Default().With("component", "aggregator"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Aggregate loads every input concurrently and merges them into one
// profile per person, sorted by person ID. A missing output file, or
// a service with no record for a person, degrades that person's
// profile with a gap; it never fails the batch.
func (a *Aggregator) Aggregate(ctx context.Context, inputs []Input) ([]core.PersonProfile, error) {
	loaded := make([][]core.PersonRecord, len(inputs))

	g, _ := errgroup.WithContext(ctx)
	var mu sync.Mutex
	for i, in := range inputs {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			records, err := output.ReadAll(in.Path)
			if err != nil {
				if errors.Is(err, fs.ErrNotExist) || in.Path == "" {
					a.logger.Warn("service output missing, profiles will carry a gap",
						"service", in.Service.Name, "path", in.Path)
					return nil
				}
				return err
			}
			mu.Lock()
			loaded[i] = records
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return a.merge(inputs, loaded), nil
}

// profileBuilder accumulates one person's facts across services.
type profileBuilder struct {
	profile  core.PersonProfile
	reported map[string]bool
}

func (a *Aggregator) merge(inputs []Input, loaded [][]core.PersonRecord) []core.PersonProfile {
	builders := make(map[string]*profileBuilder)
	var order []string

	for i, in := range inputs {
		listValued := finalStageIsMajority(in.Service)

		for r := range loaded[i] {
			rec := &loaded[i][r]
			pid := core.NormalizePersonID(rec.PersonName)
			b, ok := builders[pid]
			if !ok {
				b = &profileBuilder{
					profile: core.PersonProfile{
						PersonID:   pid,
						PersonName: rec.PersonName,
						Fields:     make(map[string]core.ProfileField),
					},
					reported: make(map[string]bool),
				}
				builders[pid] = b
				order = append(order, pid)
			}

			b.reported[in.Service.Name] = true
			if !slices.Contains(b.profile.Names, rec.PersonName) {
				b.profile.Names = append(b.profile.Names, rec.PersonName)
			}
			if rec.Status != core.StatusOK {
				continue
			}

			a.mergeRecords(b, in.Service, rec.Records, listValued)
		}
	}

	// Every service that never reported a person is a gap on that
	// person's profile.
	for _, pid := range order {
		b := builders[pid]
		for _, in := range inputs {
			if b.reported[in.Service.Name] {
				continue
			}
			b.profile.Gaps = append(b.profile.Gaps, in.Service.Name)
			a.logger.Debug("profile gap",
				"person", b.profile.PersonName,
				"service", in.Service.Name,
				"kind", core.FailureKind(core.ErrMissingServiceOutput))
		}
		slices.Sort(b.profile.Gaps)
	}

	slices.Sort(order)
	profiles := make([]core.PersonProfile, 0, len(order))
	for _, pid := range order {
		profiles = append(profiles, builders[pid].profile)
	}
	return profiles
}

// mergeRecords folds one service's consolidated records into a
// profile. Only fields the service's stage schemas declare are
// asserted; anything else in a record is outside the service's
// namespace and is skipped. Records arrive winner-first; under an
// exclusive rule the first assertion of a field stands and later
// candidates are left to the service output, while a majority-rule
// service contributes every record's value as one list.
func (a *Aggregator) mergeRecords(b *profileBuilder, svc *config.Service, records []core.ConsolidatedRecord, listValued bool) {
	declared := declaredFields(svc)
	asserted := make(map[string]core.ProfileField)
	names := make([]string, 0, 4)

	for i := range records {
		rec := &records[i]
		for name, value := range rec.Fields {
			if !declared[name] {
				a.logger.Warn("undeclared field skipped",
					"service", svc.Name, "field", name)
				continue
			}
			current, ok := asserted[name]
			if !ok {
				asserted[name] = core.ProfileField{
					Value:      value,
					Service:    svc.Name,
					Namespace:  svc.Namespace,
					Confidence: rec.Confidence,
					Provenance: rec.Provenance.Clone(),
				}
				names = append(names, name)
				continue
			}
			if !listValued {
				// Exclusive rule: the ranked winner already holds the
				// field; losing candidates stay in the service output.
				continue
			}
			current.Value = appendValue(current.Value, value)
			if rec.Confidence > current.Confidence {
				current.Confidence = rec.Confidence
			}
			current.Provenance.Union(rec.Provenance)
			asserted[name] = current
		}
	}

	slices.Sort(names)
	for _, name := range names {
		a.assertField(b, name, asserted[name])
	}
}

// assertField places one service's field assertion into the profile,
// resolving cross-service overlap by confidence. The losing assertion
// is retained as a cross reference, never dropped.
func (a *Aggregator) assertField(b *profileBuilder, name string, field core.ProfileField) {
	existing, ok := b.profile.Fields[name]
	if !ok {
		b.profile.Fields[name] = field
		return
	}

	a.logger.Debug("cross-service field overlap",
		"person", b.profile.PersonName,
		"field", name,
		"services", existing.Service+","+field.Service)

	winner, loser := existing, field
	if field.Confidence > existing.Confidence {
		winner, loser = field, existing
	}
	winner.CrossRefs = append(winner.CrossRefs, loser.CrossRefs...)
	winner.CrossRefs = append(winner.CrossRefs, core.CrossRef{
		Service:    loser.Service,
		Value:      loser.Value,
		Confidence: loser.Confidence,
		Provenance: loser.Provenance,
	})
	b.profile.Fields[name] = winner
}

// appendValue grows a field value into a list.
func appendValue(current, next any) any {
	if list, ok := current.([]any); ok {
		return append(list, next)
	}
	return []any{current, next}
}

// declaredFields collects every field name the service's stage
// schemas declare.
func declaredFields(svc *config.Service) map[string]bool {
	names := make(map[string]bool)
	for _, stg := range svc.Stages {
		for _, f := range stg.Fields {
			names[f.Name] = true
		}
	}
	return names
}

// finalStageIsMajority reports whether a service's profile facts are
// list-valued.
func finalStageIsMajority(svc *config.Service) bool {
	if len(svc.Stages) == 0 {
		return false
	}
	return svc.Stages[len(svc.Stages)-1].Consolidate.Rule == config.RuleMajority
}

// sourcesPath derives the provenance sidecar path for a profile file.
func sourcesPath(path string) string {
	if idx := strings.LastIndex(path, "."); idx > 0 {
		return path[:idx] + ".sources" + path[idx:]
	}
	return path + ".sources"
}
