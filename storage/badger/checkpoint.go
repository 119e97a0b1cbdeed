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


package badger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/poiesic/vitae/core"
	"github.com/poiesic/vitae/storage"
)

// RunRepository implements storage.RunRepository for BadgerDB.
type RunRepository struct {
	backend *Backend
}

var _ storage.RunRepository = (*RunRepository)(nil)

// NewRunRepository opens (or creates) a checkpoint database at path.
// Returns storage.RunRepository interface to enforce abstraction.
func NewRunRepository(path string) (storage.RunRepository, error) {
	backend, err := OpenBackend(path, false)
	if err != nil {
		return nil, err
	}
	return &RunRepository{backend: backend}, nil
}

// SaveStage upserts the checkpoint for one stage of one person's run.
func (r *RunRepository) SaveStage(ctx context.Context, checkpoint *core.StageCheckpoint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if checkpoint == nil || checkpoint.RunID == "" || checkpoint.Service == "" ||
		checkpoint.PersonName == "" {
		return fmt.Errorf("%w: run, service and person are required", storage.ErrInvalidCheckpoint)
	}

	return r.backend.WithTx(func(tx *badger.Txn) error {
		checkpoint.UpdatedAt = time.Now().UTC()
		key := makeStageKey(checkpoint.RunID, checkpoint.Service,
			checkpoint.PersonName, checkpoint.StageIndex)
		value := storage.MarshalStageCheckpoint(checkpoint)
		if err := tx.Set(key, value); err != nil {
			return err
		}
		return tx.Commit()
	}, true)
}

// LoadStage retrieves one stage checkpoint.
// Returns storage.ErrNotFound if the tuple has never been saved.
func (r *RunRepository) LoadStage(ctx context.Context, runID, service, person string, stageIndex int) (*core.StageCheckpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var checkpoint *core.StageCheckpoint
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		item, err := tx.Get(makeStageKey(runID, service, person, stageIndex))
		if err != nil {
			if errors.Is(err, badger.ErrKeyNotFound) {
				return storage.ErrNotFound
			}
			return err
		}
		return item.Value(func(val []byte) error {
			checkpoint, err = storage.UnmarshalStageCheckpoint(val)
			return err
		})
	}, false)
	if err != nil {
		return nil, err
	}
	return checkpoint, nil
}

// ListStages retrieves every checkpoint for one person in one service
// run, ordered by stage index ascending.
func (r *RunRepository) ListStages(ctx context.Context, runID, service, person string) ([]*core.StageCheckpoint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var checkpoints []*core.StageCheckpoint
	err := r.backend.WithTx(func(tx *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = makePersonPrefix(runID, service, person)

		it := tx.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			err := it.Item().Value(func(val []byte) error {
				checkpoint, err := storage.UnmarshalStageCheckpoint(val)
				if err != nil {
					return err
				}
				checkpoints = append(checkpoints, checkpoint)
				return nil
			})
			if err != nil {
				return err
			}
		}
		return nil
	}, false)
	if err != nil {
		return nil, err
	}
	return checkpoints, nil
}

// Close closes the underlying database.
func (r *RunRepository) Close() error {
	if r.backend.IsClosed() {
		return storage.ErrStorageClosed
	}
	return r.backend.Close()
}
