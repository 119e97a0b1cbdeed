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


package storage

import (
	"fmt"

	"github.com/mus-format/mus-go/ord"
	"github.com/mus-format/mus-go/raw"
	"github.com/mus-format/mus-go/varint"

	"github.com/poiesic/vitae/core"
)

// StageCheckpointMUS is the MUS serializer for core.StageCheckpoint.
// The checkpoint envelope is one small fixed struct, so the serializer
// is written by hand; timestamps round-trip at microsecond precision.
var StageCheckpointMUS = stageCheckpointMUS{}

type stageCheckpointMUS struct{}

func (stageCheckpointMUS) Marshal(v core.StageCheckpoint, bs []byte) (n int) {
	n = ord.String.Marshal(v.RunID, bs)
	n += ord.String.Marshal(v.Service, bs[n:])
	n += ord.String.Marshal(v.PersonName, bs[n:])
	n += ord.String.Marshal(v.StageID, bs[n:])
	n += varint.Int.Marshal(v.StageIndex, bs[n:])
	n += ord.String.Marshal(v.Status, bs[n:])
	n += raw.TimeUnixMicro.Marshal(v.UpdatedAt, bs[n:])
	n += ord.String.Marshal(v.Payload, bs[n:])
	return
}

func (stageCheckpointMUS) Unmarshal(bs []byte) (v core.StageCheckpoint, n int, err error) {
	var n1 int
	if v.RunID, n, err = ord.String.Unmarshal(bs); err != nil {
		return
	}
	if v.Service, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.PersonName, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.StageID, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.StageIndex, n1, err = varint.Int.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Status, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.UpdatedAt, n1, err = raw.TimeUnixMicro.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	if v.Payload, n1, err = ord.String.Unmarshal(bs[n:]); err != nil {
		return
	}
	n += n1
	return
}

func (stageCheckpointMUS) Size(v core.StageCheckpoint) (size int) {
	size = ord.String.Size(v.RunID)
	size += ord.String.Size(v.Service)
	size += ord.String.Size(v.PersonName)
	size += ord.String.Size(v.StageID)
	size += varint.Int.Size(v.StageIndex)
	size += ord.String.Size(v.Status)
	size += raw.TimeUnixMicro.Size(v.UpdatedAt)
	size += ord.String.Size(v.Payload)
	return
}

func (s stageCheckpointMUS) Skip(bs []byte) (n int, err error) {
	_, n, err = s.Unmarshal(bs)
	return
}

// MarshalStageCheckpoint serializes a StageCheckpoint to bytes.
func MarshalStageCheckpoint(checkpoint *core.StageCheckpoint) []byte {
	buf := make([]byte, StageCheckpointMUS.Size(*checkpoint))
	StageCheckpointMUS.Marshal(*checkpoint, buf)
	return buf
}

// UnmarshalStageCheckpoint deserializes a StageCheckpoint from bytes.
func UnmarshalStageCheckpoint(data []byte) (*core.StageCheckpoint, error) {
	checkpoint, _, err := StageCheckpointMUS.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSerializationFailed, err)
	}
	return &checkpoint, nil
}
