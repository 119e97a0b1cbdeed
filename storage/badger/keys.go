package badger

import (
	"fmt"

	"github.com/poiesic/vitae/core"
)

// Key prefix for stage checkpoints.
const stageCheckpointPrefix = "stagecp"

// makeStageKey generates the key for one (run, service, person, stage)
// checkpoint. The person name is folded through NormalizePersonID so a
// display-spelling difference cannot split a person's checkpoints.
// Stage indexes are two-digit padded: prefix scans then list stages in
// pipeline order for free.
func makeStageKey(runID, service, person string, stageIndex int) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%s:%02d",
		stageCheckpointPrefix, runID, service, core.NormalizePersonID(person), stageIndex))
}

// makePersonPrefix generates the scan prefix covering every stage
// checkpoint of one person in one service run.
func makePersonPrefix(runID, service, person string) []byte {
	return []byte(fmt.Sprintf("%s:%s:%s:%s:",
		stageCheckpointPrefix, runID, service, core.NormalizePersonID(person)))
}
