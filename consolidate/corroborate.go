package consolidate

import "github.com/poiesic/vitae/core"

// applyCorroboration annotates canonical records with how well
// independent sources back them. Records arrive in canonical order,
// so under an exclusive rule the first record is the winning
// candidate and the rest are the competing values it beat.
//
// Exclusive rules (max_confidence) treat the records as rival
// assertions of one fact:
//
//   - a single candidate backed by two or more sources is verified;
//   - a single candidate with one source has no corroboration;
//   - several candidates where the winner has two or more sources and
//     strictly more than every rival is a resolved conflict;
//   - several candidates with no such winner are inconclusive.
//
// Non-exclusive rules (majority) treat each record as an independent
// value judged on its own support: verified with two or more sources,
// no corroboration otherwise.
func applyCorroboration(records []core.ConsolidatedRecord, exclusive bool) {
	if len(records) == 0 {
		return
	}

	if !exclusive || len(records) == 1 {
		for i := range records {
			sources := len(records[i].Provenance.Sources())
			outcome := core.OutcomeNoCorroboration
			if sources >= 2 {
				outcome = core.OutcomeVerified
			}
			records[i].Corroboration = &core.Corroboration{
				IndependentSources: sources,
				Outcome:            outcome,
			}
		}
		return
	}

	winner := len(records[0].Provenance.Sources())
	runnerUp := len(records[1].Provenance.Sources())
	resolved := winner >= 2 && winner > runnerUp

	for i := range records {
		sources := len(records[i].Provenance.Sources())
		outcome := core.OutcomeConflictInconclusive
		if resolved && i == 0 {
			outcome = core.OutcomeConflictResolved
		}
		records[i].Corroboration = &core.Corroboration{
			IndependentSources: sources,
			Outcome:            outcome,
		}
	}
}
