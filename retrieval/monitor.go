package retrieval

// SelectionMonitor provides hooks to observe the selection process.
// Implement this interface to track intermediate steps and results
// during evidence selection.
type SelectionMonitor interface {
	Start(person, purpose string)
	AfterRanking(ranked []Scored)
	CapRelaxed(newCap int, selected int)
	Finish(selected []Scored)
}

// noopMonitor is a no-op implementation of SelectionMonitor
type noopMonitor struct{}

var _ SelectionMonitor = (*noopMonitor)(nil)

func (n *noopMonitor) Start(_, _ string)         {}
func (n *noopMonitor) AfterRanking(_ []Scored)   {}
func (n *noopMonitor) CapRelaxed(_ int, _ int)   {}
func (n *noopMonitor) Finish(_ []Scored)         {}
