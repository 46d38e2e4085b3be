// ABOUTME: Graph wiring: phase ordering and the single conditional edge after assess.
// ABOUTME: The refine loop is bounded by max iterations, so total invocations stay finite.

package pipeline

// ShouldRefine is the conditional edge after assess: refine iff the latest
// assessment failed and the refinement budget is not exhausted.
func ShouldRefine(s State) bool {
	if s.Assessment == nil {
		return false
	}
	return !s.Assessment.Pass && s.Refinements < s.Constraints.MaxRefinements()
}

// NextPhase returns the phase to execute after the state's current one. The
// second return is false once the graph is complete.
func NextPhase(s State) (Phase, bool) {
	switch s.Phase {
	case "":
		return PhaseResearch, true
	case PhaseResearch:
		return PhaseOutline, true
	case PhaseOutline:
		return PhaseDraft, true
	case PhaseDraft:
		return PhaseAssess, true
	case PhaseAssess:
		if ShouldRefine(s) {
			return PhaseRefine, true
		}
		return PhaseFinalize, true
	case PhaseRefine:
		return PhaseAssess, true
	case PhaseFinalize:
		return "", false
	default:
		return "", false
	}
}
