// ABOUTME: Progress fraction accounting that stays monotone under refinement loops.
// ABOUTME: Computed as work done over done plus worst-case remaining, so it never hits 1.0 early.

package pipeline

// Progress returns the task's progress fraction in [0, 1]. It divides nodes
// completed by completed-plus-worst-case-remaining, so a second refinement
// iteration reads as further along than node position alone implies, and 1.0
// is reached only once finalize has run.
func Progress(s State) float64 {
	remaining := worstCaseRemaining(s)
	if remaining == 0 {
		return 1.0
	}
	done := float64(s.Invocations)
	return done / (done + float64(remaining))
}

// StreamProgress returns the fraction reported on live phase events. The
// pending terminal notification counts as one remaining unit of work, so
// phase events stay strictly below 1.0 even after finalize; only the
// terminal event itself reports 1.0.
func StreamProgress(s State) float64 {
	if worstCaseRemaining(s) == 0 {
		done := float64(s.Invocations)
		return done / (done + 1)
	}
	return Progress(s)
}

// worstCaseRemaining counts the nodes still ahead assuming every remaining
// refinement iteration gets used.
func worstCaseRemaining(s State) int {
	loops := s.Constraints.MaxRefinements() - s.Refinements
	if loops < 0 {
		loops = 0
	}
	switch s.Phase {
	case "":
		return 5 + 2*loops
	case PhaseResearch:
		return 4 + 2*loops
	case PhaseOutline:
		return 3 + 2*loops
	case PhaseDraft:
		return 2 + 2*loops
	case PhaseAssess:
		if ShouldRefine(s) {
			return 1 + 2*loops
		}
		return 1
	case PhaseRefine:
		return 2 + 2*loops
	case PhaseFinalize:
		return 0
	default:
		return 1
	}
}
