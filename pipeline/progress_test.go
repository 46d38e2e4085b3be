// ABOUTME: Tests for the progress fraction.
// ABOUTME: Checks monotonicity across a refinement run and that 1.0 is exclusive to finalize.

package pipeline

import (
	"testing"

	"github.com/2389-research/wordmill/quality"
)

func TestProgressMonotoneAndBounded(t *testing.T) {
	n := 2
	s := State{Constraints: Constraints{MaxIterations: &n}.Normalize()}

	prev := Progress(s)
	if prev < 0 || prev >= 1 {
		t.Fatalf("initial progress %.3f out of range", prev)
	}

	// Worst-case walk: fail every assessment until the loop exhausts.
	for {
		phase, ok := NextPhase(s)
		if !ok {
			break
		}
		s.Phase = phase
		s.Invocations++
		switch phase {
		case PhaseAssess:
			s.Assessment = &quality.Assessment{Pass: false}
		case PhaseRefine:
			s.Refinements++
		}
		p := Progress(s)
		if p < prev {
			t.Errorf("progress regressed at %s: %.3f -> %.3f", phase, prev, p)
		}
		if phase != PhaseFinalize && p >= 1 {
			t.Errorf("progress hit %.3f at %s before finalize", p, phase)
		}
		prev = p
	}
	if prev != 1.0 {
		t.Errorf("terminal progress %.3f, want 1.0", prev)
	}
}

func TestProgressReflectsRefinementDepth(t *testing.T) {
	// A task in its second refinement must read further along than the same
	// position in its first, because less worst-case work remains.
	n := 2
	first := State{
		Phase:       PhaseRefine,
		Constraints: Constraints{MaxIterations: &n}.Normalize(),
		Invocations: 5,
		Refinements: 1,
	}
	second := first
	second.Invocations = 7
	second.Refinements = 2

	if Progress(second) <= Progress(first) {
		t.Errorf("second iteration progress %.3f not beyond first %.3f",
			Progress(second), Progress(first))
	}
}

func TestProgressPassedAssessmentNearsCompletion(t *testing.T) {
	n := 2
	s := State{
		Phase:       PhaseAssess,
		Constraints: Constraints{MaxIterations: &n}.Normalize(),
		Invocations: 4,
		Assessment:  &quality.Assessment{Pass: true, Overall: 90},
	}
	// Only finalize remains: 4 done of 5.
	if got := Progress(s); got != 0.8 {
		t.Errorf("progress after passing assess = %.3f, want 0.8", got)
	}
}

func TestStreamProgressStaysBelowOneAfterFinalize(t *testing.T) {
	n := 1
	s := State{
		Phase:       PhaseFinalize,
		Constraints: Constraints{MaxIterations: &n}.Normalize(),
		Invocations: 7,
		Refinements: 1,
	}

	// The record itself is done, but the finalize phase event still has the
	// terminal notification ahead of it.
	if got := Progress(s); got != 1.0 {
		t.Errorf("record progress after finalize = %.3f, want 1.0", got)
	}
	if got := StreamProgress(s); got >= 1.0 {
		t.Errorf("finalize phase event progress = %.3f, want < 1.0", got)
	}
	if got := StreamProgress(s); got != 7.0/8.0 {
		t.Errorf("finalize phase event progress = %.3f, want %.3f", got, 7.0/8.0)
	}

	// Before finalize the two fractions agree.
	s.Phase = PhaseAssess
	s.Invocations = 6
	s.Assessment = &quality.Assessment{Pass: true, Overall: 90}
	if StreamProgress(s) != Progress(s) {
		t.Error("stream progress diverged from record progress before finalize")
	}
}
