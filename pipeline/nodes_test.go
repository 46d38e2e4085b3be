// ABOUTME: Tests for the phase nodes using a scripted invoker and the real evaluator.
// ABOUTME: Covers prompt composition, best-attempt tracking, and the needs-review finalize path.

package pipeline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/2389-research/wordmill/quality"
)

type scriptedInvoker struct {
	replies map[Phase]string
	calls   []Call
	err     error
}

func (f *scriptedInvoker) Invoke(_ context.Context, call Call) (*Invocation, error) {
	f.calls = append(f.calls, call)
	if f.err != nil {
		return nil, f.err
	}
	return &Invocation{Text: f.replies[call.Phase], Model: "scripted", Cost: 0.01}, nil
}

func newTestNodes(inv Invoker) *Nodes {
	return NewNodes(Deps{Invoker: inv, Evaluator: quality.NewEvaluator(nil)})
}

func baseState() State {
	return NewState("task-1", Request{
		Topic:       "renewable energy trends",
		Constraints: Constraints{TargetWords: 200},
	}, nil, time.Now())
}

func TestResearchThroughDraftAccumulateContentAndCost(t *testing.T) {
	inv := &scriptedInvoker{replies: map[Phase]string{
		PhaseResearch: "- fact one\n- fact two",
		PhaseOutline:  "1. Intro\n2. Body",
		PhaseDraft:    "The draft body.",
	}}
	n := newTestNodes(inv)
	s := baseState()

	var err error
	for _, phase := range []Phase{PhaseResearch, PhaseOutline, PhaseDraft} {
		s, err = n.Run(context.Background(), phase, s)
		if err != nil {
			t.Fatalf("%s: %v", phase, err)
		}
		if s.Phase != phase {
			t.Errorf("phase marker = %q after %s", s.Phase, phase)
		}
	}

	if s.Research == "" || s.Outline == "" || s.Draft == "" {
		t.Errorf("content missing: %+v", s)
	}
	if s.Invocations != 3 {
		t.Errorf("invocations = %d, want 3", s.Invocations)
	}
	if s.CostSoFar < 0.029 || s.CostSoFar > 0.031 {
		t.Errorf("cost = %f, want ~0.03", s.CostSoFar)
	}

	// Downstream prompts must carry upstream output.
	if !strings.Contains(inv.calls[1].Prompt, "fact one") {
		t.Error("outline prompt missing research notes")
	}
	if !strings.Contains(inv.calls[2].Prompt, "1. Intro") {
		t.Error("draft prompt missing outline")
	}
	for _, c := range inv.calls {
		if !strings.Contains(c.Prompt, "Topic: renewable energy trends") {
			t.Errorf("%s prompt missing topic line", c.Phase)
		}
	}
}

func TestAssessTracksBestAttempt(t *testing.T) {
	n := newTestNodes(&scriptedInvoker{})
	s := baseState()
	s.Draft = "Short vague text. It is a lot of things, generally."

	s, err := n.Run(context.Background(), PhaseAssess, s)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if s.Assessment == nil {
		t.Fatal("no assessment recorded")
	}
	firstScore := s.BestScore
	if s.BestDraft != s.Draft {
		t.Error("best draft not captured on first assessment")
	}

	// A stronger draft must displace the best attempt.
	s.Draft = "# Renewable energy trends\n\nGrowth ran near 12% yearly since 2015, and investment passed 500 billion dollars in 2025. What comes next for renewable energy trends?\n\n- 12% growth\n- 500 billion invested\n\nThe direction for renewable energy trends is clear through 2030."
	s, err = n.Run(context.Background(), PhaseAssess, s)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	if s.BestScore <= firstScore {
		t.Errorf("best score did not improve: %.1f -> %.1f", firstScore, s.BestScore)
	}
	if s.BestDraft == "Short vague text. It is a lot of things, generally." {
		t.Error("best draft not replaced by stronger attempt")
	}
}

func TestRefinePromptCarriesFeedbackAndDraft(t *testing.T) {
	inv := &scriptedInvoker{replies: map[Phase]string{PhaseRefine: "rewritten draft"}}
	n := newTestNodes(inv)
	s := baseState()
	s.Draft = "It is a lot of things, generally. Many people think so."

	var err error
	s, err = n.Run(context.Background(), PhaseAssess, s)
	if err != nil {
		t.Fatalf("assess: %v", err)
	}
	s, err = n.Run(context.Background(), PhaseRefine, s)
	if err != nil {
		t.Fatalf("refine: %v", err)
	}

	prompt := inv.calls[0].Prompt
	if !strings.Contains(prompt, "Feedback:") {
		t.Error("refine prompt missing feedback section")
	}
	if !strings.Contains(prompt, "Many people think so.") {
		t.Error("refine prompt missing current draft")
	}
	if s.Draft != "rewritten draft" {
		t.Errorf("draft not replaced: %q", s.Draft)
	}
	if s.Refinements != 1 {
		t.Errorf("refinement count = %d, want 1", s.Refinements)
	}
}

func TestFinalizeUsesBestAttemptAndFlagsReview(t *testing.T) {
	n := newTestNodes(&scriptedInvoker{})
	s := baseState()
	s.Draft = "weak final attempt"
	s.BestDraft = "stronger earlier attempt"
	s.BestScore = 55
	s.Assessment = &quality.Assessment{Overall: 40, Pass: false}

	s, err := n.Run(context.Background(), PhaseFinalize, s)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if !s.NeedsReview {
		t.Error("exhausted refinement did not set needs_review")
	}
	if !strings.Contains(s.Content, "stronger earlier attempt") {
		t.Errorf("final content ignored best attempt: %q", s.Content)
	}
	if !strings.HasPrefix(s.Content, "# Renewable energy trends") {
		t.Errorf("final content missing title: %q", s.Content)
	}
	if s.WordCount == 0 || s.ReadingTime == 0 {
		t.Errorf("word count %d / reading time %d not computed", s.WordCount, s.ReadingTime)
	}
}

func TestFinalizeWordCountSkipsMarkdownMarkers(t *testing.T) {
	n := newTestNodes(&scriptedInvoker{})
	s := baseState()
	s.Draft = "# Renewable energy trends\n\nOne two three.\n\n- four five\n- six\n"
	s.BestDraft = s.Draft
	s.Assessment = &quality.Assessment{Overall: 90, Pass: true}

	s, err := n.Run(context.Background(), PhaseFinalize, s)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	// Heading and bullet markers are structure, not prose.
	if s.WordCount != 9 {
		t.Errorf("word count = %d, want 9", s.WordCount)
	}
	if s.ReadingTime != 1 {
		t.Errorf("reading time = %d, want 1", s.ReadingTime)
	}
}

func TestFinalizeOnPassUsesCurrentDraft(t *testing.T) {
	n := newTestNodes(&scriptedInvoker{})
	s := baseState()
	s.Draft = "# Renewable energy trends\n\npassing draft"
	s.BestDraft = s.Draft
	s.Assessment = &quality.Assessment{Overall: 90, Pass: true}

	s, err := n.Run(context.Background(), PhaseFinalize, s)
	if err != nil {
		t.Fatalf("finalize: %v", err)
	}
	if s.NeedsReview {
		t.Error("passing task flagged for review")
	}
	if s.Content != s.Draft {
		t.Errorf("content = %q", s.Content)
	}
}

func TestNodeErrorPropagates(t *testing.T) {
	boom := errors.New("chain exhausted")
	n := newTestNodes(&scriptedInvoker{err: boom})
	s := baseState()

	if _, err := n.Run(context.Background(), PhaseResearch, s); !errors.Is(err, boom) {
		t.Errorf("error not propagated: %v", err)
	}
}
