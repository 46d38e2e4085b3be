// ABOUTME: The six phase nodes of the generation graph, each a State -> State step that may fail.
// ABOUTME: Provider-backed nodes go through the Invoker; assess runs the evaluator; finalize assembles.

package pipeline

import (
	"context"
	"fmt"
	"strings"

	"github.com/2389-research/wordmill/provider"
	"github.com/2389-research/wordmill/quality"
	"github.com/2389-research/wordmill/render"
)

// Call is one provider-backed generation request issued by a node.
type Call struct {
	TaskID    string
	Phase     Phase
	Chain     []string // ordered provider fallback chain for this phase
	System    string
	Prompt    string
	MaxTokens int
}

// Invocation is the successful result of a Call, with the cost actually
// billed for it.
type Invocation struct {
	Text  string
	Model string
	Usage provider.Usage
	Cost  float64
}

// Invoker dispatches a Call to whichever provider chain serves the phase.
type Invoker interface {
	Invoke(ctx context.Context, call Call) (*Invocation, error)
}

// Evaluator scores content; satisfied by *quality.Evaluator.
type Evaluator interface {
	Evaluate(in quality.Input, threshold float64) quality.Assessment
}

// Renderer converts finalized markdown to HTML.
type Renderer interface {
	Render(markdown string) (string, error)
}

// Deps are the collaborators the nodes call out to.
type Deps struct {
	Invoker   Invoker
	Evaluator Evaluator
	Renderer  Renderer
}

// Nodes executes individual phases against a State.
type Nodes struct {
	deps Deps
}

func NewNodes(deps Deps) *Nodes {
	return &Nodes{deps: deps}
}

// Run executes one phase. On success the returned state has Phase set to the
// phase just completed and the invocation counter advanced.
func (n *Nodes) Run(ctx context.Context, phase Phase, s State) (State, error) {
	var err error
	switch phase {
	case PhaseResearch:
		s, err = n.research(ctx, s)
	case PhaseOutline:
		s, err = n.outline(ctx, s)
	case PhaseDraft:
		s, err = n.draft(ctx, s)
	case PhaseAssess:
		s, err = n.assess(s)
	case PhaseRefine:
		s, err = n.refine(ctx, s)
	case PhaseFinalize:
		s, err = n.finalize(s)
	default:
		return s, fmt.Errorf("unknown phase %q", phase)
	}
	if err != nil {
		return s, err
	}
	s.Phase = phase
	s.Invocations++
	return s, nil
}

const systemPrompt = "You are a long-form content writer. Follow the stated constraints exactly and respond with the content only."

func (n *Nodes) invoke(ctx context.Context, s State, phase Phase, prompt string, maxTokens int) (*Invocation, error) {
	return n.deps.Invoker.Invoke(ctx, Call{
		TaskID:    s.TaskID,
		Phase:     phase,
		Chain:     s.Selection[phase],
		System:    systemPrompt,
		Prompt:    prompt,
		MaxTokens: maxTokens,
	})
}

func (s *State) promptHeader() string {
	var b strings.Builder
	fmt.Fprintf(&b, "Topic: %s\n", s.Topic)
	if s.Constraints.Style != "" {
		fmt.Fprintf(&b, "Style: %s\n", s.Constraints.Style)
	}
	if s.Constraints.Tone != "" {
		fmt.Fprintf(&b, "Tone: %s\n", s.Constraints.Tone)
	}
	fmt.Fprintf(&b, "Target length: %d words\n", s.Constraints.TargetWords)
	return b.String()
}

func (n *Nodes) research(ctx context.Context, s State) (State, error) {
	prompt := s.promptHeader() + "\nGather research notes for this topic: key facts, figures, and the main angles worth covering. Bullet points."
	inv, err := n.invoke(ctx, s, PhaseResearch, prompt, 1024)
	if err != nil {
		return s, err
	}
	s.Research = inv.Text
	s.CostSoFar += inv.Cost
	return s, nil
}

func (n *Nodes) outline(ctx context.Context, s State) (State, error) {
	prompt := s.promptHeader() + "\nResearch notes:\n" + s.Research +
		"\nProduce a numbered outline of sections for the piece."
	inv, err := n.invoke(ctx, s, PhaseOutline, prompt, 1024)
	if err != nil {
		return s, err
	}
	s.Outline = inv.Text
	s.CostSoFar += inv.Cost
	return s, nil
}

func (n *Nodes) draft(ctx context.Context, s State) (State, error) {
	prompt := s.promptHeader() + "\nOutline:\n" + s.Outline +
		"\nResearch notes:\n" + s.Research +
		"\nWrite the full draft following the outline."
	inv, err := n.invoke(ctx, s, PhaseDraft, prompt, s.Constraints.TargetWords*2)
	if err != nil {
		return s, err
	}
	s.Draft = inv.Text
	s.CostSoFar += inv.Cost
	return s, nil
}

// assess scores the current draft. It never invokes a provider, so it is
// free and cannot fail a fallback chain.
func (n *Nodes) assess(s State) (State, error) {
	a := n.deps.Evaluator.Evaluate(quality.Input{
		Content:     s.Draft,
		Topic:       s.Topic,
		TargetWords: s.Constraints.TargetWords,
	}, s.Constraints.QualityThreshold)
	s.Assessment = &a
	if s.BestDraft == "" || a.Overall > s.BestScore {
		s.BestDraft = s.Draft
		s.BestScore = a.Overall
	}
	return s, nil
}

// refine rewrites the draft against the assessment's feedback. The feedback
// lines ride in the prompt so the correction is targeted, not a regeneration.
func (n *Nodes) refine(ctx context.Context, s State) (State, error) {
	var b strings.Builder
	b.WriteString(s.promptHeader())
	b.WriteString("\nCurrent draft:\n")
	b.WriteString(s.Draft)
	b.WriteString("\n\nFeedback:\n")
	if s.Assessment != nil {
		for _, line := range s.Assessment.Feedback() {
			fmt.Fprintf(&b, "- %s\n", line)
		}
	}
	b.WriteString("\nRewrite the draft, addressing every feedback item while keeping what already works.")

	inv, err := n.invoke(ctx, s, PhaseRefine, b.String(), s.Constraints.TargetWords*2)
	if err != nil {
		return s, err
	}
	s.Draft = inv.Text
	s.CostSoFar += inv.Cost
	s.Refinements++
	return s, nil
}

// finalize assembles the deliverable from the best material available. An
// exhausted refinement loop is not an error: the best-scoring attempt ships
// with a needs-review flag.
func (n *Nodes) finalize(s State) (State, error) {
	content := s.Draft
	if s.Assessment != nil && !s.Assessment.Pass {
		content = s.BestDraft
		s.NeedsReview = true
	}
	if content == "" {
		content = s.Draft
	}
	if !strings.HasPrefix(strings.TrimSpace(content), "#") {
		content = fmt.Sprintf("# %s\n\n%s", titleCase(s.Topic), content)
	}
	s.Content = content
	s.WordCount = render.WordCount(content)
	s.ReadingTime = render.ReadingTimeMinutes(s.WordCount)
	if n.deps.Renderer != nil {
		html, err := n.deps.Renderer.Render(content)
		if err != nil {
			return s, fmt.Errorf("render final content: %w", err)
		}
		s.HTML = html
	}
	return s, nil
}

func titleCase(topic string) string {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return "Untitled"
	}
	return strings.ToUpper(topic[:1]) + topic[1:]
}
