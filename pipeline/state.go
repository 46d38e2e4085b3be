// ABOUTME: Core pipeline types: phases, generation constraints, and the per-task PipelineState.
// ABOUTME: State is owned by exactly one executing task and is serializable at every phase boundary.

package pipeline

import (
	"fmt"
	"strings"
	"time"

	"github.com/2389-research/wordmill/quality"
)

// Phase is one named step in the generation graph.
type Phase string

const (
	PhaseResearch Phase = "research"
	PhaseOutline  Phase = "outline"
	PhaseDraft    Phase = "draft"
	PhaseAssess   Phase = "assess"
	PhaseRefine   Phase = "refine"
	PhaseFinalize Phase = "finalize"
)

// GenerativePhases are the phases served by a provider chain. Assess runs the
// evaluator locally and finalize only assembles, so neither needs a provider.
func GenerativePhases() []Phase {
	return []Phase{PhaseResearch, PhaseOutline, PhaseDraft, PhaseRefine}
}

// Defaults applied when a request leaves a constraint unset.
const (
	DefaultTargetWords   = 800
	DefaultMaxIterations = 2
)

// Constraints are the caller-supplied generation parameters. Zero values mean
// "use the default"; Normalize fills them in.
type Constraints struct {
	TargetWords       int                `json:"target_words,omitempty"`
	Style             string             `json:"style,omitempty"`
	Tone              string             `json:"tone,omitempty"`
	ProviderOverrides map[Phase][]string `json:"provider_overrides,omitempty"`
	QualityThreshold  float64            `json:"quality_threshold,omitempty"`
	MaxIterations     *int               `json:"max_iterations,omitempty"`
	BudgetUSD         float64            `json:"budget_usd,omitempty"`
}

// Normalize returns a copy with defaults filled in.
func (c Constraints) Normalize() Constraints {
	if c.TargetWords == 0 {
		c.TargetWords = DefaultTargetWords
	}
	if c.QualityThreshold == 0 {
		c.QualityThreshold = quality.DefaultThreshold
	}
	if c.MaxIterations == nil {
		n := DefaultMaxIterations
		c.MaxIterations = &n
	}
	return c
}

// MaxRefinements returns the refinement iteration bound after normalization.
func (c Constraints) MaxRefinements() int {
	if c.MaxIterations == nil {
		return DefaultMaxIterations
	}
	return *c.MaxIterations
}

// Request is a content-generation request as submitted by a caller.
type Request struct {
	Topic       string      `json:"topic"`
	Preset      string      `json:"preset,omitempty"`
	Constraints Constraints `json:"constraints"`
}

// ValidationError rejects a request synchronously, before any task exists.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Message)
}

// Validate rejects empty topics and contradictory constraints.
func Validate(req Request) error {
	if strings.TrimSpace(req.Topic) == "" {
		return &ValidationError{Field: "topic", Message: "must not be empty"}
	}
	c := req.Constraints
	if c.TargetWords < 0 {
		return &ValidationError{Field: "target_words", Message: "must not be negative"}
	}
	if c.QualityThreshold < 0 || c.QualityThreshold > 100 {
		return &ValidationError{Field: "quality_threshold", Message: "must be between 0 and 100"}
	}
	if c.MaxIterations != nil && *c.MaxIterations < 0 {
		return &ValidationError{Field: "max_iterations", Message: "must not be negative"}
	}
	if c.BudgetUSD < 0 {
		return &ValidationError{Field: "budget_usd", Message: "must not be negative"}
	}
	for phase, chain := range c.ProviderOverrides {
		switch phase {
		case PhaseResearch, PhaseOutline, PhaseDraft, PhaseRefine:
		default:
			return &ValidationError{Field: "provider_overrides", Message: fmt.Sprintf("phase %q does not take a provider chain", phase)}
		}
		if len(chain) == 0 {
			return &ValidationError{Field: "provider_overrides", Message: fmt.Sprintf("phase %q has an empty chain", phase)}
		}
	}
	return nil
}

// State is the single mutable record carried through one task's execution.
// It is never shared between tasks and never mutated concurrently; a snapshot
// taken between any two nodes is sufficient to resume from that point.
type State struct {
	TaskID      string      `json:"task_id"`
	Topic       string      `json:"topic"`
	Constraints Constraints `json:"constraints"`

	// Selection is the resolved phase -> provider chain mapping, frozen at
	// task start.
	Selection map[Phase][]string `json:"selection"`

	// Phase is the last node that completed, empty before research runs.
	Phase Phase `json:"phase,omitempty"`

	Research string `json:"research,omitempty"`
	Outline  string `json:"outline,omitempty"`
	Draft    string `json:"draft,omitempty"`

	Assessment *quality.Assessment `json:"assessment,omitempty"`

	// BestDraft and BestScore track the strongest assessed attempt so an
	// exhausted refinement loop can still finalize something.
	BestDraft string  `json:"best_draft,omitempty"`
	BestScore float64 `json:"best_score,omitempty"`

	Refinements int  `json:"refinement_count"`
	NeedsReview bool `json:"needs_review,omitempty"`

	// Final output, set by finalize.
	Content     string `json:"content,omitempty"`
	HTML        string `json:"html,omitempty"`
	WordCount   int    `json:"word_count,omitempty"`
	ReadingTime int    `json:"reading_time_minutes,omitempty"`

	Invocations int     `json:"invocations"`
	CostSoFar   float64 `json:"cost_so_far"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewState builds the initial state for a validated request.
func NewState(taskID string, req Request, selection map[Phase][]string, now time.Time) State {
	return State{
		TaskID:      taskID,
		Topic:       strings.TrimSpace(req.Topic),
		Constraints: req.Constraints.Normalize(),
		Selection:   selection,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// QualityScore returns the latest overall score, or nil before any
// assessment.
func (s *State) QualityScore() *float64 {
	if s.Assessment == nil {
		return nil
	}
	v := s.Assessment.Overall
	return &v
}
