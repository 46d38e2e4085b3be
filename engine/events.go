// ABOUTME: Stream event shapes: one phase event per node boundary and exactly one terminal event per task.
// ABOUTME: Events are observational; execution never waits on a consumer.

package engine

import (
	"time"

	"github.com/2389-research/wordmill/pipeline"
	"github.com/2389-research/wordmill/store"
)

// EventType distinguishes phase-boundary events from the terminal event.
type EventType string

const (
	EventPhase    EventType = "phase"
	EventTerminal EventType = "terminal"
)

// previewLen bounds the content preview carried on phase events.
const previewLen = 140

// Result is the finalized payload carried on a completed task's terminal
// event and on its polled record.
type Result struct {
	Content      string   `json:"content"`
	HTML         string   `json:"html,omitempty"`
	WordCount    int      `json:"word_count"`
	ReadingTime  int      `json:"reading_time_minutes"`
	QualityScore *float64 `json:"quality_score,omitempty"`
	Refinements  int      `json:"refinement_count"`
	NeedsReview  bool     `json:"needs_review,omitempty"`
	CostUSD      float64  `json:"cost_usd"`
}

// Event is one entry on a task's stream. Seq is strictly increasing per
// task, so consumers can detect gaps after a reconnect.
type Event struct {
	Type         EventType      `json:"type"`
	TaskID       string         `json:"task_id"`
	Seq          int            `json:"seq"`
	Phase        pipeline.Phase `json:"phase,omitempty"`
	Status       store.Status   `json:"status"`
	Progress     float64        `json:"progress"`
	QualityScore *float64       `json:"quality_score,omitempty"`
	CostSoFar    float64        `json:"cost_so_far"`
	Preview      string         `json:"content_preview,omitempty"`
	Result       *Result        `json:"result,omitempty"`
	Error        string         `json:"error,omitempty"`
	Timestamp    time.Time      `json:"timestamp"`
}

// Terminal reports whether this event ends the stream.
func (e Event) Terminal() bool { return e.Type == EventTerminal }

func preview(text string) string {
	if len(text) <= previewLen {
		return text
	}
	return text[:previewLen] + "..."
}

// resultFromState assembles the terminal result payload for a finished task.
func resultFromState(s pipeline.State) *Result {
	return &Result{
		Content:      s.Content,
		HTML:         s.HTML,
		WordCount:    s.WordCount,
		ReadingTime:  s.ReadingTime,
		QualityScore: s.QualityScore(),
		Refinements:  s.Refinements,
		NeedsReview:  s.NeedsReview,
		CostUSD:      s.CostSoFar,
	}
}
