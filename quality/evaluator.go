// ABOUTME: Deterministic quality scorer over a fixed weighted rubric of seven criteria.
// ABOUTME: Same content and weights always yield the same score; feedback feeds the refine phase.

package quality

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
)

// Criterion names for the fixed rubric.
const (
	CriterionClarity      = "clarity"
	CriterionAccuracy     = "accuracy"
	CriterionCompleteness = "completeness"
	CriterionRelevance    = "relevance"
	CriterionStructure    = "structure"
	CriterionReadability  = "readability"
	CriterionEngagement   = "engagement"
)

// DefaultThreshold is the overall score (0-100) required to pass unless the
// task overrides it.
const DefaultThreshold = 80.0

// DefaultFeedbackFloor is the per-criterion score (0-10) below which feedback
// is generated for the refine phase.
const DefaultFeedbackFloor = 7.0

// Weights maps criterion name to its relative weight. Evaluate normalizes
// weights, so they need not sum to one.
type Weights map[string]float64

// DefaultWeights returns the standard rubric weighting.
func DefaultWeights() Weights {
	return Weights{
		CriterionClarity:      0.20,
		CriterionAccuracy:     0.15,
		CriterionCompleteness: 0.15,
		CriterionRelevance:    0.15,
		CriterionStructure:    0.15,
		CriterionReadability:  0.10,
		CriterionEngagement:   0.10,
	}
}

// CriterionScore is one criterion's score with its weight and any feedback.
type CriterionScore struct {
	Criterion string  `json:"criterion"`
	Score     float64 `json:"score"`  // 0-10
	Weight    float64 `json:"weight"` // normalized
	Feedback  string  `json:"feedback,omitempty"`
}

// Assessment is the result of scoring one piece of content. Assessments are
// immutable once produced; a re-assessment is a new record.
type Assessment struct {
	Scores    []CriterionScore `json:"scores"`
	Overall   float64          `json:"overall"` // 0-100
	Threshold float64          `json:"threshold"`
	Pass      bool             `json:"pass"`
}

// Feedback returns the feedback lines for criteria that scored below the
// feedback floor, in rubric order.
func (a *Assessment) Feedback() []string {
	var out []string
	for _, s := range a.Scores {
		if s.Feedback != "" {
			out = append(out, fmt.Sprintf("%s: %s", s.Criterion, s.Feedback))
		}
	}
	return out
}

// Input carries the content under evaluation together with the request
// context the rubric needs (topic for relevance, target length for
// completeness).
type Input struct {
	Content     string
	Topic       string
	TargetWords int
}

// Evaluator scores content against the weighted rubric. The zero value is not
// usable; construct with NewEvaluator.
type Evaluator struct {
	weights       Weights
	feedbackFloor float64
}

// NewEvaluator creates an evaluator with the given weights. Nil weights use
// the default rubric.
func NewEvaluator(weights Weights) *Evaluator {
	if weights == nil {
		weights = DefaultWeights()
	}
	return &Evaluator{
		weights:       weights,
		feedbackFloor: DefaultFeedbackFloor,
	}
}

// Evaluate scores the input and returns a fresh Assessment. It is pure: no
// side effects, and identical input always produces an identical result.
func (e *Evaluator) Evaluate(in Input, threshold float64) Assessment {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}

	features := extractFeatures(in)

	raw := map[string]float64{
		CriterionClarity:      scoreClarity(features),
		CriterionAccuracy:     scoreAccuracy(features),
		CriterionCompleteness: scoreCompleteness(features, in.TargetWords),
		CriterionRelevance:    scoreRelevance(features),
		CriterionStructure:    scoreStructure(features),
		CriterionReadability:  scoreReadability(features),
		CriterionEngagement:   scoreEngagement(features),
	}

	// Normalize weights over the criteria actually present in the rubric.
	// Summed in sorted order: float addition is order-sensitive and the
	// score must be bit-identical across calls.
	names := make([]string, 0, len(raw))
	for name := range raw {
		names = append(names, name)
	}
	sort.Strings(names)
	var totalWeight float64
	for _, name := range names {
		totalWeight += e.weights[name]
	}
	if totalWeight == 0 {
		totalWeight = 1
	}

	var overall float64
	scores := make([]CriterionScore, 0, len(names))
	for _, name := range names {
		w := e.weights[name] / totalWeight
		s := raw[name]
		cs := CriterionScore{Criterion: name, Score: s, Weight: w}
		if s < e.feedbackFloor {
			cs.Feedback = feedbackFor(name, s)
		}
		overall += w * s
		scores = append(scores, cs)
	}
	overall *= 10 // weighted mean of 0-10 scores, scaled to 0-100

	return Assessment{
		Scores:    scores,
		Overall:   overall,
		Threshold: threshold,
		Pass:      overall >= threshold,
	}
}

// contentFeatures are the deterministic counts the criterion scorers consume.
type contentFeatures struct {
	words           int
	sentences       int
	avgSentenceLen  float64
	avgWordLen      float64
	headings        int
	paragraphs      int
	bulletLines     int
	questions       int
	numerals        int
	vaguePhrases    int
	topicMentions   int
	directAddresses int
}

var numeralRe = regexp.MustCompile(`\d+`)

// vagueMarkers are filler phrases that signal low-content prose.
var vagueMarkers = []string{
	"a lot", "many people", "some think", "hard to say",
	"time will tell", "generally", "it seems",
}

func extractFeatures(in Input) contentFeatures {
	content := in.Content
	lower := strings.ToLower(content)

	var f contentFeatures

	fields := strings.Fields(content)
	f.words = len(fields)
	var wordChars int
	for _, w := range fields {
		wordChars += len(strings.Trim(w, ".,!?;:\"'()#*-"))
	}
	if f.words > 0 {
		f.avgWordLen = float64(wordChars) / float64(f.words)
	}

	f.sentences = strings.Count(content, ".") + strings.Count(content, "!") + strings.Count(content, "?")
	if f.sentences > 0 {
		f.avgSentenceLen = float64(f.words) / float64(f.sentences)
	}

	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "#") {
			f.headings++
		}
		if strings.HasPrefix(trimmed, "- ") || strings.HasPrefix(trimmed, "* ") {
			f.bulletLines++
		}
	}

	for _, block := range strings.Split(content, "\n\n") {
		if strings.TrimSpace(block) != "" {
			f.paragraphs++
		}
	}

	f.questions = strings.Count(content, "?")
	f.numerals = len(numeralRe.FindAllString(content, -1))

	for _, marker := range vagueMarkers {
		f.vaguePhrases += strings.Count(lower, marker)
	}

	topic := strings.ToLower(strings.TrimSpace(in.Topic))
	if topic != "" {
		f.topicMentions = strings.Count(lower, topic)
		if f.topicMentions == 0 {
			// Fall back to significant topic words when the full phrase
			// never appears verbatim.
			var hits, terms int
			for _, term := range strings.Fields(topic) {
				if len(term) < 4 {
					continue
				}
				terms++
				hits += strings.Count(lower, term)
			}
			if terms > 0 {
				f.topicMentions = hits / terms
			}
		}
	}

	f.directAddresses = strings.Count(lower, " you ") + strings.Count(lower, "your ")

	return f
}

func clampScore(s float64) float64 {
	if s < 0 {
		return 0
	}
	if s > 10 {
		return 10
	}
	return s
}

func scoreClarity(f contentFeatures) float64 {
	s := 10.0 - 1.5*float64(f.vaguePhrases)
	if f.avgSentenceLen > 24 {
		s -= (f.avgSentenceLen - 24) / 2
	} else if f.sentences > 0 && f.avgSentenceLen < 8 {
		s -= 8 - f.avgSentenceLen
	}
	return clampScore(s)
}

func scoreAccuracy(f contentFeatures) float64 {
	// Concrete figures are the best deterministic proxy for grounded prose.
	return clampScore(3 + 1.75*float64(f.numerals))
}

func scoreCompleteness(f contentFeatures, targetWords int) float64 {
	if targetWords <= 0 {
		targetWords = 800
	}
	ratio := float64(f.words) / float64(targetWords)
	if ratio > 2 {
		// Wildly overshooting the target is its own failure.
		return clampScore(10 - 2*(ratio-2))
	}
	return clampScore(10 * ratio / 0.7)
}

func scoreRelevance(f contentFeatures) float64 {
	return clampScore(2 * float64(f.topicMentions))
}

func scoreStructure(f contentFeatures) float64 {
	s := 3*float64(f.headings) + float64(min(f.paragraphs, 4))
	if f.bulletLines > 0 {
		s += 1
	}
	return clampScore(s)
}

func scoreReadability(f contentFeatures) float64 {
	if f.avgWordLen <= 5 {
		return 10
	}
	return clampScore(10 * (8 - f.avgWordLen) / 3)
}

func scoreEngagement(f contentFeatures) float64 {
	features := f.questions + f.directAddresses
	if f.bulletLines > 0 {
		features++
	}
	return clampScore(3 * float64(features))
}

// feedbackFor produces the correction instruction for a criterion that
// scored below the floor. These lines are consumed verbatim by the refine
// phase prompt.
func feedbackFor(criterion string, score float64) string {
	switch criterion {
	case CriterionClarity:
		return "replace vague filler with direct statements and keep sentences between 8 and 24 words"
	case CriterionAccuracy:
		return "ground claims in concrete figures, dates, and quantities"
	case CriterionCompleteness:
		return "expand coverage toward the requested length; the piece underdelivers on its target"
	case CriterionRelevance:
		return "tie every section explicitly back to the topic"
	case CriterionStructure:
		return "add section headings and break the piece into scannable units"
	case CriterionReadability:
		return "prefer shorter, plainer words"
	case CriterionEngagement:
		return "open with a question or direct address and use lists where they help"
	default:
		return fmt.Sprintf("improve %s (scored %.1f)", criterion, score)
	}
}
