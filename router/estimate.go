// ABOUTME: Pure, side-effect-free task cost estimation over a selection and the model catalog.
// ABOUTME: Never touches a provider client; same inputs always produce the identical breakdown.

package router

import (
	"fmt"

	"github.com/2389-research/wordmill/pipeline"
	"github.com/2389-research/wordmill/provider"
)

// PhaseEstimate is the projected cost of one phase on its primary provider.
type PhaseEstimate struct {
	Phase        pipeline.Phase `json:"phase"`
	Model        string         `json:"model,omitempty"`
	InputTokens  int            `json:"input_tokens"`
	OutputTokens int            `json:"output_tokens"`
	CostUSD      float64        `json:"cost_usd"`
}

// Estimate is a deterministic per-phase and total cost breakdown for one
// prospective task, worst case: every refinement iteration gets used.
type Estimate struct {
	Phases   []PhaseEstimate `json:"phases"`
	TotalUSD float64         `json:"total_usd"`
}

// tokensPerWord is the heuristic conversion used throughout estimation.
const tokensPerWord = 4.0 / 3.0

// phaseTokens returns the deterministic token heuristic for one phase given
// the target word count. Assess and finalize never invoke a provider, so
// they cost zero tokens.
func phaseTokens(phase pipeline.Phase, targetWords int) (in, out int) {
	target := int(float64(targetWords) * tokensPerWord)
	switch phase {
	case pipeline.PhaseResearch:
		return 200, target / 2
	case pipeline.PhaseOutline:
		return 200 + target/2, target / 4
	case pipeline.PhaseDraft:
		return 200 + target/2 + target/4, target
	case pipeline.PhaseRefine:
		// Refine reads the whole draft plus feedback and rewrites it.
		return 300 + target, target
	default:
		return 0, 0
	}
}

// EstimateTask computes the worst-case cost breakdown for a task: the four
// generative phases on their primary (first-in-chain) model, the refine
// phase counted once per permitted iteration, and zero-cost entries for
// assess and finalize. Pure: same arguments yield byte-identical output.
func EstimateTask(catalog *provider.Catalog, sel Selection, targetWords, maxIterations int) (*Estimate, error) {
	if targetWords <= 0 {
		targetWords = pipeline.DefaultTargetWords
	}
	if maxIterations < 0 {
		maxIterations = 0
	}

	est := &Estimate{}
	add := func(phase pipeline.Phase, repeat int) error {
		in, out := phaseTokens(phase, targetWords)
		pe := PhaseEstimate{Phase: phase, InputTokens: in * repeat, OutputTokens: out * repeat}
		if in+out > 0 {
			chain := sel[phase]
			if len(chain) == 0 {
				return fmt.Errorf("no provider chain for phase %s", phase)
			}
			info := catalog.GetModelInfo(chain[0])
			if info == nil {
				return fmt.Errorf("unknown model %q in chain for phase %s", chain[0], phase)
			}
			pe.Model = info.ID
			pe.CostUSD = info.Pricing().Cost(provider.Usage{
				InputTokens:  pe.InputTokens,
				OutputTokens: pe.OutputTokens,
			})
		}
		if repeat > 0 {
			est.Phases = append(est.Phases, pe)
			est.TotalUSD += pe.CostUSD
		}
		return nil
	}

	if err := add(pipeline.PhaseResearch, 1); err != nil {
		return nil, err
	}
	if err := add(pipeline.PhaseOutline, 1); err != nil {
		return nil, err
	}
	if err := add(pipeline.PhaseDraft, 1); err != nil {
		return nil, err
	}
	if err := add(pipeline.PhaseAssess, 1); err != nil {
		return nil, err
	}
	if maxIterations > 0 {
		if err := add(pipeline.PhaseRefine, maxIterations); err != nil {
			return nil, err
		}
	}
	if err := add(pipeline.PhaseFinalize, 1); err != nil {
		return nil, err
	}
	return est, nil
}
