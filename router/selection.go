// ABOUTME: Named presets and selection resolution: phase -> ordered provider fallback chain.
// ABOUTME: Explicit per-phase overrides always take priority over the preset-derived chain.

package router

import (
	"fmt"
	"sort"

	"github.com/2389-research/wordmill/pipeline"
)

// Selection maps each generative phase to its ordered fallback chain of
// model IDs. Immutable once a task starts.
type Selection map[pipeline.Phase][]string

// Built-in preset names.
const (
	PresetFast     = "fast"
	PresetBalanced = "balanced"
	PresetQuality  = "quality"
)

// DefaultPreset is used when a request names no preset.
const DefaultPreset = PresetBalanced

func builtinPresets() map[string]Selection {
	return map[string]Selection{
		// fast: everything on the free-local tier, never leaves the box.
		PresetFast: {
			pipeline.PhaseResearch: {"wordmill-local"},
			pipeline.PhaseOutline:  {"wordmill-local"},
			pipeline.PhaseDraft:    {"wordmill-local"},
			pipeline.PhaseRefine:   {"wordmill-local"},
		},
		// balanced: low-cost models with a free fallback.
		PresetBalanced: {
			pipeline.PhaseResearch: {"gpt-5.2-mini", "wordmill-local"},
			pipeline.PhaseOutline:  {"gpt-5.2-mini", "wordmill-local"},
			pipeline.PhaseDraft:    {"gpt-5.2-mini", "wordmill-local"},
			pipeline.PhaseRefine:   {"gpt-5.2-mini", "wordmill-local"},
		},
		// quality: premium models for the prose phases, low-cost for prep.
		PresetQuality: {
			pipeline.PhaseResearch: {"gpt-5.2-mini", "wordmill-local"},
			pipeline.PhaseOutline:  {"gpt-5.2-mini", "wordmill-local"},
			pipeline.PhaseDraft:    {"claude-sonnet-4-5", "gpt-5.2", "gpt-5.2-mini", "wordmill-local"},
			pipeline.PhaseRefine:   {"claude-sonnet-4-5", "gpt-5.2", "gpt-5.2-mini", "wordmill-local"},
		},
	}
}

// PresetLibrary holds named selections: the built-ins plus any loaded from a
// preset file.
type PresetLibrary struct {
	presets map[string]Selection
}

// NewPresetLibrary returns a library seeded with the built-in presets.
func NewPresetLibrary() *PresetLibrary {
	return &PresetLibrary{presets: builtinPresets()}
}

// Names lists the available preset names, sorted.
func (l *PresetLibrary) Names() []string {
	names := make([]string, 0, len(l.presets))
	for name := range l.presets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Selection returns a copy of the named preset's selection.
func (l *PresetLibrary) Selection(name string) (Selection, error) {
	if name == "" {
		name = DefaultPreset
	}
	preset, ok := l.presets[name]
	if !ok {
		return nil, fmt.Errorf("unknown preset %q", name)
	}
	out := make(Selection, len(preset))
	for phase, chain := range preset {
		out[phase] = append([]string(nil), chain...)
	}
	return out, nil
}

// Resolve merges a preset with explicit per-phase override chains. Overridden
// phases replace the preset chain wholesale; other phases keep the preset's.
func (l *PresetLibrary) Resolve(preset string, overrides map[pipeline.Phase][]string) (Selection, error) {
	sel, err := l.Selection(preset)
	if err != nil {
		return nil, err
	}
	for phase, chain := range overrides {
		sel[phase] = append([]string(nil), chain...)
	}
	return sel, nil
}

// register validates and installs a preset. Every generative phase must have
// a non-empty chain.
func (l *PresetLibrary) register(name string, sel Selection) error {
	for _, phase := range pipeline.GenerativePhases() {
		if len(sel[phase]) == 0 {
			return fmt.Errorf("preset %q: phase %s has no provider chain", name, phase)
		}
	}
	l.presets[name] = sel
	return nil
}
