// ABOUTME: YAML preset file loading, so deployments can define custom provider chains.
// ABOUTME: File presets merge over the built-ins; a file entry with a built-in name replaces it.

package router

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/2389-research/wordmill/pipeline"
)

// presetFile is the on-disk shape:
//
//	presets:
//	  cheap-drafts:
//	    research: [wordmill-local]
//	    outline: [wordmill-local]
//	    draft: [gpt-5.2-mini, wordmill-local]
//	    refine: [gpt-5.2-mini, wordmill-local]
type presetFile struct {
	Presets map[string]map[string][]string `yaml:"presets"`
}

// LoadFile reads a YAML preset file and installs its presets into the
// library. Invalid presets fail the whole load.
func (l *PresetLibrary) LoadFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read preset file: %w", err)
	}

	var file presetFile
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse preset file %s: %w", path, err)
	}

	for name, phases := range file.Presets {
		sel := make(Selection, len(phases))
		for phaseName, chain := range phases {
			sel[pipeline.Phase(phaseName)] = append([]string(nil), chain...)
		}
		if err := l.register(name, sel); err != nil {
			return fmt.Errorf("preset file %s: %w", path, err)
		}
	}
	return nil
}
