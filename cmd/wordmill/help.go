// ABOUTME: Help display for the wordmill CLI with grouped flags, examples, and environment status.
// ABOUTME: Provides printHelp for usage output and envStatus for API key detection.
package main

import (
	"fmt"
	"io"
	"os"
)

// printHelp writes a formatted help message to w, including usage patterns,
// grouped flags, examples, and environment status.
func printHelp(w io.Writer, ver string) {
	fmt.Fprintf(w, "wordmill %s — quality-gated content generation pipeline\n", ver)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Usage:")
	fmt.Fprintln(w, "  wordmill \"topic\"                    Generate an article for a topic")
	fmt.Fprintln(w, "  wordmill -estimate \"topic\"          Price the run without executing it")
	fmt.Fprintln(w, "  wordmill -server [-port 2390]       Start the HTTP API server")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Generation Flags:")
	fmt.Fprintln(w, "  -preset name         Provider preset: fast, balanced, quality (default: balanced)")
	fmt.Fprintln(w, "  -words n             Target word count (default: 800)")
	fmt.Fprintln(w, "  -threshold score     Quality score a draft must reach, 0-100 (default: 80)")
	fmt.Fprintln(w, "  -max-iterations n    Maximum refinement iterations (default: 2)")
	fmt.Fprintln(w, "  -style text          Writing style hint")
	fmt.Fprintln(w, "  -tone text           Tone hint")
	fmt.Fprintln(w, "  -budget usd          Budget ceiling; estimates above it warn at creation")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Service Flags:")
	fmt.Fprintln(w, "  -server              Start HTTP API server mode")
	fmt.Fprintln(w, "  -port n              Server port (default: 2390)")
	fmt.Fprintln(w, "  -data-dir path       Persistent state directory (default: $XDG_DATA_HOME/wordmill)")
	fmt.Fprintln(w, "  -presets-file path   YAML file with additional provider presets")
	fmt.Fprintln(w, "  -version             Print version and exit")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Examples:")
	fmt.Fprintln(w, "  wordmill \"the economics of grid-scale batteries\"")
	fmt.Fprintln(w, "  wordmill -preset quality -words 1500 \"container scheduling\"")
	fmt.Fprintln(w, "  wordmill -estimate -preset quality \"container scheduling\"")
	fmt.Fprintln(w, "  wordmill -server -port 8080 -data-dir ./data")
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Environment:")
	envStatus(w, "OPENAI_API_KEY", "low-cost and premium OpenAI tiers")
	envStatus(w, "ANTHROPIC_API_KEY", "premium Anthropic tier")
	fmt.Fprintln(w, "  wordmill-local       always available, free and offline")
}

// envStatus prints one environment variable's presence without leaking its value.
func envStatus(w io.Writer, key, enables string) {
	state := "not set"
	if os.Getenv(key) != "" {
		state = "set"
	}
	fmt.Fprintf(w, "  %-20s %s (%s)\n", key, state, enables)
}
