// ABOUTME: Final-content rendering: markdown to HTML via goldmark, plus word count and reading time.
// ABOUTME: One reusable converter instance; rendering is pure with respect to its input.

package render

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/yuin/goldmark"
)

// WordsPerMinute is the reading-speed assumption behind reading time.
const WordsPerMinute = 200

// Renderer converts finalized markdown articles to HTML.
type Renderer struct {
	md goldmark.Markdown
}

// New creates a renderer with goldmark defaults. Raw HTML in the input is
// not passed through, which keeps provider output from injecting markup.
func New() *Renderer {
	return &Renderer{md: goldmark.New()}
}

// Render converts markdown to HTML.
func (r *Renderer) Render(markdown string) (string, error) {
	var buf bytes.Buffer
	if err := r.md.Convert([]byte(markdown), &buf); err != nil {
		return "", fmt.Errorf("convert markdown: %w", err)
	}
	return buf.String(), nil
}

// WordCount counts whitespace-separated words, skipping markdown heading and
// list markers so structure does not inflate the count.
func WordCount(markdown string) int {
	count := 0
	for _, field := range strings.Fields(markdown) {
		switch field {
		case "#", "##", "###", "####", "-", "*", ">":
			continue
		}
		count++
	}
	return count
}

// ReadingTimeMinutes returns the estimated reading time, minimum one minute
// for non-empty content.
func ReadingTimeMinutes(words int) int {
	if words == 0 {
		return 0
	}
	return (words + WordsPerMinute - 1) / WordsPerMinute
}
