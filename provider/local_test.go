// ABOUTME: Tests for the deterministic free-local provider.
// ABOUTME: Verifies reproducibility, topic extraction, feedback incorporation, and cancellation.

package provider

import (
	"context"
	"strings"
	"testing"
)

func TestLocalInvokeIsDeterministic(t *testing.T) {
	c := NewLocalClient()
	req := Request{Phase: "draft", Prompt: "Topic: renewable energy trends\n\nWrite the draft."}

	a, err := c.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	b, err := c.Invoke(context.Background(), req)
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if a.Text != b.Text {
		t.Error("same request produced different text")
	}
	if a.Usage != b.Usage {
		t.Errorf("usage differs: %+v vs %+v", a.Usage, b.Usage)
	}
}

func TestLocalPhaseOutputs(t *testing.T) {
	c := NewLocalClient()
	ctx := context.Background()
	prompt := "Topic: renewable energy trends\n\nProduce the phase output."

	research, _ := c.Invoke(ctx, Request{Phase: "research", Prompt: prompt})
	if !strings.Contains(research.Text, "renewable energy trends") {
		t.Error("research notes do not mention the topic")
	}
	if !strings.Contains(research.Text, "- ") {
		t.Error("research notes are not bulleted")
	}
	if !strings.Contains(research.Text, "12%") || strings.Contains(research.Text, "%%") {
		t.Errorf("percentage figures garbled in research notes:\n%s", research.Text)
	}

	outline, _ := c.Invoke(ctx, Request{Phase: "outline", Prompt: prompt})
	if !strings.Contains(outline.Text, "1.") || !strings.Contains(outline.Text, "5.") {
		t.Errorf("outline missing numbered sections:\n%s", outline.Text)
	}

	draft, _ := c.Invoke(ctx, Request{Phase: "draft", Prompt: prompt})
	if strings.Contains(draft.Text, "#") {
		t.Error("draft should be plain prose without headings")
	}

	refined, _ := c.Invoke(ctx, Request{Phase: "refine", Prompt: prompt})
	if !strings.Contains(refined.Text, "# Renewable energy trends") {
		t.Error("refined article missing title heading")
	}
	if !strings.Contains(refined.Text, "## Conclusion") {
		t.Error("refined article missing conclusion")
	}
	if len(strings.Fields(refined.Text)) <= len(strings.Fields(draft.Text)) {
		t.Error("refined article should be substantially longer than the draft")
	}
}

func TestLocalRefineIncorporatesFeedback(t *testing.T) {
	c := NewLocalClient()
	prompt := "Topic: renewable energy trends\n\nFeedback:\n" +
		"- structure: add section headings and break the piece into scannable units\n" +
		"- accuracy: ground claims in concrete figures, dates, and quantities\n"

	resp, err := c.Invoke(context.Background(), Request{Phase: "refine", Prompt: prompt})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(resp.Text, "Addressing earlier gaps") {
		t.Fatal("refine ignored the feedback section")
	}
	if !strings.Contains(resp.Text, "structure") || !strings.Contains(resp.Text, "accuracy") {
		t.Error("refine did not address each flagged criterion")
	}
}

func TestLocalTopicFallback(t *testing.T) {
	c := NewLocalClient()
	resp, err := c.Invoke(context.Background(), Request{Phase: "draft", Prompt: "no topic line here"})
	if err != nil {
		t.Fatalf("invoke: %v", err)
	}
	if !strings.Contains(resp.Text, "the subject") {
		t.Error("missing topic did not fall back to placeholder")
	}
}

func TestLocalHonorsCancellation(t *testing.T) {
	c := NewLocalClient()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := c.Invoke(ctx, Request{Phase: "draft", Prompt: "Topic: x"}); err == nil {
		t.Error("cancelled context did not abort invoke")
	}
}

func TestLocalIsFree(t *testing.T) {
	c := NewLocalClient()
	if c.Tier() != TierFreeLocal {
		t.Errorf("tier = %s", c.Tier())
	}
	if p := c.Pricing(); p.Cost(Usage{InputTokens: 1000, OutputTokens: 1000}) != 0 {
		t.Error("local provider should cost nothing")
	}
}
