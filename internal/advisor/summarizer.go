// Package advisor produces short human-readable review summaries for
// escalated sessions. A Gemini-backed summarizer is used when an API
// key is configured; otherwise a deterministic template renders the
// same information without a network dependency. Summaries are for the
// reviewer's queue only and never feed back into the decision pipeline.
package advisor

import (
	"context"
	"fmt"
	"strings"

	"google.golang.org/genai"

	"formsense/internal/escalation"
	"formsense/internal/form"
	"formsense/internal/logging"
)

// Summarizer renders a review summary for an escalated context.
type Summarizer interface {
	Summarize(ctx context.Context, fc form.FormContext, triggers []string) (string, error)
}

// =============================================================================
// TEMPLATE SUMMARIZER
// =============================================================================

// TemplateSummarizer renders summaries from a fixed template. Always
// available; used directly when no API key is configured and as the
// fallback when the Gemini call fails.
type TemplateSummarizer struct{}

// Summarize renders the deterministic summary.
func (TemplateSummarizer) Summarize(_ context.Context, fc form.FormContext, triggers []string) (string, error) {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Session %s (phase %s) flagged for review.\n", fc.SessionID, fc.CurrentPhase)
	for _, line := range escalation.Describe(triggers, fc.ValidationResults, fc.DetectedConflicts) {
		sb.WriteString("- " + line + "\n")
	}
	for _, c := range fc.DetectedConflicts {
		if c.AutoResolved {
			continue
		}
		fmt.Fprintf(&sb, "- unresolved conflict %s: %s\n", c.ID, c.Description)
	}
	return sb.String(), nil
}

// =============================================================================
// GEMINI SUMMARIZER
// =============================================================================

// GeminiSummarizer asks a Gemini model for a reviewer-facing summary,
// falling back to the template on any API failure.
type GeminiSummarizer struct {
	client   *genai.Client
	model    string
	fallback TemplateSummarizer
}

// NewGeminiSummarizer creates the Gemini-backed summarizer.
func NewGeminiSummarizer(apiKey, model string) (*GeminiSummarizer, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini API key is required")
	}
	if model == "" {
		model = "gemini-2.0-flash"
	}

	client, err := genai.NewClient(context.Background(), &genai.ClientConfig{
		APIKey: apiKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return &GeminiSummarizer{client: client, model: model}, nil
}

// Summarize asks the model to compress the escalation state into a few
// sentences a reviewer can act on.
func (s *GeminiSummarizer) Summarize(ctx context.Context, fc form.FormContext, triggers []string) (string, error) {
	base, _ := s.fallback.Summarize(ctx, fc, triggers)

	prompt := "You are reviewing an escalated financial-aid form session. " +
		"Summarize the following findings in at most three sentences for a human reviewer, " +
		"stating what to verify first:\n\n" + base

	contents := []*genai.Content{
		genai.NewContentFromText(prompt, genai.RoleUser),
	}
	result, err := s.client.Models.GenerateContent(ctx, s.model, contents, nil)
	if err != nil {
		logging.Get(logging.CategoryAdvisor).Warn("gemini summary failed, using template: %v", err)
		return base, nil
	}

	text := strings.TrimSpace(result.Text())
	if text == "" {
		return base, nil
	}
	return text, nil
}
