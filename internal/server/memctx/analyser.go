package memctx

import (
	"context"
	"fmt"
	"strings"

	"github.com/parla-assistant/parla/pkg/memory"
	"github.com/parla-assistant/parla/pkg/provider/llm"
)

// analyserSystemPrompt instructs the model to rewrite both memory fields and
// answer in a fixed two-section format the parser below understands.
const analyserSystemPrompt = `You maintain a voice assistant's memory about one user.
Given the current memory and the latest exchange, rewrite both fields.
SHORT-TERM holds recent conversational context; keep it brief and current.
LONG-TERM holds durable facts about the user; merge new facts, drop nothing true.
Answer with exactly two sections and nothing else:
SHORT-TERM:
<content>
LONG-TERM:
<content>`

const (
	shortTermMarker = "SHORT-TERM:"
	longTermMarker  = "LONG-TERM:"
)

// LLMAnalyser rewrites memory fields through a non-streaming completion.
type LLMAnalyser struct {
	provider llm.Provider
}

var _ Analyser = (*LLMAnalyser)(nil)

// NewLLMAnalyser creates an analyser over provider.
func NewLLMAnalyser(provider llm.Provider) *LLMAnalyser {
	return &LLMAnalyser{provider: provider}
}

// Analyse asks the model for updated memory fields. The returned fields are
// clamped to [memory.MaxFieldBytes].
func (a *LLMAnalyser) Analyse(ctx context.Context, current memory.Record, prompt, finalText string) (string, string, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "CURRENT SHORT-TERM MEMORY:\n%s\n\n", current.ShortTerm)
	fmt.Fprintf(&b, "CURRENT LONG-TERM MEMORY:\n%s\n\n", current.LongTerm)
	fmt.Fprintf(&b, "USER SAID:\n%s\n\n", prompt)
	fmt.Fprintf(&b, "ASSISTANT ANSWERED:\n%s\n", finalText)

	resp, err := a.provider.Complete(ctx, llm.CompletionRequest{
		SystemPrompt: analyserSystemPrompt,
		Messages:     []llm.Message{{Role: "user", Content: b.String()}},
	})
	if err != nil {
		return "", "", fmt.Errorf("memctx: analyse completion: %w", err)
	}

	shortTerm, longTerm, err := parseSections(resp.Content)
	if err != nil {
		return "", "", err
	}
	rec := memory.Record{ShortTerm: shortTerm, LongTerm: longTerm}
	rec.Clamp()
	return rec.ShortTerm, rec.LongTerm, nil
}

// parseSections extracts the two marker sections from the model's answer.
// Markers may appear in either order; everything before the first marker is
// ignored.
func parseSections(content string) (shortTerm, longTerm string, err error) {
	si := strings.Index(content, shortTermMarker)
	li := strings.Index(content, longTermMarker)
	if si < 0 || li < 0 {
		return "", "", fmt.Errorf("memctx: analyser answer missing memory sections")
	}

	section := func(start, end int) string {
		if end < 0 || end < start {
			end = len(content)
		}
		return strings.TrimSpace(content[start:end])
	}
	if si < li {
		shortTerm = section(si+len(shortTermMarker), li)
		longTerm = section(li+len(longTermMarker), -1)
	} else {
		longTerm = section(li+len(longTermMarker), si)
		shortTerm = section(si+len(shortTermMarker), -1)
	}
	return shortTerm, longTerm, nil
}
