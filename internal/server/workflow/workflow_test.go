package workflow_test

import (
	"context"
	"errors"
	"testing"

	"github.com/parla-assistant/parla/internal/server/workflow"
	"github.com/parla-assistant/parla/pkg/provider/llm"
	llmmock "github.com/parla-assistant/parla/pkg/provider/llm/mock"
	ttsmock "github.com/parla-assistant/parla/pkg/provider/tts/mock"
)

// collect drains a full workflow run into a slice.
func collect(t *testing.T, w *workflow.Workflow, req workflow.Request) []workflow.Item {
	t.Helper()
	var items []workflow.Item
	for item := range w.Process(context.Background(), req) {
		items = append(items, item)
	}
	return items
}

func TestProcessHappyPath(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "Hello "},
			{Text: "there. "},
			{FinishReason: "stop"},
		},
	}
	tp := &ttsmock.Provider{
		SynthesizeChunks: [][]byte{{1, 2}, {3, 4}, {5, 6}},
	}
	w := workflow.New(lp, tp)

	items := collect(t, w, workflow.Request{Prompt: "Hello"})

	if len(items) != 5 {
		t.Fatalf("items = %d, want text + 3 audio + final: %+v", len(items), items)
	}
	if items[0].Kind != workflow.Text || items[0].SentenceIndex != 1 || items[0].Text != "Hello there." {
		t.Errorf("items[0] = %+v, want text{1, Hello there.}", items[0])
	}
	for i := 1; i <= 3; i++ {
		it := items[i]
		if it.Kind != workflow.Audio || it.SentenceIndex != 1 || it.ChunkIndex != i {
			t.Errorf("items[%d] = %+v, want audio{1,%d}", i, it, i)
		}
	}
	final := items[4]
	if final.Kind != workflow.Final || final.Sentences != 1 || final.AudioChunks != 3 || final.Err != nil {
		t.Errorf("final = %+v, want final{1, 3, nil}", final)
	}
}

func TestProcessTextPrecedesAudioPerSentence(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "First sentence here. "},
			{Text: "Second sentence here. "},
			{FinishReason: "stop"},
		},
	}
	tp := &ttsmock.Provider{SynthesizeChunks: [][]byte{{9}}}
	w := workflow.New(lp, tp)

	items := collect(t, w, workflow.Request{Prompt: "go"})

	lastText := 0
	for _, it := range items {
		switch it.Kind {
		case workflow.Text:
			if it.SentenceIndex != lastText+1 {
				t.Errorf("sentence index %d after %d, want strictly increasing by 1", it.SentenceIndex, lastText)
			}
			lastText = it.SentenceIndex
		case workflow.Audio:
			if it.SentenceIndex != lastText {
				t.Errorf("audio for sentence %d arrived while text cursor at %d", it.SentenceIndex, lastText)
			}
		}
	}
	if lastText != 2 {
		t.Errorf("sentences = %d, want 2", lastText)
	}
}

func TestProcessSynthesisFailureAborts(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "This sentence is fine. "},
			{FinishReason: "stop"},
		},
	}
	tp := &ttsmock.Provider{SynthesizeErr: errors.New("voice service down")}
	w := workflow.New(lp, tp)

	items := collect(t, w, workflow.Request{Prompt: "go"})

	final := items[len(items)-1]
	if final.Kind != workflow.Final || final.Err == nil {
		t.Fatalf("final = %+v, want an error final", final)
	}
	// The text item before the failure remains valid.
	if items[0].Kind != workflow.Text {
		t.Errorf("items[0] = %+v, want the already-emitted text item", items[0])
	}
}

func TestProcessModelErrorAborts(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "upstream quota exceeded", FinishReason: "error"},
		},
	}
	tp := &ttsmock.Provider{}
	w := workflow.New(lp, tp)

	items := collect(t, w, workflow.Request{Prompt: "go"})

	if len(items) != 1 {
		t.Fatalf("items = %+v, want only the error final", items)
	}
	final := items[0]
	if final.Kind != workflow.Final || final.Err == nil || final.Err.Error() != "upstream quota exceeded" {
		t.Errorf("final = %+v", final)
	}
}

func TestProcessStartFailure(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{StreamErr: errors.New("connect refused")}
	w := workflow.New(lp, &ttsmock.Provider{})

	items := collect(t, w, workflow.Request{Prompt: "go"})

	if len(items) != 1 || items[0].Kind != workflow.Final || items[0].Err == nil {
		t.Fatalf("items = %+v, want a single error final", items)
	}
}

func TestProcessConsumerBreakStopsPipeline(t *testing.T) {
	t.Parallel()

	lp := &llmmock.Provider{
		StreamChunks: []llm.Chunk{
			{Text: "First sentence here. "},
			{Text: "Second sentence here. "},
			{FinishReason: "stop"},
		},
	}
	tp := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1}, {2}}}
	w := workflow.New(lp, tp)

	var seen []workflow.Item
	for item := range w.Process(context.Background(), workflow.Request{Prompt: "go"}) {
		seen = append(seen, item)
		if item.Kind == workflow.Audio {
			break // interrupt after the first audio chunk
		}
	}

	if len(seen) != 2 {
		t.Fatalf("seen = %+v, want text then one audio item", seen)
	}
	if seen[len(seen)-1].Kind != workflow.Audio || seen[len(seen)-1].ChunkIndex != 1 {
		t.Errorf("last item = %+v", seen[len(seen)-1])
	}
}

func TestProcessAttachesScreenshotOnlyWithVision(t *testing.T) {
	t.Parallel()

	shot := []byte{0xFF, 0xD8, 0xFF}

	lp := &llmmock.Provider{
		StreamChunks:      []llm.Chunk{{FinishReason: "stop"}},
		CapabilitiesValue: llm.Capabilities{SupportsVision: true},
	}
	w := workflow.New(lp, &ttsmock.Provider{})
	collect(t, w, workflow.Request{Prompt: "look", Screenshot: shot})

	req := lp.StreamCompletionCalls[0].Req
	if len(req.Messages) != 1 || len(req.Messages[0].Images) != 1 {
		t.Errorf("vision model should receive the screenshot, got %+v", req.Messages)
	}

	blind := &llmmock.Provider{StreamChunks: []llm.Chunk{{FinishReason: "stop"}}}
	w = workflow.New(blind, &ttsmock.Provider{})
	collect(t, w, workflow.Request{Prompt: "look", Screenshot: shot})

	req = blind.StreamCompletionCalls[0].Req
	if len(req.Messages[0].Images) != 0 {
		t.Errorf("non-vision model must not receive images, got %d", len(req.Messages[0].Images))
	}
}

func TestProcessAppendsPunctuationForSynthesis(t *testing.T) {
	t.Parallel()

	th := workflow.DefaultThresholds()
	th.ForceFlushMaxChars = 2
	lp := &llmmock.Provider{
		StreamChunks: []llm.Chunk{{Text: "Hi"}, {FinishReason: "stop"}},
	}
	tp := &ttsmock.Provider{SynthesizeChunks: [][]byte{{1}}}
	w := workflow.New(lp, tp, workflow.WithThresholds(th))

	items := collect(t, w, workflow.Request{Prompt: "hi"})

	if items[0].Kind != workflow.Text || items[0].Text != "Hi" {
		t.Fatalf("items[0] = %+v, want text{Hi}", items[0])
	}
	if got := tp.SentencesSynthesized(); len(got) != 1 || got[0] != "Hi." {
		t.Errorf("synthesised = %q, want [Hi.]", got)
	}
}
