// Package workflow implements the server's streaming pipeline: model text
// fragments are aggregated into sentences, each sentence is published as a
// text item and then synthesised, and the resulting audio chunks follow in
// order before the next sentence begins. The consumer pulls items lazily;
// breaking out of the loop (on interrupt) stops the pipeline at the next
// item boundary.
package workflow

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"strings"
	"time"

	"github.com/parla-assistant/parla/internal/observe"
	"github.com/parla-assistant/parla/pkg/provider/llm"
	"github.com/parla-assistant/parla/pkg/provider/tts"
)

// Kind discriminates the items of a workflow run.
type Kind string

const (
	// Text is one aggregated sentence, published before its audio.
	Text Kind = "text"

	// Audio is one PCM chunk of a sentence's synthesis.
	Audio Kind = "audio"

	// Final terminates every run, carrying aggregate counters and the error
	// that aborted the run, if any.
	Final Kind = "final"
)

// Item is one element of the lazy output sequence.
type Item struct {
	Kind Kind

	// SentenceIndex is 1-based and strictly increasing; set on Text and
	// Audio items.
	SentenceIndex int

	// ChunkIndex is 1-based per sentence; set on Audio items.
	ChunkIndex int

	// Text is the sentence content of a Text item.
	Text string

	// Audio is the raw PCM of an Audio item.
	Audio []byte

	// Sentences and AudioChunks are the aggregate counters of a Final item.
	Sentences   int
	AudioChunks int

	// Err is set on a Final item when the run aborted; earlier items remain
	// valid.
	Err error
}

// Request is one workflow invocation.
type Request struct {
	// Prompt is the user's utterance, already enriched with the memory
	// context block when available.
	Prompt string

	// Screenshot is an optional JPEG attached to the user turn. Dropped
	// silently when the model lacks vision support.
	Screenshot []byte
}

// Option configures a [Workflow] during construction.
type Option func(*Workflow)

// WithThresholds overrides [DefaultThresholds].
func WithThresholds(th Thresholds) Option {
	return func(w *Workflow) { w.th = th }
}

// WithFilter replaces the [DefaultFilter] text filter.
func WithFilter(f TextFilter) Option {
	return func(w *Workflow) {
		if f != nil {
			w.filter = f
		}
	}
}

// WithVoice selects the synthesis voice.
func WithVoice(v tts.VoiceProfile) Option {
	return func(w *Workflow) { w.voice = v }
}

// WithSystemPrompt sets the system instruction sent with every completion.
func WithSystemPrompt(p string) Option {
	return func(w *Workflow) { w.systemPrompt = p }
}

// WithMetrics records per-sentence synthesis latency and counters.
func WithMetrics(m *observe.Metrics) Option {
	return func(w *Workflow) { w.metrics = m }
}

// Workflow binds a text model and a speech synthesiser into the streaming
// pipeline. Safe for concurrent use; each Process call owns its own state.
type Workflow struct {
	llm    llm.Provider
	tts    tts.Provider
	voice  tts.VoiceProfile
	filter TextFilter
	th     Thresholds

	systemPrompt string
	metrics      *observe.Metrics
}

// New creates a Workflow over the given providers.
func New(llmProvider llm.Provider, ttsProvider tts.Provider, opts ...Option) *Workflow {
	w := &Workflow{
		llm:    llmProvider,
		tts:    ttsProvider,
		filter: DefaultFilter{},
		th:     DefaultThresholds(),
	}
	for _, o := range opts {
		o(w)
	}
	return w
}

// Process runs the pipeline for one request and returns the lazy item
// sequence. The sequence is finite and, unless the consumer breaks early,
// always ends with exactly one Final item. Ordering guarantees: Text{i}
// precedes every Audio{i,*}; audio chunks are strictly ordered by ChunkIndex;
// items of sentence i+1 only begin after all items of sentence i.
func (w *Workflow) Process(ctx context.Context, req Request) iter.Seq[Item] {
	return func(yield func(Item) bool) {
		agg := NewAggregator(w.th, w.filter)

		msg := llm.Message{Role: "user", Content: req.Prompt}
		if len(req.Screenshot) > 0 && w.llm.Capabilities().SupportsVision {
			msg.Images = [][]byte{req.Screenshot}
		}

		chunks, err := w.llm.StreamCompletion(ctx, llm.CompletionRequest{
			SystemPrompt: w.systemPrompt,
			Messages:     []llm.Message{msg},
		})
		if err != nil {
			yield(Item{Kind: Final, Err: fmt.Errorf("workflow: start completion: %w", err)})
			return
		}

		var sentences, audioChunks int
		var abort error
		stopped := false // consumer broke out of the sequence

		// speak publishes one segment as text followed by its audio chunks.
		// Returns false when the run must end, either because the consumer
		// stopped pulling or because synthesis failed (abort is then set).
		speak := func(segment string) bool {
			sentences++
			if !yield(Item{Kind: Text, SentenceIndex: sentences, Text: segment}) {
				stopped = true
				return false
			}

			start := time.Now()
			audio, err := w.tts.Synthesize(ctx, speakable(segment), w.voice)
			if err != nil {
				abort = fmt.Errorf("workflow: synthesize sentence %d: %w", sentences, err)
				return false
			}
			chunkIndex := 0
			for chunk := range audio {
				chunkIndex++
				audioChunks++
				if !yield(Item{Kind: Audio, SentenceIndex: sentences, ChunkIndex: chunkIndex, Audio: chunk}) {
					stopped = true
					for range audio {
					}
					return false
				}
			}
			if w.metrics != nil {
				w.metrics.TTSDuration.Record(ctx, time.Since(start).Seconds())
				w.metrics.SentencesStreamed.Add(ctx, 1)
			}
			return true
		}

	pull:
		for chunk := range chunks {
			if chunk.FinishReason == "error" {
				msg := strings.TrimSpace(chunk.Text)
				if msg == "" {
					msg = "model stream failed"
				}
				abort = errors.New(msg)
				break
			}
			for _, segment := range agg.Push(chunk.Text) {
				if !speak(segment) {
					break pull
				}
			}
		}

		if stopped || abort != nil {
			// Let the model finish in the background; its channel closes once
			// ctx is cancelled or generation ends.
			go func() {
				for range chunks {
				}
			}()
		} else {
			for _, segment := range agg.Flush() {
				if !speak(segment) {
					break
				}
			}
		}

		if stopped {
			return
		}
		yield(Item{Kind: Final, Sentences: sentences, AudioChunks: audioChunks, Err: abort})
	}
}

// speakable ensures the synthesiser receives a closed sentence; trailing
// punctuation changes prosody on most TTS models.
func speakable(segment string) string {
	if segment == "" {
		return segment
	}
	switch segment[len(segment)-1] {
	case '.', '!', '?':
		return segment
	}
	return segment + "."
}
