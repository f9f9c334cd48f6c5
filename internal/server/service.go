// Package server implements the VoiceService gRPC endpoint. Each StreamAudio
// call reads a single request, enriches the prompt with the caller's memory,
// runs the streaming workflow, and relays its items as wire messages. The
// interrupt registry is consulted between items so a user interrupt stops the
// stream at the next item boundary, and a second request from the same
// hardware id displaces the one in flight.
package server

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/parla-assistant/parla/internal/observe"
	"github.com/parla-assistant/parla/internal/server/interrupt"
	"github.com/parla-assistant/parla/internal/server/memctx"
	"github.com/parla-assistant/parla/internal/server/workflow"
	"github.com/parla-assistant/parla/pkg/wire"
)

// updateTimeout bounds the detached post-response memory rewrite.
const updateTimeout = 30 * time.Second

// bytesPerSample maps wire dtypes to their PCM sample width.
var bytesPerSample = map[string]int{
	"int16":   2,
	"float32": 4,
}

// Option configures a [Service] during construction.
type Option func(*Service)

// WithMetrics enables request accounting and latency histograms.
func WithMetrics(m *observe.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithAudioFormat sets the dtype and channel count advertised on outbound
// audio chunks. Defaults to int16 mono.
func WithAudioFormat(dtype string, channels int) Option {
	return func(s *Service) {
		if bytesPerSample[dtype] != 0 {
			s.dtype = dtype
		}
		if channels > 0 {
			s.channels = channels
		}
	}
}

// Service is the VoiceService implementation. Safe for concurrent use.
type Service struct {
	wire.UnimplementedVoiceServiceServer

	wf         *workflow.Workflow
	mem        *memctx.Coordinator
	interrupts *interrupt.Registry
	metrics    *observe.Metrics

	dtype    string
	channels int

	mu     sync.Mutex
	active map[string]*streamClaim // hardware id → in-flight stream
}

// streamClaim identifies one in-flight stream; pointer identity tells a
// release apart from the claim of a newer stream that displaced it.
type streamClaim struct {
	cancel context.CancelFunc
}

// New creates a Service over the given pipeline components. mem may be nil
// when no memory store is configured.
func New(wf *workflow.Workflow, mem *memctx.Coordinator, interrupts *interrupt.Registry, opts ...Option) *Service {
	s := &Service{
		wf:         wf,
		mem:        mem,
		interrupts: interrupts,
		dtype:      "int16",
		channels:   1,
		active:     make(map[string]*streamClaim),
	}
	for _, o := range opts {
		o(s)
	}
	return s
}

// StreamAudio implements wire.VoiceServiceServer.
func (s *Service) StreamAudio(stream wire.VoiceService_StreamAudioServer) error {
	req, err := stream.Recv()
	if err != nil {
		return err
	}
	ctx := stream.Context()

	if err := req.Validate(); err != nil {
		s.recordRequest(ctx, "rejected")
		return stream.Send(wire.NewErrorMessage(err.Error()))
	}

	if req.Interrupt {
		s.interrupts.Mark(req.HardwareID)
		if s.metrics != nil {
			s.metrics.Interrupts.Add(ctx, 1)
		}
		slog.Info("interrupt received", "hardware_id", req.HardwareID)
		return stream.Send(wire.NewEndMessage("interrupted"))
	}

	// A new request from the same hardware displaces the one in flight, and
	// any still-pending interrupt mark belongs to that older request.
	ctx, release := s.claim(ctx, req.HardwareID)
	defer release()
	s.interrupts.Clear(req.HardwareID)

	start := time.Now()
	if s.metrics != nil {
		s.metrics.ActiveStreams.Add(ctx, 1)
		defer func() {
			s.metrics.ActiveStreams.Add(context.WithoutCancel(ctx), -1)
			s.metrics.RequestDuration.Record(context.WithoutCancel(ctx), time.Since(start).Seconds())
		}()
	}

	status := s.process(ctx, stream, req)
	s.recordRequest(context.WithoutCancel(ctx), status)
	slog.Info("stream finished",
		"hardware_id", req.HardwareID, "status", status, "duration", time.Since(start))
	return nil
}

// process runs the pipeline for one validated request and returns the final
// request status: "ok", "error", or "interrupted".
func (s *Service) process(ctx context.Context, stream wire.VoiceService_StreamAudioServer, req *wire.StreamRequest) string {
	prompt := req.Prompt
	if s.mem != nil {
		prompt = s.mem.Enrich(ctx, req.HardwareID, req.Prompt)
	}

	var sentences []string
	status := "ok"

	for item := range s.wf.Process(ctx, workflow.Request{Prompt: prompt, Screenshot: s.screenshot(req)}) {
		if s.interrupts.IsMarked(req.HardwareID) {
			s.interrupts.Clear(req.HardwareID)
			status = "interrupted"
			_ = stream.Send(wire.NewEndMessage("interrupted"))
			break
		}

		var err error
		switch item.Kind {
		case workflow.Text:
			sentences = append(sentences, item.Text)
			err = stream.Send(wire.NewTextChunk(item.Text))
		case workflow.Audio:
			err = stream.Send(wire.NewAudioChunk(s.dtype, s.shape(item.Audio), item.Audio))
		case workflow.Final:
			if item.Err != nil {
				status = "error"
				err = stream.Send(wire.NewErrorMessage(item.Err.Error()))
			} else {
				err = stream.Send(wire.NewEndMessage("done"))
			}
		}
		if err != nil {
			// The client went away mid-stream; treat it like an interrupt.
			if !errors.Is(err, io.EOF) {
				slog.Warn("stream send failed", "hardware_id", req.HardwareID, "error", err)
			}
			status = "interrupted"
			break
		}
	}

	if status == "ok" && s.mem != nil && len(sentences) > 0 {
		final := strings.Join(sentences, " ")
		go func() {
			uctx, cancel := context.WithTimeout(context.Background(), updateTimeout)
			defer cancel()
			s.mem.Update(uctx, req.HardwareID, req.Prompt, final)
		}()
	}
	return status
}

// claim registers the stream as the active one for hardwareID, cancelling any
// stream it displaces. The returned release removes the registration unless a
// newer stream has already taken over.
func (s *Service) claim(parent context.Context, hardwareID string) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)
	c := &streamClaim{cancel: cancel}

	s.mu.Lock()
	if prev, ok := s.active[hardwareID]; ok {
		slog.Info("displacing in-flight stream", "hardware_id", hardwareID)
		prev.cancel()
	}
	s.active[hardwareID] = c
	s.mu.Unlock()

	return ctx, func() {
		s.mu.Lock()
		if s.active[hardwareID] == c {
			delete(s.active, hardwareID)
		}
		s.mu.Unlock()
		cancel()
	}
}

// screenshot decodes the optional base64 JPEG. Malformed payloads are dropped
// with a warning rather than failing the request.
func (s *Service) screenshot(req *wire.StreamRequest) []byte {
	if req.ScreenshotBase64 == "" {
		return nil
	}
	shot, err := base64.StdEncoding.DecodeString(req.ScreenshotBase64)
	if err != nil {
		slog.Warn("dropping malformed screenshot", "hardware_id", req.HardwareID, "error", err)
		return nil
	}
	return shot
}

// shape returns the (samples, channels) layout of a PCM payload.
func (s *Service) shape(pcm []byte) []int {
	width := bytesPerSample[s.dtype] * s.channels
	return []int{len(pcm) / width, s.channels}
}

func (s *Service) recordRequest(ctx context.Context, status string) {
	if s.metrics != nil {
		s.metrics.RecordRequest(ctx, status)
	}
}
