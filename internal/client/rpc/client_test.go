package rpc_test

import (
	"context"
	"encoding/base64"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/test/bufconn"

	"github.com/parla-assistant/parla/internal/bus"
	"github.com/parla-assistant/parla/internal/client/rpc"
	"github.com/parla-assistant/parla/pkg/wire"
)

// scriptServer records every request and answers with a scripted response
// sequence.
type scriptServer struct {
	wire.UnimplementedVoiceServiceServer

	mu      sync.Mutex
	reqs    []*wire.StreamRequest
	respond func(req *wire.StreamRequest, stream wire.VoiceService_StreamAudioServer) error
}

func (s *scriptServer) StreamAudio(stream wire.VoiceService_StreamAudioServer) error {
	req, err := stream.Recv()
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.reqs = append(s.reqs, req)
	respond := s.respond
	s.mu.Unlock()
	if respond == nil {
		return stream.Send(wire.NewEndMessage("done"))
	}
	return respond(req, stream)
}

func (s *scriptServer) requests() []*wire.StreamRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*wire.StreamRequest(nil), s.reqs...)
}

type busEvent struct {
	name    string
	payload any
}

func watch(b *bus.Bus) <-chan busEvent {
	events := make(chan busEvent, 32)
	for _, name := range []string{
		bus.EventGrpcRequestStarted,
		bus.EventGrpcRequestCompleted,
		bus.EventGrpcRequestFailed,
		bus.EventGrpcResponseText,
		bus.EventGrpcResponseAudio,
	} {
		name := name
		b.Subscribe(name, func(ev bus.Event) {
			events <- busEvent{name: name, payload: ev.Payload}
		})
	}
	return events
}

func expect(t *testing.T, events <-chan busEvent, want string) busEvent {
	t.Helper()
	select {
	case got := <-events:
		if got.name != want {
			t.Fatalf("event = %q (payload %+v), want %q", got.name, got.payload, want)
		}
		return got
	case <-time.After(2 * time.Second):
		t.Fatalf("timed out waiting for %q", want)
		return busEvent{}
	}
}

// newClient wires a Client to srv over an in-process bufconn listener.
func newClient(t *testing.T, b *bus.Bus, srv *scriptServer, opts ...rpc.Option) *rpc.Client {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	gs := grpc.NewServer()
	wire.RegisterVoiceServiceServer(gs, srv)
	go gs.Serve(lis)
	t.Cleanup(gs.Stop)

	opts = append(opts, rpc.WithDialOptions(
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
	))
	c := rpc.NewClient(b, "passthrough:///bufnet",
		func() (string, error) { return "hw-test", nil }, opts...)
	c.Attach()
	t.Cleanup(func() { c.Close() })
	return c
}

func TestSendPublishesResponseStream(t *testing.T) {
	t.Parallel()

	srv := &scriptServer{
		respond: func(_ *wire.StreamRequest, stream wire.VoiceService_StreamAudioServer) error {
			stream.Send(wire.NewTextChunk("Hello there."))
			stream.Send(wire.NewAudioChunk("int16", []int{2, 1}, []byte{1, 2, 3, 4}))
			return stream.Send(wire.NewEndMessage("done"))
		},
	}
	b := bus.New()
	events := watch(b)
	c := newClient(t, b, srv, rpc.WithAggregateTimeout(10*time.Millisecond))

	c.Send(context.Background(), 42, "say hello")

	expect(t, events, bus.EventGrpcRequestStarted)
	text := expect(t, events, bus.EventGrpcResponseText)
	if pl := text.payload.(bus.ResponseTextPayload); pl.Text != "Hello there." || pl.SessionID != 42 || pl.SentenceIndex != 1 {
		t.Errorf("text payload = %+v", pl)
	}
	audio := expect(t, events, bus.EventGrpcResponseAudio)
	if pl := audio.payload.(bus.ResponseAudioPayload); pl.DType != "int16" || len(pl.Data) != 4 || pl.SentenceIndex != 1 || pl.ChunkIndex != 1 {
		t.Errorf("audio payload = %+v", pl)
	}
	expect(t, events, bus.EventGrpcRequestCompleted)

	reqs := srv.requests()
	if len(reqs) != 1 || reqs[0].Prompt != "say hello" || reqs[0].HardwareID != "hw-test" {
		t.Errorf("server saw %+v", reqs)
	}
}

func TestResponseIndexesCountPerSentence(t *testing.T) {
	t.Parallel()

	srv := &scriptServer{
		respond: func(_ *wire.StreamRequest, stream wire.VoiceService_StreamAudioServer) error {
			stream.Send(wire.NewTextChunk("First sentence."))
			stream.Send(wire.NewAudioChunk("int16", []int{2, 1}, []byte{1, 2, 3, 4}))
			stream.Send(wire.NewAudioChunk("int16", []int{2, 1}, []byte{5, 6, 7, 8}))
			stream.Send(wire.NewTextChunk("Second sentence."))
			stream.Send(wire.NewAudioChunk("int16", []int{2, 1}, []byte{9, 10, 11, 12}))
			return stream.Send(wire.NewEndMessage("done"))
		},
	}
	b := bus.New()
	events := watch(b)
	c := newClient(t, b, srv, rpc.WithAggregateTimeout(10*time.Millisecond))

	c.Send(context.Background(), 9, "two sentences please")

	expect(t, events, bus.EventGrpcRequestStarted)
	want := []struct {
		name     string
		sentence int
		chunk    int
	}{
		{bus.EventGrpcResponseText, 1, 0},
		{bus.EventGrpcResponseAudio, 1, 1},
		{bus.EventGrpcResponseAudio, 1, 2},
		{bus.EventGrpcResponseText, 2, 0},
		{bus.EventGrpcResponseAudio, 2, 1},
	}
	for i, w := range want {
		got := expect(t, events, w.name)
		switch pl := got.payload.(type) {
		case bus.ResponseTextPayload:
			if pl.SentenceIndex != w.sentence {
				t.Errorf("message %d: SentenceIndex = %d, want %d", i, pl.SentenceIndex, w.sentence)
			}
		case bus.ResponseAudioPayload:
			if pl.SentenceIndex != w.sentence || pl.ChunkIndex != w.chunk {
				t.Errorf("message %d: indexes = (%d,%d), want (%d,%d)",
					i, pl.SentenceIndex, pl.ChunkIndex, w.sentence, w.chunk)
			}
		}
	}
	expect(t, events, bus.EventGrpcRequestCompleted)
}

func TestSendAggregatesScreenshot(t *testing.T) {
	t.Parallel()

	srv := &scriptServer{}
	b := bus.New()
	events := watch(b)
	c := newClient(t, b, srv)

	raw := []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x01, 0x02}
	path := filepath.Join(t.TempDir(), "shot_1.jpg")
	if err := os.WriteFile(path, raw, 0o600); err != nil {
		t.Fatal(err)
	}
	b.Publish(bus.EventScreenshotCaptured, bus.ScreenshotPayload{
		SessionID: 7, ImagePath: path, Width: 1920, Height: 1080,
	})

	c.Send(context.Background(), 7, "what is on my screen")
	expect(t, events, bus.EventGrpcRequestStarted)
	expect(t, events, bus.EventGrpcRequestCompleted)

	reqs := srv.requests()
	if len(reqs) != 1 {
		t.Fatalf("server saw %d requests", len(reqs))
	}
	if got := reqs[0].ScreenshotBase64; got != base64.StdEncoding.EncodeToString(raw) {
		t.Errorf("ScreenshotBase64 = %q", got)
	}
	if si := reqs[0].ScreenInfo; si == nil || si.Width != 1920 || si.Height != 1080 {
		t.Errorf("ScreenInfo = %+v", reqs[0].ScreenInfo)
	}
}

func TestSendProceedsWithoutScreenshot(t *testing.T) {
	t.Parallel()

	srv := &scriptServer{}
	b := bus.New()
	events := watch(b)
	c := newClient(t, b, srv, rpc.WithAggregateTimeout(30*time.Millisecond))

	start := time.Now()
	c.Send(context.Background(), 7, "quick question")
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("Send blocked %v waiting for a screenshot that never comes", elapsed)
	}
	expect(t, events, bus.EventGrpcRequestStarted)
	expect(t, events, bus.EventGrpcRequestCompleted)

	if reqs := srv.requests(); reqs[0].ScreenshotBase64 != "" {
		t.Error("request carried a screenshot from nowhere")
	}
}

func TestNetworkGateRefusesWhileOffline(t *testing.T) {
	t.Parallel()

	srv := &scriptServer{}
	b := bus.New()
	events := watch(b)
	c := newClient(t, b, srv, rpc.WithNetworkGate(), rpc.WithAggregateTimeout(10*time.Millisecond))

	b.Publish(bus.EventNetworkStatusChanged, bus.NetworkPayload{Old: "connected", New: "disconnected"})
	c.Send(context.Background(), 3, "anyone there")

	got := expect(t, events, bus.EventGrpcRequestFailed)
	if pl := got.payload.(bus.GrpcResultPayload); !strings.Contains(pl.Err, "network unavailable") {
		t.Errorf("Err = %q, want the offline refusal", pl.Err)
	}
	if len(srv.requests()) != 0 {
		t.Error("request reached the server despite the gate")
	}

	// Back online, the same client sends again.
	b.Publish(bus.EventNetworkStatusChanged, bus.NetworkPayload{Old: "disconnected", New: "connected"})
	c.Send(context.Background(), 4, "back again")
	expect(t, events, bus.EventGrpcRequestStarted)
	expect(t, events, bus.EventGrpcRequestCompleted)
}

func TestServerErrorMessagePublishesFailed(t *testing.T) {
	t.Parallel()

	srv := &scriptServer{
		respond: func(_ *wire.StreamRequest, stream wire.VoiceService_StreamAudioServer) error {
			return stream.Send(wire.NewErrorMessage("model unavailable"))
		},
	}
	b := bus.New()
	events := watch(b)
	c := newClient(t, b, srv, rpc.WithAggregateTimeout(10*time.Millisecond))

	c.Send(context.Background(), 5, "hello")

	expect(t, events, bus.EventGrpcRequestStarted)
	got := expect(t, events, bus.EventGrpcRequestFailed)
	if pl := got.payload.(bus.GrpcResultPayload); pl.Err != "model unavailable" {
		t.Errorf("Err = %q", pl.Err)
	}
}

func TestCancelAbortsInflightRequest(t *testing.T) {
	t.Parallel()

	srv := &scriptServer{
		respond: func(_ *wire.StreamRequest, stream wire.VoiceService_StreamAudioServer) error {
			<-stream.Context().Done()
			return stream.Context().Err()
		},
	}
	b := bus.New()
	events := watch(b)
	c := newClient(t, b, srv, rpc.WithAggregateTimeout(10*time.Millisecond))

	done := make(chan struct{})
	go func() {
		defer close(done)
		c.Send(context.Background(), 6, "long story please")
	}()

	expect(t, events, bus.EventGrpcRequestStarted)
	c.Cancel()

	failed := expect(t, events, bus.EventGrpcRequestFailed)
	if pl := failed.payload.(bus.GrpcResultPayload); pl.Err != "cancelled" {
		t.Errorf("Err = %q, want the stable cancellation name", pl.Err)
	}
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Send did not return after Cancel")
	}
}

func TestInterruptSendsControlMessage(t *testing.T) {
	t.Parallel()

	srv := &scriptServer{
		respond: func(_ *wire.StreamRequest, stream wire.VoiceService_StreamAudioServer) error {
			return stream.Send(wire.NewEndMessage("interrupted"))
		},
	}
	b := bus.New()
	c := newClient(t, b, srv)

	c.Interrupt(context.Background())

	reqs := srv.requests()
	if len(reqs) != 1 || !reqs[0].Interrupt || reqs[0].HardwareID != "hw-test" {
		t.Errorf("server saw %+v, want one interrupt control message", reqs)
	}
}
