// Package rpc owns the client side of the StreamAudio protocol. One request
// per session: the recognised prompt waits briefly for its screenshot to
// arrive on the bus, then the pair goes out as a single StreamRequest and the
// response stream is republished as grpc.response.* events. At most one RPC
// is in flight; a new session displaces the previous call, and an explicit
// interrupt control message tells the server to stop generating.
package rpc

import (
	"context"
	"encoding/base64"
	"errors"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"

	"github.com/parla-assistant/parla/internal/bus"
	"github.com/parla-assistant/parla/pkg/wire"
)

const (
	// DefaultAggregateTimeout is how long the prompt waits for its
	// screenshot before being sent without one.
	DefaultAggregateTimeout = 1500 * time.Millisecond

	// DefaultRequestTimeout bounds one whole StreamAudio call.
	DefaultRequestTimeout = 120 * time.Second

	// interruptTimeout bounds the fire-and-forget interrupt control call.
	interruptTimeout = 5 * time.Second
)

// ErrOffline is reported when the network gate refuses to send.
var ErrOffline = errors.New("rpc: network unavailable")

// Option configures a [Client] during construction.
type Option func(*Client)

// WithAggregateTimeout overrides [DefaultAggregateTimeout].
func WithAggregateTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.aggregateTimeout = d
		}
	}
}

// WithRequestTimeout overrides [DefaultRequestTimeout].
func WithRequestTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.requestTimeout = d
		}
	}
}

// WithNetworkGate makes Send refuse immediately while the network probe
// reports disconnected, instead of letting the dial time out.
func WithNetworkGate() Option {
	return func(c *Client) { c.useGate = true }
}

// WithKeepalive sets the gRPC client keepalive parameters.
func WithKeepalive(interval, timeout time.Duration) Option {
	return func(c *Client) {
		c.keepalive = keepalive.ClientParameters{
			Time:                interval,
			Timeout:             timeout,
			PermitWithoutStream: true,
		}
	}
}

// WithDialOptions appends extra grpc.DialOptions, replacing none of the
// defaults. Tests use this to dial a bufconn listener.
func WithDialOptions(opts ...grpc.DialOption) Option {
	return func(c *Client) { c.dialOpts = append(c.dialOpts, opts...) }
}

// Client is the StreamAudio client. The connection is created lazily on the
// first Send; gRPC reconnects underneath it, so one Client lives for the
// whole process.
type Client struct {
	bus              *bus.Bus
	target           string
	hardwareID       func() (string, error)
	aggregateTimeout time.Duration
	requestTimeout   time.Duration
	useGate          bool
	keepalive        keepalive.ClientParameters
	dialOpts         []grpc.DialOption

	mu       sync.Mutex
	conn     *grpc.ClientConn
	online   bool
	inflight *call

	shotMu  sync.Mutex
	shots   map[int64]shotResult
	waiters map[int64]chan shotResult
}

type shotResult struct {
	payload bus.ScreenshotPayload
	ok      bool
}

// NewClient creates a Client for the server at target. hardwareID resolves
// the installation identifier sent with every request.
func NewClient(b *bus.Bus, target string, hardwareID func() (string, error), opts ...Option) *Client {
	c := &Client{
		bus:              b,
		target:           target,
		hardwareID:       hardwareID,
		aggregateTimeout: DefaultAggregateTimeout,
		requestTimeout:   DefaultRequestTimeout,
		keepalive: keepalive.ClientParameters{
			Time:                30 * time.Second,
			Timeout:             10 * time.Second,
			PermitWithoutStream: true,
		},
		online:  true,
		shots:   make(map[int64]shotResult),
		waiters: make(map[int64]chan shotResult),
	}
	for _, o := range opts {
		o(c)
	}
	return c
}

// Attach subscribes the client to screenshot and network events.
func (c *Client) Attach() {
	c.bus.Subscribe(bus.EventScreenshotCaptured, func(ev bus.Event) {
		if p, ok := ev.Payload.(bus.ScreenshotPayload); ok {
			c.deliverShot(p.SessionID, shotResult{payload: p, ok: true})
		}
	})
	c.bus.Subscribe(bus.EventScreenshotError, func(ev bus.Event) {
		if p, ok := ev.Payload.(bus.ScreenshotErrorPayload); ok {
			c.deliverShot(p.SessionID, shotResult{})
		}
	})
	c.bus.Subscribe(bus.EventNetworkStatusChanged, func(ev bus.Event) {
		if p, ok := ev.Payload.(bus.NetworkPayload); ok {
			c.mu.Lock()
			c.online = p.New == "connected"
			c.mu.Unlock()
		}
	})
}

func (c *Client) deliverShot(sessionID int64, res shotResult) {
	c.shotMu.Lock()
	if w, ok := c.waiters[sessionID]; ok {
		delete(c.waiters, sessionID)
		c.shotMu.Unlock()
		w <- res
		return
	}
	c.shots[sessionID] = res
	c.shotMu.Unlock()
}

// awaitScreenshot waits up to the aggregate timeout for the session's
// screenshot. Returns ok=false when it never arrived or failed.
func (c *Client) awaitScreenshot(ctx context.Context, sessionID int64) (bus.ScreenshotPayload, bool) {
	c.shotMu.Lock()
	if res, ok := c.shots[sessionID]; ok {
		delete(c.shots, sessionID)
		c.shotMu.Unlock()
		return res.payload, res.ok
	}
	w := make(chan shotResult, 1)
	c.waiters[sessionID] = w
	c.shotMu.Unlock()

	defer func() {
		c.shotMu.Lock()
		delete(c.waiters, sessionID)
		c.shotMu.Unlock()
	}()

	select {
	case res := <-w:
		return res.payload, res.ok
	case <-time.After(c.aggregateTimeout):
		slog.Debug("screenshot missed the aggregation window", "session_id", sessionID)
		return bus.ScreenshotPayload{}, false
	case <-ctx.Done():
		return bus.ScreenshotPayload{}, false
	}
}

// dial returns the shared connection, creating it on first use.
func (c *Client) dial() (*grpc.ClientConn, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		return c.conn, nil
	}
	opts := append([]grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithKeepaliveParams(c.keepalive),
	}, c.dialOpts...)
	conn, err := grpc.NewClient(c.target, opts...)
	if err != nil {
		return nil, err
	}
	c.conn = conn
	return conn, nil
}

// Close releases the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	err := c.conn.Close()
	c.conn = nil
	return err
}

// call identifies one in-flight request; the pointer lets release tell its
// own claim apart from a newer one.
type call struct {
	cancel context.CancelFunc
}

// Cancel aborts the in-flight request, if any.
func (c *Client) Cancel() {
	c.mu.Lock()
	cur := c.inflight
	c.inflight = nil
	c.mu.Unlock()
	if cur != nil {
		cur.cancel()
	}
}

// claim makes this the one in-flight request, displacing any previous call.
func (c *Client) claim(cur *call) {
	c.mu.Lock()
	prev := c.inflight
	c.inflight = cur
	c.mu.Unlock()
	if prev != nil {
		prev.cancel()
	}
}

func (c *Client) release(cur *call) {
	c.mu.Lock()
	if c.inflight == cur {
		c.inflight = nil
	}
	c.mu.Unlock()
	cur.cancel()
}

// Send runs one voice interaction: waits for the session's screenshot, sends
// the StreamRequest and republishes every response message on the bus.
// Blocking; callers run it on its own goroutine.
func (c *Client) Send(ctx context.Context, sessionID int64, prompt string) {
	c.mu.Lock()
	online := c.online
	c.mu.Unlock()
	if c.useGate && !online {
		c.fail(sessionID, ErrOffline.Error())
		return
	}

	hwID, err := c.hardwareID()
	if err != nil {
		c.fail(sessionID, "hardware id: "+err.Error())
		return
	}

	req := &wire.StreamRequest{Prompt: prompt, HardwareID: hwID}
	if shot, ok := c.awaitScreenshot(ctx, sessionID); ok {
		if encoded := encodeScreenshot(shot.ImagePath); encoded != "" {
			req.ScreenshotBase64 = encoded
			req.ScreenInfo = &wire.ScreenInfo{Width: shot.Width, Height: shot.Height}
		}
	}

	conn, err := c.dial()
	if err != nil {
		c.fail(sessionID, err.Error())
		return
	}

	ctx, cancel := context.WithTimeout(ctx, c.requestTimeout)
	cur := &call{cancel: cancel}
	c.claim(cur)
	defer c.release(cur)

	c.bus.Publish(bus.EventGrpcRequestStarted, bus.SessionPayload{SessionID: sessionID})
	started := time.Now()

	stream, err := wire.NewVoiceServiceClient(conn).StreamAudio(ctx)
	if err != nil {
		c.fail(sessionID, failDetail(err))
		return
	}
	if err := stream.Send(req); err != nil {
		c.fail(sessionID, failDetail(err))
		return
	}
	if err := stream.CloseSend(); err != nil {
		c.fail(sessionID, failDetail(err))
		return
	}

	// Sentence numbering is 1-based; chunk numbering is 1-based and restarts
	// with every sentence.
	sentenceIndex := 0
	chunkIndex := 0
	for {
		resp, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			c.complete(sessionID, started)
			return
		}
		if err != nil {
			c.fail(sessionID, failDetail(err))
			return
		}

		switch {
		case resp.TextChunk != nil:
			sentenceIndex++
			chunkIndex = 0
			c.bus.Publish(bus.EventGrpcResponseText, bus.ResponseTextPayload{
				SessionID:     sessionID,
				SentenceIndex: sentenceIndex,
				Text:          *resp.TextChunk,
			})
		case resp.AudioChunk != nil:
			chunkIndex++
			c.bus.Publish(bus.EventGrpcResponseAudio, bus.ResponseAudioPayload{
				SessionID:     sessionID,
				SentenceIndex: max(sentenceIndex, 1),
				ChunkIndex:    chunkIndex,
				DType:         resp.AudioChunk.DType,
				Shape:         resp.AudioChunk.Shape,
				Data:          resp.AudioChunk.AudioData,
			})
		case resp.EndMessage != nil:
			c.complete(sessionID, started)
			return
		case resp.ErrorMessage != nil:
			c.fail(sessionID, *resp.ErrorMessage)
			return
		}
	}
}

// Interrupt sends the interrupt control message so the server stops
// generating for this installation. Fire-and-forget with its own timeout.
func (c *Client) Interrupt(ctx context.Context) {
	hwID, err := c.hardwareID()
	if err != nil {
		slog.Warn("interrupt skipped", "error", err)
		return
	}
	conn, err := c.dial()
	if err != nil {
		slog.Warn("interrupt skipped", "error", err)
		return
	}

	ctx, cancel := context.WithTimeout(ctx, interruptTimeout)
	defer cancel()

	stream, err := wire.NewVoiceServiceClient(conn).StreamAudio(ctx)
	if err != nil {
		slog.Warn("interrupt control call failed", "error", err)
		return
	}
	if err := stream.Send(&wire.StreamRequest{HardwareID: hwID, Interrupt: true}); err != nil {
		slog.Warn("interrupt control call failed", "error", err)
		return
	}
	stream.CloseSend()
	// Drain the acknowledgement so the call completes cleanly.
	for {
		if _, err := stream.Recv(); err != nil {
			return
		}
	}
}

func (c *Client) complete(sessionID int64, started time.Time) {
	slog.Info("request completed", "session_id", sessionID, "took", time.Since(started))
	c.bus.Publish(bus.EventGrpcRequestCompleted, bus.GrpcResultPayload{SessionID: sessionID})
}

func (c *Client) fail(sessionID int64, detail string) {
	slog.Warn("request failed", "session_id", sessionID, "error", detail)
	c.bus.Publish(bus.EventGrpcRequestFailed, bus.GrpcResultPayload{
		SessionID: sessionID,
		Err:       detail,
	})
}

// failDetail maps transport-level cancellation onto the stable "cancelled"
// error so consumers never see raw context or status text for an interrupt.
func failDetail(err error) string {
	if errors.Is(err, context.Canceled) || status.Code(err) == codes.Canceled {
		return "cancelled"
	}
	return err.Error()
}

// encodeScreenshot reads the cached screenshot file and returns it
// base64-encoded, or "" when the file cannot be read.
func encodeScreenshot(path string) string {
	if path == "" {
		return ""
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		slog.Warn("screenshot unreadable, sending without", "path", path, "error", err)
		return ""
	}
	return base64.StdEncoding.EncodeToString(raw)
}
