// Package netprobe watches reachability of the Parla server with a periodic
// TCP dial and publishes network.status_changed transitions on the bus. The
// gRPC client gates its sends on the last reported status, so a probe cycle
// bounds how stale that gate can be.
package netprobe

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/parla-assistant/parla/internal/bus"
)

// Connectivity states carried in network.status_changed payloads.
const (
	StatusConnected    = "connected"
	StatusDisconnected = "disconnected"
)

const (
	defaultInterval    = 5 * time.Second
	defaultDialTimeout = 2 * time.Second
)

// Option configures a [Prober] during construction.
type Option func(*Prober)

// WithInterval sets the probe cadence. Non-positive keeps the default.
func WithInterval(d time.Duration) Option {
	return func(p *Prober) {
		if d > 0 {
			p.interval = d
		}
	}
}

// WithDialer replaces the TCP dialer. Tests use this to script reachability.
func WithDialer(dial func(ctx context.Context, addr string) error) Option {
	return func(p *Prober) {
		if dial != nil {
			p.dial = dial
		}
	}
}

// Prober periodically checks one TCP address and reports status transitions.
type Prober struct {
	bus      *bus.Bus
	addr     string
	interval time.Duration
	dial     func(ctx context.Context, addr string) error

	status string
}

// New creates a Prober for addr. The first Run cycle always publishes a
// transition, establishing the initial status for subscribers.
func New(b *bus.Bus, addr string, opts ...Option) *Prober {
	p := &Prober{
		bus:      b,
		addr:     addr,
		interval: defaultInterval,
		dial:     tcpDial,
	}
	for _, o := range opts {
		o(p)
	}
	return p
}

func tcpDial(ctx context.Context, addr string) error {
	var d net.Dialer
	ctx, cancel := context.WithTimeout(ctx, defaultDialTimeout)
	defer cancel()
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return err
	}
	return conn.Close()
}

// Run probes until ctx is cancelled. Blocking; callers run it on its own
// goroutine.
func (p *Prober) Run(ctx context.Context) {
	p.Probe(ctx)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.Probe(ctx)
		}
	}
}

// Probe performs one reachability check and publishes a transition when the
// status changed. Returns the current status.
func (p *Prober) Probe(ctx context.Context) string {
	status := StatusConnected
	details := ""
	if err := p.dial(ctx, p.addr); err != nil {
		status = StatusDisconnected
		details = err.Error()
	}

	if status == p.status {
		return status
	}
	old := p.status
	p.status = status
	slog.Info("network status changed", "old", old, "new", status, "addr", p.addr)
	p.bus.Publish(bus.EventNetworkStatusChanged, bus.NetworkPayload{
		Old:     old,
		New:     status,
		Details: details,
	})
	return status
}
