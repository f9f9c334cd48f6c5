// Package hardware resolves the stable installation identifier that keys the
// server's memory and interrupt state. The OS machine id is preferred; when
// the platform refuses to provide one, a random UUID is generated once and
// cached under the state directory so the identity survives restarts.
package hardware

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/denisbrodbeck/machineid"
	"github.com/google/uuid"

	"github.com/parla-assistant/parla/internal/bus"
)

// appKey salts the machine id so Parla's identifier cannot be correlated
// with other applications' hashes of the same machine.
const appKey = "parla"

// cacheFile is the fallback-UUID cache name under the state directory.
const cacheFile = "hardware_id"

// Option configures a [Resolver] during construction.
type Option func(*Resolver)

// WithMachineID replaces the OS machine-id source. Tests use this to force
// the fallback path.
func WithMachineID(fn func(string) (string, error)) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.machineID = fn
		}
	}
}

// Resolver produces the installation's hardware id. Safe for concurrent use;
// the id is resolved once and memoised.
type Resolver struct {
	stateDir  string
	machineID func(appID string) (string, error)

	once sync.Once
	id   string
	src  string
	err  error
}

// NewResolver creates a Resolver caching its fallback UUID under stateDir.
func NewResolver(stateDir string, opts ...Option) *Resolver {
	r := &Resolver{
		stateDir:  stateDir,
		machineID: machineid.ProtectedID,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// ID returns the stable hardware id, resolving it on first call.
func (r *Resolver) ID() (string, error) {
	r.once.Do(func() {
		r.id, r.src, r.err = r.resolve()
	})
	return r.id, r.err
}

// Source reports where the id came from: "machine_id", "cache", or
// "generated". Empty before the first ID call.
func (r *Resolver) Source() string {
	return r.src
}

func (r *Resolver) resolve() (string, string, error) {
	if id, err := r.machineID(appKey); err == nil && id != "" {
		return id, "machine_id", nil
	} else if err != nil {
		slog.Warn("machine id unavailable, falling back to cached uuid", "error", err)
	}

	path := filepath.Join(r.stateDir, cacheFile)
	if raw, err := os.ReadFile(path); err == nil {
		if id := strings.TrimSpace(string(raw)); id != "" {
			return id, "cache", nil
		}
	}

	id := uuid.NewString()
	if err := os.MkdirAll(r.stateDir, 0o700); err != nil {
		return "", "", fmt.Errorf("hardware: create state dir: %w", err)
	}
	if err := os.WriteFile(path, []byte(id+"\n"), 0o600); err != nil {
		return "", "", fmt.Errorf("hardware: cache hardware id: %w", err)
	}
	return id, "generated", nil
}

// Attach wires the resolver to the bus: hardware.id_request is answered with
// hardware.id_response, and hardware.id_obtained is published once right away
// so early subscribers learn the identity without asking.
func (r *Resolver) Attach(b *bus.Bus) error {
	id, err := r.ID()
	if err != nil {
		return err
	}
	b.Subscribe(bus.EventHardwareIDRequest, func(bus.Event) {
		b.Publish(bus.EventHardwareIDResponse, bus.HardwareIDPayload{UUID: id, Source: r.src})
	})
	b.Publish(bus.EventHardwareIDObtained, bus.HardwareIDPayload{UUID: id, Source: r.src})
	return nil
}
