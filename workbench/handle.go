package workbench

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	agenterrors "github.com/acauret/infrastructure-agent/errors"
	"github.com/acauret/infrastructure-agent/pkg/telemetry"
)

// State is the lifecycle state of a handle.
type State string

const (
	StateUnconnected  State = "unconnected"
	StateConnecting   State = "connecting"
	StateInitializing State = "initializing"
	StateListing      State = "listing"
	StateReady        State = "ready"
	StateFailed       State = "failed"
)

const closeTimeout = 5 * time.Second

// Handle is the runtime object bound 1:1 to a spec after a successful
// connect. A Failed handle is inert: it is excluded from the active set but
// never aborts sibling handles.
type Handle struct {
	spec   Spec
	logger *slog.Logger
	tracer trace.Tracer

	mu     sync.RWMutex
	state  State
	reason string
	conn   Conn
	caps   []Capability

	closeOnce sync.Once
}

// Spec returns the immutable spec this handle was built from.
func (h *Handle) Spec() Spec {
	return h.spec
}

// Kind returns the spec's label.
func (h *Handle) Kind() Kind {
	return h.spec.Kind
}

// State returns the current lifecycle state.
func (h *Handle) State() State {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.state
}

// FailureReason returns the recorded failure reason, if any.
func (h *Handle) FailureReason() string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.reason
}

// Capabilities returns the capabilities discovered during connect.
func (h *Handle) Capabilities() []Capability {
	h.mu.RLock()
	defer h.mu.RUnlock()
	caps := make([]Capability, len(h.caps))
	copy(caps, h.caps)
	return caps
}

// CapabilityNames returns just the discovered capability names.
func (h *Handle) CapabilityNames() []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	names := make([]string, len(h.caps))
	for i, c := range h.caps {
		names[i] = c.Name
	}
	return names
}

// Invoke calls a capability on a Ready handle.
func (h *Handle) Invoke(ctx context.Context, name string, args map[string]any) (_ string, err error) {
	h.mu.RLock()
	conn, state := h.conn, h.state
	h.mu.RUnlock()

	if state != StateReady || conn == nil {
		return "", agenterrors.ErrWorkbenchUnavailable
	}

	ctx, span := h.tracer.Start(ctx, "workbench.invoke", trace.WithAttributes(
		attribute.String("workbench.kind", string(h.spec.Kind)),
		attribute.String("capability", name),
	))
	defer func() { telemetry.End(span, err) }()

	return conn.Invoke(ctx, name, args)
}

// Close releases the handle's connection. It is idempotent, bounded by a
// short timeout, and never returns an error: teardown runs during cleanup
// where the original error, if any, already dominates.
func (h *Handle) Close() {
	h.closeOnce.Do(func() {
		h.mu.Lock()
		conn := h.conn
		h.conn = nil
		if h.state != StateFailed {
			h.state = StateUnconnected
		}
		h.mu.Unlock()

		if conn == nil {
			return
		}

		done := make(chan error, 1)
		go func() { done <- conn.Close() }()
		select {
		case err := <-done:
			if err != nil {
				h.logger.Warn("workbench teardown error", "kind", h.spec.Kind, "error", err)
			}
		case <-time.After(closeTimeout):
			h.logger.Warn("workbench teardown timed out", "kind", h.spec.Kind)
		}
	})
}

func (h *Handle) transition(state State) {
	h.mu.Lock()
	h.state = state
	h.mu.Unlock()
}

func (h *Handle) fail(reason string) {
	h.mu.Lock()
	h.state = StateFailed
	h.reason = reason
	h.mu.Unlock()
}

func (h *Handle) ready(conn Conn, caps []Capability) {
	h.mu.Lock()
	h.state = StateReady
	h.conn = conn
	h.caps = caps
	h.mu.Unlock()
}
