package workbench

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/cenkalti/backoff/v5"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/acauret/infrastructure-agent/pkg/logging"
	"github.com/acauret/infrastructure-agent/pkg/telemetry"
)

// Stage names a phase of the connect algorithm.
type Stage string

const (
	StageSpawn Stage = "spawn"
	StageInit  Stage = "init"
	StageList  Stage = "list"
)

// ConnectError reports a tool-provider-scoped connect failure. It is never
// fatal to the overall run: the affected provider is simply absent from the
// active set.
type ConnectError struct {
	Kind  Kind
	Stage Stage
	Err   error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("workbench %s: %s stage: %v", e.Kind, e.Stage, e.Err)
}

func (e *ConnectError) Unwrap() error {
	return e.Err
}

// Outcome is the per-spec result of a connect-all pass. Exactly one of
// Handle (Ready) or Err is meaningful.
type Outcome struct {
	Spec   Spec
	Handle *Handle
	Err    error
}

// CheckResult is one entry of the connect-only diagnostic.
type CheckResult struct {
	Kind   Kind   `json:"spec"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

// Manager owns the lifecycle of workbench connections: spawn, handshake,
// capability discovery with retry, and bounded teardown.
type Manager struct {
	dialer Dialer
	logger *slog.Logger
	tracer trace.Tracer
}

// Option configures a Manager.
type Option func(*Manager)

// WithDialer overrides the dialer; mainly useful for tests.
func WithDialer(d Dialer) Option {
	return func(m *Manager) {
		if d != nil {
			m.dialer = d
		}
	}
}

// WithLogger overrides the logger used by the manager.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager constructs a Manager. Without options it dials real MCP stdio
// subprocesses.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		logger: logging.WithComponent("workbench"),
		tracer: telemetry.Tracer("workbench"),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.dialer == nil {
		m.dialer = NewMCPDialer(m.logger)
	}
	return m
}

// Connect brings up one workbench: spawn bounded by the connect timeout,
// initialization bounded by the init timeout, then capability listing retried
// per the spec's policy with each attempt individually bounded. The returned
// handle is Ready on success and Failed otherwise; the handle is returned in
// both cases so callers can inspect the recorded reason.
func (m *Manager) Connect(ctx context.Context, spec Spec) (h *Handle, err error) {
	h = &Handle{
		spec:   spec,
		logger: m.logger,
		tracer: m.tracer,
		state:  StateUnconnected,
	}

	ctx, span := m.tracer.Start(ctx, "workbench.connect", trace.WithAttributes(
		attribute.String("workbench.kind", string(spec.Kind)),
	))
	defer func() { telemetry.End(span, err) }()

	if verr := spec.Validate(); verr != nil {
		h.fail(verr.Error())
		return h, &ConnectError{Kind: spec.Kind, Stage: StageSpawn, Err: verr}
	}

	h.transition(StateConnecting)
	dialCtx, cancel := context.WithTimeout(ctx, spec.Timeouts.Connect)
	conn, derr := m.dialer.Dial(dialCtx, spec)
	cancel()
	if derr != nil {
		reason := stageReason("startup", derr)
		h.fail(reason)
		m.logger.Warn("workbench spawn failed", "kind", spec.Kind, "reason", reason)
		return h, &ConnectError{Kind: spec.Kind, Stage: StageSpawn, Err: derr}
	}

	h.transition(StateInitializing)
	initCtx, cancel := context.WithTimeout(ctx, spec.Timeouts.Init)
	ierr := conn.Initialize(initCtx)
	cancel()
	if ierr != nil {
		reason := stageReason("initialization", ierr)
		h.fail(reason)
		m.releaseConn(spec.Kind, conn)
		m.logger.Warn("workbench init failed", "kind", spec.Kind, "reason", reason)
		return h, &ConnectError{Kind: spec.Kind, Stage: StageInit, Err: ierr}
	}

	h.transition(StateListing)
	caps, lerr := backoff.Retry(ctx, func() ([]Capability, error) {
		attemptCtx, cancel := context.WithTimeout(ctx, spec.Timeouts.List)
		defer cancel()
		return conn.ListCapabilities(attemptCtx)
	},
		backoff.WithBackOff(backoff.NewConstantBackOff(spec.Retry.Backoff)),
		backoff.WithMaxTries(spec.Retry.Attempts),
	)
	if lerr != nil {
		reason := fmt.Sprintf("listCapabilities failed after retries: %v", lerr)
		h.fail(reason)
		m.releaseConn(spec.Kind, conn)
		m.logger.Warn("workbench listing failed", "kind", spec.Kind, "reason", reason)
		return h, &ConnectError{Kind: spec.Kind, Stage: StageList, Err: lerr}
	}

	h.ready(conn, caps)
	m.logger.Info("workbench ready", "kind", spec.Kind, "capabilities", len(caps))
	return h, nil
}

// ConnectAll connects every spec independently so one slow or broken provider
// never blocks another. The observe callback, when non-nil, fires as each
// outcome resolves; the returned slice preserves spec order.
func (m *Manager) ConnectAll(ctx context.Context, specs []Spec, observe func(Outcome)) []Outcome {
	outcomes := make([]Outcome, len(specs))

	var (
		wg sync.WaitGroup
		mu sync.Mutex
	)
	for i, spec := range specs {
		wg.Add(1)
		go func(i int, spec Spec) {
			defer wg.Done()
			handle, err := m.Connect(ctx, spec)
			out := Outcome{Spec: spec, Handle: handle, Err: err}
			outcomes[i] = out
			if observe != nil {
				mu.Lock()
				observe(out)
				mu.Unlock()
			}
		}(i, spec)
	}
	wg.Wait()
	return outcomes
}

// Check runs the connect-only diagnostic for every spec: attempt the full
// connect algorithm, report the outcome, and tear the connection straight
// back down. No task is started.
func (m *Manager) Check(ctx context.Context, specs []Spec) []CheckResult {
	outcomes := m.ConnectAll(ctx, specs, nil)

	results := make([]CheckResult, len(outcomes))
	for i, out := range outcomes {
		res := CheckResult{Kind: out.Spec.Kind, Status: "ok"}
		if out.Err != nil {
			res.Status = "error"
			res.Error = out.Err.Error()
		}
		results[i] = res
		if out.Handle != nil {
			out.Handle.Close()
		}
	}
	return results
}

// CloseAll releases handles innermost-first (reverse acquisition order).
// Every handle that reached at least Connecting is released; errors are
// recorded by the handles, never raised.
func (m *Manager) CloseAll(handles []*Handle) {
	for i := len(handles) - 1; i >= 0; i-- {
		if handles[i] != nil {
			handles[i].Close()
		}
	}
}

func (m *Manager) releaseConn(kind Kind, conn Conn) {
	if conn == nil {
		return
	}
	if err := conn.Close(); err != nil {
		m.logger.Warn("workbench teardown error", "kind", kind, "error", err)
	}
}

func stageReason(stage string, err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return stage + " timeout"
	}
	return fmt.Sprintf("%s error: %v", stage, err)
}
