package broker

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/acauret/infrastructure-agent/archive"
	agenterrors "github.com/acauret/infrastructure-agent/errors"
	"github.com/acauret/infrastructure-agent/event"
	"github.com/acauret/infrastructure-agent/pkg/logging"
	"github.com/acauret/infrastructure-agent/pkg/telemetry"
)

const archiveTimeout = 10 * time.Second

// TaskRunner executes one task against the active tool providers. It reports
// progress through emit and may pause for operator input through
// requestInput; both are only valid for the duration of Run.
type TaskRunner interface {
	Run(ctx context.Context, task string, emit func(event.Signal), requestInput func(ctx context.Context, prompt string) (string, error)) error
}

// Session is one in-flight task with its outbound event queue and inbound
// input queue.
type Session struct {
	ID string

	prompt    string
	startedAt time.Time
	out       *queue[event.WireEvent]
	in        *queue[string]
	cancel    context.CancelFunc

	mu  sync.Mutex
	log []event.WireEvent
}

func (s *Session) emit(ev event.WireEvent) {
	s.mu.Lock()
	s.log = append(s.log, ev)
	s.mu.Unlock()
	s.out.push(ev)
}

func (s *Session) snapshot() []event.WireEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	evs := make([]event.WireEvent, len(s.log))
	copy(evs, s.log)
	return evs
}

// Broker owns the registry of in-flight sessions and supervises one task
// goroutine per session.
type Broker struct {
	runner  TaskRunner
	store   archive.Store
	logger  *slog.Logger
	tracer  trace.Tracer
	limit   chan struct{}

	mu       sync.RWMutex
	sessions map[string]*Session
}

// Option configures a Broker.
type Option func(*Broker)

// WithArchive records every completed run to the given store.
func WithArchive(store archive.Store) Option {
	return func(b *Broker) { b.store = store }
}

// WithLogger overrides the broker's logger.
func WithLogger(logger *slog.Logger) Option {
	return func(b *Broker) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithConcurrencyLimit caps the number of simultaneously running tasks.
// StartTask blocks while the limit is reached.
func WithConcurrencyLimit(n int) Option {
	return func(b *Broker) {
		if n > 0 {
			b.limit = make(chan struct{}, n)
		}
	}
}

// New constructs a Broker around the given runner.
func New(runner TaskRunner, opts ...Option) *Broker {
	b := &Broker{
		runner:   runner,
		logger:   logging.WithComponent("broker"),
		tracer:   telemetry.Tracer("broker"),
		sessions: make(map[string]*Session),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// StartTask registers a new session and launches its supervised task
// goroutine. The session event is enqueued before the goroutine starts, so
// it is always the first event a consumer sees; the done sentinel is always
// the last, whatever the task did.
func (b *Broker) StartTask(ctx context.Context, prompt string) (*Stream, error) {
	if strings.TrimSpace(prompt) == "" {
		return nil, fmt.Errorf("broker: empty task: %w", agenterrors.ErrInvalidInput)
	}
	if b.limit != nil {
		select {
		case b.limit <- struct{}{}:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	// The session outlives the HTTP request that started it; only the
	// stream's own lifecycle cancels it.
	taskCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	sess := &Session{
		ID:        uuid.NewString(),
		prompt:    prompt,
		startedAt: time.Now().UTC(),
		out:       newQueue[event.WireEvent](),
		in:        newQueue[string](),
		cancel:    cancel,
	}
	sess.emit(event.Session(sess.ID))
	sess.emit(event.Request(prompt))

	b.mu.Lock()
	b.sessions[sess.ID] = sess
	b.mu.Unlock()

	go b.runTask(taskCtx, sess, prompt)

	b.logger.Info("task started", "session", sess.ID)
	return &Stream{broker: b, session: sess}, nil
}

func (b *Broker) runTask(ctx context.Context, sess *Session, prompt string) {
	ctx, span := b.tracer.Start(ctx, "broker.task", trace.WithAttributes(
		attribute.String("session.id", sess.ID),
	))

	norm := event.NewNormalizer(b.logger)
	emit := func(sig event.Signal) {
		for _, ev := range norm.Push(sig) {
			sess.emit(ev)
		}
	}
	requestInput := func(ctx context.Context, question string) (string, error) {
		for _, ev := range norm.Flush() {
			sess.emit(ev)
		}
		sess.emit(event.InputRequest(question))
		return sess.in.pop(ctx)
	}

	var runErr error
	defer func() {
		r := recover()
		for _, ev := range norm.Flush() {
			sess.emit(ev)
		}
		if r != nil {
			runErr = fmt.Errorf("task panic: %v", r)
			b.logger.Error("task panicked", "session", sess.ID, "panic", r)
			sess.emit(event.Error(runErr.Error()))
		}
		sess.emit(event.Done())
		telemetry.End(span, runErr)
		b.archiveRun(sess)
		if b.limit != nil {
			<-b.limit
		}
	}()

	runErr = b.runner.Run(ctx, prompt, emit, requestInput)
	if runErr != nil {
		for _, ev := range norm.Flush() {
			sess.emit(ev)
		}
		if errors.Is(runErr, context.Canceled) {
			b.logger.Info("task canceled", "session", sess.ID)
		} else {
			b.logger.Warn("task failed", "session", sess.ID, "error", runErr)
			sess.emit(event.Error(runErr.Error()))
		}
	}
}

// SubmitInput delivers operator input to an in-flight session. It returns
// immediately after enqueueing; whether and when the task consumes the input
// is the task's business.
func (b *Broker) SubmitInput(id, text string) error {
	b.mu.RLock()
	sess, ok := b.sessions[id]
	b.mu.RUnlock()
	if !ok {
		return fmt.Errorf("broker: session %s: %w", id, agenterrors.ErrSessionNotFound)
	}
	sess.in.push(text)
	b.logger.Debug("input submitted", "session", id)
	return nil
}

func (b *Broker) remove(id string) {
	b.mu.Lock()
	delete(b.sessions, id)
	b.mu.Unlock()
}

func (b *Broker) archiveRun(sess *Session) {
	if b.store == nil {
		return
	}

	events := sess.snapshot()
	var transcript strings.Builder
	tw := event.NewTranscriptWriter(&transcript)
	for _, ev := range events {
		if err := tw.Write(ev); err != nil {
			b.logger.Warn("transcript rendering failed", "session", sess.ID, "error", err)
			break
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), archiveTimeout)
	defer cancel()
	run := &archive.Run{
		ID:          sess.ID,
		Prompt:      sess.prompt,
		StartedAt:   sess.startedAt,
		CompletedAt: time.Now().UTC(),
		Events:      events,
		Transcript:  transcript.String(),
	}
	if err := b.store.SaveRun(ctx, run); err != nil {
		b.logger.Warn("run archiving failed", "session", sess.ID, "error", err)
	}
}

// Stream is the consumer's view of a session.
type Stream struct {
	broker  *Broker
	session *Session
}

// ID returns the session identifier.
func (s *Stream) ID() string {
	return s.session.ID
}

// Events drains the session's outbound queue in order. The sequence ends
// after the done sentinel is yielded, or early when ctx is done or the
// consumer stops; in every case the session is deregistered.
func (s *Stream) Events(ctx context.Context) iter.Seq[event.WireEvent] {
	return func(yield func(event.WireEvent) bool) {
		defer s.broker.remove(s.session.ID)
		for {
			ev, err := s.session.out.pop(ctx)
			if err != nil {
				return
			}
			if !yield(ev) {
				return
			}
			if ev.IsDone() {
				return
			}
		}
	}
}

// Close cancels the session's task context and deregisters the session.
// Consumers that drain to the sentinel do not need to call it; it exists for
// abandoning a stream mid-flight.
func (s *Stream) Close() {
	s.session.cancel()
	s.broker.remove(s.session.ID)
}
