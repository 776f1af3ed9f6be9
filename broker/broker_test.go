package broker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/acauret/infrastructure-agent/archive/store"
	agenterrors "github.com/acauret/infrastructure-agent/errors"
	"github.com/acauret/infrastructure-agent/event"
)

type runnerFunc func(ctx context.Context, task string, emit func(event.Signal), requestInput func(ctx context.Context, prompt string) (string, error)) error

func (f runnerFunc) Run(ctx context.Context, task string, emit func(event.Signal), requestInput func(ctx context.Context, prompt string) (string, error)) error {
	return f(ctx, task, emit, requestInput)
}

func collect(t *testing.T, s *Stream) []event.WireEvent {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []event.WireEvent
	for ev := range s.Events(ctx) {
		events = append(events, ev)
	}
	return events
}

func TestStreamBeginsWithSessionAndEndsWithDone(t *testing.T) {
	b := New(runnerFunc(func(ctx context.Context, task string, emit func(event.Signal), _ func(context.Context, string) (string, error)) error {
		emit(event.Signal{Kind: event.KindMessage, Agent: "coordinator", Text: "working on " + task})
		return nil
	}))

	stream, err := b.StartTask(context.Background(), "list subscriptions")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	events := collect(t, stream)
	if len(events) < 3 {
		t.Fatalf("expected at least 3 events, got %v", events)
	}
	if events[0].Type != event.TypeSession || events[0].ID != stream.ID() {
		t.Fatalf("first event must be the session event, got %+v", events[0])
	}
	last := events[len(events)-1]
	if !last.IsDone() {
		t.Fatalf("last event must be the sentinel, got %+v", last)
	}
}

func TestTaskErrorBecomesErrorEventThenSentinel(t *testing.T) {
	b := New(runnerFunc(func(context.Context, string, func(event.Signal), func(context.Context, string) (string, error)) error {
		return errors.New("model unavailable")
	}))

	stream, err := b.StartTask(context.Background(), "anything")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	events := collect(t, stream)
	n := len(events)
	if n < 3 {
		t.Fatalf("expected session, error, done; got %v", events)
	}
	if events[n-2].Type != event.TypeError || events[n-2].Text != "model unavailable" {
		t.Fatalf("expected error event before sentinel, got %+v", events[n-2])
	}
	if !events[n-1].IsDone() {
		t.Fatalf("expected sentinel last, got %+v", events[n-1])
	}
}

func TestPanicIsAbsorbed(t *testing.T) {
	b := New(runnerFunc(func(context.Context, string, func(event.Signal), func(context.Context, string) (string, error)) error {
		panic("boom")
	}))

	stream, err := b.StartTask(context.Background(), "anything")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	events := collect(t, stream)
	n := len(events)
	if events[n-2].Type != event.TypeError {
		t.Fatalf("expected error event from panic, got %+v", events[n-2])
	}
	if !events[n-1].IsDone() {
		t.Fatalf("expected sentinel after panic, got %+v", events[n-1])
	}
}

func TestSubmitInputUnblocksTask(t *testing.T) {
	got := make(chan string, 1)
	b := New(runnerFunc(func(ctx context.Context, _ string, _ func(event.Signal), requestInput func(context.Context, string) (string, error)) error {
		answer, err := requestInput(ctx, "which subscription?")
		if err != nil {
			return err
		}
		got <- answer
		return nil
	}))

	stream, err := b.StartTask(context.Background(), "deploy")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	sawRequest := false
	for ev := range stream.Events(ctx) {
		if ev.Type == event.TypeInputRequest {
			sawRequest = true
			if ev.Prompt != "which subscription?" {
				t.Fatalf("unexpected prompt %q", ev.Prompt)
			}
			if err := b.SubmitInput(stream.ID(), "prod"); err != nil {
				t.Fatalf("submit failed: %v", err)
			}
		}
		if ev.IsDone() {
			break
		}
	}
	if !sawRequest {
		t.Fatal("never saw the input request event")
	}

	select {
	case answer := <-got:
		if answer != "prod" {
			t.Fatalf("task received %q, want prod", answer)
		}
	case <-time.After(time.Second):
		t.Fatal("task never received the input")
	}
}

func TestSubmitInputUnknownSession(t *testing.T) {
	b := New(runnerFunc(func(context.Context, string, func(event.Signal), func(context.Context, string) (string, error)) error {
		return nil
	}))

	err := b.SubmitInput("no-such-session", "hello")
	if !errors.Is(err, agenterrors.ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestStartTaskRejectsEmptyPrompt(t *testing.T) {
	b := New(runnerFunc(func(context.Context, string, func(event.Signal), func(context.Context, string) (string, error)) error {
		return nil
	}))

	if _, err := b.StartTask(context.Background(), "  "); !errors.Is(err, agenterrors.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestCloseCancelsTaskContext(t *testing.T) {
	canceled := make(chan struct{})
	b := New(runnerFunc(func(ctx context.Context, _ string, _ func(event.Signal), _ func(context.Context, string) (string, error)) error {
		<-ctx.Done()
		close(canceled)
		return ctx.Err()
	}))

	stream, err := b.StartTask(context.Background(), "long running")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	stream.Close()

	select {
	case <-canceled:
	case <-time.After(time.Second):
		t.Fatal("closing the stream did not cancel the task context")
	}
	if err := b.SubmitInput(stream.ID(), "late"); !errors.Is(err, agenterrors.ErrSessionNotFound) {
		t.Fatalf("expected closed session to be deregistered, got %v", err)
	}
}

func TestChunksCoalesceOnTheWire(t *testing.T) {
	b := New(runnerFunc(func(_ context.Context, _ string, emit func(event.Signal), _ func(context.Context, string) (string, error)) error {
		emit(event.Signal{Kind: event.KindChunk, Agent: "azure", Text: "partial "})
		emit(event.Signal{Kind: event.KindChunk, Agent: "azure", Text: "answer"})
		return nil
	}))

	stream, err := b.StartTask(context.Background(), "stream something")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	var chunks []event.WireEvent
	for _, ev := range collect(t, stream) {
		if ev.Type == event.TypeChunk {
			chunks = append(chunks, ev)
		}
	}
	if len(chunks) != 1 || chunks[0].Text != "partial answer" {
		t.Fatalf("expected one coalesced chunk, got %+v", chunks)
	}
}

func TestCompletedRunIsArchived(t *testing.T) {
	runs := store.NewInMemoryStore()
	b := New(runnerFunc(func(_ context.Context, _ string, emit func(event.Signal), _ func(context.Context, string) (string, error)) error {
		emit(event.Signal{Kind: event.KindMessage, Agent: "coordinator", Text: "done"})
		return nil
	}), WithArchive(runs))

	stream, err := b.StartTask(context.Background(), "archive me")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}
	collect(t, stream)

	deadline := time.Now().Add(2 * time.Second)
	for {
		run, err := runs.LoadRun(context.Background(), stream.ID())
		if err == nil {
			if run.Prompt != "archive me" {
				t.Fatalf("unexpected prompt %q", run.Prompt)
			}
			if len(run.Events) == 0 || !run.Events[len(run.Events)-1].IsDone() {
				t.Fatalf("archived events must end with the sentinel: %+v", run.Events)
			}
			if run.Transcript == "" {
				t.Fatal("expected a rendered transcript")
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("run never archived: %v", err)
		}
		time.Sleep(10 * time.Millisecond)
	}
}
