package team

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/acauret/infrastructure-agent/broker"
	"github.com/acauret/infrastructure-agent/event"
	"github.com/acauret/infrastructure-agent/message"
	"github.com/acauret/infrastructure-agent/workbench"
)

// scriptedClient replays canned replies in order, recording the messages it
// was shown for each call.
type scriptedClient struct {
	mu      sync.Mutex
	replies []*message.Message
	seen    [][]*message.Message
}

func (c *scriptedClient) Generate(_ context.Context, req *GenerateRequest) (*GenerateResponse, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.seen = append(c.seen, message.CloneAll(req.Messages))
	if len(c.replies) == 0 {
		return nil, errors.New("script exhausted")
	}
	reply := c.replies[0]
	c.replies = c.replies[1:]
	return &GenerateResponse{Message: reply}, nil
}

func say(text string) *message.Message {
	return message.New(message.RoleAssistant, text)
}

func callTool(name string, args map[string]any) *message.Message {
	return message.NewToolCall("", []message.ToolCall{{ID: "c1", Name: name, Args: args}})
}

type stubConn struct {
	caps   []workbench.Capability
	invoke func(name string, args map[string]any) (string, error)
}

func (c *stubConn) Initialize(context.Context) error { return nil }

func (c *stubConn) ListCapabilities(context.Context) ([]workbench.Capability, error) {
	return c.caps, nil
}

func (c *stubConn) Invoke(_ context.Context, name string, args map[string]any) (string, error) {
	if c.invoke == nil {
		return "", errors.New("no invoke stub")
	}
	return c.invoke(name, args)
}

func (c *stubConn) Close() error { return nil }

type stubDialer struct {
	conns map[workbench.Kind]*stubConn
}

func (d *stubDialer) Dial(_ context.Context, spec workbench.Spec) (workbench.Conn, error) {
	conn, ok := d.conns[spec.Kind]
	if !ok {
		return nil, errors.New("spawn failed")
	}
	return conn, nil
}

func quickSpec(kind workbench.Kind) workbench.Spec {
	return workbench.Spec{
		Kind:    kind,
		Command: "fake",
		Timeouts: workbench.Timeouts{
			Connect: time.Second,
			Init:    time.Second,
			List:    time.Second,
		},
		Retry: workbench.RetryPolicy{Attempts: 1, Backoff: time.Millisecond},
	}
}

func noInput(context.Context, string) (string, error) {
	return "", errors.New("unexpected input request")
}

func TestRunDelegatesExecutesToolsAndTerminates(t *testing.T) {
	conn := &stubConn{
		caps: []workbench.Capability{{Name: "subscription", Description: "manage subscriptions"}},
		invoke: func(name string, args map[string]any) (string, error) {
			if name != "subscription" {
				t.Errorf("unexpected tool %q", name)
			}
			return `{"subscriptions":["sub-1"]}`, nil
		},
	}
	manager := workbench.NewManager(workbench.WithDialer(&stubDialer{
		conns: map[workbench.Kind]*stubConn{workbench.KindAzure: conn},
	}))

	client := &scriptedClient{replies: []*message.Message{
		say("@azure: list the subscriptions"),
		callTool("subscription", map[string]any{"command": "list"}),
		say("Found subscription sub-1."),
		say("All done. TERMINATE"),
	}}

	tm := New(client, manager, []workbench.Spec{quickSpec(workbench.KindAzure)})

	var signals []event.Signal
	err := tm.Run(context.Background(), "list subscriptions", func(sig event.Signal) {
		signals = append(signals, sig)
	}, noInput)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	var sawStatus, sawCall, sawResult bool
	for _, sig := range signals {
		switch sig.Kind {
		case event.KindStatus:
			if strings.Contains(sig.Text, "azure workbench connected") {
				sawStatus = true
			}
		case event.KindToolCall:
			sawCall = len(sig.Calls) == 1 && sig.Calls[0].Name == "subscription"
		case event.KindToolResult:
			sawResult = len(sig.Results) == 1 && strings.Contains(sig.Results[0].Output, "sub-1")
		}
	}
	if !sawStatus {
		t.Error("missing workbench connected status")
	}
	if !sawCall {
		t.Error("missing tool call signal")
	}
	if !sawResult {
		t.Error("missing tool result signal")
	}
}

func TestRunAsksUserAndResumes(t *testing.T) {
	manager := workbench.NewManager(workbench.WithDialer(&stubDialer{}))
	client := &scriptedClient{replies: []*message.Message{
		say("ASK_USER: which environment?"),
		say("Deploying to prod. TERMINATE"),
	}}

	tm := New(client, manager, nil)

	asked := ""
	err := tm.Run(context.Background(), "deploy", func(event.Signal) {}, func(_ context.Context, q string) (string, error) {
		asked = q
		return "prod", nil
	})
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}
	if asked != "which environment?" {
		t.Fatalf("unexpected question %q", asked)
	}

	// The answer must have joined the conversation as the user's message.
	second := client.seen[1]
	found := false
	for _, msg := range second {
		if msg.Role == message.RoleUser && msg.Content == "prod" {
			found = true
		}
	}
	if !found {
		t.Fatal("operator answer never joined the conversation")
	}
}

func TestFailedWorkbenchBecomesStatusNotFailure(t *testing.T) {
	manager := workbench.NewManager(workbench.WithDialer(&stubDialer{}))
	client := &scriptedClient{replies: []*message.Message{
		say("Nothing to do. TERMINATE"),
	}}

	tm := New(client, manager, []workbench.Spec{quickSpec(workbench.KindAzure)})

	var statuses []string
	err := tm.Run(context.Background(), "anything", func(sig event.Signal) {
		if sig.Kind == event.KindStatus {
			statuses = append(statuses, sig.Text)
		}
	}, noInput)
	if err != nil {
		t.Fatalf("run must survive a failed workbench: %v", err)
	}

	found := false
	for _, s := range statuses {
		if strings.Contains(s, "azure workbench unavailable") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected unavailable status, got %v", statuses)
	}
}

func TestUnknownActorGetsCorrected(t *testing.T) {
	manager := workbench.NewManager(workbench.WithDialer(&stubDialer{}))
	client := &scriptedClient{replies: []*message.Message{
		say("@mainframe: reboot everything"),
		say("Understood. TERMINATE"),
	}}

	tm := New(client, manager, nil)
	if err := tm.Run(context.Background(), "reboot", func(event.Signal) {}, noInput); err != nil {
		t.Fatalf("run failed: %v", err)
	}

	second := client.seen[1]
	found := false
	for _, msg := range second {
		if msg.Role == message.RoleUser && strings.Contains(msg.Content, "not available") {
			found = true
		}
	}
	if !found {
		t.Fatal("coordinator was never told the actor is unavailable")
	}
}

func TestMessageLimitEndsRun(t *testing.T) {
	manager := workbench.NewManager(workbench.WithDialer(&stubDialer{}))
	client := &scriptedClient{replies: []*message.Message{
		say("thinking"), say("thinking"), say("thinking"),
		say("thinking"), say("thinking"), say("thinking"),
	}}

	tm := New(client, manager, nil, WithMaxMessages(5))

	var statuses []string
	err := tm.Run(context.Background(), "never ends", func(sig event.Signal) {
		if sig.Kind == event.KindStatus {
			statuses = append(statuses, sig.Text)
		}
	}, noInput)
	if err != nil {
		t.Fatalf("run failed: %v", err)
	}

	found := false
	for _, s := range statuses {
		if strings.Contains(s, "message limit") {
			found = true
		}
	}
	if !found {
		t.Fatalf("expected message limit status, got %v", statuses)
	}
}

func TestStreamedRunSurvivesFailedWorkbench(t *testing.T) {
	conn := &stubConn{caps: []workbench.Capability{{Name: "subscription"}}}
	manager := workbench.NewManager(workbench.WithDialer(&stubDialer{
		conns: map[workbench.Kind]*stubConn{workbench.KindAzure: conn},
	}))
	client := &scriptedClient{replies: []*message.Message{
		say("Nothing needed. TERMINATE"),
	}}
	tm := New(client, manager,
		[]workbench.Spec{quickSpec(workbench.KindAzure), quickSpec(workbench.KindBrowser)})

	b := broker.New(tm)
	stream, err := b.StartTask(context.Background(), "ping")
	if err != nil {
		t.Fatalf("start failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	var events []event.WireEvent
	for ev := range stream.Events(ctx) {
		events = append(events, ev)
	}
	if len(events) == 0 {
		t.Fatal("no events observed")
	}
	if events[0].Type != event.TypeSession {
		t.Fatalf("first event must be the session event, got %+v", events[0])
	}
	if !events[len(events)-1].IsDone() {
		t.Fatalf("last event must be the sentinel, got %+v", events[len(events)-1])
	}

	var okStatus, failStatus bool
	for _, ev := range events {
		if ev.Type == event.TypeError {
			t.Fatalf("a failed workbench must not fail the run: %+v", ev)
		}
		if ev.Type != event.TypeStatus {
			continue
		}
		if strings.Contains(ev.Text, "azure workbench connected") {
			okStatus = true
		}
		if strings.Contains(ev.Text, "browser workbench unavailable") {
			failStatus = true
		}
	}
	if !okStatus || !failStatus {
		t.Fatalf("expected one ok and one failure status, got %+v", events)
	}
}

func TestInfracoderRequiresGitHubAndBrowser(t *testing.T) {
	github := &stubConn{caps: []workbench.Capability{{Name: "create_issue"}}}
	browser := &stubConn{caps: []workbench.Capability{{Name: "browser_navigate"}}}

	manager := workbench.NewManager(workbench.WithDialer(&stubDialer{
		conns: map[workbench.Kind]*stubConn{
			workbench.KindGitHub:  github,
			workbench.KindBrowser: browser,
		},
	}))
	specs := []workbench.Spec{quickSpec(workbench.KindGitHub), quickSpec(workbench.KindBrowser)}

	tm := New(&scriptedClient{}, manager, specs)
	outcomes := manager.ConnectAll(context.Background(), specs, nil)
	actors := tm.buildActors(outcomes)

	ic, ok := actors["infracoder"]
	if !ok {
		t.Fatal("expected infracoder actor when github and browser are both ready")
	}
	names := ic.tools.Names()
	if len(names) != 2 {
		t.Fatalf("expected combined tool set, got %v", names)
	}

	// Without the browser, no infracoder.
	partial := manager.ConnectAll(context.Background(), specs[:1], nil)
	actors = tm.buildActors(partial)
	if _, ok := actors["infracoder"]; ok {
		t.Fatal("infracoder must not exist without the browser workbench")
	}
}
