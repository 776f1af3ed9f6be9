package server

import (
	"bufio"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/acauret/infrastructure-agent/broker"
	"github.com/acauret/infrastructure-agent/event"
	"github.com/acauret/infrastructure-agent/workbench"
)

type stubRunner struct {
	run func(ctx context.Context, task string, emit func(event.Signal), requestInput func(context.Context, string) (string, error)) error
}

func (s *stubRunner) Run(ctx context.Context, task string, emit func(event.Signal), requestInput func(context.Context, string) (string, error)) error {
	if s.run == nil {
		return nil
	}
	return s.run(ctx, task, emit, requestInput)
}

func newTestServer(runner broker.TaskRunner) *Server {
	b := broker.New(runner)
	manager := workbench.NewManager()
	return New(b, manager, nil)
}

func TestHealth(t *testing.T) {
	srv := newTestServer(&stubRunner{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/health")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["status"] != "ok" {
		t.Fatalf("unexpected body %v", body)
	}
}

func TestRunStreamsNDJSON(t *testing.T) {
	runner := &stubRunner{
		run: func(_ context.Context, task string, emit func(event.Signal), _ func(context.Context, string) (string, error)) error {
			emit(event.Signal{Kind: event.KindMessage, Agent: "coordinator", Text: "handling " + task})
			return nil
		},
	}
	srv := newTestServer(runner)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/run", "application/json",
		strings.NewReader(`{"prompt":"list subscriptions"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}
	if ct := resp.Header.Get("Content-Type"); ct != "application/x-ndjson" {
		t.Fatalf("expected NDJSON content type, got %s", ct)
	}

	var events []event.WireEvent
	scanner := bufio.NewScanner(resp.Body)
	for scanner.Scan() {
		var ev event.WireEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("line is not valid JSON: %q", scanner.Text())
		}
		events = append(events, ev)
	}

	if len(events) < 3 {
		t.Fatalf("expected at least 3 events, got %v", events)
	}
	if events[0].Type != event.TypeSession || events[0].ID == "" {
		t.Fatalf("first line must be the session event, got %+v", events[0])
	}
	if !events[len(events)-1].IsDone() {
		t.Fatalf("last line must be the sentinel, got %+v", events[len(events)-1])
	}
}

func TestRunRejectsEmptyPrompt(t *testing.T) {
	srv := newTestServer(&stubRunner{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/run", "application/json", strings.NewReader(`{"prompt":"  "}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.StatusCode)
	}
}

func TestInputUnknownSessionIs404(t *testing.T) {
	srv := newTestServer(&stubRunner{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/input", "application/json",
		strings.NewReader(`{"session":"ghost","text":"hello"}`))
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}

	var body map[string]string
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if body["error"] == "" {
		t.Fatal("expected a JSON error body")
	}
}

func TestInputReachesRunningSession(t *testing.T) {
	got := make(chan string, 1)
	runner := &stubRunner{
		run: func(ctx context.Context, _ string, _ func(event.Signal), requestInput func(context.Context, string) (string, error)) error {
			answer, err := requestInput(ctx, "proceed?")
			if err != nil {
				return err
			}
			got <- answer
			return nil
		},
	}
	srv := newTestServer(runner)
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Post(ts.URL+"/run", "application/json", strings.NewReader(`{"prompt":"deploy"}`))
	if err != nil {
		t.Fatalf("run request failed: %v", err)
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	var sessionID string
	for scanner.Scan() {
		var ev event.WireEvent
		if err := json.Unmarshal(scanner.Bytes(), &ev); err != nil {
			t.Fatalf("bad NDJSON line %q", scanner.Text())
		}
		if ev.Type == event.TypeSession {
			sessionID = ev.ID
		}
		if ev.Type == event.TypeInputRequest {
			inputResp, err := http.Post(ts.URL+"/input", "application/json",
				strings.NewReader(`{"session":"`+sessionID+`","text":"yes"}`))
			if err != nil {
				t.Fatalf("input request failed: %v", err)
			}
			inputResp.Body.Close()
			if inputResp.StatusCode != http.StatusOK {
				t.Fatalf("expected 200 for input, got %d", inputResp.StatusCode)
			}
		}
		if ev.IsDone() {
			break
		}
	}

	select {
	case answer := <-got:
		if answer != "yes" {
			t.Fatalf("task received %q, want yes", answer)
		}
	default:
		t.Fatal("task never received the input")
	}
}

func TestMCPCheckShape(t *testing.T) {
	srv := newTestServer(&stubRunner{})
	ts := httptest.NewServer(srv.Handler())
	defer ts.Close()

	resp, err := http.Get(ts.URL + "/mcp-check")
	if err != nil {
		t.Fatalf("request failed: %v", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	var body struct {
		Results []workbench.CheckResult `json:"results"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if len(body.Results) != 0 {
		t.Fatalf("expected no results without specs, got %v", body.Results)
	}
}
