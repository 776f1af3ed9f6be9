package event

import (
	"encoding/json"
	"log/slog"
	"strings"

	"github.com/acauret/infrastructure-agent/pkg/logging"
)

// Signal kinds emitted by the task runner. Anything whose kind carries the
// chunk marker is a partial-content fragment; anything else that matches no
// known shape falls through to a fallback event.
const (
	KindMessage    = "message"
	KindStatus     = "status"
	KindChunk      = "model_chunk"
	KindToolCall   = "tool_call"
	KindToolResult = "tool_result"

	chunkMarker = "chunk"
)

// RawCall is one capability request inside a raw signal.
type RawCall struct {
	Name string
	Args map[string]any
}

// RawResult is one capability outcome inside a raw signal.
type RawResult struct {
	Name   string
	Output string
}

// Signal is one raw progress update from the task runner, before
// normalization.
type Signal struct {
	Kind    string
	Agent   string
	Text    string
	Calls   []RawCall
	Results []RawResult
}

// Normalizer converts raw signals into wire events, coalescing runs of
// partial-content fragments per agent so a consumer never sees a sequence of
// one-token events.
type Normalizer struct {
	logger *slog.Logger

	bufAgent string
	buf      strings.Builder
}

// NewNormalizer constructs a Normalizer.
func NewNormalizer(logger *slog.Logger) *Normalizer {
	if logger == nil {
		logger = logging.WithComponent("normalizer")
	}
	return &Normalizer{logger: logger}
}

// Push classifies one raw signal. It may return zero events (fragment
// absorbed into the buffer), one, or two (buffered fragments flushed ahead of
// the new signal's event).
func (n *Normalizer) Push(sig Signal) []WireEvent {
	if strings.Contains(sig.Kind, chunkMarker) {
		var out []WireEvent
		if n.buf.Len() > 0 && n.bufAgent != sig.Agent {
			out = append(out, n.drain()...)
		}
		n.bufAgent = sig.Agent
		n.buf.WriteString(sig.Text)
		return out
	}

	out := n.drain()
	if ev, ok := n.classify(sig); ok {
		out = append(out, ev)
	}
	return out
}

// Flush emits any buffered fragments. Call at end of stream so a trailing
// fragment run is never lost.
func (n *Normalizer) Flush() []WireEvent {
	return n.drain()
}

func (n *Normalizer) drain() []WireEvent {
	if n.buf.Len() == 0 {
		return nil
	}
	ev := Chunk(n.bufAgent, n.buf.String())
	n.buf.Reset()
	n.bufAgent = ""
	return []WireEvent{ev}
}

func (n *Normalizer) classify(sig Signal) (WireEvent, bool) {
	switch {
	case len(sig.Calls) > 0:
		calls := make([]Call, 0, len(sig.Calls))
		for _, c := range sig.Calls {
			calls = append(calls, Call{Name: c.Name, Arguments: encodeArgs(c.Args)})
		}
		return ToolCall(sig.Agent, calls), true
	case len(sig.Results) > 0:
		results := make([]Result, 0, len(sig.Results))
		for _, r := range sig.Results {
			results = append(results, Result{Name: r.Name, Output: parseOutput(r.Output)})
		}
		return ToolResult(sig.Agent, results), true
	case sig.Kind == KindMessage:
		return Message(sig.Agent, sig.Text), true
	case sig.Kind == KindStatus:
		return Status(sig.Text), true
	default:
		// Safety valve: never drop an unrecognized upstream shape, but flag
		// it so it can be classified later.
		n.logger.Warn("unclassified signal", "kind", sig.Kind, "agent", sig.Agent)
		return Fallback(sig.Agent, sig.Kind, sig.Text), true
	}
}

func encodeArgs(args map[string]any) string {
	if len(args) == 0 {
		return "{}"
	}
	data, err := json.Marshal(args)
	if err != nil {
		return "{}"
	}
	return string(data)
}
