package team

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/acauret/infrastructure-agent/event"
	"github.com/acauret/infrastructure-agent/message"
	"github.com/acauret/infrastructure-agent/tool"
)

// maxToolIterations caps the tool loop for one actor turn.
const maxToolIterations = 10

// Actor is one named participant: a system prompt, a model client, and the
// tools it may call.
type Actor struct {
	Name         string
	SystemPrompt string

	client ModelClient
	tools  *tool.Registry
	logger *slog.Logger
}

// NewActor constructs an actor. A nil registry means the actor has no tools.
func NewActor(name, systemPrompt string, client ModelClient, tools *tool.Registry, logger *slog.Logger) *Actor {
	if tools == nil {
		tools = tool.NewRegistry()
	}
	return &Actor{
		Name:         name,
		SystemPrompt: systemPrompt,
		client:       client,
		tools:        tools,
		logger:       logger,
	}
}

// Respond produces the actor's next message given the shared conversation.
// Tool calls are resolved inline, up to the iteration cap; every call and
// result is reported through emit as it happens.
func (a *Actor) Respond(ctx context.Context, history []*message.Message, emit func(event.Signal)) (*message.Message, error) {
	msgs := make([]*message.Message, 0, len(history)+1)
	msgs = append(msgs, message.New(message.RoleSystem, a.SystemPrompt))
	msgs = append(msgs, history...)

	tools := a.tools.ToJSONSchemas()

	for iteration := 0; iteration < maxToolIterations; iteration++ {
		reply, err := a.generate(ctx, msgs, tools, emit)
		if err != nil {
			return nil, fmt.Errorf("team: actor %s: %w", a.Name, err)
		}

		if len(reply.ToolCalls) == 0 {
			reply.Agent = a.Name
			return reply, nil
		}

		a.reportCalls(reply.ToolCalls, emit)
		msgs = append(msgs, reply)
		msgs = append(msgs, a.resolveCalls(ctx, reply.ToolCalls, emit)...)
	}

	// Iteration budget spent; ask for a plain answer with no tools offered.
	a.logger.Warn("tool iteration budget exhausted", "actor", a.Name)
	reply, err := a.generate(ctx, msgs, nil, emit)
	if err != nil {
		return nil, fmt.Errorf("team: actor %s: %w", a.Name, err)
	}
	reply.Agent = a.Name
	return reply, nil
}

func (a *Actor) generate(ctx context.Context, msgs []*message.Message, tools []map[string]any, emit func(event.Signal)) (*message.Message, error) {
	req := &GenerateRequest{Messages: msgs, Tools: tools}

	if sc, ok := a.client.(StreamingModelClient); ok {
		var final *message.Message
		for msg, err := range sc.GenerateStream(ctx, req) {
			if err != nil {
				return nil, err
			}
			if msg.Completed {
				final = msg
				continue
			}
			emit(event.Signal{Kind: event.KindChunk, Agent: a.Name, Text: msg.Content})
		}
		if final == nil {
			return nil, fmt.Errorf("stream ended without a final message")
		}
		return final, nil
	}

	resp, err := a.client.Generate(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp == nil || resp.Message == nil {
		return nil, fmt.Errorf("model returned no message")
	}
	if resp.Message.Content != "" && len(resp.Message.ToolCalls) == 0 {
		emit(event.Signal{Kind: event.KindMessage, Agent: a.Name, Text: resp.Message.Content})
	}
	return resp.Message, nil
}

func (a *Actor) reportCalls(calls []message.ToolCall, emit func(event.Signal)) {
	raw := make([]event.RawCall, len(calls))
	for i, c := range calls {
		raw[i] = event.RawCall{Name: c.Name, Args: c.Args}
	}
	emit(event.Signal{Kind: event.KindToolCall, Agent: a.Name, Calls: raw})
}

func (a *Actor) resolveCalls(ctx context.Context, calls []message.ToolCall, emit func(event.Signal)) []*message.Message {
	responses := make([]*message.Message, 0, len(calls))
	results := make([]event.RawResult, 0, len(calls))

	for _, call := range calls {
		out, err := a.tools.Execute(ctx, call.Name, call.Args)
		if err != nil {
			a.logger.Warn("tool execution failed", "actor", a.Name, "tool", call.Name, "error", err)
			out = fmt.Sprintf("error: %v", err)
		}
		results = append(results, event.RawResult{Name: call.Name, Output: out})
		responses = append(responses, message.NewToolResponse(call.ID, out))
	}

	emit(event.Signal{Kind: event.KindToolResult, Agent: a.Name, Results: results})
	return responses
}
