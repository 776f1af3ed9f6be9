package event

import "encoding/json"

// Type discriminates the wire event union.
type Type string

const (
	TypeSession      Type = "session"
	TypeStatus       Type = "status"
	TypeRequest      Type = "request"
	TypeMessage      Type = "message"
	TypeChunk        Type = "chunk"
	TypeToolCall     Type = "tool_call"
	TypeToolResult   Type = "tool_result"
	TypeInputRequest Type = "input_request"
	TypeEvent        Type = "event"
	TypeError        Type = "error"
	// TypeDone is the terminal sentinel. It is always the last event of a
	// session stream and is never followed by further events for that id.
	TypeDone Type = "done"
)

// Call is one capability invocation request as carried on the wire. Arguments
// is the serialized JSON form; the structured encoding never truncates it.
type Call struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Result is one capability invocation outcome. Output carries the parsed JSON
// value when the raw output was valid JSON text, otherwise the raw string.
type Result struct {
	Name   string `json:"name"`
	Output any    `json:"output"`
}

// WireEvent is the normalized tagged-union unit of the outbound protocol.
// Every event except session renders independently of ordering, except chunk,
// which is only meaningful concatenated with adjacent chunks from the same
// agent.
type WireEvent struct {
	Type    Type     `json:"type"`
	ID      string   `json:"id,omitempty"`
	Agent   string   `json:"agent,omitempty"`
	Name    string   `json:"name,omitempty"`
	Text    string   `json:"text,omitempty"`
	Prompt  string   `json:"prompt,omitempty"`
	Calls   []Call   `json:"calls,omitempty"`
	Results []Result `json:"results,omitempty"`
}

// Session builds the correlation event carrying the session id. It must be
// the first event a consumer observes.
func Session(id string) WireEvent {
	return WireEvent{Type: TypeSession, ID: id}
}

// Status builds a lifecycle status event.
func Status(text string) WireEvent {
	return WireEvent{Type: TypeStatus, Text: text}
}

// Request echoes the original task prompt.
func Request(text string) WireEvent {
	return WireEvent{Type: TypeRequest, Text: text}
}

// Message builds a complete textual message from an agent.
func Message(agent, text string) WireEvent {
	return WireEvent{Type: TypeMessage, Agent: agent, Text: text}
}

// Chunk builds a coalesced partial-content fragment.
func Chunk(agent, text string) WireEvent {
	return WireEvent{Type: TypeChunk, Agent: agent, Text: text}
}

// ToolCall builds a structured capability-call request event.
func ToolCall(agent string, calls []Call) WireEvent {
	return WireEvent{Type: TypeToolCall, Agent: agent, Calls: calls}
}

// ToolResult builds a structured capability-result event.
func ToolResult(agent string, results []Result) WireEvent {
	return WireEvent{Type: TypeToolResult, Agent: agent, Results: results}
}

// InputRequest signals that the task is suspended awaiting human input.
func InputRequest(prompt string) WireEvent {
	return WireEvent{Type: TypeInputRequest, Prompt: prompt}
}

// Fallback wraps a raw signal that matched no known shape.
func Fallback(agent, name, text string) WireEvent {
	return WireEvent{Type: TypeEvent, Agent: agent, Name: name, Text: text}
}

// Error builds a task-failure event.
func Error(text string) WireEvent {
	return WireEvent{Type: TypeError, Text: text}
}

// Done builds the terminal sentinel.
func Done() WireEvent {
	return WireEvent{Type: TypeDone}
}

// IsDone reports whether the event is the terminal sentinel.
func (e WireEvent) IsDone() bool {
	return e.Type == TypeDone
}

// parseOutput converts raw capability output into the wire value: the parsed
// JSON value when the text is valid JSON, otherwise the text itself.
func parseOutput(raw string) any {
	var v any
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return raw
	}
	return v
}
