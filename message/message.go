package message

import (
	"time"

	"github.com/google/uuid"
)

// Role represents the role of the message sender
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
	RoleTool      Role = "tool"
)

// Message is a single turn in an actor conversation.
type Message struct {
	ID        string     `json:"id"`
	Role      Role       `json:"role"`
	Agent     string     `json:"agent,omitempty"` // which actor produced it
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
	ToolID    string     `json:"tool_id,omitempty"` // for tool response messages
	// Completed is false for streaming deltas and true for whole messages.
	Completed bool      `json:"completed"`
	CreatedAt time.Time `json:"created_at"`
}

// ToolCall represents a capability invocation request
type ToolCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// New creates a message with the given role and content.
func New(role Role, content string) *Message {
	return &Message{
		ID:        uuid.NewString(),
		Role:      role,
		Content:   content,
		Completed: true,
		CreatedAt: time.Now(),
	}
}

// NewFromAgent creates an assistant message attributed to a named actor.
func NewFromAgent(agent, content string) *Message {
	msg := New(RoleAssistant, content)
	msg.Agent = agent
	return msg
}

// NewToolCall creates an assistant message carrying tool calls.
func NewToolCall(agent string, toolCalls []ToolCall) *Message {
	msg := New(RoleAssistant, "")
	msg.Agent = agent
	msg.ToolCalls = toolCalls
	return msg
}

// NewToolResponse creates a tool response message.
func NewToolResponse(toolID, content string) *Message {
	msg := New(RoleTool, content)
	msg.ToolID = toolID
	return msg
}

// Clone creates a deep copy of the message.
func Clone(msg *Message) *Message {
	if msg == nil {
		return nil
	}
	cloned := *msg
	if len(msg.ToolCalls) > 0 {
		cloned.ToolCalls = make([]ToolCall, len(msg.ToolCalls))
		for i, tc := range msg.ToolCalls {
			cloned.ToolCalls[i] = cloneToolCall(tc)
		}
	}
	return &cloned
}

// CloneAll copies a slice of messages.
func CloneAll(msgs []*Message) []*Message {
	if len(msgs) == 0 {
		return nil
	}
	clones := make([]*Message, 0, len(msgs))
	for _, msg := range msgs {
		clones = append(clones, Clone(msg))
	}
	return clones
}

func cloneToolCall(call ToolCall) ToolCall {
	cloned := ToolCall{ID: call.ID, Name: call.Name}
	if call.Args != nil {
		cloned.Args = make(map[string]any, len(call.Args))
		for k, v := range call.Args {
			cloned.Args[k] = v
		}
	}
	return cloned
}
