package team

import (
	"log/slog"

	"github.com/pkoukk/tiktoken-go"

	"github.com/acauret/infrastructure-agent/message"
)

// defaultTokenBudget bounds the conversation handed to the model. The first
// message (the task) is always kept; the oldest middle turns go first.
const defaultTokenBudget = 24000

type budget struct {
	enc    *tiktoken.Tiktoken
	max    int
	logger *slog.Logger
}

func newBudget(model string, max int, logger *slog.Logger) *budget {
	if max <= 0 {
		max = defaultTokenBudget
	}

	enc, err := tiktoken.EncodingForModel(model)
	if err != nil {
		enc, err = tiktoken.GetEncoding("cl100k_base")
		if err != nil {
			// Without an encoding the budget degrades to a message-count cap.
			logger.Warn("token encoding unavailable, trimming by count only", "error", err)
			enc = nil
		}
	}
	return &budget{enc: enc, max: max, logger: logger}
}

func (b *budget) count(msg *message.Message) int {
	if b.enc == nil {
		return 0
	}
	n := len(b.enc.Encode(msg.Content, nil, nil))
	for _, call := range msg.ToolCalls {
		n += len(b.enc.Encode(call.Name, nil, nil))
	}
	return n
}

// trim drops the oldest turns after the task message until the conversation
// fits the token budget.
func (b *budget) trim(msgs []*message.Message) []*message.Message {
	if b.enc == nil || len(msgs) <= 2 {
		return msgs
	}

	total := 0
	for _, msg := range msgs {
		total += b.count(msg)
	}
	if total <= b.max {
		return msgs
	}

	trimmed := message.CloneAll(msgs)
	dropped := 0
	for total > b.max && len(trimmed) > 2 {
		total -= b.count(trimmed[1])
		trimmed = append(trimmed[:1], trimmed[2:]...)
		dropped++
	}
	if dropped > 0 {
		b.logger.Debug("conversation trimmed", "dropped", dropped, "tokens", total)
	}
	return trimmed
}
