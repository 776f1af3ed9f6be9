package openai

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/azure"
	"github.com/openai/openai-go/v3/option"
	"github.com/openai/openai-go/v3/packages/param"

	"github.com/acauret/infrastructure-agent/message"
	"github.com/acauret/infrastructure-agent/team"
)

// Config holds OpenAI provider configuration. Endpoint plus APIVersion
// selects Azure OpenAI routing; BaseURL alone selects a plain
// OpenAI-compatible endpoint.
type Config struct {
	APIKey      string
	BaseURL     string
	Endpoint    string // Azure OpenAI resource endpoint
	APIVersion  string // Azure OpenAI API version
	Model       string
	MaxTokens   int64
	Temperature float64
}

// DefaultConfig returns default OpenAI configuration.
func DefaultConfig() *Config {
	return &Config{
		Model:       "gpt-4o",
		MaxTokens:   4096,
		Temperature: 0.7,
	}
}

// Provider implements team.ModelClient and team.StreamingModelClient on the
// official OpenAI SDK.
type Provider struct {
	config *Config
	client openai.Client
}

// New creates an OpenAI provider. With Endpoint set it talks to Azure
// OpenAI; the Model then names the deployment.
func New(config *Config) *Provider {
	if config == nil {
		config = DefaultConfig()
	}
	if config.Model == "" {
		config.Model = "gpt-4o"
	}

	var options []option.RequestOption
	if config.Endpoint != "" {
		apiVersion := config.APIVersion
		if apiVersion == "" {
			apiVersion = "2024-10-21"
		}
		options = append(options,
			azure.WithEndpoint(config.Endpoint, apiVersion),
			azure.WithAPIKey(config.APIKey),
		)
	} else {
		options = append(options, option.WithAPIKey(config.APIKey))
		if config.BaseURL != "" {
			options = append(options, option.WithBaseURL(config.BaseURL))
		}
	}

	return &Provider{
		config: config,
		client: openai.NewClient(options...),
	}
}

// Generate implements team.ModelClient.
func (p *Provider) Generate(ctx context.Context, req *team.GenerateRequest) (*team.GenerateResponse, error) {
	if req == nil {
		return nil, fmt.Errorf("generate request cannot be nil")
	}

	params, err := p.buildParams(req)
	if err != nil {
		return nil, err
	}

	completion, err := p.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("OpenAI API error: %w", err)
	}
	if len(completion.Choices) == 0 {
		return nil, fmt.Errorf("no choices returned from OpenAI")
	}

	choice := completion.Choices[0]
	responseMsg := message.New(message.RoleAssistant, choice.Message.Content)

	if len(choice.Message.ToolCalls) > 0 {
		toolCalls := make([]message.ToolCall, len(choice.Message.ToolCalls))
		for i, tc := range choice.Message.ToolCalls {
			var args map[string]any
			if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err != nil {
				return nil, fmt.Errorf("failed to parse tool arguments: %w", err)
			}
			toolCalls[i] = message.ToolCall{
				ID:   tc.ID,
				Name: tc.Function.Name,
				Args: args,
			}
		}
		responseMsg.ToolCalls = toolCalls
	}

	return &team.GenerateResponse{Message: responseMsg}, nil
}

// GenerateStream implements team.StreamingModelClient: delta messages first,
// then the accumulated final message.
func (p *Provider) GenerateStream(ctx context.Context, req *team.GenerateRequest) iter.Seq2[*message.Message, error] {
	return func(yield func(*message.Message, error) bool) {
		if req == nil {
			yield(nil, fmt.Errorf("stream request cannot be nil"))
			return
		}

		params, err := p.buildParams(req)
		if err != nil {
			yield(nil, err)
			return
		}

		stream := p.client.Chat.Completions.NewStreaming(ctx, params)
		defer stream.Close()

		var content strings.Builder
		var accumulatedToolCalls []message.ToolCall

		for stream.Next() {
			chunk := stream.Current()
			if len(chunk.Choices) == 0 {
				continue
			}
			choice := chunk.Choices[0]

			if choice.Delta.Content != "" {
				content.WriteString(choice.Delta.Content)
				delta := message.New(message.RoleAssistant, choice.Delta.Content)
				delta.Completed = false
				if !yield(delta, nil) {
					return
				}
			}

			for _, tc := range choice.Delta.ToolCalls {
				idx := int(tc.Index)
				for len(accumulatedToolCalls) <= idx {
					accumulatedToolCalls = append(accumulatedToolCalls, message.ToolCall{})
				}
				if tc.ID != "" {
					accumulatedToolCalls[idx].ID = tc.ID
				}
				if tc.Function.Name != "" {
					accumulatedToolCalls[idx].Name = tc.Function.Name
				}
				if tc.Function.Arguments != "" {
					var args map[string]any
					if err := json.Unmarshal([]byte(tc.Function.Arguments), &args); err == nil {
						accumulatedToolCalls[idx].Args = args
					}
				}
			}
		}

		if err := stream.Err(); err != nil {
			yield(nil, fmt.Errorf("OpenAI streaming error: %w", err))
			return
		}

		final := message.New(message.RoleAssistant, content.String())
		if len(accumulatedToolCalls) > 0 {
			final.ToolCalls = accumulatedToolCalls
		}
		yield(final, nil)
	}
}

func (p *Provider) buildParams(req *team.GenerateRequest) (openai.ChatCompletionNewParams, error) {
	messages := make([]openai.ChatCompletionMessageParamUnion, 0, len(req.Messages))
	for _, msg := range req.Messages {
		switch msg.Role {
		case message.RoleSystem:
			messages = append(messages, openai.SystemMessage(msg.Content))
		case message.RoleUser:
			messages = append(messages, openai.UserMessage(msg.Content))
		case message.RoleAssistant:
			assistantMsg := openai.AssistantMessage(msg.Content)
			if len(msg.ToolCalls) > 0 {
				toolCalls, err := encodeToolCalls(msg.ToolCalls)
				if err != nil {
					return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to encode tool calls: %w", err)
				}
				if assistantMsg.OfAssistant != nil {
					assistantMsg.OfAssistant.ToolCalls = toolCalls
				}
			}
			messages = append(messages, assistantMsg)
		case message.RoleTool:
			messages = append(messages, openai.ToolMessage(msg.Content, msg.ToolID))
		}
	}

	params := openai.ChatCompletionNewParams{
		Messages: messages,
		Model:    openai.ChatModel(p.config.Model),
	}
	if p.config.Temperature > 0 {
		params.Temperature = param.NewOpt(p.config.Temperature)
	}
	if p.config.MaxTokens > 0 {
		params.MaxCompletionTokens = param.NewOpt(p.config.MaxTokens)
	}

	if len(req.Tools) > 0 {
		tools := make([]openai.ChatCompletionToolUnionParam, 0, len(req.Tools))
		for _, tl := range req.Tools {
			toolJSON, err := json.Marshal(tl)
			if err != nil {
				return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to marshal tool: %w", err)
			}
			var toolParam openai.ChatCompletionToolUnionParam
			if err := json.Unmarshal(toolJSON, &toolParam); err != nil {
				return openai.ChatCompletionNewParams{}, fmt.Errorf("failed to unmarshal tool param: %w", err)
			}
			tools = append(tools, toolParam)
		}
		params.Tools = tools
	}

	return params, nil
}

func encodeToolCalls(calls []message.ToolCall) ([]openai.ChatCompletionMessageToolCallUnionParam, error) {
	if len(calls) == 0 {
		return nil, nil
	}
	params := make([]openai.ChatCompletionMessageToolCallUnionParam, 0, len(calls))
	for _, tc := range calls {
		args := tc.Args
		if args == nil {
			args = make(map[string]any)
		}
		raw, err := json.Marshal(args)
		if err != nil {
			return nil, err
		}
		params = append(params, openai.ChatCompletionMessageToolCallUnionParam{
			OfFunction: &openai.ChatCompletionMessageFunctionToolCallParam{
				ID: tc.ID,
				Function: openai.ChatCompletionMessageFunctionToolCallFunctionParam{
					Name:      tc.Name,
					Arguments: string(raw),
				},
			},
		})
	}
	return params, nil
}
