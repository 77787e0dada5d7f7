package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"time"

	"github.com/sashabaranov/go-openai"
)

// Message represents a chat message.
type Message struct {
	Role    string // system, user, assistant, tool
	Content string

	// ToolCalls is set on assistant messages that requested tools.
	ToolCalls []ToolCall
	// ToolCallID links a tool message to the call it answers.
	ToolCallID string
}

// ToolCall is one function call requested by the model.
type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// ToolDescriptor describes a callable tool to the model.
type ToolDescriptor struct {
	Name        string
	Description string
	// Parameters is the JSON schema of the arguments object.
	Parameters string
}

// ChatResponse is the outcome of a tool-enabled completion.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// DeltaFunc receives streamed content. Returning an error aborts the stream.
type DeltaFunc func(delta string) error

// LLMService is the LLM service interface.
type LLMService interface {
	// Chat performs synchronous chat.
	Chat(ctx context.Context, messages []Message, opts ...ChatOption) (string, error)

	// ChatStream performs streaming chat.
	ChatStream(ctx context.Context, messages []Message, opts ...ChatOption) (<-chan string, <-chan error)

	// ChatWithTools performs a streaming completion with tool definitions.
	// Content deltas are passed to onDelta as they arrive; tool calls are returned once complete.
	ChatWithTools(ctx context.Context, messages []Message, tools []ToolDescriptor, onDelta DeltaFunc) (*ChatResponse, error)
}

// ChatOption overrides per-call request settings.
type ChatOption func(*openai.ChatCompletionRequest)

// WithModel overrides the configured model.
func WithModel(model string) ChatOption {
	return func(r *openai.ChatCompletionRequest) {
		if model != "" {
			r.Model = model
		}
	}
}

// WithTemperature overrides the configured temperature.
func WithTemperature(t float32) ChatOption {
	return func(r *openai.ChatCompletionRequest) { r.Temperature = t }
}

// WithMaxTokens overrides the configured completion budget.
func WithMaxTokens(n int) ChatOption {
	return func(r *openai.ChatCompletionRequest) { r.MaxTokens = n }
}

// WithJSONSchema constrains the response to the given schema.
func WithJSONSchema(name string, schema json.Marshaler) ChatOption {
	return func(r *openai.ChatCompletionRequest) {
		r.ResponseFormat = &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
			JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
				Name:   name,
				Strict: true,
				Schema: schema,
			},
		}
	}
}

type llmService struct {
	client *openai.Client
	config LLMConfig
}

// NewLLMService creates a new LLMService backed by an OpenAI compatible endpoint.
func NewLLMService(cfg *LLMConfig) (LLMService, error) {
	if cfg == nil {
		return nil, errors.New("LLM config is nil")
	}
	if cfg.Model == "" {
		return nil, errors.New("LLM model is required")
	}
	config := *cfg
	config.applyDefaults()

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	return &llmService{
		client: openai.NewClientWithConfig(clientConfig),
		config: config,
	}, nil
}

func (s *llmService) newRequest(messages []Message, opts []ChatOption) openai.ChatCompletionRequest {
	req := openai.ChatCompletionRequest{
		Model:       s.config.Model,
		Messages:    convertMessages(messages),
		MaxTokens:   s.config.MaxTokens,
		Temperature: s.config.Temperature,
	}
	for _, opt := range opts {
		opt(&req)
	}
	return req
}

func (s *llmService) Chat(ctx context.Context, messages []Message, opts ...ChatOption) (string, error) {
	req := s.newRequest(messages, opts)

	var result string
	err := s.doWithRetry(ctx, func(ctx context.Context) (bool, error) {
		resp, err := s.client.CreateChatCompletion(ctx, req)
		if err != nil {
			return false, err
		}
		if len(resp.Choices) == 0 {
			return false, errors.New("empty chat response")
		}
		result = resp.Choices[0].Message.Content
		return false, nil
	})
	if err != nil {
		return "", fmt.Errorf("failed to complete chat: %w", err)
	}
	return result, nil
}

func (s *llmService) ChatStream(ctx context.Context, messages []Message, opts ...ChatOption) (<-chan string, <-chan error) {
	contentChan := make(chan string)
	errChan := make(chan error, 1)

	go func() {
		defer close(contentChan)
		defer close(errChan)

		_, err := s.stream(ctx, s.newRequest(messages, opts), func(delta string) error {
			select {
			case contentChan <- delta:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
		if err != nil {
			errChan <- err
		}
	}()

	return contentChan, errChan
}

func (s *llmService) ChatWithTools(ctx context.Context, messages []Message, tools []ToolDescriptor, onDelta DeltaFunc) (*ChatResponse, error) {
	req := s.newRequest(messages, nil)
	for _, t := range tools {
		req.Tools = append(req.Tools, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  json.RawMessage(t.Parameters),
			},
		})
	}

	resp, err := s.stream(ctx, req, onDelta)
	if err != nil {
		return nil, fmt.Errorf("failed to complete chat with tools: %w", err)
	}
	return resp, nil
}

// stream runs a streaming completion. Attempts are retried only while no
// delta has been handed to the caller.
func (s *llmService) stream(ctx context.Context, req openai.ChatCompletionRequest, onDelta DeltaFunc) (*ChatResponse, error) {
	req.Stream = true

	var result *ChatResponse
	err := s.doWithRetry(ctx, func(ctx context.Context) (bool, error) {
		stream, err := s.client.CreateChatCompletionStream(ctx, req)
		if err != nil {
			return false, err
		}
		defer stream.Close()

		resp := &ChatResponse{}
		calls := map[int]*ToolCall{}
		emitted := false
		for {
			chunk, err := stream.Recv()
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return emitted, err
			}
			for _, choice := range chunk.Choices {
				if choice.Delta.Content != "" {
					resp.Content += choice.Delta.Content
					if onDelta != nil {
						emitted = true
						if err := onDelta(choice.Delta.Content); err != nil {
							return true, err
						}
					}
				}
				for i, tc := range choice.Delta.ToolCalls {
					index := i
					if tc.Index != nil {
						index = *tc.Index
					}
					call, ok := calls[index]
					if !ok {
						call = &ToolCall{}
						calls[index] = call
					}
					if tc.ID != "" {
						call.ID = tc.ID
					}
					if tc.Function.Name != "" {
						call.Name = tc.Function.Name
					}
					call.Arguments += tc.Function.Arguments
				}
				if choice.FinishReason != "" {
					resp.FinishReason = string(choice.FinishReason)
				}
			}
		}

		indexes := make([]int, 0, len(calls))
		for index := range calls {
			indexes = append(indexes, index)
		}
		sort.Ints(indexes)
		for _, index := range indexes {
			resp.ToolCalls = append(resp.ToolCalls, *calls[index])
		}
		result = resp
		return emitted, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// doWithRetry executes fn with exponential backoff retry.
// fn reports whether it already produced side effects, in which case it is not retried.
func (s *llmService) doWithRetry(ctx context.Context, fn func(ctx context.Context) (bool, error)) error {
	var lastErr error
	for attempt := 0; attempt < s.config.MaxRetries; attempt++ {
		callCtx, cancel := context.WithTimeout(ctx, s.config.Timeout)
		committed, err := fn(callCtx)
		cancel()
		if err == nil {
			return nil
		}
		lastErr = err
		if committed || ctx.Err() != nil || !isRetryable(err) {
			return err
		}
		if attempt < s.config.MaxRetries-1 {
			waitTime := s.config.RetryBackoff << attempt
			slog.Debug("AI request failed, retrying",
				"attempt", attempt+1,
				"wait_time", waitTime,
				"error", err)
			select {
			case <-time.After(waitTime):
			case <-ctx.Done():
				return ctx.Err()
			}
		}
	}
	return lastErr
}

// isRetryable reports whether a failed request may succeed on a later attempt.
func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) {
		return false
	}
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apiErr.HTTPStatusCode == http.StatusTooManyRequests || apiErr.HTTPStatusCode >= 500
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return reqErr.HTTPStatusCode == http.StatusTooManyRequests || reqErr.HTTPStatusCode >= 500
	}
	return true
}

func convertMessages(messages []Message) []openai.ChatCompletionMessage {
	llmMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, m := range messages {
		msg := openai.ChatCompletionMessage{
			Role:       m.Role,
			Content:    m.Content,
			ToolCallID: m.ToolCallID,
		}
		for _, tc := range m.ToolCalls {
			msg.ToolCalls = append(msg.ToolCalls, openai.ToolCall{
				ID:   tc.ID,
				Type: openai.ToolTypeFunction,
				Function: openai.FunctionCall{
					Name:      tc.Name,
					Arguments: tc.Arguments,
				},
			})
		}
		llmMessages[i] = msg
	}
	return llmMessages
}

// Helper for creating system prompts
func SystemPrompt(content string) Message {
	return Message{Role: openai.ChatMessageRoleSystem, Content: content}
}

// Helper for creating user messages
func UserMessage(content string) Message {
	return Message{Role: openai.ChatMessageRoleUser, Content: content}
}

// Helper for creating assistant messages
func AssistantMessage(content string) Message {
	return Message{Role: openai.ChatMessageRoleAssistant, Content: content}
}

// ToolMessage answers the tool call with the given id.
func ToolMessage(callID, content string) Message {
	return Message{Role: openai.ChatMessageRoleTool, Content: content, ToolCallID: callID}
}
