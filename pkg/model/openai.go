package model

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"
)

// OpenAIConfig configures the OpenAI-backed Model.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string // Optional: for Azure or proxies
	Model       string // e.g. "gpt-4o", "gpt-4o-mini"
	MaxTokens   int
	MaxRetries  int
	System      string
	Temperature *float64
	HTTPClient  *http.Client
}

type openaiChatCompletions interface {
	New(ctx context.Context, params openai.ChatCompletionNewParams, opts ...option.RequestOption) (*openai.ChatCompletion, error)
}

type openaiModel struct {
	completions openaiChatCompletions
	model       string
	maxTokens   int
	maxRetries  int
	system      string
	temperature *float64
}

const (
	defaultOpenAIModel      = "gpt-4o-mini"
	defaultOpenAIMaxTokens  = 1024
	defaultOpenAIMaxRetries = 2
)

// NewOpenAI constructs an OpenAI-backed Model.
func NewOpenAI(cfg OpenAIConfig) (Model, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("openai: api key required")
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	client := openai.NewClient(opts...)
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultOpenAIMaxTokens
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultOpenAIMaxRetries
	}

	modelName := strings.TrimSpace(cfg.Model)
	if modelName == "" {
		modelName = defaultOpenAIModel
	}

	return &openaiModel{
		completions: &client.Chat.Completions,
		model:       modelName,
		maxTokens:   maxTokens,
		maxRetries:  retries,
		system:      strings.TrimSpace(cfg.System),
		temperature: cfg.Temperature,
	}, nil
}

// Complete issues a non-streaming completion.
func (m *openaiModel) Complete(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	err := m.doWithRetry(ctx, func(ctx context.Context) error {
		params := m.buildParams(req)

		completion, err := m.completions.New(ctx, params)
		if err != nil {
			return err
		}

		resp = convertOpenAIResponse(completion)
		return nil
	})
	return resp, err
}

func (m *openaiModel) buildParams(req Request) openai.ChatCompletionNewParams {
	messages := convertMessagesToOpenAI(req.Messages, m.system, req.System)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}

	params := openai.ChatCompletionNewParams{
		Model:               shared.ChatModel(m.selectModel(req.Model)),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
		Messages:            messages,
	}

	if len(req.Tools) > 0 {
		params.Tools = convertToolsToOpenAI(req.Tools)
	}

	if m.temperature != nil {
		params.Temperature = openai.Float(*m.temperature)
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}

	if sessionID := strings.TrimSpace(req.SessionID); sessionID != "" {
		params.User = openai.String(sessionID)
	}

	return params
}

func (m *openaiModel) doWithRetry(ctx context.Context, fn func(context.Context) error) error {
	attempts := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isOpenAIRetryable(err) || attempts >= m.maxRetries {
			return err
		}
		attempts++
		backoff := time.Duration(attempts*attempts) * 100 * time.Millisecond
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

func isOpenAIRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *openai.Error
	if errors.As(err, &apiErr) {
		// Don't retry authentication errors
		return apiErr.StatusCode != http.StatusUnauthorized
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
		//nolint:staticcheck // Temporary is deprecated but retained for transient errors
		return netErr.Temporary()
	}
	return true
}

func (m *openaiModel) selectModel(override string) string {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return trimmed
	}
	return m.model
}

func convertMessagesToOpenAI(msgs []Message, defaults ...string) []openai.ChatCompletionMessageParamUnion {
	var result []openai.ChatCompletionMessageParamUnion

	for _, sys := range defaults {
		if trimmed := strings.TrimSpace(sys); trimmed != "" {
			result = append(result, openai.SystemMessage(trimmed))
		}
	}

	for _, msg := range msgs {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		switch role {
		case RoleSystem:
			if trimmed := strings.TrimSpace(msg.Content); trimmed != "" {
				result = append(result, openai.SystemMessage(trimmed))
			}
		case RoleAssistant:
			result = append(result, buildOpenAIAssistantMessage(msg))
		case RoleTool:
			result = append(result, buildOpenAIToolResults(msg)...)
		default: // user
			content := msg.Content
			if strings.TrimSpace(content) == "" {
				content = "."
			}
			result = append(result, openai.UserMessage(content))
		}
	}

	if len(result) == 0 {
		result = append(result, openai.UserMessage("."))
	}

	return result
}

func buildOpenAIAssistantMessage(msg Message) openai.ChatCompletionMessageParamUnion {
	assistantParam := openai.ChatCompletionAssistantMessageParam{}

	content := msg.Content
	if strings.TrimSpace(content) == "" {
		content = "."
	}
	assistantParam.Content = openai.ChatCompletionAssistantMessageParamContentUnion{
		OfString: openai.String(content),
	}

	if len(msg.ToolCalls) > 0 {
		var toolCalls []openai.ChatCompletionMessageToolCallParam
		for _, call := range msg.ToolCalls {
			id := strings.TrimSpace(call.ID)
			name := strings.TrimSpace(call.Name)
			if id == "" || name == "" {
				continue
			}

			argsJSON, _ := json.Marshal(call.Arguments) //nolint:errcheck
			toolCalls = append(toolCalls, openai.ChatCompletionMessageToolCallParam{
				ID: id,
				Function: openai.ChatCompletionMessageToolCallFunctionParam{
					Name:      name,
					Arguments: string(argsJSON),
				},
			})
		}
		assistantParam.ToolCalls = toolCalls
	}

	return openai.ChatCompletionMessageParamUnion{
		OfAssistant: &assistantParam,
	}
}

func buildOpenAIToolResults(msg Message) []openai.ChatCompletionMessageParamUnion {
	if len(msg.ToolCalls) == 0 {
		return []openai.ChatCompletionMessageParamUnion{
			openai.ToolMessage(msg.Content, ""),
		}
	}

	var results []openai.ChatCompletionMessageParamUnion
	for _, call := range msg.ToolCalls {
		id := strings.TrimSpace(call.ID)
		if id == "" {
			continue
		}
		content := call.Result
		if strings.TrimSpace(content) == "" {
			content = msg.Content
		}
		results = append(results, openai.ToolMessage(content, id))
	}

	if len(results) == 0 {
		results = append(results, openai.ToolMessage(msg.Content, ""))
	}

	return results
}

func convertToolsToOpenAI(tools []ToolDefinition) []openai.ChatCompletionToolParam {
	var result []openai.ChatCompletionToolParam
	for _, def := range tools {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}

		tool := openai.ChatCompletionToolParam{
			Function: shared.FunctionDefinitionParam{
				Name:       name,
				Parameters: convertToFunctionParameters(def.Parameters),
			},
		}
		if desc := strings.TrimSpace(def.Description); desc != "" {
			tool.Function.Description = openai.Opt(desc)
		}

		result = append(result, tool)
	}
	return result
}

func convertToFunctionParameters(params map[string]any) shared.FunctionParameters {
	if len(params) == 0 {
		return shared.FunctionParameters{
			"type": "object",
		}
	}

	result := make(shared.FunctionParameters, len(params)+1)
	for k, v := range params {
		result[k] = v
	}
	if _, ok := result["type"]; !ok {
		result["type"] = "object"
	}
	return result
}

func convertOpenAIResponse(completion *openai.ChatCompletion) *Response {
	if completion == nil || len(completion.Choices) == 0 {
		return &Response{
			Message: Message{Role: RoleAssistant},
		}
	}

	choice := completion.Choices[0]
	msg := choice.Message

	var toolCalls []ToolCall
	for _, tc := range msg.ToolCalls {
		toolCalls = append(toolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: parseJSONArgs(tc.Function.Arguments),
		})
	}

	return &Response{
		Message: Message{
			Role:      RoleAssistant,
			Content:   msg.Content,
			ToolCalls: toolCalls,
		},
		Usage:      convertOpenAIUsage(completion.Usage),
		StopReason: choice.FinishReason,
	}
}

func convertOpenAIUsage(usage openai.CompletionUsage) Usage {
	return Usage{
		InputTokens:  int(usage.PromptTokens),
		OutputTokens: int(usage.CompletionTokens),
		TotalTokens:  int(usage.TotalTokens),
	}
}

func parseJSONArgs(raw string) map[string]any {
	if raw == "" {
		return nil
	}
	var args map[string]any
	if err := json.Unmarshal([]byte(raw), &args); err != nil {
		return map[string]any{"raw": raw}
	}
	return args
}
