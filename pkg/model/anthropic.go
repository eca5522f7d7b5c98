package model

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	anthropicsdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/anthropics/anthropic-sdk-go/packages/param"
)

// AnthropicConfig wires a plain anthropic-sdk-go client into the Model interface.
type AnthropicConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	MaxRetries  int
	System      string
	Temperature *float64
	HTTPClient  *http.Client
}

type anthropicMessages interface {
	New(ctx context.Context, params anthropicsdk.MessageNewParams, opts ...option.RequestOption) (*anthropicsdk.Message, error)
}

type anthropicModel struct {
	msgs        anthropicMessages
	model       anthropicsdk.Model
	maxTokens   int
	maxRetries  int
	system      string
	temperature *float64
}

const (
	defaultAnthropicModel = anthropicsdk.Model("claude-haiku-4-5")

	// Hook evaluations run under hard deadlines, so replies stay small
	// and retry budgets stay short.
	defaultAnthropicMaxTokens  = 1024
	defaultAnthropicMaxRetries = 2
)

// NewAnthropic constructs an Anthropic-backed Model.
func NewAnthropic(cfg AnthropicConfig) (Model, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" {
		return nil, errors.New("anthropic: api key required")
	}

	opts := []option.RequestOption{
		// Explicitly set the API key so it overrides any ANTHROPIC_AUTH_TOKEN
		// or ANTHROPIC_API_KEY from the environment (DefaultClientOptions).
		option.WithAPIKey(apiKey),
		// Also set auth token for providers that require Authorization: Bearer
		// (e.g. Anthropic-compatible proxy endpoints).
		option.WithAuthToken(apiKey),
	}
	if cfg.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(cfg.BaseURL))
	}
	if cfg.HTTPClient != nil {
		opts = append(opts, option.WithHTTPClient(cfg.HTTPClient))
	}

	client := anthropicsdk.NewClient(opts...)
	maxTokens := cfg.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = defaultAnthropicMaxRetries
	}

	return &anthropicModel{
		msgs:        &client.Messages,
		model:       mapModelName(cfg.Model),
		maxTokens:   maxTokens,
		maxRetries:  retries,
		system:      strings.TrimSpace(cfg.System),
		temperature: cfg.Temperature,
	}, nil
}

// Complete issues a non-streaming completion.
func (m *anthropicModel) Complete(ctx context.Context, req Request) (*Response, error) {
	var resp *Response
	err := m.doWithRetry(ctx, func(ctx context.Context) error {
		params, err := m.buildParams(req)
		if err != nil {
			return err
		}

		msg, err := m.msgs.New(ctx, params)
		if err != nil {
			return err
		}

		resp = &Response{
			Message:    convertResponseMessage(*msg),
			Usage:      convertUsage(msg.Usage),
			StopReason: string(msg.StopReason),
		}
		return nil
	})
	return resp, err
}

func (m *anthropicModel) buildParams(req Request) (anthropicsdk.MessageNewParams, error) {
	systemBlocks, messageParams := convertMessages(req.Messages, m.system, req.System)

	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = m.maxTokens
	}

	params := anthropicsdk.MessageNewParams{
		Model:     m.selectModel(req.Model),
		MaxTokens: int64(maxTokens),
		Messages:  messageParams,
	}

	if len(systemBlocks) > 0 {
		params.System = systemBlocks
	}

	if len(req.Tools) > 0 {
		tools, err := convertTools(req.Tools)
		if err != nil {
			return anthropicsdk.MessageNewParams{}, err
		}
		params.Tools = tools
	}

	if m.temperature != nil {
		params.Temperature = param.NewOpt(*m.temperature)
	}
	if req.Temperature != nil {
		params.Temperature = param.NewOpt(*req.Temperature)
	}

	if sessionID := strings.TrimSpace(req.SessionID); sessionID != "" {
		params.Metadata = anthropicsdk.MetadataParam{
			UserID: param.NewOpt(sessionID),
		}
	}

	return params, nil
}

func (m *anthropicModel) doWithRetry(ctx context.Context, fn func(context.Context) error) error {
	attempts := 0
	for {
		err := fn(ctx)
		if err == nil {
			return nil
		}
		// Check context before deciding to retry
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !isRetryable(err) || attempts >= m.maxRetries {
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

func isRetryable(err error) bool {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	var apiErr *anthropicsdk.Error
	if errors.As(err, &apiErr) {
		return apiErr.StatusCode != http.StatusUnauthorized
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		if netErr.Timeout() {
			return true
		}
		//nolint:staticcheck // Temporary is deprecated but retained to treat non-timeout transient errors as retryable.
		return netErr.Temporary()
	}
	return true
}

func (m *anthropicModel) selectModel(override string) anthropicsdk.Model {
	if trimmed := strings.TrimSpace(override); trimmed != "" {
		return mapModelName(trimmed)
	}
	return m.model
}

func convertMessages(msgs []Message, defaults ...string) ([]anthropicsdk.TextBlockParam, []anthropicsdk.MessageParam) {
	var systemBlocks []anthropicsdk.TextBlockParam
	for _, sys := range defaults {
		if trimmed := strings.TrimSpace(sys); trimmed != "" {
			systemBlocks = append(systemBlocks, anthropicsdk.TextBlockParam{Text: trimmed})
		}
	}

	messageParams := make([]anthropicsdk.MessageParam, 0, len(msgs))
	for _, msg := range msgs {
		role := strings.ToLower(strings.TrimSpace(msg.Role))
		switch role {
		case RoleSystem:
			if trimmed := strings.TrimSpace(msg.Content); trimmed != "" {
				systemBlocks = append(systemBlocks, anthropicsdk.TextBlockParam{Text: trimmed})
			}
		case RoleAssistant:
			messageParams = append(messageParams, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleAssistant,
				Content: buildAssistantContent(msg),
			})
		case RoleTool:
			messageParams = append(messageParams, anthropicsdk.MessageParam{
				Role:    anthropicsdk.MessageParamRoleUser,
				Content: buildToolResults(msg),
			})
		default:
			text := msg.Content
			if strings.TrimSpace(text) == "" {
				text = "."
			}
			messageParams = append(messageParams, anthropicsdk.MessageParam{
				Role: anthropicsdk.MessageParamRoleUser,
				Content: []anthropicsdk.ContentBlockParamUnion{
					anthropicsdk.NewTextBlock(text),
				},
			})
		}
	}

	if len(messageParams) == 0 {
		messageParams = append(messageParams, anthropicsdk.MessageParam{
			Role: anthropicsdk.MessageParamRoleUser,
			Content: []anthropicsdk.ContentBlockParamUnion{
				anthropicsdk.NewTextBlock("."),
			},
		})
	}

	return systemBlocks, messageParams
}

func buildAssistantContent(msg Message) []anthropicsdk.ContentBlockParamUnion {
	blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, 1+len(msg.ToolCalls))
	if strings.TrimSpace(msg.Content) != "" {
		blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
	}
	for _, call := range msg.ToolCalls {
		id := strings.TrimSpace(call.ID)
		name := strings.TrimSpace(call.Name)
		if id == "" || name == "" {
			continue
		}
		blocks = append(blocks, anthropicsdk.NewToolUseBlock(id, call.Arguments, name))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropicsdk.NewTextBlock("."))
	}
	return blocks
}

func buildToolResults(msg Message) []anthropicsdk.ContentBlockParamUnion {
	if len(msg.ToolCalls) == 0 {
		return []anthropicsdk.ContentBlockParamUnion{
			anthropicsdk.NewTextBlock(msg.Content),
		}
	}

	blocks := make([]anthropicsdk.ContentBlockParamUnion, 0, len(msg.ToolCalls))
	for _, call := range msg.ToolCalls {
		id := strings.TrimSpace(call.ID)
		if id == "" {
			continue
		}
		text := call.Result
		if strings.TrimSpace(text) == "" {
			text = msg.Content
		}
		blocks = append(blocks, anthropicsdk.NewToolResultBlock(id, text, toolResultIsError(text)))
	}
	if len(blocks) == 0 {
		blocks = append(blocks, anthropicsdk.NewTextBlock(msg.Content))
	}
	return blocks
}

func toolResultIsError(text string) bool {
	trimmed := strings.TrimSpace(text)
	if !strings.HasPrefix(trimmed, "{") || !strings.HasSuffix(trimmed, "}") {
		return false
	}

	var payload map[string]any
	if err := json.Unmarshal([]byte(trimmed), &payload); err != nil {
		return false
	}

	val, ok := payload["error"]
	if !ok {
		return false
	}

	switch t := val.(type) {
	case bool:
		return t
	case string:
		return strings.TrimSpace(t) != ""
	default:
		return t != nil
	}
}

func convertTools(tools []ToolDefinition) ([]anthropicsdk.ToolUnionParam, error) {
	out := make([]anthropicsdk.ToolUnionParam, 0, len(tools))
	for _, def := range tools {
		name := strings.TrimSpace(def.Name)
		if name == "" {
			continue
		}

		schema, err := encodeSchema(def.Parameters)
		if err != nil {
			return nil, fmt.Errorf("tool %s schema: %w", name, err)
		}

		tool := anthropicsdk.ToolParam{
			Name:        name,
			InputSchema: schema,
		}
		if strings.TrimSpace(def.Description) != "" {
			tool.Description = anthropicsdk.String(def.Description)
		}

		out = append(out, anthropicsdk.ToolUnionParam{OfTool: &tool})
	}
	return out, nil
}

func encodeSchema(raw map[string]any) (anthropicsdk.ToolInputSchemaParam, error) {
	if len(raw) == 0 {
		return anthropicsdk.ToolInputSchemaParam{Type: "object"}, nil
	}
	data, err := json.Marshal(raw)
	if err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, err
	}
	var schema anthropicsdk.ToolInputSchemaParam
	if err := json.Unmarshal(data, &schema); err != nil {
		return anthropicsdk.ToolInputSchemaParam{}, err
	}
	if schema.Type == "" {
		schema.Type = "object"
	}
	return schema, nil
}

func convertResponseMessage(msg anthropicsdk.Message) Message {
	var textParts []string
	var toolCalls []ToolCall
	for _, block := range msg.Content {
		if tc := toolCallFromBlock(block); tc != nil {
			toolCalls = append(toolCalls, *tc)
			continue
		}
		if text := block.Text; text != "" {
			textParts = append(textParts, text)
		}
	}

	role := strings.TrimSpace(string(msg.Role))
	if role == "" {
		role = RoleAssistant
	}
	return Message{
		Role:      role,
		Content:   strings.Join(textParts, ""),
		ToolCalls: toolCalls,
	}
}

func toolCallFromBlock(block anthropicsdk.ContentBlockUnion) *ToolCall {
	if block.Type != "tool_use" {
		return nil
	}
	id := strings.TrimSpace(block.ID)
	name := strings.TrimSpace(block.Name)
	if id == "" || name == "" {
		return nil
	}
	return &ToolCall{
		ID:        id,
		Name:      name,
		Arguments: decodeJSON(block.Input),
	}
}

func decodeJSON(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return map[string]any{"raw": string(raw)}
	}
	if v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return map[string]any{"value": v}
}

func convertUsage(u anthropicsdk.Usage) Usage {
	input := int(u.InputTokens)
	return Usage{
		InputTokens:  input,
		OutputTokens: int(u.OutputTokens),
		TotalTokens:  input + int(u.OutputTokens),
	}
}

func mapModelName(name string) anthropicsdk.Model {
	trimmed := strings.TrimSpace(name)
	if trimmed == "" {
		return defaultAnthropicModel
	}
	// Pass through unknown model names (e.g. aliases served by a proxy).
	return anthropicsdk.Model(trimmed)
}
