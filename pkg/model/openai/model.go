// Package openai backs the Model interface with the official OpenAI SDK.
package openai

import (
	"context"
	"fmt"
	"strings"

	openaisdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	modelpkg "github.com/cexll/linguahome-go/pkg/model"
	"github.com/cexll/linguahome-go/pkg/telemetry"
)

// Ensure SDKModel implements the Model interface.
var _ modelpkg.Model = (*SDKModel)(nil)

// SDKModel wraps the official OpenAI SDK to implement our Model interface.
type SDKModel struct {
	client    openaisdk.Client
	model     openaisdk.ChatModel
	maxTokens int
}

// NewSDKModel creates a model backed by the official OpenAI SDK.
func NewSDKModel(apiKey, model string, maxTokens int) *SDKModel {
	return NewSDKModelWithBaseURL(apiKey, model, "", maxTokens)
}

// NewSDKModelWithBaseURL creates a model with custom base URL support.
func NewSDKModelWithBaseURL(apiKey, model, baseURL string, maxTokens int) *SDKModel {
	opts := []option.RequestOption{option.WithAPIKey(apiKey)}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}
	return &SDKModel{
		client:    openaisdk.NewClient(opts...),
		model:     openaisdk.ChatModel(model),
		maxTokens: maxTokens,
	}
}

// Generate performs a blocking completion call.
func (m *SDKModel) Generate(ctx context.Context, messages []modelpkg.Message) (_ modelpkg.Message, err error) {
	ctx, span := telemetry.StartSpan(ctx, "model.openai.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(telemetry.SanitizeAttributes(
			attribute.String("llm.provider", "openai"),
			attribute.String("llm.model", string(m.model)),
		)...),
	)
	defer telemetry.EndSpan(span, err)

	params := openaisdk.ChatCompletionNewParams{
		Messages: convertMessages(messages),
		Model:    m.model,
	}
	if m.maxTokens > 0 {
		params.MaxTokens = openaisdk.Int(int64(m.maxTokens))
	}

	completion, err := m.client.Chat.Completions.New(ctx, params)
	if err != nil {
		return modelpkg.Message{}, fmt.Errorf("openai sdk call: %w", err)
	}
	if len(completion.Choices) == 0 {
		return modelpkg.Message{}, fmt.Errorf("openai sdk call: no choices in response")
	}
	return modelpkg.Assistant(completion.Choices[0].Message.Content), nil
}

func convertMessages(messages []modelpkg.Message) []openaisdk.ChatCompletionMessageParamUnion {
	if len(messages) == 0 {
		return []openaisdk.ChatCompletionMessageParamUnion{openaisdk.UserMessage("")}
	}
	params := make([]openaisdk.ChatCompletionMessageParamUnion, 0, len(messages))
	for _, msg := range messages {
		switch strings.ToLower(strings.TrimSpace(msg.Role)) {
		case modelpkg.RoleSystem:
			params = append(params, openaisdk.SystemMessage(msg.Content))
		case modelpkg.RoleAssistant:
			params = append(params, openaisdk.AssistantMessage(msg.Content))
		default:
			params = append(params, openaisdk.UserMessage(msg.Content))
		}
	}
	return params
}
