package ai

import (
	"context"
	"errors"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/suPer8Hu/govchat/internal/common"
)

type AnthropicProvider struct {
	client    anthropic.Client
	Model     string
	MaxTokens int64
}

// NewAnthropicProvider builds a Claude-backed provider. SDK retries are off;
// callers apply their own backoff policy.
func NewAnthropicProvider(apiKey, model string, opts ...option.RequestOption) *AnthropicProvider {
	if model == "" {
		model = "claude-3-5-haiku-latest"
	}
	opts = append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}, opts...)
	return &AnthropicProvider{
		client:    anthropic.NewClient(opts...),
		Model:     model,
		MaxTokens: 1024,
	}
}

func (p *AnthropicProvider) Chat(ctx context.Context, messages []Message) (string, error) {
	var system []string
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.Model),
		MaxTokens: p.MaxTokens,
	}
	for _, m := range messages {
		switch m.Role {
		case RoleSystem:
			system = append(system, m.Content)
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	if len(system) > 0 {
		params.System = []anthropic.TextBlockParam{{Text: strings.Join(system, "\n\n")}}
	}

	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		var apiErr *anthropic.Error
		if errors.As(err, &apiErr) {
			return "", classifyStatus("anthropic chat", apiErr.StatusCode, 0, err)
		}
		return "", transportError("anthropic chat", err)
	}

	var b strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			b.WriteString(block.Text)
		}
	}
	if b.Len() == 0 {
		return "", common.ProviderRejection("anthropic chat", errors.New("no text in response"))
	}
	return b.String(), nil
}

var _ Provider = (*AnthropicProvider)(nil)
