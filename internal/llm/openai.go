package llm

import (
	"context"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

var ErrOpenAINoAPIKey = fmt.Errorf("openai: api key not configured")

type OpenAIConfig struct {
	APIKey         string
	BaseURL        string
	ChatModel      string
	EmbeddingModel string
}

// OpenAIProvider talks to any OpenAI-compatible endpoint.
type OpenAIProvider struct {
	cfg    OpenAIConfig
	client *openai.Client
}

func NewOpenAIProvider(cfg OpenAIConfig) *OpenAIProvider {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	if cfg.ChatModel == "" {
		cfg.ChatModel = openai.GPT4oMini
	}
	if cfg.EmbeddingModel == "" {
		cfg.EmbeddingModel = string(openai.SmallEmbedding3)
	}
	return &OpenAIProvider{cfg: cfg}
}

func (p *OpenAIProvider) ensureClient() error {
	if p.cfg.APIKey == "" {
		return ErrOpenAINoAPIKey
	}
	if p.client == nil {
		conf := openai.DefaultConfig(p.cfg.APIKey)
		if p.cfg.BaseURL != "" {
			conf.BaseURL = strings.TrimRight(p.cfg.BaseURL, "/")
		}
		p.client = openai.NewClientWithConfig(conf)
	}
	return nil
}

func (p *OpenAIProvider) Chat(ctx context.Context, messages []Message, tools []Tool) (Reply, error) {
	if err := p.ensureClient(); err != nil {
		return Reply{}, err
	}
	ctx, cancel := context.WithTimeout(ctx, chatTimeout)
	defer cancel()

	req := openai.ChatCompletionRequest{
		Model:    p.cfg.ChatModel,
		Messages: toOpenAIMessages(messages),
		Tools:    toOpenAITools(tools),
	}
	resp, err := p.client.CreateChatCompletion(ctx, req)
	if err != nil {
		return Reply{}, fmt.Errorf("openai: chat completion: %w", err)
	}
	if len(resp.Choices) == 0 {
		return Reply{}, ErrEmptyResponse
	}
	msg := resp.Choices[0].Message
	out := Reply{Content: strings.TrimSpace(msg.Content)}
	for _, tc := range msg.ToolCalls {
		out.ToolCalls = append(out.ToolCalls, ToolCall{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: tc.Function.Arguments,
		})
	}
	return out, nil
}

func (p *OpenAIProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if err := p.ensureClient(); err != nil {
		return nil, err
	}
	if len(texts) == 0 {
		return nil, nil
	}
	ctx, cancel := context.WithTimeout(ctx, embedTimeout)
	defer cancel()

	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: texts,
		Model: openai.EmbeddingModel(p.cfg.EmbeddingModel),
	})
	if err != nil {
		return nil, fmt.Errorf("openai: embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("openai: expected %d embeddings, got %d", len(texts), len(resp.Data))
	}
	out := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(out) {
			return nil, fmt.Errorf("openai: embedding index %d out of range", d.Index)
		}
		out[d.Index] = d.Embedding
	}
	return out, nil
}

func toOpenAIMessages(in []Message) []openai.ChatCompletionMessage {
	out := make([]openai.ChatCompletionMessage, 0, len(in))
	for _, m := range in {
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
		out = append(out, msg)
	}
	return out
}

func toOpenAITools(in []Tool) []openai.Tool {
	if len(in) == 0 {
		return nil
	}
	out := make([]openai.Tool, 0, len(in))
	for _, t := range in {
		out = append(out, openai.Tool{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			},
		})
	}
	return out
}
