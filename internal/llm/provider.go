// Package llm adapts language-model backends to the assistant's needs:
// chat completions with function tools, and text embeddings.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"time"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

const (
	chatTimeout  = 30 * time.Second
	embedTimeout = 10 * time.Second
)

var ErrEmptyResponse = errors.New("llm: empty response")

type Message struct {
	Role       string
	Content    string
	ToolCalls  []ToolCall
	ToolCallID string
}

type ToolCall struct {
	ID        string
	Name      string
	Arguments string
}

// Tool is a function the model may call. Parameters is a JSON schema object.
type Tool struct {
	Name        string
	Description string
	Parameters  json.RawMessage
}

type Reply struct {
	Content   string
	ToolCalls []ToolCall
}

// Provider is implemented by every backend.
type Provider interface {
	Chat(ctx context.Context, messages []Message, tools []Tool) (Reply, error)
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
