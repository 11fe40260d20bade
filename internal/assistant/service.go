// Package assistant runs customer chat turns: it retrieves knowledge-base
// passages, lets the model call typed tools against orders, appointments,
// products and shipping rates, and returns the model's final answer.
package assistant

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"backoffice/internal/cache"
	"backoffice/internal/core"
	"backoffice/internal/llm"
	"backoffice/internal/log"
	"backoffice/internal/store"
)

const (
	DefaultTopK          = 4
	DefaultMinSimilarity = 0.75
	maxHistory           = 20
)

const systemPrompt = `You are the customer support assistant for a home mobility equipment store.
Answer briefly and accurately. Use the tools to look up orders, manage delivery
appointments, recommend products, estimate shipping and search the FAQ. Never
guess order details. When recommending products, only suggest models returned by
the recommend_product tool.`

// Notifier receives best-effort side-effect notifications.
type Notifier interface {
	Fire(ctx context.Context, event string, data any)
}

type Options struct {
	TenantID      string
	TopK          int
	MinSimilarity float64
	OriginZIP     string
	Rates         ShippingRates
	// Embeddings caches query vectors. Nil disables caching.
	Embeddings *cache.LRUCache[[]float32]
	Hooks      Notifier
	Logger     *log.Logger
	Now        func() time.Time
}

type Service struct {
	store  store.AssistantStore
	model  llm.Provider
	opts   Options
	logger *log.Logger
	tools  map[string]toolSpec
}

func NewService(st store.AssistantStore, model llm.Provider, opts Options) *Service {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	if opts.MinSimilarity <= 0 {
		opts.MinSimilarity = DefaultMinSimilarity
	}
	if opts.Rates == (ShippingRates{}) {
		opts.Rates = DefaultShippingRates()
	}
	if opts.OriginZIP == "" {
		opts.OriginZIP = DefaultOriginZIP
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.Discard()
	}
	s := &Service{
		store:  st,
		model:  model,
		opts:   opts,
		logger: logger.WithComponent(log.ComponentAssistant),
	}
	s.tools = s.registry()
	return s
}

type ChatRequest struct {
	Messages  []core.ChatMessage `json:"messages"`
	SessionID string             `json:"sessionId"`
	Context   map[string]string  `json:"context"`
}

type Source struct {
	Title      string  `json:"title"`
	URL        string  `json:"url,omitempty"`
	Category   string  `json:"category,omitempty"`
	Similarity float64 `json:"similarity"`
}

type ChatResponse struct {
	Content            string   `json:"content"`
	Sources            []Source `json:"sources"`
	SuggestedQuestions []string `json:"suggestedQuestions"`
	ToolsUsed          []string `json:"toolsUsed,omitempty"`
}

// Chat answers the latest user message. Tool failures are reported to the
// model as tool results and never fail the turn; model failures do.
func (s *Service) Chat(ctx context.Context, req ChatRequest) (ChatResponse, error) {
	query := strings.TrimSpace(core.LastUserMessage(req.Messages))
	if query == "" {
		return ChatResponse{}, core.Invalidf("a user message is required")
	}
	logger := s.logger.With(log.FieldTenantID, s.opts.TenantID, "session_id", req.SessionID)

	hits, err := s.retrieve(ctx, query)
	if err != nil {
		// Answer without context rather than fail the turn.
		logger.WarnContext(ctx, "Knowledge retrieval failed", log.FieldError, err)
	}

	msgs := s.buildMessages(req, hits)
	tools := s.toolDefinitions()

	first, err := s.model.Chat(ctx, msgs, tools)
	if err != nil {
		return ChatResponse{}, fmt.Errorf("model call: %w", err)
	}

	resp := ChatResponse{
		Content: first.Content,
		Sources: sourcesOf(hits),
	}

	if len(first.ToolCalls) > 0 {
		msgs = append(msgs, llm.Message{Role: llm.RoleAssistant, Content: first.Content, ToolCalls: first.ToolCalls})
		for _, call := range first.ToolCalls {
			result := s.runTool(ctx, call, req.SessionID)
			msgs = append(msgs, llm.Message{Role: llm.RoleTool, ToolCallID: call.ID, Content: result})
			resp.ToolsUsed = append(resp.ToolsUsed, call.Name)
		}
		final, err := s.model.Chat(ctx, msgs, nil)
		if err != nil {
			return ChatResponse{}, fmt.Errorf("model follow-up call: %w", err)
		}
		resp.Content = final.Content
	}

	resp.SuggestedQuestions = suggestQuestions(resp.ToolsUsed, hits)
	logger.InfoContext(ctx, "Chat turn completed",
		log.FieldOperation, log.OpChat,
		"sources", len(resp.Sources),
		"tools", strings.Join(resp.ToolsUsed, ","))
	return resp, nil
}

func (s *Service) buildMessages(req ChatRequest, hits []hit) []llm.Message {
	var sys strings.Builder
	sys.WriteString(systemPrompt)

	if len(req.Context) > 0 {
		keys := make([]string, 0, len(req.Context))
		for k := range req.Context {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		sys.WriteString("\n\nCustomer context:\n")
		for _, k := range keys {
			fmt.Fprintf(&sys, "- %s: %s\n", k, req.Context[k])
		}
	}

	if len(hits) > 0 {
		sys.WriteString("\n\nRelevant information:\n")
		for _, h := range hits {
			fmt.Fprintf(&sys, "[%s] %s\n", h.chunk.Title, h.chunk.Content)
		}
	}

	history := req.Messages
	if len(history) > maxHistory {
		history = history[len(history)-maxHistory:]
	}
	out := make([]llm.Message, 0, len(history)+1)
	out = append(out, llm.Message{Role: llm.RoleSystem, Content: sys.String()})
	for _, m := range history {
		switch m.Role {
		case core.RoleUser, core.RoleAssistant:
			out = append(out, llm.Message{Role: m.Role, Content: m.Content})
		}
	}
	return out
}

func sourcesOf(hits []hit) []Source {
	out := make([]Source, 0, len(hits))
	for _, h := range hits {
		out = append(out, Source{
			Title:      h.chunk.Title,
			URL:        h.chunk.URL,
			Category:   h.chunk.Category,
			Similarity: h.score,
		})
	}
	return out
}
