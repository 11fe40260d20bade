package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"backoffice/internal/cache"
	"backoffice/internal/core"
	"backoffice/internal/llm"
	"backoffice/internal/store/memory"
)

const tenant = "t1"

var fixedNow = time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)

type scriptedModel struct {
	mu         sync.Mutex
	replies    []llm.Reply
	calls      [][]llm.Message
	tools      [][]llm.Tool
	embedCalls int
	embed      func(string) []float32
}

func (m *scriptedModel) Chat(_ context.Context, msgs []llm.Message, tools []llm.Tool) (llm.Reply, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, append([]llm.Message(nil), msgs...))
	m.tools = append(m.tools, tools)
	if len(m.replies) == 0 {
		return llm.Reply{}, errors.New("no scripted reply")
	}
	r := m.replies[0]
	m.replies = m.replies[1:]
	return r, nil
}

func (m *scriptedModel) Embed(_ context.Context, texts []string) ([][]float32, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.embedCalls++
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if m.embed != nil {
			out[i] = m.embed(t)
		} else {
			out[i] = llm.HashEmbedding(t)
		}
	}
	return out, nil
}

type firedEvent struct {
	event string
	data  map[string]any
}

type recordingHooks struct {
	mu     sync.Mutex
	events []firedEvent
}

func (h *recordingHooks) Fire(_ context.Context, event string, data any) {
	h.mu.Lock()
	defer h.mu.Unlock()
	m, _ := data.(map[string]any)
	h.events = append(h.events, firedEvent{event: event, data: m})
}

func (h *recordingHooks) named(event string) []firedEvent {
	h.mu.Lock()
	defer h.mu.Unlock()
	var out []firedEvent
	for _, e := range h.events {
		if e.event == event {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	svc   *Service
	store *memory.Store
	model *scriptedModel
	hooks *recordingHooks
}

func newFixture(t *testing.T, replies ...llm.Reply) *fixture {
	t.Helper()
	st := memory.New()
	ctx := context.Background()
	if err := st.SaveOrder(ctx, core.Order{
		Number:       "A1001",
		TenantID:     tenant,
		Email:        "Pat@Example.com",
		CustomerName: "Pat",
		Phone:        "555-0100",
		Status:       "shipped",
		ProductName:  "Lift 400",
		PlacedAt:     fixedNow.AddDate(0, 0, -10),
	}); err != nil {
		t.Fatal(err)
	}
	for _, p := range []core.Product{
		{SKU: "L300", Name: "Lift 300", CapacityLbs: 300, Price: decimal.NewFromInt(900), MinHeightIn: 18, MaxHeightIn: 30},
		{SKU: "L350", Name: "Lift 350", CapacityLbs: 350, Price: decimal.NewFromInt(1200), MinHeightIn: 20, MaxHeightIn: 34},
		{SKU: "L450", Name: "Lift 450", CapacityLbs: 450, Price: decimal.NewFromInt(1800), MinHeightIn: 22, MaxHeightIn: 38},
		{SKU: "L250", Name: "Lift 250", CapacityLbs: 250, Price: decimal.NewFromInt(500), MinHeightIn: 16, MaxHeightIn: 28},
	} {
		if err := st.SaveProduct(ctx, tenant, p); err != nil {
			t.Fatal(err)
		}
	}

	model := &scriptedModel{replies: replies}
	hooks := &recordingHooks{}
	svc := NewService(st, model, Options{
		TenantID:   tenant,
		Embeddings: cache.NewLRUCache[[]float32](16, time.Hour),
		Hooks:      hooks,
		Now:        func() time.Time { return fixedNow },
	})
	return &fixture{svc: svc, store: st, model: model, hooks: hooks}
}

func userTurn(text string) ChatRequest {
	return ChatRequest{Messages: []core.ChatMessage{{Role: core.RoleUser, Content: text}}, SessionID: "s1"}
}

func decodeResult(t *testing.T, s string) map[string]any {
	t.Helper()
	var m map[string]any
	if err := json.Unmarshal([]byte(s), &m); err != nil {
		t.Fatalf("tool result is not JSON: %q", s)
	}
	return m
}

func TestChatRequiresUserMessage(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Chat(context.Background(), ChatRequest{Messages: []core.ChatMessage{{Role: core.RoleAssistant, Content: "hi"}}})
	if !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected ErrInvalidInput, got %v", err)
	}
}

func TestChatWithoutToolsUsesRetrievedSources(t *testing.T) {
	f := newFixture(t, llm.Reply{Content: "Our lifts carry a 5 year warranty."})
	ctx := context.Background()
	text := "Every lift carries a five year warranty on the motor and frame"
	if _, err := f.svc.IndexDocument(ctx, Document{Title: "Warranty", URL: "/help/warranty", Category: "Warranty", Text: text}); err != nil {
		t.Fatal(err)
	}

	resp, err := f.svc.Chat(ctx, userTurn(text))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Our lifts carry a 5 year warranty." {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].Title != "Warranty" || resp.Sources[0].Category != "warranty" {
		t.Fatalf("unexpected sources %+v", resp.Sources)
	}
	if len(f.model.calls) != 1 {
		t.Fatalf("expected a single model call, got %d", len(f.model.calls))
	}
	if sys := f.model.calls[0][0]; sys.Role != llm.RoleSystem || !strings.Contains(sys.Content, "Relevant information") {
		t.Fatalf("sources not injected into system prompt: %q", sys.Content)
	}
	if len(f.model.tools[0]) != 5 {
		t.Fatalf("expected 5 tools offered, got %d", len(f.model.tools[0]))
	}
	if resp.SuggestedQuestions[0] != "How do I file a warranty claim?" {
		t.Fatalf("unexpected suggestions %v", resp.SuggestedQuestions)
	}
}

func TestChatToolRoundTrip(t *testing.T) {
	f := newFixture(t,
		llm.Reply{ToolCalls: []llm.ToolCall{{ID: "c1", Name: ToolOrderStatus, Arguments: `{"order_number":"#a1001","email":"pat@example.com"}`}}},
		llm.Reply{Content: "Your order has shipped."},
	)

	resp, err := f.svc.Chat(context.Background(), userTurn("where is order A1001?"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Your order has shipped." {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	if len(f.model.calls) != 2 {
		t.Fatalf("expected two model calls, got %d", len(f.model.calls))
	}
	if f.model.tools[1] != nil {
		t.Fatal("follow-up call should not offer tools")
	}
	second := f.model.calls[1]
	last := second[len(second)-1]
	if last.Role != llm.RoleTool || last.ToolCallID != "c1" {
		t.Fatalf("tool result not fed back: %+v", last)
	}
	res := decodeResult(t, last.Content)
	if res["status"] != "shipped" || res["orderNumber"] != "A1001" {
		t.Fatalf("unexpected tool result %v", res)
	}
	if got := f.hooks.named(EventOrderInquiry); len(got) != 1 {
		t.Fatalf("expected one order.inquiry webhook, got %d", len(got))
	}
	if len(resp.ToolsUsed) != 1 || resp.ToolsUsed[0] != ToolOrderStatus {
		t.Fatalf("unexpected tools used %v", resp.ToolsUsed)
	}
	if resp.SuggestedQuestions[0] != "Can I schedule my delivery appointment?" {
		t.Fatalf("unexpected suggestions %v", resp.SuggestedQuestions)
	}
}

func TestChatToolFailureDoesNotFailTurn(t *testing.T) {
	f := newFixture(t,
		llm.Reply{ToolCalls: []llm.ToolCall{
			{ID: "c1", Name: "delete_everything", Arguments: `{}`},
			{ID: "c2", Name: ToolEstimateShipping, Arguments: `{"zip":"abc"}`},
			{ID: "c3", Name: ToolRecommendProduct, Arguments: `not json`},
		}},
		llm.Reply{Content: "Sorry about that."},
	)

	resp, err := f.svc.Chat(context.Background(), userTurn("help"))
	if err != nil {
		t.Fatal(err)
	}
	if resp.Content != "Sorry about that." {
		t.Fatalf("unexpected content %q", resp.Content)
	}
	msgs := f.model.calls[1]
	for _, m := range msgs[len(msgs)-3:] {
		if _, ok := decodeResult(t, m.Content)["error"]; !ok {
			t.Fatalf("expected error result, got %s", m.Content)
		}
	}
}

func TestChatModelFailure(t *testing.T) {
	f := newFixture(t)
	if _, err := f.svc.Chat(context.Background(), userTurn("hi")); err == nil {
		t.Fatal("expected model failure to surface")
	}
}

func TestOrderStatusEmailMismatchLooksNotFound(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	mismatch := decodeResult(t, f.svc.runTool(ctx, llm.ToolCall{Name: ToolOrderStatus, Arguments: `{"order_number":"A1001","email":"other@example.com"}`}, ""))
	missing := decodeResult(t, f.svc.runTool(ctx, llm.ToolCall{Name: ToolOrderStatus, Arguments: `{"order_number":"A1002"}`}, ""))
	if mismatch["error"] != "order A1001 not found" {
		t.Fatalf("unexpected result %v", mismatch)
	}
	if missing["error"] != "order A1002 not found" {
		t.Fatalf("unexpected result %v", missing)
	}
	if _, leaked := mismatch["status"]; leaked {
		t.Fatal("order data leaked on email mismatch")
	}
	if len(f.hooks.named(EventOrderInquiry)) != 0 {
		t.Fatal("no webhook expected for failed lookups")
	}
}

func TestEmbeddingCache(t *testing.T) {
	f := newFixture(t, llm.Reply{Content: "a"}, llm.Reply{Content: "b"})
	ctx := context.Background()
	for i := 0; i < 2; i++ {
		if _, err := f.svc.Chat(ctx, userTurn("Is shipping free?")); err != nil {
			t.Fatal(err)
		}
	}
	if f.model.embedCalls != 1 {
		t.Fatalf("expected the query to be embedded once, got %d", f.model.embedCalls)
	}
}

func TestRetrieveThresholdAndTopK(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.model.embed = func(string) []float32 { return []float32{1, 0} }

	// Cosine with (1,0) is the first component of each unit vector.
	sims := map[string][]float32{
		"a": {1, 0},
		"b": {0.95, 0.3122499},
		"c": {0.9, 0.4358899},
		"d": {0.8, 0.6},
		"e": {0.76, 0.6499231},
		"f": {0.7, 0.7141428},
	}
	var chunks []core.KnowledgeChunk
	for id, v := range sims {
		chunks = append(chunks, core.KnowledgeChunk{ID: id, TenantID: tenant, Title: id, Content: id, Embedding: v})
	}
	chunks = append(chunks, core.KnowledgeChunk{ID: "other", TenantID: "t2", Title: "x", Embedding: []float32{1, 0}})
	if err := f.store.SaveChunks(ctx, chunks); err != nil {
		t.Fatal(err)
	}

	hits, err := f.svc.retrieve(ctx, "q")
	if err != nil {
		t.Fatal(err)
	}
	want := []string{"a", "b", "c", "d"}
	if len(hits) != len(want) {
		t.Fatalf("expected %d hits, got %d", len(want), len(hits))
	}
	for i, id := range want {
		if hits[i].chunk.ID != id {
			t.Fatalf("hit %d = %s, want %s", i, hits[i].chunk.ID, id)
		}
	}

	f.svc.opts.TopK = 10
	hits, _ = f.svc.retrieve(ctx, "q")
	if len(hits) != 5 {
		t.Fatalf("expected 5 hits at or above 0.75, got %d", len(hits))
	}
}

func TestCosine(t *testing.T) {
	if Cosine([]float32{1, 0}, []float32{1}) != 0 {
		t.Fatal("length mismatch should be 0")
	}
	if Cosine([]float32{0, 0}, []float32{1, 0}) != 0 {
		t.Fatal("zero vector should be 0")
	}
	if got := Cosine([]float32{2, 0}, []float32{5, 0}); got != 1 {
		t.Fatalf("parallel vectors should be 1, got %f", got)
	}
}

func TestChatWithOfflineProviderCallsTools(t *testing.T) {
	f := newFixture(t)
	svc := NewService(f.store, llm.NewOfflineProvider(), Options{
		TenantID: tenant,
		Hooks:    f.hooks,
		Now:      func() time.Time { return fixedNow },
	})
	ctx := context.Background()

	resp, err := svc.Chat(ctx, userTurn("Where is order #A1001? It's under Pat@Example.com"))
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolsUsed) != 1 || resp.ToolsUsed[0] != ToolOrderStatus {
		t.Fatalf("expected an order lookup, got %v", resp.ToolsUsed)
	}
	if !strings.Contains(resp.Content, "Order A1001 is shipped.") {
		t.Fatalf("unexpected answer %q", resp.Content)
	}
	if len(f.hooks.named(EventOrderInquiry)) != 1 {
		t.Fatal("order lookup should fire the inquiry webhook")
	}

	resp, err = svc.Chat(ctx, userTurn("I weigh 320 lbs, what lift fits?"))
	if err != nil {
		t.Fatal(err)
	}
	if len(resp.ToolsUsed) != 1 || resp.ToolsUsed[0] != ToolRecommendProduct {
		t.Fatalf("expected a product recommendation, got %v", resp.ToolsUsed)
	}
	if strings.Contains(resp.Content, "Lift 300") || strings.Contains(resp.Content, "Lift 250") {
		t.Fatalf("recommended an undersized lift: %q", resp.Content)
	}
}
