package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"regexp"
	"strconv"
	"strings"
	"unicode"
)

const offlineDims = 256

// Tool names the offline router knows how to call.
const (
	toolOrderStatus      = "get_order_status"
	toolEstimateShipping = "estimate_shipping"
	toolRecommendProduct = "recommend_product"
)

var (
	orderPattern    = regexp.MustCompile(`(?i)(?:\border\b\s*(?:number|no\.?)?\s*[:#]?\s*|#)([a-z]{0,3}\d{3,}[a-z0-9-]*)`)
	emailPattern    = regexp.MustCompile(`[\w.+-]+@[\w-]+(?:\.[\w-]+)+`)
	zipPattern      = regexp.MustCompile(`\b(\d{5})(?:-\d{4})?\b`)
	weightPattern   = regexp.MustCompile(`(?i)(\d{2,4}(?:\.\d+)?)\s*(?:lbs?|pounds?)\b`)
	budgetPattern   = regexp.MustCompile(`\$\s*(\d[\d,]*(?:\.\d+)?)`)
	shippingPattern = regexp.MustCompile(`(?i)\b(?:ship(?:s|ping)?|deliver(?:y|ed)?|zip)\b`)
)

// OfflineProvider is a deterministic stand-in used when no API key is
// configured. Embeddings are hashed bags of words. Chat routes order
// numbers, ZIP codes and user weights in the latest user message to the
// matching tool, and otherwise answers from the injected context and tool
// results.
type OfflineProvider struct{}

func NewOfflineProvider() *OfflineProvider { return &OfflineProvider{} }

func (OfflineProvider) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		out[i] = HashEmbedding(t)
	}
	return out, nil
}

func (OfflineProvider) Chat(ctx context.Context, messages []Message, tools []Tool) (Reply, error) {
	if err := ctx.Err(); err != nil {
		return Reply{}, err
	}

	if n := len(messages); n > 0 && messages[n-1].Role == RoleUser {
		if call, ok := routeIntent(messages[n-1].Content, tools); ok {
			return Reply{ToolCalls: []ToolCall{call}}, nil
		}
	}

	var results []string
	for i := len(messages) - 1; i >= 0 && messages[i].Role == RoleTool; i-- {
		results = append([]string{summarizeToolResult(messages[i].Content)}, results...)
	}
	if len(results) > 0 {
		return Reply{Content: strings.Join(results, "\n")}, nil
	}

	for _, m := range messages {
		if m.Role != RoleSystem {
			continue
		}
		if i := strings.Index(m.Content, "Relevant information:\n"); i >= 0 {
			excerpt := strings.TrimSpace(m.Content[i+len("Relevant information:\n"):])
			if len(excerpt) > 400 {
				excerpt = excerpt[:400] + "..."
			}
			return Reply{Content: "Here is what I found:\n" + excerpt}, nil
		}
	}
	return Reply{Content: "I'm not sure about that. Could you share your order number or a few more details?"}, nil
}

// routeIntent picks at most one tool call for a user message. Only offered
// tools are called.
func routeIntent(text string, tools []Tool) (ToolCall, bool) {
	offered := make(map[string]bool, len(tools))
	for _, t := range tools {
		offered[t.Name] = true
	}
	args := map[string]any{}
	name := ""

	weight, hasWeight := firstNumber(weightPattern, text)
	switch {
	case offered[toolOrderStatus] && orderPattern.MatchString(text):
		name = toolOrderStatus
		args["order_number"] = orderPattern.FindStringSubmatch(text)[1]
		if email := emailPattern.FindString(text); email != "" {
			args["email"] = email
		}
	case offered[toolEstimateShipping] && zipPattern.MatchString(text) && shippingPattern.MatchString(text):
		name = toolEstimateShipping
		args["zip"] = zipPattern.FindStringSubmatch(text)[1]
		if hasWeight {
			args["weight_lbs"] = weight
		}
	case offered[toolRecommendProduct] && hasWeight:
		name = toolRecommendProduct
		args["weight_lbs"] = weight
		if budget, ok := firstNumber(budgetPattern, text); ok {
			args["budget"] = budget
		}
	default:
		return ToolCall{}, false
	}

	b, err := json.Marshal(args)
	if err != nil {
		return ToolCall{}, false
	}
	return ToolCall{ID: "offline-" + name, Name: name, Arguments: string(b)}, true
}

func firstNumber(re *regexp.Regexp, text string) (float64, bool) {
	m := re.FindStringSubmatch(text)
	if m == nil {
		return 0, false
	}
	v, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", ""), 64)
	if err != nil {
		return 0, false
	}
	return v, true
}

func summarizeToolResult(content string) string {
	var m map[string]any
	if err := json.Unmarshal([]byte(content), &m); err != nil {
		return content
	}
	if e, ok := m["error"].(string); ok {
		return "Sorry, I couldn't complete that: " + e
	}
	if msg, ok := m["message"].(string); ok && msg != "" {
		return msg
	}
	if order, ok := m["orderNumber"].(string); ok {
		line := fmt.Sprintf("Order %s is %v.", order, m["status"])
		if tracking, ok := m["trackingNumber"].(string); ok && tracking != "" {
			line += " Tracking number: " + tracking + "."
		}
		return line
	}
	if zip, ok := m["zip"].(string); ok {
		return fmt.Sprintf("Shipping to %s costs about $%v and takes %v business days.", zip, m["costUsd"], m["estimatedDays"])
	}
	if recs, ok := m["recommendations"].([]any); ok && len(recs) > 0 {
		names := make([]string, 0, len(recs))
		for _, r := range recs {
			if p, ok := r.(map[string]any); ok {
				names = append(names, fmt.Sprintf("%v ($%v)", p["name"], p["price"]))
			}
		}
		return "I'd suggest: " + strings.Join(names, ", ") + "."
	}
	return content
}

// HashEmbedding maps text onto a fixed-size unit vector by hashing its
// lowercase word tokens.
func HashEmbedding(text string) []float32 {
	v := make([]float32, offlineDims)
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	for _, w := range words {
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[h.Sum32()%offlineDims]++
	}
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	if norm == 0 {
		return v
	}
	n := float32(math.Sqrt(norm))
	for i := range v {
		v[i] /= n
	}
	return v
}
