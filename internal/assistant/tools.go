package assistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"backoffice/internal/core"
	"backoffice/internal/llm"
	"backoffice/internal/log"
)

const (
	ToolOrderStatus       = "get_order_status"
	ToolManageAppointment = "manage_appointment"
	ToolRecommendProduct  = "recommend_product"
	ToolEstimateShipping  = "estimate_shipping"
	ToolSearchFAQ         = "search_faq"
)

// toolError is a failure reported back to the model as {"error": msg}.
type toolError struct{ msg string }

func (e toolError) Error() string { return e.msg }

func toolErrorf(format string, args ...any) error {
	return toolError{msg: fmt.Sprintf(format, args...)}
}

type toolCall struct {
	args      json.RawMessage
	sessionID string
}

type toolSpec struct {
	def llm.Tool
	run func(ctx context.Context, call toolCall) (any, error)
}

func (s *Service) registry() map[string]toolSpec {
	return map[string]toolSpec{
		ToolOrderStatus: {
			def: llm.Tool{
				Name:        ToolOrderStatus,
				Description: "Look up the status of an order by its order number. Include the customer's email when they provide it.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"order_number":{"type":"string","description":"Order number, e.g. A1001"},
					"email":{"type":"string","description":"Email used for the order"}},
					"required":["order_number"]}`),
			},
			run: s.orderStatus,
		},
		ToolManageAppointment: {
			def: llm.Tool{
				Name:        ToolManageAppointment,
				Description: "Schedule, modify or cancel the delivery/installation appointment of an order.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"action":{"type":"string","enum":["schedule","modify","cancel"]},
					"order_number":{"type":"string"},
					"date":{"type":"string","description":"YYYY-MM-DD"},
					"time_slot":{"type":"string","description":"e.g. 9am-12pm"},
					"appointment_type":{"type":"string","description":"delivery or installation"},
					"notes":{"type":"string"}},
					"required":["action","order_number"]}`),
			},
			run: s.manageAppointment,
		},
		ToolRecommendProduct: {
			def: llm.Tool{
				Name:        ToolRecommendProduct,
				Description: "Recommend models for a user weight, optionally within a budget and for a bed height.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"weight_lbs":{"type":"number","description":"User weight in pounds"},
					"budget":{"type":"number","description":"Maximum price in USD"},
					"bed_height_in":{"type":"number","description":"Bed height in inches"}},
					"required":["weight_lbs"]}`),
			},
			run: s.recommendProduct,
		},
		ToolEstimateShipping: {
			def: llm.Tool{
				Name:        ToolEstimateShipping,
				Description: "Estimate shipping cost and transit days to a US ZIP code.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"zip":{"type":"string","description":"5-digit destination ZIP"},
					"weight_lbs":{"type":"number","description":"Shipment weight in pounds"}},
					"required":["zip"]}`),
			},
			run: s.estimateShipping,
		},
		ToolSearchFAQ: {
			def: llm.Tool{
				Name:        ToolSearchFAQ,
				Description: "Search the help center articles.",
				Parameters: json.RawMessage(`{"type":"object","properties":{
					"query":{"type":"string"}},"required":["query"]}`),
			},
			run: s.searchFAQ,
		},
	}
}

// toolDefinitions returns the tools in a stable order.
func (s *Service) toolDefinitions() []llm.Tool {
	names := make([]string, 0, len(s.tools))
	for n := range s.tools {
		names = append(names, n)
	}
	sort.Strings(names)
	out := make([]llm.Tool, 0, len(names))
	for _, n := range names {
		out = append(out, s.tools[n].def)
	}
	return out
}

// runTool executes one call and always returns a JSON document.
func (s *Service) runTool(ctx context.Context, call llm.ToolCall, sessionID string) string {
	logger := s.logger.With(log.FieldTool, call.Name)

	handler, ok := s.tools[call.Name]
	if !ok {
		logger.WarnContext(ctx, "Model requested unknown tool")
		return errorResult(fmt.Sprintf("unknown tool %q", call.Name))
	}

	args := json.RawMessage(call.Arguments)
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	result, err := handler.run(ctx, toolCall{args: args, sessionID: sessionID})
	if err != nil {
		var te toolError
		if errors.As(err, &te) {
			logger.InfoContext(ctx, "Tool returned an error result", log.FieldError, err)
			return errorResult(te.msg)
		}
		logger.ErrorContext(ctx, "Tool failed", log.FieldError, err)
		return errorResult("the tool is temporarily unavailable")
	}

	b, err := json.Marshal(result)
	if err != nil {
		logger.ErrorContext(ctx, "Failed to encode tool result", log.FieldError, err)
		return errorResult("the tool returned an unreadable result")
	}
	logger.DebugContext(ctx, "Tool executed")
	return string(b)
}

func errorResult(msg string) string {
	b, _ := json.Marshal(map[string]string{"error": msg})
	return string(b)
}

func decodeArgs(raw json.RawMessage, v any) error {
	if err := json.Unmarshal(raw, v); err != nil {
		return toolErrorf("invalid arguments: %v", err)
	}
	return nil
}

func isNotFound(err error) bool {
	return errors.Is(err, core.ErrNotFound)
}
