package amqp

import (
	"encoding/json"
	"time"
)

// Message types carried in the AMQP Type property.
const (
	TypeExport  = "ledger.export"
	TypeWebhook = "webhook.deliver"
)

// ExportMessage asks the worker to append a confirmed match to the ledger.
// The worker reloads the suggestion from the store, so only ids travel.
type ExportMessage struct {
	TenantID     string    `json:"tenant_id"`
	SuggestionID string    `json:"suggestion_id"`
	Timestamp    time.Time `json:"timestamp"`
}

func NewExportMessage(tenantID, suggestionID string) *ExportMessage {
	return &ExportMessage{
		TenantID:     tenantID,
		SuggestionID: suggestionID,
		Timestamp:    time.Now(),
	}
}

func (m *ExportMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func ExportMessageFromJSON(data []byte) (*ExportMessage, error) {
	var msg ExportMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}

// WebhookMessage carries a fully rendered webhook body to the worker.
type WebhookMessage struct {
	ID        string          `json:"id"`
	URL       string          `json:"url"`
	Event     string          `json:"event"`
	TenantID  string          `json:"tenant_id"`
	Body      json.RawMessage `json:"body"`
	Timestamp time.Time       `json:"timestamp"`
}

func NewWebhookMessage(id, url, event, tenantID string, body []byte) *WebhookMessage {
	return &WebhookMessage{
		ID:        id,
		URL:       url,
		Event:     event,
		TenantID:  tenantID,
		Body:      json.RawMessage(body),
		Timestamp: time.Now(),
	}
}

func (m *WebhookMessage) ToJSON() ([]byte, error) {
	return json.Marshal(m)
}

func WebhookMessageFromJSON(data []byte) (*WebhookMessage, error) {
	var msg WebhookMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, err
	}
	return &msg, nil
}
