package core

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

const (
	AppointmentScheduled AppointmentStatus = "scheduled"
	AppointmentCancelled AppointmentStatus = "cancelled"
	AppointmentPending   AppointmentStatus = "pending"
)

const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// SafetyMargin is applied to the user's weight before any other product filter.
const SafetyMargin = 1.2

type (
	AppointmentStatus string

	Order struct {
		Number         string
		TenantID       string
		Email          string
		CustomerName   string
		Phone          string
		Status         string
		ProductName    string
		TrackingNumber string
		PlacedAt       time.Time
		ShippedAt      *time.Time
	}

	// Appointment is a delivery or installation slot attached to an order.
	Appointment struct {
		ID          string
		TenantID    string
		OrderNumber string
		Type        string
		Date        string // YYYY-MM-DD, empty when unscheduled
		TimeSlot    string
		Status      AppointmentStatus
		Notes       string
		Phone       string
		UpdatedAt   time.Time
	}

	Product struct {
		SKU         string
		Name        string
		CapacityLbs float64
		Price       decimal.Decimal
		MinHeightIn float64
		MaxHeightIn float64
		Description string
	}

	// KnowledgeChunk is one retrievable passage of the knowledge base.
	KnowledgeChunk struct {
		ID        string
		TenantID  string
		Title     string
		URL       string
		Category  string
		Content   string
		Embedding []float32
		CreatedAt time.Time
	}

	ChatMessage struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	}
)

// Supports reports whether the product is rated for weight with the safety margin.
func (p Product) Supports(weightLbs float64) bool {
	return p.CapacityLbs >= weightLbs*SafetyMargin
}

// FitsHeight reports whether h lies within the product's adjustable range.
func (p Product) FitsHeight(h float64) bool {
	return p.MinHeightIn <= h && h <= p.MaxHeightIn
}

// EmailMatches compares emails case-insensitively.
func (o Order) EmailMatches(email string) bool {
	return strings.EqualFold(strings.TrimSpace(o.Email), strings.TrimSpace(email))
}

// Cancel clears the slot. Cancelling twice leaves the appointment unchanged.
func (a *Appointment) Cancel(now time.Time) bool {
	if a.Status == AppointmentCancelled && a.Date == "" && a.TimeSlot == "" {
		return false
	}
	a.Date = ""
	a.TimeSlot = ""
	a.Status = AppointmentCancelled
	a.UpdatedAt = now
	return true
}

// LastUserMessage returns the content of the most recent user message.
func LastUserMessage(msgs []ChatMessage) string {
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].Role == RoleUser {
			return msgs[i].Content
		}
	}
	return ""
}
