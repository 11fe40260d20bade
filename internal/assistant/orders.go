package assistant

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"backoffice/internal/core"
	"backoffice/internal/log"
)

const (
	EventOrderInquiry      = "order.inquiry"
	eventAppointmentPrefix = "appointment."
	defaultAppointmentType = "delivery"
)

const (
	actionSchedule = "schedule"
	actionModify   = "modify"
	actionCancel   = "cancel"
)

type orderStatusArgs struct {
	OrderNumber string `json:"order_number"`
	Email       string `json:"email"`
}

type appointmentView struct {
	Type     string `json:"type"`
	Date     string `json:"date,omitempty"`
	TimeSlot string `json:"timeSlot,omitempty"`
	Status   string `json:"status"`
	Notes    string `json:"notes,omitempty"`
}

type orderStatusResult struct {
	OrderNumber    string           `json:"orderNumber"`
	Status         string           `json:"status"`
	ProductName    string           `json:"productName,omitempty"`
	TrackingNumber string           `json:"trackingNumber,omitempty"`
	PlacedAt       string           `json:"placedAt,omitempty"`
	ShippedAt      string           `json:"shippedAt,omitempty"`
	Appointment    *appointmentView `json:"appointment,omitempty"`
}

func viewOf(a core.Appointment) *appointmentView {
	return &appointmentView{
		Type:     a.Type,
		Date:     a.Date,
		TimeSlot: a.TimeSlot,
		Status:   string(a.Status),
		Notes:    a.Notes,
	}
}

func normalizeOrderNumber(n string) string {
	return strings.ToUpper(strings.TrimPrefix(strings.TrimSpace(n), "#"))
}

// orderStatus never distinguishes a missing order from an email mismatch.
func (s *Service) orderStatus(ctx context.Context, call toolCall) (any, error) {
	var args orderStatusArgs
	if err := decodeArgs(call.args, &args); err != nil {
		return nil, err
	}
	number := normalizeOrderNumber(args.OrderNumber)
	if number == "" {
		return nil, toolErrorf("order_number is required")
	}

	order, err := s.store.GetOrder(ctx, s.opts.TenantID, number)
	if err != nil {
		if isNotFound(err) {
			return nil, toolErrorf("order %s not found", number)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}
	if strings.TrimSpace(args.Email) != "" && !order.EmailMatches(args.Email) {
		return nil, toolErrorf("order %s not found", number)
	}

	res := orderStatusResult{
		OrderNumber:    order.Number,
		Status:         order.Status,
		ProductName:    order.ProductName,
		TrackingNumber: order.TrackingNumber,
	}
	if !order.PlacedAt.IsZero() {
		res.PlacedAt = order.PlacedAt.Format(time.DateOnly)
	}
	if order.ShippedAt != nil {
		res.ShippedAt = order.ShippedAt.Format(time.DateOnly)
	}
	if appt, err := s.store.GetAppointment(ctx, s.opts.TenantID, order.Number); err == nil {
		res.Appointment = viewOf(appt)
	} else if !isNotFound(err) {
		s.logger.WarnContext(ctx, "Failed to load appointment for order", "order_number", order.Number, log.FieldError, err)
	}

	s.fire(ctx, EventOrderInquiry, map[string]any{
		"orderNumber":  order.Number,
		"status":       order.Status,
		"customerName": order.CustomerName,
		"email":        order.Email,
		"phone":        order.Phone,
		"sessionId":    call.sessionID,
	})
	return res, nil
}

type appointmentArgs struct {
	Action          string `json:"action"`
	OrderNumber     string `json:"order_number"`
	Date            string `json:"date"`
	TimeSlot        string `json:"time_slot"`
	AppointmentType string `json:"appointment_type"`
	Notes           string `json:"notes"`
}

type appointmentResult struct {
	OrderNumber string           `json:"orderNumber"`
	Action      string           `json:"action"`
	Message     string           `json:"message"`
	Appointment *appointmentView `json:"appointment"`
}

func (s *Service) manageAppointment(ctx context.Context, call toolCall) (any, error) {
	var args appointmentArgs
	if err := decodeArgs(call.args, &args); err != nil {
		return nil, err
	}
	action := strings.ToLower(strings.TrimSpace(args.Action))
	number := normalizeOrderNumber(args.OrderNumber)
	if number == "" {
		return nil, toolErrorf("order_number is required")
	}
	if args.Date != "" {
		if err := s.validateDate(args.Date); err != nil {
			return nil, err
		}
	}

	order, err := s.store.GetOrder(ctx, s.opts.TenantID, number)
	if err != nil {
		if isNotFound(err) {
			return nil, toolErrorf("order %s not found", number)
		}
		return nil, fmt.Errorf("get order: %w", err)
	}

	appt, err := s.store.GetAppointment(ctx, s.opts.TenantID, order.Number)
	exists := err == nil
	if err != nil && !isNotFound(err) {
		return nil, fmt.Errorf("get appointment: %w", err)
	}

	now := s.opts.Now().UTC()
	var msg string
	switch action {
	case actionSchedule:
		if strings.TrimSpace(args.Date) == "" || strings.TrimSpace(args.TimeSlot) == "" {
			return nil, toolErrorf("date and time_slot are required to schedule")
		}
		if !exists {
			appt = core.Appointment{
				ID:          uuid.NewString(),
				TenantID:    s.opts.TenantID,
				OrderNumber: order.Number,
				Type:        defaultAppointmentType,
			}
		}
		applyAppointmentFields(&appt, args)
		appt.Status = core.AppointmentScheduled
		appt.UpdatedAt = now
		msg = fmt.Sprintf("Appointment scheduled for %s, %s.", appt.Date, appt.TimeSlot)

	case actionModify:
		if !exists {
			return nil, toolErrorf("order %s has no appointment to modify", order.Number)
		}
		if args.Date == "" && args.TimeSlot == "" && args.AppointmentType == "" && args.Notes == "" {
			return nil, toolErrorf("nothing to modify")
		}
		applyAppointmentFields(&appt, args)
		if appt.Date != "" && appt.TimeSlot != "" {
			appt.Status = core.AppointmentScheduled
		}
		appt.UpdatedAt = now
		msg = "Appointment updated."

	case actionCancel:
		if !exists {
			return nil, toolErrorf("order %s has no appointment to cancel", order.Number)
		}
		if !appt.Cancel(now) {
			return appointmentResult{
				OrderNumber: order.Number,
				Action:      action,
				Message:     "The appointment was already cancelled.",
				Appointment: viewOf(appt),
			}, nil
		}
		msg = "Appointment cancelled."

	default:
		return nil, toolErrorf("action must be schedule, modify or cancel")
	}

	if err := s.store.SaveAppointment(ctx, appt); err != nil {
		return nil, fmt.Errorf("save appointment: %w", err)
	}

	s.fireAppointment(ctx, action, appt)
	return appointmentResult{
		OrderNumber: order.Number,
		Action:      action,
		Message:     msg,
		Appointment: viewOf(appt),
	}, nil
}

func applyAppointmentFields(a *core.Appointment, args appointmentArgs) {
	if v := strings.TrimSpace(args.Date); v != "" {
		a.Date = v
	}
	if v := strings.TrimSpace(args.TimeSlot); v != "" {
		a.TimeSlot = v
	}
	if v := strings.ToLower(strings.TrimSpace(args.AppointmentType)); v != "" {
		a.Type = v
	}
	if v := strings.TrimSpace(args.Notes); v != "" {
		a.Notes = v
	}
}

func (s *Service) validateDate(v string) error {
	d, err := time.Parse(time.DateOnly, strings.TrimSpace(v))
	if err != nil {
		return toolErrorf("date must be YYYY-MM-DD")
	}
	today := s.opts.Now().UTC().Truncate(24 * time.Hour)
	if d.Before(today) {
		return toolErrorf("date %s is in the past", v)
	}
	return nil
}

// fireAppointment notifies the appointment webhook. A missing phone number is
// filled from the order; lookup failures only cost the enrichment.
func (s *Service) fireAppointment(ctx context.Context, action string, a core.Appointment) {
	if s.opts.Hooks == nil {
		return
	}
	data := map[string]any{
		"orderNumber":     a.OrderNumber,
		"appointmentType": a.Type,
		"date":            a.Date,
		"timeSlot":        a.TimeSlot,
		"status":          string(a.Status),
		"notes":           a.Notes,
		"phone":           a.Phone,
	}
	if a.Phone == "" {
		order, err := s.store.GetOrder(ctx, s.opts.TenantID, a.OrderNumber)
		if err != nil {
			s.logger.WarnContext(ctx, "Phone enrichment failed", "order_number", a.OrderNumber, log.FieldError, err)
		} else {
			data["phone"] = order.Phone
			data["customerName"] = order.CustomerName
			data["email"] = order.Email
		}
	}
	s.fire(ctx, eventAppointmentPrefix+action, data)
}

func (s *Service) fire(ctx context.Context, event string, data any) {
	if s.opts.Hooks == nil {
		return
	}
	s.opts.Hooks.Fire(ctx, event, data)
}
