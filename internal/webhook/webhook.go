// Package webhook delivers outbound notifications without ever blocking or
// failing the caller.
package webhook

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"backoffice/internal/log"
)

type Mode string

const (
	ModeDirect Mode = "direct"
	ModeQueue  Mode = "queue"
	ModeOff    Mode = "off"
)

const (
	EventOrderInquiry        = "order.inquiry"
	EventAppointmentSchedule = "appointment.schedule"
	EventAppointmentModify   = "appointment.modify"
	EventAppointmentCancel   = "appointment.cancel"
)

// Payload is the JSON body POSTed to receivers.
type Payload struct {
	Event      string    `json:"event"`
	TenantID   string    `json:"tenantId"`
	OccurredAt time.Time `json:"occurredAt"`
	Data       any       `json:"data"`
}

// Queue hands a delivery to the background worker.
type Queue interface {
	EnqueueWebhook(ctx context.Context, id, url, event, tenantID string, body []byte) error
}

type Config struct {
	Mode     Mode
	TenantID string
	Timeout  time.Duration
	// Routes maps an event prefix ("appointment.", "order.") to a receiver URL.
	Routes map[string]string
}

type Dispatcher struct {
	mode     Mode
	tenantID string
	routes   map[string]string
	sender   *Sender
	queue    Queue
	logger   *log.Logger
	wg       sync.WaitGroup
}

func NewDispatcher(cfg Config, queue Queue, logger *log.Logger) *Dispatcher {
	if logger == nil {
		logger = log.New(log.DefaultConfig()).WithComponent(log.ComponentWebhook)
	}
	if cfg.Mode == "" {
		cfg.Mode = ModeDirect
	}
	if cfg.Mode == ModeQueue && queue == nil {
		logger.Warn("Webhook queue mode without a queue, falling back to direct delivery")
		cfg.Mode = ModeDirect
	}
	return &Dispatcher{
		mode:     cfg.Mode,
		tenantID: cfg.TenantID,
		routes:   cfg.Routes,
		sender:   NewSender(cfg.Timeout),
		queue:    queue,
		logger:   logger,
	}
}

func (d *Dispatcher) Mode() Mode { return d.mode }

// URLFor returns the receiver for an event, or "" when none is configured.
func (d *Dispatcher) URLFor(event string) string {
	best := ""
	url := ""
	for prefix, u := range d.routes {
		if strings.HasPrefix(event, prefix) && len(prefix) > len(best) {
			best, url = prefix, u
		}
	}
	return url
}

// Fire schedules a delivery and returns immediately. Failures are logged.
func (d *Dispatcher) Fire(ctx context.Context, event string, data any) {
	if d == nil || d.mode == ModeOff {
		return
	}
	url := d.URLFor(event)
	if url == "" {
		d.logger.DebugContext(ctx, "No webhook receiver configured", log.FieldEvent, event)
		return
	}
	body, err := json.Marshal(Payload{
		Event:      event,
		TenantID:   d.tenantID,
		OccurredAt: time.Now().UTC(),
		Data:       data,
	})
	if err != nil {
		d.logger.ErrorContext(ctx, "Failed to encode webhook payload", log.FieldEvent, event, log.FieldError, err)
		return
	}
	id := uuid.NewString()

	// Detach from the request so the delivery outlives it.
	bg := context.WithoutCancel(ctx)
	d.wg.Add(1)
	go func() {
		defer d.wg.Done()
		var err error
		if d.mode == ModeQueue {
			err = d.queue.EnqueueWebhook(bg, id, url, event, d.tenantID, body)
		} else {
			err = d.sender.Send(bg, id, url, event, body)
		}
		if err != nil {
			d.logger.WarnContext(bg, "Webhook delivery failed",
				log.FieldEvent, event,
				"webhook_id", id,
				"mode", string(d.mode),
				log.FieldError, err)
			return
		}
		d.logger.DebugContext(bg, "Webhook delivered", log.FieldEvent, event, "webhook_id", id, "mode", string(d.mode))
	}()
}

// Wait blocks until in-flight deliveries finish or ctx ends.
func (d *Dispatcher) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Sender POSTs JSON bodies. It is shared by direct mode and the worker.
type Sender struct {
	client *http.Client
}

func NewSender(timeout time.Duration) *Sender {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Sender{client: &http.Client{Timeout: timeout}}
}

func (s *Sender) Send(ctx context.Context, id, url, event string, body []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Webhook-Event", event)
	req.Header.Set("X-Webhook-Id", id)

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("post webhook: %w", err)
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("webhook receiver returned %d", resp.StatusCode)
	}
	return nil
}
