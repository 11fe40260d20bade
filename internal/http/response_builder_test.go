package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"backoffice/internal/books"
	"backoffice/internal/core"
	"backoffice/internal/ingest"
)

func TestResponseBuilder_Basic(t *testing.T) {
	w := httptest.NewRecorder()

	NewResponse().
		Status(http.StatusCreated).
		JSON(map[string]int{"n": 1}).
		Write(w)

	if w.Code != http.StatusCreated {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusCreated)
	}
	if got := w.Header().Get("Content-Type"); got != "application/json" {
		t.Errorf("Content-Type = %q", got)
	}
	if strings.TrimSpace(w.Body.String()) != `{"n":1}` {
		t.Errorf("Body = %q", w.Body.String())
	}
}

func TestResponseBuilder_NoBody(t *testing.T) {
	w := httptest.NewRecorder()
	NewResponse().Status(http.StatusNoContent).Write(w)

	if w.Code != http.StatusNoContent || w.Body.Len() != 0 {
		t.Errorf("unexpected response %d %q", w.Code, w.Body.String())
	}
}

func TestResponseBuilder_Triggers(t *testing.T) {
	w := httptest.NewRecorder()

	NewResponse().
		TriggerQueueRefresh().
		TriggerSuccessNotification("Match confirmed").
		Write(w)

	trigger := w.Header().Get("HX-Trigger")
	if trigger == "" {
		t.Fatal("HX-Trigger header not set")
	}
	var parsed map[string]json.RawMessage
	if err := json.Unmarshal([]byte(trigger), &parsed); err != nil {
		t.Fatalf("HX-Trigger is not JSON: %v", err)
	}
	for _, name := range []string{"books:queue-refresh", "show-notification"} {
		if _, ok := parsed[name]; !ok {
			t.Errorf("HX-Trigger missing %q: %s", name, trigger)
		}
	}
	if !strings.Contains(trigger, `"type":"success"`) || !strings.Contains(trigger, `"duration":3000`) {
		t.Errorf("unexpected notification payload: %s", trigger)
	}
}

func TestResponseBuilder_CustomHeader(t *testing.T) {
	w := httptest.NewRecorder()

	NewResponse().
		Header("X-Custom", "value").
		Status(http.StatusAccepted).
		Write(w)

	if w.Header().Get("X-Custom") != "value" {
		t.Errorf("Custom header not set")
	}
	if w.Code != http.StatusAccepted {
		t.Errorf("Status code = %d, want %d", w.Code, http.StatusAccepted)
	}
}

func TestResponseBuilder_EncodeFailure(t *testing.T) {
	w := httptest.NewRecorder()
	NewResponse().JSON(map[string]any{"bad": make(chan int)}).Write(w)

	if w.Code != http.StatusInternalServerError {
		t.Errorf("Status code = %d, want 500", w.Code)
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name       string
		builder    *ResponseBuilder
		wantStatus int
		wantError  string
	}{
		{"bad request", BadRequestError("Invalid input"), http.StatusBadRequest, "Invalid input"},
		{"unprocessable entity", UnprocessableEntityError("Validation failed"), http.StatusUnprocessableEntity, "Validation failed"},
		{"internal server error", InternalServerError("Something broke"), http.StatusInternalServerError, "Something broke"},
		{"not found", NotFoundError("Resource not found"), http.StatusNotFound, "Resource not found"},
		{"markup is data", BadRequestError("<script>x</script>"), http.StatusBadRequest, "<script>x</script>"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := httptest.NewRecorder()
			tt.builder.Write(w)

			if w.Code != tt.wantStatus {
				t.Errorf("Status code = %d, want %d", w.Code, tt.wantStatus)
			}
			var body errorBody
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("body is not JSON: %q", w.Body.String())
			}
			if body.Error != tt.wantError {
				t.Errorf("error = %q, want %q", body.Error, tt.wantError)
			}
			if !strings.Contains(w.Header().Get("HX-Trigger"), `"type":"error"`) {
				t.Errorf("missing error toast: %s", w.Header().Get("HX-Trigger"))
			}
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("suggestion x: %w", core.ErrNotFound), http.StatusNotFound},
		{fmt.Errorf("suggestion x: %w", core.ErrInvalidTransition), http.StatusConflict},
		{books.ErrNoPendingSuggestion, http.StatusConflict},
		{core.Invalidf("bad"), http.StatusUnprocessableEntity},
		{core.ErrInvalidAmount, http.StatusUnprocessableEntity},
		{fmt.Errorf("%w: eof", errMalformedRequest), http.StatusBadRequest},
		{ingest.ErrTooLarge, http.StatusRequestEntityTooLarge},
		{&http.MaxBytesError{Limit: 1}, http.StatusRequestEntityTooLarge},
		{ingest.ErrUnsupportedType, http.StatusUnsupportedMediaType},
		{ingest.ErrEmptyFile, http.StatusBadRequest},
		{errors.New("database is locked"), http.StatusInternalServerError},
	}
	for _, tt := range tests {
		if got := StatusFor(tt.err); got != tt.want {
			t.Errorf("StatusFor(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestErrorForHidesInternalDetail(t *testing.T) {
	w := httptest.NewRecorder()
	ErrorFor(errors.New("pq: password authentication failed")).Write(w)

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("Status code = %d", w.Code)
	}
	if strings.Contains(w.Body.String(), "password") {
		t.Fatalf("internal detail leaked: %s", w.Body.String())
	}
}

func TestNotificationTypes(t *testing.T) {
	tests := []struct {
		notifType NotificationType
		want      string
	}{
		{NotificationSuccess, "success"},
		{NotificationError, "error"},
		{NotificationWarning, "warning"},
		{NotificationInfo, "info"},
	}

	for _, tt := range tests {
		w := httptest.NewRecorder()
		NewResponse().
			TriggerNotification(tt.notifType, "test", 1000).
			Write(w)

		trigger := w.Header().Get("HX-Trigger")
		if !strings.Contains(trigger, `"type":"`+tt.want+`"`) {
			t.Errorf("Notification type %q not found in trigger: %s", tt.want, trigger)
		}
	}
}
