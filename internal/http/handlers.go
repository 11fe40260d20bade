package http

import (
	"context"
	"fmt"
	"net/http"
	"sort"
	"strings"
	"time"

	"backoffice/internal/assistant"
	"backoffice/internal/books"
	"backoffice/internal/ingest"
	"backoffice/internal/log"
)

// multipart bodies may carry a little form data next to the file.
const uploadOverhead = 1 << 20

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	NewResponse().JSON(map[string]any{
		"status":    "ok",
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"uptime":    time.Since(s.started).Round(time.Second).String(),
	}).Write(w)
}

// handleReady checks the store. Everything else is best-effort and does not
// affect readiness.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	httpStatus := http.StatusOK
	checks := map[string]any{}

	if s.store == nil {
		checks["store"] = "not_configured"
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else if err := s.store.Ping(ctx); err != nil {
		checks["store"] = fmt.Sprintf("failed: %v", err)
		status, httpStatus = "not_ready", http.StatusServiceUnavailable
	} else {
		checks["store"] = "ok"
	}

	checks["rate_limiter"] = map[string]any{
		"active_clients": s.rateLimiter.ActiveClients(),
		"status":         "ok",
	}

	NewResponse().Status(httpStatus).JSON(map[string]any{
		"status":    status,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
		"checks":    checks,
	}).Write(w)
}

// handleMetrics provides request, security and cache metrics in plain text format
func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")

	traceMetrics := s.traceMiddleware.GetMetrics()
	rateLimitMetrics := s.rateLimiter.GetMetrics()
	securityMetrics := s.securityDetector.GetMetrics()

	w.WriteHeader(http.StatusOK)

	fmt.Fprintf(w, "# HELP http_requests_total Total number of HTTP requests\n")
	fmt.Fprintf(w, "# TYPE http_requests_total counter\n")
	fmt.Fprintf(w, "http_requests_total %d\n\n", traceMetrics.TotalRequests)

	fmt.Fprintf(w, "# HELP http_requests_failed_total Requests answered with a 5xx status\n")
	fmt.Fprintf(w, "# TYPE http_requests_failed_total counter\n")
	fmt.Fprintf(w, "http_requests_failed_total %d\n\n", traceMetrics.FailedRequests)

	fmt.Fprintf(w, "# HELP rate_limit_hits_total Total rate limit hits\n")
	fmt.Fprintf(w, "# TYPE rate_limit_hits_total counter\n")
	fmt.Fprintf(w, "rate_limit_hits_total %d\n\n", rateLimitMetrics.TotalHits)

	fmt.Fprintf(w, "# HELP active_rate_limit_clients Currently tracked rate limit clients\n")
	fmt.Fprintf(w, "# TYPE active_rate_limit_clients gauge\n")
	fmt.Fprintf(w, "active_rate_limit_clients %d\n\n", rateLimitMetrics.ClientCount)

	fmt.Fprintf(w, "# HELP suspicious_requests_total Total suspicious requests detected\n")
	fmt.Fprintf(w, "# TYPE suspicious_requests_total counter\n")
	fmt.Fprintf(w, "suspicious_requests_total %d\n\n", securityMetrics.SuspiciousRequests)

	if len(s.caches) > 0 {
		names := make([]string, 0, len(s.caches))
		for name := range s.caches {
			names = append(names, name)
		}
		sort.Strings(names)

		fmt.Fprintf(w, "# HELP cache_hits_total Total cache hits\n")
		fmt.Fprintf(w, "# TYPE cache_hits_total counter\n")
		for _, name := range names {
			fmt.Fprintf(w, "cache_hits_total{cache=%q} %d\n", name, s.caches[name].Stats().Hits)
		}
		fmt.Fprintf(w, "\n# HELP cache_misses_total Total cache misses\n")
		fmt.Fprintf(w, "# TYPE cache_misses_total counter\n")
		for _, name := range names {
			fmt.Fprintf(w, "cache_misses_total{cache=%q} %d\n", name, s.caches[name].Stats().Misses)
		}
		fmt.Fprintf(w, "\n# HELP cache_entries Current cache entries\n")
		fmt.Fprintf(w, "# TYPE cache_entries gauge\n")
		for _, name := range names {
			fmt.Fprintf(w, "cache_entries{cache=%q} %d\n", name, s.caches[name].Stats().Size)
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "# HELP uptime_seconds Application uptime in seconds\n")
	fmt.Fprintf(w, "# TYPE uptime_seconds gauge\n")
	fmt.Fprintf(w, "uptime_seconds %.0f\n", time.Since(s.started).Seconds())
}

func (s *Server) handleListReceipts(w http.ResponseWriter, r *http.Request) {
	f := ParseListFilter(r.URL.Query())
	receipts, err := s.books.ListReceipts(r.Context(), f)
	if err != nil {
		s.respondError(w, r, log.OpList, err)
		return
	}
	NewResponse().JSON(map[string]any{
		"receipts": toReceiptViews(receipts),
		"bucket":   f.Bucket,
		"sort":     f.SortBy,
		"desc":     f.Desc,
	}).Write(w)
}

func (s *Server) handleCounts(w http.ResponseWriter, r *http.Request) {
	counts, err := s.books.Counts(r.Context())
	if err != nil {
		s.respondError(w, r, log.OpList, err)
		return
	}
	NewResponse().JSON(counts).Write(w)
}

func (s *Server) handleUploadReceipt(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, ingest.MaxReceiptBytes+uploadOverhead)
	if err := r.ParseMultipartForm(ingest.MaxReceiptBytes + uploadOverhead); err != nil {
		s.respondError(w, r, log.OpIngest, multipartError(err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, hdr, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, log.OpIngest, fmt.Errorf("%w: field \"file\" is required", errMalformedRequest))
		return
	}
	defer file.Close()

	get := func(name string) string { return sanitizeInput(r.FormValue(name)) }
	up, err := ingest.ReadReceipt(file, hdr.Filename, hdr.Header.Get("Content-Type"), get, s.books.DefaultCurrency())
	if err != nil {
		s.respondError(w, r, log.OpIngest, err)
		return
	}

	res, err := s.books.IngestReceipt(r.Context(), up)
	if err != nil {
		s.respondError(w, r, log.OpIngest, err)
		return
	}

	resp := NewResponse().TriggerQueueRefresh()
	if res.Duplicate {
		resp.TriggerWarningNotification("This receipt was already uploaded")
	} else {
		resp.Status(http.StatusCreated).
			TriggerSuccessNotification(fmt.Sprintf("Receipt uploaded with %d suggestion(s)", len(res.Receipt.Suggestions)))
	}
	resp.JSON(map[string]any{
		"receipt":   toReceiptView(res.Receipt),
		"duplicate": res.Duplicate,
	}).Write(w)
}

func (s *Server) handleUploadStatement(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, ingest.MaxReceiptBytes+uploadOverhead)
	if err := r.ParseMultipartForm(ingest.MaxReceiptBytes + uploadOverhead); err != nil {
		s.respondError(w, r, log.OpIngest, multipartError(err))
		return
	}
	defer func() { _ = r.MultipartForm.RemoveAll() }()

	file, _, err := r.FormFile("file")
	if err != nil {
		s.respondError(w, r, log.OpIngest, fmt.Errorf("%w: field \"file\" is required", errMalformedRequest))
		return
	}
	defer file.Close()

	res, err := s.books.IngestBankStatement(r.Context(), sanitizeInput(r.FormValue("source")), file)
	if err != nil {
		s.respondError(w, r, log.OpIngest, err)
		return
	}

	msg := fmt.Sprintf("Imported %d transaction(s), skipped %d duplicate(s)", res.Imported, res.Skipped)
	resp := NewResponse().TriggerQueueRefresh()
	if len(res.Errors) > 0 {
		resp.TriggerWarningNotification(fmt.Sprintf("%s; %d line(s) could not be read", msg, len(res.Errors)))
	} else {
		resp.TriggerSuccessNotification(msg)
	}
	resp.JSON(res).Write(w)
}

// multipartError separates oversized bodies from malformed ones.
func multipartError(err error) error {
	if StatusFor(err) == http.StatusRequestEntityTooLarge {
		return err
	}
	return fmt.Errorf("%w: %v", errMalformedRequest, err)
}

func (s *Server) handleRematch(w http.ResponseWriter, r *http.Request) {
	res, err := s.books.Rematch(r.Context())
	if err != nil {
		s.respondError(w, r, log.OpRematch, err)
		return
	}
	NewResponse().
		TriggerQueueRefresh().
		TriggerSuccessNotification(fmt.Sprintf("Rematched %d receipt(s)", res.Receipts)).
		JSON(res).
		Write(w)
}

func (s *Server) handleConfirm(w http.ResponseWriter, r *http.Request) {
	sg, err := s.books.Confirm(r.Context(), strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		s.respondError(w, r, log.OpConfirm, err)
		return
	}
	NewResponse().
		TriggerQueueRefresh().
		TriggerSuccessNotification("Match confirmed").
		JSON(toSuggestionView(sg)).
		Write(w)
}

func (s *Server) handleReject(w http.ResponseWriter, r *http.Request) {
	sg, err := s.books.Reject(r.Context(), strings.TrimSpace(r.PathValue("id")))
	if err != nil {
		s.respondError(w, r, log.OpReject, err)
		return
	}
	NewResponse().
		TriggerQueueRefresh().
		TriggerSuccessNotification("Match rejected").
		JSON(toSuggestionView(sg)).
		Write(w)
}

func (s *Server) handleBulkConfirm(w http.ResponseWriter, r *http.Request) {
	s.bulk(w, r, false, log.OpConfirm, "confirmed", s.books.BulkConfirm)
}

func (s *Server) handleBulkReject(w http.ResponseWriter, r *http.Request) {
	s.bulk(w, r, false, log.OpReject, "rejected", s.books.BulkReject)
}

func (s *Server) handleConfirmAll(w http.ResponseWriter, r *http.Request) {
	s.bulk(w, r, true, log.OpConfirm, "confirmed", s.books.ConfirmAll)
}

func (s *Server) handleRejectAll(w http.ResponseWriter, r *http.Request) {
	s.bulk(w, r, true, log.OpReject, "rejected", s.books.RejectAll)
}

// bulk runs a batch action. Per-item failures are part of a 200 response;
// only an unreadable request fails as a whole.
func (s *Server) bulk(w http.ResponseWriter, r *http.Request, receipts bool, op, verb string, run func(context.Context, []string) books.BulkResult) {
	ids, err := parseIDs(w, r, receipts)
	if err != nil {
		s.respondError(w, r, op, err)
		return
	}
	res := run(r.Context(), ids)

	resp := NewResponse().TriggerQueueRefresh()
	switch {
	case len(res.Errors) == 0:
		resp.TriggerSuccessNotification(fmt.Sprintf("%d match(es) %s", res.Succeeded, verb))
	case res.Succeeded == 0:
		resp.TriggerErrorNotification(fmt.Sprintf("Nothing %s, %d error(s)", verb, len(res.Errors)))
	default:
		resp.TriggerWarningNotification(fmt.Sprintf("%d match(es) %s, %d error(s)", res.Succeeded, verb, len(res.Errors)))
	}
	resp.JSON(res).Write(w)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req assistant.ChatRequest
	if err := decodeJSON(w, r, &req); err != nil {
		s.respondError(w, r, log.OpChat, err)
		return
	}
	for i := range req.Messages {
		req.Messages[i].Content = sanitizeInput(req.Messages[i].Content)
	}

	resp, err := s.assistant.Chat(r.Context(), req)
	if err != nil {
		s.respondError(w, r, log.OpChat, err)
		return
	}
	NewResponse().JSON(resp).Write(w)
}

func (s *Server) handleIndexKnowledge(w http.ResponseWriter, r *http.Request) {
	p := NewRequestBodyParser(w, r, maxJSONBody)
	if err := p.Parse(); err != nil {
		s.respondError(w, r, log.OpIndex, err)
		return
	}
	doc := assistant.Document{
		Title:    p.Get("title"),
		URL:      p.Get("url"),
		Category: p.Get("category"),
		Text:     p.GetText("text"),
	}
	n, err := s.assistant.IndexDocument(r.Context(), doc)
	if err != nil {
		s.respondError(w, r, log.OpIndex, err)
		return
	}
	NewResponse().
		Status(http.StatusCreated).
		TriggerSuccessNotification(fmt.Sprintf("Indexed %q", doc.Title)).
		JSON(map[string]any{"title": doc.Title, "chunks": n}).
		Write(w)
}
