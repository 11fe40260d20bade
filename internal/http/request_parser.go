// Package http provides HTTP server and handler implementations.
//
// This file implements utilities for parsing and validating HTTP request data:
// JSON bodies, the id lists used by bulk actions, queue filters and the
// JSON-or-form body accepted by the knowledge endpoint.

package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"backoffice/internal/books"
	"backoffice/internal/core"
)

const maxJSONBody = 1 << 20

var errMalformedRequest = errors.New("malformed request")

// decodeJSON reads one JSON value from the body into dst.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxJSONBody)
	dec := json.NewDecoder(body)
	if err := dec.Decode(dst); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return err
		}
		if errors.Is(err, io.EOF) {
			return fmt.Errorf("%w: empty body", errMalformedRequest)
		}
		return fmt.Errorf("%w: %v", errMalformedRequest, err)
	}
	return nil
}

// idsRequest is the body of the bulk endpoints. Suggestion batches use ids,
// receipt batches use receiptIds.
type idsRequest struct {
	IDs        []string `json:"ids"`
	ReceiptIDs []string `json:"receiptIds"`
}

func parseIDs(w http.ResponseWriter, r *http.Request, receipts bool) ([]string, error) {
	var req idsRequest
	if err := decodeJSON(w, r, &req); err != nil {
		return nil, err
	}
	ids, field := req.IDs, "ids"
	if receipts {
		ids, field = req.ReceiptIDs, "receiptIds"
	}
	if len(ids) == 0 {
		return nil, core.Invalidf("%s must not be empty", field)
	}
	if len(ids) > 500 {
		return nil, core.Invalidf("%s: at most 500 per request", field)
	}
	return ids, nil
}

// ParseListFilter reads q, status, sort and dir from the queue query string.
func ParseListFilter(query url.Values) books.Filter {
	by, desc := books.ParseSort(query.Get("sort"), query.Get("dir"))
	return books.Filter{
		Search: sanitizeInput(query.Get("q")),
		Bucket: core.ParseBucket(query.Get("status")),
		SortBy: by,
		Desc:   desc,
	}
}

// RequestBodyParser handles different content types for request body parsing.
// It supports both JSON and form-encoded data, commonly used with HTMX.
type RequestBodyParser struct {
	body        []byte
	contentType string
	jsonData    map[string]any
	formData    url.Values
	parsed      bool
	err         error
}

// NewRequestBodyParser reads the body once, up to limit bytes.
func NewRequestBodyParser(w http.ResponseWriter, r *http.Request, limit int64) *RequestBodyParser {
	p := &RequestBodyParser{
		contentType: r.Header.Get("Content-Type"),
	}
	p.body, p.err = io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	return p
}

// Parse attempts to parse the body as JSON or form data.
func (p *RequestBodyParser) Parse() error {
	if p.parsed {
		return p.err
	}
	p.parsed = true

	if p.err != nil {
		return p.err
	}

	if len(p.body) == 0 {
		p.formData = url.Values{}
		return nil
	}

	if p.body[0] == '{' {
		p.jsonData = make(map[string]any)
		if err := json.Unmarshal(p.body, &p.jsonData); err != nil {
			p.err = fmt.Errorf("%w: %v", errMalformedRequest, err)
			return p.err
		}
		return nil
	}

	p.formData, p.err = url.ParseQuery(string(p.body))
	if p.err != nil {
		p.err = fmt.Errorf("%w: %v", errMalformedRequest, p.err)
	}
	return p.err
}

// Get returns a sanitized string value from the parsed data (JSON or form).
func (p *RequestBodyParser) Get(key string) string {
	if p.jsonData != nil {
		if val, ok := p.jsonData[key]; ok {
			return sanitizeInput(stringValue(val))
		}
		return ""
	}
	if p.formData != nil {
		return sanitizeInput(p.formData.Get(key))
	}
	return ""
}

// GetText returns a value keeping inner line breaks, for long free text.
func (p *RequestBodyParser) GetText(key string) string {
	if p.jsonData != nil {
		return strings.TrimSpace(stringValue(p.jsonData[key]))
	}
	if p.formData != nil {
		return strings.TrimSpace(p.formData.Get(key))
	}
	return ""
}

func (p *RequestBodyParser) IsJSON() bool {
	return p.jsonData != nil
}

func stringValue(v any) string {
	switch val := v.(type) {
	case string:
		return val
	case float64:
		return strconv.FormatFloat(val, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(val)
	default:
		return ""
	}
}

// sanitizeInput removes control characters (except tab, newline, carriage
// return) and trims whitespace.
func sanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return strings.Map(func(r rune) rune {
		if r < 32 && r != 9 && r != 10 && r != 13 {
			return -1
		}
		return r
	}, s)
}
