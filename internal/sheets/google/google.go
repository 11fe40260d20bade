package google

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/oauth2"
	googleoauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"

	ports "backoffice/internal/sheets"
)

const defaultRowCacheTTL = 2 * time.Minute

// Config selects the spreadsheet and credentials. OAuth client+token take
// precedence over a service account when both are present.
type Config struct {
	SpreadsheetID      string
	SheetName          string
	ServiceAccountJSON string
	ServiceAccountFile string
	OAuthClientJSON    string
	OAuthClientFile    string
	OAuthTokenJSON     string
	OAuthTokenFile     string
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	ledgerSheet   string

	// Row count cache so consecutive appends skip the column scan.
	mu                 sync.Mutex
	cachedRowCount     int
	cacheExpiresAt     time.Time
	cacheValidDuration time.Duration
}

var _ ports.LedgerExporter = (*Client)(nil)

// New creates a Sheets client. The ledger sheet name is prefixed with the
// current year ("2024 Ledger") unless it already carries one.
func New(ctx context.Context, cfg Config) (*Client, error) {
	spreadsheetID := strings.TrimSpace(cfg.SpreadsheetID)
	if spreadsheetID == "" {
		return nil, errors.New("missing GOOGLE_SPREADSHEET_ID")
	}
	base := strings.TrimSpace(cfg.SheetName)
	if base == "" {
		base = "Ledger"
	}

	svc, err := newSheetsService(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("sheets service: %w", err)
	}

	return &Client{
		svc:                svc,
		spreadsheetID:      spreadsheetID,
		ledgerSheet:        yearPrefixedName(base, time.Now().Year()),
		cacheValidDuration: defaultRowCacheTTL,
	}, nil
}

func newSheetsService(ctx context.Context, cfg Config) (*gsheet.Service, error) {
	clientJSON, err := readInlineOrFile(cfg.OAuthClientJSON, cfg.OAuthClientFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth client: %w", err)
	}
	tokenJSON, err := readInlineOrFile(cfg.OAuthTokenJSON, cfg.OAuthTokenFile)
	if err != nil {
		return nil, fmt.Errorf("read oauth token: %w", err)
	}

	if len(clientJSON) > 0 || len(tokenJSON) > 0 {
		ts, err := oauthTokenSource(ctx, clientJSON, tokenJSON)
		if err != nil {
			return nil, err
		}
		slog.InfoContext(ctx, "Creating Google Sheets service with OAuth token")
		return gsheet.NewService(ctx, goption.WithHTTPClient(oauth2.NewClient(withHTTPClient(ctx), ts)))
	}

	serviceAccountFile := cfg.ServiceAccountFile
	if strings.TrimSpace(cfg.ServiceAccountJSON) == "" && strings.TrimSpace(serviceAccountFile) == "" {
		serviceAccountFile = os.Getenv("GOOGLE_APPLICATION_CREDENTIALS")
	}
	credentialsJSON, err := readInlineOrFile(cfg.ServiceAccountJSON, serviceAccountFile)
	if err != nil {
		return nil, fmt.Errorf("read service account file: %w", err)
	}
	if len(credentialsJSON) == 0 {
		return nil, errors.New("missing credentials (set GOOGLE_SERVICE_ACCOUNT_JSON/FILE or GOOGLE_OAUTH_CLIENT_*/GOOGLE_OAUTH_TOKEN_*)")
	}

	slog.InfoContext(ctx, "Creating Google Sheets service with Service Account",
		"credentials_size", len(credentialsJSON),
		"scope", gsheet.SpreadsheetsScope)

	service, err := gsheet.NewService(ctx,
		goption.WithCredentialsJSON(credentialsJSON),
		goption.WithScopes(gsheet.SpreadsheetsScope))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}
	return service, nil
}

func oauthTokenSource(ctx context.Context, clientJSON, tokenJSON []byte) (oauth2.TokenSource, error) {
	if len(clientJSON) == 0 {
		return nil, errors.New("oauth config: missing GOOGLE_OAUTH_CLIENT_JSON or GOOGLE_OAUTH_CLIENT_FILE")
	}
	if len(tokenJSON) == 0 {
		return nil, errors.New("oauth token: missing GOOGLE_OAUTH_TOKEN_JSON or GOOGLE_OAUTH_TOKEN_FILE")
	}
	conf, err := googleoauth.ConfigFromJSON(clientJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("oauth config: %w", err)
	}
	var tok oauth2.Token
	if err := json.Unmarshal(tokenJSON, &tok); err != nil {
		return nil, fmt.Errorf("oauth token: %w", err)
	}
	return conf.TokenSource(withHTTPClient(ctx), &tok), nil
}

// withHTTPClient makes oauth2 use the pooled client for token refreshes.
func withHTTPClient(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, newHTTPClientWithPooling())
}

func readInlineOrFile(inline, path string) ([]byte, error) {
	if s := strings.TrimSpace(inline); s != "" {
		return []byte(s), nil
	}
	if p := strings.TrimSpace(path); p != "" {
		return os.ReadFile(p)
	}
	return nil, nil
}

func newHTTPClientWithPooling() *http.Client {
	dialer := &net.Dialer{
		Timeout:   30 * time.Second,
		KeepAlive: 30 * time.Second,
	}
	transport := &http.Transport{
		DialContext:           dialer.DialContext,
		MaxIdleConns:          100,
		MaxIdleConnsPerHost:   10,
		MaxConnsPerHost:       50,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: 30 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		ForceAttemptHTTP2:     true,
	}
	return &http.Client{
		Transport: transport,
		Timeout:   60 * time.Second,
	}
}

// AppendMatch writes the row A:I after the last used row and returns its range.
func (c *Client) AppendMatch(ctx context.Context, row ports.LedgerRow) (string, error) {
	if err := row.Validate(); err != nil {
		return "", fmt.Errorf("validation failed: %w", err)
	}
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}

	nextRow, err := c.nextRow(ctx)
	if err != nil {
		return "", err
	}

	rng := fmt.Sprintf("%s!A%d:I%d", c.ledgerSheet, nextRow, nextRow)
	vr := &gsheet.ValueRange{Values: [][]any{rowValues(row)}}
	_, err = c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
		ValueInputOption("USER_ENTERED").Context(ctx).Do()
	if err != nil {
		c.InvalidateRowCache()
		return "", fmt.Errorf("failed to update %s: %w", rng, err)
	}

	c.mu.Lock()
	c.cachedRowCount = nextRow
	c.mu.Unlock()
	return rng, nil
}

func (c *Client) nextRow(ctx context.Context) (int, error) {
	c.mu.Lock()
	if time.Now().Before(c.cacheExpiresAt) {
		n := c.cachedRowCount + 1
		c.mu.Unlock()
		return n, nil
	}
	c.mu.Unlock()

	rng := fmt.Sprintf("%s!A:A", c.ledgerSheet)
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, rng).Context(ctx).Do()
	if err != nil {
		return 0, fmt.Errorf("failed to get sheet dimensions for %s: %w", c.ledgerSheet, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.cachedRowCount = len(resp.Values)
	c.cacheExpiresAt = time.Now().Add(c.cacheValidDuration)
	return c.cachedRowCount + 1, nil
}

// InvalidateRowCache forces the next append to rescan the sheet.
func (c *Client) InvalidateRowCache() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheExpiresAt = time.Time{}
}

// rowValues lays out: confirmed at, posted date, vendor, merchant, amount,
// currency, score, receipt id, transaction id.
func rowValues(r ports.LedgerRow) []any {
	confirmed := ""
	if !r.ConfirmedAt.IsZero() {
		confirmed = r.ConfirmedAt.UTC().Format("2006-01-02 15:04:05")
	}
	return []any{
		confirmed,
		r.PostedDate.Format("2006-01-02"),
		r.Vendor,
		r.Merchant,
		r.Amount.StringFixed(2),
		strings.ToUpper(r.Currency),
		strconv.FormatFloat(r.Score, 'f', 2, 64),
		r.ReceiptID,
		r.TransactionID,
	}
}

// yearPrefixedName returns "<year> <base>" unless base already starts with a 4-digit year.
func yearPrefixedName(base string, year int) string {
	base = strings.TrimSpace(base)
	if base == "" {
		return base
	}
	if len(base) >= 5 {
		if y, err := strconv.Atoi(base[0:4]); err == nil && base[4] == ' ' && y > 1900 && y < 3000 {
			return base
		}
	}
	return fmt.Sprintf("%d %s", year, base)
}
