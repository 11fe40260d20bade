package books

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"backoffice/internal/core"
	"backoffice/internal/events"
	"backoffice/internal/ingest"
	"backoffice/internal/log"
	"backoffice/internal/store/memory"
)

const tenant = "t1"

type fakeExports struct {
	mu  sync.Mutex
	ids []string
	err error
}

func (f *fakeExports) EnqueueExport(_ context.Context, _ string, id string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return f.err
}

type fakeEvents struct {
	mu    sync.Mutex
	types []string
	err   error
}

func (f *fakeEvents) Publish(_ context.Context, e events.Event) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.types = append(f.types, e.Type)
	return f.err
}

func (f *fakeEvents) Close() error { return nil }

func (f *fakeEvents) count(t string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	n := 0
	for _, x := range f.types {
		if x == t {
			n++
		}
	}
	return n
}

type fixture struct {
	svc     *Service
	store   *memory.Store
	exports *fakeExports
	events  *fakeEvents
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st := memory.New()
	ex := &fakeExports{}
	ev := &fakeEvents{}
	now := time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)
	svc := NewService(st, Options{
		TenantID:        tenant,
		DefaultCurrency: "USD",
		Exports:         ex,
		Events:          ev,
		Logger:          log.Discard(),
		Now:             func() time.Time { return now },
	})
	return &fixture{svc: svc, store: st, exports: ex, events: ev}
}

func day(d int) time.Time { return time.Date(2025, 3, d, 0, 0, 0, 0, time.UTC) }

// seedReceipt stores a receipt with pending suggestions for the given ids.
func (f *fixture) seedReceipt(t *testing.T, id string, conf float64, suggestionIDs ...string) {
	t.Helper()
	ctx := context.Background()
	err := f.store.CreateReceipt(ctx, core.Receipt{
		ID: id, TenantID: tenant, VendorGuess: "Vendor " + id, Total: decimal.NewFromInt(10),
		Currency: "USD", DocumentDate: day(1), Confidence: conf, CreatedAt: day(1),
	})
	if err != nil {
		t.Fatal(err)
	}
	var ss []core.MatchSuggestion
	for i, sid := range suggestionIDs {
		txID := "tx-" + sid
		_, _ = f.store.CreateTransaction(ctx, core.BankTransaction{
			ID: txID, TenantID: tenant, Merchant: "M " + sid, Amount: decimal.NewFromInt(-10),
			Currency: "USD", PostedDate: day(1 + i), Source: sid,
		})
		ss = append(ss, core.MatchSuggestion{
			ID: sid, BankTransactionID: txID, Score: 0.9 - float64(i)*0.1, Status: core.StatusSuggested,
		})
	}
	if err := f.store.ReplacePendingSuggestions(ctx, tenant, id, ss); err != nil {
		t.Fatal(err)
	}
}

func TestConfirmMarksReceiptMatched(t *testing.T) {
	f := newFixture(t)
	f.seedReceipt(t, "r1", 0.9, "s1", "s2")
	ctx := context.Background()

	sg, err := f.svc.Confirm(ctx, "s1")
	if err != nil {
		t.Fatalf("confirm: %v", err)
	}
	if sg.Status != core.StatusConfirmed {
		t.Fatalf("expected confirmed, got %s", sg.Status)
	}
	r, _ := f.store.GetReceipt(ctx, tenant, "r1")
	if !r.Matched || core.Classify(r) != core.BucketMatched {
		t.Fatalf("receipt should be matched: %+v", r)
	}
	if len(f.exports.ids) != 1 || f.exports.ids[0] != "s1" {
		t.Fatalf("expected export for s1, got %v", f.exports.ids)
	}
	if f.events.count(events.TypeMatchConfirmed) != 1 {
		t.Fatalf("expected confirmed event, got %v", f.events.types)
	}

	if _, err := f.svc.Confirm(ctx, "s1"); !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("re-confirm should be invalid, got %v", err)
	}
	if _, err := f.svc.Reject(ctx, "s1"); !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("reject after confirm should be invalid, got %v", err)
	}
	if _, err := f.svc.Confirm(ctx, "missing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestConfirmToleratesSideEffectFailures(t *testing.T) {
	f := newFixture(t)
	f.exports.err = errors.New("queue down")
	f.events.err = errors.New("broker down")
	f.seedReceipt(t, "r1", 0.9, "s1")

	if _, err := f.svc.Confirm(context.Background(), "s1"); err != nil {
		t.Fatalf("side-effect failures must not fail confirm: %v", err)
	}
}

func TestRejectLeavesReceiptUnmatched(t *testing.T) {
	f := newFixture(t)
	f.seedReceipt(t, "r1", 0.9, "s1")
	ctx := context.Background()
	if _, err := f.svc.Reject(ctx, "s1"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	r, _ := f.store.GetReceipt(ctx, tenant, "r1")
	if r.Matched || r.Suggestions[0].Status != core.StatusRejected {
		t.Fatalf("unexpected receipt %+v", r)
	}
	if len(f.exports.ids) != 0 {
		t.Fatal("reject must not export")
	}
}

func TestBulkConfirmPartialFailure(t *testing.T) {
	f := newFixture(t)
	f.seedReceipt(t, "r1", 0.9, "s1")
	f.seedReceipt(t, "r2", 0.9, "s2")
	f.seedReceipt(t, "r3", 0.9, "s3")
	_, _ = f.svc.Reject(context.Background(), "s3")

	ids := []string{"s1", "bogus", "s2", "s3", "s1", ""}
	res := f.svc.BulkConfirm(context.Background(), ids)
	// 5 distinct ids, 3 invalid: bogus, s3 (already rejected), empty.
	if res.Succeeded != 2 {
		t.Fatalf("expected 2 successes, got %d", res.Succeeded)
	}
	if len(res.Errors) != 3 {
		t.Fatalf("expected 3 errors, got %+v", res.Errors)
	}
	if res.Errors[0].ID != "bogus" || res.Errors[1].ID != "s3" || res.Errors[2].ID != "" {
		t.Fatalf("errors must follow input order: %+v", res.Errors)
	}
}

func TestBulkRejectAllValid(t *testing.T) {
	f := newFixture(t)
	f.seedReceipt(t, "r1", 0.9, "s1", "s2", "s3")
	res := f.svc.BulkReject(context.Background(), []string{"s1", "s2", "s3"})
	if res.Succeeded != 3 || len(res.Errors) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
}

func TestConfirmAllPicksFirstPending(t *testing.T) {
	f := newFixture(t)
	f.seedReceipt(t, "r1", 0.9, "a1", "a2", "a3")
	f.seedReceipt(t, "r2", 0.9)
	ctx := context.Background()
	_, _ = f.svc.Reject(ctx, "a1")

	res := f.svc.ConfirmAll(ctx, []string{"r1", "r2", "nope"})
	if res.Succeeded != 1 || len(res.Errors) != 2 {
		t.Fatalf("unexpected result %+v", res)
	}
	r, _ := f.store.GetReceipt(ctx, tenant, "r1")
	status := map[string]core.SuggestionStatus{}
	for _, sg := range r.Suggestions {
		status[sg.ID] = sg.Status
	}
	if status["a1"] != core.StatusRejected || status["a2"] != core.StatusConfirmed || status["a3"] != core.StatusSuggested {
		t.Fatalf("only the first pending suggestion should be confirmed: %v", status)
	}
	if !strings.Contains(res.Errors[0].Error, ErrNoPendingSuggestion.Error()) {
		t.Fatalf("unexpected error %+v", res.Errors[0])
	}
}

func TestRejectAllRejectsEveryPending(t *testing.T) {
	f := newFixture(t)
	f.seedReceipt(t, "r1", 0.9, "a1", "a2", "a3")
	ctx := context.Background()
	_, _ = f.svc.Confirm(ctx, "a1")

	res := f.svc.RejectAll(ctx, []string{"r1"})
	if res.Succeeded != 2 || len(res.Errors) != 0 {
		t.Fatalf("unexpected result %+v", res)
	}
	r, _ := f.store.GetReceipt(ctx, tenant, "r1")
	for _, sg := range r.Suggestions {
		if sg.ID == "a1" && sg.Status != core.StatusConfirmed {
			t.Fatal("confirmed suggestion must be untouched")
		}
		if sg.ID != "a1" && sg.Status != core.StatusRejected {
			t.Fatalf("%s should be rejected", sg.ID)
		}
	}
}

func TestListReceiptsFilterAndSort(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	add := func(id, vendor, total string, conf float64, matched bool, d int) {
		_ = f.store.CreateReceipt(ctx, core.Receipt{
			ID: id, TenantID: tenant, VendorGuess: vendor, Total: decimal.RequireFromString(total),
			Currency: "USD", Confidence: conf, DocumentDate: day(d), Matched: matched, CreatedAt: day(d),
		})
	}
	add("a", "Staples", "50.00", 0.9, true, 1)
	add("b", "Amazon", "12.50", 0.95, false, 3)
	add("c", "Shell", "80.00", 0.4, true, 2)

	all, _ := f.svc.ListReceipts(ctx, Filter{})
	if ids(all) != "b,c,a" {
		t.Fatalf("default sort should be newest first, got %s", ids(all))
	}
	exc, _ := f.svc.ListReceipts(ctx, Filter{Bucket: core.BucketExceptions})
	if ids(exc) != "c" {
		t.Fatalf("low confidence matched receipt is an exception, got %s", ids(exc))
	}
	matched, _ := f.svc.ListReceipts(ctx, Filter{Bucket: core.BucketMatched})
	if ids(matched) != "a" {
		t.Fatalf("unexpected matched bucket %s", ids(matched))
	}
	byAmount, _ := f.svc.ListReceipts(ctx, Filter{SortBy: SortAmount})
	if ids(byAmount) != "b,a,c" {
		t.Fatalf("unexpected amount order %s", ids(byAmount))
	}
	byVendorDesc, _ := f.svc.ListReceipts(ctx, Filter{SortBy: SortVendor, Desc: true})
	if ids(byVendorDesc) != "a,c,b" {
		t.Fatalf("unexpected vendor order %s", ids(byVendorDesc))
	}
	search, _ := f.svc.ListReceipts(ctx, Filter{Search: "12.5"})
	if ids(search) != "b" {
		t.Fatalf("amount search failed: %s", ids(search))
	}

	c, _ := f.svc.Counts(ctx)
	if c.All != 3 || c.Matched != 1 || c.Unmatched != 1 || c.Exceptions != 1 {
		t.Fatalf("unexpected counts %+v", c)
	}
}

func TestParseSort(t *testing.T) {
	cases := []struct {
		sort, dir string
		by        string
		desc      bool
	}{
		{"", "", SortDate, true},
		{"", "asc", SortDate, false},
		{"vendor", "", SortVendor, false},
		{"amount", "", SortAmount, true},
		{"confidence", "asc", SortConfidence, false},
		{"bogus", "desc", SortDate, true},
	}
	for _, tc := range cases {
		by, desc := ParseSort(tc.sort, tc.dir)
		if by != tc.by || desc != tc.desc {
			t.Fatalf("%q/%q: got %s %v", tc.sort, tc.dir, by, desc)
		}
	}
}

func TestIngestReceiptMatchesAndDedupes(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.store.CreateTransaction(ctx, core.BankTransaction{
		ID: "b1", TenantID: tenant, Merchant: "OFFICE DEPOT #42", Amount: decimal.RequireFromString("-42.10"),
		Currency: "USD", PostedDate: day(2), Source: "chase",
	})
	up := ingest.ReceiptUpload{
		FileName: "r.pdf", ContentHash: "hash-1", VendorGuess: "Office Depot",
		Total: decimal.RequireFromString("42.10"), Currency: "USD", DocumentDate: day(2), Confidence: 0.5,
	}
	res, err := f.svc.IngestReceipt(ctx, up)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if res.Duplicate || len(res.Receipt.Suggestions) != 1 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Receipt.Suggestions[0].Status != core.StatusSuggested {
		t.Fatalf("low confidence must not auto-link, got %s", res.Receipt.Suggestions[0].Status)
	}

	again, err := f.svc.IngestReceipt(ctx, up)
	if err != nil || !again.Duplicate || again.Receipt.ID != res.Receipt.ID {
		t.Fatalf("expected duplicate of %s, got %+v %v", res.Receipt.ID, again, err)
	}

	bad := up
	bad.ContentHash = "hash-2"
	bad.Total = decimal.Zero
	if _, err := f.svc.IngestReceipt(ctx, bad); !errors.Is(err, core.ErrInvalidAmount) {
		t.Fatalf("expected invalid amount, got %v", err)
	}
}

func TestIngestReceiptAutoLinks(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, _ = f.store.CreateTransaction(ctx, core.BankTransaction{
		ID: "b1", TenantID: tenant, Merchant: "Staples", Amount: decimal.RequireFromString("-50.00"),
		Currency: "USD", PostedDate: day(2), Source: "chase",
	})
	res, err := f.svc.IngestReceipt(ctx, ingest.ReceiptUpload{
		ContentHash: "h", VendorGuess: "Staples", Total: decimal.RequireFromString("50"),
		Currency: "USD", DocumentDate: day(2), Confidence: 0.96,
	})
	if err != nil {
		t.Fatal(err)
	}
	if !res.Receipt.Matched || res.Receipt.Suggestions[0].Status != core.StatusAutoLinked {
		t.Fatalf("expected auto link, got %+v", res.Receipt)
	}
	if f.events.count(events.TypeMatchAutoLinked) != 1 || len(f.exports.ids) != 1 {
		t.Fatalf("auto link should export and publish: %v %v", f.events.types, f.exports.ids)
	}
}

func TestIngestBankStatementRematches(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.store.CreateReceipt(ctx, core.Receipt{
		ID: "r1", TenantID: tenant, VendorGuess: "Shell", Total: decimal.RequireFromString("30.00"),
		Currency: "USD", DocumentDate: day(5), Confidence: 0.8, CreatedAt: day(5),
	})

	csv := "Date,Description,Amount\n2025-03-05,SHELL OIL 123,-30.00\n2025-03-05,SHELL OIL 123,-30.00\nnope,x,1\n"
	res, err := f.svc.IngestBankStatement(ctx, "chase", strings.NewReader(csv))
	if err != nil {
		t.Fatalf("ingest statement: %v", err)
	}
	if res.Imported != 1 || res.Skipped != 1 || len(res.Errors) != 1 || res.Errors[0].Line != 4 {
		t.Fatalf("unexpected result %+v", res)
	}
	if res.Rematched.Receipts != 1 || res.Rematched.Suggestions != 1 {
		t.Fatalf("unexpected rematch %+v", res.Rematched)
	}

	if _, err := f.svc.IngestBankStatement(ctx, "chase", strings.NewReader("")); !errors.Is(err, core.ErrInvalidInput) {
		t.Fatalf("expected invalid input, got %v", err)
	}
}

func TestRematchNeverResuggestsRejected(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.store.CreateReceipt(ctx, core.Receipt{
		ID: "r1", TenantID: tenant, VendorGuess: "Shell", Total: decimal.RequireFromString("30.00"),
		Currency: "USD", DocumentDate: day(5), Confidence: 0.8, CreatedAt: day(5),
	})
	// Two days apart keeps the score below the auto-link threshold.
	_, _ = f.store.CreateTransaction(ctx, core.BankTransaction{
		ID: "b1", TenantID: tenant, Merchant: "Shell", Amount: decimal.RequireFromString("-30.00"),
		Currency: "USD", PostedDate: day(7), Source: "chase",
	})
	if _, err := f.svc.Rematch(ctx); err != nil {
		t.Fatal(err)
	}
	r, _ := f.store.GetReceipt(ctx, tenant, "r1")
	if len(r.Suggestions) != 1 {
		t.Fatalf("expected one suggestion, got %+v", r.Suggestions)
	}
	if _, err := f.svc.Reject(ctx, r.Suggestions[0].ID); err != nil {
		t.Fatal(err)
	}

	res, err := f.svc.Rematch(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if res.Suggestions != 0 {
		t.Fatalf("rejected pair must not be re-suggested: %+v", res)
	}
	r, _ = f.store.GetReceipt(ctx, tenant, "r1")
	if len(r.Suggestions) != 1 || r.Suggestions[0].Status != core.StatusRejected {
		t.Fatalf("rejected suggestion must be kept: %+v", r.Suggestions)
	}
}

func ids(rs []core.Receipt) string {
	out := make([]string, len(rs))
	for i, r := range rs {
		out[i] = r.ID
	}
	return strings.Join(out, ",")
}

func TestRematchAutoLinkReleasesTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	for _, r := range []core.Receipt{
		{ID: "rA", Total: decimal.RequireFromString("98.00"), CreatedAt: day(1)},
		{ID: "rB", Total: decimal.RequireFromString("100.00"), CreatedAt: day(2)},
	} {
		r.TenantID, r.VendorGuess, r.Currency, r.DocumentDate, r.Confidence = tenant, "Staples", "USD", day(5), 0.9
		if err := f.store.CreateReceipt(ctx, r); err != nil {
			t.Fatal(err)
		}
	}

	csv := "Date,Description,Amount\n2025-03-05,Staples,-100.00\n"
	res, err := f.svc.IngestBankStatement(ctx, "chase", strings.NewReader(csv))
	if err != nil {
		t.Fatal(err)
	}
	if res.Rematched.AutoLinked != 1 {
		t.Fatalf("expected one auto link, got %+v", res.Rematched)
	}

	b, _ := f.store.GetReceipt(ctx, tenant, "rB")
	if !b.Matched || len(b.Suggestions) == 0 || b.Suggestions[0].Status != core.StatusAutoLinked {
		t.Fatalf("rB should be auto-linked: %+v", b)
	}
	txID := b.Suggestions[0].BankTransactionID

	a, _ := f.store.GetReceipt(ctx, tenant, "rA")
	for _, sg := range a.Suggestions {
		if sg.BankTransactionID == txID {
			t.Fatalf("rA still holds a %s suggestion on the linked transaction", sg.Status)
		}
	}
	if a.Matched {
		t.Fatal("rA must stay unmatched")
	}
	if linked, _ := f.store.LinkedReceiptID(ctx, tenant, txID); linked != "rB" {
		t.Fatalf("transaction should stay linked to rB, got %q", linked)
	}
	if len(f.exports.ids) != 1 {
		t.Fatalf("transaction exported %d times", len(f.exports.ids))
	}
}

func TestConfirmRejectsAlreadyLinkedTransaction(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedReceipt(t, "r1", 0.9, "s1")
	_ = f.store.CreateReceipt(ctx, core.Receipt{
		ID: "r2", TenantID: tenant, VendorGuess: "Vendor r2", Total: decimal.NewFromInt(10),
		Currency: "USD", DocumentDate: day(1), Confidence: 0.9, CreatedAt: day(2),
	})
	pending := func(id string) []core.MatchSuggestion {
		return []core.MatchSuggestion{{ID: id, BankTransactionID: "tx-s1", Score: 0.8, Status: core.StatusSuggested}}
	}

	if err := f.store.ReplacePendingSuggestions(ctx, tenant, "r2", pending("competing")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Confirm(ctx, "s1"); err != nil {
		t.Fatal(err)
	}
	if _, err := f.store.GetSuggestion(ctx, tenant, "competing"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("confirm should drop other receipts' pending suggestions on the transaction, got %v", err)
	}

	// A pending suggestion written after the link still cannot be confirmed.
	if err := f.store.ReplacePendingSuggestions(ctx, tenant, "r2", pending("late")); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Confirm(ctx, "late"); !errors.Is(err, core.ErrInvalidTransition) {
		t.Fatalf("expected invalid transition, got %v", err)
	}
	if sg, _ := f.store.GetSuggestion(ctx, tenant, "late"); sg.Status != core.StatusSuggested {
		t.Fatalf("vetoed suggestion must stay suggested, got %s", sg.Status)
	}
	if r2, _ := f.store.GetReceipt(ctx, tenant, "r2"); r2.Matched {
		t.Fatal("r2 must stay unmatched")
	}
}

func TestRematchKeepsPendingIDs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_ = f.store.CreateReceipt(ctx, core.Receipt{
		ID: "r1", TenantID: tenant, VendorGuess: "Shell", Total: decimal.RequireFromString("30.00"),
		Currency: "USD", DocumentDate: day(5), Confidence: 0.5, CreatedAt: day(5),
	})
	_, _ = f.store.CreateTransaction(ctx, core.BankTransaction{
		ID: "b1", TenantID: tenant, Merchant: "Shell", Amount: decimal.RequireFromString("-30.00"),
		Currency: "USD", PostedDate: day(7), Source: "chase",
	})
	if _, err := f.svc.Rematch(ctx); err != nil {
		t.Fatal(err)
	}
	r, _ := f.store.GetReceipt(ctx, tenant, "r1")
	if len(r.Suggestions) != 1 {
		t.Fatalf("expected one suggestion, got %+v", r.Suggestions)
	}
	listed := r.Suggestions[0].ID

	_, _ = f.store.CreateTransaction(ctx, core.BankTransaction{
		ID: "b2", TenantID: tenant, Merchant: "Shell", Amount: decimal.RequireFromString("-31.00"),
		Currency: "USD", PostedDate: day(8), Source: "chase",
	})
	if _, err := f.svc.Rematch(ctx); err != nil {
		t.Fatal(err)
	}
	if _, err := f.svc.Confirm(ctx, listed); err != nil {
		t.Fatalf("id listed before the rematch should still confirm: %v", err)
	}
}

type flakyMatchedStore struct {
	*memory.Store
}

func (flakyMatchedStore) SetReceiptMatched(context.Context, string, string, bool) error {
	return errors.New("disk full")
}

func TestConfirmSurvivesMatchedFlagFailureAndRematchRepairs(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.seedReceipt(t, "r1", 0.9, "s1")

	flaky := NewService(flakyMatchedStore{f.store}, Options{TenantID: tenant, Logger: log.Discard()})
	sg, err := flaky.Confirm(ctx, "s1")
	if err != nil || sg.Status != core.StatusConfirmed {
		t.Fatalf("confirm should succeed once the transition is stored: %+v %v", sg, err)
	}
	if r, _ := f.store.GetReceipt(ctx, tenant, "r1"); r.Matched {
		t.Fatal("flag write was expected to fail")
	}

	if _, err := f.svc.Rematch(ctx); err != nil {
		t.Fatal(err)
	}
	r, _ := f.store.GetReceipt(ctx, tenant, "r1")
	if !r.Matched || r.Suggestions[0].Status != core.StatusConfirmed {
		t.Fatalf("rematch should repair the matched flag: %+v", r)
	}
}
