package books

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"backoffice/internal/core"
)

const (
	SortDate       = "date"
	SortVendor     = "vendor"
	SortAmount     = "amount"
	SortConfidence = "confidence"
)

// Filter selects and orders the queue.
type Filter struct {
	Search string
	Bucket core.Bucket
	SortBy string
	Desc   bool
}

// ParseSort normalizes sort/dir query values. An empty sort means newest first.
func ParseSort(sortBy, dir string) (string, bool) {
	dir = strings.ToLower(strings.TrimSpace(dir))
	switch s := strings.ToLower(strings.TrimSpace(sortBy)); s {
	case SortVendor, SortAmount, SortConfidence, SortDate:
		if dir == "" {
			return s, s != SortVendor
		}
		return s, dir == "desc"
	}
	return SortDate, dir != "asc"
}

// ListReceipts returns the filtered and sorted queue with suggestions attached.
func (s *Service) ListReceipts(ctx context.Context, f Filter) ([]core.Receipt, error) {
	all, err := s.store.ListReceipts(ctx, s.tenantID)
	if err != nil {
		return nil, fmt.Errorf("list receipts: %w", err)
	}

	term := strings.ToLower(strings.TrimSpace(f.Search))
	out := make([]core.Receipt, 0, len(all))
	for _, r := range all {
		if f.Bucket != "" && f.Bucket != core.BucketAll && core.Classify(r) != f.Bucket {
			continue
		}
		if term != "" && !matchesSearch(r, term) {
			continue
		}
		out = append(out, r)
	}

	by, desc := f.SortBy, f.Desc
	if by == "" {
		by, desc = SortDate, true
	}
	sortReceipts(out, by, desc)
	return out, nil
}

// Counts tallies the whole queue by bucket.
func (s *Service) Counts(ctx context.Context) (core.BucketCounts, error) {
	all, err := s.store.ListReceipts(ctx, s.tenantID)
	if err != nil {
		return core.BucketCounts{}, fmt.Errorf("list receipts: %w", err)
	}
	return core.CountBuckets(all), nil
}

func matchesSearch(r core.Receipt, term string) bool {
	fields := []string{
		r.VendorGuess,
		r.Currency,
		r.FileName,
		r.Total.StringFixed(2),
		r.Total.String(),
	}
	for _, f := range fields {
		if strings.Contains(strings.ToLower(f), term) {
			return true
		}
	}
	for _, sg := range r.Suggestions {
		if sg.Transaction != nil && strings.Contains(strings.ToLower(sg.Transaction.Merchant), term) {
			return true
		}
	}
	return false
}

func sortReceipts(rs []core.Receipt, by string, desc bool) {
	less := func(a, b core.Receipt) int {
		switch by {
		case SortVendor:
			return strings.Compare(strings.ToLower(a.VendorGuess), strings.ToLower(b.VendorGuess))
		case SortAmount:
			return a.Total.Cmp(b.Total)
		case SortConfidence:
			switch {
			case a.Confidence < b.Confidence:
				return -1
			case a.Confidence > b.Confidence:
				return 1
			}
			return 0
		default:
			if c := a.DocumentDate.Compare(b.DocumentDate); c != 0 {
				return c
			}
			return a.CreatedAt.Compare(b.CreatedAt)
		}
	}
	sort.SliceStable(rs, func(i, j int) bool {
		c := less(rs[i], rs[j])
		if c == 0 {
			return rs[i].ID < rs[j].ID
		}
		if desc {
			return c > 0
		}
		return c < 0
	})
}
