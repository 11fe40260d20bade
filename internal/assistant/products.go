package assistant

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"github.com/shopspring/decimal"

	"backoffice/internal/core"
)

const (
	DefaultOriginZIP   = "30301"
	maxRecommendations = 3
	heavyThresholdLbs  = 150
	faqExcerptChars    = 300
)

var zipPattern = regexp.MustCompile(`^\d{5}(-\d{4})?$`)

// ShippingRates prices a shipment as base + zone*perZone plus a per-pound
// surcharge above 150 lbs.
type ShippingRates struct {
	Base           decimal.Decimal
	PerZone        decimal.Decimal
	HeavyPerPound  decimal.Decimal
	BaseTransitDay int
}

func DefaultShippingRates() ShippingRates {
	return ShippingRates{
		Base:           decimal.NewFromInt(49),
		PerZone:        decimal.NewFromInt(15),
		HeavyPerPound:  decimal.RequireFromString("0.50"),
		BaseTransitDay: 2,
	}
}

type recommendArgs struct {
	WeightLbs   float64  `json:"weight_lbs"`
	Budget      *float64 `json:"budget"`
	BedHeightIn *float64 `json:"bed_height_in"`
}

type productView struct {
	SKU         string  `json:"sku"`
	Name        string  `json:"name"`
	CapacityLbs float64 `json:"capacityLbs"`
	Price       string  `json:"price"`
	MinHeightIn float64 `json:"minHeightIn"`
	MaxHeightIn float64 `json:"maxHeightIn"`
	Description string  `json:"description,omitempty"`
}

type recommendResult struct {
	RequiredCapacityLbs float64       `json:"requiredCapacityLbs"`
	Recommendations     []productView `json:"recommendations"`
	Message             string        `json:"message,omitempty"`
}

// Recommend filters products for a user. Capacity with the safety margin is
// applied before budget and bed height, and results are cheapest first.
func Recommend(products []core.Product, weightLbs float64, budget, bedHeight *float64) []core.Product {
	var out []core.Product
	for _, p := range products {
		if !p.Supports(weightLbs) {
			continue
		}
		if budget != nil && p.Price.GreaterThan(decimal.NewFromFloat(*budget)) {
			continue
		}
		if bedHeight != nil && !p.FitsHeight(*bedHeight) {
			continue
		}
		out = append(out, p)
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].Price.Equal(out[j].Price) {
			return out[i].Price.LessThan(out[j].Price)
		}
		return out[i].SKU < out[j].SKU
	})
	return out
}

func (s *Service) recommendProduct(ctx context.Context, call toolCall) (any, error) {
	var args recommendArgs
	if err := decodeArgs(call.args, &args); err != nil {
		return nil, err
	}
	if args.WeightLbs <= 0 || args.WeightLbs > 1000 {
		return nil, toolErrorf("weight_lbs must be between 1 and 1000")
	}
	if args.Budget != nil && *args.Budget <= 0 {
		return nil, toolErrorf("budget must be positive")
	}

	products, err := s.store.ListProducts(ctx, s.opts.TenantID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}

	matches := Recommend(products, args.WeightLbs, args.Budget, args.BedHeightIn)
	res := recommendResult{
		RequiredCapacityLbs: math.Round(args.WeightLbs*core.SafetyMargin*10) / 10,
		Recommendations:     make([]productView, 0, maxRecommendations),
	}
	for i, p := range matches {
		if i == maxRecommendations {
			break
		}
		res.Recommendations = append(res.Recommendations, productView{
			SKU:         p.SKU,
			Name:        p.Name,
			CapacityLbs: p.CapacityLbs,
			Price:       p.Price.StringFixed(2),
			MinHeightIn: p.MinHeightIn,
			MaxHeightIn: p.MaxHeightIn,
			Description: p.Description,
		})
	}
	if len(res.Recommendations) == 0 {
		res.Message = fmt.Sprintf("No model rated for at least %.0f lbs matches these requirements.", res.RequiredCapacityLbs)
	}
	return res, nil
}

type shippingArgs struct {
	ZIP       string  `json:"zip"`
	WeightLbs float64 `json:"weight_lbs"`
}

type ShippingQuote struct {
	ZIP           string `json:"zip"`
	Zone          int    `json:"zone"`
	Cost          string `json:"costUsd"`
	EstimatedDays int    `json:"estimatedDays"`
}

// QuoteShipping prices a shipment from origin to zip. The zone is the
// distance between the first digits of the two ZIP codes.
func QuoteShipping(rates ShippingRates, origin, zip string, weightLbs float64) (ShippingQuote, error) {
	zip = strings.TrimSpace(zip)
	if !zipPattern.MatchString(zip) {
		return ShippingQuote{}, toolErrorf("invalid ZIP code %q", zip)
	}
	if !zipPattern.MatchString(origin) {
		return ShippingQuote{}, fmt.Errorf("invalid origin ZIP %q", origin)
	}
	if weightLbs < 0 {
		return ShippingQuote{}, toolErrorf("weight_lbs must not be negative")
	}

	zone := int(zip[0]) - int(origin[0])
	if zone < 0 {
		zone = -zone
	}
	cost := rates.Base.Add(rates.PerZone.Mul(decimal.NewFromInt(int64(zone))))
	if weightLbs > heavyThresholdLbs {
		extra := decimal.NewFromFloat(weightLbs - heavyThresholdLbs)
		cost = cost.Add(rates.HeavyPerPound.Mul(extra))
	}
	return ShippingQuote{
		ZIP:           zip[:5],
		Zone:          zone,
		Cost:          cost.StringFixed(2),
		EstimatedDays: rates.BaseTransitDay + (zone+1)/2,
	}, nil
}

func (s *Service) estimateShipping(_ context.Context, call toolCall) (any, error) {
	var args shippingArgs
	if err := decodeArgs(call.args, &args); err != nil {
		return nil, err
	}
	return QuoteShipping(s.opts.Rates, s.opts.OriginZIP, args.ZIP, args.WeightLbs)
}

type faqArgs struct {
	Query string `json:"query"`
}

type faqArticle struct {
	Title      string  `json:"title"`
	URL        string  `json:"url,omitempty"`
	Excerpt    string  `json:"excerpt"`
	Similarity float64 `json:"similarity"`
}

type faqResult struct {
	Results []faqArticle `json:"results"`
	Message string       `json:"message,omitempty"`
}

func (s *Service) searchFAQ(ctx context.Context, call toolCall) (any, error) {
	var args faqArgs
	if err := decodeArgs(call.args, &args); err != nil {
		return nil, err
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, toolErrorf("query is required")
	}
	hits, err := s.retrieve(ctx, args.Query)
	if err != nil {
		return nil, err
	}
	res := faqResult{Results: make([]faqArticle, 0, len(hits))}
	for _, h := range hits {
		excerpt := h.chunk.Content
		if len(excerpt) > faqExcerptChars {
			excerpt = strings.TrimSpace(excerpt[:faqExcerptChars]) + "..."
		}
		res.Results = append(res.Results, faqArticle{
			Title:      h.chunk.Title,
			URL:        h.chunk.URL,
			Excerpt:    excerpt,
			Similarity: h.score,
		})
	}
	if len(res.Results) == 0 {
		res.Message = "No matching help articles found."
	}
	return res, nil
}
