package store

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/shopspring/decimal"

	"backoffice/internal/core"
)

// Seed is the catalog and order fixture loaded at startup.
type Seed struct {
	Orders []struct {
		Number         string `json:"number"`
		Email          string `json:"email"`
		CustomerName   string `json:"customerName"`
		Phone          string `json:"phone"`
		Status         string `json:"status"`
		ProductName    string `json:"productName"`
		TrackingNumber string `json:"trackingNumber"`
	} `json:"orders"`
	Products []struct {
		SKU         string          `json:"sku"`
		Name        string          `json:"name"`
		CapacityLbs float64         `json:"capacityLbs"`
		Price       decimal.Decimal `json:"price"`
		MinHeightIn float64         `json:"minHeightIn"`
		MaxHeightIn float64         `json:"maxHeightIn"`
		Description string          `json:"description"`
	} `json:"products"`
}

type seedTarget interface {
	OrderStore
	ProductStore
}

// LoadSeedFile reads a JSON seed file and upserts its orders and products.
// A missing file is not an error.
func LoadSeedFile(ctx context.Context, s seedTarget, tenantID, path string) (int, error) {
	if path == "" {
		return 0, nil
	}
	b, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("read seed: %w", err)
	}
	var seed Seed
	if err := json.Unmarshal(b, &seed); err != nil {
		return 0, fmt.Errorf("parse seed: %w", err)
	}
	n := 0
	for _, o := range seed.Orders {
		err := s.SaveOrder(ctx, core.Order{
			Number:         o.Number,
			TenantID:       tenantID,
			Email:          o.Email,
			CustomerName:   o.CustomerName,
			Phone:          o.Phone,
			Status:         o.Status,
			ProductName:    o.ProductName,
			TrackingNumber: o.TrackingNumber,
		})
		if err != nil {
			return n, fmt.Errorf("seed order %s: %w", o.Number, err)
		}
		n++
	}
	for _, p := range seed.Products {
		err := s.SaveProduct(ctx, tenantID, core.Product{
			SKU:         p.SKU,
			Name:        p.Name,
			CapacityLbs: p.CapacityLbs,
			Price:       p.Price,
			MinHeightIn: p.MinHeightIn,
			MaxHeightIn: p.MaxHeightIn,
			Description: p.Description,
		})
		if err != nil {
			return n, fmt.Errorf("seed product %s: %w", p.SKU, err)
		}
		n++
	}
	return n, nil
}
