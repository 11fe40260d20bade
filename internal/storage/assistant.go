package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"backoffice/internal/core"
)

func normalizeOrderNumber(n string) string {
	return strings.ToUpper(strings.TrimSpace(n))
}

func (r *Repository) GetOrder(ctx context.Context, tenantID, number string) (core.Order, error) {
	var (
		o               = core.Order{TenantID: tenantID}
		placed, shipped string
	)
	err := r.queryRow(ctx, `SELECT number, email, customer_name, phone, status, product_name, tracking_number, placed_at, shipped_at
FROM orders WHERE tenant_id = ? AND number = ?`, tenantID, normalizeOrderNumber(number)).
		Scan(&o.Number, &o.Email, &o.CustomerName, &o.Phone, &o.Status, &o.ProductName, &o.TrackingNumber, &placed, &shipped)
	if err != nil {
		return core.Order{}, notFound(err)
	}
	o.PlacedAt = parseStamp(placed)
	if t := parseStamp(shipped); !t.IsZero() {
		o.ShippedAt = &t
	}
	return o, nil
}

func (r *Repository) SaveOrder(ctx context.Context, o core.Order) error {
	var shipped time.Time
	if o.ShippedAt != nil {
		shipped = *o.ShippedAt
	}
	_, err := r.exec(ctx, `INSERT INTO orders (tenant_id, number, email, customer_name, phone, status, product_name, tracking_number, placed_at, shipped_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, number) DO UPDATE SET
    email = excluded.email,
    customer_name = excluded.customer_name,
    phone = excluded.phone,
    status = excluded.status,
    product_name = excluded.product_name,
    tracking_number = excluded.tracking_number,
    placed_at = excluded.placed_at,
    shipped_at = excluded.shipped_at`,
		o.TenantID, normalizeOrderNumber(o.Number), o.Email, o.CustomerName, o.Phone, o.Status, o.ProductName, o.TrackingNumber,
		optionalStamp(o.PlacedAt), optionalStamp(shipped))
	if err != nil {
		return fmt.Errorf("upsert order: %w", err)
	}
	return nil
}

func (r *Repository) GetAppointment(ctx context.Context, tenantID, orderNumber string) (core.Appointment, error) {
	var (
		a             core.Appointment
		status, stamp string
	)
	err := r.queryRow(ctx, `SELECT id, tenant_id, order_number, kind, date, time_slot, status, notes, phone, updated_at
FROM appointments WHERE tenant_id = ? AND order_number = ?`, tenantID, normalizeOrderNumber(orderNumber)).
		Scan(&a.ID, &a.TenantID, &a.OrderNumber, &a.Type, &a.Date, &a.TimeSlot, &status, &a.Notes, &a.Phone, &stamp)
	if err != nil {
		return core.Appointment{}, notFound(err)
	}
	a.Status = core.AppointmentStatus(status)
	a.UpdatedAt = parseStamp(stamp)
	return a, nil
}

func (r *Repository) SaveAppointment(ctx context.Context, a core.Appointment) error {
	_, err := r.exec(ctx, `INSERT INTO appointments (id, tenant_id, order_number, kind, date, time_slot, status, notes, phone, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, order_number) DO UPDATE SET
    kind = excluded.kind,
    date = excluded.date,
    time_slot = excluded.time_slot,
    status = excluded.status,
    notes = excluded.notes,
    phone = excluded.phone,
    updated_at = excluded.updated_at`,
		a.ID, a.TenantID, normalizeOrderNumber(a.OrderNumber), a.Type, a.Date, a.TimeSlot, string(a.Status), a.Notes, a.Phone, formatStamp(a.UpdatedAt))
	if err != nil {
		return fmt.Errorf("upsert appointment: %w", err)
	}
	return nil
}

func (r *Repository) ListProducts(ctx context.Context, tenantID string) ([]core.Product, error) {
	rows, err := r.query(ctx, `SELECT sku, name, capacity_lbs, price, min_height_in, max_height_in, description
FROM products WHERE tenant_id = ? ORDER BY sku`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	defer rows.Close()

	var out []core.Product
	for rows.Next() {
		var p core.Product
		if err := rows.Scan(&p.SKU, &p.Name, &p.CapacityLbs, &p.Price, &p.MinHeightIn, &p.MaxHeightIn, &p.Description); err != nil {
			return nil, fmt.Errorf("scan product: %w", err)
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *Repository) SaveProduct(ctx context.Context, tenantID string, p core.Product) error {
	_, err := r.exec(ctx, `INSERT INTO products (tenant_id, sku, name, capacity_lbs, price, min_height_in, max_height_in, description)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
ON CONFLICT (tenant_id, sku) DO UPDATE SET
    name = excluded.name,
    capacity_lbs = excluded.capacity_lbs,
    price = excluded.price,
    min_height_in = excluded.min_height_in,
    max_height_in = excluded.max_height_in,
    description = excluded.description`,
		tenantID, p.SKU, p.Name, p.CapacityLbs, p.Price.StringFixed(2), p.MinHeightIn, p.MaxHeightIn, p.Description)
	if err != nil {
		return fmt.Errorf("upsert product: %w", err)
	}
	return nil
}

func (r *Repository) SaveChunks(ctx context.Context, chunks []core.KnowledgeChunk) (err error) {
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() {
		if err != nil {
			tx.Rollback()
		}
	}()

	ins := r.rebind(`INSERT INTO knowledge_chunks (id, tenant_id, title, url, category, content, embedding, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	for _, c := range chunks {
		var vec []byte
		vec, err = json.Marshal(c.Embedding)
		if err != nil {
			return fmt.Errorf("encode embedding: %w", err)
		}
		if _, err = tx.ExecContext(ctx, ins, c.ID, c.TenantID, c.Title, c.URL, c.Category, c.Content, string(vec), formatStamp(c.CreatedAt)); err != nil {
			return fmt.Errorf("insert chunk: %w", err)
		}
	}
	return tx.Commit()
}

func (r *Repository) ListChunks(ctx context.Context, tenantID string) ([]core.KnowledgeChunk, error) {
	rows, err := r.query(ctx, `SELECT id, tenant_id, title, url, category, content, embedding, created_at
FROM knowledge_chunks WHERE tenant_id = ? ORDER BY created_at, id`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("list chunks: %w", err)
	}
	defer rows.Close()

	var out []core.KnowledgeChunk
	for rows.Next() {
		var (
			c          core.KnowledgeChunk
			vec, stamp string
		)
		if err := rows.Scan(&c.ID, &c.TenantID, &c.Title, &c.URL, &c.Category, &c.Content, &vec, &stamp); err != nil {
			return nil, fmt.Errorf("scan chunk: %w", err)
		}
		if err := json.Unmarshal([]byte(vec), &c.Embedding); err != nil {
			return nil, fmt.Errorf("decode embedding %s: %w", c.ID, err)
		}
		c.CreatedAt = parseStamp(stamp)
		out = append(out, c)
	}
	return out, rows.Err()
}
