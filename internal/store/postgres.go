// Package store is the durable persistence layer: Postgres via pgxpool with
// natural-key upserts (email for leads, platform order id for orders).
package store

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/gexcorp/capi-bridge/internal/models"
)

// schemaSQL is embedded so the service can self-bootstrap its database schema.
//
//go:embed schema.sql
var schemaSQL string

// PostgresStore persists leads, orders and delivery logs.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a connection pool and fails fast if DB is unreachable.
func NewPostgresStore(dbURL string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

// EnsureSchema applies schema.sql. Safe to run multiple times.
func (p *PostgresStore) EnsureSchema() error {
	_, err := p.pool.Exec(context.Background(), schemaSQL)
	return err
}

// Ping is used by the health endpoint to validate DB connectivity.
func (p *PostgresStore) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// Close shuts down the connection pool.
func (p *PostgresStore) Close() {
	p.pool.Close()
}

const leadColumns = `id, email, phone, first_name, last_name, zip_code, city, state,
	fbp, fbc, lead_source, created_at, updated_at`

func scanLead(row interface{ Scan(...any) error }) (*models.Lead, error) {
	var l models.Lead
	err := row.Scan(&l.ID, &l.Email, &l.Phone, &l.FirstName, &l.LastName,
		&l.ZipCode, &l.City, &l.State, &l.FBP, &l.FBC, &l.LeadSource,
		&l.CreatedAt, &l.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &l, nil
}

// UpsertLead creates or updates the lead identified by email. The update is
// atomic in the database, so concurrent ingestion of the same email cannot
// create duplicates. The latest payload wins for every mutable field.
func (p *PostgresStore) UpsertLead(ctx context.Context, email string, f models.LeadFields) (*models.Lead, error) {
	row := p.pool.QueryRow(ctx, `
		INSERT INTO leads (email, phone, first_name, last_name, zip_code, city, state, fbp, fbc, lead_source)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
		ON CONFLICT (email) DO UPDATE SET
			phone       = EXCLUDED.phone,
			first_name  = EXCLUDED.first_name,
			last_name   = EXCLUDED.last_name,
			zip_code    = EXCLUDED.zip_code,
			city        = EXCLUDED.city,
			state       = EXCLUDED.state,
			fbp         = EXCLUDED.fbp,
			fbc         = EXCLUDED.fbc,
			lead_source = EXCLUDED.lead_source,
			updated_at  = now()
		RETURNING `+leadColumns,
		email, f.Phone, f.FirstName, f.LastName, f.ZipCode, f.City, f.State,
		f.FBP, f.FBC, string(f.LeadSource))
	return scanLead(row)
}

const orderColumns = `id, lead_id, platform_order_id, status, amount, currency,
	products, payment_method, created_at`

func scanOrder(row interface{ Scan(...any) error }) (*models.Order, error) {
	var o models.Order
	var products []byte
	err := row.Scan(&o.ID, &o.LeadID, &o.PlatformOrderID, &o.Status, &o.Amount,
		&o.Currency, &products, &o.PaymentMethod, &o.CreatedAt)
	if err != nil {
		return nil, err
	}
	if len(products) > 0 {
		if err := json.Unmarshal(products, &o.Products); err != nil {
			return nil, fmt.Errorf("decode products: %w", err)
		}
	}
	return &o, nil
}

// UpsertOrder creates or updates the order identified by the platform's own
// order id. Re-ingestion of the same order updates in place.
func (p *PostgresStore) UpsertOrder(ctx context.Context, platformOrderID string, leadID uuid.UUID, f models.OrderFields) (*models.Order, error) {
	products := f.Products
	if products == nil {
		products = []models.LineItem{}
	}
	productsJSON, err := json.Marshal(products)
	if err != nil {
		return nil, fmt.Errorf("encode products: %w", err)
	}

	row := p.pool.QueryRow(ctx, `
		INSERT INTO orders (lead_id, platform_order_id, status, amount, currency, products, payment_method)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (platform_order_id) DO UPDATE SET
			lead_id        = EXCLUDED.lead_id,
			status         = EXCLUDED.status,
			amount         = EXCLUDED.amount,
			currency       = EXCLUDED.currency,
			products       = EXCLUDED.products,
			payment_method = EXCLUDED.payment_method
		RETURNING `+orderColumns,
		leadID, platformOrderID, f.Status, f.Amount, f.Currency, productsJSON, f.PaymentMethod)
	return scanOrder(row)
}

// CreateCapiEvent inserts a new delivery log row (status PENDING). The id
// must already be set by the caller.
func (p *PostgresStore) CreateCapiEvent(ctx context.Context, ev *models.CapiEvent) error {
	return p.pool.QueryRow(ctx, `
		INSERT INTO capi_events (id, lead_id, event_name, event_id, user_agent, ip_address, source_url, fb_status)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
		RETURNING created_at`,
		ev.ID, ev.LeadID, string(ev.EventName), ev.EventID,
		ev.UserAgent, ev.IPAddress, ev.SourceURL, string(ev.FBStatus),
	).Scan(&ev.CreatedAt)
}

// UpdateCapiEventDelivery records the outcome of the delivery attempt:
// final status, the exact payload sent and the raw API response.
func (p *PostgresStore) UpdateCapiEventDelivery(ctx context.Context, id uuid.UUID, status models.DeliveryStatus, sent, response json.RawMessage) error {
	_, err := p.pool.Exec(ctx, `
		UPDATE capi_events SET fb_status=$2, payload=$3, fb_response=$4 WHERE id=$1`,
		id, string(status), nullableJSON(sent), nullableJSON(response))
	return err
}

func nullableJSON(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return raw
}

// ListFilter is shared pagination plus per-entity field filters. Page is
// 1-based; PageSize is clamped to [1,1000] with a default of 50.
type ListFilter struct {
	Page     int
	PageSize int
	Fields   map[string]string
}

func (f ListFilter) limits() (limit, offset int) {
	size := f.PageSize
	if size <= 0 {
		size = 50
	}
	if size > 1000 {
		size = 1000
	}
	page := f.Page
	if page < 1 {
		page = 1
	}
	return size, (page - 1) * size
}

// whereClause builds a WHERE fragment for the allowed filter columns only,
// so user input can never name an arbitrary column.
func whereClause(fields map[string]string, allowed []string) (string, []any) {
	var conds []string
	var args []any
	for _, col := range allowed {
		v, ok := fields[col]
		if !ok || v == "" {
			continue
		}
		args = append(args, v)
		conds = append(conds, fmt.Sprintf("%s = $%d", col, len(args)))
	}
	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// ListLeads returns a page of leads, newest first, with the total row count
// for the filter.
func (p *PostgresStore) ListLeads(ctx context.Context, f ListFilter) ([]models.Lead, int64, error) {
	where, args := whereClause(f.Fields, []string{"email", "lead_source"})
	limit, offset := f.limits()

	var total int64
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM leads"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := p.pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM leads%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
			leadColumns, where, limit, offset), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.Lead
	for rows.Next() {
		l, err := scanLead(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *l)
	}
	return out, total, rows.Err()
}

// ListOrders returns a page of orders, newest first.
func (p *PostgresStore) ListOrders(ctx context.Context, f ListFilter) ([]models.Order, int64, error) {
	where, args := whereClause(f.Fields, []string{"status", "payment_method"})
	limit, offset := f.limits()

	var total int64
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM orders"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := p.pool.Query(ctx,
		fmt.Sprintf("SELECT %s FROM orders%s ORDER BY created_at DESC LIMIT %d OFFSET %d",
			orderColumns, where, limit, offset), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, *o)
	}
	return out, total, rows.Err()
}

// ListCapiEvents returns a page of delivery logs, newest first.
func (p *PostgresStore) ListCapiEvents(ctx context.Context, f ListFilter) ([]models.CapiEvent, int64, error) {
	where, args := whereClause(f.Fields, []string{"fb_status", "event_name"})
	limit, offset := f.limits()

	var total int64
	if err := p.pool.QueryRow(ctx, "SELECT COUNT(*) FROM capi_events"+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := p.pool.Query(ctx, fmt.Sprintf(`
		SELECT id, lead_id, event_name, event_id, user_agent, ip_address, source_url,
		       payload, fb_status, fb_response, created_at
		FROM capi_events%s ORDER BY created_at DESC LIMIT %d OFFSET %d`,
		where, limit, offset), args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var out []models.CapiEvent
	for rows.Next() {
		var ev models.CapiEvent
		var payloadRaw, responseRaw []byte
		if err := rows.Scan(&ev.ID, &ev.LeadID, &ev.EventName, &ev.EventID,
			&ev.UserAgent, &ev.IPAddress, &ev.SourceURL,
			&payloadRaw, &ev.FBStatus, &responseRaw, &ev.CreatedAt); err != nil {
			return nil, 0, err
		}
		ev.Payload = payloadRaw
		ev.FBResponse = responseRaw
		out = append(out, ev)
	}
	return out, total, rows.Err()
}
