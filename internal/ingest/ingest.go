// Package ingest is the top-level canonicalization pipeline: it resolves
// conflicting raw field names by priority, normalizes them, upserts the
// canonical entities and triggers outbound delivery. One call handles one
// webhook invocation, start to finish, and never panics past its boundary.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/gexcorp/capi-bridge/internal/capi"
	"github.com/gexcorp/capi-bridge/internal/models"
	"github.com/gexcorp/capi-bridge/internal/normalize"
	"github.com/gexcorp/capi-bridge/internal/payload"
	"github.com/gexcorp/capi-bridge/internal/pipeline"
)

// Store is the persistence collaborator. Upserts are keyed by natural key
// (email for leads, platform order id for orders) and must be atomic so
// concurrent requests for the same key cannot duplicate rows.
type Store interface {
	UpsertLead(ctx context.Context, email string, fields models.LeadFields) (*models.Lead, error)
	UpsertOrder(ctx context.Context, platformOrderID string, leadID uuid.UUID, fields models.OrderFields) (*models.Order, error)
	CreateCapiEvent(ctx context.Context, ev *models.CapiEvent) error
	UpdateCapiEventDelivery(ctx context.Context, id uuid.UUID, status models.DeliveryStatus, sent, response json.RawMessage) error
}

// Sender is the delivery collaborator (the attribution API client).
type Sender interface {
	Send(ctx context.Context, env capi.Envelope) (*capi.SendResult, error)
}

// Options are the per-endpoint classification overrides applied to the
// payload before processing.
type Options struct {
	EventTypeOverride  string
	LeadSourceOverride models.LeadSource
}

// Result is the structured outcome returned to the inbound boundary.
type Result struct {
	Status   string            `json:"status"`
	Detail   string            `json:"detail,omitempty"`
	LeadID   string            `json:"lead_id,omitempty"`
	Source   models.LeadSource `json:"source,omitempty"`
	Event    models.EventName  `json:"event,omitempty"`
	FBStatus string            `json:"fb_status,omitempty"`

	// Internal distinguishes unexpected faults (server error) from
	// validation failures (client error) at the HTTP boundary.
	Internal bool `json:"-"`
}

func errorResult(detail string) Result {
	return Result{Status: "error", Detail: detail}
}

// DefaultCentsThreshold is the amount above which a value is assumed to be
// in minor currency units and divided by 100. This heuristic is inherited
// as-is and misfires for legitimately large orders; it is configurable
// rather than removed. Zero disables it.
const DefaultCentsThreshold = 10000

// Processor runs the ingestion pipeline against a store and a sender.
type Processor struct {
	store    Store
	sender   Sender
	registry *pipeline.Registry
	log      *slog.Logger

	centsThreshold float64
}

// ProcessorOption customizes a Processor.
type ProcessorOption func(*Processor)

// WithCentsThreshold overrides the minor-unit heuristic threshold.
func WithCentsThreshold(v float64) ProcessorOption {
	return func(p *Processor) { p.centsThreshold = v }
}

// NewProcessor wires the pipeline. store and sender are required; a nil
// logger falls back to slog.Default.
func NewProcessor(store Store, sender Sender, log *slog.Logger, opts ...ProcessorOption) *Processor {
	if log == nil {
		log = slog.Default()
	}
	p := &Processor{
		store:          store,
		sender:         sender,
		registry:       pipeline.NewRegistry(log),
		log:            log,
		centsThreshold: DefaultCentsThreshold,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Process ingests one raw webhook payload. It returns a structured result
// and never panics: any unexpected fault is caught and reported as an
// internal error result. A failed delivery does not fail the request; the
// payload is considered processed once the entities are persisted.
func (p *Processor) Process(ctx context.Context, raw payload.Payload, opts Options) (res Result) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("ingestion panicked", "panic", r)
			res = errorResult(fmt.Sprintf("unexpected fault: %v", r))
			res.Internal = true
		}
	}()

	data := raw.Clone()
	if opts.EventTypeOverride != "" {
		data["event_type"] = opts.EventTypeOverride
	}
	if opts.LeadSourceOverride != "" {
		data["lead_source"] = string(opts.LeadSourceOverride)
	}

	// Shape-specific extraction first; the canonical record backfills any
	// field the priority chains below cannot resolve from the raw keys.
	var rec *pipeline.CanonicalRecord
	if len(data) > 0 {
		var err error
		rec, err = p.registry.Transform(data)
		if err != nil {
			rec = nil
		}
	}

	fields, email := p.resolveFields(data, rec)
	if email == "" {
		p.log.Warn("no valid email in payload, rejecting")
		return errorResult("email required (all sources failed)")
	}

	amount := p.resolveAmount(data, rec)

	source := models.LeadSourceLead
	switch models.LeadSource(data.String("lead_source")) {
	case models.LeadSourceCustomer:
		source = models.LeadSourceCustomer
	case models.LeadSourceAbandonment:
		source = models.LeadSourceAbandonment
	}
	fields.LeadSource = source

	lead, err := p.store.UpsertLead(ctx, email, fields)
	if err != nil {
		p.log.Error("lead upsert failed", "error", err)
		res = errorResult("lead upsert failed: " + err.Error())
		res.Internal = true
		return res
	}

	eventName := classifyEvent(data, rec, source)

	orderID := resolveOrderID(data, rec)
	if orderID == "" && eventName == models.EventPurchase && rec != nil {
		// Purchases without any platform order id still need a stable key
		// for the order row and deduplication; the transformer synthesizes
		// one from the payload.
		orderID = rec.UniqueKey
	}

	items := resolveLineItems(data, rec)
	productName := resolveProductName(data, rec)
	currency := resolveCurrency(data, rec)

	if eventName == models.EventPurchase && orderID != "" {
		orderFields := models.OrderFields{
			Status:        resolveOrderStatus(data, rec),
			Amount:        amount,
			Currency:      currency,
			Products:      items,
			PaymentMethod: models.Ptr(resolvePaymentMethod(data, rec)),
		}
		if _, err := p.store.UpsertOrder(ctx, orderID, lead.ID, orderFields); err != nil {
			p.log.Error("order upsert failed", "platform_order_id", orderID, "error", err)
			res = errorResult("order upsert failed: " + err.Error())
			res.Internal = true
			return res
		}
	}

	// Deduplication: a resolvable order id always yields the same event_id,
	// so re-ingestion cannot double-count the conversion downstream.
	var eventID, externalID string
	if orderID != "" {
		eventID = "order_" + orderID
		externalID = orderID
	} else {
		eventID = fmt.Sprintf("evt_%d_%s", time.Now().Unix(), lead.ID)
		externalID = lead.ID.String()
	}

	ev := &models.CapiEvent{
		ID:        uuid.New(),
		LeadID:    &lead.ID,
		EventName: eventName,
		EventID:   eventID,
		UserAgent: models.Ptr(data.String("user_agent", "client_user_agent")),
		IPAddress: models.Ptr(data.String("ip_address", "client_ip_address")),
		SourceURL: models.Ptr(data.String("source_url", "event_source_url")),
		FBStatus:  models.DeliveryPending,
	}
	if err := p.store.CreateCapiEvent(ctx, ev); err != nil {
		p.log.Error("event log insert failed", "error", err)
		res = errorResult("event log insert failed: " + err.Error())
		res.Internal = true
		return res
	}

	fbStatus := p.deliver(ctx, ev, deliveryInput{
		lead:        lead,
		amount:      amount,
		currency:    currency,
		orderID:     orderID,
		externalID:  externalID,
		items:       items,
		productName: productName,
		testCode:    data.String("test_event_code"),
	})

	p.log.Info("webhook processed",
		"lead_id", lead.ID, "event", eventName, "source", source, "fb_status", fbStatus)

	return Result{
		Status:   "success",
		LeadID:   lead.ID.String(),
		Source:   source,
		Event:    eventName,
		FBStatus: string(fbStatus),
	}
}

// resolveFields applies the priority chains for identity fields and
// normalizes them. The returned email is "" when no source yields a valid
// address (the single hard precondition).
func (p *Processor) resolveFields(data payload.Payload, rec *pipeline.CanonicalRecord) (models.LeadFields, string) {
	customer := data.Dict("customer")
	if customer == nil {
		customer = payload.Payload{}
	}

	rawEmail := data.String("email", "customer_email", "client_email")
	if rawEmail == "" {
		rawEmail = customer.String("email")
	}
	email := normalize.Email(rawEmail)
	if email == "" && rec != nil {
		email = rec.Email
	}

	rawPhone := data.String("shipping_phone", "billing_phone", "customer_phone", "phone")
	if rawPhone == "" {
		rawPhone = customer.String("phone")
	}
	phone := normalize.Phone(rawPhone)
	if phone == "" && rec != nil {
		phone = rec.Phone
	}

	first := data.String("shipping_first_name", "billing_first_name", "first_name")
	if first == "" {
		first = customer.String("first_name")
	}
	last := data.String("shipping_last_name", "billing_last_name", "last_name")
	if last == "" {
		last = customer.String("last_name")
	}
	if first == "" {
		full := data.String("name", "client_name")
		if full == "" {
			full = customer.String("name")
		}
		first, last = normalize.SplitName(full)
	}
	if first == "" && rec != nil {
		first, last = rec.FirstName, rec.LastName
	}

	zip := data.String("shipping_zip", "billing_zip", "zip_code")
	city := data.String("city", "billing_city", "shipping_city")
	state := data.String("state", "billing_state", "shipping_state")
	if rec != nil {
		if zip == "" {
			zip = rec.ZipCode
		}
		if city == "" {
			city = rec.City
		}
		if state == "" {
			state = rec.State
		}
	}

	return models.LeadFields{
		Phone:     models.Ptr(phone),
		FirstName: models.Ptr(strings.TrimSpace(first)),
		LastName:  models.Ptr(strings.TrimSpace(last)),
		ZipCode:   models.Ptr(strings.TrimSpace(zip)),
		City:      models.Ptr(strings.TrimSpace(city)),
		State:     models.Ptr(strings.TrimSpace(state)),
		FBP:       models.Ptr(data.String("fbp")),
		FBC:       models.Ptr(data.String("fbc")),
	}, email
}

func (p *Processor) resolveAmount(data payload.Payload, rec *pipeline.CanonicalRecord) float64 {
	amount, ok := normalize.Amount(data.First("value", "order_amount", "total_price"))
	if !ok && rec != nil && rec.Amount != nil {
		amount = *rec.Amount
	}
	// Minor-unit correction. See DefaultCentsThreshold for the caveat.
	if p.centsThreshold > 0 && amount > p.centsThreshold {
		amount = amount / 100.0
	}
	return amount
}

// classifyEvent derives the outbound semantic event name.
func classifyEvent(data payload.Payload, rec *pipeline.CanonicalRecord, source models.LeadSource) models.EventName {
	rawType := strings.ToLower(data.String("event_type"))
	if rawType == "" && rec != nil {
		rawType = string(rec.EventType)
	}
	status := strings.ToLower(data.String("status"))
	financial := strings.ToLower(data.String("financial_status"))

	switch {
	case strings.Contains(rawType, "purchase"),
		strings.Contains(rawType, "paid"),
		strings.Contains(status, "paid"),
		financial == "paid":
		return models.EventPurchase
	case strings.Contains(rawType, "cart"),
		strings.Contains(rawType, "abandono"),
		source == models.LeadSourceAbandonment:
		return models.EventInitiateCheckout
	default:
		return models.EventLead
	}
}

func resolveOrderID(data payload.Payload, rec *pipeline.CanonicalRecord) string {
	if id := data.String("order_id", "id", "unique_key"); id != "" {
		return id
	}
	if rec != nil {
		return rec.OrderID
	}
	return ""
}

func resolveOrderStatus(data payload.Payload, rec *pipeline.CanonicalRecord) string {
	if rec != nil && rec.Status != "" {
		return rec.Status
	}
	if s := strings.ToLower(data.String("status", "financial_status")); s != "" {
		return s
	}
	return "pending"
}

func resolveCurrency(data payload.Payload, rec *pipeline.CanonicalRecord) string {
	if rec != nil && rec.Currency != "" {
		return rec.Currency
	}
	if c := data.String("currency"); c != "" {
		return c
	}
	return "BRL"
}

func resolvePaymentMethod(data payload.Payload, rec *pipeline.CanonicalRecord) string {
	if rec != nil && rec.PaymentMethod != "" {
		return rec.PaymentMethod
	}
	return data.String("payment_method", "gateway", "payment_gateway")
}

func resolveProductName(data payload.Payload, rec *pipeline.CanonicalRecord) string {
	if rec != nil && rec.ProductName != "" {
		return rec.ProductName
	}
	return data.String("product_name")
}

// resolveLineItems prefers the transformer's structured items, then the
// flattened products array some upstream adapters send.
func resolveLineItems(data payload.Payload, rec *pipeline.CanonicalRecord) []models.LineItem {
	if rec != nil && len(rec.Products) > 0 {
		return rec.Products
	}
	var items []models.LineItem
	for _, raw := range data.Slice("products") {
		m, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		ip := payload.Payload(m)
		qty := 1
		if q, ok := normalize.Amount(ip.Get("quantity")); ok && q > 0 {
			qty = int(q)
		}
		price, _ := normalize.Amount(ip.Get("price"))
		items = append(items, models.LineItem{
			Name:     ip.String("name", "title"),
			Quantity: qty,
			Price:    price,
		})
	}
	return items
}

type deliveryInput struct {
	lead        *models.Lead
	amount      float64
	currency    string
	orderID     string
	externalID  string
	items       []models.LineItem
	productName string
	testCode    string
}

// deliver builds the outbound event, sends it, and records the outcome on
// the log row. Delivery failure is recorded, not surfaced.
func (p *Processor) deliver(ctx context.Context, ev *models.CapiEvent, in deliveryInput) models.DeliveryStatus {
	input := capi.EventInput{
		EventName:   ev.EventName,
		EventID:     ev.EventID,
		ExternalID:  in.externalID,
		Lead:        in.lead,
		UserAgent:   strDeref(ev.UserAgent),
		IPAddress:   strDeref(ev.IPAddress),
		SourceURL:   strDeref(ev.SourceURL),
		Amount:      in.amount,
		Currency:    in.currency,
		OrderID:     in.orderID,
		Items:       in.items,
		ContentName: in.productName,
	}
	if len(in.items) == 0 && in.productName != "" {
		input.ContentIDs = []string{in.productName}
	}

	env := capi.Envelope{
		Data:          []capi.Event{capi.BuildEvent(input, time.Now())},
		TestEventCode: in.testCode,
	}

	sent, err := env.Marshal()
	if err != nil {
		sent = nil
	}

	status := models.DeliverySent
	var response json.RawMessage

	result, sendErr := p.sender.Send(ctx, env)
	switch {
	case sendErr != nil:
		status = models.DeliveryError
		response, _ = json.Marshal(map[string]string{"error": sendErr.Error()})
		p.log.Error("delivery failed", "event_id", ev.EventID, "error", sendErr)
	case !result.OK:
		status = models.DeliveryError
		response = result.Body
	default:
		response = result.Body
	}

	if err := p.store.UpdateCapiEventDelivery(ctx, ev.ID, status, sent, response); err != nil {
		p.log.Error("could not record delivery outcome", "capi_event_id", ev.ID, "error", err)
	}
	return status
}

func strDeref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
