package pipeline

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/gexcorp/capi-bridge/internal/models"
	"github.com/gexcorp/capi-bridge/internal/normalize"
	"github.com/gexcorp/capi-bridge/internal/payload"
)

// ErrEmptyPayload is the only failure Transform can surface: everything
// else degrades to the generic transformer.
var ErrEmptyPayload = errors.New("payload must not be empty")

// TransformError reports a platform-specific shape mismatch. It never
// escapes the registry (the generic fallback absorbs it) but stays
// inspectable for tests and logs.
type TransformError struct {
	Platform Platform
	Err      error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform %s payload: %v", e.Platform, e.Err)
}

func (e *TransformError) Unwrap() error { return e.Err }

// CanonicalRecord is the platform-agnostic representation of one inbound
// event. Optional fields are empty strings / nil when the source did not
// provide them.
type CanonicalRecord struct {
	UniqueKey string
	OrderID   string
	SourceID  string
	EventType EventType
	Platform  Platform
	Status    string

	Email     string
	FirstName string
	LastName  string
	Phone     string
	ZipCode   string
	City      string
	State     string

	ProductName   string
	Amount        *float64
	Currency      string
	Products      []models.LineItem
	PaymentMethod string

	Raw payload.Payload
}

// Transformer maps one platform's payload shape to a CanonicalRecord.
type Transformer interface {
	Platform() Platform
	Transform(p payload.Payload) (*CanonicalRecord, error)
}

// Registry dispatches payloads to platform transformers by detected
// platform, falling back to the generic transformer on a miss or on any
// transformer error. Adding a platform means registering it here; callers
// never switch on platform themselves.
type Registry struct {
	byPlatform map[Platform]Transformer
	log        *slog.Logger
}

// NewRegistry builds a registry with all known platform transformers.
func NewRegistry(log *slog.Logger) *Registry {
	if log == nil {
		log = slog.Default()
	}
	r := &Registry{byPlatform: map[Platform]Transformer{}, log: log}
	for _, t := range []Transformer{hotmartTransformer{}, kiwifyTransformer{}, cartPandaTransformer{}} {
		r.byPlatform[t.Platform()] = t
	}
	return r
}

// Transform normalizes any non-empty payload into a CanonicalRecord.
// It fails only on an empty payload; a platform transformer error is logged
// and recovered by the generic transformer, so unknown or malformed shapes
// still produce a record.
func (r *Registry) Transform(p payload.Payload) (*CanonicalRecord, error) {
	if len(p) == 0 {
		return nil, ErrEmptyPayload
	}

	platform := DetectPlatform(p)

	if t, ok := r.byPlatform[platform]; ok {
		rec, err := t.Transform(p)
		if err == nil {
			return rec, nil
		}
		r.log.Warn("platform transform failed, using generic",
			"platform", platform, "error", err)
	}
	return genericTransform(p, platform), nil
}

// --- Hotmart ---

type hotmartTransformer struct{}

func (hotmartTransformer) Platform() Platform { return PlatformHotmart }

func (hotmartTransformer) Transform(p payload.Payload) (*CanonicalRecord, error) {
	purchase := p.Dict("data").Dict("purchase")
	if purchase == nil {
		return nil, &TransformError{Platform: PlatformHotmart, Err: errors.New("missing data.purchase object")}
	}
	buyer := orEmpty(purchase.Dict("buyer"))
	product := orEmpty(purchase.Dict("product"))
	order := orEmpty(purchase.Dict("order"))

	first, last := normalize.SplitName(buyer.String("name"))

	// Phone and price sometimes arrive wrapped in one-level objects.
	phone := payload.Unwrap(buyer.Get("phone"), "number")
	amount := payload.Unwrap(order.Get("price"), "value")

	orderID := payload.Stringify(order.Get("order_id"))

	return &CanonicalRecord{
		UniqueKey:   "HOTMART-" + orderID,
		OrderID:     orderID,
		EventType:   DetectEventType(p),
		Platform:    PlatformHotmart,
		Email:       normalize.Email(buyer.Get("email")),
		FirstName:   first,
		LastName:    last,
		Phone:       normalize.Phone(phone),
		ProductName: product.String("name"),
		Amount:      amountPtr(amount),
		Raw:         p,
	}, nil
}

// --- Kiwify ---

type kiwifyTransformer struct{}

func (kiwifyTransformer) Platform() Platform { return PlatformKiwify }

func (kiwifyTransformer) Transform(p payload.Payload) (*CanonicalRecord, error) {
	order := p.Dict("order")
	customer := p.Dict("customer")
	if order == nil && customer == nil {
		return nil, &TransformError{Platform: PlatformKiwify, Err: errors.New("missing order and customer objects")}
	}
	order = orEmpty(order)
	customer = orEmpty(customer)

	var first, last string
	if full := customer.String("name"); full != "" {
		first, last = normalize.SplitName(full)
	} else {
		first = customer.String("first_name")
		last = customer.String("last_name")
	}

	productName := ""
	switch prod := p.Get("product").(type) {
	case map[string]any:
		productName = payload.Payload(prod).String("name")
	default:
		productName = payload.Stringify(prod)
	}

	orderID := payload.Stringify(order.Get("id"))

	return &CanonicalRecord{
		UniqueKey:   "KIWIFY-" + orderID,
		OrderID:     orderID,
		EventType:   DetectEventType(p),
		Platform:    PlatformKiwify,
		Email:       normalize.Email(customer.Get("email")),
		FirstName:   first,
		LastName:    last,
		Phone:       normalize.Phone(customer.Get("phone")),
		ProductName: productName,
		Amount:      amountPtr(order.Get("total")),
		Raw:         p,
	}, nil
}

// --- CartPanda (Shopify-like) ---

type cartPandaTransformer struct{}

func (cartPandaTransformer) Platform() Platform { return PlatformCartPanda }

func (cartPandaTransformer) Transform(p payload.Payload) (*CanonicalRecord, error) {
	customer := orEmpty(p.Dict("customer"))
	billing := orEmpty(p.Dict("billing_address"))
	shipping := orEmpty(p.Dict("shipping_address"))

	// Name: customer > billing > shipping, full-name split as last resort.
	first := firstNonEmpty(customer.String("first_name"), billing.String("first_name"), shipping.String("first_name"))
	last := firstNonEmpty(customer.String("last_name"), billing.String("last_name"), shipping.String("last_name"))
	if first == "" {
		first, last = normalize.SplitName(firstNonEmpty(customer.String("name"), billing.String("name")))
	}

	email := firstNonEmpty(customer.String("email"), p.String("email"), billing.String("email"))
	phone := firstNonEmpty(customer.String("phone"), billing.String("phone"), shipping.String("phone"), p.String("phone"))

	zip := firstNonEmpty(billing.String("zip"), shipping.String("zip"))
	city := firstNonEmpty(billing.String("city"), shipping.String("city"))
	state := firstNonEmpty(billing.String("province_code"), billing.String("province"), shipping.String("province_code"))

	amount := p.First("total_price", "subtotal_price")

	var products []models.LineItem
	for _, raw := range p.Slice("line_items") {
		item, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		ip := payload.Payload(item)
		qty := 1
		if q, ok := normalize.Amount(ip.Get("quantity")); ok && q > 0 {
			qty = int(q)
		}
		price, _ := normalize.Amount(ip.Get("price"))
		products = append(products, models.LineItem{
			Name:     ip.String("title", "name"),
			Quantity: qty,
			Price:    price,
		})
	}
	productName := ""
	if len(products) > 0 {
		productName = products[0].Name
	}

	orderID := p.String("id", "order_number")
	sourceID := p.String("id")

	var eventType EventType
	var status string
	switch strings.ToLower(p.String("financial_status")) {
	case "paid":
		eventType, status = EventTypePurchaseApproved, "paid"
	case "refunded":
		eventType, status = EventTypeRefund, "refunded"
	case "pending":
		eventType, status = EventTypeLead, "pending"
	default:
		eventType = DetectEventType(p)
		if status = strings.ToLower(p.String("financial_status")); status == "" {
			status = "pending"
		}
	}

	uniqueKey := "CARTPANDA-" + orderID
	if orderID == "" {
		// Payloads without an order id still need a stable key.
		uniqueKey = normalize.UniqueKey(p, string(PlatformCartPanda))
	}

	return &CanonicalRecord{
		UniqueKey:     uniqueKey,
		OrderID:       orderID,
		SourceID:      sourceID,
		EventType:     eventType,
		Platform:      PlatformCartPanda,
		Status:        status,
		Email:         normalize.Email(email),
		FirstName:     first,
		LastName:      last,
		Phone:         normalize.Phone(phone),
		ZipCode:       zip,
		City:          city,
		State:         state,
		ProductName:   productName,
		Amount:        amountPtr(amount),
		Currency:      firstNonEmpty(p.String("currency"), "BRL"),
		Products:      products,
		PaymentMethod: p.String("gateway", "payment_gateway"),
		Raw:           p,
	}, nil
}

// --- Generic fallback ---

// genericTransform extracts the canonical fields from any payload shape by
// probing ordered lists of alternative field names. It always succeeds.
func genericTransform(p payload.Payload, platform Platform) *CanonicalRecord {
	fullName := p.String("name", "client_name", "customer_name", "buyer_name")
	if fullName == "" {
		fullName = strings.TrimSpace(p.String("first_name") + " " + p.String("last_name"))
	}
	if fullName == "" {
		fullName = strings.TrimSpace(p.String("client_first_name") + " " + p.String("client_last_name"))
	}

	first, last := normalize.SplitName(fullName)
	if first == "" {
		first = p.String("client_first_name", "first_name")
	}
	if last == "" {
		last = p.String("client_last_name", "last_name")
	}

	email := p.First("email", "client_email", "customer_email", "buyer_email")
	phone := payload.Unwrap(
		p.First("phone", "client_phone", "customer_phone", "buyer_phone", "telephone", "mobile"),
		"number", "value",
	)

	product := payload.Unwrap(p.First("product_name", "product"), "name", "title")

	amount := payload.Unwrap(
		p.First("amount", "order_amount", "total", "value", "price", "cart_amount", "purchase_amount"),
		"value", "total", "amount",
	)

	uniqueKey := p.String("unique_key")
	if uniqueKey == "" {
		uniqueKey = normalize.UniqueKey(p, string(platform))
	}

	eventType := EventType(p.String("event_type"))
	if eventType == EventTypeUnknown {
		eventType = DetectEventType(p)
	}

	return &CanonicalRecord{
		UniqueKey:   uniqueKey,
		OrderID:     p.String("order_id", "id", "order_number"),
		EventType:   eventType,
		Platform:    platform,
		Email:       normalize.Email(email),
		FirstName:   first,
		LastName:    last,
		Phone:       normalize.Phone(phone),
		ProductName: payload.Stringify(product),
		Amount:      amountPtr(amount),
		Raw:         p,
	}
}

func orEmpty(p payload.Payload) payload.Payload {
	if p == nil {
		return payload.Payload{}
	}
	return p
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func amountPtr(raw any) *float64 {
	v, ok := normalize.Amount(raw)
	if !ok {
		return nil
	}
	return &v
}
