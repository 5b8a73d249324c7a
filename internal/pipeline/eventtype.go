package pipeline

import (
	"strings"

	"github.com/gexcorp/capi-bridge/internal/payload"
)

// EventType is the semantic category inferred from a raw payload.
type EventType string

const (
	EventTypeCartAbandonment  EventType = "cart_abandonment"
	EventTypePurchaseApproved EventType = "purchase_approved"
	EventTypeLead             EventType = "lead"
	EventTypeRefund           EventType = "refund"
	EventTypeUnknown          EventType = ""
)

var (
	cartKeywords     = []string{"cart", "abandon", "carrinho", "abandono"}
	purchaseKeywords = []string{"purchase", "approved", "paid", "compra", "aprovada", "pago"}
	leadKeywords     = []string{"lead", "contact", "form", "formulario"}

	paidStatuses = map[string]bool{"approved": true, "paid": true, "aprovado": true, "pago": true}
)

func containsAny(s string, keywords []string) bool {
	for _, kw := range keywords {
		if strings.Contains(s, kw) {
			return true
		}
	}
	return false
}

// DetectEventType classifies a payload as cart abandonment, approved
// purchase, lead or refund. Checks run in priority order: explicit event
// fields, the nested Hotmart event name, structural hints, and finally the
// Shopify-style financial_status. No match yields EventTypeUnknown.
func DetectEventType(p payload.Payload) EventType {
	event := strings.ToLower(p.String("event", "event_type", "type"))

	switch {
	case containsAny(event, cartKeywords):
		return EventTypeCartAbandonment
	case containsAny(event, purchaseKeywords):
		return EventTypePurchaseApproved
	case containsAny(event, leadKeywords):
		return EventTypeLead
	}

	if v, ok := p.Path("data", "purchase", "event", "name"); ok {
		name := strings.ToLower(payload.Stringify(v))
		if strings.Contains(name, "abandon") || strings.Contains(name, "cart") {
			return EventTypeCartAbandonment
		}
		if strings.Contains(name, "approved") || strings.Contains(name, "paid") {
			return EventTypePurchaseApproved
		}
	}

	if p.Has("cart_amount") || p.Has("cart_total") {
		return EventTypeCartAbandonment
	}
	if p.Has("order_amount") && paidStatuses[strings.ToLower(p.String("status"))] {
		return EventTypePurchaseApproved
	}

	switch strings.ToLower(p.String("financial_status")) {
	case "paid":
		return EventTypePurchaseApproved
	case "refunded", "voided":
		return EventTypeRefund
	}

	return EventTypeUnknown
}
