package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/gexcorp/capi-bridge/internal/payload"
)

func TestDetectEventType(t *testing.T) {
	tests := []struct {
		name     string
		p        payload.Payload
		expected EventType
	}{
		{"explicit cart keyword", payload.Payload{"event": "cart.abandoned"}, EventTypeCartAbandonment},
		{"portuguese abandono", payload.Payload{"event_type": "abandono de carrinho"}, EventTypeCartAbandonment},
		{"explicit purchase keyword", payload.Payload{"type": "purchase.completed"}, EventTypePurchaseApproved},
		{"portuguese aprovada", payload.Payload{"event": "compra aprovada"}, EventTypePurchaseApproved},
		{"explicit lead keyword", payload.Payload{"event": "formulario enviado"}, EventTypeLead},
		{
			"hotmart nested approved",
			payload.Payload{"data": map[string]any{"purchase": map[string]any{
				"event": map[string]any{"name": "PURCHASE_APPROVED"},
			}}},
			EventTypePurchaseApproved,
		},
		{
			"hotmart nested abandonment",
			payload.Payload{"data": map[string]any{"purchase": map[string]any{
				"event": map[string]any{"name": "CART_ABANDONED"},
			}}},
			EventTypeCartAbandonment,
		},
		{"cart_amount field hints abandonment", payload.Payload{"cart_amount": "40.00"}, EventTypeCartAbandonment},
		{"cart_total field hints abandonment", payload.Payload{"cart_total": 80}, EventTypeCartAbandonment},
		{
			"order_amount with paid status",
			payload.Payload{"order_amount": 100, "status": "pago"},
			EventTypePurchaseApproved,
		},
		{
			"order_amount without status stays unknown",
			payload.Payload{"order_amount": 100},
			EventTypeUnknown,
		},
		{"financial_status paid", payload.Payload{"financial_status": "paid"}, EventTypePurchaseApproved},
		{"financial_status refunded", payload.Payload{"financial_status": "refunded"}, EventTypeRefund},
		{"financial_status voided", payload.Payload{"financial_status": "voided"}, EventTypeRefund},
		{"no signal", payload.Payload{"email": "a@b.com"}, EventTypeUnknown},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, DetectEventType(tt.p))
		})
	}
}

func TestDetectEventTypeExplicitBeatsStructural(t *testing.T) {
	// Explicit event field takes priority over financial_status.
	p := payload.Payload{"event": "carrinho abandonado", "financial_status": "paid"}
	assert.Equal(t, EventTypeCartAbandonment, DetectEventType(p))
}
