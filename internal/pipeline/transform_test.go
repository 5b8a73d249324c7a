package pipeline

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gexcorp/capi-bridge/internal/payload"
)

func newTestRegistry() *Registry {
	return NewRegistry(nil)
}

func hotmartPayload() payload.Payload {
	return payload.Payload{
		"event": "PURCHASE_APPROVED",
		"data": map[string]any{
			"purchase": map[string]any{
				"buyer": map[string]any{
					"name":  "João Silva Santos",
					"email": "Joao@Email.com",
					"phone": map[string]any{"number": "11999887766"},
				},
				"product": map[string]any{"name": "Curso Avançado"},
				"order": map[string]any{
					"order_id": "HM-123",
					"price":    map[string]any{"value": 297.0},
				},
			},
		},
	}
}

func TestTransformHotmart(t *testing.T) {
	rec, err := newTestRegistry().Transform(hotmartPayload())
	require.NoError(t, err)

	assert.Equal(t, PlatformHotmart, rec.Platform)
	assert.Equal(t, "HOTMART-HM-123", rec.UniqueKey)
	assert.Equal(t, "HM-123", rec.OrderID)
	assert.Equal(t, EventTypePurchaseApproved, rec.EventType)
	assert.Equal(t, "joao@email.com", rec.Email)
	assert.Equal(t, "João", rec.FirstName)
	assert.Equal(t, "Silva Santos", rec.LastName)
	assert.Equal(t, "5511999887766", rec.Phone)
	assert.Equal(t, "Curso Avançado", rec.ProductName)
	require.NotNil(t, rec.Amount)
	assert.Equal(t, 297.0, *rec.Amount)
}

func TestTransformKiwify(t *testing.T) {
	p := payload.Payload{
		"event_type": "compra aprovada",
		"order": map[string]any{
			"id":    float64(4501),
			"total": "149,90",
		},
		"customer": map[string]any{
			"name":  "Ana Souza",
			"email": "ana@mail.com",
			"phone": "21988776655",
		},
		"product": map[string]any{"name": "Mentoria"},
	}

	rec, err := newTestRegistry().Transform(p)
	require.NoError(t, err)

	assert.Equal(t, PlatformKiwify, rec.Platform)
	assert.Equal(t, "KIWIFY-4501", rec.UniqueKey)
	assert.Equal(t, "4501", rec.OrderID)
	assert.Equal(t, "ana@mail.com", rec.Email)
	assert.Equal(t, "Ana", rec.FirstName)
	assert.Equal(t, "Souza", rec.LastName)
	assert.Equal(t, "5521988776655", rec.Phone)
	assert.Equal(t, "Mentoria", rec.ProductName)
	require.NotNil(t, rec.Amount)
	assert.Equal(t, 149.90, *rec.Amount)
}

func TestTransformKiwifySeparateNameFields(t *testing.T) {
	p := payload.Payload{
		"order":    map[string]any{"id": "9"},
		"customer": map[string]any{"first_name": "Bia", "last_name": "Lima", "email": "bia@mail.com"},
	}
	rec, err := newTestRegistry().Transform(p)
	require.NoError(t, err)
	assert.Equal(t, "Bia", rec.FirstName)
	assert.Equal(t, "Lima", rec.LastName)
}

func cartPandaPayload() payload.Payload {
	return payload.Payload{
		"id":               float64(88021),
		"financial_status": "paid",
		"total_price":      "149.90",
		"currency":         "BRL",
		"gateway":          "pix",
		"customer": map[string]any{
			"email":      "a@b.com",
			"first_name": "A",
		},
		"billing_address": map[string]any{
			"zip":           "01310-100",
			"city":          "São Paulo",
			"province_code": "SP",
		},
		"line_items": []any{
			map[string]any{"title": "X", "quantity": float64(1), "price": "149.90"},
		},
	}
}

func TestTransformCartPanda(t *testing.T) {
	rec, err := newTestRegistry().Transform(cartPandaPayload())
	require.NoError(t, err)

	assert.Equal(t, PlatformCartPanda, rec.Platform)
	assert.Equal(t, "CARTPANDA-88021", rec.UniqueKey)
	assert.Equal(t, "88021", rec.OrderID)
	assert.Equal(t, "88021", rec.SourceID)
	assert.Equal(t, EventTypePurchaseApproved, rec.EventType)
	assert.Equal(t, "paid", rec.Status)
	assert.Equal(t, "a@b.com", rec.Email)
	assert.Equal(t, "A", rec.FirstName)
	assert.Equal(t, "01310-100", rec.ZipCode)
	assert.Equal(t, "São Paulo", rec.City)
	assert.Equal(t, "SP", rec.State)
	assert.Equal(t, "pix", rec.PaymentMethod)
	assert.Equal(t, "BRL", rec.Currency)

	require.Len(t, rec.Products, 1)
	assert.Equal(t, "X", rec.Products[0].Name)
	assert.Equal(t, 1, rec.Products[0].Quantity)
	assert.Equal(t, 149.90, rec.Products[0].Price)
	assert.Equal(t, "X", rec.ProductName)
	require.NotNil(t, rec.Amount)
	assert.Equal(t, 149.90, *rec.Amount)
}

func TestTransformCartPandaRefund(t *testing.T) {
	p := cartPandaPayload()
	p["financial_status"] = "refunded"
	rec, err := newTestRegistry().Transform(p)
	require.NoError(t, err)
	assert.Equal(t, EventTypeRefund, rec.EventType)
	assert.Equal(t, "refunded", rec.Status)
}

func TestTransformCartPandaWithoutOrderID(t *testing.T) {
	p := cartPandaPayload()
	delete(p, "id")
	rec, err := newTestRegistry().Transform(p)
	require.NoError(t, err)
	assert.Empty(t, rec.OrderID)
	// The key degrades to the timestamp fallback but is never empty.
	assert.True(t, strings.HasPrefix(rec.UniqueKey, "CARTPANDA-"))
	assert.NotEqual(t, "CARTPANDA-", rec.UniqueKey)
}

func TestTransformGenericFallbackChains(t *testing.T) {
	p := payload.Payload{
		"customer_name":  "Pedro Costa",
		"customer_email": "pedro@mail.com",
		"telephone":      map[string]any{"number": "31988887777"},
		"product":        map[string]any{"title": "Ebook"},
		"total":          map[string]any{"value": "49,90"},
		"order_id":       "GEN-7",
	}
	rec, err := newTestRegistry().Transform(p)
	require.NoError(t, err)

	assert.Equal(t, PlatformUnknown, rec.Platform)
	assert.Equal(t, "UNKNOWN-GEN-7", rec.UniqueKey)
	assert.Equal(t, "pedro@mail.com", rec.Email)
	assert.Equal(t, "Pedro", rec.FirstName)
	assert.Equal(t, "Costa", rec.LastName)
	assert.Equal(t, "5531988887777", rec.Phone)
	assert.Equal(t, "Ebook", rec.ProductName)
	require.NotNil(t, rec.Amount)
	assert.Equal(t, 49.90, *rec.Amount)
}

func TestTransformGenericSeparateFirstLast(t *testing.T) {
	p := payload.Payload{"first_name": "Rita", "last_name": "Alves", "email": "rita@mail.com"}
	rec, err := newTestRegistry().Transform(p)
	require.NoError(t, err)
	assert.Equal(t, "Rita", rec.FirstName)
	assert.Equal(t, "Alves", rec.LastName)
}

func TestTransformDeclaredPlatformCaseVariant(t *testing.T) {
	// The nested buyer email is only reachable through the hotmart
	// transformer, so a case-variant declaration must still route there.
	p := hotmartPayload()
	p["platform"] = "Hotmart"

	rec, err := newTestRegistry().Transform(p)
	require.NoError(t, err)
	assert.Equal(t, PlatformHotmart, rec.Platform)
	assert.Equal(t, "joao@email.com", rec.Email)
}

func TestTransformFallsBackOnPlatformShapeMismatch(t *testing.T) {
	// Detected as hotmart via data.subscription, but the hotmart transformer
	// requires data.purchase; the registry recovers with the generic path.
	p := payload.Payload{
		"data":  map[string]any{"subscription": map[string]any{"id": "sub-1"}},
		"email": "sub@mail.com",
	}
	rec, err := newTestRegistry().Transform(p)
	require.NoError(t, err)
	assert.Equal(t, PlatformHotmart, rec.Platform)
	assert.Equal(t, "sub@mail.com", rec.Email)
}

func TestTransformEmptyPayload(t *testing.T) {
	_, err := newTestRegistry().Transform(payload.Payload{})
	assert.ErrorIs(t, err, ErrEmptyPayload)
}

func TestTransformUnknownPlatformIsNotAnError(t *testing.T) {
	rec, err := newTestRegistry().Transform(payload.Payload{"email": "x@y.com"})
	require.NoError(t, err)
	assert.Equal(t, PlatformUnknown, rec.Platform)
}

func TestHotmartTransformerErrorIsInspectable(t *testing.T) {
	_, err := hotmartTransformer{}.Transform(payload.Payload{"data": map[string]any{}})
	var terr *TransformError
	require.ErrorAs(t, err, &terr)
	assert.Equal(t, PlatformHotmart, terr.Platform)
}
