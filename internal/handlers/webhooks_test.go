package handlers

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gexcorp/capi-bridge/internal/ingest"
	"github.com/gexcorp/capi-bridge/internal/models"
	"github.com/gexcorp/capi-bridge/internal/payload"
)

type fakeIngestor struct {
	lastPayload payload.Payload
	lastOpts    ingest.Options
	result      ingest.Result
}

func (f *fakeIngestor) Process(_ *gin.Context, raw payload.Payload, opts ingest.Options) ingest.Result {
	f.lastPayload = raw
	f.lastOpts = opts
	return f.result
}

func newTestRouter(f *fakeIngestor) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	registerWebhookRoutes(r, f, slog.Default())
	return r
}

func successResult() ingest.Result {
	return ingest.Result{Status: "success", LeadID: "lead-1", Event: models.EventLead, FBStatus: "SENT"}
}

func postJSON(r *gin.Engine, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(body)
	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", "test-agent/1.0")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestGenericWebhookSetsLeadSource(t *testing.T) {
	f := &fakeIngestor{result: successResult()}
	w := postJSON(newTestRouter(f), "/webhook/", map[string]any{"email": "a@b.com"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, models.LeadSourceLead, f.lastOpts.LeadSourceOverride)
	assert.Empty(t, f.lastOpts.EventTypeOverride)
	assert.Equal(t, "a@b.com", f.lastPayload.String("email"))
}

func TestAbandonmentWebhooksOverrideClassification(t *testing.T) {
	for _, path := range []string{"/webhook/cart/", "/webhook/abandono/"} {
		t.Run(path, func(t *testing.T) {
			f := &fakeIngestor{result: successResult()}
			w := postJSON(newTestRouter(f), path, map[string]any{"email": "a@b.com"})

			assert.Equal(t, http.StatusCreated, w.Code)
			assert.Equal(t, "cart_abandonment", f.lastOpts.EventTypeOverride)
			assert.Equal(t, models.LeadSourceAbandonment, f.lastOpts.LeadSourceOverride)
		})
	}
}

func TestLeadWebhookOverrides(t *testing.T) {
	f := &fakeIngestor{result: successResult()}
	w := postJSON(newTestRouter(f), "/webhook/lead/", map[string]any{"email": "a@b.com"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "lead", f.lastOpts.EventTypeOverride)
	assert.Equal(t, models.LeadSourceLead, f.lastOpts.LeadSourceOverride)
}

func TestPurchaseWebhookMergesQueryParams(t *testing.T) {
	f := &fakeIngestor{result: successResult()}
	r := newTestRouter(f)

	var buf bytes.Buffer
	_ = json.NewEncoder(&buf).Encode(map[string]any{"email": "a@b.com", "order_id": "body-1"})
	req := httptest.NewRequest(http.MethodPost, "/webhook/purchase/?order_id=query-1&value=99.90", &buf)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "purchase_approved", f.lastOpts.EventTypeOverride)
	assert.Equal(t, models.LeadSourceCustomer, f.lastOpts.LeadSourceOverride)
	// Query params complement and override the body.
	assert.Equal(t, "query-1", f.lastPayload.String("order_id"))
	assert.Equal(t, "99.90", f.lastPayload.String("value"))
	assert.Equal(t, "a@b.com", f.lastPayload.String("email"))
}

func TestPurchaseWebhookAcceptsGETPostback(t *testing.T) {
	f := &fakeIngestor{result: successResult()}
	r := newTestRouter(f)

	req := httptest.NewRequest(http.MethodGet, "/webhook/purchase/?email=pb%40y.com&order_id=PB-1", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "pb@y.com", f.lastPayload.String("email"))
	assert.Equal(t, "PB-1", f.lastPayload.String("order_id"))
}

func TestWebhookValidationErrorMapsTo400(t *testing.T) {
	f := &fakeIngestor{result: ingest.Result{Status: "error", Detail: "email required (all sources failed)"}}
	w := postJSON(newTestRouter(f), "/webhook/", map[string]any{})

	assert.Equal(t, http.StatusBadRequest, w.Code)
	var res ingest.Result
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.Contains(t, res.Detail, "mail")
}

func TestWebhookInternalErrorMapsTo500(t *testing.T) {
	f := &fakeIngestor{result: ingest.Result{Status: "error", Detail: "db down", Internal: true}}
	w := postJSON(newTestRouter(f), "/webhook/", map[string]any{"email": "a@b.com"})
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestWebhookMalformedBodyStillProcessed(t *testing.T) {
	f := &fakeIngestor{result: ingest.Result{Status: "error", Detail: "email required"}}
	r := newTestRouter(f)

	req := httptest.NewRequest(http.MethodPost, "/webhook/", bytes.NewBufferString("{not json"))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	// The pipeline reports the missing fields; the handler never 500s on bad JSON.
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.NotNil(t, f.lastPayload)
}

func TestWebhookBackfillsClientContext(t *testing.T) {
	f := &fakeIngestor{result: successResult()}
	w := postJSON(newTestRouter(f), "/webhook/", map[string]any{"email": "a@b.com"})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "test-agent/1.0", f.lastPayload.String("user_agent"))
	assert.NotEmpty(t, f.lastPayload.String("ip_address"))
}

func TestWebhookPayloadContextNotOverwritten(t *testing.T) {
	f := &fakeIngestor{result: successResult()}
	w := postJSON(newTestRouter(f), "/webhook/", map[string]any{
		"email":      "a@b.com",
		"user_agent": "storefront-js/2.1",
	})

	assert.Equal(t, http.StatusCreated, w.Code)
	assert.Equal(t, "storefront-js/2.1", f.lastPayload.String("user_agent"))
}
