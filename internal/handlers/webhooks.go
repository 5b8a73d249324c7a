package handlers

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/gexcorp/capi-bridge/internal/ingest"
	"github.com/gexcorp/capi-bridge/internal/models"
	"github.com/gexcorp/capi-bridge/internal/payload"
)

// Ingestor is the processing pipeline behind every webhook endpoint.
type Ingestor interface {
	Process(c *gin.Context, raw payload.Payload, opts ingest.Options) ingest.Result
}

// processorAdapter narrows *ingest.Processor to the gin handler signature.
type processorAdapter struct{ p *ingest.Processor }

func (a processorAdapter) Process(c *gin.Context, raw payload.Payload, opts ingest.Options) ingest.Result {
	return a.p.Process(c.Request.Context(), raw, opts)
}

// RegisterWebhookRoutes registers one public endpoint per upstream source.
//
// POST /webhook/           generic (forms, n8n, unknown platforms)
// POST /webhook/cart/      cart abandonment (legacy path)
// POST /webhook/abandono/  cart abandonment (storefront JS)
// POST|GET /webhook/purchase/  purchase postback; merges body + query params
// POST /webhook/lead/      standard lead forms
//
// Responses: 201 + structured result on success, 400 on a validation
// failure, 500 on an unexpected fault. A failed delivery to the attribution
// API does NOT fail the request.
func RegisterWebhookRoutes(r gin.IRoutes, proc *ingest.Processor, log *slog.Logger) {
	registerWebhookRoutes(r, processorAdapter{proc}, log)
}

func registerWebhookRoutes(r gin.IRoutes, ing Ingestor, log *slog.Logger) {
	handle := func(c *gin.Context, data payload.Payload, opts ingest.Options) {
		attachClientContext(c, data)

		result := ing.Process(c, data, opts)
		if result.Status == "error" {
			status := http.StatusBadRequest
			if result.Internal {
				status = http.StatusInternalServerError
			}
			log.Warn("webhook rejected", "detail", result.Detail, "status", status)
			c.JSON(status, result)
			return
		}
		c.JSON(http.StatusCreated, result)
	}

	r.POST("/webhook/", func(c *gin.Context) {
		handle(c, bindBody(c), ingest.Options{
			LeadSourceOverride: models.LeadSourceLead,
		})
	})

	abandonment := func(c *gin.Context) {
		handle(c, bindBody(c), ingest.Options{
			EventTypeOverride:  "cart_abandonment",
			LeadSourceOverride: models.LeadSourceAbandonment,
		})
	}
	r.POST("/webhook/cart/", abandonment)
	r.POST("/webhook/abandono/", abandonment)

	// Postback-style purchase notifications arrive as JSON, query params,
	// or both; query values complement and override the body.
	purchase := func(c *gin.Context) {
		data := bindBody(c)
		for k, vals := range c.Request.URL.Query() {
			if len(vals) > 0 {
				data[k] = vals[0]
			}
		}
		handle(c, data, ingest.Options{
			EventTypeOverride:  "purchase_approved",
			LeadSourceOverride: models.LeadSourceCustomer,
		})
	}
	r.POST("/webhook/purchase/", purchase)
	r.GET("/webhook/purchase/", purchase)

	r.POST("/webhook/lead/", func(c *gin.Context) {
		handle(c, bindBody(c), ingest.Options{
			EventTypeOverride:  "lead",
			LeadSourceOverride: models.LeadSourceLead,
		})
	})
}

// bindBody decodes the JSON body into a payload map. A missing or malformed
// body yields an empty payload rather than a bind error: the pipeline
// reports the missing mandatory fields itself.
func bindBody(c *gin.Context) payload.Payload {
	var data payload.Payload
	if c.Request.Body != nil {
		if err := json.NewDecoder(c.Request.Body).Decode(&data); err != nil {
			data = nil
		}
	}
	if data == nil {
		data = payload.Payload{}
	}
	return data
}

// attachClientContext backfills the technical context from the HTTP request
// when the upstream adapter did not forward it in the payload.
func attachClientContext(c *gin.Context, data payload.Payload) {
	if data.String("user_agent", "client_user_agent") == "" {
		if ua := c.Request.UserAgent(); ua != "" {
			data["user_agent"] = ua
		}
	}
	if data.String("ip_address", "client_ip_address") == "" {
		if ip := c.ClientIP(); ip != "" {
			data["ip_address"] = ip
		}
	}
	if data.String("source_url", "event_source_url") == "" {
		if ref := c.Request.Referer(); ref != "" {
			data["source_url"] = ref
		}
	}
}
