package handlers

import (
	"log/slog"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/gexcorp/capi-bridge/internal/auth"
	"github.com/gexcorp/capi-bridge/internal/store"
)

// RegisterAdminRoutes registers the authenticated read-only list views used
// by the reporting panel.
//
// GET /leads   ?email=&lead_source=
// GET /orders  ?status=&payment_method=
// GET /events  ?fb_status=&event_name=
//
// All endpoints paginate with ?page= and ?page_size= (default 50, max 1000)
// and return items newest first.
func RegisterAdminRoutes(r gin.IRoutes, st *store.PostgresStore, log *slog.Logger) {
	r.GET("/leads", func(c *gin.Context) {
		log.Info("admin list", "client", auth.ClientName(c), "resource", "leads")
		items, total, err := st.ListLeads(c.Request.Context(), listFilter(c, "email", "lead_source"))
		respondList(c, items, total, err)
	})

	r.GET("/orders", func(c *gin.Context) {
		log.Info("admin list", "client", auth.ClientName(c), "resource", "orders")
		items, total, err := st.ListOrders(c.Request.Context(), listFilter(c, "status", "payment_method"))
		respondList(c, items, total, err)
	})

	r.GET("/events", func(c *gin.Context) {
		log.Info("admin list", "client", auth.ClientName(c), "resource", "events")
		items, total, err := st.ListCapiEvents(c.Request.Context(), listFilter(c, "fb_status", "event_name"))
		respondList(c, items, total, err)
	})
}

func listFilter(c *gin.Context, filterParams ...string) store.ListFilter {
	page, _ := strconv.Atoi(c.Query("page"))
	pageSize, _ := strconv.Atoi(c.Query("page_size"))

	fields := map[string]string{}
	for _, p := range filterParams {
		if v := c.Query(p); v != "" {
			fields[p] = v
		}
	}
	return store.ListFilter{Page: page, PageSize: pageSize, Fields: fields}
}

func respondList[T any](c *gin.Context, items []T, total int64, err error) {
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "db query failed"})
		return
	}
	if items == nil {
		items = []T{}
	}
	c.JSON(http.StatusOK, gin.H{"count": total, "results": items})
}
