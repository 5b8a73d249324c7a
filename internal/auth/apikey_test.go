package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
)

func newAuthedRouter(keys map[string]string) (*gin.Engine, *string) {
	gin.SetMode(gin.TestMode)
	var seen string
	r := gin.New()
	r.Use(APIKeyMiddleware(keys))
	r.GET("/protected", func(c *gin.Context) {
		seen = ClientName(c)
		c.Status(http.StatusOK)
	})
	return r, &seen
}

func doGet(r *gin.Engine, key string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	if key != "" {
		req.Header.Set("X-API-Key", key)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPIKeyMiddlewareResolvesClientName(t *testing.T) {
	r, seen := newAuthedRouter(map[string]string{"k1": "ops", "k2": "dash"})

	w := doGet(r, "k2")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "dash", *seen)
}

func TestAPIKeyMiddlewareRejectsUnknownKey(t *testing.T) {
	r, seen := newAuthedRouter(map[string]string{"k1": "ops"})

	w := doGet(r, "nope")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Empty(t, *seen, "handler must not run")
}

func TestAPIKeyMiddlewareRejectsMissingKey(t *testing.T) {
	r, _ := newAuthedRouter(map[string]string{"k1": "ops"})
	assert.Equal(t, http.StatusUnauthorized, doGet(r, "").Code)
}

func TestClientNameOutsideAuthIsEmpty(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	assert.Empty(t, ClientName(c))
}
