package gateway

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func runMiddleware(mw gin.HandlerFunc, req *http.Request) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	r := gin.New()
	r.Use(mw)
	r.GET("/", func(c *gin.Context) { c.Status(http.StatusOK) })
	r.ServeHTTP(w, req)
	return w
}

func TestAPIKeyMiddlewareNoKeyConfiguredAllowsAll(t *testing.T) {
	mw := APIKeyMiddleware(func() string { return "" }, openaiErrorBody)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := runMiddleware(mw, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyMiddlewareRejectsMissingKey(t *testing.T) {
	mw := APIKeyMiddleware(func() string { return "secret" }, openaiErrorBody)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := runMiddleware(mw, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAPIKeyMiddlewareAcceptsBearerToken(t *testing.T) {
	mw := APIKeyMiddleware(func() string { return "secret" }, openaiErrorBody)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := runMiddleware(mw, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyMiddlewareAcceptsXAPIKeyHeader(t *testing.T) {
	mw := APIKeyMiddleware(func() string { return "secret" }, claudeErrorBody)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-api-key", "secret")
	w := runMiddleware(mw, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAPIKeyMiddlewareRejectsWrongKey(t *testing.T) {
	mw := APIKeyMiddleware(func() string { return "secret" }, claudeErrorBody)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-api-key", "wrong")
	w := runMiddleware(mw, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuthMiddlewareNoPasswordConfiguredAllowsAll(t *testing.T) {
	mw := AdminAuthMiddleware(func() string { return "" })
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := runMiddleware(mw, req)
	require.Equal(t, http.StatusOK, w.Code)
}

func TestAdminAuthMiddlewareRejectsMissingPassword(t *testing.T) {
	mw := AdminAuthMiddleware(func() string { return "topsecret" })
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	w := runMiddleware(mw, req)
	require.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestAdminAuthMiddlewareAcceptsHeader(t *testing.T) {
	mw := AdminAuthMiddleware(func() string { return "topsecret" })
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set("x-admin-password", "topsecret")
	w := runMiddleware(mw, req)
	require.Equal(t, http.StatusOK, w.Code)
}
