package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func newTestEngine(mw gin.HandlerFunc) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.Use(mw)
	r.GET("/x", func(c *gin.Context) { c.Status(http.StatusOK) })
	return r
}

func TestAuthMiddlewareAllowsWhenTokenUnset(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "")
	r := newTestEngine(AuthMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 with no token configured", w.Code)
	}
}

func TestAuthMiddlewareRejectsMissingHeader(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "secret")
	r := newTestEngine(AuthMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401 for a missing Authorization header", w.Code)
	}
}

func TestAuthMiddlewareRejectsWrongToken(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "secret")
	r := newTestEngine(AuthMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403 for a mismatched token", w.Code)
	}
}

func TestAuthMiddlewareAcceptsCorrectToken(t *testing.T) {
	t.Setenv("API_AUTH_TOKEN", "secret")
	r := newTestEngine(AuthMiddleware())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 for the correct bearer token", w.Code)
	}
}

func TestIsAutoConsolidateEnabled(t *testing.T) {
	t.Setenv("ENABLE_AUTO_CONSOLIDATE", "")
	if IsAutoConsolidateEnabled() {
		t.Fatal("expected false when ENABLE_AUTO_CONSOLIDATE is unset")
	}
	t.Setenv("ENABLE_AUTO_CONSOLIDATE", "true")
	if !IsAutoConsolidateEnabled() {
		t.Fatal("expected true when ENABLE_AUTO_CONSOLIDATE=true")
	}
}
