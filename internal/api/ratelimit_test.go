package api

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
)

func TestRateLimiterAllowsUpToBurst(t *testing.T) {
	rl := NewRateLimiter(60, 3)
	for i := 0; i < 3; i++ {
		if ok, _ := rl.allow("1.2.3.4"); !ok {
			t.Fatalf("request %d should be allowed within burst", i)
		}
	}
	if ok, _ := rl.allow("1.2.3.4"); ok {
		t.Fatal("4th request should exceed the burst of 3")
	}
}

func TestRateLimiterTracksIPsIndependently(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	if ok, _ := rl.allow("1.1.1.1"); !ok {
		t.Fatal("first IP's first request should be allowed")
	}
	if ok, _ := rl.allow("2.2.2.2"); !ok {
		t.Fatal("a different IP must have its own bucket")
	}
	if ok, _ := rl.allow("1.1.1.1"); ok {
		t.Fatal("first IP should now be exhausted")
	}
}

func TestRateLimiterMiddlewareReturns429(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	r := newTestEngine(rl.Middleware())

	req := httptest.NewRequest(http.MethodGet, "/x", nil)
	w1 := httptest.NewRecorder()
	r.ServeHTTP(w1, req)
	if w1.Code != http.StatusOK {
		t.Fatalf("first request status = %d, want 200", w1.Code)
	}

	w2 := httptest.NewRecorder()
	r.ServeHTTP(w2, req)
	if w2.Code != http.StatusTooManyRequests {
		t.Fatalf("second request status = %d, want 429", w2.Code)
	}
	if w2.Header().Get("Retry-After") == "" {
		t.Fatal("expected a Retry-After header on a throttled response")
	}
}

func TestWalletPrincipalScopesByAddressParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/x", nil)
	c.Params = gin.Params{{Key: "address", Value: "xec1qtest"}}

	if got := walletPrincipal(c); got == c.ClientIP() {
		t.Fatalf("expected the address param to scope the principal key, got bare IP %q", got)
	}
}

func TestWalletPrincipalFallsBackToIPWithoutAddressParam(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/send", nil)

	if got, want := walletPrincipal(c), c.ClientIP(); got != want {
		t.Fatalf("walletPrincipal = %q, want bare IP %q for a route with no address param", got, want)
	}
}

func TestRateLimiterScopesDifferentAddressesOnSameIPIndependently(t *testing.T) {
	rl := NewRateLimiter(60, 1)
	if ok, _ := rl.allow("1.2.3.4|xec1qalice"); !ok {
		t.Fatal("first address's first request should be allowed")
	}
	if ok, _ := rl.allow("1.2.3.4|xec1qbob"); !ok {
		t.Fatal("a different address behind the same IP must have its own bucket")
	}
	if ok, _ := rl.allow("1.2.3.4|xec1qalice"); ok {
		t.Fatal("first address should now be exhausted")
	}
}
