package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/noah-isme/toko-btcpay/internal/common"
)

func okHandler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
}

func TestHandlerMiddlewareEnforcesLimit(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	fixed, err := NewFixedWindow(client, "1-M", "ratelimit:")
	if err != nil {
		t.Fatalf("new limiter: %v", err)
	}
	handler := Handler{Limiter: fixed, Key: func(*http.Request) string { return "static" }}
	counted := handler.Middleware(okHandler())

	req := httptest.NewRequest(http.MethodPost, "/payments/btcpay", nil)
	rr1 := httptest.NewRecorder()
	counted.ServeHTTP(rr1, req.Clone(req.Context()))
	if rr1.Code != http.StatusOK {
		t.Fatalf("expected first request allowed, got %d", rr1.Code)
	}

	rr2 := httptest.NewRecorder()
	counted.ServeHTTP(rr2, req.Clone(req.Context()))
	if rr2.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429 on second request, got %d", rr2.Code)
	}
	if rr2.Header().Get("X-RateLimit-Limit") != "1" {
		t.Fatalf("unexpected limit header: %q", rr2.Header().Get("X-RateLimit-Limit"))
	}
	if rr2.Header().Get("Retry-After") == "" {
		t.Fatal("expected Retry-After header")
	}
}

type failingLimiter struct{}

func (failingLimiter) Allow(context.Context, string) (Decision, error) {
	return Decision{}, errors.New("redis down")
}

func TestHandlerMiddlewareOnError(t *testing.T) {
	called := false
	handler := Handler{
		Limiter: failingLimiter{},
		Key:     func(*http.Request) string { return "err" },
		OnError: func(error) { called = true },
	}

	rr := httptest.NewRecorder()
	handler.Middleware(okHandler()).ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))
	if rr.Code != http.StatusOK {
		t.Fatalf("expected handler to proceed on error, got %d", rr.Code)
	}
	if !called {
		t.Fatal("expected OnError callback to be invoked")
	}
}

func TestNewFixedWindowRejectsBadRate(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	if _, err := NewFixedWindow(client, "lots", "x:"); err == nil {
		t.Fatal("expected rate parse error")
	}
}

func TestKeyFuncs(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	req.RemoteAddr = "203.0.113.7:4444"

	if got := KeyByIP("wh:")(req); got != "wh:203.0.113.7" {
		t.Fatalf("KeyByIP = %q", got)
	}
	if got := KeyBySession("intent:")(req); got != "intent:ip:203.0.113.7" {
		t.Fatalf("anonymous KeyBySession = %q", got)
	}

	ctx := common.WithScope(req.Context(), common.Scope{API: common.APIShop, ChannelID: "ch-1"})
	ctx = common.WithSessionID(ctx, "sess-1")
	if got := KeyBySession("intent:")(req.WithContext(ctx)); got != "intent:ch-1:sess-1" {
		t.Fatalf("KeyBySession = %q", got)
	}
}

func TestLimiterAllowSlidingWindow(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer func() { _ = client.Close() }()

	window := 2 * time.Second
	limiter := SlidingWindow{Client: client, Prefix: "test:", Window: window, Max: 2}
	ctx := context.Background()

	for i := int64(0); i < limiter.Max; i++ {
		d, err := limiter.Allow(ctx, "key")
		if err != nil {
			t.Fatalf("allow: %v", err)
		}
		if !d.Allowed {
			t.Fatalf("expected request %d to be allowed", i)
		}
		if d.Remaining != limiter.Max-(i+1) {
			t.Fatalf("unexpected remaining: %d", d.Remaining)
		}
	}

	d, err := limiter.Allow(ctx, "key")
	if err != nil {
		t.Fatalf("allow: %v", err)
	}
	if d.Allowed || d.Remaining != 0 {
		t.Fatalf("expected third request to be rejected, got %+v", d)
	}

	mr.FastForward(window)

	d, err = limiter.Allow(ctx, "key")
	if err != nil {
		t.Fatalf("allow after window: %v", err)
	}
	if !d.Allowed {
		t.Fatal("expected request after window to be allowed")
	}
}

func TestNewSlidingWindowParsesRate(t *testing.T) {
	l, err := NewSlidingWindow(nil, "600-M", "wh:")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if l.Window != time.Minute || l.Max != 600 {
		t.Fatalf("unexpected limiter: %+v", l)
	}
	d, err := l.Allow(context.Background(), "k")
	if err != nil || !d.Allowed {
		t.Fatalf("nil client should allow, got %+v %v", d, err)
	}
}
