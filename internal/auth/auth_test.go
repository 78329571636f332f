package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

type fakeVerifier map[string]*Claims

func (f fakeVerifier) Verify(_ context.Context, token string) (*Claims, error) {
	if c, ok := f[token]; ok {
		return c, nil
	}
	return nil, errors.New("bad token")
}

func TestMiddleware(t *testing.T) {
	verifier := fakeVerifier{
		"good":    {Subject: "u1", Roles: []string{"operator"}},
		"expired": {Subject: "u2", Expiry: time.Now().Add(-time.Minute)},
		"viewer":  {Subject: "u3", Roles: []string{"viewer"}},
	}
	mw := NewMiddleware(verifier, &MiddlewareConfig{Enabled: true, RequiredRoles: []string{"operator", "admin"}})

	var seen *Claims
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = GetClaims(r.Context())
		w.WriteHeader(http.StatusNoContent)
	}))

	tests := []struct {
		name   string
		path   string
		header string
		want   int
	}{
		{"public path", "/health", "", http.StatusNoContent},
		{"missing header", "/api/v1/agents", "", http.StatusUnauthorized},
		{"wrong scheme", "/api/v1/agents", "Basic abc", http.StatusUnauthorized},
		{"bad token", "/api/v1/agents", "Bearer nope", http.StatusUnauthorized},
		{"expired", "/api/v1/agents", "Bearer expired", http.StatusUnauthorized},
		{"missing role", "/api/v1/agents", "Bearer viewer", http.StatusForbidden},
		{"ok", "/api/v1/agents", "Bearer good", http.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, tt.path, nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)
			if rec.Code != tt.want {
				t.Errorf("status = %d, want %d", rec.Code, tt.want)
			}
		})
	}

	if seen == nil || seen.Subject != "u1" {
		t.Errorf("claims in context = %+v, want subject u1", seen)
	}
}

func TestMiddlewareDisabled(t *testing.T) {
	mw := NewMiddleware(nil, &MiddlewareConfig{Enabled: true})
	h := mw.Handler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/v1/agents", nil))
	if rec.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rec.Code)
	}
}

func TestPerIPRateLimiter(t *testing.T) {
	rl := NewPerIPRateLimiter(1, 2)
	now := time.Unix(1000, 0)
	rl.now = func() time.Time { return now }

	if !rl.Allow("a") || !rl.Allow("a") {
		t.Fatal("burst should allow two requests")
	}
	if rl.Allow("a") {
		t.Fatal("third request should be limited")
	}
	if !rl.Allow("b") {
		t.Fatal("other IPs have their own bucket")
	}

	now = now.Add(2 * time.Hour)
	rl.Allow("b")
	rl.mu.Lock()
	_, kept := rl.limiters["a"]
	rl.mu.Unlock()
	if kept {
		t.Error("idle limiter not dropped")
	}
}

func TestClientIP(t *testing.T) {
	tests := []struct {
		name    string
		headers map[string]string
		remote  string
		want    string
	}{
		{"forwarded", map[string]string{"X-Forwarded-For": "1.1.1.1, 2.2.2.2"}, "3.3.3.3:1", "1.1.1.1"},
		{"real ip", map[string]string{"X-Real-IP": "4.4.4.4"}, "3.3.3.3:1", "4.4.4.4"},
		{"remote", nil, "3.3.3.3:1234", "3.3.3.3"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remote
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			if got := clientIP(req); got != tt.want {
				t.Errorf("clientIP = %s, want %s", got, tt.want)
			}
		})
	}
}
