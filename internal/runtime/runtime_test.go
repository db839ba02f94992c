package runtime

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/mohammad-safakhou/thesisgrey/config"
)

func TestSignAndParseJWT(t *testing.T) {
	secret := []byte("secret")
	tok, err := SignJWT("user-1", secret, time.Hour, ScopeAdmin)
	if err != nil {
		t.Fatalf("SignJWT: %v", err)
	}
	sub, scopes, err := ParseJWT(tok, secret)
	if err != nil {
		t.Fatalf("ParseJWT: %v", err)
	}
	if sub != "user-1" || len(scopes) != 1 || scopes[0] != ScopeAdmin {
		t.Fatalf("unexpected claims sub=%q scopes=%v", sub, scopes)
	}
	if _, _, err := ParseJWT(tok, []byte("other")); err == nil {
		t.Fatalf("expected signature failure")
	}
	expired, _ := SignJWT("user-1", secret, -time.Minute)
	if _, _, err := ParseJWT(expired, secret); err == nil {
		t.Fatalf("expected expired token to fail")
	}
}

func TestEchoAuthMiddleware(t *testing.T) {
	secret := []byte("secret")
	e := echo.New()
	mw := EchoAuthMiddleware(secret)
	handler := mw(func(c echo.Context) error {
		if c.Get("user_id") != "user-1" {
			t.Fatalf("user_id not set: %v", c.Get("user_id"))
		}
		if !HasScope(c, ScopeAdmin) {
			t.Fatalf("expected admin scope")
		}
		if sub, ok := SubjectFromContext(c.Request().Context()); !ok || sub != "user-1" {
			t.Fatalf("subject missing from request context")
		}
		return c.NoContent(http.StatusOK)
	})

	tok, _ := SignJWT("user-1", secret, time.Hour, ScopeAdmin)
	req := httptest.NewRequest(http.MethodGet, "/api/me", nil)
	req.AddCookie(&http.Cookie{Name: AuthCookie, Value: tok})
	rec := httptest.NewRecorder()
	if err := handler(e.NewContext(req, rec)); err != nil {
		t.Fatalf("handler: %v", err)
	}

	req = httptest.NewRequest(http.MethodGet, "/api/me", nil)
	rec = httptest.NewRecorder()
	err := handler(e.NewContext(req, rec))
	httpErr, ok := err.(*echo.HTTPError)
	if !ok || httpErr.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %#v", err)
	}
}

func TestRequireScopes(t *testing.T) {
	e := echo.New()
	h := RequireScopes(ScopeAdmin)(func(c echo.Context) error { return c.NoContent(http.StatusOK) })

	ctx := e.NewContext(httptest.NewRequest(http.MethodPut, "/api/config/x", nil), httptest.NewRecorder())
	ctx.Set("scopes", []string{"reader"})
	err := h(ctx)
	if httpErr, ok := err.(*echo.HTTPError); !ok || httpErr.Code != http.StatusForbidden {
		t.Fatalf("expected 403, got %#v", err)
	}

	ctx = e.NewContext(httptest.NewRequest(http.MethodPut, "/api/config/x", nil), httptest.NewRecorder())
	ctx.Set("scopes", []string{ScopeAdmin})
	if err := h(ctx); err != nil {
		t.Fatalf("expected pass, got %v", err)
	}
}

func TestNormaliseScopes(t *testing.T) {
	got := normaliseScopes("admin  reader ")
	if len(got) != 2 || got[1] != "reader" {
		t.Fatalf("unexpected scopes %v", got)
	}
	got = normaliseScopes([]interface{}{"a", 3, " "})
	if len(got) != 1 || got[0] != "a" {
		t.Fatalf("unexpected scopes %v", got)
	}
}

func TestBuildPostgresDSN(t *testing.T) {
	cfg := &config.Config{}
	cfg.Storage.Postgres = config.PostgresConfig{Host: "db", User: "u", Password: "p@ss", DBName: "thesis"}
	dsn, err := BuildPostgresDSN(cfg)
	if err != nil {
		t.Fatalf("BuildPostgresDSN: %v", err)
	}
	if dsn != "postgres://u:p%40ss@db:5432/thesis?sslmode=disable" {
		t.Fatalf("unexpected dsn %q", dsn)
	}

	cfg.Storage.Postgres = config.PostgresConfig{URL: "postgres://x"}
	if dsn, _ := BuildPostgresDSN(cfg); dsn != "postgres://x" {
		t.Fatalf("url should win, got %q", dsn)
	}

	cfg.Storage.Postgres = config.PostgresConfig{Host: "db"}
	if _, err := BuildPostgresDSN(cfg); err == nil {
		t.Fatalf("expected error without dbname")
	}
}

func TestLoadJWTSecret(t *testing.T) {
	if _, err := LoadJWTSecret(&config.Config{}); err == nil {
		t.Fatalf("expected error for empty secret")
	}
	cfg := &config.Config{General: config.GeneralConfig{JWTSecret: "s"}}
	if s, err := LoadJWTSecret(cfg); err != nil || string(s) != "s" {
		t.Fatalf("unexpected secret %q err=%v", s, err)
	}
}

func TestNewLogger(t *testing.T) {
	if _, err := NewLogger("debug", true); err != nil {
		t.Fatalf("NewLogger: %v", err)
	}
	if _, err := NewLogger("loud", false); err == nil {
		t.Fatalf("expected invalid level error")
	}
}

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(reg)
	m.ObserveSerpRequest("serper", "ok", 2)
	m.ObserveSerpRequest("serper", "error", 0)
	m.ObserveExport("csv")

	if got := testutil.ToFloat64(m.SerpCredits); got != 2 {
		t.Fatalf("expected 2 credits, got %v", got)
	}
	if got := testutil.ToFloat64(m.SerpRequests.WithLabelValues("serper", "ok")); got != 1 {
		t.Fatalf("expected 1 ok request, got %v", got)
	}
	expected := `
# HELP thesisgrey_exports_total Generated export files by format.
# TYPE thesisgrey_exports_total counter
thesisgrey_exports_total{format="csv"} 1
`
	if err := testutil.GatherAndCompare(reg, strings.NewReader(expected), "thesisgrey_exports_total"); err != nil {
		t.Fatalf("gather: %v", err)
	}

	var nilMetrics *Metrics
	nilMetrics.ObserveExecution(time.Second)
}
