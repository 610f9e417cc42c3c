package server

import (
	"bytes"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"
)

func TestRouterForwardsRequestsToProxy(t *testing.T) {
	var seen string
	app := newTestApp(t, ProxyHandlerFunc(func(c fiber.Ctx) error {
		seen = string(c.Request().URI().Path())
		if RequestID(c) == "" {
			t.Errorf("request id missing in handler")
		}
		return c.SendStatus(fiber.StatusNoContent)
	}))

	resp, err := app.Test(httptest.NewRequest("GET", "http://app.local/dashboard?tab=1", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusNoContent {
		t.Fatalf("expected 204 status, got %d", resp.StatusCode)
	}
	if seen != "/dashboard" {
		t.Fatalf("proxy saw %q", seen)
	}
	if resp.Header.Get("X-Request-ID") == "" {
		t.Fatalf("expected X-Request-ID header to be set")
	}
}

func TestRouterLeavesDiagnosticsToLaterRoutes(t *testing.T) {
	proxied := false
	app := newTestApp(t, ProxyHandlerFunc(func(c fiber.Ctx) error {
		proxied = true
		return c.SendStatus(fiber.StatusTeapot)
	}))
	app.Get("/-/ping", func(c fiber.Ctx) error {
		return c.SendString("pong")
	})

	resp, err := app.Test(httptest.NewRequest("GET", "http://app.local/-/ping", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != fiber.StatusOK || !bytes.Equal(body, []byte("pong")) {
		t.Fatalf("unexpected diagnostics response %d %s", resp.StatusCode, body)
	}
	if proxied {
		t.Fatalf("diagnostics request must not reach proxy")
	}
}

func TestRouterRecoversFromPanics(t *testing.T) {
	app := newTestApp(t, ProxyHandlerFunc(func(fiber.Ctx) error {
		panic("boom")
	}))

	resp, err := app.Test(httptest.NewRequest("GET", "http://app.local/", nil))
	if err != nil {
		t.Fatalf("app.Test failed: %v", err)
	}
	if resp.StatusCode != fiber.StatusInternalServerError {
		t.Fatalf("expected 500 after panic, got %d", resp.StatusCode)
	}
}

func TestNewAppValidatesOptions(t *testing.T) {
	logger := logrus.New()
	noop := ProxyHandlerFunc(func(fiber.Ctx) error { return nil })

	cases := []struct {
		name string
		opts AppOptions
	}{
		{"missing logger", AppOptions{Proxy: noop, ListenPort: 5000}},
		{"missing proxy", AppOptions{Logger: logger, ListenPort: 5000}},
		{"invalid port", AppOptions{Logger: logger, Proxy: noop}},
	}
	for _, tc := range cases {
		if _, err := NewApp(tc.opts); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func newTestApp(t *testing.T, handler ProxyHandler) *fiber.App {
	t.Helper()

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	app, err := NewApp(AppOptions{
		Logger:     logger,
		Proxy:      handler,
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("failed to create app: %v", err)
	}
	return app
}
