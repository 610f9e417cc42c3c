package proxy

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/engine"
	"github.com/any-hub/offline-hub/internal/logging"
	"github.com/any-hub/offline-hub/internal/network"
	"github.com/any-hub/offline-hub/internal/server"
)

// SourceHeader 标记响应来源：network / cache / offline / passthrough。
const SourceHeader = "X-Offline-Hub-Source"

// Handler 把 Fiber 请求包装为 FetchEvent 交给引擎；引擎未接管时直接透传到上游。
type Handler struct {
	engine   *engine.Engine
	upstream engine.Fetcher
	logger   *logrus.Logger
}

// NewHandler constructs a proxy handler around the engine and the upstream fetcher used for pass-through.
func NewHandler(eng *engine.Engine, upstream engine.Fetcher, logger *logrus.Logger) *Handler {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Handler{
		engine:   eng,
		upstream: upstream,
		logger:   logger,
	}
}

// Handle 实现 server.ProxyHandler。
func (h *Handler) Handle(c fiber.Ctx) error {
	started := time.Now()
	requestID := server.RequestID(c)

	ctx := c.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	req, err := h.buildRequest(ctx, c)
	if err != nil {
		h.logResult(c.Method(), requestPath(c), "", "", requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadRequest, "invalid_request")
	}

	ev := engine.NewFetchEvent(ctx, req)
	strategy := h.engine.Classify(req, ev.Navigate)
	resp, err := h.respond(ctx, ev)
	if err != nil {
		h.logResult(req.Method, req.URL.String(), string(strategy), "", requestID, 0, started, err)
		return h.writeError(c, fiber.StatusBadGateway, "upstream_failed")
	}
	defer resp.Close()

	h.logResult(req.Method, req.URL.String(), string(strategy), string(resp.Source), requestID, resp.StatusCode, started, nil)
	return writeResponse(c, resp)
}

// respond 在引擎接管后派发 FetchEvent；未接管或引擎放行的请求走上游透传。
func (h *Handler) respond(ctx context.Context, ev *engine.FetchEvent) (*engine.Response, error) {
	if h.engine.Claimed() {
		h.engine.Fetch(ev)
		if ev.Handled() {
			return ev.Response()
		}
	}
	return h.passthrough(ctx, ev.Request)
}

func (h *Handler) passthrough(ctx context.Context, req *http.Request) (*engine.Response, error) {
	resp, err := h.upstream.Fetch(ctx, req)
	if err != nil {
		return nil, &engine.NetworkError{URL: req.URL.String(), Err: err}
	}
	body := resp.Body
	if body == nil {
		body = http.NoBody
	}
	return &engine.Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Body:       body,
		URL:        req.URL.String(),
		Source:     engine.SourcePassthrough,
	}, nil
}

// buildRequest 以引擎源为前缀还原浏览器看到的绝对 URL，保留方法、头部与请求体。
func (h *Handler) buildRequest(ctx context.Context, c fiber.Ctx) (*http.Request, error) {
	target := h.engine.Origin() + requestPath(c)
	if query := c.Request().URI().QueryString(); len(query) > 0 {
		target += "?" + string(query)
	}

	body := append([]byte(nil), c.Body()...)
	req, err := http.NewRequestWithContext(ctx, c.Method(), target, bytesReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header = fiberHeadersAsHTTP(c)
	req.Header.Del("Content-Length")
	if host := string(c.Request().Host()); host != "" {
		req.Host = host
	}
	return req, nil
}

func writeResponse(c fiber.Ctx, resp *engine.Response) error {
	copyResponseHeaders(c, resp.Header)
	c.Set(SourceHeader, string(resp.Source))
	c.Status(resp.StatusCode)

	if c.Method() == http.MethodHead || resp.Body == nil {
		return nil
	}
	if _, err := io.Copy(c.Response().BodyWriter(), resp.Body); err != nil {
		return fiber.NewError(fiber.StatusBadGateway, fmt.Sprintf("stream response failed: %v", err))
	}
	return nil
}

func (h *Handler) writeError(c fiber.Ctx, status int, code string) error {
	return c.Status(status).JSON(fiber.Map{"error": code})
}

func (h *Handler) logResult(
	method string,
	url string,
	strategy string,
	source string,
	requestID string,
	status int,
	started time.Time,
	err error,
) {
	fields := logging.RequestFields(h.engine.CacheName(), strategy, source, method, url)
	fields["action"] = "proxy"
	fields["status"] = status
	fields["claimed"] = h.engine.Claimed()
	fields["elapsed_ms"] = time.Since(started).Milliseconds()
	if requestID != "" {
		fields["request_id"] = requestID
	}
	if err != nil {
		fields["error"] = err.Error()
		var netErr *engine.NetworkError
		if errors.As(err, &netErr) {
			fields["upstream_error"] = netErr.Err.Error()
		}
		h.logger.WithFields(fields).Error("proxy_failed")
		return
	}
	h.logger.WithFields(fields).Info("proxy_complete")
}

func requestPath(c fiber.Ctx) string {
	if c == nil {
		return "/"
	}
	uri := c.Request().URI()
	if uri == nil {
		return "/"
	}
	pathVal := string(uri.PathOriginal())
	if idx := strings.IndexByte(pathVal, '?'); idx >= 0 {
		pathVal = pathVal[:idx]
	}
	if pathVal == "" || pathVal[0] != '/' {
		return "/" + pathVal
	}
	return pathVal
}

func bytesReader(b []byte) io.Reader {
	if len(b) == 0 {
		return http.NoBody
	}
	return bytes.NewReader(b)
}

func fiberHeadersAsHTTP(c fiber.Ctx) http.Header {
	header := http.Header{}
	c.Request().Header.VisitAll(func(key, value []byte) {
		header.Add(string(key), string(value))
	})
	return header
}

// copyResponseHeaders 保留多值头（如 Set-Cookie），Content-Length 交给 fasthttp 重新计算。
func copyResponseHeaders(c fiber.Ctx, headers http.Header) {
	for key, values := range headers {
		if network.IsHopByHopHeader(key) || strings.EqualFold(key, "Content-Length") {
			continue
		}
		for i, value := range values {
			if i == 0 {
				c.Set(key, value)
				continue
			}
			c.Response().Header.Add(key, value)
		}
	}
}
