package integration

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// appStub 模拟受保护的应用源：离线页、静态资源与普通页面，可随时切换为断网状态。
type appStub struct {
	server   *http.Server
	listener net.Listener
	URL      string

	offline atomic.Bool

	mu       sync.Mutex
	requests []RecordedRequest
}

// RecordedRequest 捕获每次请求的方法/路径/Host，便于断言代理行为。
type RecordedRequest struct {
	Method string
	Path   string
	Host   string
}

func newAppStub(t *testing.T) *appStub {
	t.Helper()

	stub := &appStub{}
	mux := http.NewServeMux()
	mux.HandleFunc("/offline", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, "<html><body>You are offline</body></html>")
	})
	mux.HandleFunc("/static/manifest.json", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/manifest+json")
		_, _ = io.WriteString(w, `{"name":"ETSAI"}`)
	})
	mux.HandleFunc("/static/icons/icon.svg", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "image/svg+xml")
		_, _ = io.WriteString(w, `<svg xmlns="http://www.w3.org/2000/svg"/>`)
	})
	mux.HandleFunc("/static/", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/missing.png") {
			http.NotFound(w, r)
			return
		}
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = io.WriteString(w, "asset:"+r.URL.Path)
	})
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = io.WriteString(w, "<html><body>page "+r.URL.Path+"</body></html>")
	})

	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if stub.offline.Load() {
			// 断开连接，让客户端得到传输层错误而不是 HTTP 状态码
			if hj, ok := w.(http.Hijacker); ok {
				if conn, _, err := hj.Hijack(); err == nil {
					_ = conn.Close()
					return
				}
			}
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		stub.recordRequest(r)
		mux.ServeHTTP(w, r)
	})

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Skipf("unable to start upstream stub listener: %v", err)
	}
	server := &http.Server{Handler: handler}

	stub.server = server
	stub.listener = listener
	stub.URL = "http://" + listener.Addr().String()

	go func() {
		_ = server.Serve(listener)
	}()

	t.Cleanup(func() {
		_ = stub.Close(context.Background())
	})

	return stub
}

func (s *appStub) setOffline(offline bool) {
	s.offline.Store(offline)
}

func (s *appStub) recordRequest(r *http.Request) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, RecordedRequest{
		Method: r.Method,
		Path:   r.URL.Path,
		Host:   r.Host,
	})
}

// Requests 返回已记录请求的副本。
func (s *appStub) Requests() []RecordedRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]RecordedRequest(nil), s.requests...)
}

func (s *appStub) hits(method, path string) int {
	count := 0
	for _, req := range s.Requests() {
		if req.Method == method && req.Path == path {
			count++
		}
	}
	return count
}

// Close 停止上游模拟器。
func (s *appStub) Close(ctx context.Context) error {
	if s.server == nil {
		return nil
	}
	shutdownCtx := ctx
	if shutdownCtx == nil {
		var cancel context.CancelFunc
		shutdownCtx, cancel = context.WithTimeout(context.Background(), time.Second)
		defer cancel()
	}
	return s.server.Shutdown(shutdownCtx)
}
