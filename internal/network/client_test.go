package network

import (
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

func TestNewUpstreamClientUsesTimeout(t *testing.T) {
	client := NewUpstreamClient(45 * time.Second)
	if client.Timeout != 45*time.Second {
		t.Fatalf("expected timeout 45s, got %s", client.Timeout)
	}
	if NewUpstreamClient(0).Timeout != 30*time.Second {
		t.Fatalf("expected default timeout")
	}
}

func TestCopyHeadersSkipsHopByHop(t *testing.T) {
	src := http.Header{}
	src.Add("Connection", "keep-alive")
	src.Add("Keep-Alive", "timeout=5")
	src.Add("X-Test-Header", "1")
	src.Add("x-test-header", "2")

	dst := http.Header{}
	CopyHeaders(dst, src)

	if _, exists := dst["Connection"]; exists {
		t.Fatalf("connection header should not be copied")
	}
	if _, exists := dst["Keep-Alive"]; exists {
		t.Fatalf("keep-alive header should not be copied")
	}

	got := dst.Values("X-Test-Header")
	if len(got) != 2 {
		t.Fatalf("expected 2 values, got %v", got)
	}
}

func TestClientFetchRewritesToUpstream(t *testing.T) {
	var (
		gotPath    string
		gotQuery   string
		gotHost    string
		gotFwdHost string
		gotConn    string
		gotCustom  string
	)
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotHost = r.Host
		gotFwdHost = r.Header.Get("X-Forwarded-Host")
		gotConn = r.Header.Get("Proxy-Connection")
		gotCustom = r.Header.Get("X-Custom")
		w.Header().Set("Content-Type", "text/plain")
		_, _ = io.WriteString(w, "hello")
	}))
	defer upstream.Close()

	client, err := NewClient(upstream.URL+"/", nil, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	req := httptest.NewRequest(http.MethodGet, "https://etsai.example/static/app.css?v=2", nil)
	req.Header.Set("X-Custom", "1")
	req.Header.Set("Proxy-Connection", "keep-alive")

	resp, err := client.Fetch(context.Background(), req)
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)

	if string(body) != "hello" {
		t.Fatalf("unexpected body %q", body)
	}
	if gotPath != "/static/app.css" || gotQuery != "v=2" {
		t.Fatalf("unexpected upstream target %s?%s", gotPath, gotQuery)
	}
	if gotHost != client.Upstream().Host {
		t.Fatalf("expected upstream host, got %s", gotHost)
	}
	if gotFwdHost != "etsai.example" {
		t.Fatalf("expected forwarded host, got %q", gotFwdHost)
	}
	if gotConn != "" {
		t.Fatalf("hop-by-hop header leaked: %q", gotConn)
	}
	if gotCustom != "1" {
		t.Fatalf("custom header not forwarded")
	}
}

func TestClientFetchDoesNotFollowRedirects(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/login", http.StatusFound)
	}))
	defer upstream.Close()

	client, err := NewClient(upstream.URL, nil, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/dashboard", nil))
	if err != nil {
		t.Fatalf("fetch: %v", err)
	}
	resp.Body.Close()
	if resp.StatusCode != http.StatusFound {
		t.Fatalf("expected 302, got %d", resp.StatusCode)
	}
	if !strings.HasSuffix(resp.Header.Get("Location"), "/login") {
		t.Fatalf("unexpected location %q", resp.Header.Get("Location"))
	}
}

func TestClientFetchReturnsTransportErrors(t *testing.T) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	client, err := NewClient("http://"+addr, nil, time.Second)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	resp, err := client.Fetch(context.Background(), httptest.NewRequest(http.MethodGet, "/", nil))
	if err == nil {
		resp.Body.Close()
		t.Fatalf("expected dial error")
	}
}

func TestClientFetchHonoursContext(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	}))
	defer upstream.Close()

	client, _ := NewClient(upstream.URL, nil, 5*time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err := client.Fetch(ctx, httptest.NewRequest(http.MethodGet, "/slow", nil))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected deadline exceeded, got %v", err)
	}
}

func TestNewClientRejectsInvalidUpstream(t *testing.T) {
	if _, err := NewClient("not a url", nil, time.Second); err == nil {
		t.Fatalf("expected error")
	}
}
