package engine

import (
	"context"
	"net/http"
)

// Fetcher 执行真实的网络请求。实现只在传输层失败时返回 error。
type Fetcher interface {
	Fetch(ctx context.Context, req *http.Request) (*http.Response, error)
}

// FetcherFunc 允许普通函数充当 Fetcher。
type FetcherFunc func(ctx context.Context, req *http.Request) (*http.Response, error)

// Fetch calls f(ctx, req).
func (f FetcherFunc) Fetch(ctx context.Context, req *http.Request) (*http.Response, error) {
	return f(ctx, req)
}

// RoundTripperFetcher 直接使用 RoundTripper 发出请求，不跟随重定向。
// Transport 宿主必须以底层 RoundTripper 构造引擎的 Fetcher，避免请求回环。
func RoundTripperFetcher(rt http.RoundTripper) Fetcher {
	if rt == nil {
		rt = http.DefaultTransport
	}
	return FetcherFunc(func(ctx context.Context, req *http.Request) (*http.Response, error) {
		return rt.RoundTrip(req.WithContext(ctx))
	})
}
