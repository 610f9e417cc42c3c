package engine

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strconv"

	"github.com/any-hub/offline-hub/internal/cache"
)

// DefaultOfflineHTML 是离线页未被缓存时合成的页面。
const DefaultOfflineHTML = `<html><body style="font-family:Inter,sans-serif;display:flex;align-items:center;justify-content:center;height:100vh;background:#f5efe4;color:#2c1810;"><div style="text-align:center;"><h1 style="color:#4a6741;">ETSAI</h1><p>You're offline. Check your connection and try again.</p></div></body></html>`

// OfflineContentType 是合成离线页的 Content-Type。
const OfflineContentType = "text/html; charset=utf-8"

// offlineResponse 是导航请求的最后一道回退：先完整查询已缓存的离线页，缺失时合成页面。
// 合成页面从不写入缓存。
func (e *Engine) offlineResponse(ctx context.Context) *Response {
	key := cache.KeyForURL(e.offlineURL)
	if cached, ok := e.match(ctx, key); ok {
		cached.Source = SourceOffline
		return cached
	}
	return SyntheticOffline(e.offlineHTML, e.offlineURL)
}

// SyntheticOffline 生成 503 离线页。
func SyntheticOffline(html, url string) *Response {
	body := []byte(html)
	header := http.Header{}
	header.Set("Content-Type", OfflineContentType)
	header.Set("Content-Length", strconv.Itoa(len(body)))
	header.Set("Cache-Control", "no-store")
	return &Response{
		StatusCode: http.StatusServiceUnavailable,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(body)),
		URL:        url,
		Source:     SourceOffline,
	}
}
