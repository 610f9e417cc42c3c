package engine

import (
	"net/http"
	"net/url"
	"strings"

	"github.com/any-hub/offline-hub/internal/cache"
)

// Strategy 是请求分类结果。
type Strategy string

const (
	StrategyBypass                 Strategy = "bypass"
	StrategyAssetCacheFirst        Strategy = "asset-cache-first"
	StrategyNavigationNetworkFirst Strategy = "navigation-network-first"
	StrategyNetworkFirst           Strategy = "network-first"
)

// Classify 按固定优先级决定请求的处理策略：
//
//  1. 非 GET → bypass
//  2. 跨源 → bypass
//  3. 路径以静态资源前缀开头 → asset-cache-first
//  4. 页面导航或 Accept 含 text/html → navigation-network-first
//  5. 其余 → network-first
func (e *Engine) Classify(req *http.Request, navigate bool) Strategy {
	if req == nil || req.URL == nil {
		return StrategyBypass
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return StrategyBypass
	}
	if !e.sameOrigin(req.URL) {
		return StrategyBypass
	}
	if strings.HasPrefix(req.URL.Path, e.staticPrefix) {
		return StrategyAssetCacheFirst
	}
	if navigate || acceptsHTML(req.Header) {
		return StrategyNavigationNetworkFirst
	}
	return StrategyNetworkFirst
}

// sameOrigin 比较 scheme 与 host（忽略默认端口）；相对 URL 视为同源。
func (e *Engine) sameOrigin(u *url.URL) bool {
	if u.Host == "" {
		return u.Scheme == ""
	}
	return strings.EqualFold(u.Scheme, e.origin.Scheme) &&
		cache.CanonicalHost(u.Scheme, u.Host) == cache.CanonicalHost(e.origin.Scheme, e.origin.Host)
}

func acceptsHTML(header http.Header) bool {
	for _, value := range header.Values("Accept") {
		if strings.Contains(value, "text/html") {
			return true
		}
	}
	return false
}

// absoluteURL 把相对请求 URL 解析到引擎源下。
func (e *Engine) absoluteURL(u *url.URL) *url.URL {
	if u.Host != "" {
		return u
	}
	return e.origin.ResolveReference(u)
}
