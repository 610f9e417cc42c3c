package engine

import (
	"context"
	"errors"
	"net/http"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/logging"
)

// Fetch 处理一次拦截请求。bypass 请求不调用 RespondWith，由宿主透传；
// 其余请求登记响应任务，网络尝试总是先于任何回退查找。
func (e *Engine) Fetch(ev *FetchEvent) {
	req := ev.Request
	strategy := e.Classify(req, ev.Navigate)
	if strategy == StrategyBypass {
		fetchTotal.WithLabelValues(string(strategy), string(SourcePassthrough)).Inc()
		return
	}

	key, err := cache.KeyFor(&http.Request{Method: http.MethodGet, URL: e.absoluteURL(req.URL)})
	if err != nil {
		// 已确认是 GET，KeyFor 只会因 URL 缺失失败
		fetchTotal.WithLabelValues(string(StrategyBypass), string(SourcePassthrough)).Inc()
		return
	}

	ev.RespondWith(func(ctx context.Context) (*Response, error) {
		var (
			resp *Response
			err  error
		)
		switch strategy {
		case StrategyAssetCacheFirst:
			resp, err = e.cacheFirst(ctx, req, key)
		case StrategyNavigationNetworkFirst:
			resp, err = e.networkFirst(ctx, req, key, strategy, true)
		default:
			resp, err = e.networkFirst(ctx, req, key, strategy, false)
		}
		e.logFetch(strategy, key, resp, err)
		return resp, err
	})
}

// cacheFirst：命中直接返回，不发网络请求；未命中时回源，网络失败直接上抛。
func (e *Engine) cacheFirst(ctx context.Context, req *http.Request, key cache.Key) (*Response, error) {
	if cached, ok := e.match(ctx, key); ok {
		return cached, nil
	}
	resp, err := e.fetchNetwork(ctx, req, key, StrategyAssetCacheFirst)
	if err != nil {
		return nil, err
	}
	return e.storeIfOK(ctx, key, resp, StrategyAssetCacheFirst)
}

// networkFirst：先回源；网络失败后查缓存，导航请求再依次尝试离线页与合成页。
// HTTP 错误状态码原样返回，不触发回退。
func (e *Engine) networkFirst(ctx context.Context, req *http.Request, key cache.Key, strategy Strategy, navigation bool) (*Response, error) {
	resp, err := e.fetchNetwork(ctx, req, key, strategy)
	if err == nil {
		resp, err = e.storeIfOK(ctx, key, resp, strategy)
		if err == nil {
			return resp, nil
		}
	}

	if cached, ok := e.match(ctx, key); ok {
		return cached, nil
	}
	if !navigation {
		return nil, err
	}
	return e.offlineResponse(ctx), nil
}

// fetchNetwork 发起唯一一次网络尝试，传输层失败统一包装为 NetworkError。
func (e *Engine) fetchNetwork(ctx context.Context, req *http.Request, key cache.Key, strategy Strategy) (*Response, error) {
	out := req.Clone(ctx)
	out.URL = e.absoluteURL(req.URL)
	resp, err := e.fetcher.Fetch(ctx, out)
	if err != nil {
		networkFailuresTotal.WithLabelValues(string(strategy)).Inc()
		return nil, &NetworkError{URL: key.URL, Err: err}
	}
	return fromHTTP(resp, key.URL), nil
}

// storeIfOK 对 2xx 响应克隆一次并在后台写入当前缓存代，返回原响应。
// 克隆失败意味着响应体已损坏，按网络失败处理。
func (e *Engine) storeIfOK(ctx context.Context, key cache.Key, resp *Response, strategy Strategy) (*Response, error) {
	if !resp.OK() {
		return resp, nil
	}
	clone, err := resp.Clone()
	if err != nil {
		networkFailuresTotal.WithLabelValues(string(strategy)).Inc()
		return nil, &NetworkError{URL: key.URL, Err: err}
	}
	e.putAsync(ctx, key, clone, strategy)
	return resp, nil
}

// match 只在当前缓存代中查找；读取错误记日志后按未命中处理。
func (e *Engine) match(ctx context.Context, key cache.Key) (*Response, bool) {
	entry, err := e.lookup(ctx, key)
	if err != nil {
		if !errors.Is(err, cache.ErrNotFound) {
			cacheLookupsTotal.WithLabelValues("error").Inc()
			cacheErrorsTotal.WithLabelValues("match").Inc()
			e.logger.WithError(err).WithFields(logrus.Fields{
				"action":     "cache_match",
				"generation": e.cacheName,
				"url":        key.URL,
			}).Warn("cache_match_failed")
			return nil, false
		}
		cacheLookupsTotal.WithLabelValues("miss").Inc()
		return nil, false
	}
	cacheLookupsTotal.WithLabelValues("hit").Inc()
	return fromEntry(entry, SourceCache), true
}

func (e *Engine) lookup(ctx context.Context, key cache.Key) (*cache.Entry, error) {
	gen, err := e.generation(ctx)
	if err != nil {
		return nil, err
	}
	return gen.Match(ctx, key)
}

func (e *Engine) logFetch(strategy Strategy, key cache.Key, resp *Response, err error) {
	source := ""
	if resp != nil {
		source = string(resp.Source)
	}
	fields := logging.RequestFields(e.cacheName, string(strategy), source, key.Method, key.URL)
	fields["action"] = "fetch"
	if err != nil {
		fetchTotal.WithLabelValues(string(strategy), "error").Inc()
		e.logger.WithError(err).WithFields(fields).Warn("fetch_failed")
		return
	}
	fetchTotal.WithLabelValues(string(strategy), source).Inc()
	fields["status"] = resp.StatusCode
	e.logger.WithFields(fields).Debug("fetch_complete")
}
