package engine

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/any-hub/offline-hub/internal/cache"
)

// Source 标记响应的来源，宿主据此输出 X-Offline-Hub-Source。
type Source string

const (
	SourceNetwork     Source = "network"
	SourceCache       Source = "cache"
	SourceOffline     Source = "offline"
	SourcePassthrough Source = "passthrough"
)

// Response 是引擎交给宿主的响应。Body 只能被消费一次，需要副本时调用 Clone。
type Response struct {
	StatusCode int
	Header     http.Header
	Body       io.ReadCloser
	URL        string
	Source     Source
}

// OK 对应 2xx 状态。
func (r *Response) OK() bool {
	return r != nil && r.StatusCode >= 200 && r.StatusCode <= 299
}

// Clone 把 Body 完整读入内存后生成两个独立的读取器：一个留给 r，一个交给副本。
// 开销是一次完整的内存缓冲；读取失败时 r 不再可用。
func (r *Response) Clone() (*Response, error) {
	cloned := *r
	cloned.Header = r.Header.Clone()
	if r.Body == nil {
		return &cloned, nil
	}

	data, err := io.ReadAll(r.Body)
	r.Body.Close()
	if err != nil {
		r.Body = io.NopCloser(bytes.NewReader(nil))
		return nil, fmt.Errorf("clone response body: %w", err)
	}
	r.Body = io.NopCloser(bytes.NewReader(data))
	cloned.Body = io.NopCloser(bytes.NewReader(data))
	return &cloned, nil
}

// Close 释放 Body，重复调用安全。
func (r *Response) Close() error {
	if r == nil || r.Body == nil {
		return nil
	}
	return r.Body.Close()
}

// HTTPResponse 转换为 net/http 响应，供 RoundTripper 宿主返回。
func (r *Response) HTTPResponse(req *http.Request) *http.Response {
	body := r.Body
	if body == nil {
		body = http.NoBody
	}
	header := r.Header.Clone()
	if header == nil {
		header = http.Header{}
	}
	contentLength := int64(-1)
	if raw := header.Get("Content-Length"); raw != "" {
		if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
			contentLength = n
		}
	}
	return &http.Response{
		Status:        fmt.Sprintf("%d %s", r.StatusCode, http.StatusText(r.StatusCode)),
		StatusCode:    r.StatusCode,
		Proto:         "HTTP/1.1",
		ProtoMajor:    1,
		ProtoMinor:    1,
		Header:        header,
		Body:          body,
		ContentLength: contentLength,
		Request:       req,
	}
}

// fromHTTP 包装网络响应，接管其 Body。
func fromHTTP(resp *http.Response, url string) *Response {
	body := resp.Body
	if body == nil {
		body = http.NoBody
	}
	return &Response{
		StatusCode: resp.StatusCode,
		Header:     resp.Header.Clone(),
		Body:       body,
		URL:        url,
		Source:     SourceNetwork,
	}
}

// fromEntry 把存储条目还原为响应，条目本身保持不变。
func fromEntry(entry *cache.Entry, source Source) *Response {
	header := storableHeader(entry.Header)
	return &Response{
		StatusCode: entry.StatusCode,
		Header:     header,
		Body:       io.NopCloser(bytes.NewReader(entry.Body)),
		URL:        entry.URL,
		Source:     source,
	}
}

// toEntry 读取全部 Body 生成存储快照，调用后 r 的 Body 已被消费。
func (r *Response) toEntry(url string) (*cache.Entry, error) {
	var body []byte
	if r.Body != nil {
		data, err := io.ReadAll(r.Body)
		r.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("read response body: %w", err)
		}
		body = data
	}
	return &cache.Entry{
		URL:        url,
		StatusCode: r.StatusCode,
		Header:     storableHeader(r.Header),
		Body:       body,
		StoredAt:   time.Now().UTC(),
	}, nil
}

// storableHeader 复制响应头并去掉 Set-Cookie / Set-Cookie2。
// 缓存按 URL 共享给所有客户端，会话 cookie 不能进入缓存，也不能从旧条目回放。
func storableHeader(h http.Header) http.Header {
	header := h.Clone()
	if header == nil {
		return http.Header{}
	}
	header.Del("Set-Cookie")
	header.Del("Set-Cookie2")
	return header
}
