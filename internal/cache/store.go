package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Storage 管理多个按名称区分的缓存代（generation）。实现必须支持并发调用。
type Storage interface {
	// Open 返回指定名称的缓存代，不存在时隐式创建。
	Open(ctx context.Context, name string) (Cache, error)

	// Delete 删除整个缓存代及其全部条目，返回删除前是否存在。
	Delete(ctx context.Context, name string) (bool, error)

	// Keys 按名称排序返回当前存在的缓存代。
	Keys(ctx context.Context) ([]string, error)

	// Close 释放底层连接或文件句柄。
	Close() error
}

// Cache 是单个缓存代的读写句柄。
type Cache interface {
	// Name 返回缓存代名称。
	Name() string

	// Match 查找请求标识对应的条目，未命中时返回 ErrNotFound。
	Match(ctx context.Context, key Key) (*Entry, error)

	// Put 写入（或覆盖）条目，相同 Key 最后一次写入生效。
	Put(ctx context.Context, key Key, entry *Entry) error

	// Keys 返回当前缓存代内的全部请求标识。
	Keys(ctx context.Context) ([]Key, error)
}

var (
	// ErrNotFound 表示缓存条目不存在。
	ErrNotFound = errors.New("cache entry not found")

	// ErrUnsupportedMethod 表示请求方法不可缓存（仅允许 GET）。
	ErrUnsupportedMethod = errors.New("only GET requests can be cached")

	// ErrInvalidName 表示缓存代名称为空或包含分隔符。
	ErrInvalidName = errors.New("invalid cache name")
)

// Key 唯一定位一个缓存条目：请求方法 + 去掉 fragment 的绝对 URL。
type Key struct {
	Method string `json:"method"`
	URL    string `json:"url"`
}

// String 输出 "GET https://host/path" 形式，亦用作持久化后端的字段名。
func (k Key) String() string {
	return k.Method + " " + k.URL
}

// ParseKey 是 String 的逆操作。
func ParseKey(raw string) (Key, error) {
	method, rawURL, ok := strings.Cut(raw, " ")
	if !ok || method == "" || rawURL == "" {
		return Key{}, fmt.Errorf("malformed cache key %q", raw)
	}
	return Key{Method: method, URL: rawURL}, nil
}

// KeyFor 根据请求构建 Key，非 GET 请求返回 ErrUnsupportedMethod。
// URL 会被规范化，见 CanonicalURL。
func KeyFor(req *http.Request) (Key, error) {
	if req == nil || req.URL == nil {
		return Key{}, errors.New("request url required")
	}
	if req.Method != "" && req.Method != http.MethodGet {
		return Key{}, ErrUnsupportedMethod
	}
	return Key{Method: http.MethodGet, URL: CanonicalURL(req.URL)}, nil
}

// KeyForURL 为绝对 URL 构建 GET Key，供预缓存清单与离线页查找使用。
func KeyForURL(rawURL string) Key {
	u, err := url.Parse(rawURL)
	if err != nil {
		if idx := strings.IndexByte(rawURL, '#'); idx >= 0 {
			rawURL = rawURL[:idx]
		}
		return Key{Method: http.MethodGet, URL: rawURL}
	}
	return Key{Method: http.MethodGet, URL: CanonicalURL(u)}
}

// CanonicalURL 去掉 fragment，scheme 与 host 小写，并去掉默认端口。
// 同源判断与缓存键共用这一规则，http://App.Test:80/x 与 http://app.test/x 命中同一条目。
func CanonicalURL(u *url.URL) string {
	c := *u
	c.Scheme = strings.ToLower(c.Scheme)
	c.Host = CanonicalHost(c.Scheme, c.Host)
	c.Fragment = ""
	c.RawFragment = ""
	return c.String()
}

// CanonicalHost 小写 host，http 去掉 :80，https 去掉 :443。
func CanonicalHost(scheme, host string) string {
	host = strings.ToLower(host)
	switch strings.ToLower(scheme) {
	case "http":
		return strings.TrimSuffix(host, ":80")
	case "https":
		return strings.TrimSuffix(host, ":443")
	}
	return host
}

// Entry 是某一时刻响应的不可变快照。
type Entry struct {
	URL        string      `json:"url"`
	StatusCode int         `json:"status_code"`
	Header     http.Header `json:"header"`
	Body       []byte      `json:"body"`
	StoredAt   time.Time   `json:"stored_at"`
}

// Clone 深拷贝条目，避免调用方修改共享的 Header/Body。
func (e *Entry) Clone() *Entry {
	if e == nil {
		return nil
	}
	cloned := *e
	cloned.Header = e.Header.Clone()
	if e.Body != nil {
		cloned.Body = append([]byte(nil), e.Body...)
	}
	return &cloned
}

// record 是持久化后端的 JSON 载荷，携带 Key 以便反向枚举。
type record struct {
	Key   Key    `json:"key"`
	Entry *Entry `json:"entry"`
}

func encodeRecord(key Key, entry *Entry) ([]byte, error) {
	data, err := json.Marshal(record{Key: key, Entry: entry})
	if err != nil {
		return nil, fmt.Errorf("marshal cache entry: %w", err)
	}
	return data, nil
}

func decodeRecord(data []byte) (*record, error) {
	var rec record
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("decode cache entry: %w", err)
	}
	if rec.Entry == nil {
		return nil, errors.New("decode cache entry: empty payload")
	}
	return &rec, nil
}

// validateName 拒绝空名称以及会破坏目录/前缀布局的字符。
func validateName(name string) error {
	if strings.TrimSpace(name) == "" || strings.ContainsAny(name, "/\\\x00") || name == "." || name == ".." {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

func validateEntry(key Key, entry *Entry) error {
	if entry == nil {
		return errors.New("cache entry cannot be nil")
	}
	if key.Method != http.MethodGet {
		return ErrUnsupportedMethod
	}
	return nil
}
