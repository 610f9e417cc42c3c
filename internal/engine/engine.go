package engine

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
)

// 默认值面向 ETSAI 应用，可通过 Options 覆盖。
const (
	DefaultCacheName    = "etsai-v1"
	DefaultStaticPrefix = "/static/"
	DefaultOfflineURL   = "/offline"
	DefaultPutTimeout   = 10 * time.Second
)

// DefaultPrecache 是默认预缓存清单。
var DefaultPrecache = []string{"/offline", "/static/manifest.json", "/static/icons/icon.svg"}

// State 描述引擎生命周期阶段。
type State string

const (
	StateParsed     State = "parsed"
	StateInstalling State = "installing"
	StateInstalled  State = "installed"
	StateActivating State = "activating"
	StateActivated  State = "activated"
	StateRedundant  State = "redundant"
)

// Options 配置引擎。除 Origin/Storage/Fetcher 外均有默认值；Precache 为 nil 时使用 DefaultPrecache。
type Options struct {
	// Origin 为 scheme://host[:port]，同源判断与相对路径解析都以它为准。
	Origin       string
	CacheName    string
	Precache     []string
	StaticPrefix string
	OfflineURL   string
	OfflineHTML  string
	// PutTimeout 限制单次后台写缓存的耗时。
	PutTimeout time.Duration

	Storage cache.Storage
	Fetcher Fetcher
	Logger  *logrus.Logger
}

// Engine 是请求拦截引擎。构造后配置不可变，可被多个宿主 goroutine 并发使用。
type Engine struct {
	origin       *url.URL
	cacheName    string
	manifest     []string
	staticPrefix string
	offlineURL   string
	offlineHTML  string
	putTimeout   time.Duration

	storage cache.Storage
	fetcher Fetcher
	logger  *logrus.Logger

	writes writeTracker

	genMu sync.Mutex
	gen   cache.Cache

	mu          sync.RWMutex
	state       State
	skipWaiting atomic.Bool
	claimed     atomic.Bool
}

// New 校验配置并构建引擎。
func New(opts Options) (*Engine, error) {
	if opts.Storage == nil {
		return nil, errors.New("engine: storage is required")
	}
	if opts.Fetcher == nil {
		return nil, errors.New("engine: fetcher is required")
	}
	origin, err := parseOrigin(opts.Origin)
	if err != nil {
		return nil, err
	}

	e := &Engine{
		origin:       origin,
		cacheName:    opts.CacheName,
		staticPrefix: opts.StaticPrefix,
		offlineHTML:  opts.OfflineHTML,
		putTimeout:   opts.PutTimeout,
		storage:      opts.Storage,
		fetcher:      opts.Fetcher,
		logger:       opts.Logger,
		state:        StateParsed,
	}
	if e.cacheName == "" {
		e.cacheName = DefaultCacheName
	}
	if e.staticPrefix == "" {
		e.staticPrefix = DefaultStaticPrefix
	}
	if e.offlineHTML == "" {
		e.offlineHTML = DefaultOfflineHTML
	}
	if e.putTimeout <= 0 {
		e.putTimeout = DefaultPutTimeout
	}
	if e.logger == nil {
		e.logger = logrus.StandardLogger()
	}

	offlineURL := opts.OfflineURL
	if offlineURL == "" {
		offlineURL = DefaultOfflineURL
	}
	if e.offlineURL, err = e.resolve(offlineURL); err != nil {
		return nil, fmt.Errorf("engine: offline url: %w", err)
	}

	manifest := opts.Precache
	if manifest == nil {
		manifest = DefaultPrecache
	}
	e.manifest = make([]string, 0, len(manifest))
	for _, entry := range manifest {
		abs, err := e.resolve(entry)
		if err != nil {
			return nil, fmt.Errorf("engine: precache entry %q: %w", entry, err)
		}
		e.manifest = append(e.manifest, abs)
	}

	return e, nil
}

func parseOrigin(raw string) (*url.URL, error) {
	parsed, err := url.Parse(strings.TrimRight(strings.TrimSpace(raw), "/"))
	if err != nil {
		return nil, fmt.Errorf("engine: invalid origin: %w", err)
	}
	if parsed.Scheme == "" || parsed.Host == "" {
		return nil, fmt.Errorf("engine: origin must be scheme://host, got %q", raw)
	}
	return &url.URL{Scheme: strings.ToLower(parsed.Scheme), Host: strings.ToLower(parsed.Host)}, nil
}

// resolve 把路径解析为引擎源下的绝对 URL，并去掉 fragment。
func (e *Engine) resolve(ref string) (string, error) {
	parsed, err := url.Parse(ref)
	if err != nil {
		return "", err
	}
	abs := e.origin.ResolveReference(parsed)
	abs.Fragment = ""
	abs.RawFragment = ""
	return abs.String(), nil
}

// CacheName 返回当前缓存代名称。
func (e *Engine) CacheName() string {
	return e.cacheName
}

// Origin 返回引擎源，形如 https://app.example。
func (e *Engine) Origin() string {
	return e.origin.String()
}

// Manifest 返回解析后的预缓存 URL 副本。
func (e *Engine) Manifest() []string {
	return append([]string(nil), e.manifest...)
}

// Storage 返回底层缓存存储，供诊断接口枚举。
func (e *Engine) Storage() cache.Storage {
	return e.storage
}

// State 返回当前生命周期阶段。
func (e *Engine) State() State {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.state
}

func (e *Engine) setState(state State) {
	e.mu.Lock()
	e.state = state
	e.mu.Unlock()
}

// SkipWaiting 在安装成功后为 true：宿主无需等待旧实例退出即可激活。
func (e *Engine) SkipWaiting() bool {
	return e.skipWaiting.Load()
}

// Claimed 在激活完成后为 true：引擎开始接管宿主的全部请求。
func (e *Engine) Claimed() bool {
	return e.claimed.Load()
}

// Lifecycle 依次执行 install 与 activate 并等待各阶段结束。
// 安装失败时返回包装 ErrInstallFailed 的错误；清理旧缓存代的失败只记录日志，不阻止激活。
func (e *Engine) Lifecycle(ctx context.Context) error {
	install := NewInstallEvent(ctx)
	e.Install(install)
	if err := install.Wait(); err != nil {
		return err
	}

	activate := NewActivateEvent(ctx)
	e.Activate(activate)
	if err := activate.Wait(); err != nil {
		e.logger.WithError(err).WithField("action", "activate").Warn("stale_generation_cleanup_incomplete")
	}
	return nil
}

// Drain 等待后台缓存写入清空，或在 ctx 结束时返回其错误。
// 可以与 Fetch 并发调用，但只保证等到某一时刻没有待完成的写入；
// Drain 返回后新到的请求仍可能发起写入。需要完整排空时，宿主应先停止接收请求再调用。
func (e *Engine) Drain(ctx context.Context) error {
	return e.writes.wait(ctx)
}

// generation 返回当前缓存代的句柄。首次调用时 Open 一次并缓存，
// 之后的读取不再触发驱动的隐式创建（sqlite INSERT OR IGNORE、redis SADD 等）。
func (e *Engine) generation(ctx context.Context) (cache.Cache, error) {
	e.genMu.Lock()
	defer e.genMu.Unlock()
	if e.gen != nil {
		return e.gen, nil
	}
	gen, err := e.storage.Open(ctx, e.cacheName)
	if err != nil {
		return nil, err
	}
	e.gen = gen
	return gen, nil
}

// reopenGeneration 重新 Open 当前缓存代并刷新句柄。写入路径使用它，
// 缓存代在运行中被外部删除后，下一次写入会把它重新登记。
func (e *Engine) reopenGeneration(ctx context.Context) (cache.Cache, error) {
	gen, err := e.storage.Open(ctx, e.cacheName)
	if err != nil {
		return nil, err
	}
	e.genMu.Lock()
	e.gen = gen
	e.genMu.Unlock()
	return gen, nil
}
