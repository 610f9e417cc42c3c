package integration

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/engine"
	"github.com/any-hub/offline-hub/internal/network"
	"github.com/any-hub/offline-hub/internal/proxy"
	"github.com/any-hub/offline-hub/internal/server"
	"github.com/any-hub/offline-hub/internal/server/routes"
)

const (
	appOrigin = "http://etsai.local"
	appHost   = "etsai.local"
)

// offlineEnv 组装与 main 相同的链路：存储 → 上游客户端 → 引擎 → Fiber。
type offlineEnv struct {
	app      *fiber.App
	engine   *engine.Engine
	storage  cache.Storage
	upstream *appStub
	logger   *logrus.Logger
}

func newOfflineEnv(t *testing.T, driver string) *offlineEnv {
	t.Helper()

	upstream := newAppStub(t)
	logger := logrus.New()
	logger.SetOutput(io.Discard)

	storage, err := cache.NewStorage(storageOptions(t, driver))
	if err != nil {
		t.Fatalf("storage %s: %v", driver, err)
	}
	t.Cleanup(func() { _ = storage.Close() })

	client, err := network.NewClient(upstream.URL, nil, 2*time.Second)
	if err != nil {
		t.Fatalf("network client: %v", err)
	}

	eng, err := engine.New(engine.Options{
		Origin:  appOrigin,
		Storage: storage,
		Fetcher: client,
		Logger:  logger,
	})
	if err != nil {
		t.Fatalf("engine: %v", err)
	}

	app, err := server.NewApp(server.AppOptions{
		Logger:     logger,
		Proxy:      proxy.NewHandler(eng, client, logger),
		ListenPort: 5000,
	})
	if err != nil {
		t.Fatalf("app error: %v", err)
	}
	routes.RegisterCacheRoutes(app, eng)

	return &offlineEnv{app: app, engine: eng, storage: storage, upstream: upstream, logger: logger}
}

func storageOptions(t *testing.T, driver string) cache.Options {
	t.Helper()
	dir := t.TempDir()
	switch driver {
	case cache.DriverFile:
		return cache.Options{Driver: driver, Path: filepath.Join(dir, "storage")}
	case cache.DriverBadger:
		return cache.Options{Driver: driver, Path: filepath.Join(dir, "badger")}
	case cache.DriverSQLite:
		return cache.Options{Driver: driver, Path: filepath.Join(dir, "offline-hub.db")}
	default:
		return cache.Options{Driver: cache.DriverMemory}
	}
}

// persistentDrivers 是无需外部服务即可运行的驱动。
var persistentDrivers = []string{cache.DriverMemory, cache.DriverFile, cache.DriverBadger, cache.DriverSQLite}

func (e *offlineEnv) lifecycle(t *testing.T) {
	t.Helper()
	if err := e.engine.Lifecycle(context.Background()); err != nil {
		t.Fatalf("lifecycle: %v", err)
	}
}

func (e *offlineEnv) drain(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := e.engine.Drain(ctx); err != nil {
		t.Fatalf("drain: %v", err)
	}
}

func (e *offlineEnv) get(t *testing.T, path string, header http.Header) *http.Response {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, appOrigin+path, nil)
	req.Host = appHost
	for key, values := range header {
		for _, value := range values {
			req.Header.Add(key, value)
		}
	}
	resp, err := e.app.Test(req)
	if err != nil {
		t.Fatalf("app.Test %s: %v", path, err)
	}
	return resp
}

func (e *offlineEnv) seed(t *testing.T, generation, rawURL, body string) {
	t.Helper()
	ctx := context.Background()
	gen, err := e.storage.Open(ctx, generation)
	if err != nil {
		t.Fatalf("open %s: %v", generation, err)
	}
	entry := &cache.Entry{
		URL:        rawURL,
		StatusCode: http.StatusOK,
		Header:     http.Header{"Content-Type": []string{"text/plain"}},
		Body:       []byte(body),
		StoredAt:   time.Now(),
	}
	if err := gen.Put(ctx, cache.KeyForURL(rawURL), entry); err != nil {
		t.Fatalf("seed %s: %v", rawURL, err)
	}
}

func (e *offlineEnv) generationURLs(t *testing.T, generation string) []string {
	t.Helper()
	ctx := context.Background()
	gen, err := e.storage.Open(ctx, generation)
	if err != nil {
		t.Fatalf("open %s: %v", generation, err)
	}
	keys, err := gen.Keys(ctx)
	if err != nil {
		t.Fatalf("keys %s: %v", generation, err)
	}
	urls := make([]string, 0, len(keys))
	for _, key := range keys {
		urls = append(urls, key.URL)
	}
	return urls
}

func readBody(t *testing.T, resp *http.Response) string {
	t.Helper()
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read body: %v", err)
	}
	return string(body)
}
