package config

import (
	"errors"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadWithDefaults(t *testing.T) {
	cfgPath := testConfigPath(t, "valid.toml")

	cfg, err := Load(cfgPath)
	if err != nil {
		t.Fatalf("Load 返回错误: %v", err)
	}
	if cfg.Global.ListenPort != 5000 {
		t.Fatalf("ListenPort 应当被解析")
	}
	if cfg.Global.UpstreamTimeout.DurationValue() != 30*time.Second {
		t.Fatalf("UpstreamTimeout 应该自动填充默认值")
	}
	if cfg.Engine.CacheName != "etsai-v1" {
		t.Fatalf("CacheName 默认值错误: %s", cfg.Engine.CacheName)
	}
	if cfg.Engine.StaticPrefix != "/static/" || cfg.Engine.OfflineURL != "/offline" {
		t.Fatalf("StaticPrefix/OfflineURL 默认值错误: %+v", cfg.Engine)
	}
	want := []string{"/offline", "/static/manifest.json", "/static/icons/icon.svg"}
	if len(cfg.Engine.Precache) != len(want) {
		t.Fatalf("Precache 默认值错误: %v", cfg.Engine.Precache)
	}
	for i := range want {
		if cfg.Engine.Precache[i] != want[i] {
			t.Fatalf("Precache[%d] = %s", i, cfg.Engine.Precache[i])
		}
	}
	if cfg.Engine.PutTimeout.DurationValue() != 10*time.Second {
		t.Fatalf("PutTimeout 默认值错误: %s", cfg.Engine.PutTimeout.DurationValue())
	}
	if !filepath.IsAbs(cfg.Storage.Path) {
		t.Fatalf("Storage.Path 应转换为绝对路径: %s", cfg.Storage.Path)
	}
	if cfg.EffectiveOrigin() != "https://etsai.example" {
		t.Fatalf("Origin 应优先于 Upstream: %s", cfg.EffectiveOrigin())
	}
}

func TestValidateRejectsMissingUpstream(t *testing.T) {
	cfgPath := testConfigPath(t, "missing.toml")

	if _, err := Load(cfgPath); err == nil {
		t.Fatalf("不合法的配置应返回错误")
	}
}

func TestEffectiveOriginFallsBackToUpstream(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.Origin = ""
	if got := cfg.EffectiveOrigin(); got != "http://127.0.0.1:3000" {
		t.Fatalf("未设置 Origin 时应回退到 Upstream, got %s", got)
	}
}

func TestValidateEnforcesListenPortRange(t *testing.T) {
	cfg := validConfig()
	cfg.Global.ListenPort = 70000
	if err := cfg.Validate(); err == nil {
		t.Fatalf("ListenPort 超出范围应当报错")
	}
}

func TestValidateEngineFields(t *testing.T) {
	testCases := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"empty cache name", func(c *Config) { c.Engine.CacheName = "" }, "CacheName"},
		{"cache name with slash", func(c *Config) { c.Engine.CacheName = "a/b" }, "CacheName"},
		{"relative static prefix", func(c *Config) { c.Engine.StaticPrefix = "static/" }, "StaticPrefix"},
		{"relative offline url", func(c *Config) { c.Engine.OfflineURL = "offline" }, "OfflineURL"},
		{"offline html without keyword", func(c *Config) { c.Engine.OfflineHTML = "<h1>down</h1>" }, "OfflineHTML"},
		{"absolute precache entry", func(c *Config) { c.Engine.Precache = []string{"https://cdn.test/a.js"} }, "Precache[0]"},
		{"zero put timeout", func(c *Config) { c.Engine.PutTimeout = 0 }, "PutTimeout"},
		{"unknown driver", func(c *Config) { c.Storage.Driver = "tape" }, "Storage.Driver"},
		{"sqlite without path", func(c *Config) { c.Storage = StorageConfig{Driver: "sqlite"} }, "Storage.Path"},
		{"redis without url", func(c *Config) { c.Storage = StorageConfig{Driver: "redis"} }, "Storage.RedisURL"},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := validConfig()
			tc.mutate(cfg)
			err := cfg.Validate()
			var fieldErr FieldError
			if !errors.As(err, &fieldErr) {
				t.Fatalf("expected FieldError, got %v", err)
			}
			if fieldErr.Field != tc.field {
				t.Fatalf("expected field %s, got %s", tc.field, fieldErr.Field)
			}
		})
	}
}

func TestValidateRejectsUpstreamWithPath(t *testing.T) {
	cfg := validConfig()
	cfg.Engine.Upstream = "http://127.0.0.1:3000/app"
	if err := cfg.Validate(); err == nil {
		t.Fatalf("Upstream 携带路径时应报错")
	}
}

func TestValidateAcceptsBadgerWithoutPath(t *testing.T) {
	cfg := validConfig()
	cfg.Storage = StorageConfig{Driver: "badger"}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("badger 无 Path 时应使用内存模式: %v", err)
	}
}

func validConfig() *Config {
	return &Config{
		Global: GlobalConfig{
			ListenPort:      5000,
			UpstreamTimeout: Duration(time.Second),
		},
		Engine: EngineConfig{
			Origin:       "https://etsai.example",
			Upstream:     "http://127.0.0.1:3000",
			CacheName:    "etsai-v1",
			StaticPrefix: "/static/",
			OfflineURL:   "/offline",
			Precache:     []string{"/offline"},
			PutTimeout:   Duration(time.Second),
		},
		Storage: StorageConfig{
			Driver: "memory",
		},
	}
}
