package config

import (
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/any-hub/offline-hub/internal/cache"
)

// Validate 针对语义级别做进一步校验，防止非法配置启动服务。
func (c *Config) Validate() error {
	if c == nil {
		return errors.New("配置为空")
	}

	g := c.Global
	if g.ListenPort <= 0 || g.ListenPort > 65535 {
		return newFieldError("Global.ListenPort", "必须在 1-65535")
	}
	if g.UpstreamTimeout.DurationValue() <= 0 {
		return newFieldError("Global.UpstreamTimeout", "必须大于 0")
	}

	if err := c.Engine.validate(); err != nil {
		return err
	}
	return c.Storage.validate()
}

func (e EngineConfig) validate() error {
	if err := validateOrigin(e.Upstream); err != nil {
		return fmt.Errorf("Upstream: %w", err)
	}
	if e.Origin != "" {
		if err := validateOrigin(e.Origin); err != nil {
			return fmt.Errorf("Origin: %w", err)
		}
	}

	name := strings.TrimSpace(e.CacheName)
	if name == "" {
		return newFieldError("CacheName", "不能为空")
	}
	if strings.ContainsAny(name, "/\\") || name == "." || name == ".." {
		return newFieldError("CacheName", "不能包含路径分隔符")
	}

	if !strings.HasPrefix(e.StaticPrefix, "/") {
		return newFieldError("StaticPrefix", "必须以 / 开头")
	}
	if !strings.HasPrefix(e.OfflineURL, "/") {
		return newFieldError("OfflineURL", "必须以 / 开头")
	}
	if e.OfflineHTML != "" && !strings.Contains(strings.ToLower(e.OfflineHTML), "offline") {
		return newFieldError("OfflineHTML", "页面内容必须包含 offline 字样")
	}
	for i, entry := range e.Precache {
		if !strings.HasPrefix(entry, "/") {
			return newFieldError(fmt.Sprintf("Precache[%d]", i), "必须是以 / 开头的同源路径")
		}
	}
	if e.PutTimeout.DurationValue() <= 0 {
		return newFieldError("PutTimeout", "必须大于 0")
	}
	return nil
}

func (s StorageConfig) validate() error {
	switch s.Driver {
	case cache.DriverMemory:
	case cache.DriverFile, cache.DriverSQLite:
		if strings.TrimSpace(s.Path) == "" {
			return newFieldError(storageField("Path"), "不能为空")
		}
	case cache.DriverBadger:
		// Path 为空时使用内存模式
	case cache.DriverRedis:
		if strings.TrimSpace(s.RedisURL) == "" {
			return newFieldError(storageField("RedisURL"), "不能为空")
		}
	default:
		return newFieldError(storageField("Driver"), "仅支持 "+strings.Join(cache.Drivers, "|"))
	}
	return nil
}

// validateOrigin 要求 scheme://host 形式，不允许携带路径、查询或 fragment。
func validateOrigin(raw string) error {
	if raw == "" {
		return errors.New("缺少地址")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return err
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("仅支持 http/https: %s", raw)
	}
	if parsed.Host == "" {
		return fmt.Errorf("缺少 Host: %s", raw)
	}
	if (parsed.Path != "" && parsed.Path != "/") || parsed.RawQuery != "" || parsed.Fragment != "" {
		return fmt.Errorf("只能包含 scheme 与 host: %s", raw)
	}
	return nil
}
