package config

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Duration 提供更灵活的反序列化能力，同时兼容纯秒整数与 Go Duration 字符串。
type Duration time.Duration

// UnmarshalText 使 Viper 可以识别诸如 "30s"、"5m" 或纯数字秒值等配置写法。
func (d *Duration) UnmarshalText(text []byte) error {
	raw := strings.TrimSpace(string(text))
	if raw == "" {
		*d = Duration(0)
		return nil
	}

	if parsed, err := time.ParseDuration(raw); err == nil {
		*d = Duration(parsed)
		return nil
	}

	if intVal, err := parseInt(raw); err == nil {
		*d = Duration(time.Duration(intVal) * time.Second)
		return nil
	}

	return fmt.Errorf("invalid duration value: %s", raw)
}

// DurationValue 返回真实的 time.Duration，便于调用方计算。
func (d Duration) DurationValue() time.Duration {
	return time.Duration(d)
}

// parseInt 支持十进制或 0x 前缀的十六进制字符串解析。
func parseInt(value string) (int64, error) {
	if strings.HasPrefix(value, "0x") || strings.HasPrefix(value, "0X") {
		return strconv.ParseInt(value, 0, 64)
	}
	return strconv.ParseInt(value, 10, 64)
}

// GlobalConfig 描述进程级运行参数：监听端口、日志与上游超时。
type GlobalConfig struct {
	ListenPort      int      `mapstructure:"ListenPort"`
	LogLevel        string   `mapstructure:"LogLevel"`
	LogFilePath     string   `mapstructure:"LogFilePath"`
	LogMaxSize      int      `mapstructure:"LogMaxSize"`
	LogMaxBackups   int      `mapstructure:"LogMaxBackups"`
	LogCompress     bool     `mapstructure:"LogCompress"`
	UpstreamTimeout Duration `mapstructure:"UpstreamTimeout"`
}

// EngineConfig 对应拦截引擎的编译期常量，启动时可被配置覆盖，运行期间不可变。
type EngineConfig struct {
	// Origin 是客户端看到的应用源（scheme://host[:port]），为空时沿用 Upstream。
	Origin string `mapstructure:"Origin"`
	// Upstream 是真实应用服务器地址，所有网络请求都被改写到此处。
	Upstream     string   `mapstructure:"Upstream"`
	CacheName    string   `mapstructure:"CacheName"`
	StaticPrefix string   `mapstructure:"StaticPrefix"`
	OfflineURL   string   `mapstructure:"OfflineURL"`
	OfflineHTML  string   `mapstructure:"OfflineHTML"`
	Precache     []string `mapstructure:"Precache"`
	PutTimeout   Duration `mapstructure:"PutTimeout"`
}

// StorageConfig 选择缓存后端，对应 [Storage] 表。
type StorageConfig struct {
	Driver      string `mapstructure:"Driver"`
	Path        string `mapstructure:"Path"`
	RedisURL    string `mapstructure:"RedisURL"`
	RedisPrefix string `mapstructure:"RedisPrefix"`
}

// Config 是 TOML 文件映射的整体结构。
type Config struct {
	Global  GlobalConfig  `mapstructure:",squash"`
	Engine  EngineConfig  `mapstructure:",squash"`
	Storage StorageConfig `mapstructure:"Storage"`
}

// EffectiveOrigin 返回引擎使用的应用源，未配置 Origin 时回退到 Upstream。
func (c *Config) EffectiveOrigin() string {
	if origin := strings.TrimSpace(c.Engine.Origin); origin != "" {
		return strings.TrimRight(origin, "/")
	}
	return strings.TrimRight(c.Engine.Upstream, "/")
}
