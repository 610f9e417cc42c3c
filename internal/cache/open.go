package cache

import (
	"fmt"
	"strings"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// 支持的存储驱动名称，与配置文件 [Storage].Driver 对应。
const (
	DriverMemory = "memory"
	DriverFile   = "file"
	DriverBadger = "badger"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"
)

// Drivers 列出全部合法驱动，供配置校验使用。
var Drivers = []string{DriverMemory, DriverFile, DriverBadger, DriverSQLite, DriverRedis}

// Options 选择并配置存储驱动。
type Options struct {
	Driver      string
	Path        string
	RedisURL    string
	RedisPrefix string
	// Logger 仅 badger 驱动使用，nil 表示静默。
	Logger badgerdb.Logger
}

// NewStorage 按驱动名称构建 Storage。
func NewStorage(opts Options) (Storage, error) {
	switch strings.ToLower(strings.TrimSpace(opts.Driver)) {
	case "", DriverMemory:
		return NewMemoryStorage(), nil
	case DriverFile:
		return NewFileStorage(opts.Path)
	case DriverBadger:
		return NewBadgerStorage(opts.Path, opts.Logger)
	case DriverSQLite:
		return NewSQLiteStorage(opts.Path)
	case DriverRedis:
		return NewRedisStorage(RedisConfig{URL: opts.RedisURL, Prefix: opts.RedisPrefix})
	default:
		return nil, fmt.Errorf("unknown storage driver %q", opts.Driver)
	}
}
