package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	badgerdb "github.com/dgraph-io/badger/v4"
)

// Badger 键布局：
//
//	g/<generation>            # 缓存代标记，值为创建时间
//	e/<generation>/<key>      # 条目，值为 JSON 编码的 Key + Entry
const (
	badgerGenerationPrefix = "g/"
	badgerEntryPrefix      = "e/"
)

// NewBadgerStorage 打开（或创建）位于 path 的 Badger 数据库；path 为空时使用纯内存模式。
// logger 可为 nil，此时屏蔽 Badger 自身日志。
func NewBadgerStorage(path string, logger badgerdb.Logger) (Storage, error) {
	opts := badgerdb.DefaultOptions(path).WithLogger(logger)
	if path == "" {
		opts = opts.WithInMemory(true)
	}
	db, err := badgerdb.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger storage: %w", err)
	}
	return &badgerStorage{db: db}, nil
}

type badgerStorage struct {
	db *badgerdb.DB
}

type badgerCache struct {
	db   *badgerdb.DB
	name string
}

func badgerGenerationKey(name string) []byte {
	return []byte(badgerGenerationPrefix + name)
}

func badgerEntryPrefixFor(name string) []byte {
	return []byte(badgerEntryPrefix + name + "/")
}

func badgerEntryKey(name string, key Key) []byte {
	return append(badgerEntryPrefixFor(name), key.String()...)
}

func (s *badgerStorage) Open(ctx context.Context, name string) (Cache, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := validateName(name); err != nil {
		return nil, err
	}

	err := s.db.Update(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(badgerGenerationKey(name))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badgerdb.ErrKeyNotFound) {
			return err
		}
		stamp, _ := time.Now().UTC().MarshalText()
		return txn.Set(badgerGenerationKey(name), stamp)
	})
	if err != nil {
		return nil, fmt.Errorf("open generation %s: %w", name, err)
	}
	return &badgerCache{db: s.db, name: name}, nil
}

func (s *badgerStorage) Delete(ctx context.Context, name string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if err := validateName(name); err != nil {
		return false, err
	}

	var (
		existed bool
		keys    [][]byte
	)
	err := s.db.View(func(txn *badgerdb.Txn) error {
		_, err := txn.Get(badgerGenerationKey(name))
		switch {
		case err == nil:
			existed = true
		case errors.Is(err, badgerdb.ErrKeyNotFound):
		default:
			return err
		}

		prefix := badgerEntryPrefixFor(name)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			keys = append(keys, it.Item().KeyCopy(nil))
		}
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("scan generation %s: %w", name, err)
	}
	if !existed && len(keys) == 0 {
		return false, nil
	}

	wb := s.db.NewWriteBatch()
	defer wb.Cancel()
	for _, key := range keys {
		if err := wb.Delete(key); err != nil {
			return false, fmt.Errorf("delete generation %s: %w", name, err)
		}
	}
	if err := wb.Delete(badgerGenerationKey(name)); err != nil {
		return false, fmt.Errorf("delete generation %s: %w", name, err)
	}
	if err := wb.Flush(); err != nil {
		return false, fmt.Errorf("delete generation %s: %w", name, err)
	}
	return true, nil
}

func (s *badgerStorage) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var names []string
	err := s.db.View(func(txn *badgerdb.Txn) error {
		prefix := []byte(badgerGenerationPrefix)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			key := it.Item().Key()
			names = append(names, string(key[len(prefix):]))
		}
		return nil
	})
	return names, err
}

func (s *badgerStorage) Close() error {
	return s.db.Close()
}

func (c *badgerCache) Name() string {
	return c.name
}

func (c *badgerCache) Match(ctx context.Context, key Key) (*Entry, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var entry *Entry
	err := c.db.View(func(txn *badgerdb.Txn) error {
		item, err := txn.Get(badgerEntryKey(c.name, key))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			rec, err := decodeRecord(val)
			if err != nil {
				return err
			}
			entry = rec.Entry
			return nil
		})
	})
	if errors.Is(err, badgerdb.ErrKeyNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("badger get: %w", err)
	}
	return entry, nil
}

func (c *badgerCache) Put(ctx context.Context, key Key, entry *Entry) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := validateEntry(key, entry); err != nil {
		return err
	}
	payload, err := encodeRecord(key, entry)
	if err != nil {
		return err
	}
	return c.db.Update(func(txn *badgerdb.Txn) error {
		if err := txn.Set(badgerEntryKey(c.name, key), payload); err != nil {
			return fmt.Errorf("badger set: %w", err)
		}
		return nil
	})
}

func (c *badgerCache) Keys(ctx context.Context) ([]Key, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	var keys []Key
	err := c.db.View(func(txn *badgerdb.Txn) error {
		prefix := badgerEntryPrefixFor(c.name)
		opts := badgerdb.DefaultIteratorOptions
		opts.Prefix = prefix
		opts.PrefetchValues = false

		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			raw := it.Item().Key()
			key, err := ParseKey(string(raw[len(prefix):]))
			if err != nil {
				return err
			}
			keys = append(keys, key)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	sortKeys(keys)
	return keys, nil
}
