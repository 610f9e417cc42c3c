package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"
)

// Activate 登记旧缓存代清理任务。每个过期缓存代独立并发删除，单个失败不影响其他；
// 全部结束后引擎进入 activated 并接管请求，删除错误合并后交给 Wait。
func (e *Engine) Activate(ev *ActivateEvent) {
	ev.WaitUntil(func(ctx context.Context) error {
		e.setState(StateActivating)
		err := e.deleteStaleGenerations(ctx)
		lifecycleTotal.WithLabelValues("activate", resultLabel(err)).Inc()

		e.setState(StateActivated)
		e.claimed.Store(true)

		fields := logrus.Fields{"action": "activate", "generation": e.cacheName}
		if err != nil {
			e.logger.WithError(err).WithFields(fields).Warn("activate_incomplete")
			return err
		}
		e.logger.WithFields(fields).Info("activate_complete")
		return nil
	})
}

func (e *Engine) deleteStaleGenerations(ctx context.Context) error {
	names, err := e.storage.Keys(ctx)
	if err != nil {
		cacheErrorsTotal.WithLabelValues("keys").Inc()
		return fmt.Errorf("list generations: %w", err)
	}

	var (
		wg   sync.WaitGroup
		mu   sync.Mutex
		errs []error
	)
	for _, name := range names {
		if name == e.cacheName {
			continue
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			fields := logrus.Fields{"action": "cache_delete", "generation": name}
			existed, err := e.storage.Delete(ctx, name)
			if err != nil {
				cacheErrorsTotal.WithLabelValues("delete").Inc()
				e.logger.WithError(err).WithFields(fields).Warn("cache_delete_failed")
				mu.Lock()
				errs = append(errs, fmt.Errorf("delete generation %s: %w", name, err))
				mu.Unlock()
				return
			}
			fields["existed"] = existed
			e.logger.WithFields(fields).Info("cache_delete_complete")
		}()
	}
	wg.Wait()
	return errors.Join(errs...)
}
