package engine

import (
	"context"
	"fmt"
	"net/http"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/any-hub/offline-hub/internal/cache"
)

// Install 登记预缓存任务。全部清单 URL 成功取回后才写入当前缓存代；
// 任一失败则安装失败且不写入任何条目。成功后引擎请求跳过等待。
func (e *Engine) Install(ev *InstallEvent) {
	ev.WaitUntil(func(ctx context.Context) error {
		e.setState(StateInstalling)
		err := e.precache(ctx)
		lifecycleTotal.WithLabelValues("install", resultLabel(err)).Inc()

		fields := logrus.Fields{
			"action":     "install",
			"generation": e.cacheName,
			"manifest":   len(e.manifest),
		}
		if err != nil {
			e.setState(StateRedundant)
			e.logger.WithError(err).WithFields(fields).Error("install_failed")
			return err
		}
		e.setState(StateInstalled)
		e.skipWaiting.Store(true)
		e.logger.WithFields(fields).Info("install_complete")
		return nil
	})
}

func (e *Engine) precache(ctx context.Context) error {
	entries := make([]*cache.Entry, len(e.manifest))

	g, gctx := errgroup.WithContext(ctx)
	for i, target := range e.manifest {
		g.Go(func() error {
			entry, err := e.fetchEntry(gctx, target)
			if err != nil {
				return fmt.Errorf("%w: precache %s: %w", ErrInstallFailed, target, err)
			}
			entries[i] = entry
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	gen, err := e.reopenGeneration(ctx)
	if err != nil {
		return fmt.Errorf("%w: open generation %s: %w", ErrInstallFailed, e.cacheName, err)
	}
	for i, target := range e.manifest {
		if err := gen.Put(ctx, cache.KeyForURL(target), entries[i]); err != nil {
			cacheErrorsTotal.WithLabelValues("put").Inc()
			return fmt.Errorf("%w: store %s: %w", ErrInstallFailed, target, err)
		}
	}
	return nil
}

// fetchEntry 取回单个清单 URL；传输错误与非 2xx 状态都视为失败。
func (e *Engine) fetchEntry(ctx context.Context, target string) (*cache.Entry, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := e.fetcher.Fetch(ctx, req)
	if err != nil {
		return nil, &NetworkError{URL: target, Err: err}
	}
	wrapped := fromHTTP(resp, target)
	if !wrapped.OK() {
		wrapped.Close()
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return wrapped.toEntry(target)
}
