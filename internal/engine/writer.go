package engine

import (
	"context"
	"sync"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/cache"
	"github.com/any-hub/offline-hub/internal/logging"
)

// putAsync 在脱离请求生命周期的 goroutine 中写缓存：请求上下文取消不会中断写入，
// 写入自带 PutTimeout。失败只记录日志与指标，从不影响已返回的响应。
func (e *Engine) putAsync(ctx context.Context, key cache.Key, resp *Response, strategy Strategy) {
	e.writes.add()
	backgroundWrites.Inc()
	detached := context.WithoutCancel(ctx)

	go func() {
		defer e.writes.done()
		defer backgroundWrites.Dec()

		putCtx, cancel := context.WithTimeout(detached, e.putTimeout)
		defer cancel()

		if err := e.put(putCtx, key, resp); err != nil {
			cacheErrorsTotal.WithLabelValues("put").Inc()
			fields := logging.RequestFields(e.cacheName, string(strategy), string(resp.Source), key.Method, key.URL)
			fields["action"] = "cache_put"
			e.logger.WithError(err).WithFields(fields).Warn("cache_put_failed")
			return
		}
		e.logger.WithFields(logrus.Fields{
			"action":     "cache_put",
			"generation": e.cacheName,
			"url":        key.URL,
		}).Debug("cache_put_complete")
	}()
}

func (e *Engine) put(ctx context.Context, key cache.Key, resp *Response) error {
	entry, err := resp.toEntry(key.URL)
	if err != nil {
		return err
	}
	gen, err := e.reopenGeneration(ctx)
	if err != nil {
		return err
	}
	return gen.Put(ctx, key, entry)
}

// writeTracker 记录进行中的后台写入。与 sync.WaitGroup 不同，
// add 可以和 wait 并发：计数归零时关闭 idle，wait 只观察调用时刻的那一轮。
type writeTracker struct {
	mu      sync.Mutex
	pending int
	idle    chan struct{}
}

func (w *writeTracker) add() {
	w.mu.Lock()
	if w.pending == 0 {
		w.idle = make(chan struct{})
	}
	w.pending++
	w.mu.Unlock()
}

func (w *writeTracker) done() {
	w.mu.Lock()
	w.pending--
	if w.pending == 0 {
		close(w.idle)
	}
	w.mu.Unlock()
}

func (w *writeTracker) wait(ctx context.Context) error {
	w.mu.Lock()
	if w.pending == 0 {
		w.mu.Unlock()
		return nil
	}
	idle := w.idle
	w.mu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
