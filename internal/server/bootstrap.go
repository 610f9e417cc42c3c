package server

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/any-hub/offline-hub/internal/engine"
)

const (
	defaultInstallRetry = 30 * time.Second
	maxInstallRetry     = 5 * time.Minute
)

// StartLifecycle 在后台执行 install + activate。安装失败时按指数退避重试，
// 期间代理处于透传模式；ctx 结束时放弃重试。返回的 channel 在引擎接管后关闭。
func StartLifecycle(ctx context.Context, eng *engine.Engine, logger *logrus.Logger, retry time.Duration) <-chan struct{} {
	if retry <= 0 {
		retry = defaultInstallRetry
	}
	claimed := make(chan struct{})

	go func() {
		delay := retry
		for attempt := 1; ; attempt++ {
			err := eng.Lifecycle(ctx)
			if err == nil {
				logger.WithFields(logrus.Fields{
					"action":     "lifecycle",
					"generation": eng.CacheName(),
					"attempt":    attempt,
					"state":      eng.State(),
				}).Info("engine_claimed")
				close(claimed)
				return
			}

			logger.WithError(err).WithFields(logrus.Fields{
				"action":     "lifecycle",
				"generation": eng.CacheName(),
				"attempt":    attempt,
				"retry_in":   delay.String(),
			}).Warn("install_retry_scheduled")

			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
			}
			delay *= 2
			if delay > maxInstallRetry {
				delay = maxInstallRetry
			}
		}
	}()

	return claimed
}
