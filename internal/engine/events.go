package engine

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
)

// ExtendableEvent 让处理函数登记"阶段结束前必须完成"的工作，宿主通过 Wait 等待全部结果。
type ExtendableEvent struct {
	ctx context.Context

	wg   sync.WaitGroup
	mu   sync.Mutex
	errs []error
}

func eventContext(ctx context.Context) context.Context {
	if ctx == nil {
		return context.Background()
	}
	return ctx
}

// Context 返回事件的上下文，登记的工作以它为父上下文运行。
func (ev *ExtendableEvent) Context() context.Context {
	return ev.ctx
}

// WaitUntil 在独立 goroutine 中运行 task，并把它计入 Wait。
// 只能在处理函数返回前（Wait 之前）调用。
func (ev *ExtendableEvent) WaitUntil(task func(ctx context.Context) error) {
	ev.wg.Add(1)
	go func() {
		defer ev.wg.Done()
		if err := task(ev.ctx); err != nil {
			ev.mu.Lock()
			ev.errs = append(ev.errs, err)
			ev.mu.Unlock()
		}
	}()
}

// Wait 阻塞直到全部登记的工作结束，返回合并后的错误。
func (ev *ExtendableEvent) Wait() error {
	ev.wg.Wait()
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return errors.Join(ev.errs...)
}

// InstallEvent 触发预缓存。
type InstallEvent struct {
	ExtendableEvent
}

// NewInstallEvent creates an install event bound to ctx.
func NewInstallEvent(ctx context.Context) *InstallEvent {
	return &InstallEvent{ExtendableEvent: ExtendableEvent{ctx: eventContext(ctx)}}
}

// ActivateEvent 触发旧缓存代清理。
type ActivateEvent struct {
	ExtendableEvent
}

// NewActivateEvent creates an activate event bound to ctx.
func NewActivateEvent(ctx context.Context) *ActivateEvent {
	return &ActivateEvent{ExtendableEvent: ExtendableEvent{ctx: eventContext(ctx)}}
}

// FetchEvent 表示一次被拦截的请求。未调用 RespondWith 的事件由宿主透传。
type FetchEvent struct {
	ExtendableEvent

	Request *http.Request
	// Navigate 标记页面导航请求；NewFetchEvent 依据 Sec-Fetch-Mode 预填。
	Navigate bool

	mu        sync.Mutex
	responded bool
	done      chan struct{}
	resp      *Response
	err       error
}

// NewFetchEvent wraps req; Navigate is set when the browser sent Sec-Fetch-Mode: navigate.
func NewFetchEvent(ctx context.Context, req *http.Request) *FetchEvent {
	return &FetchEvent{
		ExtendableEvent: ExtendableEvent{ctx: eventContext(ctx)},
		Request:         req,
		Navigate:        strings.EqualFold(req.Header.Get("Sec-Fetch-Mode"), "navigate"),
		done:            make(chan struct{}),
	}
}

// RespondWith 登记产生最终响应的任务，该任务同时计入 Wait。重复调用会 panic。
func (ev *FetchEvent) RespondWith(task func(ctx context.Context) (*Response, error)) {
	ev.mu.Lock()
	if ev.responded {
		ev.mu.Unlock()
		panic("engine: RespondWith called twice")
	}
	ev.responded = true
	ev.mu.Unlock()

	ev.WaitUntil(func(ctx context.Context) error {
		defer close(ev.done)
		resp, err := task(ctx)
		ev.resp, ev.err = resp, err
		return err
	})
}

// Handled 报告处理函数是否接管了该请求。
func (ev *FetchEvent) Handled() bool {
	ev.mu.Lock()
	defer ev.mu.Unlock()
	return ev.responded
}

// Response 等待 RespondWith 任务完成并返回其结果；未接管时返回 ErrNotHandled。
func (ev *FetchEvent) Response() (*Response, error) {
	if !ev.Handled() {
		return nil, ErrNotHandled
	}
	<-ev.done
	return ev.resp, ev.err
}
