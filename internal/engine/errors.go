package engine

import (
	"errors"
	"fmt"
)

var (
	// ErrInstallFailed 表示预缓存未能完整完成，安装阶段失败。
	ErrInstallFailed = errors.New("install failed")

	// ErrNotHandled 表示 FetchEvent 未调用 RespondWith，宿主应直接透传请求。
	ErrNotHandled = errors.New("fetch event not handled")
)

// NetworkError 包装网络层失败（拨号、DNS、超时、取消），HTTP 错误状态码不属于此类。
type NetworkError struct {
	URL string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network request to %s failed: %v", e.URL, e.Err)
}

func (e *NetworkError) Unwrap() error {
	return e.Err
}
