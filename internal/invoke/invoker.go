// Package invoke 定义监听器调用服务边界：拦截引擎通过 Invoker 调起宿主侧
// 监听器逻辑，明细与应答均为线格式 JSON。
package invoke

import (
	"context"
	"fmt"

	"reqgate/internal/logger"
	"reqgate/pkg/domain"
)

// Result 一次监听器调用的结果
type Result struct {
	Payload []byte // 应答记录的线格式 JSON，可为空
	Err     error
}

// Invoker 监听器调用服务。Invoke 立即返回一次性结果通道，
// 通道保证恰好收到一个 Result 后关闭。
type Invoker interface {
	Invoke(ctx context.Context, cb domain.Callback, details []byte) <-chan Result
}

// Func 进程内监听器：接收明细线格式，返回应答线格式
type Func func(ctx context.Context, details []byte) ([]byte, error)

// Local 进程内调用服务实现
type Local struct {
	log logger.Logger
}

// NewLocal 创建进程内调用服务
func NewLocal(l logger.Logger) *Local {
	if l == nil {
		l = logger.NewNop()
	}
	return &Local{log: l}
}

// Invoke 在独立 goroutine 中运行监听器并投递结果
func (s *Local) Invoke(ctx context.Context, cb domain.Callback, details []byte) <-chan Result {
	ch := make(chan Result, 1)
	fn, ok := cb.(Func)
	if !ok || fn == nil {
		// 句柄已失效，由派发层按失败放行处理
		ch <- Result{Err: fmt.Errorf("%w: unexpected callback type %T", domain.ErrListenerGone, cb)}
		close(ch)
		return ch
	}
	go func() {
		defer close(ch)
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("监听器执行发生 panic", "panic", r)
				ch <- Result{Err: fmt.Errorf("listener panic: %v", r)}
			}
		}()
		payload, err := fn(ctx, details)
		ch <- Result{Payload: payload, Err: err}
	}()
	return ch
}
