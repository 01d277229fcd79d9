// Package dispatch 负责把单次监听器调用结果送回状态机：查找匹配监听器、
// 构造明细、异步调用并在应答/超时/取消三者之一到达时恢复。
package dispatch

import (
	"context"
	"time"

	"reqgate/internal/invoke"
	"reqgate/internal/logger"
	"reqgate/internal/registry"
	"reqgate/pkg/domain"
)

// Outcome 阻塞派发的裁决结果
type Outcome int

const (
	// OutcomeProceed 按当前（可能已被修改的）请求继续
	OutcomeProceed Outcome = iota
	// OutcomeCancel 监听器要求取消请求
	OutcomeCancel
	// OutcomeRedirect 监听器给出了重定向目标
	OutcomeRedirect
)

func (o Outcome) String() string {
	switch o {
	case OutcomeCancel:
		return "cancel"
	case OutcomeRedirect:
		return "redirect"
	default:
		return "proceed"
	}
}

// Dispatcher 事件派发器。同一 request_id 的阻塞派发不会并发发生，
// 该约束由状态机的顺序推进保证，派发器本身无须加锁。
type Dispatcher struct {
	registry *registry.Registry
	invoker  invoke.Invoker
	wait     time.Duration // 0 表示无限等待
	log      logger.Logger
}

// New 创建派发器，wait 为阻塞监听器应答的等待上限
func New(reg *registry.Registry, inv invoke.Invoker, wait time.Duration, l logger.Logger) *Dispatcher {
	if l == nil {
		l = logger.NewNop()
	}
	return &Dispatcher{registry: reg, invoker: inv, wait: wait, log: l}
}

// DispatchBlocking 运行一次可阻塞的监听器调用并把裁决应用到请求上下文。
// 无匹配监听器、监听器失效或应答超时都按放行处理，绝不让阶段永久挂起。
func (d *Dispatcher) DispatchBlocking(ctx context.Context, rc *domain.RequestContext, details domain.EventDetails) (Outcome, error) {
	kind := details.Kind()
	cb, ok := d.registry.FindMatching(kind, rc.URL)
	if !ok {
		return OutcomeProceed, nil
	}

	wire := EncodeDetails(details)
	resCh := d.invoker.Invoke(ctx, cb, wire)

	var timeout <-chan time.Time
	if d.wait > 0 {
		t := time.NewTimer(d.wait)
		defer t.Stop()
		timeout = t.C
	}

	select {
	case res := <-resCh:
		if res.Err != nil {
			// 失败放行
			d.log.Warn("监听器调用失败，按放行处理", "event", kind.String(), "requestID", uint64(rc.ID), "error", res.Err)
			return OutcomeProceed, nil
		}
		rec := ParseResponse(res.Payload)
		return d.apply(kind, rc, rec), nil
	case <-timeout:
		d.log.Warn("监听器应答超时，按放行处理", "event", kind.String(), "requestID", uint64(rc.ID), "wait", d.wait)
		return OutcomeProceed, nil
	case <-ctx.Done():
		// 请求上下文已销毁（调用方断开），交由状态机清理
		return OutcomeProceed, ctx.Err()
	}
}

// DispatchNotify 仅通知型派发，不等待也不接受任何修改
func (d *Dispatcher) DispatchNotify(ctx context.Context, rc *domain.RequestContext, details domain.EventDetails) {
	kind := details.Kind()
	cb, ok := d.registry.FindMatching(kind, rc.URL)
	if !ok {
		return
	}
	wire := EncodeDetails(details)
	resCh := d.invoker.Invoke(ctx, cb, wire)
	go func() {
		if res, ok := <-resCh; ok && res.Err != nil {
			d.log.Debug("通知型监听器返回错误", "event", kind.String(), "requestID", uint64(rc.ID), "error", res.Err)
		}
	}()
}

// apply 按事件种类把应答记录写回请求上下文并给出裁决
func (d *Dispatcher) apply(kind domain.EventKind, rc *domain.RequestContext, rec *domain.ResponseRecord) Outcome {
	if rec.Cancel {
		return OutcomeCancel
	}
	switch kind {
	case domain.EventBeforeRequest:
		if rec.RedirectURL != "" && rec.RedirectURL != rc.URL {
			rc.URL = rec.RedirectURL
			return OutcomeRedirect
		}
	case domain.EventBeforeSendHeaders:
		if rec.RequestHeaders != nil {
			rc.Headers = *rec.RequestHeaders
		}
	case domain.EventHeadersReceived:
		if rc.Response == nil {
			rc.Response = domain.NewResponse()
		}
		if rec.ResponseHeaders != nil {
			rc.Response.Headers = *rec.ResponseHeaders
		}
		if rec.StatusLine != "" {
			rc.Response.StatusLine = rec.StatusLine
			if code := statusCodeFromLine(rec.StatusLine); code > 0 {
				rc.Response.StatusCode = code
			}
		}
		if rec.RedirectURL != "" {
			// 监听器主导的重定向，独立于 Location 头
			rc.RedirectURL = rec.RedirectURL
			return OutcomeRedirect
		}
	}
	return OutcomeProceed
}
