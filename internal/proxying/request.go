package proxying

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"reqgate/internal/dispatch"
	"reqgate/internal/logger"
	"reqgate/internal/transport"
	"reqgate/pkg/domain"
	"reqgate/pkg/model"
)

// State 状态机状态
type State int

const (
	StateCreated State = iota
	StateAwaitingBeforeRequest
	StateAwaitingBeforeSendHeaders
	StateStarted
	StateRedirecting
	StateAwaitingHeadersReceived
	StateResponseStreaming
	StateCompleted
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateCreated:
		return "created"
	case StateAwaitingBeforeRequest:
		return "awaitingBeforeRequest"
	case StateAwaitingBeforeSendHeaders:
		return "awaitingBeforeSendHeaders"
	case StateStarted:
		return "started"
	case StateRedirecting:
		return "redirecting"
	case StateAwaitingHeadersReceived:
		return "awaitingHeadersReceived"
	case StateResponseStreaming:
		return "responseStreaming"
	case StateCompleted:
		return "completed"
	case StateErrored:
		return "errored"
	default:
		return "unknown"
	}
}

// InProgressRequest 驱动单个请求按序走完各拦截阶段的状态机。
// 状态机在独立 goroutine 中以显式状态循环推进，同一请求的阻塞派发
// 因此天然不会并发。
type InProgressRequest struct {
	id      domain.RequestID
	factory *Factory
	rc      *domain.RequestContext
	client  Client
	ctx     context.Context
	log     logger.Logger
	start   time.Time

	state           State
	stream          transport.Stream
	needFollow      bool // 重定向重入后改用 FollowRedirect 而非新建连接
	pendingRedirect *transport.Event

	sentHeadersCh chan domain.Header
	rawResponse   atomic.Pointer[domain.Response]
}

func newInProgressRequest(f *Factory, id domain.RequestID, req *domain.Request, client Client, ctx context.Context) *InProgressRequest {
	rc := domain.NewRequestContext(id, req)
	rc.UsingHeaderClient = f.registry.NeedsHeaderVisibility()
	return &InProgressRequest{
		id:            id,
		factory:       f,
		rc:            rc,
		client:        client,
		ctx:           ctx,
		log:           f.log.With("requestID", uint64(id)),
		start:         time.Now(),
		state:         StateCreated,
		sentHeadersCh: make(chan domain.Header, 2),
	}
}

// run 显式状态循环：每一步接收当前上下文与事件裁决，返回下一状态
func (r *InProgressRequest) run() {
	r.state = StateAwaitingBeforeRequest
	for {
		r.log.Debug("状态推进", "state", r.state.String())
		switch r.state {
		case StateAwaitingBeforeRequest:
			r.state = r.stepBeforeRequest()
		case StateAwaitingBeforeSendHeaders:
			r.state = r.stepBeforeSendHeaders()
		case StateStarted:
			r.state = r.stepStarted()
		case StateRedirecting:
			r.state = r.stepRedirecting()
		case StateAwaitingHeadersReceived:
			r.state = r.stepHeadersReceived()
		case StateResponseStreaming:
			r.state = r.stepStreaming()
		case StateCompleted, StateErrored:
			return
		default:
			r.log.Error("未知状态，终止请求", "state", int(r.state))
			r.state = r.fail(fmt.Errorf("invalid state %d", r.state), model.EventFailed)
		}
	}
}

func (r *InProgressRequest) base() domain.DetailsBase {
	return domain.DetailsBase{
		ID:           r.id,
		URL:          r.rc.URL,
		Method:       r.rc.Method,
		ResourceType: r.rc.ResourceType,
		Referrer:     r.rc.Referrer,
		Timestamp:    time.Now().UnixMilli(),
	}
}

func (r *InProgressRequest) notify(details domain.EventDetails) {
	r.factory.dispatcher.DispatchNotify(r.ctx, r.rc, details)
}

func (r *InProgressRequest) currentRequest() *domain.Request {
	return &domain.Request{
		URL:          r.rc.URL,
		Method:       r.rc.Method,
		Headers:      r.rc.Headers.Clone(),
		Body:         r.rc.Body,
		ResourceType: r.rc.ResourceType,
		Referrer:     r.rc.Referrer,
	}
}

// stepBeforeRequest 运行 before-request 阻塞派发。
// 监听器给出的新 URL 按直接重写处理，不重入本阶段。
func (r *InProgressRequest) stepBeforeRequest() State {
	details := &domain.BeforeRequestDetails{DetailsBase: r.base(), UploadData: r.rc.Body}
	out, err := r.factory.dispatcher.DispatchBlocking(r.ctx, r.rc, details)
	if err != nil {
		return r.abort()
	}
	switch out {
	case dispatch.OutcomeCancel:
		return r.blocked()
	case dispatch.OutcomeRedirect:
		r.log.Debug("before-request 改写了 URL", "url", r.rc.URL)
		r.factory.sendEvent(model.Event{Type: model.EventRedirected, Request: r.id, URL: r.rc.URL, Method: r.rc.Method, Stage: domain.EventBeforeRequest.String()})
	}
	return StateAwaitingBeforeSendHeaders
}

// stepBeforeSendHeaders 运行 before-send-headers 阻塞派发
func (r *InProgressRequest) stepBeforeSendHeaders() State {
	before := r.rc.Headers.Clone()
	details := &domain.BeforeSendHeadersDetails{DetailsBase: r.base(), RequestHeaders: before.Clone()}
	out, err := r.factory.dispatcher.DispatchBlocking(r.ctx, r.rc, details)
	if err != nil {
		return r.abort()
	}
	if out == dispatch.OutcomeCancel {
		return r.blocked()
	}
	if !headersEqual(before, r.rc.Headers) {
		r.factory.sendEvent(model.Event{Type: model.EventMutated, Request: r.id, URL: r.rc.URL, Method: r.rc.Method, Stage: domain.EventBeforeSendHeaders.String()})
	}
	return StateStarted
}

// stepStarted 打开（或跟随重定向后复用）传输连接并等待响应
func (r *InProgressRequest) stepStarted() State {
	if r.stream == nil {
		// 映射在传输层可能回调之前建立，否则头部通道事件会按未知标识被丢弃
		stream, err := r.factory.transport.Connect(r.ctx, r.currentRequest(), transport.ConnectOptions{
			WantHeaderClient: r.rc.UsingHeaderClient,
			OnTransportID: func(tid domain.TransportID) {
				r.factory.OnTransportAssignedId(r.id, tid)
			},
		})
		if err != nil {
			return r.fail(err, model.EventFailed)
		}
		r.stream = stream
		if !r.rc.UsingHeaderClient {
			// 无同步头部通道时用手头的头部直接通报
			r.notify(&domain.SendHeadersDetails{DetailsBase: r.base(), RequestHeaders: r.rc.Headers.Clone()})
		}
	} else if r.needFollow {
		r.needFollow = false
		if err := r.stream.FollowRedirect(nil, r.rc.Headers.Clone(), r.rc.URL); err != nil {
			return r.fail(err, model.EventFailed)
		}
		if !r.rc.UsingHeaderClient {
			r.notify(&domain.SendHeadersDetails{DetailsBase: r.base(), RequestHeaders: r.rc.Headers.Clone()})
		}
	}

	for {
		select {
		case h := <-r.sentHeadersCh:
			r.notify(&domain.SendHeadersDetails{DetailsBase: r.base(), RequestHeaders: h})
		case ev, ok := <-r.stream.Events():
			// 流事件可能与头部通道事件同时就绪，先清空后者保证 send-headers 先通报
			r.drainSentHeaders()
			if !ok {
				return r.fail(domain.ErrAborted, model.EventFailed)
			}
			switch ev.Type {
			case transport.EventRedirect:
				red := ev
				r.pendingRedirect = &red
				return StateRedirecting
			case transport.EventHeaders:
				r.rc.Response = ev.Response
				return StateAwaitingHeadersReceived
			case transport.EventComplete:
				if ev.Err != nil {
					return r.fail(ev.Err, model.EventFailed)
				}
				return r.fail(fmt.Errorf("transport completed before headers"), model.EventFailed)
			}
		case <-r.ctx.Done():
			return r.abort()
		}
	}
}

// stepRedirecting 传输层重定向：通报 before-redirect，
// 无监听器时直接跟随，否则回到 before-request 重走管线
func (r *InProgressRequest) stepRedirecting() State {
	ev := r.pendingRedirect
	r.pendingRedirect = nil
	resp := ev.Response

	r.notify(&domain.BeforeRedirectDetails{
		DetailsBase:     r.base(),
		RedirectURL:     ev.RedirectURL,
		StatusLine:      resp.StatusLine,
		StatusCode:      resp.StatusCode,
		ResponseHeaders: resp.Headers.Clone(),
		IP:              resp.RemoteIP,
		FromCache:       resp.FromCache,
	})
	r.factory.sendEvent(model.Event{Type: model.EventRedirected, Request: r.id, URL: ev.RedirectURL, Method: r.rc.Method, Stage: domain.EventBeforeRedirect.String(), StatusCode: resp.StatusCode})

	r.rc.URL = ev.RedirectURL
	r.rc.Response = nil
	r.rc.RedirectURL = ""

	if !r.factory.registry.HasAny() {
		// 无监听器关心后续阶段，直接跟随
		if err := r.stream.FollowRedirect(nil, nil, ""); err != nil {
			return r.fail(err, model.EventFailed)
		}
		return StateStarted
	}

	r.needFollow = true
	return StateAwaitingBeforeRequest
}

// stepHeadersReceived 运行 headers-received 阻塞派发并下发最终响应头
func (r *InProgressRequest) stepHeadersReceived() State {
	resp := r.rc.Response
	beforeLine := resp.StatusLine
	beforeHeaders := resp.Headers.Clone()
	// 头部通道活跃时以传输层回传的原始快照为准
	orig := resp
	if raw := r.rawResponse.Load(); raw != nil {
		orig = raw
	}
	details := &domain.HeadersReceivedDetails{
		DetailsBase:     r.base(),
		StatusLine:      orig.StatusLine,
		StatusCode:      orig.StatusCode,
		ResponseHeaders: orig.Headers.Clone(),
	}
	out, err := r.factory.dispatcher.DispatchBlocking(r.ctx, r.rc, details)
	if err != nil {
		return r.abort()
	}
	switch out {
	case dispatch.OutcomeCancel:
		return r.blocked()
	case dispatch.OutcomeRedirect:
		// 监听器主导的重定向，独立于 Location 头；原有流作废，重连走管线
		target := r.rc.RedirectURL
		r.rc.RedirectURL = ""
		r.notify(&domain.BeforeRedirectDetails{
			DetailsBase:     r.base(),
			RedirectURL:     target,
			StatusLine:      resp.StatusLine,
			StatusCode:      resp.StatusCode,
			ResponseHeaders: resp.Headers.Clone(),
			IP:              resp.RemoteIP,
			FromCache:       resp.FromCache,
		})
		r.factory.sendEvent(model.Event{Type: model.EventRedirected, Request: r.id, URL: target, Method: r.rc.Method, Stage: domain.EventHeadersReceived.String(), StatusCode: resp.StatusCode})
		// 被替换流的映射与原始头部快照一并作废，阻断迟到回调
		r.factory.releaseTransport(r.stream.ID())
		r.stream.Abort()
		r.stream = nil
		r.rawResponse.Store(nil)
		r.needFollow = false
		r.rc.URL = target
		r.rc.Response = nil
		return StateAwaitingBeforeRequest
	}

	final := r.rc.Response
	if final.StatusLine != beforeLine || !headersEqual(beforeHeaders, final.Headers) {
		r.factory.sendEvent(model.Event{Type: model.EventMutated, Request: r.id, URL: r.rc.URL, Method: r.rc.Method, Stage: domain.EventHeadersReceived.String(), StatusCode: final.StatusCode})
	}
	r.client.OnResponse(final)
	r.notify(&domain.ResponseStartedDetails{
		DetailsBase:     r.base(),
		StatusLine:      final.StatusLine,
		StatusCode:      final.StatusCode,
		ResponseHeaders: final.Headers.Clone(),
		IP:              final.RemoteIP,
		FromCache:       final.FromCache,
	})
	return StateResponseStreaming
}

// stepStreaming 响应体原样转发，本子系统不再拦截任何字节
func (r *InProgressRequest) stepStreaming() State {
	for {
		select {
		case ev, ok := <-r.stream.Events():
			if !ok {
				return r.abort()
			}
			switch ev.Type {
			case transport.EventBody:
				r.client.OnData(ev.Data)
			case transport.EventComplete:
				if ev.Err != nil {
					return r.fail(ev.Err, model.EventFailed)
				}
				return r.complete()
			}
		case <-r.ctx.Done():
			return r.abort()
		}
	}
}

// complete 正常终态
func (r *InProgressRequest) complete() State {
	if r.rc.Completed {
		return StateCompleted
	}
	r.rc.Completed = true
	resp := r.rc.Response
	code := 0
	if resp != nil {
		code = resp.StatusCode
		r.notify(&domain.CompletedDetails{
			DetailsBase:     r.base(),
			StatusLine:      resp.StatusLine,
			StatusCode:      resp.StatusCode,
			ResponseHeaders: resp.Headers.Clone(),
			IP:              resp.RemoteIP,
			FromCache:       resp.FromCache,
		})
	}
	r.client.OnComplete(nil)
	r.factory.record(r, "completed", code, "")
	r.factory.sendEvent(model.Event{Type: model.EventCompleted, Request: r.id, URL: r.rc.URL, Method: r.rc.Method, StatusCode: code})
	r.factory.ReleaseRequest(r.id)
	r.log.Debug("请求完成", "statusCode", code, "duration", time.Since(r.start))
	return StateCompleted
}

// blocked 阻塞阶段监听器取消请求
func (r *InProgressRequest) blocked() State {
	return r.failWith(domain.ErrBlockedByClient, "blocked", model.EventBlocked)
}

// fail 传输或内部错误终态
func (r *InProgressRequest) fail(err error, eventType string) State {
	return r.failWith(err, "failed", eventType)
}

func (r *InProgressRequest) failWith(err error, outcome, eventType string) State {
	if r.rc.Completed {
		return StateErrored
	}
	r.rc.Completed = true
	if r.stream != nil {
		r.stream.Abort()
	}
	r.notify(&domain.ErrorOccurredDetails{DetailsBase: r.base(), Error: err.Error()})
	r.client.OnComplete(err)
	r.factory.record(r, outcome, 0, err.Error())
	r.factory.sendEvent(model.Event{Type: eventType, Request: r.id, URL: r.rc.URL, Method: r.rc.Method, Error: err.Error()})
	r.factory.ReleaseRequest(r.id)
	r.log.Debug("请求终止", "outcome", outcome, "error", err)
	return StateErrored
}

// abort 调用方断开：中止传输并释放，不再派发任何事件
func (r *InProgressRequest) abort() State {
	if r.rc.Completed {
		return StateErrored
	}
	r.rc.Completed = true
	if r.stream != nil {
		r.stream.Abort()
	}
	r.factory.record(r, "aborted", 0, domain.ErrAborted.Error())
	r.factory.sendEvent(model.Event{Type: model.EventAborted, Request: r.id, URL: r.rc.URL, Method: r.rc.Method})
	r.factory.ReleaseRequest(r.id)
	r.log.Debug("调用方断开，请求中止")
	return StateErrored
}

// onRequestHeadersSent 同步头部通道回调，由传输层 I/O goroutine 交入
func (r *InProgressRequest) onRequestHeadersSent(headers domain.Header) {
	select {
	case r.sentHeadersCh <- headers:
	default:
	}
}

// drainSentHeaders 把积压的头部通道事件全部通报完
func (r *InProgressRequest) drainSentHeaders() {
	for {
		select {
		case h := <-r.sentHeadersCh:
			r.notify(&domain.SendHeadersDetails{DetailsBase: r.base(), RequestHeaders: h})
		default:
			return
		}
	}
}

// headersEqual 判断两组头部逐键相等
func headersEqual(a, b domain.Header) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// onRawResponseHeaders 同步头部通道回调：保存原始响应头快照
func (r *InProgressRequest) onRawResponseHeaders(resp *domain.Response) {
	r.rawResponse.Store(resp)
}
