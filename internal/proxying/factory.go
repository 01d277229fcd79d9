// Package proxying 实现代理式请求管线：工厂持有全部在途请求状态机，
// 按 request_id 路由传输层回调，并在终态统一释放。
package proxying

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"reqgate/internal/dispatch"
	"reqgate/internal/logger"
	"reqgate/internal/registry"
	"reqgate/internal/storage"
	"reqgate/internal/transport"
	"reqgate/pkg/domain"
	"reqgate/pkg/model"
)

// Client 原始调用方：接收最终响应头、响应体与完成通知
type Client interface {
	OnResponse(resp *domain.Response)
	OnData(p []byte)
	OnComplete(err error)
}

// Config 工厂配置
type Config struct {
	Session    domain.SessionID
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Transport  transport.Transport
	Journal    *storage.Journal  // 可为 nil
	Events     chan<- model.Event // 可为 nil
	Logger     logger.Logger
}

// Factory 在途请求状态机的唯一属主
type Factory struct {
	session    domain.SessionID
	registry   *registry.Registry
	dispatcher *dispatch.Dispatcher
	transport  transport.Transport
	journal    *storage.Journal
	events     chan<- model.Event
	log        logger.Logger

	nextID atomic.Uint64

	mu          sync.Mutex
	requests    map[domain.RequestID]*InProgressRequest
	byTransport map[domain.TransportID]domain.RequestID
}

// NewFactory 创建工厂
func NewFactory(cfg Config) *Factory {
	l := cfg.Logger
	if l == nil {
		l = logger.NewNop()
	}
	return &Factory{
		session:     cfg.Session,
		registry:    cfg.Registry,
		dispatcher:  cfg.Dispatcher,
		transport:   cfg.Transport,
		journal:     cfg.Journal,
		events:      cfg.Events,
		log:         l,
		requests:    make(map[domain.RequestID]*InProgressRequest),
		byTransport: make(map[domain.TransportID]domain.RequestID),
	}
}

// SetTransport 绑定传输层，须在首个请求创建前完成。
// 工厂同时充当传输层的同步头部通道，二者相互引用，只能分两步组装。
func (f *Factory) SetTransport(t transport.Transport) {
	f.transport = t
}

// CreateRequest 分配 request_id 并启动状态机，立即返回，管线异步推进。
// ctx 取消视为原始调用方断开。
func (f *Factory) CreateRequest(ctx context.Context, req *domain.Request, client Client) domain.RequestID {
	id := domain.RequestID(f.nextID.Add(1))
	r := newInProgressRequest(f, id, req, client, ctx)

	f.mu.Lock()
	f.requests[id] = r
	f.mu.Unlock()

	f.sendEvent(model.Event{Type: model.EventIntercepted, Request: id, URL: req.URL, Method: req.Method})
	f.log.Debug("接收新请求", "requestID", uint64(id), "url", req.URL, "method", req.Method)

	go r.run()
	return id
}

// OnTransportAssignedId 记录传输层标识到 request_id 的映射
func (f *Factory) OnTransportAssignedId(id domain.RequestID, tid domain.TransportID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.requests[id]; !ok {
		f.log.Warn("传输层标识指向未知请求，丢弃", "requestID", uint64(id), "transportID", string(tid))
		return
	}
	f.byTransport[tid] = id
}

// lookupByTransport 按传输层标识定位状态机，未命中返回 nil
func (f *Factory) lookupByTransport(tid domain.TransportID) *InProgressRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	id, ok := f.byTransport[tid]
	if !ok {
		return nil
	}
	return f.requests[id]
}

// OnRequestHeadersSent 同步头部通道：请求头已发出。
// 传输层可能在本地清理后才送达，未知标识按丢弃处理，不致命。
func (f *Factory) OnRequestHeadersSent(tid domain.TransportID, headers domain.Header) {
	r := f.lookupByTransport(tid)
	if r == nil {
		f.log.Debug("丢弃迟到的头部通道事件", "transportID", string(tid), "kind", "requestHeadersSent")
		return
	}
	r.onRequestHeadersSent(headers)
}

// OnResponseHeadersReceived 同步头部通道：原始响应头到达
func (f *Factory) OnResponseHeadersReceived(tid domain.TransportID, resp *domain.Response) {
	r := f.lookupByTransport(tid)
	if r == nil {
		f.log.Debug("丢弃迟到的头部通道事件", "transportID", string(tid), "kind", "responseHeadersReceived")
		return
	}
	r.onRawResponseHeaders(resp)
}

// releaseTransport 解除单个传输层标识的映射，流被替换后调用
func (f *Factory) releaseTransport(tid domain.TransportID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.byTransport, tid)
}

// ReleaseRequest 释放状态机，重复调用为无操作
func (f *Factory) ReleaseRequest(id domain.RequestID) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.requests[id]; !ok {
		f.log.Warn("重复释放请求", "requestID", uint64(id))
		return
	}
	delete(f.requests, id)
	for tid, rid := range f.byTransport {
		if rid == id {
			delete(f.byTransport, tid)
		}
	}
	f.log.Debug("释放请求", "requestID", uint64(id), "live", len(f.requests))
}

// Live 在途请求数
func (f *Factory) Live() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

// sendEvent 安全发送事件到通道，自动添加时间戳
func (f *Factory) sendEvent(evt model.Event) {
	if f.events == nil {
		return
	}
	evt.Session = f.session
	evt.Timestamp = time.Now().UnixMilli()
	select {
	case f.events <- evt:
	default:
	}
}

// record 写入终态流水
func (f *Factory) record(r *InProgressRequest, outcome string, statusCode int, errMsg string) {
	if f.journal == nil {
		return
	}
	f.journal.Record(&storage.RequestRecord{
		RequestID:  uint64(r.id),
		Session:    string(f.session),
		URL:        r.rc.URL,
		Method:     r.rc.Method,
		StatusCode: statusCode,
		Outcome:    outcome,
		Error:      errMsg,
		DurationMS: time.Since(r.start).Milliseconds(),
	})
}
