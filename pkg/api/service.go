package api

import (
	"context"

	"reqgate/internal/invoke"
	"reqgate/internal/logger"
	"reqgate/internal/proxying"
	"reqgate/internal/service"
	"reqgate/pkg/domain"
	"reqgate/pkg/model"
)

// Listener 宿主侧监听器：接收明细线格式，返回应答线格式（可为空）
type Listener = invoke.Func

// Filter 事件过滤器，URLs 为空表示匹配所有请求
type Filter struct {
	URLs []string `json:"urls"`
}

// Service 服务接口
type Service interface {
	// StartSession 启动会话
	StartSession(cfg domain.SessionConfig) (domain.SessionID, error)

	// StopSession 停止会话
	StopSession(id domain.SessionID) error

	// ListSessions 列出会话
	ListSessions() []model.SessionInfo

	// OnBeforeRequest 注册 before-request 监听器，listener 为 nil 时移除
	OnBeforeRequest(id domain.SessionID, filter *Filter, listener Listener) error

	// OnBeforeSendHeaders 注册 before-send-headers 监听器
	OnBeforeSendHeaders(id domain.SessionID, filter *Filter, listener Listener) error

	// OnSendHeaders 注册 send-headers 监听器
	OnSendHeaders(id domain.SessionID, filter *Filter, listener Listener) error

	// OnHeadersReceived 注册 headers-received 监听器
	OnHeadersReceived(id domain.SessionID, filter *Filter, listener Listener) error

	// OnBeforeRedirect 注册 before-redirect 监听器
	OnBeforeRedirect(id domain.SessionID, filter *Filter, listener Listener) error

	// OnResponseStarted 注册 response-started 监听器
	OnResponseStarted(id domain.SessionID, filter *Filter, listener Listener) error

	// OnErrorOccurred 注册 error-occurred 监听器
	OnErrorOccurred(id domain.SessionID, filter *Filter, listener Listener) error

	// OnCompleted 注册 completed 监听器
	OnCompleted(id domain.SessionID, filter *Filter, listener Listener) error

	// CreateRequest 把一次请求送入拦截管线
	CreateRequest(ctx context.Context, id domain.SessionID, req *domain.Request, client proxying.Client) (domain.RequestID, error)

	// SubscribeEvents 订阅事件
	SubscribeEvents(id domain.SessionID) (<-chan model.Event, error)
}

type svc struct {
	inner *service.Service
}

// NewService 创建并返回服务接口实现
func NewService(l logger.Logger) Service {
	return &svc{inner: service.New(l)}
}

func (s *svc) StartSession(cfg domain.SessionConfig) (domain.SessionID, error) {
	return s.inner.StartSession(cfg)
}

func (s *svc) StopSession(id domain.SessionID) error { return s.inner.StopSession(id) }

func (s *svc) ListSessions() []model.SessionInfo { return s.inner.ListSessions() }

func (s *svc) set(id domain.SessionID, kind domain.EventKind, filter *Filter, listener Listener) error {
	var urls []string
	if filter != nil {
		urls = filter.URLs
	}
	return s.inner.SetListener(id, kind, urls, listener)
}

func (s *svc) OnBeforeRequest(id domain.SessionID, filter *Filter, listener Listener) error {
	return s.set(id, domain.EventBeforeRequest, filter, listener)
}

func (s *svc) OnBeforeSendHeaders(id domain.SessionID, filter *Filter, listener Listener) error {
	return s.set(id, domain.EventBeforeSendHeaders, filter, listener)
}

func (s *svc) OnSendHeaders(id domain.SessionID, filter *Filter, listener Listener) error {
	return s.set(id, domain.EventSendHeaders, filter, listener)
}

func (s *svc) OnHeadersReceived(id domain.SessionID, filter *Filter, listener Listener) error {
	return s.set(id, domain.EventHeadersReceived, filter, listener)
}

func (s *svc) OnBeforeRedirect(id domain.SessionID, filter *Filter, listener Listener) error {
	return s.set(id, domain.EventBeforeRedirect, filter, listener)
}

func (s *svc) OnResponseStarted(id domain.SessionID, filter *Filter, listener Listener) error {
	return s.set(id, domain.EventResponseStarted, filter, listener)
}

func (s *svc) OnErrorOccurred(id domain.SessionID, filter *Filter, listener Listener) error {
	return s.set(id, domain.EventErrorOccurred, filter, listener)
}

func (s *svc) OnCompleted(id domain.SessionID, filter *Filter, listener Listener) error {
	return s.set(id, domain.EventCompleted, filter, listener)
}

func (s *svc) CreateRequest(ctx context.Context, id domain.SessionID, req *domain.Request, client proxying.Client) (domain.RequestID, error) {
	return s.inner.CreateRequest(ctx, id, req, client)
}

func (s *svc) SubscribeEvents(id domain.SessionID) (<-chan model.Event, error) {
	return s.inner.SubscribeEvents(id)
}
