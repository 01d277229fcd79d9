// Package service 聚合各内部组件，对外提供统一的引擎操作入口。
package service

import (
	"context"

	"github.com/google/uuid"

	"reqgate/internal/invoke"
	"reqgate/internal/logger"
	"reqgate/internal/proxying"
	"reqgate/internal/session"
	"reqgate/pkg/domain"
	"reqgate/pkg/model"
	"reqgate/pkg/urlmatch"
)

// Service 引擎服务实现
type Service struct {
	sessions *session.Manager
	log      logger.Logger
}

// New 创建服务
func New(l logger.Logger) *Service {
	if l == nil {
		l = logger.NewNop()
	}
	return &Service{
		sessions: session.NewManager(l),
		log:      l,
	}
}

// StartSession 启动会话
func (s *Service) StartSession(cfg domain.SessionConfig) (domain.SessionID, error) {
	id := domain.SessionID(uuid.NewString())
	if _, err := s.sessions.Create(id, cfg); err != nil {
		return "", err
	}
	return id, nil
}

// StopSession 停止会话
func (s *Service) StopSession(id domain.SessionID) error {
	if _, ok := s.sessions.Get(id); !ok {
		return domain.ErrSessionNotFound
	}
	s.sessions.Delete(id)
	return nil
}

// ListSessions 列出会话概要
func (s *Service) ListSessions() []model.SessionInfo {
	list := s.sessions.List()
	out := make([]model.SessionInfo, 0, len(list))
	for _, sess := range list {
		out = append(out, model.SessionInfo{
			ID:      sess.ID,
			Live:    sess.Factory.Live(),
			Created: sess.Created.UnixMilli(),
		})
	}
	return out
}

// SetListener 注册/替换/移除指定事件的监听器
func (s *Service) SetListener(id domain.SessionID, kind domain.EventKind, urls []string, listener invoke.Func) error {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return domain.ErrSessionNotFound
	}
	if listener == nil {
		sess.Registry.Set(kind, nil, nil)
		return nil
	}
	patterns, err := urlmatch.ParseSet(urls)
	if err != nil {
		return err
	}
	sess.Registry.Set(kind, patterns, listener)
	return nil
}

// CreateRequest 把一次请求送入拦截管线
func (s *Service) CreateRequest(ctx context.Context, id domain.SessionID, req *domain.Request, client proxying.Client) (domain.RequestID, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return 0, domain.ErrSessionNotFound
	}
	return sess.Factory.CreateRequest(ctx, req, client), nil
}

// SubscribeEvents 订阅会话事件流
func (s *Service) SubscribeEvents(id domain.SessionID) (<-chan model.Event, error) {
	sess, ok := s.sessions.Get(id)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	return sess.Events, nil
}
