// Package session 管理隔离的拦截上下文：每个会话持有自己的注册表、
// 派发器与请求工厂，互不共享。
package session

import (
	"sync"
	"time"

	"reqgate/internal/dispatch"
	"reqgate/internal/invoke"
	"reqgate/internal/logger"
	"reqgate/internal/proxying"
	"reqgate/internal/registry"
	"reqgate/internal/storage"
	"reqgate/internal/transport"
	"reqgate/pkg/domain"
	"reqgate/pkg/model"
)

// Session 单个拦截上下文
type Session struct {
	ID         domain.SessionID
	Registry   *registry.Registry
	Dispatcher *dispatch.Dispatcher
	Invoker    *invoke.Local
	Factory    *proxying.Factory
	Journal    *storage.Journal
	Events     chan model.Event
	Created    time.Time
}

// Close 释放会话资源
func (s *Session) Close() error {
	return s.Journal.Close()
}

// Manager 全局会话管理器
type Manager struct {
	mu       sync.RWMutex
	sessions map[domain.SessionID]*Session
	log      logger.Logger
}

// NewManager 创建会话管理器
func NewManager(l logger.Logger) *Manager {
	if l == nil {
		l = logger.NewNop()
	}
	return &Manager{
		sessions: make(map[domain.SessionID]*Session),
		log:      l,
	}
}

// Create 创建并注册新会话
func (m *Manager) Create(id domain.SessionID, cfg domain.SessionConfig) (*Session, error) {
	reg := registry.New(m.log)
	inv := invoke.NewLocal(m.log)
	disp := dispatch.New(reg, inv, time.Duration(cfg.ListenerWaitMS)*time.Millisecond, m.log)

	capacity := cfg.EventCapacity
	if capacity <= 0 {
		capacity = 256
	}
	events := make(chan model.Event, capacity)

	var journal *storage.Journal
	if cfg.JournalDSN != "" {
		var err error
		journal, err = storage.Open(cfg.JournalDSN, cfg.JournalPrefix, m.log)
		if err != nil {
			return nil, err
		}
	}

	factory := proxying.NewFactory(proxying.Config{
		Session:    id,
		Registry:   reg,
		Dispatcher: disp,
		Journal:    journal,
		Events:     events,
		Logger:     m.log,
	})
	factory.SetTransport(transport.NewHTTP(factory, m.log))

	s := &Session{
		ID:         id,
		Registry:   reg,
		Dispatcher: disp,
		Invoker:    inv,
		Factory:    factory,
		Journal:    journal,
		Events:     events,
		Created:    time.Now(),
	}

	m.mu.Lock()
	m.sessions[id] = s
	m.mu.Unlock()

	m.log.Info("创建业务会话", "sessionID", string(id))
	return s, nil
}

// Get 获取会话
func (m *Manager) Get(id domain.SessionID) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete 销毁会话
func (m *Manager) Delete(id domain.SessionID) {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if ok {
		if err := s.Close(); err != nil {
			m.log.Err(err, "关闭会话资源失败", "sessionID", string(id))
		}
	}
	m.log.Info("销毁业务会话", "sessionID", string(id))
}

// List 返回所有活动会话
func (m *Manager) List() []*Session {
	m.mu.RLock()
	defer m.mu.RUnlock()
	list := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	return list
}
