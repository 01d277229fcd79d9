// Package registry 维护每个事件种类至多一条的监听器注册表。
package registry

import (
	"sync"

	"reqgate/internal/logger"
	"reqgate/pkg/domain"
	"reqgate/pkg/urlmatch"
)

// Registration 单条监听器注册信息
type Registration struct {
	Kind     domain.EventKind
	Patterns urlmatch.Set
	Callback domain.Callback
}

// Registry 监听器注册表。注册由宿主配置路径单写，派发侧并发读取快照。
type Registry struct {
	mu   sync.RWMutex
	regs [domain.EventKindCount]*Registration
	log  logger.Logger
}

// New 创建注册表
func New(l logger.Logger) *Registry {
	if l == nil {
		l = logger.NewNop()
	}
	return &Registry{log: l}
}

// Set 注册或替换指定事件的监听器，cb 为 nil 时移除注册
func (r *Registry) Set(kind domain.EventKind, patterns urlmatch.Set, cb domain.Callback) {
	if kind < 0 || kind >= domain.EventKindCount {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if cb == nil {
		r.regs[kind] = nil
		r.log.Debug("移除监听器", "event", kind.String())
		return
	}
	r.regs[kind] = &Registration{Kind: kind, Patterns: patterns, Callback: cb}
	r.log.Debug("注册监听器", "event", kind.String(), "patterns", len(patterns))
}

// HasAny 是否存在任一监听器
func (r *Registry) HasAny() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, reg := range r.regs {
		if reg != nil {
			return true
		}
	}
	return false
}

// NeedsHeaderVisibility 是否有监听器需要同步头部通道
func (r *Registry) NeedsHeaderVisibility() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.regs[domain.EventBeforeSendHeaders] != nil || r.regs[domain.EventHeadersReceived] != nil
}

// FindMatching 返回命中 URL 过滤器的监听器回调快照
func (r *Registry) FindMatching(kind domain.EventKind, rawURL string) (domain.Callback, bool) {
	if kind < 0 || kind >= domain.EventKindCount {
		return nil, false
	}
	r.mu.RLock()
	reg := r.regs[kind]
	r.mu.RUnlock()
	if reg == nil {
		return nil, false
	}
	if !reg.Patterns.Matches(rawURL) {
		return nil, false
	}
	return reg.Callback, true
}
