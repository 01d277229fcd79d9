package model

import "reqgate/pkg/domain"

// 事件类型
const (
	EventIntercepted = "intercepted"
	EventMutated     = "mutated"
	EventBlocked     = "blocked"
	EventRedirected  = "redirected"
	EventCompleted   = "completed"
	EventFailed      = "failed"
	EventAborted     = "aborted"
)

// Event 引擎对宿主的可观测事件
type Event struct {
	Type       string           `json:"type"`
	Session    domain.SessionID `json:"session"`
	Request    domain.RequestID `json:"request"`
	URL        string           `json:"url"`
	Method     string           `json:"method"`
	Stage      string           `json:"stage"`
	StatusCode int              `json:"statusCode"`
	Error      string           `json:"error"`
	Timestamp  int64            `json:"timestamp"`
}

// SessionInfo 会话概要
type SessionInfo struct {
	ID      domain.SessionID `json:"id"`
	Live    int              `json:"live"`    // 在途请求数
	Created int64            `json:"created"` // UnixMilli
}
