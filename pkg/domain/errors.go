package domain

import "errors"

var (
	// ErrBlockedByClient 阻塞阶段监听器要求取消请求
	ErrBlockedByClient = errors.New("blocked by client")
	// ErrAborted 原始调用方断开连接
	ErrAborted = errors.New("request aborted")
	// ErrListenerGone 监听器在调用过程中失效
	ErrListenerGone = errors.New("listener gone")
	// ErrSessionNotFound 会话不存在
	ErrSessionNotFound = errors.New("session not found")
)
