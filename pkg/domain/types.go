package domain

import (
	"net/http"
	"strings"
)

type SessionID string
type RequestID uint64
type TransportID string

// EventKind 拦截阶段事件种类
type EventKind int

const (
	EventBeforeRequest EventKind = iota
	EventBeforeSendHeaders
	EventSendHeaders
	EventHeadersReceived
	EventBeforeRedirect
	EventResponseStarted
	EventErrorOccurred
	EventCompleted

	EventKindCount
)

var eventKindNames = [...]string{
	"beforeRequest",
	"beforeSendHeaders",
	"sendHeaders",
	"headersReceived",
	"beforeRedirect",
	"responseStarted",
	"errorOccurred",
	"completed",
}

func (k EventKind) String() string {
	if k < 0 || int(k) >= len(eventKindNames) {
		return "unknown"
	}
	return eventKindNames[k]
}

// Blocking 是否为可阻塞阶段（监听器可取消或修改请求）
func (k EventKind) Blocking() bool {
	return k == EventBeforeRequest || k == EventBeforeSendHeaders || k == EventHeadersReceived
}

// Header 封装通用的头部操作
type Header map[string]string

// Get 获取指定 Header 的值（大小写不敏感）
func (h Header) Get(key string) string {
	if h == nil {
		return ""
	}
	return h[strings.ToLower(key)]
}

// Set 设置指定 Header 的值（自动转换为小写）
func (h Header) Set(key, value string) {
	h[strings.ToLower(key)] = value
}

// Del 删除指定 Header
func (h Header) Del(key string) {
	delete(h, strings.ToLower(key))
}

// Clone 返回头部的浅拷贝
func (h Header) Clone() Header {
	out := make(Header, len(h))
	for k, v := range h {
		out[k] = v
	}
	return out
}

// Request 中立的请求模型
type Request struct {
	URL          string // 完整URL
	Method       string // HTTP方法
	Headers      Header // 请求头
	Body         []byte // 请求体原始数据
	ResourceType string // 资源类型 (如 Document, XHR)
	Referrer     string // 来源页
}

// Response 中立的响应模型
type Response struct {
	StatusCode int    // 状态码
	StatusLine string // 状态行 (如 "HTTP/1.1 200 OK")
	Headers    Header // 响应头
	RemoteIP   string // 服务端地址
	FromCache  bool   // 是否来自缓存
}

// NewRequest 创建初始化请求对象
func NewRequest() *Request {
	return &Request{Headers: make(Header)}
}

// NewResponse 创建初始化响应对象
func NewResponse() *Response {
	return &Response{
		StatusCode: http.StatusOK,
		StatusLine: "HTTP/1.1 200 OK",
		Headers:    make(Header),
	}
}

// RequestContext 单个请求在各阶段间流转的可变状态，由其状态机独占持有
type RequestContext struct {
	ID           RequestID
	URL          string
	Method       string
	Headers      Header
	Body         []byte
	ResourceType string
	Referrer     string

	Response    *Response // headers-received 之后可用
	RedirectURL string    // 监听器或传输层给出的重定向目标

	UsingHeaderClient bool // 是否要求传输层暴露同步头部通道
	Completed         bool // 终态保护，只置位一次
}

// NewRequestContext 从初始请求构造请求上下文
func NewRequestContext(id RequestID, req *Request) *RequestContext {
	headers := req.Headers
	if headers == nil {
		headers = make(Header)
	}
	return &RequestContext{
		ID:           id,
		URL:          req.URL,
		Method:       req.Method,
		Headers:      headers.Clone(),
		Body:         req.Body,
		ResourceType: req.ResourceType,
		Referrer:     req.Referrer,
	}
}

// SessionConfig 会话配置
type SessionConfig struct {
	ListenerWaitMS int    `json:"listenerWaitMS"` // 阻塞监听器等待超时，0 表示无限等待
	EventCapacity  int    `json:"eventCapacity"`  // 事件通道容量
	JournalDSN     string `json:"journalDSN"`     // 请求流水库 DSN，空则不落库
	JournalPrefix  string `json:"journalPrefix"`  // 流水库表前缀
}
