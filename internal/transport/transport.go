// Package transport 定义状态机驱动的流式传输抽象及其 net/http 实现。
// 传输层可能运行在独立的 I/O goroutine 上，所有结果经由事件通道交回。
package transport

import (
	"context"

	"reqgate/pkg/domain"
)

// EventType 传输层事件类型
type EventType int

const (
	// EventHeaders 收到最终响应头
	EventHeaders EventType = iota
	// EventRedirect 收到重定向响应，等待 FollowRedirect 或 Abort
	EventRedirect
	// EventBody 一段响应体数据
	EventBody
	// EventComplete 传输结束，Err 为 nil 表示正常完成
	EventComplete
)

// Event 传输层产生的单个事件
type Event struct {
	Type        EventType
	Response    *domain.Response // Headers/Redirect 事件携带
	RedirectURL string           // Redirect 事件携带
	Data        []byte           // Body 事件携带
	Err         error            // Complete 事件携带
}

// Stream 单次请求的传输流
type Stream interface {
	// ID 传输层自行分配的标识，与派发器的 request_id 相互独立
	ID() domain.TransportID
	// Events 事件通道，EventComplete 之后不再有事件
	Events() <-chan Event
	// FollowRedirect 跟随重定向，可移除/覆盖请求头，newURL 非空时覆盖 Location
	FollowRedirect(removeHeaders []string, setHeaders domain.Header, newURL string) error
	// SetPriority 调整传输优先级
	SetPriority(priority int)
	// Pause 暂停响应体读取
	Pause()
	// Resume 恢复响应体读取
	Resume()
	// Abort 中止传输
	Abort()
}

// ConnectOptions 连接选项
type ConnectOptions struct {
	// WantHeaderClient 是否要求传输层通过同步头部通道回传原始头部
	WantHeaderClient bool
	// OnTransportID 在任何 I/O 开始前以传输层分配的标识回调，
	// 调用方借此先建立路由映射再放行传输
	OnTransportID func(id domain.TransportID)
}

// HeaderClient 同步头部通道：传输层在请求头发出与原始响应头到达时回调，
// 以传输层标识定位请求
type HeaderClient interface {
	OnRequestHeadersSent(id domain.TransportID, headers domain.Header)
	OnResponseHeadersReceived(id domain.TransportID, resp *domain.Response)
}

// Transport 传输层
type Transport interface {
	Connect(ctx context.Context, req *domain.Request, opts ConnectOptions) (Stream, error)
}
