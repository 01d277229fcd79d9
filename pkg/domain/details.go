package domain

// EventDetails 各阶段事件明细的统一接口，每个阶段一个变体
type EventDetails interface {
	Kind() EventKind
	Common() *DetailsBase
}

// DetailsBase 所有阶段共有的明细字段
type DetailsBase struct {
	ID           RequestID
	URL          string
	Method       string
	ResourceType string
	Referrer     string
	Timestamp    int64 // UnixMilli
}

func (b *DetailsBase) Common() *DetailsBase { return b }

// BeforeRequestDetails 请求发起前
type BeforeRequestDetails struct {
	DetailsBase
	UploadData []byte
}

func (*BeforeRequestDetails) Kind() EventKind { return EventBeforeRequest }

// BeforeSendHeadersDetails 请求头发送前
type BeforeSendHeadersDetails struct {
	DetailsBase
	RequestHeaders Header
}

func (*BeforeSendHeadersDetails) Kind() EventKind { return EventBeforeSendHeaders }

// SendHeadersDetails 请求头已发送
type SendHeadersDetails struct {
	DetailsBase
	RequestHeaders Header
}

func (*SendHeadersDetails) Kind() EventKind { return EventSendHeaders }

// HeadersReceivedDetails 收到响应头
type HeadersReceivedDetails struct {
	DetailsBase
	StatusLine      string
	StatusCode      int
	ResponseHeaders Header
}

func (*HeadersReceivedDetails) Kind() EventKind { return EventHeadersReceived }

// BeforeRedirectDetails 即将跟随重定向
type BeforeRedirectDetails struct {
	DetailsBase
	RedirectURL     string
	StatusLine      string
	StatusCode      int
	ResponseHeaders Header
	IP              string
	FromCache       bool
}

func (*BeforeRedirectDetails) Kind() EventKind { return EventBeforeRedirect }

// ResponseStartedDetails 响应体开始下发
type ResponseStartedDetails struct {
	DetailsBase
	StatusLine      string
	StatusCode      int
	ResponseHeaders Header
	IP              string
	FromCache       bool
}

func (*ResponseStartedDetails) Kind() EventKind { return EventResponseStarted }

// CompletedDetails 请求正常完成
type CompletedDetails struct {
	DetailsBase
	StatusLine      string
	StatusCode      int
	ResponseHeaders Header
	IP              string
	FromCache       bool
}

func (*CompletedDetails) Kind() EventKind { return EventCompleted }

// ErrorOccurredDetails 请求因错误终止
type ErrorOccurredDetails struct {
	DetailsBase
	Error     string
	IP        string
	FromCache bool
}

func (*ErrorOccurredDetails) Kind() EventKind { return EventErrorOccurred }

// Callback 宿主侧监听器逻辑的不透明句柄，由监听器调用服务解释
type Callback any

// ResponseRecord 监听器应答记录，nil 指针字段表示未触碰
type ResponseRecord struct {
	Cancel          bool
	RedirectURL     string
	RequestHeaders  *Header
	ResponseHeaders *Header
	StatusLine      string
}
