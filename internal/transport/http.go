package transport

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptrace"
	"net/url"
	"strings"
	"sync"
	"sync/atomic"

	"reqgate/internal/logger"
	"reqgate/pkg/domain"
)

// maxRedirectHops 传输层自身的重定向跳数上限
const maxRedirectHops = 20

// HTTP 基于 net/http 的传输实现。重定向不在内部跟随，
// 而是作为事件交回状态机裁决。
type HTTP struct {
	client *http.Client
	hc     HeaderClient
	nextID atomic.Uint64
	log    logger.Logger
}

// NewHTTP 创建 HTTP 传输，hc 可为 nil
func NewHTTP(hc HeaderClient, l logger.Logger) *HTTP {
	if l == nil {
		l = logger.NewNop()
	}
	return &HTTP{
		client: &http.Client{
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		hc:  hc,
		log: l,
	}
}

// Connect 发起一次请求，立即返回流，实际 I/O 在独立 goroutine 中推进
func (t *HTTP) Connect(ctx context.Context, req *domain.Request, opts ConnectOptions) (Stream, error) {
	if req.URL == "" {
		return nil, fmt.Errorf("empty url")
	}
	sctx, cancel := context.WithCancel(ctx)
	s := &httpStream{
		id:       domain.TransportID(fmt.Sprintf("t-%d", t.nextID.Add(1))),
		client:   t.client,
		hc:       t.hc,
		wantHC:   opts.WantHeaderClient,
		events:   make(chan Event, 16),
		followCh: make(chan followArgs, 1),
		ctx:      sctx,
		cancel:   cancel,
		log:      t.log,
	}
	s.resumed.L = &s.mu
	// I/O goroutine 启动前回调标识，同步头部通道事件不会早于映射建立
	if opts.OnTransportID != nil {
		opts.OnTransportID(s.id)
	}
	go s.run(req)
	return s, nil
}

type followArgs struct {
	remove []string
	set    domain.Header
	newURL string
}

type httpStream struct {
	id       domain.TransportID
	client   *http.Client
	hc       HeaderClient
	wantHC   bool
	events   chan Event
	followCh chan followArgs
	ctx      context.Context
	cancel   context.CancelFunc
	log      logger.Logger

	mu      sync.Mutex
	paused  bool
	resumed sync.Cond
}

func (s *httpStream) ID() domain.TransportID { return s.id }
func (s *httpStream) Events() <-chan Event   { return s.events }
func (s *httpStream) SetPriority(int)        {}

func (s *httpStream) FollowRedirect(removeHeaders []string, setHeaders domain.Header, newURL string) error {
	select {
	case s.followCh <- followArgs{remove: removeHeaders, set: setHeaders, newURL: newURL}:
		return nil
	case <-s.ctx.Done():
		return s.ctx.Err()
	}
}

func (s *httpStream) Pause() {
	s.mu.Lock()
	s.paused = true
	s.mu.Unlock()
}

func (s *httpStream) Resume() {
	s.mu.Lock()
	s.paused = false
	s.mu.Unlock()
	s.resumed.Broadcast()
}

func (s *httpStream) Abort() {
	s.cancel()
	// 唤醒可能停在暂停门上的读取循环
	s.Resume()
}

// emit 向事件通道投递，流被中止时丢弃
func (s *httpStream) emit(ev Event) bool {
	select {
	case s.events <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

func (s *httpStream) run(initial *domain.Request) {
	defer close(s.events)

	cur := struct {
		url     string
		method  string
		headers domain.Header
		body    []byte
	}{initial.URL, initial.Method, initial.Headers.Clone(), initial.Body}

	hops := 0
	for {
		var remoteAddr string
		trace := &httptrace.ClientTrace{
			GotConn: func(info httptrace.GotConnInfo) {
				if info.Conn != nil {
					remoteAddr = info.Conn.RemoteAddr().String()
				}
			},
		}

		var bodyReader io.Reader
		if len(cur.body) > 0 {
			bodyReader = bytes.NewReader(cur.body)
		}
		httpReq, err := http.NewRequestWithContext(httptrace.WithClientTrace(s.ctx, trace), cur.method, cur.url, bodyReader)
		if err != nil {
			s.emit(Event{Type: EventComplete, Err: err})
			return
		}
		for k, v := range cur.headers {
			httpReq.Header.Set(k, v)
		}

		if s.wantHC && s.hc != nil {
			s.hc.OnRequestHeadersSent(s.id, cur.headers.Clone())
		}

		resp, err := s.client.Do(httpReq)
		if err != nil {
			s.emit(Event{Type: EventComplete, Err: err})
			return
		}

		if isRedirect(resp.StatusCode) {
			target := resolveLocation(cur.url, resp.Header.Get("Location"))
			nr := toNeutralResponse(resp, remoteAddr)
			io.Copy(io.Discard, resp.Body)
			resp.Body.Close()
			if !s.emit(Event{Type: EventRedirect, Response: nr, RedirectURL: target}) {
				return
			}
			select {
			case f := <-s.followCh:
				hops++
				if hops > maxRedirectHops {
					s.emit(Event{Type: EventComplete, Err: fmt.Errorf("too many redirects (%d)", hops)})
					return
				}
				next := target
				if f.newURL != "" {
					next = f.newURL
				}
				if next == "" {
					s.emit(Event{Type: EventComplete, Err: fmt.Errorf("redirect without location")})
					return
				}
				cur.url = next
				cur.method, cur.body = redirectMethod(resp.StatusCode, cur.method, cur.body)
				for _, k := range f.remove {
					cur.headers.Del(k)
				}
				for k, v := range f.set {
					cur.headers.Set(k, v)
				}
				continue
			case <-s.ctx.Done():
				return
			}
		}

		nr := toNeutralResponse(resp, remoteAddr)
		if s.wantHC && s.hc != nil {
			s.hc.OnResponseHeadersReceived(s.id, nr)
		}
		if !s.emit(Event{Type: EventHeaders, Response: nr}) {
			resp.Body.Close()
			return
		}
		s.streamBody(resp.Body)
		return
	}
}

// streamBody 按块读取响应体并投递，尊重暂停门
func (s *httpStream) streamBody(body io.ReadCloser) {
	defer body.Close()
	buf := make([]byte, 32*1024)
	for {
		s.mu.Lock()
		for s.paused && s.ctx.Err() == nil {
			s.resumed.Wait()
		}
		s.mu.Unlock()
		if s.ctx.Err() != nil {
			return
		}

		n, err := body.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			if !s.emit(Event{Type: EventBody, Data: chunk}) {
				return
			}
		}
		if err == io.EOF {
			s.emit(Event{Type: EventComplete})
			return
		}
		if err != nil {
			s.emit(Event{Type: EventComplete, Err: err})
			return
		}
	}
}

func isRedirect(code int) bool {
	switch code {
	case http.StatusMovedPermanently, http.StatusFound, http.StatusSeeOther,
		http.StatusTemporaryRedirect, http.StatusPermanentRedirect:
		return true
	}
	return false
}

// redirectMethod 303 以及 301/302 的 POST 按惯例降级为 GET 并丢弃请求体
func redirectMethod(code int, method string, body []byte) (string, []byte) {
	if code == http.StatusSeeOther ||
		((code == http.StatusMovedPermanently || code == http.StatusFound) && strings.EqualFold(method, http.MethodPost)) {
		return http.MethodGet, nil
	}
	return method, body
}

func resolveLocation(base, loc string) string {
	if loc == "" {
		return ""
	}
	bu, err := url.Parse(base)
	if err != nil {
		return loc
	}
	lu, err := url.Parse(loc)
	if err != nil {
		return loc
	}
	return bu.ResolveReference(lu).String()
}

func toNeutralResponse(resp *http.Response, remoteAddr string) *domain.Response {
	nr := domain.NewResponse()
	nr.StatusCode = resp.StatusCode
	nr.StatusLine = resp.Proto + " " + resp.Status
	nr.RemoteIP = remoteAddr
	for k, vs := range resp.Header {
		nr.Headers.Set(k, strings.Join(vs, ", "))
	}
	return nr
}
