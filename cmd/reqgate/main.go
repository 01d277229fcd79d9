package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"reqgate/internal/config"
	"reqgate/internal/logger"
	"reqgate/internal/rules"
	"reqgate/pkg/api"
	"reqgate/pkg/domain"
)

// main 是正向代理入口：监听本地端口，把每个入站请求送入拦截管线，
// 规则文件编译为监听器后挂到对应阶段。
func main() {
	var (
		configPath = flag.String("config", "", "配置文件路径")
		rulesPath  = flag.String("rules", "", "规则文件路径")
		listen     = flag.String("listen", "", "监听地址，覆盖配置文件")
	)
	flag.Parse()

	cfg := config.NewConfig()
	if *configPath != "" {
		var err error
		cfg, err = config.Load(*configPath)
		if err != nil {
			log.Fatalf("加载配置失败: %v", err)
		}
	}
	if *listen != "" {
		cfg.Proxy.Listen = *listen
	}

	l := logger.New(logger.Options{
		Level:   cfg.Log.Level,
		Writers: cfg.Log.Writer,
		File:    cfg.Log.File,
	})

	svc := api.NewService(l)
	sid, err := svc.StartSession(domain.SessionConfig{
		ListenerWaitMS: cfg.Intercept.ListenerWaitMS,
		EventCapacity:  cfg.Intercept.EventCapacity,
		JournalDSN:     cfg.Sqlite.Dsn,
		JournalPrefix:  cfg.Sqlite.Prefix,
	})
	if err != nil {
		log.Fatalf("启动会话失败: %v", err)
	}

	if *rulesPath != "" {
		rs, err := rules.LoadFile(*rulesPath)
		if err != nil {
			log.Fatalf("加载规则失败: %v", err)
		}
		engine := rules.New(rs, l)
		reqFn := engine.RequestListener()
		if err := svc.OnBeforeRequest(sid, nil, reqFn); err != nil {
			log.Fatalf("注册监听器失败: %v", err)
		}
		if err := svc.OnBeforeSendHeaders(sid, nil, reqFn); err != nil {
			log.Fatalf("注册监听器失败: %v", err)
		}
		if err := svc.OnHeadersReceived(sid, nil, engine.ResponseListener()); err != nil {
			log.Fatalf("注册监听器失败: %v", err)
		}
		l.Info("规则已装载", "count", len(rs.Rules))
	}

	// 事件流仅做日志消费
	events, err := svc.SubscribeEvents(sid)
	if err != nil {
		log.Fatalf("订阅事件失败: %v", err)
	}
	go func() {
		for evt := range events {
			l.Debug("管线事件",
				"type", evt.Type, "requestID", uint64(evt.Request),
				"url", evt.URL, "stage", evt.Stage, "error", evt.Error)
		}
	}()

	server := &http.Server{
		Addr:    cfg.Proxy.Listen,
		Handler: &proxyHandler{svc: svc, session: sid, log: l},
	}

	go func() {
		l.Info("代理已启动", "listen", cfg.Proxy.Listen)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			l.Err(err, "代理退出")
			os.Exit(1)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	l.Info("收到退出信号，开始关闭")
	_ = server.Shutdown(context.Background())
	if err := svc.StopSession(sid); err != nil {
		l.Err(err, "停止会话失败")
	}
}

// proxyHandler 把入站 HTTP 请求转换为管线请求
type proxyHandler struct {
	svc     api.Service
	session domain.SessionID
	log     logger.Logger
}

func (h *proxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodConnect {
		http.Error(w, "CONNECT 隧道不支持", http.StatusMethodNotAllowed)
		return
	}

	req := domain.NewRequest()
	req.URL = requestURL(r)
	req.Method = r.Method
	req.Referrer = r.Header.Get("Referer")
	req.ResourceType = "Other"
	for k, vv := range r.Header {
		if isHopByHop(k) {
			continue
		}
		req.Headers.Set(k, strings.Join(vv, ", "))
	}
	if r.Body != nil {
		body, err := io.ReadAll(r.Body)
		if err != nil {
			http.Error(w, "读取请求体失败", http.StatusBadRequest)
			return
		}
		req.Body = body
	}

	c := &responseClient{w: w, done: make(chan struct{})}
	if _, err := h.svc.CreateRequest(r.Context(), h.session, req, c); err != nil {
		http.Error(w, err.Error(), http.StatusBadGateway)
		return
	}
	<-c.done
}

// requestURL 还原完整请求 URL，代理请求的 RequestURI 本身就是绝对形式
func requestURL(r *http.Request) string {
	if r.URL.IsAbs() {
		return r.URL.String()
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	return fmt.Sprintf("%s://%s%s", scheme, r.Host, r.URL.RequestURI())
}

var hopByHop = map[string]struct{}{
	"connection":          {},
	"proxy-connection":    {},
	"keep-alive":          {},
	"proxy-authenticate":  {},
	"proxy-authorization": {},
	"te":                  {},
	"trailer":             {},
	"transfer-encoding":   {},
	"upgrade":             {},
}

func isHopByHop(key string) bool {
	_, ok := hopByHop[strings.ToLower(key)]
	return ok
}

// responseClient 把管线回调写回入站连接
type responseClient struct {
	w       http.ResponseWriter
	wrote   bool
	done    chan struct{}
	flusher http.Flusher
}

func (c *responseClient) OnResponse(resp *domain.Response) {
	for k, v := range resp.Headers {
		if isHopByHop(k) {
			continue
		}
		c.w.Header().Set(k, v)
	}
	c.w.WriteHeader(resp.StatusCode)
	c.wrote = true
	c.flusher, _ = c.w.(http.Flusher)
}

func (c *responseClient) OnData(p []byte) {
	if !c.wrote {
		return
	}
	_, _ = c.w.Write(p)
	if c.flusher != nil {
		c.flusher.Flush()
	}
}

func (c *responseClient) OnComplete(err error) {
	if err != nil && !c.wrote {
		status := http.StatusBadGateway
		if errors.Is(err, domain.ErrBlockedByClient) {
			status = http.StatusForbidden
		}
		http.Error(c.w, err.Error(), status)
	}
	close(c.done)
}
