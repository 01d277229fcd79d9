// Package rules 提供声明式规则引擎：规则编译为监听器回调，
// 条件在明细线格式上求值，动作汇总为监听器应答。
package rules

import (
	"context"
	"net/url"
	"strings"
	"sync"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"reqgate/internal/invoke"
	"reqgate/internal/logger"
)

// Stage 规则作用阶段
type Stage string

const (
	StageRequest  Stage = "request"
	StageResponse Stage = "response"
)

// RuleSet 规则集合
type RuleSet struct {
	Rules []Rule `yaml:"rules" json:"rules"`
}

// Rule 单条规则
type Rule struct {
	ID     string `yaml:"id" json:"id"`
	Name   string `yaml:"name" json:"name"`
	Stage  Stage  `yaml:"stage" json:"stage"`
	Match  Match  `yaml:"match" json:"match"`
	Action Action `yaml:"action" json:"action"`
}

// Match 条件组合
type Match struct {
	AllOf  []Condition `yaml:"allOf" json:"allOf"`
	AnyOf  []Condition `yaml:"anyOf" json:"anyOf"`
	NoneOf []Condition `yaml:"noneOf" json:"noneOf"`
}

// Condition 单个匹配条件
type Condition struct {
	Type    string   `yaml:"type" json:"type"`       // url/method/header/query/cookie/body/json
	Mode    string   `yaml:"mode" json:"mode"`       // url: glob/prefix/regex/exact
	Pattern string   `yaml:"pattern" json:"pattern"` // url 模式
	Key     string   `yaml:"key" json:"key"`         // header/query/cookie 键
	Op      string   `yaml:"op" json:"op"`           // equals/contains/regex
	Value   string   `yaml:"value" json:"value"`
	Values  []string `yaml:"values" json:"values"` // method 候选
	Path    string   `yaml:"path" json:"path"`     // json 条件的 gjson 路径
}

// Action 规则动作
type Action struct {
	Block                 bool              `yaml:"block" json:"block"`
	RedirectURL           string            `yaml:"redirectURL" json:"redirectURL"`
	SetHeaders            map[string]string `yaml:"setHeaders" json:"setHeaders"`
	RemoveHeaders         []string          `yaml:"removeHeaders" json:"removeHeaders"`
	SetResponseHeaders    map[string]string `yaml:"setResponseHeaders" json:"setResponseHeaders"`
	RemoveResponseHeaders []string          `yaml:"removeResponseHeaders" json:"removeResponseHeaders"`
	StatusLine            string            `yaml:"statusLine" json:"statusLine"`
}

// Stats 规则命中统计
type Stats struct {
	Total   int64            `json:"total"`
	Matched int64            `json:"matched"`
	ByRule  map[string]int64 `json:"byRule"`
}

// Engine 规则引擎
type Engine struct {
	mu    sync.RWMutex
	rs    RuleSet
	stats Stats
	log   logger.Logger
}

// New 创建规则引擎
func New(rs RuleSet, l logger.Logger) *Engine {
	if l == nil {
		l = logger.NewNop()
	}
	return &Engine{rs: rs, stats: Stats{ByRule: make(map[string]int64)}, log: l}
}

// Update 替换规则集合
func (e *Engine) Update(rs RuleSet) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.rs = rs
}

// GetStats 返回命中统计快照
func (e *Engine) GetStats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := Stats{Total: e.stats.Total, Matched: e.stats.Matched, ByRule: make(map[string]int64, len(e.stats.ByRule))}
	for k, v := range e.stats.ByRule {
		out.ByRule[k] = v
	}
	return out
}

// evalCtx 从明细线格式预解析出的求值上下文
type evalCtx struct {
	url     string
	method  string
	headers map[string]string
	query   map[string]string
	cookies map[string]string
	body    string
}

func newEvalCtx(root gjson.Result, stage Stage) *evalCtx {
	ctx := &evalCtx{
		url:     root.Get("url").String(),
		method:  root.Get("method").String(),
		headers: map[string]string{},
		query:   map[string]string{},
		cookies: map[string]string{},
		body:    root.Get("uploadData").String(),
	}
	headerField := "requestHeaders"
	if stage == StageResponse {
		headerField = "responseHeaders"
	}
	root.Get(headerField).ForEach(func(k, v gjson.Result) bool {
		ctx.headers[strings.ToLower(k.String())] = v.String()
		return true
	})
	if ctx.url != "" {
		if u, err := url.Parse(ctx.url); err == nil {
			for key, vals := range u.Query() {
				if len(vals) > 0 {
					ctx.query[strings.ToLower(key)] = vals[0]
				}
			}
		}
	}
	if v, ok := ctx.headers["cookie"]; ok {
		for name, val := range parseCookie(v) {
			ctx.cookies[strings.ToLower(name)] = val
		}
	}
	return ctx
}

func parseCookie(s string) map[string]string {
	out := make(map[string]string)
	for _, p := range strings.Split(s, ";") {
		kv := strings.SplitN(strings.TrimSpace(p), "=", 2)
		if len(kv) == 2 {
			out[kv[0]] = kv[1]
		}
	}
	return out
}

// evalForStage 返回指定阶段全部命中规则
func (e *Engine) evalForStage(root gjson.Result, stage Stage) []*Rule {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.stats.Total++
	ctx := newEvalCtx(root, stage)
	var matched []*Rule
	for i := range e.rs.Rules {
		r := &e.rs.Rules[i]
		if r.Stage != "" && r.Stage != stage {
			continue
		}
		if matchRule(ctx, r.Match) {
			matched = append(matched, r)
			e.stats.ByRule[r.ID]++
		}
	}
	if len(matched) > 0 {
		e.stats.Matched++
	}
	return matched
}

func matchRule(ctx *evalCtx, m Match) bool {
	ok := true
	if len(m.AllOf) > 0 {
		ok = ok && allOf(ctx, m.AllOf)
	}
	if len(m.AnyOf) > 0 {
		ok = ok && anyOf(ctx, m.AnyOf)
	}
	if len(m.NoneOf) > 0 {
		ok = ok && !anyOf(ctx, m.NoneOf)
	}
	return ok
}

func allOf(ctx *evalCtx, cs []Condition) bool {
	for i := range cs {
		if !cond(ctx, cs[i]) {
			return false
		}
	}
	return true
}

func anyOf(ctx *evalCtx, cs []Condition) bool {
	for i := range cs {
		if cond(ctx, cs[i]) {
			return true
		}
	}
	return false
}

func cond(ctx *evalCtx, c Condition) bool {
	switch c.Type {
	case "url":
		switch c.Mode {
		case "prefix":
			return strings.HasPrefix(ctx.url, c.Pattern)
		case "regex":
			return matchRegex(ctx.url, c.Pattern)
		case "exact":
			return ctx.url == c.Pattern
		default:
			return glob(ctx.url, c.Pattern)
		}
	case "method":
		for _, v := range c.Values {
			if strings.EqualFold(ctx.method, v) {
				return true
			}
		}
		return false
	case "header":
		return opMatch(ctx.headers[strings.ToLower(c.Key)], c)
	case "query":
		return opMatch(ctx.query[strings.ToLower(c.Key)], c)
	case "cookie":
		return opMatch(ctx.cookies[strings.ToLower(c.Key)], c)
	case "body":
		if ctx.body == "" {
			return false
		}
		return opMatch(ctx.body, c)
	case "json":
		if ctx.body == "" {
			return false
		}
		v := gjson.Get(ctx.body, c.Path)
		if !v.Exists() {
			return false
		}
		return opMatch(v.String(), c)
	default:
		return false
	}
}

func opMatch(v string, c Condition) bool {
	if v == "" {
		return false
	}
	switch c.Op {
	case "equals":
		return v == c.Value
	case "contains":
		return strings.Contains(v, c.Value)
	case "regex":
		return matchRegex(v, c.Value)
	default:
		return true
	}
}

func glob(s, pattern string) bool {
	if pattern == "*" {
		return true
	}
	if strings.HasPrefix(pattern, "*") && strings.HasSuffix(s, strings.TrimPrefix(pattern, "*")) {
		return true
	}
	if strings.HasSuffix(pattern, "*") && strings.HasPrefix(s, strings.TrimSuffix(pattern, "*")) {
		return true
	}
	return s == pattern
}

// RequestListener 编译请求阶段监听器，可同时注册到
// before-request 与 before-send-headers 事件
func (e *Engine) RequestListener() invoke.Func {
	return func(_ context.Context, details []byte) ([]byte, error) {
		root := gjson.ParseBytes(details)
		matched := e.evalForStage(root, StageRequest)
		if len(matched) == 0 {
			return nil, nil
		}

		// 聚合全部命中规则的动作
		var block bool
		var redirect string
		setH := map[string]string{}
		var removeH []string
		for _, r := range matched {
			a := r.Action
			if a.Block {
				block = true
				break
			}
			if a.RedirectURL != "" {
				redirect = a.RedirectURL
			}
			for k, v := range a.SetHeaders {
				setH[strings.ToLower(k)] = v
			}
			removeH = append(removeH, a.RemoveHeaders...)
		}

		out := []byte(`{}`)
		if block {
			out, _ = sjson.SetBytes(out, "cancel", true)
			return out, nil
		}
		switch root.Get("event").String() {
		case "beforeRequest":
			if redirect != "" {
				out, _ = sjson.SetBytes(out, "redirectURL", redirect)
			}
		case "beforeSendHeaders":
			if len(setH) > 0 || len(removeH) > 0 {
				h := headersFrom(root.Get("requestHeaders"))
				for _, k := range removeH {
					delete(h, strings.ToLower(k))
				}
				for k, v := range setH {
					h[k] = v
				}
				out = setHeaderObject(out, "requestHeaders", h)
			}
		}
		return out, nil
	}
}

// ResponseListener 编译响应阶段监听器，注册到 headers-received 事件
func (e *Engine) ResponseListener() invoke.Func {
	return func(_ context.Context, details []byte) ([]byte, error) {
		root := gjson.ParseBytes(details)
		matched := e.evalForStage(root, StageResponse)
		if len(matched) == 0 {
			return nil, nil
		}

		var block bool
		var redirect, statusLine string
		setH := map[string]string{}
		var removeH []string
		for _, r := range matched {
			a := r.Action
			if a.Block {
				block = true
				break
			}
			if a.RedirectURL != "" {
				redirect = a.RedirectURL
			}
			if a.StatusLine != "" {
				statusLine = a.StatusLine
			}
			for k, v := range a.SetResponseHeaders {
				setH[strings.ToLower(k)] = v
			}
			removeH = append(removeH, a.RemoveResponseHeaders...)
		}

		out := []byte(`{}`)
		if block {
			out, _ = sjson.SetBytes(out, "cancel", true)
			return out, nil
		}
		if redirect != "" {
			out, _ = sjson.SetBytes(out, "redirectURL", redirect)
		}
		if statusLine != "" {
			out, _ = sjson.SetBytes(out, "statusLine", statusLine)
		}
		if len(setH) > 0 || len(removeH) > 0 {
			h := headersFrom(root.Get("responseHeaders"))
			for _, k := range removeH {
				delete(h, strings.ToLower(k))
			}
			for k, v := range setH {
				h[k] = v
			}
			out = setHeaderObject(out, "responseHeaders", h)
		}
		return out, nil
	}
}

func headersFrom(v gjson.Result) map[string]string {
	h := map[string]string{}
	v.ForEach(func(k, val gjson.Result) bool {
		h[strings.ToLower(k.String())] = val.String()
		return true
	})
	return h
}

func setHeaderObject(b []byte, key string, h map[string]string) []byte {
	b, _ = sjson.SetRawBytes(b, key, []byte(`{}`))
	for k, v := range h {
		b, _ = sjson.SetBytes(b, key+"."+strings.ReplaceAll(k, ".", `\.`), v)
	}
	return b
}
