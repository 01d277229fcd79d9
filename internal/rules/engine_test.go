package rules

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"
)

func mustSet(b []byte, path string, value any) []byte {
	out, err := sjson.SetBytes(b, path, value)
	if err != nil {
		panic(err)
	}
	return out
}

func requestDetails(event, url, method string, headers map[string]string) []byte {
	b := []byte(`{}`)
	b = mustSet(b, "event", event)
	b = mustSet(b, "url", url)
	b = mustSet(b, "method", method)
	for k, v := range headers {
		b = mustSet(b, "requestHeaders."+k, v)
	}
	return b
}

func TestRequestListenerBlock(t *testing.T) {
	e := New(RuleSet{Rules: []Rule{{
		ID:    "block-tracker",
		Stage: StageRequest,
		Match: Match{AllOf: []Condition{{Type: "url", Mode: "glob", Pattern: "*tracker.example*"}}},
		Action: Action{Block: true},
	}}}, nil)

	fn := e.RequestListener()

	out, err := fn(context.Background(), requestDetails("beforeRequest", "https://tracker.example/p.gif", "GET", nil))
	require.NoError(t, err)
	assert.True(t, gjson.GetBytes(out, "cancel").Bool())

	out, err = fn(context.Background(), requestDetails("beforeRequest", "https://app.example/", "GET", nil))
	require.NoError(t, err)
	assert.Nil(t, out, "unmatched request stays untouched")

	stats := e.GetStats()
	assert.Equal(t, int64(2), stats.Total)
	assert.Equal(t, int64(1), stats.Matched)
	assert.Equal(t, int64(1), stats.ByRule["block-tracker"])
}

func TestRequestListenerRedirect(t *testing.T) {
	e := New(RuleSet{Rules: []Rule{{
		ID:    "canary",
		Stage: StageRequest,
		Match: Match{AllOf: []Condition{{Type: "url", Mode: "prefix", Pattern: "https://api.example/"}}},
		Action: Action{RedirectURL: "https://canary.example/"},
	}}}, nil)

	out, err := e.RequestListener()(context.Background(), requestDetails("beforeRequest", "https://api.example/v1", "GET", nil))
	require.NoError(t, err)
	assert.Equal(t, "https://canary.example/", gjson.GetBytes(out, "redirectURL").String())
}

func TestRequestListenerHeaderActions(t *testing.T) {
	e := New(RuleSet{Rules: []Rule{{
		ID:    "strip-auth",
		Stage: StageRequest,
		Match: Match{AllOf: []Condition{{Type: "header", Key: "Authorization", Op: "contains", Value: "Bearer"}}},
		Action: Action{
			SetHeaders:    map[string]string{"X-Env": "staging"},
			RemoveHeaders: []string{"Authorization"},
		},
	}}}, nil)

	details := requestDetails("beforeSendHeaders", "https://api.example/v1", "GET", map[string]string{
		"authorization": "Bearer tok",
		"accept":        "application/json",
	})
	out, err := e.RequestListener()(context.Background(), details)
	require.NoError(t, err)

	h := gjson.GetBytes(out, "requestHeaders")
	require.True(t, h.IsObject())
	assert.Equal(t, "staging", h.Get("x-env").String())
	assert.Equal(t, "application/json", h.Get("accept").String())
	assert.False(t, h.Get("authorization").Exists())

	// redirect 动作在 beforeSendHeaders 阶段不生效
	assert.False(t, gjson.GetBytes(out, "redirectURL").Exists())
}

func TestResponseListener(t *testing.T) {
	e := New(RuleSet{Rules: []Rule{{
		ID:    "rewrite-status",
		Stage: StageResponse,
		Match: Match{AllOf: []Condition{{Type: "header", Key: "content-type", Op: "contains", Value: "text/html"}}},
		Action: Action{
			StatusLine:         "HTTP/1.1 418 I'm a teapot",
			SetResponseHeaders: map[string]string{"X-Filtered": "1"},
		},
	}}}, nil)

	b := mustSet([]byte(`{}`), "event", "headersReceived")
	b = mustSet(b, "url", "https://example.com/")
	b = mustSet(b, "responseHeaders.content-type", "text/html; charset=utf-8")

	out, err := e.ResponseListener()(context.Background(), b)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 418 I'm a teapot", gjson.GetBytes(out, "statusLine").String())
	assert.Equal(t, "1", gjson.GetBytes(out, "responseHeaders.x-filtered").String())
}

func TestConditionKinds(t *testing.T) {
	tests := []struct {
		name string
		cond Condition
		url  string
		body string
		want bool
	}{
		{"url regex", Condition{Type: "url", Mode: "regex", Pattern: `/v\d+/`}, "https://api.example/v2/users", "", true},
		{"url exact miss", Condition{Type: "url", Mode: "exact", Pattern: "https://a/"}, "https://a/b", "", false},
		{"method", Condition{Type: "method", Values: []string{"post", "PUT"}}, "", "", false},
		{"query", Condition{Type: "query", Key: "debug", Op: "equals", Value: "1"}, "https://a.example/?debug=1", "", true},
		{"json path", Condition{Type: "json", Path: "user.role", Op: "equals", Value: "admin"}, "", `{"user":{"role":"admin"}}`, true},
		{"json path miss", Condition{Type: "json", Path: "user.role", Op: "equals", Value: "admin"}, "", `{"user":{}}`, false},
		{"unknown type", Condition{Type: "wat"}, "https://a/", "", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := mustSet([]byte(`{}`), "event", "beforeRequest")
			b = mustSet(b, "url", tt.url)
			b = mustSet(b, "method", "GET")
			if tt.body != "" {
				b = mustSet(b, "uploadData", tt.body)
			}
			ctx := newEvalCtx(gjson.ParseBytes(b), StageRequest)
			assert.Equal(t, tt.want, cond(ctx, tt.cond))
		})
	}
}

func TestCookieCondition(t *testing.T) {
	b := mustSet([]byte(`{}`), "url", "https://a.example/")
	b = mustSet(b, "requestHeaders.cookie", "sid=abc; theme=dark")
	ctx := newEvalCtx(gjson.ParseBytes(b), StageRequest)
	assert.True(t, cond(ctx, Condition{Type: "cookie", Key: "theme", Op: "equals", Value: "dark"}))
	assert.False(t, cond(ctx, Condition{Type: "cookie", Key: "missing", Op: "equals", Value: "x"}))
}

func TestMatchCombinators(t *testing.T) {
	ctx := &evalCtx{url: "https://a.example/", method: "GET"}
	urlHit := Condition{Type: "url", Mode: "prefix", Pattern: "https://a."}
	urlMiss := Condition{Type: "url", Mode: "prefix", Pattern: "https://b."}

	assert.True(t, matchRule(ctx, Match{AllOf: []Condition{urlHit}}))
	assert.False(t, matchRule(ctx, Match{AllOf: []Condition{urlHit, urlMiss}}))
	assert.True(t, matchRule(ctx, Match{AnyOf: []Condition{urlMiss, urlHit}}))
	assert.False(t, matchRule(ctx, Match{NoneOf: []Condition{urlHit}}))
	assert.True(t, matchRule(ctx, Match{AllOf: []Condition{urlHit}, NoneOf: []Condition{urlMiss}}))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
rules:
  - id: r1
    stage: request
    match:
      allOf:
        - type: url
          mode: prefix
          pattern: https://example.com/
    action:
      block: true
`), 0o644))

	rs, err := LoadFile(path)
	require.NoError(t, err)
	require.Len(t, rs.Rules, 1)
	assert.Equal(t, "r1", rs.Rules[0].ID)
	assert.True(t, rs.Rules[0].Action.Block)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.Error(t, err)
}
