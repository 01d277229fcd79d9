// Package urlmatch 实现 <scheme>://<host>/<path> 形式的 URL 匹配模式，
// 支持 * 通配符与 <all_urls> 全匹配。
package urlmatch

import (
	"fmt"
	"net/url"
	"strings"
)

// AllURLs 匹配任意 URL 的特殊模式
const AllURLs = "<all_urls>"

// Pattern 单条 URL 匹配模式
type Pattern struct {
	raw    string
	scheme string
	host   string
	path   string
	all    bool
}

// Parse 解析模式字符串
func Parse(s string) (Pattern, error) {
	if s == AllURLs {
		return Pattern{raw: s, all: true}, nil
	}
	idx := strings.Index(s, "://")
	if idx < 0 {
		return Pattern{}, fmt.Errorf("invalid pattern %q: missing scheme separator", s)
	}
	scheme := s[:idx]
	rest := s[idx+3:]
	if scheme == "" {
		return Pattern{}, fmt.Errorf("invalid pattern %q: empty scheme", s)
	}
	var host, path string
	if slash := strings.Index(rest, "/"); slash >= 0 {
		host = rest[:slash]
		path = rest[slash:]
	} else {
		host = rest
		path = "/*"
	}
	if host == "" {
		return Pattern{}, fmt.Errorf("invalid pattern %q: empty host", s)
	}
	// 主机通配符只允许 "*" 或 "*." 前缀
	if strings.Contains(host, "*") && host != "*" && !strings.HasPrefix(host, "*.") {
		return Pattern{}, fmt.Errorf("invalid pattern %q: host wildcard must be * or *. prefix", s)
	}
	return Pattern{raw: s, scheme: scheme, host: host, path: path}, nil
}

// MustParse 解析失败时 panic，仅用于常量模式
func MustParse(s string) Pattern {
	p, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return p
}

// String 返回原始模式串
func (p Pattern) String() string { return p.raw }

// Matches 判断 URL 是否命中模式
func (p Pattern) Matches(rawURL string) bool {
	if p.all {
		return true
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return false
	}
	if !p.matchScheme(u.Scheme) {
		return false
	}
	if !p.matchHost(u.Hostname()) {
		return false
	}
	path := u.EscapedPath()
	if path == "" {
		path = "/"
	}
	return glob(p.path, path)
}

func (p Pattern) matchScheme(scheme string) bool {
	if p.scheme == "*" {
		return scheme == "http" || scheme == "https"
	}
	return strings.EqualFold(p.scheme, scheme)
}

func (p Pattern) matchHost(host string) bool {
	if p.host == "*" {
		return true
	}
	if strings.HasPrefix(p.host, "*.") {
		base := p.host[2:]
		return strings.EqualFold(host, base) || strings.HasSuffix(strings.ToLower(host), "."+strings.ToLower(base))
	}
	return strings.EqualFold(p.host, host)
}

// glob 带 * 的通配匹配
func glob(pattern, s string) bool {
	if pattern == "*" {
		return true
	}
	parts := strings.Split(pattern, "*")
	if len(parts) == 1 {
		return s == pattern
	}
	if !strings.HasPrefix(s, parts[0]) {
		return false
	}
	s = s[len(parts[0]):]
	for i := 1; i < len(parts)-1; i++ {
		idx := strings.Index(s, parts[i])
		if idx < 0 {
			return false
		}
		s = s[idx+len(parts[i]):]
	}
	return strings.HasSuffix(s, parts[len(parts)-1])
}

// Set 模式集合，空集合匹配所有 URL
type Set []Pattern

// ParseSet 解析模式串列表
func ParseSet(patterns []string) (Set, error) {
	out := make(Set, 0, len(patterns))
	for _, s := range patterns {
		p, err := Parse(s)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

// Matches 集合为空视为全匹配
func (s Set) Matches(rawURL string) bool {
	if len(s) == 0 {
		return true
	}
	for _, p := range s {
		if p.Matches(rawURL) {
			return true
		}
	}
	return false
}
