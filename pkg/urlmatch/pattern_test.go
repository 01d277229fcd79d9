package urlmatch

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		pattern string
		wantErr bool
	}{
		{"all urls", "<all_urls>", false},
		{"exact", "https://example.com/path", false},
		{"wildcard scheme", "*://example.com/*", false},
		{"wildcard host", "https://*/path", false},
		{"subdomain wildcard", "https://*.example.com/*", false},
		{"no path", "https://example.com", false},
		{"missing scheme", "example.com/path", true},
		{"empty scheme", "://example.com/", true},
		{"empty host", "https:///path", true},
		{"bad host wildcard", "https://ex*ample.com/", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(tt.pattern)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestPatternMatches(t *testing.T) {
	tests := []struct {
		pattern string
		url     string
		want    bool
	}{
		{"<all_urls>", "https://anything.example/x?y=z", true},
		{"<all_urls>", "ftp://files.example/", true},

		{"https://example.com/*", "https://example.com/", true},
		{"https://example.com/*", "https://example.com/a/b/c", true},
		{"https://example.com/*", "http://example.com/", false},
		{"https://example.com/*", "https://other.com/", false},

		// 通配 scheme 只覆盖 http/https
		{"*://example.com/*", "http://example.com/x", true},
		{"*://example.com/*", "https://example.com/x", true},
		{"*://example.com/*", "ws://example.com/x", false},

		// 子域通配含基域本身
		{"https://*.example.com/*", "https://example.com/", true},
		{"https://*.example.com/*", "https://api.example.com/v1", true},
		{"https://*.example.com/*", "https://a.b.example.com/", true},
		{"https://*.example.com/*", "https://notexample.com/", false},

		// 路径通配
		{"https://example.com/api/*", "https://example.com/api/users", true},
		{"https://example.com/api/*", "https://example.com/web", false},
		{"https://example.com/*/edit", "https://example.com/post/1/edit", true},
		{"https://example.com/*/edit", "https://example.com/post/1/view", false},

		// 省略路径默认 /*
		{"https://example.com", "https://example.com/whatever", true},

		// 空路径按 / 处理
		{"https://example.com/*", "https://example.com", true},
	}
	for _, tt := range tests {
		t.Run(tt.pattern+" vs "+tt.url, func(t *testing.T) {
			p := MustParse(tt.pattern)
			assert.Equal(t, tt.want, p.Matches(tt.url))
		})
	}
}

func TestSetMatches(t *testing.T) {
	t.Run("empty set matches everything", func(t *testing.T) {
		var s Set
		assert.True(t, s.Matches("https://example.com/"))
	})

	t.Run("any pattern suffices", func(t *testing.T) {
		s, err := ParseSet([]string{"https://a.com/*", "https://b.com/*"})
		require.NoError(t, err)
		assert.True(t, s.Matches("https://b.com/x"))
		assert.False(t, s.Matches("https://c.com/x"))
	})

	t.Run("parse error propagates", func(t *testing.T) {
		_, err := ParseSet([]string{"https://a.com/*", "bad"})
		assert.Error(t, err)
	})
}
