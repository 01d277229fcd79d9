package registry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqgate/internal/invoke"
	"reqgate/pkg/domain"
	"reqgate/pkg/urlmatch"
)

func noop(_ context.Context, _ []byte) ([]byte, error) { return nil, nil }

func TestSetReplacesExisting(t *testing.T) {
	r := New(nil)

	var first, second bool
	r.Set(domain.EventBeforeRequest, nil, invoke.Func(func(ctx context.Context, d []byte) ([]byte, error) {
		first = true
		return nil, nil
	}))
	r.Set(domain.EventBeforeRequest, nil, invoke.Func(func(ctx context.Context, d []byte) ([]byte, error) {
		second = true
		return nil, nil
	}))

	cb, ok := r.FindMatching(domain.EventBeforeRequest, "https://example.com/")
	require.True(t, ok)
	_, _ = cb.(invoke.Func)(context.Background(), nil)
	assert.False(t, first, "replaced listener must not run")
	assert.True(t, second)
}

func TestSetNilRemoves(t *testing.T) {
	r := New(nil)
	r.Set(domain.EventCompleted, nil, invoke.Func(noop))
	require.True(t, r.HasAny())

	r.Set(domain.EventCompleted, nil, nil)
	assert.False(t, r.HasAny())
	_, ok := r.FindMatching(domain.EventCompleted, "https://example.com/")
	assert.False(t, ok)
}

func TestFindMatchingHonorsPatterns(t *testing.T) {
	r := New(nil)
	patterns, err := urlmatch.ParseSet([]string{"https://api.example.com/*"})
	require.NoError(t, err)
	r.Set(domain.EventBeforeRequest, patterns, invoke.Func(noop))

	_, ok := r.FindMatching(domain.EventBeforeRequest, "https://api.example.com/v1")
	assert.True(t, ok)
	_, ok = r.FindMatching(domain.EventBeforeRequest, "https://web.example.com/")
	assert.False(t, ok)
}

func TestFindMatchingEmptyPatternsMatchAll(t *testing.T) {
	r := New(nil)
	r.Set(domain.EventErrorOccurred, nil, invoke.Func(noop))
	_, ok := r.FindMatching(domain.EventErrorOccurred, "wss://any.example/x")
	assert.True(t, ok)
}

func TestKindsAreIndependent(t *testing.T) {
	r := New(nil)
	r.Set(domain.EventBeforeRequest, nil, invoke.Func(noop))

	_, ok := r.FindMatching(domain.EventHeadersReceived, "https://example.com/")
	assert.False(t, ok)
}

func TestNeedsHeaderVisibility(t *testing.T) {
	r := New(nil)
	assert.False(t, r.NeedsHeaderVisibility())

	r.Set(domain.EventBeforeRequest, nil, invoke.Func(noop))
	assert.False(t, r.NeedsHeaderVisibility())

	r.Set(domain.EventBeforeSendHeaders, nil, invoke.Func(noop))
	assert.True(t, r.NeedsHeaderVisibility())

	r.Set(domain.EventBeforeSendHeaders, nil, nil)
	r.Set(domain.EventHeadersReceived, nil, invoke.Func(noop))
	assert.True(t, r.NeedsHeaderVisibility())
}

func TestInvalidKindIgnored(t *testing.T) {
	r := New(nil)
	r.Set(domain.EventKindCount, nil, invoke.Func(noop))
	assert.False(t, r.HasAny())
	_, ok := r.FindMatching(domain.EventKind(-1), "https://example.com/")
	assert.False(t, ok)
}
