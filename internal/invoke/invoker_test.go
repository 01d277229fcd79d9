package invoke

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"reqgate/pkg/domain"
)

func recvResult(t *testing.T, ch <-chan Result) Result {
	t.Helper()
	select {
	case res := <-ch:
		return res
	case <-time.After(2 * time.Second):
		t.Fatal("no result delivered")
		return Result{}
	}
}

func TestInvokeDeliversPayload(t *testing.T) {
	inv := NewLocal(nil)
	fn := Func(func(_ context.Context, details []byte) ([]byte, error) {
		assert.Equal(t, `{"event":"beforeRequest"}`, string(details))
		return []byte(`{"cancel":true}`), nil
	})

	ch := inv.Invoke(context.Background(), fn, []byte(`{"event":"beforeRequest"}`))
	res := recvResult(t, ch)
	require.NoError(t, res.Err)
	assert.Equal(t, `{"cancel":true}`, string(res.Payload))

	// 通道在投递后关闭
	_, open := <-ch
	assert.False(t, open)
}

func TestInvokeListenerError(t *testing.T) {
	inv := NewLocal(nil)
	fn := Func(func(_ context.Context, _ []byte) ([]byte, error) {
		return nil, errors.New("host unavailable")
	})
	res := recvResult(t, inv.Invoke(context.Background(), fn, nil))
	assert.EqualError(t, res.Err, "host unavailable")
}

func TestInvokePanicRecovered(t *testing.T) {
	inv := NewLocal(nil)
	fn := Func(func(_ context.Context, _ []byte) ([]byte, error) {
		panic("listener bug")
	})
	res := recvResult(t, inv.Invoke(context.Background(), fn, nil))
	require.Error(t, res.Err)
	assert.Contains(t, res.Err.Error(), "listener bug")
}

func TestInvokeForeignCallback(t *testing.T) {
	inv := NewLocal(nil)
	res := recvResult(t, inv.Invoke(context.Background(), "not a func", nil))
	assert.ErrorIs(t, res.Err, domain.ErrListenerGone)

	res = recvResult(t, inv.Invoke(context.Background(), Func(nil), nil))
	assert.ErrorIs(t, res.Err, domain.ErrListenerGone)
}
