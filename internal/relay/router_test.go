package relay

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestRouter(liveKeys map[string]bool) *Router {
	r := NewRouter()
	r.Route("/v1/tasks/{key}/stream", "task")
	r.Route("/v1/topics/{topic}/{key}/stream", "")
	live := func(_ context.Context, key string) bool { return liveKeys[key] }
	r.Producer("task", live)
	r.Producer("part", live)
	return r
}

func TestRouterIdentify(t *testing.T) {
	r := newTestRouter(nil)

	tests := []struct {
		url  string
		want string
	}{
		{"/v1/tasks/01ABC/stream", "task:01ABC"},
		{"http://example.com/v1/tasks/01ABC/stream?last=3", "task:01ABC"},
		{"/v1/topics/part/P-9/stream", "part:P-9"},
		{"/v1/topics/orders/42/stream", "orders:42"},
	}
	for _, tt := range tests {
		got, err := r.Identify(tt.url)
		require.NoError(t, err, tt.url)
		assert.Equal(t, tt.want, got, tt.url)
	}
}

func TestRouterIdentifyUnrecognised(t *testing.T) {
	r := newTestRouter(nil)

	for _, u := range []string{
		"/v1/tasks/01ABC",
		"/v1/unknown/01ABC/stream",
		"/",
		"",
		"://bad url",
	} {
		_, err := r.Identify(u)
		assert.ErrorIs(t, err, ErrUnroutable, u)
	}
}

func TestRouterLive(t *testing.T) {
	r := newTestRouter(map[string]bool{"01ABC": true})
	ctx := context.Background()

	assert.True(t, r.Live(ctx, "task:01ABC"))
	assert.True(t, r.Live(ctx, "part:01ABC"))
	assert.False(t, r.Live(ctx, "task:missing"))
	assert.False(t, r.Live(ctx, "orders:01ABC"), "no producer registered for prefix")
	assert.False(t, r.Live(ctx, "task"), "malformed identifier")
	assert.False(t, r.Live(ctx, ":01ABC"))
}

func TestSplitIdentifier(t *testing.T) {
	prefix, key, ok := SplitIdentifier("task:01ABC")
	assert.True(t, ok)
	assert.Equal(t, "task", prefix)
	assert.Equal(t, "01ABC", key)

	_, _, ok = SplitIdentifier("task:")
	assert.False(t, ok)
}
