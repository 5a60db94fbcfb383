package worker

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestInitMetricsPusher_EmptyURLDisables(t *testing.T) {
	pusher = nil
	require.NoError(t, InitMetricsPusher(""))
	assert.Nil(t, pusher)

	// Без инициализированного pusher запуск - no-op и не должен паниковать.
	StartMetricsPusher(context.Background(), time.Millisecond)
	pushMetrics()
	CleanupMetrics()
}

func TestStartMetricsPusher_StopsOnContextCancel(t *testing.T) {
	var pushes atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		pushes.Add(1)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	require.NoError(t, InitMetricsPusher(server.URL))
	defer func() { pusher = nil }()

	ctx, cancel := context.WithCancel(context.Background())
	StartMetricsPusher(ctx, 5*time.Millisecond)

	// Пробный push при инициализации плюс хотя бы один тик.
	require.Eventually(t, func() bool {
		return pushes.Load() >= 2
	}, 2*time.Second, time.Millisecond)

	cancel()
	time.Sleep(30 * time.Millisecond) // даем уже начатому push завершиться
	stopped := pushes.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, stopped, pushes.Load(), "pushes must stop after context cancellation")
}
