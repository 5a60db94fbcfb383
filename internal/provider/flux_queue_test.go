package provider

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"thumbforge/internal/config"
	"thumbforge/internal/models"
	"thumbforge/internal/storage"
)

func newQueueTestStore(t *testing.T) *storage.FileStore {
	t.Helper()
	store, err := storage.NewFileStore(config.StorageConfig{
		SavePath:      t.TempDir(),
		PublicBaseURL: "http://images.local",
	}, zap.NewNop())
	require.NoError(t, err)
	return store
}

func newQueueProviderConfig(baseURL string) config.ProviderConfig {
	return config.ProviderConfig{
		Name:            NameFluxQueue,
		Model:           "flux-pro",
		BaseURL:         baseURL,
		APIKey:          "test-key",
		PollInterval:    time.Millisecond,
		PollMaxAttempts: 5,
		RequestTimeout:  5 * time.Second,
	}
}

func TestFluxQueueProvider_Generate_SubmitPollFetch(t *testing.T) {
	var pollCount atomic.Int32
	var sawAuth atomic.Bool

	mux := http.NewServeMux()
	var server *httptest.Server
	server = httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/v1/queue/flux-pro", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		if r.Header.Get("Authorization") == "Bearer test-key" {
			sawAuth.Store(true)
		}

		var req queueSubmitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "a thumbnail", req.Prompt)
		assert.Equal(t, 1, req.NumImages)

		json.NewEncoder(w).Encode(queueSubmitResponse{
			RequestID:   "req-1",
			StatusURL:   server.URL + "/v1/status/req-1",
			ResponseURL: server.URL + "/v1/result/req-1",
		})
	})
	mux.HandleFunc("/v1/status/req-1", func(w http.ResponseWriter, r *http.Request) {
		// Два промежуточных статуса, потом COMPLETED.
		switch pollCount.Add(1) {
		case 1:
			json.NewEncoder(w).Encode(queueStatusResponse{Status: queueStatusInQueue})
		case 2:
			json.NewEncoder(w).Encode(queueStatusResponse{Status: queueStatusInProgress})
		default:
			json.NewEncoder(w).Encode(queueStatusResponse{Status: queueStatusCompleted})
		}
	})
	mux.HandleFunc("/v1/result/req-1", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queueResultResponse{
			Images: []queueResultImage{
				{URL: server.URL + "/files/img0.png", Width: 1024, Height: 576, ContentType: "image/png"},
			},
		})
	})
	mux.HandleFunc("/files/img0.png", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("png-bytes"))
	})

	p, err := NewFluxQueueProvider(newQueueProviderConfig(server.URL), newQueueTestStore(t), zap.NewNop())
	require.NoError(t, err)

	images, err := p.Generate(context.Background(), "a thumbnail", nil, 1)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, []byte("png-bytes"), images[0].Bytes)
	assert.Equal(t, "image/png", images[0].MIME)
	assert.Equal(t, 1024, images[0].Width)
	assert.Equal(t, 576, images[0].Height)
	assert.True(t, sawAuth.Load(), "submit must carry bearer auth")
	assert.GreaterOrEqual(t, pollCount.Load(), int32(3))
}

func TestFluxQueueProvider_Generate_UploadsInputs(t *testing.T) {
	var submittedURLs []string

	mux := http.NewServeMux()
	var server *httptest.Server
	server = httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/v1/queue/flux-pro", func(w http.ResponseWriter, r *http.Request) {
		var req queueSubmitRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		submittedURLs = req.ImageURLs
		json.NewEncoder(w).Encode(queueSubmitResponse{
			RequestID:   "req-2",
			StatusURL:   server.URL + "/v1/status/req-2",
			ResponseURL: server.URL + "/v1/result/req-2",
		})
	})
	mux.HandleFunc("/v1/status/req-2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queueStatusResponse{Status: queueStatusCompleted})
	})
	mux.HandleFunc("/v1/result/req-2", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queueResultResponse{})
	})

	p, err := NewFluxQueueProvider(newQueueProviderConfig(server.URL), newQueueTestStore(t), zap.NewNop())
	require.NoError(t, err)

	inputs := []InputImage{
		{Bytes: []byte("frame-1"), MIME: "image/jpeg"},
		{Bytes: []byte("frame-2"), MIME: "image/png"},
	}
	_, err = p.Generate(context.Background(), "p", inputs, 1)
	require.NoError(t, err)

	// Входы загружены в хранилище и уходят провайдеру достижимыми URL.
	require.Len(t, submittedURLs, 2)
	assert.Contains(t, submittedURLs[0], "http://images.local/inputs/")
	assert.Contains(t, submittedURLs[0], ".jpg")
	assert.Contains(t, submittedURLs[1], ".png")
}

func TestFluxQueueProvider_Generate_FailedStatus(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	server = httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/v1/queue/flux-pro", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queueSubmitResponse{
			RequestID:   "req-3",
			StatusURL:   server.URL + "/v1/status/req-3",
			ResponseURL: server.URL + "/v1/result/req-3",
		})
	})
	mux.HandleFunc("/v1/status/req-3", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queueStatusResponse{Status: queueStatusFailed, Error: "nsfw content"})
	})

	p, err := NewFluxQueueProvider(newQueueProviderConfig(server.URL), newQueueTestStore(t), zap.NewNop())
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), "p", nil, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "nsfw content")
}

func TestFluxQueueProvider_Generate_PollExhaustionIsTimeout(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	server = httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/v1/queue/flux-pro", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queueSubmitResponse{
			RequestID:   "req-4",
			StatusURL:   server.URL + "/v1/status/req-4",
			ResponseURL: server.URL + "/v1/result/req-4",
		})
	})
	mux.HandleFunc("/v1/status/req-4", func(w http.ResponseWriter, r *http.Request) {
		// Задача никогда не завершается.
		json.NewEncoder(w).Encode(queueStatusResponse{Status: queueStatusInProgress})
	})

	cfg := newQueueProviderConfig(server.URL)
	cfg.PollMaxAttempts = 3
	p, err := NewFluxQueueProvider(cfg, newQueueTestStore(t), zap.NewNop())
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), "p", nil, 1)
	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTimeout)
}

func TestFluxQueueProvider_Generate_NoDelayAfterLastPollAttempt(t *testing.T) {
	mux := http.NewServeMux()
	var server *httptest.Server
	server = httptest.NewServer(mux)
	defer server.Close()

	mux.HandleFunc("/v1/queue/flux-pro", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queueSubmitResponse{
			RequestID:   "req-5",
			StatusURL:   server.URL + "/v1/status/req-5",
			ResponseURL: server.URL + "/v1/result/req-5",
		})
	})
	mux.HandleFunc("/v1/status/req-5", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(queueStatusResponse{Status: queueStatusInQueue})
	})

	// Единственная попытка при часовом интервале: исчерпание должно
	// вернуться сразу, без паузы после последнего опроса.
	cfg := newQueueProviderConfig(server.URL)
	cfg.PollMaxAttempts = 1
	cfg.PollInterval = time.Hour
	p, err := NewFluxQueueProvider(cfg, newQueueTestStore(t), zap.NewNop())
	require.NoError(t, err)

	start := time.Now()
	_, err = p.Generate(context.Background(), "p", nil, 1)
	elapsed := time.Since(start)

	require.Error(t, err)
	assert.ErrorIs(t, err, models.ErrTimeout)
	assert.Less(t, elapsed, 5*time.Second, "exhaustion must not wait out the poll interval")
}

func TestFluxQueueProvider_Generate_SubmitErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"invalid model"}`, http.StatusUnprocessableEntity)
	}))
	defer server.Close()

	p, err := NewFluxQueueProvider(newQueueProviderConfig(server.URL), newQueueTestStore(t), zap.NewNop())
	require.NoError(t, err)

	_, err = p.Generate(context.Background(), "p", nil, 1)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "422")
}

func TestNewFluxQueueProvider_RequiresBaseURL(t *testing.T) {
	cfg := newQueueProviderConfig("")
	_, err := NewFluxQueueProvider(cfg, newQueueTestStore(t), zap.NewNop())
	assert.Error(t, err)
}
