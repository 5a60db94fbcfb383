package provider

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"thumbforge/internal/config"
)

type openaiImageData struct {
	B64JSON string `json:"b64_json"`
}

type openaiImageResponse struct {
	Created int64             `json:"created"`
	Data    []openaiImageData `json:"data"`
}

func newOpenAITestProvider(baseURL string) Provider {
	return NewOpenAIProvider(config.ProviderConfig{
		Name:    NameOpenAI,
		Model:   "dall-e-2",
		BaseURL: baseURL,
		APIKey:  "test-key",
	}, zap.NewNop())
}

func TestOpenAIProvider_Generate_OneCallPerVariant(t *testing.T) {
	var calls atomic.Int32
	payload := base64.StdEncoding.EncodeToString([]byte("png-bytes"))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/images/generations", r.URL.Path)
		calls.Add(1)
		json.NewEncoder(w).Encode(openaiImageResponse{
			Created: 1,
			Data:    []openaiImageData{{B64JSON: payload}},
		})
	}))
	defer server.Close()

	p := newOpenAITestProvider(server.URL)
	images, err := p.Generate(context.Background(), "a thumbnail", nil, 3)
	require.NoError(t, err)

	assert.Equal(t, int32(3), calls.Load(), "each variant is an independent call")
	require.Len(t, images, 3)
	assert.Equal(t, []byte("png-bytes"), images[0].Bytes)
	assert.Equal(t, "image/png", images[0].MIME)
}

func TestOpenAIProvider_Generate_EditWithInputImage(t *testing.T) {
	payload := base64.StdEncoding.EncodeToString([]byte("edited-bytes"))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Наличие входов переключает на edit эндпоинт.
		assert.Equal(t, "/images/edits", r.URL.Path)
		json.NewEncoder(w).Encode(openaiImageResponse{
			Created: 1,
			Data:    []openaiImageData{{B64JSON: payload}},
		})
	}))
	defer server.Close()

	p := newOpenAITestProvider(server.URL)
	inputs := []InputImage{{Bytes: []byte("frame"), MIME: "image/png"}}
	images, err := p.Generate(context.Background(), "edit it", inputs, 1)
	require.NoError(t, err)
	require.Len(t, images, 1)
	assert.Equal(t, []byte("edited-bytes"), images[0].Bytes)
}

func TestOpenAIProvider_Generate_ZeroImagesIsNotError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(openaiImageResponse{Created: 1, Data: nil})
	}))
	defer server.Close()

	p := newOpenAITestProvider(server.URL)
	images, err := p.Generate(context.Background(), "p", nil, 2)
	require.NoError(t, err)
	assert.Empty(t, images)
}

func TestOpenAIProvider_Generate_CallFailureAbortsAll(t *testing.T) {
	var calls atomic.Int32
	payload := base64.StdEncoding.EncodeToString([]byte("png-bytes"))

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) > 1 {
			http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
			return
		}
		json.NewEncoder(w).Encode(openaiImageResponse{
			Created: 1,
			Data:    []openaiImageData{{B64JSON: payload}},
		})
	}))
	defer server.Close()

	p := newOpenAITestProvider(server.URL)
	images, err := p.Generate(context.Background(), "p", nil, 3)
	require.Error(t, err)
	assert.Nil(t, images, "partial results are discarded on failure")
}
