package qr

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/life-stream-dev/bizfolio/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var pngHeader = []byte{0x89, 'P', 'N', 'G', '\r', '\n', 0x1a, '\n'}

func TestProfileURL(t *testing.T) {
	assert.Equal(t, "https://bizfolio.app/b/alice%20shop?ref=qr", ProfileURL("https://bizfolio.app/b/", "alice shop"))
}

func TestImageURL(t *testing.T) {
	r := NewRenderer(config.QRConfig{RendererURL: "https://qr.example.com/render?ecc=M"}, nil)

	u, err := r.ImageURL("https://bizfolio.app/b/alice?ref=qr", 0)
	require.NoError(t, err)
	assert.Equal(t, "https://qr.example.com/render?data=https%3A%2F%2Fbizfolio.app%2Fb%2Falice%3Fref%3Dqr&ecc=M&format=png&size=300x300", u)

	_, err = r.ImageURL("x", 5000)
	assert.ErrorIs(t, err, ErrInvalidSize)
}

func TestRender(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "120x120", r.URL.Query().Get("size"))
		assert.Equal(t, "hello", r.URL.Query().Get("data"))
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(pngHeader)
	}))
	defer server.Close()

	r := NewRenderer(config.QRConfig{RendererURL: server.URL}, server.Client())
	image, err := r.Render(context.Background(), "hello", 120)
	require.NoError(t, err)
	assert.Equal(t, pngHeader, image)
}

func TestRenderFailures(t *testing.T) {
	tests := []struct {
		name        string
		status      int
		contentType string
	}{
		{name: "server error", status: http.StatusInternalServerError, contentType: "image/png"},
		{name: "not an image", status: http.StatusOK, contentType: "text/html; charset=utf-8"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", tt.contentType)
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte("<html></html>"))
			}))
			defer server.Close()

			_, err := NewRenderer(config.QRConfig{RendererURL: server.URL}, server.Client()).Render(context.Background(), "x", 0)
			assert.ErrorIs(t, err, ErrRender)
		})
	}
}
