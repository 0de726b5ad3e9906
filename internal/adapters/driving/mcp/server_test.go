package mcp

import (
	"context"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewServer_RequiresSearch(t *testing.T) {
	server, err := NewServer(&Ports{Detections: &mockDetectionService{}}, "1.0.0")
	assert.ErrorIs(t, err, ErrMissingSearchService)
	assert.Nil(t, server)
}

func TestPorts_Validate(t *testing.T) {
	tests := []struct {
		name  string
		ports Ports
		err   error
	}{
		{"empty", Ports{}, ErrMissingSearchService},
		{"search only", Ports{Search: &mockSearchService{}}, nil},
		{"search and detections", Ports{Search: &mockSearchService{}, Detections: &mockDetectionService{}}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err == nil {
				assert.NoError(t, tt.ports.Validate())
			} else {
				assert.ErrorIs(t, tt.ports.Validate(), tt.err)
			}
		})
	}
}

func TestServer_Healthz(t *testing.T) {
	server, err := NewServer(&Ports{Search: &mockSearchService{}}, "")
	require.NoError(t, err)

	rec := httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = httptest.NewRecorder()
	server.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/other", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_RunHTTP_StopsOnCancel(t *testing.T) {
	server, err := NewServer(&Ports{Search: &mockSearchService{}}, "1.0.0")
	require.NoError(t, err)

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- server.RunHTTP(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/healthz")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
