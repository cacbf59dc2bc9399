package pool

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHTTPProber_Probe(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/tags":
			w.Write([]byte(`{"models":[
				{"name":"qwen2.5-coder:7b","details":{"parameter_size":"7.6B"}},
				{"name":"llama3.3:70b","details":{"parameter_size":"70.6B"}}
			]}`))
		case "/api/ps":
			w.Write([]byte(`{"models":[{"name":"qwen2.5-coder:7b"}]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer server.Close()

	prober := NewHTTPProber(2 * time.Second)
	discovered, err := prober.Probe(context.Background(), server.URL+"/")
	require.NoError(t, err)

	require.Len(t, discovered, 2)
	assert.Equal(t, "qwen2.5-coder:7b", discovered[0].Name)
	assert.Equal(t, "7.6B", discovered[0].ParameterSize)
	assert.True(t, discovered[0].Loaded)
	assert.Equal(t, "llama3.3:70b", discovered[1].Name)
	assert.False(t, discovered[1].Loaded)
}

func TestHTTPProber_ProbeWithoutLoadedEndpoint(t *testing.T) {
	// older servers have /api/tags but no /api/ps
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/api/tags" {
			w.Write([]byte(`{"models":[{"name":"m1"}]}`))
			return
		}
		http.NotFound(w, r)
	}))
	defer server.Close()

	prober := NewHTTPProber(2 * time.Second)
	discovered, err := prober.Probe(context.Background(), server.URL)
	require.NoError(t, err)
	require.Len(t, discovered, 1)
	assert.False(t, discovered[0].Loaded)
}

func TestHTTPProber_ProbeServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusInternalServerError)
	}))
	defer server.Close()

	prober := NewHTTPProber(2 * time.Second)
	_, err := prober.Probe(context.Background(), server.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unexpected status")
}

func TestHTTPProber_ProbeUnreachable(t *testing.T) {
	prober := NewHTTPProber(200 * time.Millisecond)
	_, err := prober.Probe(context.Background(), "http://127.0.0.1:1")
	assert.Error(t, err)
}
