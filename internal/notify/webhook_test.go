package notify

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/bnowain/FB-Monitor/internal/config"
)

func TestNotifyNoEndpointsIsNoop(t *testing.T) {
	w := New(config.NotifyConfig{})
	require.NoError(t, w.Notify(context.Background(), "title", "body"))
}

func TestNotifyDiscordPayload(t *testing.T) {
	var got map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &got))
		rw.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := New(config.NotifyConfig{DiscordWebhook: srv.URL, MaxPerMinute: 600})
	require.NoError(t, w.Notify(context.Background(), "new post", "acme published"))
	assert.Contains(t, got["content"], "new post")
	assert.Contains(t, got["content"], "acme published")
}

func TestNotifyNtfyHeaders(t *testing.T) {
	var title, body string
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		title = r.Header.Get("Title")
		b, _ := io.ReadAll(r.Body)
		body = string(b)
	}))
	defer srv.Close()

	w := New(config.NotifyConfig{NtfyTopic: "x", MaxPerMinute: 600})
	w.ntfyURL = srv.URL
	require.NoError(t, w.Notify(context.Background(), "alert", "details"))
	assert.Equal(t, "alert", title)
	assert.Equal(t, "details", body)
}

func TestNotifyReportsEndpointFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		rw.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	w := New(config.NotifyConfig{DiscordWebhook: srv.URL, MaxPerMinute: 600})
	assert.Error(t, w.Notify(context.Background(), "t", "b"))
}
