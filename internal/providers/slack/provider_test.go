package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/smallbiznis/storyvoice/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPostMessage(t *testing.T) {
	var got webhookPayload
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte("ok"))
	}))
	defer srv.Close()

	p := NewWebhook(srv.URL, srv.Client())
	require.NoError(t, p.PostMessage(context.Background(), "#alerts", "cost alert"))
	assert.Equal(t, "#alerts", got.Channel)
	assert.Equal(t, "cost alert", got.Text)
}

func TestPostMessageFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid_token", http.StatusForbidden)
	}))
	defer srv.Close()

	err := NewWebhook(srv.URL, srv.Client()).PostMessage(context.Background(), "", "x")
	assert.ErrorIs(t, err, ErrWebhookFailed)
	assert.Contains(t, err.Error(), "invalid_token")
}

func TestNewFromConfigWithoutWebhook(t *testing.T) {
	assert.Nil(t, NewFromConfig(config.Config{}))
	assert.NotNil(t, NewFromConfig(config.Config{Slack: config.SlackConfig{WebhookURL: "http://example.com/hook"}}))
}
