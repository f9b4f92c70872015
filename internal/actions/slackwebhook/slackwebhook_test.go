package slackwebhook

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_PostsJSONPayload(t *testing.T) {
	var gotBody string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	a := Action{}
	result, err := a.Execute(context.Background(), map[string]interface{}{
		"webhook_url": server.URL,
		"text":        "hello",
	})
	require.NoError(t, err)
	assert.Contains(t, gotBody, "hello")
	data := result.Data.(map[string]interface{})
	assert.True(t, data["ok"].(bool))
}

func TestAction_NonOKRoutesToErrorPort(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	a := Action{}
	result, err := a.Execute(context.Background(), map[string]interface{}{
		"webhook_url": server.URL,
		"text":        "hello",
	})
	require.NoError(t, err)
	assert.Equal(t, "error", result.Port)
}

func TestAction_MissingWebhookURLErrors(t *testing.T) {
	a := Action{}
	_, err := a.Execute(context.Background(), map[string]interface{}{"text": "hi"})
	require.Error(t, err)
}
