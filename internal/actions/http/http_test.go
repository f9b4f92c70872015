package http

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prana-run/prana/internal/action"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAction_GETReturnsParsedJSONBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"ok":true}`))
	}))
	defer srv.Close()

	a := Action{}
	result, err := a.Execute(context.Background(), map[string]interface{}{
		"method": "GET", "url": srv.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, action.ResultCompleted, result.Kind)
	data := result.Data.(map[string]interface{})
	assert.Equal(t, 200, data["status_code"])
	body := data["body"].(map[string]interface{})
	assert.Equal(t, true, body["ok"])
}

func TestAction_POSTSendsJSONBody(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		gotBody = string(buf)
		w.WriteHeader(201)
	}))
	defer srv.Close()

	a := Action{}
	_, err := a.Execute(context.Background(), map[string]interface{}{
		"method": "POST", "url": srv.URL, "body": map[string]interface{}{"name": "ada"},
	})
	require.NoError(t, err)
	assert.Contains(t, gotBody, `"name":"ada"`)
}

func TestAction_4xxRoutesToErrorPort(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(404)
	}))
	defer srv.Close()

	a := Action{}
	result, err := a.Execute(context.Background(), map[string]interface{}{
		"method": "GET", "url": srv.URL,
	})
	require.NoError(t, err)
	assert.Equal(t, action.ResultFailed, result.Kind)
	assert.Equal(t, "error", result.Port)
}

func TestAction_MissingURLErrors(t *testing.T) {
	a := Action{}
	_, err := a.Execute(context.Background(), map[string]interface{}{"method": "GET"})
	require.Error(t, err)
}

func TestAction_BearerAuthSetsHeader(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
	}))
	defer srv.Close()

	a := Action{}
	_, err := a.Execute(context.Background(), map[string]interface{}{
		"method": "GET", "url": srv.URL, "authentication": "bearer", "bearer_token": "tok123",
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer tok123", gotAuth)
}
