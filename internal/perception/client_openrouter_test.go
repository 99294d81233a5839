package perception

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestClient(baseURL string) *OpenRouterClient {
	cfg := DefaultOpenRouterConfig("test-key")
	cfg.BaseURL = baseURL
	return NewOpenRouterClientWithConfig(cfg)
}

func TestOpenRouterComplete(t *testing.T) {
	var gotReq openRouterRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/chat/completions", r.URL.Path)
		require.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  The stars align.  "}}]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	out, err := client.Complete(context.Background(), "anthropic/claude-3.5-sonnet", []Message{
		SystemMessage("be terse"),
		UserMessage("speak"),
	})
	require.NoError(t, err)
	assert.Equal(t, "The stars align.", out)
	assert.Equal(t, "anthropic/claude-3.5-sonnet", gotReq.Model)
	require.Len(t, gotReq.Messages, 2)
	assert.Equal(t, "system", gotReq.Messages[0].Role)
	assert.Nil(t, gotReq.ResponseFormat)
}

func TestOpenRouterCompleteJSON_ResponseFormat(t *testing.T) {
	var gotReq openRouterRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		w.Write([]byte(`{"choices":[{"message":{"content":"{\"allowed\":false}"}}]}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)

	// Without a schema the client asks for a generic JSON object.
	_, err := client.CompleteJSON(context.Background(), "google/gemini-2.0-flash-001", []Message{UserMessage("q")}, nil)
	require.NoError(t, err)
	require.NotNil(t, gotReq.ResponseFormat)
	assert.Equal(t, "json_object", gotReq.ResponseFormat.Type)

	// With a schema it switches to strict json_schema mode.
	schema := &JSONSchema{
		Name: "verdict",
		Schema: map[string]interface{}{
			"type": "object",
		},
	}
	_, err = client.CompleteJSON(context.Background(), "google/gemini-2.0-flash-001", []Message{UserMessage("q")}, schema)
	require.NoError(t, err)
	require.NotNil(t, gotReq.ResponseFormat)
	assert.Equal(t, "json_schema", gotReq.ResponseFormat.Type)
	require.NotNil(t, gotReq.ResponseFormat.JSONSchema)
	assert.Equal(t, "verdict", gotReq.ResponseFormat.JSONSchema.Name)
	assert.True(t, gotReq.ResponseFormat.JSONSchema.Strict)
}

func TestOpenRouterTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream unavailable", http.StatusBadGateway)
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Complete(context.Background(), "openai/gpt-4o", []Message{UserMessage("q")})
	require.Error(t, err)

	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Equal(t, http.StatusBadGateway, te.StatusCode)
	assert.Equal(t, "openai/gpt-4o", te.Model)
}

func TestOpenRouterEmptyResponse(t *testing.T) {
	cases := []string{
		`{"choices":[]}`,
		`{"choices":[{"message":{"content":"   "}}]}`,
	}
	for _, body := range cases {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Write([]byte(body))
		}))
		client := newTestClient(srv.URL)
		_, err := client.Complete(context.Background(), "openai/gpt-4o", []Message{UserMessage("q")})
		srv.Close()

		var ee *EmptyResponseError
		require.True(t, errors.As(err, &ee), "body %s should yield EmptyResponseError, got %v", body, err)
	}
}

func TestOpenRouterAPIErrorBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"error":{"message":"model not found","type":"invalid_request"}}`))
	}))
	defer srv.Close()

	client := newTestClient(srv.URL)
	_, err := client.Complete(context.Background(), "bogus/model", []Message{UserMessage("q")})
	var te *TransportError
	require.True(t, errors.As(err, &te))
	assert.Contains(t, te.Error(), "model not found")
}

func TestOpenRouterMissingKey(t *testing.T) {
	client := NewOpenRouterClient("")
	_, err := client.Complete(context.Background(), "openai/gpt-4o", []Message{UserMessage("q")})

	var ce *ConfigurationError
	require.True(t, errors.As(err, &ce))
}
