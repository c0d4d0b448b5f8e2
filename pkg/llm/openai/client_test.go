package openai_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/oceanbase/turnmem-go/pkg/llm"
	openaiLLM "github.com/oceanbase/turnmem-go/pkg/llm/openai"
)

func TestClient_GenerateWithMessages(t *testing.T) {
	var got map[string]interface{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
			"id": "chatcmpl-1",
			"object": "chat.completion",
			"created": 1,
			"model": "gpt-4o-mini",
			"choices": [{"index": 0, "message": {"role": "assistant", "content": "{\"reply\":\"hi\"}"}, "finish_reason": "stop"}]
		}`))
	}))
	defer server.Close()

	client, err := openaiLLM.NewClient(&openaiLLM.Config{APIKey: "test-key", BaseURL: server.URL})
	require.NoError(t, err)
	defer client.Close()

	text, err := client.GenerateWithMessages(context.Background(), []llm.Message{
		{Role: llm.RoleSystem, Content: "be brief"},
		{Role: llm.RoleUser, Content: "hello"},
	}, llm.WithJSONMode(), llm.WithTemperature(0.3), llm.WithMaxTokens(64))
	require.NoError(t, err)
	assert.Equal(t, `{"reply":"hi"}`, text)

	assert.Equal(t, "gpt-4o-mini", got["model"])
	assert.InDelta(t, 0.3, got["temperature"], 1e-6)
	assert.EqualValues(t, 64, got["max_tokens"])
	assert.Equal(t, map[string]interface{}{"type": "json_object"}, got["response_format"])
	assert.Len(t, got["messages"], 2)
}

func TestClient_NoChoices(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"id": "x", "choices": []}`))
	}))
	defer server.Close()

	client, err := openaiLLM.NewClient(&openaiLLM.Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "hello")
	assert.Error(t, err)
}

func TestClient_HTTPError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error": {"message": "boom", "type": "server_error"}}`))
	}))
	defer server.Close()

	client, err := openaiLLM.NewClient(&openaiLLM.Config{APIKey: "k", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = client.Generate(context.Background(), "hello")
	assert.Error(t, err)
}
