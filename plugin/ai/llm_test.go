package ai

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestFormatMessages 测试消息排列顺序
func TestFormatMessages(t *testing.T) {
	req := CompletionRequest{
		SystemInstruction: "You are Alice.",
		History: []Message{
			UserMessage("hello"),
			AssistantMessage("hi there"),
		},
		UserText: "how are you?",
	}

	got := req.Messages()
	require.Len(t, got, 4)
	assert.Equal(t, SystemPrompt("You are Alice."), got[0])
	assert.Equal(t, UserMessage("hello"), got[1])
	assert.Equal(t, AssistantMessage("hi there"), got[2])
	assert.Equal(t, UserMessage("how are you?"), got[3])

	noSystem := FormatMessages("", "x", nil)
	assert.Equal(t, []Message{UserMessage("x")}, noSystem)
}

func TestMockCompletionProvider(t *testing.T) {
	mock := NewMockCompletionProvider()

	reply, err := mock.Complete(context.Background(), CompletionRequest{UserText: "the weather"})
	require.NoError(t, err)
	assert.Contains(t, reply, "the weather")
	assert.Len(t, mock.Requests(), 1)

	mock.Reply = func(context.Context, CompletionRequest) (string, error) {
		return "", errors.New("boom")
	}
	_, err = mock.Complete(context.Background(), CompletionRequest{})
	assert.EqualError(t, err, "boom")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = mock.Complete(ctx, CompletionRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func newChatServer(t *testing.T, handler func(w http.ResponseWriter, body map[string]any)) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		var body map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		w.Header().Set("Content-Type", "application/json")
		handler(w, body)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func writeChoice(w http.ResponseWriter, content string) {
	_ = json.NewEncoder(w).Encode(map[string]any{
		"id":     "chatcmpl-1",
		"object": "chat.completion",
		"model":  "test-model",
		"choices": []map[string]any{{
			"index":         0,
			"finish_reason": "stop",
			"message":       map[string]any{"role": "assistant", "content": content},
		}},
	})
}

func TestOpenAIProvider_Complete(t *testing.T) {
	var seen map[string]any
	srv := newChatServer(t, func(w http.ResponseWriter, body map[string]any) {
		seen = body
		writeChoice(w, "Sounds good to me.")
	})

	p := NewOpenAIProvider(&LLMConfig{Provider: "openai", APIKey: "k", BaseURL: srv.URL, Model: "test-model"})
	reply, err := p.Complete(context.Background(), CompletionRequest{
		SystemInstruction: "You are Bob.",
		UserText:          "lunch?",
		Params:            Params{Temperature: 0.5, MaxTokens: 64},
	})
	require.NoError(t, err)
	assert.Equal(t, "Sounds good to me.", reply)

	assert.Equal(t, "test-model", seen["model"])
	assert.EqualValues(t, 64, seen["max_tokens"])
	messages := seen["messages"].([]any)
	require.Len(t, messages, 2)
	assert.Equal(t, "system", messages[0].(map[string]any)["role"])
	assert.Equal(t, "lunch?", messages[1].(map[string]any)["content"])
}

func TestOpenAIProvider_EmptyReply(t *testing.T) {
	srv := newChatServer(t, func(w http.ResponseWriter, _ map[string]any) {
		writeChoice(w, "   ")
	})

	p := NewOpenAIProvider(&LLMConfig{Provider: "openai", APIKey: "k", BaseURL: srv.URL})
	_, err := p.Complete(context.Background(), CompletionRequest{UserText: "hi"})
	assert.ErrorIs(t, err, ErrEmptyCompletion)
}

func TestOpenAIProvider_RetriesTransient(t *testing.T) {
	var calls atomic.Int32
	srv := newChatServer(t, func(w http.ResponseWriter, _ map[string]any) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"error":{"message":"overloaded","type":"server_error"}}`))
			return
		}
		writeChoice(w, "second time lucky")
	})

	p := NewOpenAIProvider(&LLMConfig{Provider: "openai", APIKey: "k", BaseURL: srv.URL, MaxRetries: 2})
	reply, err := p.Complete(context.Background(), CompletionRequest{UserText: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "second time lucky", reply)
	assert.Equal(t, int32(2), calls.Load())
}

func TestOpenAIProvider_NoRetryOnClientError(t *testing.T) {
	var calls atomic.Int32
	srv := newChatServer(t, func(w http.ResponseWriter, _ map[string]any) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":{"message":"bad request","type":"invalid_request_error"}}`))
	})

	p := NewOpenAIProvider(&LLMConfig{Provider: "openai", APIKey: "k", BaseURL: srv.URL, MaxRetries: 3})
	_, err := p.Complete(context.Background(), CompletionRequest{UserText: "hi"})
	require.Error(t, err)
	assert.Equal(t, int32(1), calls.Load())
}
