package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestClientCreateChatCompletion(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, http.MethodPost, r.Method)

		body, _ := io.ReadAll(r.Body)
		var req map[string]interface{}
		require.NoError(t, json.Unmarshal(body, &req))
		assert.NotContains(t, req, "task")

		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"id":"c1","object":"chat.completion","created":1,"model":"gpt","choices":[{"index":0,"message":{"role":"assistant","content":"hi"},"finish_reason":"stop"}],"usage":{"prompt_tokens":1,"completion_tokens":2,"total_tokens":3}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL+"/", "", time.Second)
	text, err := Complete(context.Background(), client, &ChatCompletionRequest{
		Model:    "gpt",
		Messages: []ChatMessage{{Role: "user", Content: "hello"}},
		Task:     TaskTitle,
	})
	require.NoError(t, err)
	assert.Equal(t, "hi", text)
}

func TestClientCreateChatCompletionError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"error":{"message":"bad","type":"invalid_request_error"}}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	_, err := client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{
		Model:    "gpt",
		Messages: []ChatMessage{{Role: "user", Content: "hello"}},
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid_request_error")
}

func TestClientCreateChatCompletionStream(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"role\":\"assistant\",\"content\":\"hel\"}}]}\n\n")
		fmt.Fprint(w, ": keepalive\n\n")
		fmt.Fprint(w, "data: not-json\n\n")
		fmt.Fprint(w, "data: {\"id\":\"c1\",\"choices\":[{\"index\":0,\"delta\":{\"content\":\"lo\"}}],\"usage\":{\"total_tokens\":7}}\n\n")
		fmt.Fprint(w, "data: [DONE]\n\n")
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	var deltas []string
	text, err := StreamText(context.Background(), client, &ChatCompletionRequest{
		Model:    "gpt",
		Messages: []ChatMessage{{Role: "user", Content: "hello"}},
	}, func(delta string) error {
		deltas = append(deltas, delta)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "hello", text)
	assert.Equal(t, []string{"hel", "lo"}, deltas)
}

func TestClientStreamWithoutDoneMarker(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}")
	}))
	defer server.Close()

	client := NewClient(server.URL, "", time.Second)
	text, err := StreamText(context.Background(), client, &ChatCompletionRequest{Model: "gpt"}, nil)
	require.NoError(t, err)
	assert.Equal(t, "x", text)
}

func TestClientStreamCallbackError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, "data: {\"choices\":[{\"delta\":{\"content\":\"x\"}}]}\n\ndata: [DONE]\n\n")
	}))
	defer server.Close()

	stop := errors.New("stop")
	client := NewClient(server.URL, "", time.Second)
	_, err := StreamText(context.Background(), client, &ChatCompletionRequest{Model: "gpt"}, func(string) error { return stop })
	assert.ErrorIs(t, err, stop)
}

func TestClientSetsAuthorization(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, `{"choices":[{"message":{"role":"assistant","content":"ok"}}]}`)
	}))
	defer server.Close()

	client := NewClient(server.URL, "secret", time.Second)
	_, err := client.CreateChatCompletion(context.Background(), &ChatCompletionRequest{Model: "gpt"})
	require.NoError(t, err)
}

func TestCompleteNoChoices(t *testing.T) {
	_, err := Complete(context.Background(), emptyClient{}, &ChatCompletionRequest{})
	assert.Error(t, err)
}

type emptyClient struct{}

func (emptyClient) CreateChatCompletion(context.Context, *ChatCompletionRequest) (*ChatCompletionResponse, error) {
	return &ChatCompletionResponse{}, nil
}

func (emptyClient) CreateChatCompletionStream(context.Context, *ChatCompletionRequest, StreamCallback) (*Usage, error) {
	return nil, nil
}

func TestMockClientCannedTasks(t *testing.T) {
	ctx := context.Background()
	mock := NewMockClient()
	msgs := []ChatMessage{{Role: "system", Content: "sys"}, {Role: "user", Content: "plan my weekend trip to the coast"}}

	intent, err := Complete(ctx, mock, &ChatCompletionRequest{Messages: msgs, Task: TaskIntention})
	require.NoError(t, err)
	assert.Contains(t, intent, `"intent":"query"`)

	plan, err := Complete(ctx, mock, &ChatCompletionRequest{Messages: msgs, Task: TaskPlan})
	require.NoError(t, err)
	var actions []map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(plan), &actions))
	require.Len(t, actions, 1)
	assert.Equal(t, "answer", actions[0]["tool"])

	title, err := Complete(ctx, mock, &ChatCompletionRequest{Messages: msgs, Task: TaskTitle})
	require.NoError(t, err)
	assert.Equal(t, "plan my weekend trip to", title)
}

func TestMockClientStreamsInChunks(t *testing.T) {
	mock := NewScriptedClient(func(*ChatCompletionRequest) (string, error) {
		return strings.Repeat("ab", 12), nil
	})
	var deltas []string
	text, err := StreamText(context.Background(), mock, &ChatCompletionRequest{}, func(d string) error {
		deltas = append(deltas, d)
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, strings.Repeat("ab", 12), text)
	assert.Len(t, deltas, 3)
}

func TestMockClientHonoursCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := NewMockClient().CreateChatCompletion(ctx, &ChatCompletionRequest{})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestNewLLMClientMode(t *testing.T) {
	_, isMock := NewLLMClient(ModeMock, "", "", time.Second, zap.NewNop()).(*MockClient)
	assert.True(t, isMock)
	_, isReal := NewLLMClient("", "http://localhost", "", time.Second, zap.NewNop()).(*Client)
	assert.True(t, isReal)
}
