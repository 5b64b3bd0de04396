package llm

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestGateway(url string) *Gateway {
	return NewGateway(Options{
		APIKey:      "test-key",
		BaseURL:     url,
		ChatModel:   "chat-model",
		ParserModel: "parser-model",
		Timeout:     5 * time.Second,
	})
}

func respond(w http.ResponseWriter, body string) {
	w.Header().Set("Content-Type", "application/json")
	io.WriteString(w, body)
}

func TestChatParsesTextAndToolCalls(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		respond(w, `{"candidates":[{"content":{"role":"model","parts":[
			{"text":"Let me check."},
			{"functionCall":{"name":"queryData","args":{"sql":"SELECT 1"}}}
		]},"finishReason":"STOP"}]}`)
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL)
	reply, err := g.Chat(context.Background(), "system", []Content{TextContent("user", "hi")}, nil)
	require.NoError(t, err)
	require.Equal(t, "Let me check.", reply.Text)
	require.Len(t, reply.ToolCalls, 1)
	require.Equal(t, "queryData", reply.ToolCalls[0].Name)
	require.Equal(t, "SELECT 1", reply.ToolCalls[0].Args["sql"])
	require.True(t, reply.HasToolCalls())
}

func TestChatRetriesRateLimit(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		respond(w, `{"candidates":[{"content":{"parts":[{"text":"ok"}]},"finishReason":"STOP"}]}`)
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL)
	reply, err := g.Chat(context.Background(), "", []Content{TextContent("user", "hi")}, nil)
	require.NoError(t, err)
	require.Equal(t, "ok", reply.Text)
	require.Equal(t, int32(2), calls.Load())
}

func TestChatBadRequestIsNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":{"code":400,"message":"internal provider detail"}}`)
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL)
	_, err := g.Chat(context.Background(), "", []Content{TextContent("user", "hi")}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 400")
	// The provider's error body never rides along in the error chain.
	require.NotContains(t, err.Error(), "internal provider detail")
	require.Equal(t, int32(1), calls.Load())
}

func TestChatEmptyReplyRetriedOnce(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		respond(w, `{"candidates":[{"content":{"parts":[]},"finishReason":"MAX_TOKENS"}]}`)
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL)
	_, err := g.Chat(context.Background(), "", []Content{TextContent("user", "hi")}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "no text and no tool calls")
	require.Equal(t, int32(2), calls.Load())
}

func TestClassifyUsesParserModelWithZeroTemperature(t *testing.T) {
	var captured apiRequest
	var path string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		body, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(body, &captured))
		respond(w, `{"candidates":[{"content":{"parts":[{"text":"{\"category\":\"ANSWER\"}"}]},"finishReason":"STOP"}]}`)
	}))
	defer srv.Close()

	g := newTestGateway(srv.URL)
	out, err := g.Classify(context.Background(), "classify this", "ANSWER: roll was 12")
	require.NoError(t, err)
	require.JSONEq(t, `{"category":"ANSWER"}`, out)

	require.Contains(t, path, "parser-model")
	require.NotNil(t, captured.GenerationConfig.Temperature)
	require.Equal(t, 0.0, *captured.GenerationConfig.Temperature)
	require.Equal(t, "application/json", captured.GenerationConfig.ResponseMIMEType)
}

func TestMissingAPIKey(t *testing.T) {
	g := NewGateway(Options{ChatModel: "m", ParserModel: "m"})
	_, err := g.Chat(context.Background(), "", []Content{TextContent("user", "hi")}, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "API key")
}

func TestResultContentWrapsToolPayloads(t *testing.T) {
	content := ResultContent([]ToolResult{{Name: "queryData", Result: `{"ok":true}`}})
	require.Equal(t, "user", content.Role)
	require.Len(t, content.Parts, 1)
	require.Equal(t, "queryData", content.Parts[0].FunctionResponse.Name)
	require.Equal(t, `{"ok":true}`, content.Parts[0].FunctionResponse.Response["result"])
}
