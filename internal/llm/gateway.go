// Package llm is the REST client for the Gemini generateContent API:
// multi-turn chat with function calling on the chat model, and
// temperature-zero JSON classification on the lighter parser model.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"flightlens/internal/logging"
)

// Client is the surface the agent and safety layers depend on; the
// Gateway implements it against the live API, tests script it.
type Client interface {
	Chat(ctx context.Context, system string, contents []Content, tools []FunctionDeclaration) (*Reply, error)
	Classify(ctx context.Context, system, user string) (string, error)
}

// Options configures a Gateway.
type Options struct {
	APIKey      string
	BaseURL     string
	ChatModel   string
	ParserModel string
	Timeout     time.Duration
}

// Gateway is the HTTP client for both models.
type Gateway struct {
	apiKey      string
	baseURL     string
	chatModel   string
	parserModel string
	httpClient  *http.Client

	mu          sync.Mutex
	lastRequest time.Time
}

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	maxRetries     = 3
	// minRequestGap spaces consecutive requests to stay under burst
	// rate limits.
	minRequestGap = 100 * time.Millisecond
)

// NewGateway creates a gateway. The API key is validated per request so
// a misconfigured server still boots far enough to report it.
func NewGateway(opts Options) *Gateway {
	if opts.BaseURL == "" {
		opts.BaseURL = defaultBaseURL
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 2 * time.Minute
	}
	return &Gateway{
		apiKey:      opts.APIKey,
		baseURL:     strings.TrimRight(opts.BaseURL, "/"),
		chatModel:   opts.ChatModel,
		parserModel: opts.ParserModel,
		httpClient:  &http.Client{Timeout: opts.Timeout},
	}
}

// Chat sends a multi-turn conversation to the chat model with the given
// function declarations and returns the parsed reply. An empty reply
// (no text, no tool calls) is retried once before surfacing an error.
func (g *Gateway) Chat(ctx context.Context, system string, contents []Content, tools []FunctionDeclaration) (*Reply, error) {
	req := apiRequest{
		Contents:         contents,
		GenerationConfig: generationConfig{MaxOutputTokens: 8192},
	}
	if system != "" {
		req.SystemInstruction = &Content{Parts: []Part{{Text: system}}}
	}
	if len(tools) > 0 {
		req.Tools = []toolSet{{FunctionDeclarations: tools}}
	}

	start := time.Now()
	logging.LLMDebug("chat: model=%s turns=%d tools=%d", g.chatModel, len(contents), len(tools))

	var reply *Reply
	for attempt := 0; attempt < 2; attempt++ {
		resp, err := g.generate(ctx, g.chatModel, req)
		if err != nil {
			return nil, err
		}
		reply = parseReply(resp)
		if !reply.Empty() {
			break
		}
		logging.LLMDebug("chat: empty reply (finish=%s), retrying once", reply.FinishReason)
	}
	if reply.Empty() {
		return nil, fmt.Errorf("model returned no text and no tool calls (finish reason %q)", reply.FinishReason)
	}

	logging.LLM("chat completed in %v: text_len=%d tool_calls=%d finish=%s",
		time.Since(start), len(reply.Text), len(reply.ToolCalls), reply.FinishReason)
	return reply, nil
}

// Classify sends a single-turn prompt to the parser model at
// temperature zero with JSON output and returns the raw text for the
// caller to parse.
func (g *Gateway) Classify(ctx context.Context, system, user string) (string, error) {
	zero := 0.0
	req := apiRequest{
		Contents: []Content{TextContent("user", user)},
		GenerationConfig: generationConfig{
			Temperature:      &zero,
			MaxOutputTokens:  1024,
			ResponseMIMEType: "application/json",
		},
	}
	if system != "" {
		req.SystemInstruction = &Content{Parts: []Part{{Text: system}}}
	}

	start := time.Now()
	resp, err := g.generate(ctx, g.parserModel, req)
	if err != nil {
		return "", err
	}
	reply := parseReply(resp)
	if reply.Text == "" {
		return "", fmt.Errorf("classifier returned no text (finish reason %q)", reply.FinishReason)
	}

	logging.LLMDebug("classify completed in %v: model=%s len=%d", time.Since(start), g.parserModel, len(reply.Text))
	return reply.Text, nil
}

// generate runs one request with rate spacing and a bounded retry loop
// for rate limits and transient transport failures.
func (g *Gateway) generate(ctx context.Context, model string, reqBody apiRequest) (*apiResponse, error) {
	if g.apiKey == "" {
		return nil, fmt.Errorf("LLM API key not configured")
	}
	if model == "" {
		return nil, fmt.Errorf("LLM model not configured")
	}

	// Centralized timeout: apply the client timeout when the caller
	// passed no deadline.
	if _, hasDeadline := ctx.Deadline(); !hasDeadline {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.httpClient.Timeout)
		defer cancel()
	}

	g.mu.Lock()
	if elapsed := time.Since(g.lastRequest); elapsed < minRequestGap {
		time.Sleep(minRequestGap - elapsed)
	}
	g.lastRequest = time.Now()
	g.mu.Unlock()

	jsonData, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s", g.baseURL, model, g.apiKey)

	var lastErr error
	for i := 0; i <= maxRetries; i++ {
		if i > 0 {
			select {
			case <-time.After(time.Duration(1<<uint(i-1)) * time.Second):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
		if err != nil {
			return nil, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")

		resp, err := g.httpClient.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			lastErr = fmt.Errorf("request failed: %w", err)
			continue
		}

		body, err := io.ReadAll(resp.Body)
		resp.Body.Close()
		if err != nil {
			lastErr = fmt.Errorf("failed to read response: %w", err)
			continue
		}

		if resp.StatusCode == http.StatusTooManyRequests ||
			resp.StatusCode == http.StatusServiceUnavailable {
			lastErr = fmt.Errorf("rate limited (status %d)", resp.StatusCode)
			logging.LLMDebug("status %d from %s, backing off (attempt %d)", resp.StatusCode, model, i+1)
			continue
		}
		if resp.StatusCode != http.StatusOK {
			// Provider error bodies stay in the logs; callers and their
			// HTTP responses only ever see the status code.
			logging.LLMError("api request failed: model=%s status=%d body=%s",
				model, resp.StatusCode, truncateBody(body))
			return nil, fmt.Errorf("model call failed with status %d", resp.StatusCode)
		}

		var parsed apiResponse
		if err := json.Unmarshal(body, &parsed); err != nil {
			return nil, fmt.Errorf("failed to parse response: %w", err)
		}
		if parsed.Error != nil {
			logging.LLMError("api error: model=%s code=%d message=%s",
				model, parsed.Error.Code, parsed.Error.Message)
			return nil, fmt.Errorf("model call failed with status %d", parsed.Error.Code)
		}
		return &parsed, nil
	}

	logging.LLMError("max retries exceeded for %s: %v", model, lastErr)
	return nil, fmt.Errorf("max retries exceeded: %w", lastErr)
}

// parseReply flattens the first candidate into text plus tool calls.
func parseReply(resp *apiResponse) *Reply {
	reply := &Reply{}
	if len(resp.Candidates) == 0 {
		return reply
	}

	cand := resp.Candidates[0]
	reply.FinishReason = cand.FinishReason

	var text strings.Builder
	for _, part := range cand.Content.Parts {
		if part.Text != "" {
			text.WriteString(part.Text)
		}
		if part.FunctionCall != nil {
			reply.ToolCalls = append(reply.ToolCalls, ToolCall{
				ID:   fmt.Sprintf("call_%d", len(reply.ToolCalls)),
				Name: part.FunctionCall.Name,
				Args: part.FunctionCall.Args,
			})
		}
	}
	reply.Text = strings.TrimSpace(text.String())
	return reply
}

func truncateBody(body []byte) string {
	const limit = 512
	if len(body) > limit {
		return string(body[:limit]) + "..."
	}
	return string(body)
}
