package llmadapter

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const (
	defaultAnthropicBaseURL = "https://api.anthropic.com"
	defaultAnthropicVersion = "2023-06-01"
	defaultModel            = "claude-3-5-sonnet-latest"
	defaultMaxTokens        = 4096
)

// HTTPClient is a minimal, single-shot Anthropic Messages API client
// implementing Client. It narrows the provider surface down to what the
// planner needs: one request in, one structured-or-text response out —
// no streaming, no tool calls, no message history.
//
// Grounded on petalflow's llmprovider/adapter.go (irisAdapter.Complete's
// request/response mapping), reshaped to call the provider directly over
// net/http instead of through the iris provider registry (not fetchable
// outside the petalflow repo family — see DESIGN.md).
type HTTPClient struct {
	APIKey     string
	BaseURL    string
	HTTPClient *http.Client
}

// NewHTTPClient creates an HTTPClient for apiKey, defaulting baseURL to
// Anthropic's public API when empty.
func NewHTTPClient(apiKey, baseURL string) *HTTPClient {
	if baseURL == "" {
		baseURL = defaultAnthropicBaseURL
	}
	return &HTTPClient{
		APIKey:  apiKey,
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicRequest struct {
	Model       string              `json:"model"`
	System      string              `json:"system,omitempty"`
	Messages    []anthropicMessage  `json:"messages"`
	MaxTokens   int                 `json:"max_tokens"`
	Temperature *float64            `json:"temperature,omitempty"`
}

type anthropicContentBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type anthropicUsage struct {
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
}

type anthropicResponse struct {
	Model   string                  `json:"model"`
	Content []anthropicContentBlock `json:"content"`
	Usage   anthropicUsage          `json:"usage"`
	Error   *anthropicError         `json:"error"`
}

type anthropicError struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// Complete sends req as a single user message (with an appended
// JSON-schema instruction when req.JSONSchema is set) and returns the
// model's text, decoded as JSON into Response.JSON when a schema was
// requested.
func (c *HTTPClient) Complete(ctx context.Context, req Request) (Response, error) {
	model := req.Model
	if model == "" {
		model = defaultModel
	}
	maxTokens := defaultMaxTokens
	if req.MaxTokens != nil && *req.MaxTokens > 0 {
		maxTokens = *req.MaxTokens
	}

	userText := req.InputText
	if req.JSONSchema != nil {
		schemaJSON, err := json.Marshal(req.JSONSchema)
		if err != nil {
			return Response{}, fmt.Errorf("llmadapter: marshal json schema: %w", err)
		}
		userText = fmt.Sprintf("%s\n\nRespond with ONLY a single JSON object matching this schema, no prose:\n%s", userText, schemaJSON)
	}

	body := anthropicRequest{
		Model:     model,
		System:    req.System,
		Messages:  []anthropicMessage{{Role: "user", Content: userText}},
		MaxTokens: maxTokens,
	}
	if req.Temperature != nil {
		body.Temperature = req.Temperature
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return Response{}, fmt.Errorf("llmadapter: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/v1/messages", bytes.NewReader(payload))
	if err != nil {
		return Response{}, fmt.Errorf("llmadapter: build request: %w", err)
	}
	httpReq.Header.Set("content-type", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)
	httpReq.Header.Set("anthropic-version", defaultAnthropicVersion)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return Response{}, fmt.Errorf("llmadapter: request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Response{}, fmt.Errorf("llmadapter: read response: %w", err)
	}

	var parsed anthropicResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return Response{}, fmt.Errorf("llmadapter: decode response: %w", err)
	}
	if parsed.Error != nil {
		return Response{}, fmt.Errorf("llmadapter: provider error (%s): %s", parsed.Error.Type, parsed.Error.Message)
	}

	var text string
	for _, block := range parsed.Content {
		if block.Type == "text" {
			text += block.Text
		}
	}

	out := Response{
		Text:     text,
		Provider: "anthropic",
		Model:    parsed.Model,
		Usage: Usage{
			InputTokens:  parsed.Usage.InputTokens,
			OutputTokens: parsed.Usage.OutputTokens,
			TotalTokens:  parsed.Usage.InputTokens + parsed.Usage.OutputTokens,
		},
	}

	if req.JSONSchema != nil {
		var jsonOut map[string]any
		if err := json.Unmarshal([]byte(extractJSONObject(text)), &jsonOut); err == nil {
			out.JSON = jsonOut
		}
	}

	return out, nil
}

// extractJSONObject trims any leading/trailing prose around the first
// top-level JSON object in text, tolerating models that ignore the
// "respond with ONLY JSON" instruction.
func extractJSONObject(text string) string {
	start := -1
	depth := 0
	for i, r := range text {
		switch r {
		case '{':
			if start == -1 {
				start = i
			}
			depth++
		case '}':
			depth--
			if depth == 0 && start != -1 {
				return text[start : i+1]
			}
		}
	}
	return text
}

var _ Client = (*HTTPClient)(nil)
