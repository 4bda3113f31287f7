package llmadapter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestHTTPClient_Complete_PlainText(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("x-api-key") != "test-key" {
			t.Errorf("missing api key header")
		}
		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Model:   "claude-3-5-sonnet-latest",
			Content: []anthropicContentBlock{{Type: "text", Text: "hello there"}},
			Usage:   anthropicUsage{InputTokens: 10, OutputTokens: 5},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient("test-key", srv.URL)
	resp, err := c.Complete(context.Background(), Request{InputText: "say hi"})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.Text != "hello there" {
		t.Errorf("Text = %q, want %q", resp.Text, "hello there")
	}
	if resp.Usage.TotalTokens != 15 {
		t.Errorf("TotalTokens = %d, want 15", resp.Usage.TotalTokens)
	}
}

func TestHTTPClient_Complete_StructuredOutput(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Model:   "claude-3-5-sonnet-latest",
			Content: []anthropicContentBlock{{Type: "text", Text: `prelude text {"found": true, "confidence": 0.9} trailing`}},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient("test-key", srv.URL)
	resp, err := c.Complete(context.Background(), Request{
		InputText:  "discover",
		JSONSchema: map[string]any{"type": "object"},
	})
	if err != nil {
		t.Fatalf("Complete: %v", err)
	}
	if resp.JSON == nil {
		t.Fatal("expected JSON to be decoded")
	}
	if resp.JSON["found"] != true {
		t.Errorf("JSON[found] = %v, want true", resp.JSON["found"])
	}
}

func TestHTTPClient_Complete_ProviderError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(anthropicResponse{
			Error: &anthropicError{Type: "overloaded_error", Message: "try again"},
		})
	}))
	defer srv.Close()

	c := NewHTTPClient("test-key", srv.URL)
	if _, err := c.Complete(context.Background(), Request{InputText: "x"}); err == nil {
		t.Fatal("expected provider error to surface")
	}
}

func TestExtractJSONObject(t *testing.T) {
	cases := map[string]string{
		`{"a":1}`:                   `{"a":1}`,
		`pre {"a":1} post`:          `{"a":1}`,
		`{"a":{"b":2}} trailing`:    `{"a":{"b":2}}`,
		`no json here`:              `no json here`,
	}
	for in, want := range cases {
		if got := extractJSONObject(in); got != want {
			t.Errorf("extractJSONObject(%q) = %q, want %q", in, got, want)
		}
	}
}
