package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	json "github.com/goccy/go-json"

	"github.com/23skdu/longbow-scout/internal/config"
)

func TestChatOptionsFrom(t *testing.T) {
	opts := ChatOptionsFrom(config.Default())
	if opts.MaxNewTokens != 2048 {
		t.Errorf("MaxNewTokens = %d, want 2048", opts.MaxNewTokens)
	}
	if opts.Temperature != 0.7 {
		t.Errorf("Temperature = %v, want 0.7", opts.Temperature)
	}
	if opts.TopP != 0.9 {
		t.Errorf("TopP = %v, want 0.9", opts.TopP)
	}
}

func TestChatCompletion(t *testing.T) {
	var got map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/v1/inference/chat/completions" {
			t.Errorf("path = %q", r.URL.Path)
		}
		if err := json.NewDecoder(r.Body).Decode(&got); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		w.Write([]byte(`{"text":"The capital of France is Paris."}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	msgs := []ChatMessage{{Role: "user", Content: "Capital of France?"}}
	text, err := c.ChatCompletion(context.Background(), "llama-3.2-1b", msgs, ChatOptionsFrom(config.Default()))
	if err != nil {
		t.Fatalf("ChatCompletion() error = %v", err)
	}
	if text != "The capital of France is Paris." {
		t.Errorf("text = %q", text)
	}

	if got["model"] != "llama-3.2-1b" {
		t.Errorf("model = %v", got["model"])
	}
	if got["streaming"] != false {
		t.Errorf("streaming = %v, want false", got["streaming"])
	}
	if got["maxNewTokens"] != float64(2048) {
		t.Errorf("maxNewTokens = %v", got["maxNewTokens"])
	}
	if got["temperature"] != 0.7 {
		t.Errorf("temperature = %v", got["temperature"])
	}
	if got["topP"] != 0.9 {
		t.Errorf("topP = %v", got["topP"])
	}
}

func sseHandler(t *testing.T, events []string) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if accept := r.Header.Get("Accept"); accept != "text/event-stream" {
			t.Errorf("Accept = %q, want text/event-stream", accept)
		}
		var payload map[string]interface{}
		if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
			t.Fatalf("decode payload: %v", err)
		}
		if payload["streaming"] != true {
			t.Errorf("streaming = %v, want true", payload["streaming"])
		}

		w.Header().Set("Content-Type", "text/event-stream")
		flusher := w.(http.Flusher)
		for _, ev := range events {
			fmt.Fprintf(w, "data: %s\n\n", ev)
			flusher.Flush()
		}
	})
}

func TestStreamChatCompletion(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`{"text":"Pa","tps":12.5,"ttft":180.0,"partial":true}`,
		`{"text":"ris","tps":13.1,"ttft":180.0,"partial":true}`,
		`{"text":"","tps":13.1,"ttft":180.0,"partial":false}`,
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	var sb strings.Builder
	var last ChatChunk
	err := c.StreamChatCompletion(context.Background(), "llama-3.2-1b",
		[]ChatMessage{{Role: "user", Content: "Capital of France?"}},
		ChatOptionsFrom(config.Default()),
		func(ch ChatChunk) {
			sb.WriteString(ch.Text)
			last = ch
		})
	if err != nil {
		t.Fatalf("StreamChatCompletion() error = %v", err)
	}
	if sb.String() != "Paris" {
		t.Errorf("streamed text = %q, want Paris", sb.String())
	}
	if last.Partial {
		t.Error("final chunk still partial")
	}
	if last.TPS != 13.1 || last.TTFT != 180.0 {
		t.Errorf("final stats = tps %v, ttft %v", last.TPS, last.TTFT)
	}
}

func TestStreamChatCompletionDoneMarker(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`{"text":"hi","tps":10,"ttft":90,"partial":true}`,
		`[DONE]`,
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	var got string
	err := c.StreamChatCompletion(context.Background(), "m", nil, ChatOptions{}, func(ch ChatChunk) {
		got += ch.Text
	})
	if err != nil {
		t.Fatalf("StreamChatCompletion() error = %v", err)
	}
	if got != "hi" {
		t.Errorf("streamed text = %q, want hi", got)
	}
}

func TestStreamChatCompletionSkipsMalformed(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, []string{
		`{not json`,
		`{"text":"ok","tps":10,"ttft":90,"partial":false}`,
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	var got string
	err := c.StreamChatCompletion(context.Background(), "m", nil, ChatOptions{}, func(ch ChatChunk) {
		got += ch.Text
	})
	if err != nil {
		t.Fatalf("StreamChatCompletion() error = %v", err)
	}
	if got != "ok" {
		t.Errorf("streamed text = %q, want ok", got)
	}
}

func TestStreamChatCompletionErrorFrame(t *testing.T) {
	tests := []struct {
		name  string
		frame string
		want  string
	}{
		{"string", `{"error":"engine not loaded"}`, "engine not loaded"},
		{"object", `{"error":{"code":"no_engine","message":"load a model first"}}`, "load a model first"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(sseHandler(t, []string{tt.frame}))
			defer srv.Close()

			c := testClient(t, srv.URL)
			err := c.StreamChatCompletion(context.Background(), "m", nil, ChatOptions{}, nil)
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("StreamChatCompletion() error = %v, want %q", err, tt.want)
			}
		})
	}
}

func TestStreamChatCompletionHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
		w.Write([]byte(`{"error":{"code":"overloaded","message":"try again"}}`))
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	err := c.StreamChatCompletion(context.Background(), "m", nil, ChatOptions{}, nil)
	var apiErr *APIError
	if !errors.As(err, &apiErr) {
		t.Fatalf("StreamChatCompletion() error = %v, want *APIError", err)
	}
	if apiErr.Code != "overloaded" {
		t.Errorf("Code = %q, want overloaded", apiErr.Code)
	}
}

func TestStreamChatCompletionIgnoresComments(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		fmt.Fprint(w, ": keep-alive\n\n")
		fmt.Fprint(w, "event: message\n")
		fmt.Fprint(w, `data: {"text":"x","tps":1,"ttft":1,"partial":false}`+"\n\n")
	}))
	defer srv.Close()

	c := testClient(t, srv.URL)
	var got string
	err := c.StreamChatCompletion(context.Background(), "m", nil, ChatOptions{}, func(ch ChatChunk) {
		got += ch.Text
	})
	if err != nil {
		t.Fatalf("StreamChatCompletion() error = %v", err)
	}
	if got != "x" {
		t.Errorf("streamed text = %q, want x", got)
	}
}
