package server

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/23skdu/longbow-scout/internal/config"
	"github.com/23skdu/longbow-scout/internal/metrics"
)

// ChatMessage is one turn of a conversation.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// ChatOptions tune a completion request.
type ChatOptions struct {
	MaxNewTokens int
	Temperature  float64
	TopP         float64
}

// ChatOptionsFrom pulls the chat tuning out of the configuration.
func ChatOptionsFrom(cfg config.Config) ChatOptions {
	return ChatOptions{
		MaxNewTokens: cfg.Chat.MaxNewTokens,
		Temperature:  cfg.Chat.Temperature,
		TopP:         cfg.Chat.TopP,
	}
}

// ChatChunk is one frame of a streaming completion. The final frame
// carries Partial false; TPS and TTFT are the server's running
// generation stats.
type ChatChunk struct {
	Text    string  `json:"text"`
	TPS     float64 `json:"tps"`
	TTFT    float64 `json:"ttft"`
	Partial bool    `json:"partial"`
}

const chatEndpoint = "/v1/inference/chat/completions"

func chatPayload(engineID string, messages []ChatMessage, opts ChatOptions, streaming bool) map[string]interface{} {
	return map[string]interface{}{
		"model":        engineID,
		"messages":     messages,
		"streaming":    streaming,
		"maxNewTokens": opts.MaxNewTokens,
		"temperature":  opts.Temperature,
		"topP":         opts.TopP,
	}
}

// ChatCompletion runs a blocking completion and returns the generated
// text.
func (c *Client) ChatCompletion(ctx context.Context, engineID string, messages []ChatMessage, opts ChatOptions) (string, error) {
	start := time.Now()
	var out struct {
		Text string `json:"text"`
	}
	err := c.do(ctx, "chat", http.MethodPost, chatEndpoint,
		chatPayload(engineID, messages, opts, false), &out)
	if err != nil {
		return "", err
	}
	metrics.RecordChatCompletion(1, time.Since(start))
	return out.Text, nil
}

// StreamChatCompletion streams a completion over server-sent events,
// invoking fn for every frame until the server sends the final one.
func (c *Client) StreamChatCompletion(ctx context.Context, engineID string, messages []ChatMessage, opts ChatOptions, fn func(ChatChunk)) error {
	body, err := json.Marshal(chatPayload(engineID, messages, opts, true))
	if err != nil {
		return fmt.Errorf("encode chat request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+chatEndpoint, bytes.NewReader(body))
	if err != nil {
		return err
	}
	id := uuid.NewString()
	req.Header.Set("X-Request-ID", id)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "text/event-stream")
	req.Header.Set("Cache-Control", "no-cache")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}
	c.log.Debug("chat stream start", "id", id, "engine", engineID)

	start := time.Now()
	resp, err := c.stream.Do(req)
	if err != nil {
		metrics.RecordServerRequest("chat", err)
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		data, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		apiErr := parseAPIError(resp.StatusCode, data)
		metrics.RecordServerRequest("chat", apiErr)
		return apiErr
	}
	metrics.RecordServerRequest("chat", nil)

	chunks := 0
	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, found := strings.CutPrefix(line, "data:")
		if !found {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "" {
			continue
		}
		if data == "[DONE]" {
			break
		}

		var frame struct {
			ChatChunk
			Err json.RawMessage `json:"error"`
		}
		if err := json.Unmarshal([]byte(data), &frame); err != nil {
			c.log.Debug("skipping malformed stream frame", "id", id, "error", err)
			continue
		}
		if len(frame.Err) > 0 && string(frame.Err) != "null" {
			return fmt.Errorf("chat stream: %s", streamErrText(frame.Err))
		}

		if frame.Text != "" {
			chunks++
		}
		if fn != nil {
			fn(frame.ChatChunk)
		}
		if !frame.Partial {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("chat stream: %w", err)
	}

	metrics.RecordChatCompletion(chunks, time.Since(start))
	c.log.Debug("chat stream done", "id", id, "chunks", chunks, "duration", time.Since(start))
	return nil
}

func streamErrText(raw json.RawMessage) string {
	var s string
	if json.Unmarshal(raw, &s) == nil {
		return s
	}
	var obj struct {
		Message string `json:"message"`
	}
	if json.Unmarshal(raw, &obj) == nil && obj.Message != "" {
		return obj.Message
	}
	return string(raw)
}
