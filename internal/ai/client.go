package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/IqraKhanZ/ChatNest/internal/config"
	"github.com/IqraKhanZ/ChatNest/internal/metrics"

	"github.com/tidwall/gjson"
)

var ErrEmptyReply = errors.New("ai: empty reply")

// APIError 表示上游返回了非 2xx 状态，Body 原样保留给调用方。
type APIError struct {
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("ai: upstream status %d: %s", e.Status, e.Body)
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

// Client 调用 OpenAI 兼容的 chat/completions 接口。
type Client struct {
	cfg  config.AIConfig
	http *http.Client
}

func NewClient(cfg config.AIConfig, httpClient *http.Client) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &Client{cfg: cfg, http: httpClient}
}

// Complete 发送一条用户消息并返回去掉首尾空白的回复。
func (c *Client) Complete(ctx context.Context, userMessage string) (reply string, err error) {
	start := time.Now()
	defer func() { metrics.ObserveAI(start, err) }()

	body, err := json.Marshal(chatRequest{
		Model: c.cfg.Model,
		Messages: []message{
			{Role: "system", Content: c.cfg.SystemPrompt},
			{Role: "user", Content: userMessage},
		},
		MaxTokens: c.cfg.MaxTokens,
	})
	if err != nil {
		return "", err
	}

	url := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Title", "ChatNest")

	resp, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("ai: request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("ai: read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return "", &APIError{Status: resp.StatusCode, Body: string(raw)}
	}

	reply = strings.TrimSpace(gjson.GetBytes(raw, "choices.0.message.content").String())
	if reply == "" {
		return "", ErrEmptyReply
	}
	return reply, nil
}
