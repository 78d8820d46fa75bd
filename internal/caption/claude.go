// Package caption describes wiki images with the Anthropic Messages API.
package caption

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/dgallion1/ragingest/internal/retry"
)

const (
	DefaultModel    = "claude-3-5-haiku-latest"
	defaultEndpoint = "https://api.anthropic.com/v1/messages"
	maxImageBytes   = 5 << 20
)

// ErrUnsupportedImage is returned for payloads the API cannot accept as an image block.
var ErrUnsupportedImage = errors.New("unsupported image")

// ClaudeClient captions images and records call latency.
type ClaudeClient struct {
	apiKey     string
	model      string
	endpoint   string
	httpClient *http.Client
	policy     retry.Policy

	Stats *LLMStats
}

func NewClaudeClient(apiKey, model string) *ClaudeClient {
	if model == "" {
		model = DefaultModel
	}
	return &ClaudeClient{
		apiKey:   apiKey,
		model:    model,
		endpoint: defaultEndpoint,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		policy: retry.Default().WithMaxRetries(3),
		Stats:  NewLLMStats(time.Hour),
	}
}

// WithEndpoint points the client at a different Messages API URL.
func (c *ClaudeClient) WithEndpoint(u string) *ClaudeClient {
	c.endpoint = u
	return c
}

// WithPolicy replaces the retry policy.
func (c *ClaudeClient) WithPolicy(p retry.Policy) *ClaudeClient {
	c.policy = p
	return c
}

func (c *ClaudeClient) Model() string { return c.model }

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type contentBlock struct {
	Type   string       `json:"type"`
	Text   string       `json:"text,omitempty"`
	Source *imageSource `json:"source,omitempty"`
}

type anthropicMessage struct {
	Role    string         `json:"role"`
	Content []contentBlock `json:"content"`
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Error *struct {
		Type    string `json:"type"`
		Message string `json:"message"`
	} `json:"error"`
}

// Describe sends img and prompt to the model and returns its description.
func (c *ClaudeClient) Describe(ctx context.Context, img []byte, prompt string) (string, error) {
	mediaType, err := mediaTypeOf(img)
	if err != nil {
		return "", err
	}
	body, err := json.Marshal(anthropicRequest{
		Model:     c.model,
		MaxTokens: 1024,
		Messages: []anthropicMessage{{
			Role: "user",
			Content: []contentBlock{
				{Type: "image", Source: &imageSource{Type: "base64", MediaType: mediaType, Data: base64.StdEncoding.EncodeToString(img)}},
				{Type: "text", Text: prompt},
			},
		}},
	})
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	var text string
	err = c.policy.Do(ctx, func(ctx context.Context) error {
		start := time.Now()
		t, err := c.send(ctx, body)
		if c.Stats != nil {
			c.Stats.Record(time.Since(start).Milliseconds())
		}
		text = t
		return err
	})
	if err != nil {
		return "", err
	}
	return text, nil
}

func (c *ClaudeClient) send(ctx context.Context, body []byte) (string, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-api-key", c.apiKey)
	httpReq.Header.Set("anthropic-version", "2023-06-01")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("claude api: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500 {
		return "", &RetryableError{StatusCode: resp.StatusCode, Message: string(respBody)}
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("claude api status %d: %s", resp.StatusCode, truncate(string(respBody), 200))
	}

	var apiResp anthropicResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if apiResp.Error != nil {
		return "", fmt.Errorf("claude error: %s: %s", apiResp.Error.Type, apiResp.Error.Message)
	}
	var sb strings.Builder
	for _, block := range apiResp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty response from claude")
	}
	return strings.TrimSpace(sb.String()), nil
}

func mediaTypeOf(img []byte) (string, error) {
	if len(img) == 0 {
		return "", fmt.Errorf("%w: empty", ErrUnsupportedImage)
	}
	if len(img) > maxImageBytes {
		return "", fmt.Errorf("%w: %d bytes", ErrUnsupportedImage, len(img))
	}
	switch mt := http.DetectContentType(img); mt {
	case "image/png", "image/jpeg", "image/gif", "image/webp":
		return mt, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedImage, mt)
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

// RetryableError indicates a rate limit or server failure.
type RetryableError struct {
	StatusCode int
	Message    string
}

func (e *RetryableError) Error() string {
	return fmt.Sprintf("retryable error (status %d): %s", e.StatusCode, truncate(e.Message, 200))
}

func (e *RetryableError) HTTPStatus() int { return e.StatusCode }

// Close releases resources.
func (c *ClaudeClient) Close() {
	c.httpClient.CloseIdleConnections()
}
