package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/guzmanclinic/anabot/pkg/logging"
)

const defaultAPIBaseURL = "https://api.telegram.org"

// Client sends text messages through the Telegram Bot API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	logger     *logging.Logger
}

// NewClient creates a Bot API client.
func NewClient(token string, timeout time.Duration, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultAPIBaseURL,
		token:      token,
		logger:     logger,
	}
}

// WithBaseURL overrides the Bot API base URL, used in tests.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// SendText delivers a plain text message to the given chat.
func (c *Client) SendText(ctx context.Context, userKey, text string) error {
	if c.token == "" {
		return fmt.Errorf("telegram: client not configured")
	}

	body, err := json.Marshal(map[string]string{
		"chat_id": userKey,
		"text":    text,
	})
	if err != nil {
		return fmt.Errorf("telegram: encode message: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("telegram: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("telegram: send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram: send message: status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
