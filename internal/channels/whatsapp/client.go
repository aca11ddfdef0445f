package whatsapp

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

const defaultGraphBaseURL = "https://graph.facebook.com/v20.0"

// Client sends text messages through the WhatsApp Cloud API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	token      string
	phoneID    string
	logger     *logging.Logger
}

// NewClient creates a Cloud API client for the configured phone number id.
func NewClient(token, phoneID string, timeout time.Duration, logger *logging.Logger) *Client {
	if logger == nil {
		logger = logging.Default()
	}
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	return &Client{
		httpClient: &http.Client{Timeout: timeout},
		baseURL:    defaultGraphBaseURL,
		token:      token,
		phoneID:    phoneID,
		logger:     logger,
	}
}

// WithBaseURL overrides the Graph API base URL, used in tests.
func (c *Client) WithBaseURL(u string) *Client {
	c.baseURL = u
	return c
}

// SendText delivers a plain text message to the given WhatsApp user.
func (c *Client) SendText(ctx context.Context, userKey, text string) error {
	if c.token == "" || c.phoneID == "" {
		return fmt.Errorf("whatsapp: client not configured")
	}

	body, err := json.Marshal(map[string]any{
		"messaging_product": "whatsapp",
		"to":                userKey,
		"type":              "text",
		"text":              map[string]string{"body": text},
	})
	if err != nil {
		return fmt.Errorf("whatsapp: encode message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.baseURL, c.phoneID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("whatsapp: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp: send message: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= 300 {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("whatsapp: send message: status %d: %s", resp.StatusCode, detail)
	}
	return nil
}
