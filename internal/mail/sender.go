// Package mail delivers one-time codes to users through a transactional
// mail HTTP API.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

const defaultTimeout = 15 * time.Second

// CodeSender delivers a one-time code to an address. Implementations must
// not log the code.
type CodeSender interface {
	SendCode(ctx context.Context, recipient, code string) error
}

// APIClient sends codes through a JSON mail API (POST {base_url}, API key in
// the Authorization header).
type APIClient struct {
	APIKey     string
	BaseURL    string
	Sender     string
	HTTPClient *http.Client
}

// NewAPIClient returns a client for the given API key, endpoint, and sender
// address.
func NewAPIClient(apiKey, baseURL, sender string) *APIClient {
	return &APIClient{
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Sender:     sender,
		HTTPClient: &http.Client{Timeout: defaultTimeout},
	}
}

// SendCode posts the code to the mail API. Does not log the code.
func (c *APIClient) SendCode(ctx context.Context, recipient, code string) error {
	if c.APIKey == "" {
		return fmt.Errorf("mail: API key not configured")
	}
	if c.BaseURL == "" {
		return fmt.Errorf("mail: base URL not configured")
	}
	body := map[string]interface{}{
		"from":     c.Sender,
		"to":       recipient,
		"template": "auth_code",
		"variables": map[string]string{
			"code": code,
		},
	}
	raw, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL, bytes.NewReader(raw))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", c.APIKey)
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		b, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("mail: request failed status=%d body=%s", resp.StatusCode, string(b))
	}
	return nil
}
