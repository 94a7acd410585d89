// Package ai wraps the remote processing service. The service is opaque: text
// and context in, structured result out, and it may be slow — every call runs
// under a client-enforced timeout.
package ai

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

type Client struct {
	baseURL string
	token   string
	timeout time.Duration
	httpc   *http.Client
}

func NewClient(baseURL, token string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		timeout: timeout,
		httpc:   &http.Client{},
	}
}

type processRequest struct {
	Text    string            `json:"text"`
	Context map[string]string `json:"context,omitempty"`
}

// Process submits text for processing and returns the raw result payload.
// Timeouts surface as ordinary errors; callers apply their own recovery rules.
func (c *Client) Process(ctx context.Context, text string, meta map[string]string) (json.RawMessage, error) {
	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	body, err := json.Marshal(processRequest{Text: text, Context: meta})
	if err != nil {
		return nil, fmt.Errorf("encode process request: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/process", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build process request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		request.Header.Set("Authorization", "Bearer "+c.token)
	}

	response, err := c.httpc.Do(request)
	if err != nil {
		return nil, fmt.Errorf("call processing service: %w", err)
	}
	defer response.Body.Close()

	payload, err := io.ReadAll(response.Body)
	if err != nil {
		return nil, fmt.Errorf("read processing response: %w", err)
	}
	if response.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("processing service returned %d: %s", response.StatusCode, strings.TrimSpace(string(payload)))
	}
	if !json.Valid(payload) {
		return nil, fmt.Errorf("processing service returned invalid JSON")
	}
	return json.RawMessage(payload), nil
}
