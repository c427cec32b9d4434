// Package sms sends text messages through the Africa's Talking bulk SMS API.
package sms

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const messagingPath = "/version1/messaging"

// Config holds Africa's Talking credentials
type Config struct {
	BaseURL  string
	Username string
	APIKey   string
	SenderID string // optional alphanumeric sender / short code
}

// Client sends SMS via Africa's Talking
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new SMS client
func NewClient(config Config) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// Recipient is the per-number delivery status returned by the API
type Recipient struct {
	StatusCode int    `json:"statusCode"`
	Number     string `json:"number"`
	Status     string `json:"status"`
	Cost       string `json:"cost"`
	MessageID  string `json:"messageId"`
}

type sendResponse struct {
	SMSMessageData struct {
		Message    string      `json:"Message"`
		Recipients []Recipient `json:"Recipients"`
	} `json:"SMSMessageData"`
}

// Send delivers message to a single +254 number.
func (c *Client) Send(ctx context.Context, to, message string) (*Recipient, error) {
	if c.config.APIKey == "" {
		return nil, fmt.Errorf("sms: api key not configured")
	}

	form := url.Values{}
	form.Set("username", c.config.Username)
	form.Set("to", to)
	form.Set("message", message)
	if c.config.SenderID != "" {
		form.Set("from", c.config.SenderID)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+messagingPath, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("apiKey", c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to send sms: %w", err)
	}
	defer resp.Body.Close()

	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("africastalking error: status=%d body=%s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var out sendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return nil, fmt.Errorf("failed to decode sms response: %w", err)
	}
	if len(out.SMSMessageData.Recipients) == 0 {
		return nil, fmt.Errorf("sms rejected: %s", out.SMSMessageData.Message)
	}

	r := out.SMSMessageData.Recipients[0]
	// 100 Processed, 101 Sent, 102 Queued
	if r.StatusCode < 100 || r.StatusCode > 102 {
		return &r, fmt.Errorf("sms to %s failed: %s", r.Number, r.Status)
	}
	return &r, nil
}
