// Package telegram sends messages through the Telegram Bot API.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL = "https://api.telegram.org"
	defaultTimeout = 15 * time.Second
)

// ErrNoToken is returned by Send when no bot token is configured.
var ErrNoToken = errors.New("telegram: bot token not configured")

// Sender calls sendMessage for a single bot.
type Sender struct {
	token      string
	baseURL    string
	httpClient *http.Client
}

// NewSender creates a Sender. An empty baseURL selects DefaultBaseURL.
func NewSender(token, baseURL string) *Sender {
	if baseURL == "" {
		baseURL = DefaultBaseURL
	}
	return &Sender{
		token:      token,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

type sendMessageRequest struct {
	ChatID string `json:"chat_id"`
	Text   string `json:"text"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Send delivers text to the chat identified by recipient. Any non-ok reply
// is an error.
func (s *Sender) Send(ctx context.Context, recipient, text string) error {
	if s.token == "" {
		return ErrNoToken
	}
	body, err := json.Marshal(sendMessageRequest{ChatID: recipient, Text: text})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", s.baseURL, s.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		// The URL carries the token; keep it out of logs.
		return fmt.Errorf("telegram: sendMessage: %w", redact(err, s.token))
	}
	defer resp.Body.Close()

	var ar apiResponse
	if err := json.NewDecoder(resp.Body).Decode(&ar); err != nil {
		return fmt.Errorf("telegram: sendMessage: status %d: decoding reply: %w", resp.StatusCode, err)
	}
	if resp.StatusCode != http.StatusOK || !ar.OK {
		return fmt.Errorf("telegram: sendMessage: status %d: %s", resp.StatusCode, ar.Description)
	}
	return nil
}

func redact(err error, token string) error {
	msg := err.Error()
	if token == "" || !strings.Contains(msg, token) {
		return err
	}
	return errors.New(strings.ReplaceAll(msg, token, "<redacted>"))
}
