package telegram

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"RiskScanner/internal/ports"
)

const (
	defaultAPIBase = "https://api.telegram.org"
	// maxMessageRunes is the Bot API limit for a single text message.
	maxMessageRunes = 4096
)

// Notifier sends risk alerts to a Telegram chat via bot API.
type Notifier struct {
	apiBase  string
	botToken string
	chatID   string
	client   *http.Client
}

var _ ports.Notifier = (*Notifier)(nil)

// NewNotifier registers bot token and chat identifier.
func NewNotifier(botToken, chatID string) *Notifier {
	return &Notifier{
		apiBase:  defaultAPIBase,
		botToken: botToken,
		chatID:   chatID,
		client:   &http.Client{Timeout: 5 * time.Second},
	}
}

// Notify posts a Markdown message with a bold subject line.
func (n *Notifier) Notify(ctx context.Context, subject, message string) error {
	if n.botToken == "" || n.chatID == "" || n.client == nil {
		return fmt.Errorf("telegram notifier misconfigured")
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", n.apiBase, n.botToken)
	form := url.Values{}
	form.Set("chat_id", n.chatID)
	form.Set("text", formatMessage(subject, message))
	form.Set("parse_mode", "Markdown")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("telegram error %s: %s", resp.Status, describe(body))
	}

	return nil
}

// describe extracts the Bot API error description, falling back to the raw body.
func describe(body []byte) string {
	var reply struct {
		Description string `json:"description"`
	}
	if err := json.Unmarshal(body, &reply); err == nil && reply.Description != "" {
		return reply.Description
	}
	return strings.TrimSpace(string(body))
}

var markdownEscaper = strings.NewReplacer("*", "\\*", "_", "\\_", "`", "\\`", "[", "\\[")

// formatMessage escapes subject and body for the legacy Markdown parse mode.
// A trailing escape left dangling by truncation is dropped.
func formatMessage(subject, message string) string {
	text := markdownEscaper.Replace(message)
	if subject != "" {
		text = "*" + markdownEscaper.Replace(subject) + "*\n" + text
	}
	if runes := []rune(text); len(runes) > maxMessageRunes {
		cut := strings.TrimRight(string(runes[:maxMessageRunes-1]), "\\")
		text = cut + "…"
	}
	return text
}
