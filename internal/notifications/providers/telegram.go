package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

const telegramAPIBase = "https://api.telegram.org"

// TelegramConfig holds Telegram Bot API credentials.
type TelegramConfig struct {
	BotToken string
	ChatID   string
}

// Telegram delivers notifications through the Telegram Bot API.
type Telegram struct {
	cfg     TelegramConfig
	baseURL string
	client  *http.Client
}

// NewTelegram creates a Telegram provider.
func NewTelegram(cfg TelegramConfig) *Telegram {
	return &Telegram{
		cfg:     cfg,
		baseURL: telegramAPIBase,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

func (t *Telegram) Name() string { return "telegram" }

func (t *Telegram) Available() bool {
	return t.cfg.BotToken != "" && t.cfg.ChatID != ""
}

type telegramSendRequest struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode,omitempty"`
}

type telegramResponse struct {
	OK          bool   `json:"ok"`
	Description string `json:"description,omitempty"`
}

// Send posts a sendMessage call to the Bot API.
func (t *Telegram) Send(ctx context.Context, msg Message) error {
	if !t.Available() {
		return fmt.Errorf("telegram provider is not configured")
	}

	text := msg.Body
	if msg.Title != "" {
		text = msg.Title + "\n\n" + msg.Body
	}

	payload, err := json.Marshal(telegramSendRequest{
		ChatID: t.cfg.ChatID,
		Text:   text,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal telegram payload: %w", err)
	}

	url := fmt.Sprintf("%s/bot%s/sendMessage", t.baseURL, t.cfg.BotToken)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build telegram request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("telegram request failed: %w", err)
	}
	defer resp.Body.Close()

	var body telegramResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return fmt.Errorf("failed to decode telegram response: %w", err)
	}
	if !body.OK {
		return fmt.Errorf("telegram rejected message: %s", body.Description)
	}
	return nil
}
