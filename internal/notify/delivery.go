package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// InlineButton is one action button under an operator message.
type InlineButton struct {
	Text         string `json:"text"`
	CallbackData string `json:"callback_data"`
}

// InlineKeyboard is rendered as reply_markup rows.
type InlineKeyboard struct {
	InlineKeyboard [][]InlineButton `json:"inline_keyboard"`
}

// Message is the chat-delivery payload. Any backend accepting this shape
// satisfies the contract; in production it is the Telegram Bot API.
type Message struct {
	ChatID      int64           `json:"chat_id"`
	Text        string          `json:"text"`
	ParseMode   string          `json:"parse_mode"`
	ReplyMarkup *InlineKeyboard `json:"reply_markup,omitempty"`
}

// DeliveryClient posts operator messages to the configured chat endpoint.
type DeliveryClient struct {
	logger    *slog.Logger
	endpoint  string
	client    *http.Client
	isEnabled bool
}

// NewDeliveryClient creates a chat delivery client. With an empty endpoint
// the client is disabled and every send succeeds as a logged no-op, which
// keeps dev environments runnable without a bot token.
func NewDeliveryClient(logger *slog.Logger, endpoint, token string, timeout time.Duration) *DeliveryClient {
	isEnabled := endpoint != ""

	if !isEnabled {
		logger.Warn("Chat delivery is disabled due to missing endpoint")
	} else {
		if token != "" {
			endpoint = fmt.Sprintf(endpoint, token)
		}
		logger.Info("Chat delivery client initialized")
	}

	return &DeliveryClient{
		logger:    logger,
		endpoint:  endpoint,
		client:    &http.Client{Timeout: timeout},
		isEnabled: isEnabled,
	}
}

// IsEnabled reports whether a real endpoint is configured.
func (c *DeliveryClient) IsEnabled() bool {
	return c.isEnabled
}

// SendMessage delivers one message to one chat. A timeout counts as a
// delivery failure like any other; the caller decides whether it is a
// per-recipient or a mechanism-level problem.
func (c *DeliveryClient) SendMessage(ctx context.Context, msg Message) error {
	if !c.isEnabled {
		c.logger.Debug("Chat delivery disabled, skipping send", "chat_id", msg.ChatID)
		return nil
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to marshal chat message: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create chat request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send chat message: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("chat endpoint returned status %d: %s", resp.StatusCode, string(respBody))
	}

	return nil
}
