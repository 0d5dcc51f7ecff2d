// Package telegram is a small Bot API client: the handful of methods the bot
// uses plus a long-polling loop.
package telegram

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

type Client struct {
	base string
	rest *resty.Client
}

// NewClient creates a client for token against apiURL. timeout must exceed
// the long-poll timeout used with GetUpdates.
func NewClient(apiURL, token string, timeout time.Duration) *Client {
	r := resty.New()
	if timeout > 0 {
		r.SetTimeout(timeout)
	} else {
		r.SetTimeout(45 * time.Second)
	}
	r.SetHeader("Content-Type", "application/json")
	return &Client{
		base: strings.TrimRight(apiURL, "/") + "/bot" + token,
		rest: r,
	}
}

func call[T any](ctx context.Context, c *Client, method string, payload any) (T, error) {
	var out apiResponse[T]
	req := c.rest.R().SetContext(ctx).SetResult(&out).SetError(&out)
	if payload != nil {
		req.SetBody(payload)
	}

	resp, err := req.Post(c.base + "/" + method)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("%s: %w", method, err)
	}
	if !out.OK {
		var zero T
		apiErr := &APIError{Code: out.ErrorCode, Description: out.Description}
		if apiErr.Code == 0 {
			apiErr.Code = resp.StatusCode()
		}
		if apiErr.Description == "" {
			apiErr.Description = resp.Status()
		}
		if out.Parameters != nil {
			apiErr.RetryAfter = out.Parameters.RetryAfter
		}
		return zero, fmt.Errorf("%s: %w", method, apiErr)
	}
	return out.Result, nil
}

// GetMe returns the bot's own account.
func (c *Client) GetMe(ctx context.Context) (User, error) {
	return call[User](ctx, c, "getMe", nil)
}

// GetUpdates long-polls for updates starting at offset.
func (c *Client) GetUpdates(ctx context.Context, offset int64, timeout time.Duration) ([]Update, error) {
	payload := map[string]any{
		"offset":          offset,
		"timeout":         int(timeout.Seconds()),
		"allowed_updates": []string{"message", "callback_query"},
	}
	return call[[]Update](ctx, c, "getUpdates", payload)
}

type sendMessageRequest struct {
	ChatID      int64  `json:"chat_id"`
	Text        string `json:"text"`
	ReplyMarkup any    `json:"reply_markup,omitempty"`
}

// SendMessage sends text to chatID. markup may be nil, an
// *InlineKeyboardMarkup or a *ReplyKeyboardMarkup.
func (c *Client) SendMessage(ctx context.Context, chatID int64, text string, markup any) (Message, error) {
	return call[Message](ctx, c, "sendMessage", sendMessageRequest{
		ChatID:      chatID,
		Text:        text,
		ReplyMarkup: markup,
	})
}

type editMessageTextRequest struct {
	ChatID      int64                 `json:"chat_id"`
	MessageID   int64                 `json:"message_id"`
	Text        string                `json:"text"`
	ReplyMarkup *InlineKeyboardMarkup `json:"reply_markup,omitempty"`
}

// EditMessageText replaces the text and inline keyboard of a sent message.
func (c *Client) EditMessageText(ctx context.Context, chatID, messageID int64, text string, markup *InlineKeyboardMarkup) error {
	_, err := call[any](ctx, c, "editMessageText", editMessageTextRequest{
		ChatID:      chatID,
		MessageID:   messageID,
		Text:        text,
		ReplyMarkup: markup,
	})
	return err
}

type answerCallbackRequest struct {
	CallbackQueryID string `json:"callback_query_id"`
	Text            string `json:"text,omitempty"`
	ShowAlert       bool   `json:"show_alert,omitempty"`
}

// AnswerCallbackQuery acknowledges a button press, optionally with a toast
// or an alert.
func (c *Client) AnswerCallbackQuery(ctx context.Context, id, text string, alert bool) error {
	_, err := call[bool](ctx, c, "answerCallbackQuery", answerCallbackRequest{
		CallbackQueryID: id,
		Text:            text,
		ShowAlert:       alert,
	})
	return err
}
