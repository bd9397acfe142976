// Package telegram delivers text messages through the Telegram Bot API
// sendMessage method.
package telegram

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/teilomillet/relay/config"
	"github.com/teilomillet/relay/errors"
	"github.com/teilomillet/relay/server/middleware"
)

const maxResponseBody = 1 << 20

// Client sends messages to Telegram chats. It is safe for concurrent use;
// all calls share one pooled http.Client.
type Client struct {
	http           *http.Client
	baseURL        string
	token          string
	parseMode      string
	disablePreview bool
	timeout        time.Duration
	limiter        *rate.Limiter
	logger         *zap.Logger
}

// Option configures a Client.
type Option func(*Client)

// WithHTTPClient replaces the retrying http.Client built from config.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		c.http = hc
	}
}

// WithBaseURL sets a custom base URL (for testing).
func WithBaseURL(baseURL string) Option {
	return func(c *Client) {
		c.baseURL = strings.TrimRight(baseURL, "/")
	}
}

// New creates a Client from cfg. Outbound requests go through a
// RetryTransport and are paced by cfg.RateLimit.
func New(cfg config.TelegramConfig, logger *zap.Logger, opts ...Option) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		http: &http.Client{
			Transport: NewRetryTransport(nil, cfg.Retry, logger),
		},
		baseURL:        strings.TrimRight(cfg.BaseURL, "/"),
		token:          cfg.BotToken,
		parseMode:      cfg.ParseMode,
		disablePreview: cfg.DisableWebPagePreview,
		timeout:        cfg.Timeout,
		logger:         logger,
	}
	if cfg.RateLimit.MessagesPerSecond > 0 {
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RateLimit.MessagesPerSecond), cfg.RateLimit.Burst)
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type sendMessageRequest struct {
	ChatID                int64  `json:"chat_id"`
	Text                  string `json:"text"`
	ParseMode             string `json:"parse_mode,omitempty"`
	DisableWebPagePreview bool   `json:"disable_web_page_preview,omitempty"`
}

type apiResponse struct {
	OK          bool   `json:"ok"`
	ErrorCode   int    `json:"error_code,omitempty"`
	Description string `json:"description,omitempty"`
}

// Send delivers text to chatID. It returns nil on success and an
// errors.DeliveryError otherwise. The bot token never appears in errors.
//
// When a parse mode is configured and Telegram rejects the entities, the
// message is sent once more as plain text.
func (c *Client) Send(ctx context.Context, chatID int64, text string) error {
	requestID := middleware.GetRequestID(ctx)
	if strings.TrimSpace(text) == "" {
		return errors.NewDeliveryError(requestID, 0, "message text is empty", nil)
	}

	if c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}

	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return errors.NewDeliveryError(requestID, 0, "rate limiter", err)
		}
	}

	err := c.send(ctx, requestID, sendMessageRequest{
		ChatID:                chatID,
		Text:                  text,
		ParseMode:             c.parseMode,
		DisableWebPagePreview: c.disablePreview,
	})
	if err != nil && c.parseMode != "" && isParseError(err) {
		c.logger.Warn("telegram rejected formatting, resending as plain text",
			zap.String("request_id", requestID),
			zap.Int64("chat_id", chatID),
		)
		err = c.send(ctx, requestID, sendMessageRequest{
			ChatID:                chatID,
			Text:                  text,
			DisableWebPagePreview: c.disablePreview,
		})
	}
	return err
}

func (c *Client) send(ctx context.Context, requestID string, body sendMessageRequest) error {
	raw, err := json.Marshal(body)
	if err != nil {
		return errors.NewDeliveryError(requestID, 0, "encode request", err)
	}

	endpoint := fmt.Sprintf("%s/bot%s/sendMessage", c.baseURL, c.token)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(raw))
	if err != nil {
		return errors.NewDeliveryError(requestID, 0, "build request", redact(err))
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.NewDeliveryError(requestID, 0, "", redact(err))
	}
	defer resp.Body.Close()

	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	var out apiResponse
	_ = json.Unmarshal(data, &out)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || !out.OK {
		return errors.NewDeliveryError(requestID, resp.StatusCode, out.Description,
			fmt.Errorf("telegram sendMessage: http %d", resp.StatusCode))
	}
	return nil
}

// redact strips the request URL, which embeds the bot token, from err.
func redact(err error) error {
	var uerr *url.Error
	if stderrors.As(err, &uerr) {
		return fmt.Errorf("%s sendMessage: %w", uerr.Op, uerr.Err)
	}
	return err
}

func isParseError(err error) bool {
	var relayErr *errors.RelayError
	if !errors.As(err, &relayErr) {
		return false
	}
	if relayErr.Details["status"] != http.StatusBadRequest {
		return false
	}
	desc, _ := relayErr.Details["description"].(string)
	return strings.Contains(strings.ToLower(desc), "can't parse entities")
}
