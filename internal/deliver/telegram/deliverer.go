// Package telegram delivers posts to a Telegram channel through the Bot API.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"go.uber.org/zap"

	"github.com/JakeFAU/postrelay/internal/relay"
)

var _ relay.Deliverer = (*Deliverer)(nil)

// DefaultAPIURL is the public Bot API endpoint.
const DefaultAPIURL = "https://api.telegram.org"

// Config holds Bot API credentials.
type Config struct {
	Token     string
	ChannelID string
	APIURL    string
}

// Deliverer sends each post as a photo message with an HTML caption.
type Deliverer struct {
	cfg    Config
	bot    *bot.Bot
	logger *zap.Logger
}

// New creates a Deliverer. A nil client gets a default with a 30s timeout;
// per-delivery deadlines come from the context. No request is made until the
// first delivery.
func New(cfg Config, client *http.Client, logger *zap.Logger) (*Deliverer, error) {
	if cfg.Token == "" {
		return nil, fmt.Errorf("telegram token is required")
	}
	if cfg.ChannelID == "" {
		return nil, fmt.Errorf("telegram channel id is required")
	}
	if cfg.APIURL == "" {
		cfg.APIURL = DefaultAPIURL
	}
	cfg.APIURL = strings.TrimRight(cfg.APIURL, "/")
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	b, err := bot.New(cfg.Token,
		bot.WithSkipGetMe(),
		bot.WithServerURL(cfg.APIURL),
		bot.WithHTTPClient(client.Timeout, client),
	)
	if err != nil {
		return nil, fmt.Errorf("telegram bot init: %w", redact(err, cfg.Token))
	}
	return &Deliverer{cfg: cfg, bot: b, logger: logger.Named("telegram")}, nil
}

// Deliver calls sendPhoto. A response without "ok": true is a failure.
func (d *Deliverer) Deliver(ctx context.Context, post relay.Post, caption string) error {
	_, err := d.bot.SendPhoto(ctx, &bot.SendPhotoParams{
		ChatID:    d.cfg.ChannelID,
		Photo:     &models.InputFileString{Data: post.MediaURL},
		Caption:   caption,
		ParseMode: models.ParseModeHTML,
	})
	if err != nil {
		// Transport errors carry the request URL, which embeds the bot token.
		return fmt.Errorf("sendPhoto: %w", redact(err, d.cfg.Token))
	}
	d.logger.Debug("photo sent", zap.Int64("post_id", post.ID), zap.String("chat_id", d.cfg.ChannelID))
	return nil
}

type redactedError struct {
	msg string
	err error
}

func (e *redactedError) Error() string { return e.msg }
func (e *redactedError) Unwrap() error { return e.err }

func redact(err error, secret string) error {
	if secret == "" || !strings.Contains(err.Error(), secret) {
		return err
	}
	return &redactedError{msg: strings.ReplaceAll(err.Error(), secret, "<redacted>"), err: err}
}
