// Package dispatcher delivers a run's fresh posts to the messaging channel one
// by one, isolating per-post failures.
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"

	"github.com/JakeFAU/postrelay/internal/metrics"
	"github.com/JakeFAU/postrelay/internal/relay"
)

// DefaultTimeout bounds a single delivery attempt.
const DefaultTimeout = 15 * time.Second

// Config controls Dispatcher behavior.
type Config struct {
	Timeout     time.Duration
	PostURLBase string
}

// Dispatcher sends fresh posts through a relay.Deliverer.
type Dispatcher struct {
	deliverer relay.Deliverer
	throttle  relay.Throttle
	cfg       Config
	logger    *zap.Logger
}

// New creates a Dispatcher. A nil throttle sends without pacing.
func New(deliverer relay.Deliverer, throttle relay.Throttle, cfg Config, logger *zap.Logger) *Dispatcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		deliverer: deliverer,
		throttle:  throttle,
		cfg:       cfg,
		logger:    logger.Named("dispatcher"),
	}
}

// Dispatch attempts every post in order and never stops early.
func (d *Dispatcher) Dispatch(ctx context.Context, fresh []relay.Post) relay.Tally {
	var tally relay.Tally
	for _, post := range fresh {
		if !post.HasMedia {
			tally.Skipped++
			metrics.ObserveDelivery(metrics.ResultSkipped)
			d.logger.Info("skipping post", zap.Int64("post_id", post.ID), zap.Error(relay.ErrNoMedia))
			continue
		}
		if err := d.deliver(ctx, post); err != nil {
			tally.Failed++
			metrics.ObserveDelivery(metrics.ResultFailed)
			d.logger.Warn("delivery failed", zap.Int64("post_id", post.ID), zap.Error(err))
			continue
		}
		tally.Delivered++
		metrics.ObserveDelivery(metrics.ResultDelivered)
		d.logger.Debug("post delivered", zap.Int64("post_id", post.ID))
	}
	return tally
}

func (d *Dispatcher) deliver(ctx context.Context, post relay.Post) error {
	if !validMediaURL(post.MediaURL) {
		return &relay.DeliveryError{PostID: post.ID, Err: fmt.Errorf("%w: %q", relay.ErrBadMediaURL, post.MediaURL)}
	}
	if d.throttle != nil {
		if err := d.throttle.Wait(ctx); err != nil {
			return &relay.DeliveryError{PostID: post.ID, Err: err}
		}
	}

	sendCtx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	caption := relay.Caption(post, d.cfg.PostURLBase)
	if err := d.deliverer.Deliver(sendCtx, post, caption); err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			err = fmt.Errorf("timed out after %s: %w", d.cfg.Timeout, err)
		}
		return &relay.DeliveryError{PostID: post.ID, Err: err}
	}
	return nil
}

func validMediaURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
