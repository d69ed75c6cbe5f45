// Package logsink is the dry-run delivery backend: it logs what would be sent
// and always succeeds.
package logsink

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/postrelay/internal/relay"
)

var _ relay.Deliverer = (*Deliverer)(nil)

// Deliverer writes each delivery to the logger.
type Deliverer struct {
	logger *zap.Logger
}

// New creates a Deliverer.
func New(logger *zap.Logger) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deliverer{logger: logger.Named("dry_run")}
}

// Deliver logs the post and caption.
func (d *Deliverer) Deliver(_ context.Context, post relay.Post, caption string) error {
	d.logger.Info("would deliver post",
		zap.Int64("post_id", post.ID),
		zap.String("media_url", post.MediaURL),
		zap.Strings("artists", post.Artists),
		zap.String("caption", caption),
	)
	return nil
}
