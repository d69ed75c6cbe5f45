// Package amqp delivers posts as JSON messages to an AMQP 1.0 address.
package amqp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"maps"
	"net/url"
	"strconv"

	"github.com/Azure/go-amqp"
	"go.uber.org/zap"

	"github.com/JakeFAU/postrelay/internal/relay"
)

var _ relay.Deliverer = (*Deliverer)(nil)

// ErrApplyOption indicates that applying a ClientOption failed.
var ErrApplyOption = errors.New("amqp: failed to apply client option")

// ConnectionInfo holds the broker URL and the target address.
type ConnectionInfo struct {
	URL    string
	Target string
}

// ClientOption configures how the AMQP connection is established.
type ClientOption func(*amqp.ConnOptions) error

// WithBasicAuth tells the client to use SASL PLAIN with user/password.
func WithBasicAuth(username, password string) ClientOption {
	return func(o *amqp.ConnOptions) error {
		o.SASLType = amqp.SASLTypePlain(username, password)
		return nil
	}
}

// WithNoAuth tells the client to use SASL ANONYMOUS.
func WithNoAuth() ClientOption {
	return func(o *amqp.ConnOptions) error {
		o.SASLType = amqp.SASLTypeAnonymous()
		return nil
	}
}

// WithProperties sets custom connection properties.
func WithProperties(props map[string]any) ClientOption {
	return func(o *amqp.ConnOptions) error {
		if o.Properties == nil {
			o.Properties = map[string]any{}
		}
		maps.Copy(o.Properties, props)
		return nil
	}
}

type sender interface {
	Send(ctx context.Context, msg *amqp.Message, opts *amqp.SendOptions) error
	Close(ctx context.Context) error
}

// Message is the JSON body published for each post.
type Message struct {
	ID       int64    `json:"id"`
	MediaURL string   `json:"media_url"`
	Artists  []string `json:"artists"`
	Caption  string   `json:"caption"`
}

// Deliverer publishes posts through a single durable sender link.
type Deliverer struct {
	conn   *amqp.Conn
	sender sender
	target string
	logger *zap.Logger
}

// NewDeliverer dials the broker and opens a sender on the target address.
// Credentials embedded in the URL are used when no auth option is given.
func NewDeliverer(ctx context.Context, info ConnectionInfo, logger *zap.Logger, opts ...ClientOption) (*Deliverer, error) {
	if info.URL == "" {
		return nil, fmt.Errorf("amqp url is required")
	}
	if info.Target == "" {
		return nil, fmt.Errorf("amqp target is required")
	}
	connOpts := &amqp.ConnOptions{Properties: map[string]any{"product": "postrelay"}}
	if u, err := url.Parse(info.URL); err == nil && u.User == nil {
		connOpts.SASLType = amqp.SASLTypeAnonymous()
	}
	for _, opt := range opts {
		if err := opt(connOpts); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrApplyOption, err)
		}
	}

	conn, err := amqp.Dial(ctx, info.URL, connOpts)
	if err != nil {
		return nil, fmt.Errorf("dial amqp: %w", err)
	}
	session, err := conn.NewSession(ctx, nil)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp session: %w", err)
	}
	s, err := session.NewSender(ctx, info.Target, &amqp.SenderOptions{
		TargetDurability: amqp.DurabilityUnsettledState,
	})
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("open amqp sender: %w", err)
	}
	d := newWithSender(s, info.Target, logger)
	d.conn = conn
	return d, nil
}

func newWithSender(s sender, target string, logger *zap.Logger) *Deliverer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Deliverer{sender: s, target: target, logger: logger.Named("amqp")}
}

// Deliver sends one settled, durable message per post.
func (d *Deliverer) Deliver(ctx context.Context, post relay.Post, caption string) error {
	body, err := json.Marshal(Message{
		ID:       post.ID,
		MediaURL: post.MediaURL,
		Artists:  post.Artists,
		Caption:  caption,
	})
	if err != nil {
		return fmt.Errorf("marshal message: %w", err)
	}
	contentType := "application/json"
	msg := amqp.NewMessage(body)
	msg.Header = &amqp.MessageHeader{Durable: true}
	msg.Properties = &amqp.MessageProperties{
		MessageID:   strconv.FormatInt(post.ID, 10),
		ContentType: &contentType,
	}
	if err := d.sender.Send(ctx, msg, nil); err != nil {
		return fmt.Errorf("amqp send to %s: %w", d.target, err)
	}
	d.logger.Debug("message sent", zap.Int64("post_id", post.ID), zap.String("target", d.target))
	return nil
}

// Close detaches the sender and closes the connection.
func (d *Deliverer) Close(ctx context.Context) error {
	var errs []error
	if d.sender != nil {
		if err := d.sender.Close(ctx); err != nil {
			errs = append(errs, fmt.Errorf("close sender: %w", err))
		}
	}
	if d.conn != nil {
		if err := d.conn.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close connection: %w", err))
		}
	}
	return errors.Join(errs...)
}
