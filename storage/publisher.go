package storage

import (
	"context"

	"github.com/bytedance/sonic"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"

	"github.com/eladsnd/sunday/domain"
)

// DefaultChangeChannel is the Redis channel board changes are published on.
const DefaultChangeChannel = "board-updates"

// Publisher announces committed board changes on a Redis channel.
type Publisher struct {
	client  *redis.Client
	channel string
	logger  *log.Logger
}

// NewPublisher creates a Publisher. An empty channel selects DefaultChangeChannel.
func NewPublisher(client *redis.Client, channel string, logger *log.Logger) *Publisher {
	if channel == "" {
		channel = DefaultChangeChannel
	}
	if logger == nil {
		logger = log.StandardLogger()
	}
	return &Publisher{client: client, channel: channel, logger: logger}
}

// Channel returns the channel changes are published on.
func (p *Publisher) Channel() string { return p.channel }

// Publish sends the change. Failures are logged only; the mutation it
// describes has already committed.
func (p *Publisher) Publish(ctx context.Context, ch domain.BoardChange) {
	if p == nil || p.client == nil {
		return
	}
	payload, err := sonic.MarshalString(ch)
	if err != nil {
		p.logger.WithError(err).Error("encode board change")
		return
	}
	if err := p.client.Publish(ctx, p.channel, payload).Err(); err != nil {
		p.logger.WithFields(log.Fields{"board": ch.BoardID, "entity": ch.Entity, "channel": p.channel}).
			WithError(err).Error("Unable to publish board change")
	}
}

// Subscribe streams the changes of one board until ctx is done. The
// returned channel is closed when the subscription ends.
func (p *Publisher) Subscribe(ctx context.Context, boardID string) (<-chan domain.BoardChange, error) {
	sub := p.client.Subscribe(ctx, p.channel)
	if _, err := sub.Receive(ctx); err != nil {
		_ = sub.Close()
		return nil, err
	}
	out := make(chan domain.BoardChange, 16)
	go func() {
		defer close(out)
		defer sub.Close()
		msgs := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var ch domain.BoardChange
				if err := sonic.UnmarshalString(msg.Payload, &ch); err != nil {
					p.logger.WithError(err).Warn("unable to parse board change")
					continue
				}
				if ch.BoardID != boardID {
					continue
				}
				select {
				case out <- ch:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
