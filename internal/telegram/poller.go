package telegram

import (
	"context"
	"errors"
	"time"

	"admin-activead/internal/metrics"

	"github.com/rs/zerolog/log"
)

const (
	initialBackoff = time.Second
	maxBackoff     = 30 * time.Second
)

// Poller feeds updates from getUpdates to a handler.
type Poller struct {
	client  *Client
	timeout time.Duration
	metrics *metrics.Metrics
	offset  int64
}

func NewPoller(client *Client, timeout time.Duration, m *metrics.Metrics) *Poller {
	return &Poller{client: client, timeout: timeout, metrics: m}
}

// Run polls until ctx is done. Updates that were queued before start are
// skipped. handle is called sequentially in update order.
func (p *Poller) Run(ctx context.Context, handle func(Update)) error {
	p.dropPending(ctx)

	backoff := initialBackoff
	for {
		if ctx.Err() != nil {
			return nil
		}

		updates, err := p.client.GetUpdates(ctx, p.offset, p.timeout)
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			p.metrics.PollError()

			wait := backoff
			var apiErr *APIError
			if errors.As(err, &apiErr) && apiErr.RetryAfter > 0 {
				wait = time.Duration(apiErr.RetryAfter) * time.Second
			}
			log.Warn().Err(err).Dur("backoff", wait).Msg("getUpdates failed, retrying with exponential backoff")

			select {
			case <-ctx.Done():
				return nil
			case <-time.After(wait):
			}

			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}
		backoff = initialBackoff

		for _, u := range updates {
			if u.UpdateID >= p.offset {
				p.offset = u.UpdateID + 1
			}
			p.metrics.UpdateReceived()
			handle(u)
		}
	}
}

// dropPending confirms everything queued while the bot was offline.
func (p *Poller) dropPending(ctx context.Context) {
	updates, err := p.client.GetUpdates(ctx, -1, 0)
	if err != nil {
		log.Warn().Err(err).Msg("Could not drop pending updates")
		return
	}
	if n := len(updates); n > 0 {
		p.offset = updates[n-1].UpdateID + 1
		log.Info().Int64("offset", p.offset).Msg("Skipped pending updates")
	}
}
