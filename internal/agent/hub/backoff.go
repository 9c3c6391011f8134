package hub

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/cenkalti/backoff/v5"

	"github.com/agentmesh/agentmesh/internal/hub/wire"
)

// resetThreshold is how long a connection must stay up before the
// backoff schedule resets to its initial interval.
const resetThreshold = 30 * time.Second

func newBackoff(maxInterval time.Duration) *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 1 * time.Second
	b.MaxInterval = maxInterval
	b.Multiplier = 2.0
	b.RandomizationFactor = 0.2
	return b
}

// ConnectWithReconnect runs the session stream in a loop, reconnecting
// with exponential backoff whenever it drops. It returns when ctx is
// cancelled, when the stream ends cleanly (explicit close), or when the
// hub rejects the credentials.
func (c *Client) ConnectWithReconnect(ctx context.Context) {
	b := newBackoff(c.maxBackoff)

	for {
		start := time.Now()
		err := c.Connect(ctx)

		if ctx.Err() != nil {
			return
		}
		if err == nil {
			slog.Info("session stream closed cleanly")
			return
		}
		if wire.IsKind(err, wire.ErrUnauthorized) {
			slog.Error("hub rejected credentials, giving up", "error", err)
			return
		}

		if time.Since(start) > resetThreshold {
			b.Reset()
		}
		wait := b.NextBackOff()
		slog.Warn("session stream dropped, reconnecting",
			"error", err, "backoff", wait)

		select {
		case <-ctx.Done():
			return
		case <-time.After(wait):
		}
	}
}

// errStreamEnded marks a server-side EOF with no closed frame.
var errStreamEnded = errors.New("event stream ended")
