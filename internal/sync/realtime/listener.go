// Package realtime maintains the live subscription to a household's
// remote change stream.
//
// Each change event is applied to the local store through the conflict
// resolver as soon as it arrives, independent of and concurrent with
// coordinator passes. Transport faults never escape the subscription
// boundary: they are logged and the dial loop keeps retrying, while
// the engine falls back to coordinator passes for convergence.
package realtime

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"

	apperrors "github.com/arialin/mealdeck/internal/errors"
	"github.com/arialin/mealdeck/internal/logging"
	"github.com/arialin/mealdeck/internal/models"
)

// Applier applies one remote change event to the local store.
// Satisfied by the engine's merger.
type Applier interface {
	ApplyEvent(event models.ChangeEvent) error
}

// Config holds realtime channel configuration.
type Config struct {
	URL          string        // websocket endpoint base, e.g. "wss://sync.mealdeck.app/v1"
	AuthToken    string        // bearer token for the authenticated household member
	ReconnectMin time.Duration // first reconnect delay (default: 1s)
	ReconnectMax time.Duration // reconnect delay cap (default: 60s)
}

// DefaultConfig returns default listener configuration.
func DefaultConfig() *Config {
	return &Config{
		ReconnectMin: 1 * time.Second,
		ReconnectMax: 60 * time.Second,
	}
}

// Listener dials the household change stream and applies its events.
type Listener struct {
	config  *Config
	applier Applier
	dialer  *websocket.Dialer
}

// NewListener creates a Listener applying events through applier.
func NewListener(config *Config, applier Applier) *Listener {
	if config.ReconnectMin == 0 {
		config.ReconnectMin = DefaultConfig().ReconnectMin
	}
	if config.ReconnectMax == 0 {
		config.ReconnectMax = DefaultConfig().ReconnectMax
	}
	return &Listener{
		config:  config,
		applier: applier,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 10 * time.Second,
		},
	}
}

// Subscription is a cancellable handle on one household's change
// stream. Events applied to the local store are also forwarded on
// Events for observers; a slow observer never blocks application.
type Subscription struct {
	events chan models.ChangeEvent
	cancel context.CancelFunc
	done   chan struct{}
}

// Events yields the change events as they are applied. The channel is
// closed when the subscription ends.
func (s *Subscription) Events() <-chan models.ChangeEvent {
	return s.events
}

// Done is closed when the subscription has fully stopped.
func (s *Subscription) Done() <-chan struct{} {
	return s.done
}

// Close tears the subscription down. Tied to logout, household change
// and component teardown.
func (s *Subscription) Close() {
	s.cancel()
	<-s.done
}

// Subscribe establishes the subscription for one household and starts
// the receive loop. The loop re-dials with capped exponential backoff
// after transport faults until the subscription is closed.
func (l *Listener) Subscribe(ctx context.Context, householdID string) *Subscription {
	ctx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		events: make(chan models.ChangeEvent, 64),
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go l.run(ctx, sub, householdID)

	return sub
}

// run is the dial-and-receive loop. It exits only when ctx is done.
func (l *Listener) run(ctx context.Context, sub *Subscription, householdID string) {
	defer close(sub.done)
	defer close(sub.events)

	reconnect := backoff.NewExponentialBackOff()
	reconnect.InitialInterval = l.config.ReconnectMin
	reconnect.MaxInterval = l.config.ReconnectMax
	reconnect.RandomizationFactor = 0.25
	reconnect.Multiplier = 2
	reconnect.MaxElapsedTime = 0
	reconnect.Reset()

	for {
		if ctx.Err() != nil {
			return
		}

		conn, err := l.dial(ctx, householdID)
		if err != nil {
			logging.ErrorWithCode("Realtime dial failed",
				string(apperrors.ErrRealtimeDial), err,
				map[string]interface{}{"household_id": householdID})
			if !l.sleep(ctx, reconnect.NextBackOff()) {
				return
			}
			continue
		}

		logging.Info("Realtime subscription established",
			map[string]interface{}{"household_id": householdID})
		reconnect.Reset()

		l.receive(ctx, sub, conn)
		conn.Close()

		if ctx.Err() != nil {
			return
		}
		if !l.sleep(ctx, reconnect.NextBackOff()) {
			return
		}
	}
}

// dial opens the websocket for one household's change feed.
func (l *Listener) dial(ctx context.Context, householdID string) (*websocket.Conn, error) {
	header := http.Header{}
	if l.config.AuthToken != "" {
		header.Set("Authorization", "Bearer "+l.config.AuthToken)
	}

	url := l.config.URL + "/households/" + householdID + "/events"
	conn, resp, err := l.dialer.DialContext(ctx, url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	return conn, err
}

// receive reads events until the connection breaks or ctx is done.
// A malformed or unapplicable event is logged and skipped: one bad
// event never takes the stream down.
func (l *Listener) receive(ctx context.Context, sub *Subscription, conn *websocket.Conn) {
	// Unblock ReadMessage when the subscription is closed.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-stop:
		}
	}()

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil {
				logging.Warn("Realtime stream interrupted",
					map[string]interface{}{"error": err.Error()})
			}
			return
		}

		var event models.ChangeEvent
		if err := json.Unmarshal(data, &event); err != nil {
			logging.Error("Failed to decode realtime event", err, nil)
			continue
		}

		if err := l.applier.ApplyEvent(event); err != nil {
			logging.Error("Failed to apply realtime event", err,
				map[string]interface{}{
					"type":  event.Type,
					"table": event.Table,
				})
			continue
		}

		select {
		case sub.events <- event:
		default:
			// Observer is behind; the event is already applied locally.
		}
	}
}

// sleep waits for d or until ctx is done, reporting whether to continue.
func (l *Listener) sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
