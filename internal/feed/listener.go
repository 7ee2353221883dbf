package feed

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"chat-sync/internal/apperrors"
	"chat-sync/internal/models"
	"chat-sync/internal/observability"
)

const (
	DefaultMaxResubscribeFailures = 5
	DefaultPollInterval           = 30 * time.Second
	maxRetryWait                  = time.Minute
)

// Sink receives normalized events and recovery callbacks. The engine is the
// production sink; the relay is another.
type Sink interface {
	HandleFeed(ctx context.Context, ev models.FeedEvent)
	// Reconcile closes the gap left by a lost subscription.
	Reconcile(ctx context.Context) error
	// Degraded is called once when the listener falls back to polling.
	Degraded(err error)
	// Recovered is called when a live subscription replaces polling.
	Recovered()
}

type Config struct {
	MaxResubscribeFailures int
	PollInterval           time.Duration
	// NewBackOff builds the retry schedule between subscribe attempts.
	NewBackOff func() backoff.BackOff
}

// DefaultBackOff retries forever, from 500ms up to 30s between attempts.
func DefaultBackOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 500 * time.Millisecond
	b.MaxInterval = 30 * time.Second
	b.MaxElapsedTime = 0
	return b
}

// Listener keeps one subscription open for the local user and forwards its
// events to a Sink.
type Listener struct {
	source  Source
	sink    Sink
	localID string
	cfg     Config
	log     *zap.Logger
}

func NewListener(source Source, sink Sink, localID string, cfg Config, log *zap.Logger) *Listener {
	if cfg.MaxResubscribeFailures <= 0 {
		cfg.MaxResubscribeFailures = DefaultMaxResubscribeFailures
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = DefaultPollInterval
	}
	if cfg.NewBackOff == nil {
		cfg.NewBackOff = DefaultBackOff
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{
		source:  source,
		sink:    sink,
		localID: localID,
		cfg:     cfg,
		log:     log.With(zap.String("source", source.Name())),
	}
}

// Run subscribes and dispatches until ctx is done. Every successful
// subscription, the first included, is followed by Sink.Reconcile so rows
// written while no subscription was active are picked up. A lost
// subscription is retried with backoff. After
// MaxResubscribeFailures consecutive failures the sink is reconciled every
// PollInterval until a subscription succeeds.
func (l *Listener) Run(ctx context.Context) error {
	bo := l.cfg.NewBackOff()
	failures := 0
	subscribed := false

	var poll *time.Ticker
	var pollC <-chan time.Time
	defer func() {
		if poll != nil {
			poll.Stop()
		}
	}()

	for {
		sub, err := l.source.Subscribe(ctx, l.localID)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			failures++
			observability.IncResubscribe(l.source.Name(), "error")
			l.log.Warn("feed subscribe failed", zap.Int("attempt", failures), zap.Error(err))

			if poll == nil && failures >= l.cfg.MaxResubscribeFailures {
				serr := &apperrors.SubscriptionError{Attempts: failures, Err: err}
				l.log.Error("feed degraded to polling", zap.Duration("interval", l.cfg.PollInterval), zap.Error(serr))
				observability.SetPollMode(l.source.Name(), true)
				l.sink.Degraded(serr)
				poll = time.NewTicker(l.cfg.PollInterval)
				pollC = poll.C
				l.reconcile(ctx)
			}

			wait := bo.NextBackOff()
			if wait == backoff.Stop {
				wait = maxRetryWait
			}
			if err := l.sleep(ctx, wait, pollC); err != nil {
				return err
			}
			continue
		}

		resumed := subscribed || failures > 0
		subscribed = true
		failures = 0
		bo.Reset()
		if poll != nil {
			poll.Stop()
			poll, pollC = nil, nil
			observability.SetPollMode(l.source.Name(), false)
			l.log.Info("feed live again, leaving poll mode")
			l.sink.Recovered()
		}
		if resumed {
			observability.IncResubscribe(l.source.Name(), "ok")
		}
		l.reconcile(ctx)

		err = l.consume(ctx, sub)
		_ = sub.Close()
		if ctx.Err() != nil {
			return ctx.Err()
		}
		l.log.Warn("feed subscription lost", zap.Error(err))
	}
}

func (l *Listener) consume(ctx context.Context, sub Subscription) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-sub.Events():
			if !ok {
				return ErrSubscriptionClosed
			}
			l.dispatch(ctx, ev)
		case err, ok := <-sub.Err():
			if !ok || err == nil {
				return ErrSubscriptionClosed
			}
			return err
		}
	}
}

func (l *Listener) dispatch(ctx context.Context, ev models.FeedEvent) {
	if ev.Message.Status == "" {
		ev.Message.Status = models.StatusConfirmed
	}
	if l.localID != "" {
		if !ev.Message.Involves(l.localID) {
			observability.IncFeedDropped(l.source.Name(), "foreign")
			return
		}
		ev.Peer = models.PeerOf(l.localID, ev.Message)
	}
	observability.IncFeedEvent(l.source.Name())
	l.sink.HandleFeed(ctx, ev)
}

func (l *Listener) reconcile(ctx context.Context) {
	if err := l.sink.Reconcile(ctx); err != nil {
		observability.IncReconcile("error")
		l.log.Warn("feed reconcile failed", zap.Error(err))
		return
	}
	observability.IncReconcile("ok")
}

func (l *Listener) sleep(ctx context.Context, d time.Duration, pollC <-chan time.Time) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timer.C:
			return nil
		case <-pollC:
			l.reconcile(ctx)
		}
	}
}
