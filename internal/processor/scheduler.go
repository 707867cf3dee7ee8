package processor

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dcbrun/dcb/internal/store"
)

// leaderRetryCooldown bounds how often a non-leader instance reattempts
// the advisory lock, so losing leadership doesn't turn into a busy-loop
// of failed lock attempts every poll interval (spec §4.6/§4.8).
const leaderRetryCooldown = 30 * time.Second

// Scheduler runs a set of Subscriptions concurrently, each gated by
// leader election, each with its own backoff and checkpoint. Grounded
// on the teacher's coordinated-start/stop style (internal/web-app/main.go
// wires several long-lived components and stops them together) combined
// with the retrieved outbox worker's ticker-driven poll loop; errgroup
// replaces that file's ad hoc goroutine+WaitGroup bookkeeping with the
// structured cancel-on-first-error form used elsewhere in this repo.
type Scheduler struct {
	Store         store.Store
	Progress      *ProgressStore
	Elector       *Elector
	PollInterval  time.Duration
	Log           zerolog.Logger
	Subscriptions []Subscription

	// Backoff configuration applied to every subscription (spec §6:
	// backoffEnabled, backoffThreshold, backoffMultiplier, backoffMaxSeconds).
	BackoffEnabled    bool
	BackoffThreshold  int
	BackoffMultiplier float64
	BackoffMaxSeconds int

	// MaxErrors is the error-streak budget before a processor is marked
	// FAILED (spec §6: maxErrors).
	MaxErrors int
}

func NewScheduler(s store.Store, progress *ProgressStore, elector *Elector, log zerolog.Logger, subs ...Subscription) *Scheduler {
	return &Scheduler{
		Store:             s,
		Progress:          progress,
		Elector:           elector,
		PollInterval:      250 * time.Millisecond,
		Log:               log,
		Subscriptions:     subs,
		BackoffEnabled:    true,
		BackoffThreshold:  3,
		BackoffMultiplier: 2,
		BackoffMaxSeconds: 30,
		MaxErrors:         10,
	}
}

// Run blocks until ctx is canceled or one subscription's loop returns a
// non-context error, at which point every other subscription is
// canceled too (errgroup's standard fan-in-of-failures behavior).
func (sch *Scheduler) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	fetch := newFetcher(sch.Store)

	for _, sub := range sch.Subscriptions {
		sub := sub
		if !sub.enabled() {
			continue
		}
		g.Go(func() error {
			return sch.runOne(ctx, sub, fetch)
		})
	}
	return g.Wait()
}

// runOne implements the per-processor Tick loop (spec §4.8): a fixed
// poll-interval ticker drives each tick; leadership and backoff state
// persist across ticks instead of being torn down and rebuilt each time.
func (sch *Scheduler) runOne(ctx context.Context, sub Subscription, fetch *fetcher) error {
	log := sch.Log.With().Str("processor", sub.ID).Logger()

	lease := sch.Elector.NewLease(sub.ID)
	defer func() {
		if err := lease.ReleaseGlobalLeader(context.Background()); err != nil {
			log.Debug().Err(err).Msg("releasing leader lock on shutdown")
		}
	}()

	backoff := NewBackoff(sch.BackoffThreshold, sch.BackoffMultiplier, sch.BackoffMaxSeconds, int(sch.PollInterval/time.Millisecond))

	ticker := time.NewTicker(sch.PollInterval)
	defer ticker.Stop()

	var lastLeaderRetry time.Time

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
		sch.tick(ctx, sub, fetch, lease, backoff, &lastLeaderRetry, log)
	}
}

// tick runs one iteration of the scheduler's state machine for sub
// (spec §4.8 Tick pseudocode).
func (sch *Scheduler) tick(ctx context.Context, sub Subscription, fetch *fetcher, lease *Lease, backoff *Backoff, lastLeaderRetry *time.Time, log zerolog.Logger) {
	if !lease.IsGlobalLeader() {
		if time.Since(*lastLeaderRetry) >= leaderRetryCooldown {
			*lastLeaderRetry = time.Now()
			if _, err := lease.TryAcquireGlobalLeader(ctx); err != nil {
				log.Error().Err(err).Msg("leader election failed")
			} else if lease.IsGlobalLeader() {
				log.Info().Msg("acquired leadership")
			}
		}
		if !lease.IsGlobalLeader() {
			return
		}
	}

	if sch.BackoffEnabled && backoff.ShouldSkip() {
		return
	}

	n, err := sch.process(ctx, sub, fetch, log)
	if err != nil {
		if isShutdownConnectionError(err) {
			log.Debug().Err(err).Msg("connection closed during shutdown")
		} else {
			log.Error().Err(err).Msg("poll cycle failed")
		}
		// Backoff state is untouched on error: a transient failure should
		// not also silence the next successful poll.
		return
	}

	if sch.BackoffEnabled {
		if n > 0 {
			backoff.RecordSuccess()
		} else {
			backoff.RecordEmpty()
		}
	}
}

// process fetches, dispatches, and checkpoints one batch for sub,
// returning the number of events handled (spec §4.8 process substeps).
func (sch *Scheduler) process(ctx context.Context, sub Subscription, fetch *fetcher, log zerolog.Logger) (int, error) {
	progress, err := sch.Progress.Get(ctx, sub.ID)
	if err != nil {
		return 0, err
	}
	if progress.Status == StatusPaused || progress.Status == StatusFailed {
		return 0, nil
	}

	events, err := fetch.fetch(ctx, sub, store.Cursor{Position: progress.LastPosition})
	if err != nil {
		return 0, err
	}
	if len(events) == 0 {
		return 0, nil
	}

	if err := sub.Sink.Dispatch(ctx, events); err != nil {
		if recErr := sch.Progress.RecordError(ctx, sub.ID, err, sch.MaxErrors); recErr != nil {
			log.Error().Err(recErr).Msg("recording dispatch error")
		}
		return 0, err
	}

	last := events[len(events)-1].Position
	if err := sch.Progress.Advance(ctx, sub.ID, last); err != nil {
		return 0, err
	}
	log.Debug().Int("count", len(events)).Int64("position", last).Msg("dispatched batch")
	return len(events), nil
}

// isShutdownConnectionError reports whether err is the connection
// closing underneath an in-flight tick during shutdown, rather than a
// real failure worth escalating to error level (spec §7 ShutdownConnectionError:
// SQLSTATE 57P01/08006, and message patterns for closed/terminating connections).
func isShutdownConnectionError(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (pgErr.Code == "57P01" || pgErr.Code == "08006") {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, pattern := range []string{"i/o error", "connection has been closed", "terminating connection", "conn closed"} {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}
