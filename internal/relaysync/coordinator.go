package relaysync

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/sandeepkv93/clinic-survey-relay/internal/domain"
	"github.com/sandeepkv93/clinic-survey-relay/internal/observability"
	"github.com/sandeepkv93/clinic-survey-relay/internal/relay"
)

type State int

const (
	StateIdle State = iota
	StateDraining
	StateSubscribed
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateDraining:
		return "draining"
	case StateSubscribed:
		return "subscribed"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

var ErrCoordinatorStopped = errors.New("sync coordinator already stopped")

const (
	pushBuffer        = 256
	minRetryBackoff   = 500 * time.Millisecond
	maxRetryBackoff   = 30 * time.Second
	defaultResweepGap = time.Minute
)

type Options struct {
	// ResweepInterval re-drains the backlog while subscribed. Zero uses the
	// default; a negative value disables it.
	ResweepInterval time.Duration
	Logger          *slog.Logger
}

// Coordinator owns the relay subscription for one clinic. It drains the
// backlog, subscribes, and then ingests pushes on a single worker so drain
// and push never interleave. A stopped coordinator cannot be restarted.
type Coordinator struct {
	ownerID  string
	relay    relay.Store
	ingestor *Ingestor
	resweep  time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	state   State
	started bool
	stopCh  chan struct{}
	closing chan struct{}
	done    chan struct{}
	pushes  chan domain.RelayRecord

	stopOnce    sync.Once
	closingOnce sync.Once
}

func NewCoordinator(ownerID string, relayStore relay.Store, ingestor *Ingestor, opts Options) *Coordinator {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	resweep := opts.ResweepInterval
	if resweep == 0 {
		resweep = defaultResweepGap
	}
	return &Coordinator{
		ownerID:  ownerID,
		relay:    relayStore,
		ingestor: ingestor,
		resweep:  resweep,
		logger:   logger.With("component", "sync_coordinator", "owner_id", ownerID),
		state:    StateIdle,
		stopCh:   make(chan struct{}),
		closing:  make(chan struct{}),
		done:     make(chan struct{}),
		pushes:   make(chan domain.RelayRecord, pushBuffer),
	}
}

func (c *Coordinator) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

func (c *Coordinator) transition(ctx context.Context, to State) bool {
	c.mu.Lock()
	from := c.state
	if from == StateStopped || from == to {
		c.mu.Unlock()
		return false
	}
	c.state = to
	c.mu.Unlock()
	observability.RecordCoordinatorTransition(ctx, from.String(), to.String())
	c.logger.InfoContext(ctx, "sync coordinator state changed", "from", from.String(), "to", to.String())
	return true
}

// Run drives the coordinator until ctx is cancelled or Stop is called. It
// returns ErrCoordinatorStopped when the instance was already used.
func (c *Coordinator) Run(ctx context.Context) error {
	c.mu.Lock()
	if c.started || c.state == StateStopped {
		c.mu.Unlock()
		return ErrCoordinatorStopped
	}
	c.started = true
	c.mu.Unlock()
	defer close(c.done)

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	go func() {
		select {
		case <-c.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	c.transition(ctx, StateDraining)
	if !c.retry(ctx, "initial drain", func() error {
		_, err := c.drain(ctx, TriggerDrain)
		return err
	}) {
		c.finish(ctx, nil)
		return nil
	}
	if ctx.Err() != nil {
		c.finish(ctx, nil)
		return nil
	}

	var sub relay.Subscription
	if !c.retry(ctx, "subscribe", func() error {
		s, err := c.relay.Subscribe(ctx, c.ownerID, c.enqueue)
		if err != nil {
			return err
		}
		sub = s
		return nil
	}) {
		c.finish(ctx, nil)
		return nil
	}
	c.transition(ctx, StateSubscribed)

	// Records inserted between the drain and the subscription were never
	// pushed to us.
	if _, err := c.drain(ctx, TriggerResweep); err != nil {
		c.logger.WarnContext(ctx, "catch-up drain failed", "error", err)
	}

	var tick <-chan time.Time
	if c.resweep > 0 {
		ticker := time.NewTicker(c.resweep)
		defer ticker.Stop()
		tick = ticker.C
	}
	for {
		select {
		case <-ctx.Done():
			c.finish(ctx, sub)
			return nil
		case rec := <-c.pushes:
			_, _ = c.ingestor.Ingest(context.WithoutCancel(ctx), rec, TriggerPush)
		case <-tick:
			if _, err := c.drain(ctx, TriggerResweep); err != nil {
				c.logger.WarnContext(ctx, "relay re-sweep failed", "error", err)
			}
		}
	}
}

func (c *Coordinator) drain(ctx context.Context, trigger string) (DrainReport, error) {
	report, err := c.ingestor.Drain(ctx, trigger)
	if err != nil && ctx.Err() == nil {
		return report, err
	}
	if report.Seen > 0 {
		c.logger.InfoContext(ctx, "relay backlog processed",
			"trigger", trigger,
			"seen", report.Seen,
			"ingested", report.Ingested,
			"duplicates", report.Duplicates,
			"failed", report.Failed,
		)
	}
	return report, nil
}

func (c *Coordinator) enqueue(rec domain.RelayRecord) {
	select {
	case c.pushes <- rec:
	case <-c.closing:
	}
}

// retry runs op with capped exponential backoff until it succeeds or ctx ends.
func (c *Coordinator) retry(ctx context.Context, what string, op func() error) bool {
	backoff := minRetryBackoff
	for {
		err := op()
		if err == nil {
			return true
		}
		if ctx.Err() != nil {
			return false
		}
		c.logger.WarnContext(ctx, "sync coordinator step failed, retrying", "step", what, "backoff", backoff.String(), "error", err)
		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return false
		case <-timer.C:
		}
		backoff = min(backoff*2, maxRetryBackoff)
	}
}

func (c *Coordinator) finish(ctx context.Context, sub relay.Subscription) {
	// Unblock a delivery callback before Close waits for it.
	c.closingOnce.Do(func() { close(c.closing) })
	if sub != nil {
		if err := sub.Close(); err != nil {
			c.logger.WarnContext(ctx, "closing relay subscription failed", "error", err)
		}
	}
	c.transition(context.WithoutCancel(ctx), StateStopped)
}

// Stop unsubscribes and waits for in-flight ingestion to finish, or for ctx
// to end. Calling Stop on a coordinator that never ran marks it stopped.
func (c *Coordinator) Stop(ctx context.Context) error {
	c.stopOnce.Do(func() { close(c.stopCh) })
	c.mu.Lock()
	if !c.started {
		from := c.state
		c.state = StateStopped
		c.mu.Unlock()
		if from != StateStopped {
			observability.RecordCoordinatorTransition(ctx, from.String(), StateStopped.String())
		}
		return nil
	}
	c.mu.Unlock()
	select {
	case <-c.done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
