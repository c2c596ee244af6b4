package events

import (
	"context"
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/ronoel/b2pix-stacks-sub000/async"
)

var log = logrus.WithField("prefix", "events")

// DispatcherConfig tunes the polling loop.
type DispatcherConfig struct {
	Store          Store
	Registry       *Registry
	BatchSize      int64
	PollInterval   time.Duration
	MaxConcurrent  int
	MaxRetries     int64
	BackoffBase    time.Duration
	BackoffCeiling time.Duration
}

// Dispatcher polls eligible consumer rows and executes their handlers with
// bounded concurrency. Delivery is at-least-once; within one event all
// consumers run concurrently and no cross-event ordering is promised.
type Dispatcher struct {
	ctx       context.Context
	cancel    context.CancelFunc
	cfg       DispatcherConfig
	sem       chan struct{}
	runErr    error
}

// NewDispatcher applies defaults: batch 50, poll 5s, 10 concurrent
// consumers, 10 retries, backoff 2s doubling up to 10m.
func NewDispatcher(ctx context.Context, cfg DispatcherConfig) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 50
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = 10
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 10
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 2 * time.Second
	}
	if cfg.BackoffCeiling <= 0 {
		cfg.BackoffCeiling = 10 * time.Minute
	}
	ctx, cancel := context.WithCancel(ctx)
	return &Dispatcher{
		ctx:    ctx,
		cancel: cancel,
		cfg:    cfg,
		sem:    make(chan struct{}, cfg.MaxConcurrent),
	}
}

// Start begins the poll loop.
func (d *Dispatcher) Start() {
	log.WithFields(logrus.Fields{
		"batchSize":     d.cfg.BatchSize,
		"pollInterval":  d.cfg.PollInterval,
		"maxConcurrent": d.cfg.MaxConcurrent,
	}).Info("Starting event dispatcher")
	async.RunEvery(d.ctx, d.cfg.PollInterval, func() {
		if err := d.RunOnce(d.ctx); err != nil {
			d.runErr = err
			log.WithError(err).Error("Dispatch tick failed")
		} else {
			d.runErr = nil
		}
	})
}

// Stop terminates the poll loop.
func (d *Dispatcher) Stop() error {
	d.cancel()
	return nil
}

// Status returns the last tick error, if any.
func (d *Dispatcher) Status() error {
	return d.runErr
}

// RunOnce fetches one batch and processes every consumer in it, returning
// after all spawned executions finish.
func (d *Dispatcher) RunOnce(ctx context.Context) error {
	consumers, err := d.cfg.Store.FetchPending(ctx, d.cfg.BatchSize)
	if err != nil {
		return errors.Wrap(err, "could not fetch pending consumers")
	}
	done := make(chan struct{}, len(consumers))
	for _, c := range consumers {
		select {
		case d.sem <- struct{}{}:
		case <-ctx.Done():
			return ctx.Err()
		}
		go func(c *Consumer) {
			defer func() {
				if r := recover(); r != nil {
					log.WithField("endpoint", c.Endpoint).Errorf("Handler panicked: %v", r)
					d.recordFailure(ctx, c, fmt.Sprintf("panic: %v", r))
				}
				<-d.sem
				done <- struct{}{}
			}()
			d.process(ctx, c)
		}(c)
	}
	for range consumers {
		<-done
	}
	return nil
}

func (d *Dispatcher) process(ctx context.Context, c *Consumer) {
	ev, err := d.cfg.Store.EventByID(ctx, c.EventID)
	if err != nil {
		d.recordFailure(ctx, c, errors.Wrap(err, "could not load event").Error())
		return
	}
	handler, ok := d.cfg.Registry.Resolve(c.Endpoint, ev.EventName)
	if !ok {
		c.Status = ConsumerSkipped
		c.ErrorMessage = "Handler not found"
		c.Date = time.Now().UTC().UnixMilli()
		if err := d.cfg.Store.UpdateConsumer(ctx, c); err != nil {
			log.WithError(err).WithField("endpoint", c.Endpoint).Error("Could not persist skipped consumer")
		}
		consumersSkipped.Inc()
		return
	}

	start := time.Now()
	handleErr := handler.Handle(ctx, ev)
	elapsed := time.Since(start)

	if handleErr != nil {
		d.recordFailure(ctx, c, handleErr.Error())
		return
	}
	c.Status = ConsumerSuccess
	c.ErrorMessage = ""
	c.ExecutionTimeMS = elapsed.Milliseconds()
	c.NextRetryAt = 0
	c.Date = time.Now().UTC().UnixMilli()
	if err := d.cfg.Store.UpdateConsumer(ctx, c); err != nil {
		log.WithError(err).WithField("endpoint", c.Endpoint).Error("Could not persist consumer result")
		return
	}
	consumersProcessed.Inc()
}

func (d *Dispatcher) recordFailure(ctx context.Context, c *Consumer, msg string) {
	c.Status = ConsumerFailed
	c.ErrorMessage = msg
	c.Date = time.Now().UTC().UnixMilli()
	if c.Retry+1 < d.cfg.MaxRetries {
		c.Retry++
		c.NextRetryAt = time.Now().UTC().Add(d.backoff(c.Retry)).UnixMilli()
	} else {
		// Terminal for this consumer until an explicit reset.
		c.Retry++
		c.NextRetryAt = 0
	}
	if err := d.cfg.Store.UpdateConsumer(ctx, c); err != nil {
		log.WithError(err).WithField("endpoint", c.Endpoint).Error("Could not persist consumer failure")
	}
	consumersFailed.Inc()
}

// backoff grows exponentially with the retry count, capped at the ceiling.
func (d *Dispatcher) backoff(retry int64) time.Duration {
	backoff := d.cfg.BackoffBase
	for i := int64(1); i < retry; i++ {
		backoff *= 2
		if backoff >= d.cfg.BackoffCeiling {
			return d.cfg.BackoffCeiling
		}
	}
	if backoff > d.cfg.BackoffCeiling {
		return d.cfg.BackoffCeiling
	}
	return backoff
}

// Replay resets the consumers of every event recorded for the aggregate so
// they are dispatched again. Events themselves are never rewritten.
// Successful consumers are skipped unless force is set. The optional from
// bound (millisecond epoch) filters out older events.
func (d *Dispatcher) Replay(ctx context.Context, aggregateType, aggregateID string, from int64, force bool) error {
	evs, err := d.cfg.Store.EventsByAggregate(ctx, aggregateType, aggregateID)
	if err != nil {
		return errors.Wrap(err, "could not load aggregate events")
	}
	var reset int
	for _, ev := range evs {
		if from > 0 && ev.Date < from {
			continue
		}
		consumers, err := d.cfg.Store.ConsumersByEvent(ctx, ev.ID)
		if err != nil {
			return errors.Wrapf(err, "could not load consumers for event %s", ev.ID.Hex())
		}
		for _, c := range consumers {
			if !force && c.Status == ConsumerSuccess {
				continue
			}
			if err := d.cfg.Store.ResetConsumer(ctx, c.ID); err != nil {
				return errors.Wrapf(err, "could not reset consumer %s", c.ID.Hex())
			}
			reset++
		}
	}
	log.WithFields(logrus.Fields{
		"aggregateType": aggregateType,
		"aggregateId":   aggregateID,
		"reset":         reset,
	}).Info("Replay scheduled")
	return nil
}
