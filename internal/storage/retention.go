package storage

import (
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// RetentionPolicy says how long decisions are kept. A steady tick, one that
// neither switched level nor failed, may expire sooner than a transition.
type RetentionPolicy struct {
	Days       int
	SteadyDays int // 0 keeps steady ticks as long as the rest
}

// Cutoffs returns the instants before which all decisions, and steady
// decisions, are removed.
func (p RetentionPolicy) Cutoffs(now time.Time) (all, steady time.Time) {
	all = now.UTC().AddDate(0, 0, -p.Days)
	if p.SteadyDays <= 0 || p.SteadyDays >= p.Days {
		return all, all
	}
	return all, now.UTC().AddDate(0, 0, -p.SteadyDays)
}

// PruneResult counts the rows one prune pass removed
type PruneResult struct {
	Steady  int64 `json:"steady"`
	Expired int64 `json:"expired"`
}

func (r PruneResult) Total() int64 { return r.Steady + r.Expired }

// Pruner applies a retention policy to stored history
type Pruner interface {
	Prune(now time.Time, policy RetentionPolicy) (PruneResult, error)
}

// RetentionCleanerConfig holds configuration for the cleaner
type RetentionCleanerConfig struct {
	RetentionDays       int
	SteadyRetentionDays int
	CleanupPeriod       time.Duration
}

// DefaultRetentionCleanerConfig keeps a month of transitions and a week of
// steady ticks, pruned hourly.
func DefaultRetentionCleanerConfig() RetentionCleanerConfig {
	return RetentionCleanerConfig{
		RetentionDays:       30,
		SteadyRetentionDays: 7,
		CleanupPeriod:       time.Hour,
	}
}

// RetentionCleanerStats contains statistics about the cleaner
type RetentionCleanerStats struct {
	Passes              int64       `json:"passes"`
	Failures            int64       `json:"failures"`
	SteadyDeleted       int64       `json:"steady_deleted"`
	ExpiredDeleted      int64       `json:"expired_deleted"`
	Last                PruneResult `json:"last"`
	LastRun             time.Time   `json:"last_run,omitempty"`
	LastError           string      `json:"last_error,omitempty"`
	RetentionDays       int         `json:"retention_days"`
	SteadyRetentionDays int         `json:"steady_retention_days"`
}

// RetentionCleaner prunes the decision history on a fixed period, starting
// with a pass as soon as it is created.
type RetentionCleaner struct {
	store  Pruner
	policy RetentionPolicy
	period time.Duration
	now    func() time.Time
	logger zerolog.Logger

	trigger  chan struct{}
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.RWMutex
	stats RetentionCleanerStats
}

// NewRetentionCleaner creates and starts a cleaner
func NewRetentionCleaner(store Pruner, config RetentionCleanerConfig, logger zerolog.Logger) *RetentionCleaner {
	return newRetentionCleaner(store, config, time.Now, logger)
}

func newRetentionCleaner(store Pruner, config RetentionCleanerConfig, now func() time.Time, logger zerolog.Logger) *RetentionCleaner {
	period := config.CleanupPeriod
	if period <= 0 {
		logger.Warn().Dur("cleanup_period", period).Msg("Invalid cleanup period, pruning hourly")
		period = time.Hour
	}

	c := &RetentionCleaner{
		store: store,
		policy: RetentionPolicy{
			Days:       config.RetentionDays,
			SteadyDays: config.SteadyRetentionDays,
		},
		period:   period,
		now:      now,
		logger:   logger.With().Str("component", "retention").Logger(),
		trigger:  make(chan struct{}, 1),
		stopChan: make(chan struct{}),
	}
	c.stats.RetentionDays = config.RetentionDays
	c.stats.SteadyRetentionDays = config.SteadyRetentionDays

	c.wg.Add(1)
	go c.loop()

	c.logger.Info().
		Int("retention_days", c.policy.Days).
		Int("steady_retention_days", c.policy.SteadyDays).
		Dur("period", period).
		Msg("Retention cleaner started")
	return c
}

func (c *RetentionCleaner) loop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.period)
	defer ticker.Stop()

	c.prune()
	for {
		select {
		case <-ticker.C:
			c.prune()
		case <-c.trigger:
			c.prune()
		case <-c.stopChan:
			return
		}
	}
}

func (c *RetentionCleaner) prune() {
	now := c.now()
	res, err := c.store.Prune(now, c.policy)

	c.mu.Lock()
	c.stats.Passes++
	c.stats.LastRun = now
	if err != nil {
		c.stats.Failures++
		c.stats.LastError = err.Error()
	} else {
		c.stats.Last = res
		c.stats.LastError = ""
		c.stats.SteadyDeleted += res.Steady
		c.stats.ExpiredDeleted += res.Expired
	}
	c.mu.Unlock()

	switch {
	case err != nil:
		c.logger.Error().Err(err).Msg("Retention pass failed")
	case res.Total() > 0:
		c.logger.Info().Int64("steady", res.Steady).Int64("expired", res.Expired).Msg("Pruned decision history")
	default:
		c.logger.Debug().Msg("Nothing to prune")
	}
}

// RunNow asks for a pass without waiting for the next tick. Requests made
// while one is already pending are merged.
func (c *RetentionCleaner) RunNow() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// Stop ends the loop and waits for a running pass to finish
func (c *RetentionCleaner) Stop() {
	c.stopOnce.Do(func() {
		close(c.stopChan)
		c.wg.Wait()
		c.logger.Info().Msg("Retention cleaner stopped")
	})
}

// Stats returns current cleaner statistics
func (c *RetentionCleaner) Stats() RetentionCleanerStats {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.stats
}
