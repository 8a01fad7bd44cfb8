package storage

import (
	"sync"
	"time"

	"github.com/avast/retry-go"
	"github.com/rs/zerolog"

	"github.com/viking76/homeassistant-generic-wmc/internal/models"
)

// BatchInserter is the part of a Store the writer needs
type BatchInserter interface {
	InsertBatch(decisions []*models.Decision) error
}

// DBWriterConfig holds configuration for the async writer
type DBWriterConfig struct {
	BatchSize   int
	FlushPeriod time.Duration
	ChannelSize int

	// Attempts per batch before it is given up; zero means 3.
	Attempts   uint
	RetryDelay time.Duration
}

// DefaultDBWriterConfig returns sensible defaults
func DefaultDBWriterConfig() DBWriterConfig {
	return DBWriterConfig{
		BatchSize:   100,
		FlushPeriod: 5 * time.Second,
		ChannelSize: 1000,
		Attempts:    3,
		RetryDelay:  200 * time.Millisecond,
	}
}

func (c *DBWriterConfig) applyDefaults() {
	if c.BatchSize <= 0 {
		c.BatchSize = 100
	}
	if c.FlushPeriod <= 0 {
		c.FlushPeriod = 5 * time.Second
	}
	if c.ChannelSize <= 0 {
		c.ChannelSize = 1000
	}
	if c.Attempts == 0 {
		c.Attempts = 3
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = 200 * time.Millisecond
	}
}

// DBWriterStats contains statistics about the writer
type DBWriterStats struct {
	Written     int64     `json:"written"`
	Batches     int64     `json:"batches"`
	FailedTries int64     `json:"failed_tries"`
	Lost        int64     `json:"lost"`
	Dropped     int64     `json:"dropped"`
	LastFlush   time.Time `json:"last_flush,omitempty"`
	QueueLength int       `json:"queue_length"`
}

// DBWriter persists decisions in batches from a background goroutine. A
// level transition flushes the pending batch at once so switch history
// survives a crash; steady ticks wait for the batch to fill or the period
// to elapse.
type DBWriter struct {
	store  BatchInserter
	cfg    DBWriterConfig
	logger zerolog.Logger

	queue    chan *models.Decision
	stopChan chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup

	mu    sync.RWMutex
	stats DBWriterStats
}

// NewDBWriter creates and starts a writer
func NewDBWriter(store BatchInserter, config DBWriterConfig, logger zerolog.Logger) *DBWriter {
	config.applyDefaults()
	w := &DBWriter{
		store:    store,
		cfg:      config,
		logger:   logger.With().Str("component", "dbwriter").Logger(),
		queue:    make(chan *models.Decision, config.ChannelSize),
		stopChan: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	w.logger.Info().
		Int("batch_size", config.BatchSize).
		Dur("flush_period", config.FlushPeriod).
		Int("channel_size", config.ChannelSize).
		Msg("DBWriter started")
	return w
}

// Write queues d without blocking. It returns false when the queue is full
// and d was dropped.
func (w *DBWriter) Write(d *models.Decision) bool {
	select {
	case w.queue <- d:
		return true
	default:
	}

	w.mu.Lock()
	w.stats.Dropped++
	w.mu.Unlock()
	w.logger.Warn().Str("unit", d.UnitID).Msg("Write queue full, dropping decision")
	return false
}

func (w *DBWriter) loop() {
	defer w.wg.Done()

	pending := make([]*models.Decision, 0, w.cfg.BatchSize)
	ticker := time.NewTicker(w.cfg.FlushPeriod)
	defer ticker.Stop()

	flush := func() {
		if len(pending) == 0 {
			return
		}
		w.flush(pending)
		pending = make([]*models.Decision, 0, w.cfg.BatchSize)
	}

	for {
		select {
		case d := <-w.queue:
			pending = append(pending, d)
			if d.From != d.To || len(pending) >= w.cfg.BatchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case <-w.stopChan:
			for len(w.queue) > 0 {
				pending = append(pending, <-w.queue)
			}
			flush()
			return
		}
	}
}

func (w *DBWriter) flush(batch []*models.Decision) {
	var failed int64
	err := retry.Do(
		func() error { return w.store.InsertBatch(batch) },
		retry.Attempts(w.cfg.Attempts),
		retry.Delay(w.cfg.RetryDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(n uint, err error) {
			failed++
			w.logger.Debug().Err(err).Uint("attempt", n+1).Msg("Batch insert failed")
		}),
	)

	w.mu.Lock()
	w.stats.FailedTries += failed
	if err != nil {
		w.stats.Lost += int64(len(batch))
	} else {
		w.stats.Written += int64(len(batch))
		w.stats.Batches++
		w.stats.LastFlush = time.Now()
	}
	w.mu.Unlock()

	if err != nil {
		w.logger.Error().Err(err).Int("decisions", len(batch)).Msg("Giving up on batch")
		return
	}
	w.logger.Debug().Int("decisions", len(batch)).Msg("Flushed batch")
}

// Stop flushes everything still queued and waits for the writer to exit
func (w *DBWriter) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.wg.Wait()
		w.logger.Info().Msg("DBWriter stopped")
	})
}

// Stats returns current writer statistics
func (w *DBWriter) Stats() DBWriterStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	s := w.stats
	s.QueueLength = len(w.queue)
	return s
}
