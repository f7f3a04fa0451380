// Package historian drains finished race results from the Redis queue and
// persists them in batches.
package historian

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/jason-s-yu/typerace/internal/models"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

// Sink stores a batch of race results.
type Sink interface {
	WriteResults(ctx context.Context, results []models.RaceResult) error
}

// Options tune batching. Zero values pick the defaults.
type Options struct {
	Queue      string
	BatchSize  int
	FlushDelay time.Duration
	// PollTimeout bounds each BLPOP so cancellation is noticed.
	PollTimeout time.Duration
}

// Service pops race results from a Redis list, accumulates them and flushes
// them to a Sink when the batch is full or the flush timer fires.
type Service struct {
	rdb  *redis.Client
	sink Sink
	log  logrus.FieldLogger
	opts Options

	batchMu sync.Mutex
	batch   []models.RaceResult
}

func New(rdb *redis.Client, sink Sink, opts Options, logger logrus.FieldLogger) *Service {
	if opts.Queue == "" {
		opts.Queue = "typerace_results"
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = 20
	}
	if opts.FlushDelay <= 0 {
		opts.FlushDelay = 500 * time.Millisecond
	}
	if opts.PollTimeout <= 0 {
		opts.PollTimeout = 3 * time.Second
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Service{
		rdb:   rdb,
		sink:  sink,
		log:   logger,
		opts:  opts,
		batch: make([]models.RaceResult, 0, opts.BatchSize),
	}
}

// Run consumes the queue until ctx is cancelled, then flushes what is left.
func (s *Service) Run(ctx context.Context) {
	ticker := time.NewTicker(s.opts.FlushDelay)
	defer ticker.Stop()

	s.log.WithField("queue", s.opts.Queue).Info("historian started")
	defer func() {
		s.flush(context.Background())
		s.log.Info("historian stopped")
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case <-ticker.C:
			s.flush(ctx)

		default:
			res, err := s.rdb.BLPop(ctx, s.opts.PollTimeout, s.opts.Queue).Result()
			if err != nil {
				if !errors.Is(err, redis.Nil) && ctx.Err() == nil {
					s.log.Errorf("BLPop: %v", err)
					// avoid spinning while redis is down
					sleep(ctx, s.opts.PollTimeout)
				}
				continue
			}
			if len(res) < 2 {
				continue
			}

			// res[0] is the queue name and res[1] the payload.
			var result models.RaceResult
			if err := json.Unmarshal([]byte(res[1]), &result); err != nil {
				s.log.Warnf("invalid race result record: %v", err)
				continue
			}
			if s.append(result) {
				s.flush(ctx)
			}
		}
	}
}

// append adds a record and reports whether the batch is full.
func (s *Service) append(r models.RaceResult) bool {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()
	s.batch = append(s.batch, r)
	return len(s.batch) >= s.opts.BatchSize
}

// flush writes the pending batch. On failure the records stay pending and
// are retried on the next flush.
func (s *Service) flush(ctx context.Context) {
	s.batchMu.Lock()
	defer s.batchMu.Unlock()

	if len(s.batch) == 0 {
		return
	}
	pending := make([]models.RaceResult, len(s.batch))
	copy(pending, s.batch)

	if err := s.sink.WriteResults(ctx, pending); err != nil {
		s.log.WithField("pending", len(pending)).Errorf("flush race results: %v", err)
		return
	}
	s.batch = s.batch[:0]
	s.log.Debugf("flushed %d race results", len(pending))
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
