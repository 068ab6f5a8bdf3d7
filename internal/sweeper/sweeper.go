package sweeper

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Expirer transitions past-due reservations to their terminal status.
type Expirer interface {
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}

// Sweeper periodically expires past-due reservations. Ticks run one at a
// time on a single goroutine; a slow sweep drops missed ticks instead of
// stacking concurrent passes.
type Sweeper struct {
	expirer  Expirer
	interval time.Duration
	location *time.Location
	logger   logrus.FieldLogger

	wg     sync.WaitGroup
	cancel context.CancelFunc
	mu     sync.Mutex
}

func New(expirer Expirer, interval time.Duration, location *time.Location, logger logrus.FieldLogger) *Sweeper {
	if interval <= 0 {
		interval = time.Minute
	}
	if location == nil {
		location = time.UTC
	}
	return &Sweeper{
		expirer:  expirer,
		interval: interval,
		location: location,
		logger:   logger,
	}
}

// Start launches the background sweep loop.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.wg.Add(1)
	go s.run(runCtx)
}

// Stop cancels the loop and waits for an in-flight sweep to finish.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func (s *Sweeper) run(ctx context.Context) {
	defer s.wg.Done()
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Sweep(ctx)
		}
	}
}

// Sweep executes one scan-and-transition pass. Errors are logged and
// swallowed so a failed pass never takes the process down; the next tick
// retries the full scan.
func (s *Sweeper) Sweep(ctx context.Context) {
	now := time.Now().In(s.location)
	expired, err := s.expirer.ExpireDue(ctx, now)
	if err != nil {
		s.logger.WithError(err).Error("expire sweep failed")
		return
	}
	if expired > 0 {
		s.logger.WithField("expired", expired).Info("reservations expired")
	}
}
