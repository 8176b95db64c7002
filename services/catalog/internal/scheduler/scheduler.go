package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"catalogd/services/catalog/internal/model"
	"catalogd/services/catalog/internal/reconcile"
	"catalogd/services/catalog/internal/store"
)

// Runner executes one full discovery pass for a connector.
type Runner interface {
	FullPass(ctx context.Context, conn model.Connector) (reconcile.Summary, error)
}

// Scheduler sweeps the connector table on a short tick and launches a full
// pass for every enabled connector whose rediscovery interval has elapsed.
// The tick is deliberately much shorter than any interval so a connector
// never waits long past its due time.
type Scheduler struct {
	store  store.Gateway
	runner Runner
	logger *log.Logger
	tick   time.Duration
	now    func() time.Time

	mu      sync.Mutex
	running map[string]struct{}
	wg      sync.WaitGroup
}

func New(gw store.Gateway, runner Runner, logger *log.Logger) *Scheduler {
	if logger == nil {
		logger = log.Default()
	}
	return &Scheduler{
		store:   gw,
		runner:  runner,
		logger:  logger,
		tick:    time.Second,
		now:     func() time.Time { return time.Now().UTC() },
		running: map[string]struct{}{},
	}
}

// Run blocks until ctx is canceled, then waits for in-flight passes to
// drain.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.tick)
	defer ticker.Stop()

	s.logger.Printf("INFO scheduler started tick=%s", s.tick)
	for {
		select {
		case <-ctx.Done():
			s.wg.Wait()
			return nil
		case <-ticker.C:
			s.sweep(ctx)
		}
	}
}

func (s *Scheduler) sweep(ctx context.Context) {
	connectors, err := s.store.LoadConnectors(ctx)
	if err != nil {
		s.logger.Printf("WARN scheduler: load connectors: %v", err)
		return
	}

	now := s.now()
	for _, conn := range connectors {
		if !due(conn, now) {
			continue
		}
		if !s.claim(conn.ID) {
			continue
		}
		s.wg.Add(1)
		go func(conn model.Connector) {
			defer s.wg.Done()
			defer s.release(conn.ID)
			s.runConnector(ctx, conn)
		}(conn)
	}
}

// runConnector executes one pass and records the outcome on the connector
// row. A failed pass flips the connector to the error status but leaves
// last_run alone, so the next sweep retries immediately.
func (s *Scheduler) runConnector(ctx context.Context, conn model.Connector) {
	started := s.now()
	summary, err := s.runner.FullPass(ctx, conn)
	if err != nil {
		passFailuresTotal.WithLabelValues(conn.Type).Inc()
		s.logger.Printf("WARN connector %s: pass failed: %v", conn.ID, err)
		if serr := s.store.SetConnectorStatus(ctx, conn.ID, model.StatusError); serr != nil {
			s.logger.Printf("WARN connector %s: record error status: %v", conn.ID, serr)
		}
		return
	}
	passesTotal.WithLabelValues(conn.Type).Inc()
	s.logger.Printf("INFO connector %s: pass done in %s discovered=%d new=%d updated=%d removed=%d failed=%d",
		conn.ID, s.now().Sub(started).Round(time.Millisecond),
		summary.Discovered, summary.New, summary.Updated, summary.Removed, summary.Failed)
}

func (s *Scheduler) claim(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, busy := s.running[id]; busy {
		return false
	}
	s.running[id] = struct{}{}
	return true
}

func (s *Scheduler) release(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.running, id)
}

// due reports whether the connector should run now. A connector with no
// recorded run is immediately due; otherwise the elapsed time must reach the
// configured interval, boundary inclusive.
func due(conn model.Connector, now time.Time) bool {
	if !conn.Enabled {
		return false
	}
	if conn.LastRun == nil {
		return true
	}
	return now.Sub(*conn.LastRun) >= conn.RediscoveryInterval()
}
