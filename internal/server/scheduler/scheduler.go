// Package scheduler drives the periodic verification sweep.
package scheduler

import (
	"context"

	"github.com/robfig/cron/v3"

	"github.com/dmitrijs2005/mailvault/internal/logging"
	"github.com/dmitrijs2005/mailvault/internal/server/models"
)

const DefaultSpec = "@every 6h"

// Verifier is implemented by the verification service. An empty owner id
// sweeps every stored account.
type Verifier interface {
	VerifyAll(ctx context.Context, ownerID string) ([]models.VerifyResult, error)
}

// Scheduler runs the full-sweep verification on a cron spec. Overlapping runs
// are skipped rather than queued.
type Scheduler struct {
	cron     *cron.Cron
	verifier Verifier
	spec     string
	log      logging.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

func New(verifier Verifier, spec string, log logging.Logger) *Scheduler {
	if spec == "" {
		spec = DefaultSpec
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:     cron.New(),
		verifier: verifier,
		spec:     spec,
		log:      log.With("component", "scheduler"),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// Start registers the sweep job and launches the cron loop.
func (s *Scheduler) Start() error {
	job := cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(s.run))
	if _, err := s.cron.AddJob(s.spec, job); err != nil {
		return err
	}
	s.cron.Start()
	s.log.Info(s.ctx, "verification schedule started", "spec", s.spec)
	return nil
}

func (s *Scheduler) run() {
	results, err := s.verifier.VerifyAll(s.ctx, "")
	if err != nil {
		s.log.Error(s.ctx, "scheduled verification failed", "error", err.Error())
		return
	}

	valid := 0
	for _, r := range results {
		if r.Valid {
			valid++
		}
	}
	s.log.Info(s.ctx, "scheduled verification finished", "checked", len(results), "valid", valid)
}

// Stop cancels the running sweep, halts the cron loop and waits for any job
// still in flight.
func (s *Scheduler) Stop() {
	s.cancel()
	<-s.cron.Stop().Done()
	s.log.Info(context.Background(), "verification schedule stopped")
}
