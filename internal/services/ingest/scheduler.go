package ingest

import (
	"context"
	"fmt"
	"time"

	"agri-price/internal/logger"

	"github.com/robfig/cron"
)

// Scheduler runs ingestion on a cron spec such as "@every 30m" or
// "0 0 */6 * * *".
type Scheduler struct {
	cron    *cron.Cron
	svc     *Service
	log     *logger.Logger
	timeout time.Duration
}

func NewScheduler(svc *Service, spec string, log *logger.Logger) (*Scheduler, error) {
	s := &Scheduler{
		cron:    cron.New(),
		svc:     svc,
		log:     log.With("component", "IngestScheduler"),
		timeout: 5 * time.Minute,
	}
	if err := s.cron.AddFunc(spec, s.tick); err != nil {
		return nil, fmt.Errorf("invalid ingest schedule %q: %w", spec, err)
	}
	return s, nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("Ingest scheduler started")
}

func (s *Scheduler) Stop() { s.cron.Stop() }

func (s *Scheduler) tick() {
	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	res, err := s.svc.Run(ctx)
	if err != nil {
		s.log.Error("Scheduled ingestion failed", "error", err)
		return
	}
	s.log.Info("Scheduled ingestion done", "source", res.Source, "records", res.RecordsInserted)
}
