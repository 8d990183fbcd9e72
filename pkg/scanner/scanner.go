// Package scanner runs the periodic SLA breach scan: every live entity is
// checked against its state's thresholds and overdue ones get an open alert.
// The scan is idempotent and runs concurrently with live transitions; the
// per-key alert locks keep the two from double-raising or double-resolving.
package scanner

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/labflow/labflow/pkg/models"
	"github.com/labflow/labflow/pkg/persistence"
	"github.com/labflow/labflow/pkg/rules"
	"github.com/labflow/labflow/pkg/services"
	"github.com/robfig/cron/v3"
)

// DefaultSchedule runs a sweep every five minutes.
const DefaultSchedule = "@every 5m"

// scannerActor is stamped as CreatedBy on alerts the scanner raises.
const scannerActor = "sla-scanner"

type Scanner struct {
	persistence persistence.Persistence
	rules       *rules.Table
	sla         *services.SLAService
	schedule    string
	logger      *slog.Logger

	cron    *cron.Cron
	mutex   sync.Mutex
	started bool
	cancel  context.CancelFunc
}

// NewScanner creates a breach scanner. An empty schedule falls back to
// DefaultSchedule; the expression is validated at Start.
func NewScanner(
	p persistence.Persistence,
	table *rules.Table,
	slaService *services.SLAService,
	schedule string,
	logger *slog.Logger,
) *Scanner {
	if schedule == "" {
		schedule = DefaultSchedule
	}

	return &Scanner{
		persistence: p,
		rules:       table,
		sla:         slaService,
		schedule:    schedule,
		logger:      logger.With("module", "scanner"),
	}
}

// Start schedules periodic sweeps and runs one immediately in the
// background. Calling Start on a running scanner is an error.
func (s *Scanner) Start(ctx context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if s.started {
		return fmt.Errorf("scanner already started")
	}

	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel

	s.cron = cron.New(cron.WithChain(
		cron.SkipIfStillRunning(cron.DefaultLogger),
		cron.Recover(cron.DefaultLogger),
	))

	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.Sweep(runCtx)
	}); err != nil {
		cancel()

		return fmt.Errorf("invalid scan schedule %q: %w", s.schedule, err)
	}

	s.cron.Start()
	s.started = true

	s.logger.InfoContext(ctx, "SLA scanner started", "schedule", s.schedule)

	go s.Sweep(runCtx)

	return nil
}

// Stop halts scheduling. A sweep already in flight finishes its current
// entity and then observes the cancelled context.
func (s *Scanner) Stop(_ context.Context) error {
	s.mutex.Lock()
	defer s.mutex.Unlock()

	if !s.started {
		return nil
	}

	if s.cancel != nil {
		s.cancel()
	}

	if s.cron != nil {
		s.cron.Stop()
	}

	s.started = false
	s.logger.Info("SLA scanner stopped")

	return nil
}

// Sweep runs one full scan pass over every kind. Failures are logged per
// entity and never abort the pass: a broken row must not shadow the rest of
// the laboratory's alerts.
func (s *Scanner) Sweep(ctx context.Context) {
	started := time.Now().UTC()

	var scanned, raisedErrs int

	for _, kind := range models.Kinds() {
		entities, err := s.persistence.Entities().ListByKind(ctx, kind, "")
		if err != nil {
			s.logger.ErrorContext(ctx, "Failed to list entities for scan", "kind", kind, "error", err)

			continue
		}

		for _, entity := range entities {
			if ctx.Err() != nil {
				return
			}

			scanned++

			if err := s.scanEntity(ctx, entity, started); err != nil {
				raisedErrs++

				s.logger.WarnContext(ctx, "Failed to scan entity",
					"kind", entity.Kind, "object_id", entity.ID, "state", entity.Status, "error", err)
			}
		}
	}

	s.logger.InfoContext(ctx, "SLA sweep finished",
		"scanned", scanned, "errors", raisedErrs, "elapsed", time.Since(started).String())
}

func (s *Scanner) scanEntity(ctx context.Context, entity *models.Entity, now time.Time) error {
	// Alerts whose state the entity has already left are closed even when
	// the executor's post-commit hook never ran.
	if err := s.sla.ResolveStaleAlerts(ctx, entity, now); err != nil {
		return err
	}

	terminal, err := s.rules.IsTerminal(entity.Kind, entity.Status)
	if err != nil {
		return err
	}

	if terminal {
		return nil
	}

	return s.sla.EvaluateEntity(ctx, entity, now, scannerActor)
}
