// Package scheduler translates report definitions into job store entries:
// a delayed one-shot generation job and a cron-recurring delivery job per
// active report. Job IDs are derived from the report ID, so scheduling is
// idempotent and re-scheduling replaces rather than duplicates.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"reportflow/internal/jobstore"
	"reportflow/internal/types"
)

// JobStore is the slice of the job store the scheduler needs.
type JobStore interface {
	EnqueueDelayed(ctx context.Context, queue, jobID string, payload any, fireAt time.Time) error
	EnqueueRecurring(ctx context.Context, queue, jobID string, payload any, cronExpr, timezone string) error
	Cancel(ctx context.Context, queue, jobID string) error
	Counts(ctx context.Context, queue string) (types.QueueCounts, error)
}

// TemplateReader fetches the dashboard layout embedded in generation job
// payloads.
type TemplateReader interface {
	GetByID(ctx context.Context, id string) (*types.ReportTemplate, error)
}

// ActiveReportLister lists every active report, used to rebuild the job
// store contents at startup.
type ActiveReportLister interface {
	ListActive(ctx context.Context) ([]types.ScheduledReport, error)
}

// ReportScheduler manages the pair of jobs backing one scheduled report.
type ReportScheduler struct {
	store     JobStore
	templates TemplateReader
	clock     types.Clock
	logger    *slog.Logger
}

// NewReportScheduler creates a scheduler. A nil clock defaults to the real
// clock.
func NewReportScheduler(store JobStore, templates TemplateReader, clock types.Clock, logger *slog.Logger) *ReportScheduler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &ReportScheduler{
		store:     store,
		templates: templates,
		clock:     clock,
		logger:    logger,
	}
}

// Schedule registers or replaces both jobs for a report: the generation job
// fires lead-time minutes before the next delivery occurrence (clamped to
// now), and the delivery job recurs on the report's cron schedule.
//
// Called on report creation, on any update that touches schedule or
// recipients, and on reactivation.
func (s *ReportScheduler) Schedule(ctx context.Context, rep *types.ScheduledReport) error {
	if rep.Status != types.ReportStatusActive {
		return types.NewAppError(types.ErrCodeInternalUnexpected,
			fmt.Sprintf("cannot schedule report %s with status %s", rep.ID, rep.Status), nil)
	}

	tpl, err := s.templates.GetByID(ctx, rep.TemplateID)
	if err != nil {
		return fmt.Errorf("Schedule: %w", err)
	}

	now := s.clock.Now()
	leadTime := time.Duration(rep.LeadTimeMinutes) * time.Minute
	genAt, err := jobstore.GenerationFireAt(rep.CronExpr, rep.Timezone, leadTime, now)
	if err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidCron,
			fmt.Sprintf("cannot compute generation time for report %s", rep.ID), err)
	}

	genPayload := jobstore.GenerationPayload{
		ReportID: rep.ID,
		Title:    rep.Title,
		Layout:   tpl.DashboardLayout,
	}
	err = s.store.EnqueueDelayed(ctx, jobstore.QueueGeneration, jobstore.GenerationJobID(rep.ID), genPayload, genAt)
	if err != nil {
		return fmt.Errorf("Schedule: generation job: %w", err)
	}

	sendPayload := jobstore.DeliveryPayload{
		ReportID:   rep.ID,
		Title:      rep.Title,
		Recipients: rep.Recipients,
	}
	err = s.store.EnqueueRecurring(ctx, jobstore.QueueDelivery, jobstore.DeliveryJobID(rep.ID), sendPayload, rep.CronExpr, rep.Timezone)
	if err != nil {
		return fmt.Errorf("Schedule: delivery job: %w", err)
	}

	s.logger.Info("report scheduled",
		"report_id", rep.ID,
		"cron", rep.CronExpr,
		"timezone", rep.Timezone,
		"generation_at", genAt.Format(time.RFC3339),
	)
	return nil
}

// Unschedule cancels both jobs for a report. Called on deactivation and
// soft delete. Cancelling jobs that were never scheduled is a no-op.
func (s *ReportScheduler) Unschedule(ctx context.Context, reportID string) error {
	if err := s.store.Cancel(ctx, jobstore.QueueGeneration, jobstore.GenerationJobID(reportID)); err != nil {
		return fmt.Errorf("Unschedule: generation job: %w", err)
	}
	if err := s.store.Cancel(ctx, jobstore.QueueDelivery, jobstore.DeliveryJobID(reportID)); err != nil {
		return fmt.Errorf("Unschedule: delivery job: %w", err)
	}

	s.logger.Info("report unscheduled", "report_id", reportID)
	return nil
}

// Resync re-registers jobs for every active report. Run at worker startup
// so reports created while no worker was running still get their jobs, and
// schedule edits that never reached the store are repaired. Failures on
// individual reports are logged and skipped; one broken report must not
// block the rest.
func (s *ReportScheduler) Resync(ctx context.Context, reports ActiveReportLister) error {
	active, err := reports.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("Resync: %w", err)
	}

	var failed int
	for i := range active {
		rep := &active[i]
		if err := s.Schedule(ctx, rep); err != nil {
			failed++
			s.logger.Error("failed to resync report schedule",
				"report_id", rep.ID,
				"error", err.Error(),
			)
		}
	}

	s.logger.Info("schedule resync complete",
		"total", len(active),
		"failed", failed,
	)
	return nil
}

// QueueMetrics returns the current counts for both queues.
func (s *ReportScheduler) QueueMetrics(ctx context.Context) (generation, delivery types.QueueCounts, err error) {
	generation, err = s.store.Counts(ctx, jobstore.QueueGeneration)
	if err != nil {
		return types.QueueCounts{}, types.QueueCounts{}, fmt.Errorf("QueueMetrics: %w", err)
	}
	delivery, err = s.store.Counts(ctx, jobstore.QueueDelivery)
	if err != nil {
		return types.QueueCounts{}, types.QueueCounts{}, fmt.Errorf("QueueMetrics: %w", err)
	}
	return generation, delivery, nil
}

// MonitorLoop logs queue depths at the given interval until the context is
// canceled. It is the operational heartbeat of the pipeline: a growing
// waiting count with zero active is the signature of dead workers.
func (s *ReportScheduler) MonitorLoop(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			generation, delivery, err := s.QueueMetrics(ctx)
			if err != nil {
				s.logger.Error("queue metrics collection failed", "error", err.Error())
				continue
			}
			s.logger.Info("queue metrics",
				"generation_waiting", generation.Waiting,
				"generation_active", generation.Active,
				"delivery_waiting", delivery.Waiting,
				"delivery_active", delivery.Active,
			)
		}
	}
}
