package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"reportflow/internal/jobstore"
	"reportflow/internal/mail"
	"reportflow/internal/types"
)

// ArtifactReader fetches the report's current active artifact.
type ArtifactReader interface {
	GetActive(ctx context.Context, reportID string) (*types.Artifact, error)
}

// ObjectGetter downloads a stored document by key.
type ObjectGetter interface {
	Get(ctx context.Context, key string) ([]byte, error)
}

// HistoryWriter persists delivery history rows.
type HistoryWriter interface {
	Insert(ctx context.Context, h *types.DeliveryHistory) error
	Update(ctx context.Context, h *types.DeliveryHistory) error
}

// MetaSetter carries job metadata across retries of one occurrence.
type MetaSetter interface {
	SetMeta(ctx context.Context, queue, jobID string, meta map[string]string) error
}

// DeliveryHandler processes email-sending jobs: fetch the report's active
// artifact, compose the email, send it, and record the outcome in delivery
// history. One history row tracks all attempts of one occurrence: the first
// attempt inserts it, later attempts update it in place via the row UID
// carried in job metadata.
type DeliveryHandler struct {
	reports   ReportReader
	artifacts ArtifactReader
	objects   ObjectGetter
	composer  *mail.Composer
	mailer    mail.Mailer
	history   HistoryWriter
	meta      MetaSetter
	clock     types.Clock
	logger    *slog.Logger
}

var _ Handler = (*DeliveryHandler)(nil)

// NewDeliveryHandler wires up a delivery handler.
func NewDeliveryHandler(
	reports ReportReader,
	artifacts ArtifactReader,
	objects ObjectGetter,
	composer *mail.Composer,
	mailer mail.Mailer,
	history HistoryWriter,
	meta MetaSetter,
	clock types.Clock,
	logger *slog.Logger,
) *DeliveryHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &DeliveryHandler{
		reports:   reports,
		artifacts: artifacts,
		objects:   objects,
		composer:  composer,
		mailer:    mailer,
		history:   history,
		meta:      meta,
		clock:     clock,
		logger:    logger,
	}
}

// Handle implements Handler. The report row, not the job payload, is the
// source of truth for recipients and title: edits made after the job was
// enqueued take effect on the next firing without a re-enqueue. A report
// that is missing or no longer active fails the attempt like any other
// delivery error, so the occurrence still gets its history row.
func (h *DeliveryHandler) Handle(ctx context.Context, job *jobstore.Job) error {
	var payload jobstore.DeliveryPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("Handle: decode delivery payload: %w", err)
	}

	var deliverErr error

	rep, err := h.reports.GetByID(ctx, payload.ReportID)
	switch {
	case err != nil:
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundReport {
			deliverErr = fmt.Errorf("report %s not found", payload.ReportID)
		} else {
			deliverErr = err
		}
		rep = nil
	case rep.Status != types.ReportStatusActive:
		deliverErr = fmt.Errorf("report %s is %s", rep.ID, rep.Status)
	}

	var artifactUID string
	if deliverErr == nil {
		artifactUID, deliverErr = h.deliver(ctx, rep)
	}
	h.record(ctx, job, rep, &payload, artifactUID, deliverErr)

	if deliverErr != nil {
		return fmt.Errorf("Handle: deliver report %s: %w", payload.ReportID, deliverErr)
	}
	return nil
}

// deliver performs the send itself and returns the UID of the artifact that
// was attached, when one was resolved.
func (h *DeliveryHandler) deliver(ctx context.Context, rep *types.ScheduledReport) (string, error) {
	art, err := h.artifacts.GetActive(ctx, rep.ID)
	if err != nil {
		return "", err
	}

	doc, err := h.objects.Get(ctx, art.StorageKey)
	if err != nil {
		return art.UID, err
	}

	msg, err := h.composer.Compose(rep.ID, rep.Title, rep.RecipientList(), doc, art.CreatedAt)
	if err != nil {
		return art.UID, err
	}

	if err := h.mailer.Send(msg); err != nil {
		return art.UID, err
	}
	return art.UID, nil
}

// record writes the attempt's outcome to delivery history. History is
// best-effort: a write failure is logged but never fails the delivery
// attempt itself, and never triggers an extra email. When the report row is
// gone the row is still written, with the payload's recipients and no user.
func (h *DeliveryHandler) record(ctx context.Context, job *jobstore.Job, rep *types.ScheduledReport, payload *jobstore.DeliveryPayload, artifactUID string, deliverErr error) {
	now := h.clock.Now()

	entry := &types.DeliveryHistory{
		ReportID:    payload.ReportID,
		Recipients:  payload.Recipients,
		ArtifactUID: artifactUID,
		Attempt:     job.Attempt,
	}
	if rep != nil {
		entry.UserID = rep.UserID
		entry.Recipients = rep.Recipients
	}

	if deliverErr == nil {
		entry.Status = types.DeliveryStatusSuccess
		sentAt := now
		entry.SentAt = &sentAt
	} else {
		entry.ErrorMessage = deliverErr.Error()
		if job.Attempt >= job.MaxAttempts {
			entry.Status = types.DeliveryStatusFailed
		} else {
			entry.Status = types.DeliveryStatusRetrying
		}
	}

	if uid, ok := job.Meta[jobstore.MetaHistoryUID]; ok && uid != "" {
		entry.UID = uid
		if err := h.history.Update(ctx, entry); err != nil {
			h.logger.Error("failed to update delivery history",
				"report_id", payload.ReportID,
				"history_uid", uid,
				"error", err.Error(),
			)
		}
		return
	}

	entry.UID = uuid.New().String()
	entry.CreatedAt = now.UTC()
	if err := h.history.Insert(ctx, entry); err != nil {
		h.logger.Error("failed to insert delivery history",
			"report_id", payload.ReportID,
			"error", err.Error(),
		)
		return
	}

	// A successful first attempt is terminal for the occurrence, so only a
	// failed one needs the UID carried to the retry that reads it back.
	if deliverErr == nil {
		return
	}
	if err := h.meta.SetMeta(ctx, job.Queue, job.ID, map[string]string{
		jobstore.MetaHistoryUID: entry.UID,
	}); err != nil {
		h.logger.Error("failed to store history uid on job",
			"report_id", payload.ReportID,
			"job_id", job.ID,
			"error", err.Error(),
		)
	}
}
