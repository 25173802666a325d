package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"reportflow/internal/jobstore"
	"reportflow/internal/render"
	"reportflow/internal/storage"
	"reportflow/internal/types"
)

// ReportReader fetches report definitions by ID.
type ReportReader interface {
	GetByID(ctx context.Context, id string) (*types.ScheduledReport, error)
}

// ArtifactWriter persists a newly generated artifact, superseding the
// report's prior active one.
type ArtifactWriter interface {
	Supersede(ctx context.Context, art *types.Artifact) error
}

// GenerationHandler processes report-generation jobs: render the dashboard
// layout to a PDF, upload it, and record it as the report's active
// artifact.
type GenerationHandler struct {
	reports   ReportReader
	artifacts ArtifactWriter
	renderer  render.Renderer
	store     storage.ObjectStorage
	clock     types.Clock
	logger    *slog.Logger
}

var _ Handler = (*GenerationHandler)(nil)

// NewGenerationHandler wires up a generation handler.
func NewGenerationHandler(
	reports ReportReader,
	artifacts ArtifactWriter,
	renderer render.Renderer,
	store storage.ObjectStorage,
	clock types.Clock,
	logger *slog.Logger,
) *GenerationHandler {
	if clock == nil {
		clock = types.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &GenerationHandler{
		reports:   reports,
		artifacts: artifacts,
		renderer:  renderer,
		store:     store,
		clock:     clock,
		logger:    logger,
	}
}

// Handle implements Handler. A report that was deleted or deactivated after
// the job was enqueued is skipped without error; the job was already
// obsolete when it fired.
func (h *GenerationHandler) Handle(ctx context.Context, job *jobstore.Job) error {
	var payload jobstore.GenerationPayload
	if err := json.Unmarshal(job.Payload, &payload); err != nil {
		return fmt.Errorf("Handle: decode generation payload: %w", err)
	}

	rep, err := h.reports.GetByID(ctx, payload.ReportID)
	if err != nil {
		var appErr *types.AppError
		if errors.As(err, &appErr) && appErr.Code == types.ErrCodeNotFoundReport {
			h.logger.Info("skipping generation for removed report",
				"report_id", payload.ReportID,
				"job_id", job.ID,
			)
			return nil
		}
		return fmt.Errorf("Handle: %w", err)
	}
	if rep.Status != types.ReportStatusActive {
		h.logger.Info("skipping generation for inactive report",
			"report_id", rep.ID,
			"status", string(rep.Status),
		)
		return nil
	}

	doc, err := h.renderer.Render(ctx, payload.Title, payload.Layout)
	if err != nil {
		return fmt.Errorf("Handle: render report %s: %w", rep.ID, err)
	}

	now := h.clock.Now()
	key := storage.ObjectKey(rep.ID, now)
	if err := h.store.Put(ctx, key, doc, "application/pdf"); err != nil {
		return fmt.Errorf("Handle: upload report %s: %w", rep.ID, err)
	}

	art := &types.Artifact{
		UID:        uuid.New().String(),
		ReportID:   rep.ID,
		StorageKey: key,
		Status:     types.ArtifactStatusActive,
	}
	if err := h.artifacts.Supersede(ctx, art); err != nil {
		return fmt.Errorf("Handle: record artifact for report %s: %w", rep.ID, err)
	}

	h.logger.Info("report generated",
		"report_id", rep.ID,
		"artifact_uid", art.UID,
		"storage_key", key,
		"size_bytes", len(doc),
	)
	return nil
}
