package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"reportflow/internal/types"
)

// ReportRepository provides data access for the schedule_report table.
// Deletion is always soft: rows flip to status 'deleted' and every read
// excludes them.
type ReportRepository struct {
	db DBTX
}

// NewReportRepository creates a new ReportRepository backed by the given
// database connection (pool or transaction).
func NewReportRepository(db DBTX) *ReportRepository {
	return &ReportRepository{db: db}
}

const reportColumns = `r.id, r.template_id, r.cron_expr, r.timezone,
	r.lead_time_minutes, r.title, r.recipients, r.user_id, r.status,
	r.created_at, r.updated_at`

// scanReport scans a single schedule_report row. The columns must match the
// order defined in reportColumns.
func scanReport(row pgx.Row) (*types.ScheduledReport, error) {
	var rep types.ScheduledReport
	err := row.Scan(
		&rep.ID,
		&rep.TemplateID,
		&rep.CronExpr,
		&rep.Timezone,
		&rep.LeadTimeMinutes,
		&rep.Title,
		&rep.Recipients,
		&rep.UserID,
		&rep.Status,
		&rep.CreatedAt,
		&rep.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &rep, nil
}

// Create inserts a new scheduled report. The caller must set the ID and
// required fields before calling.
func (r *ReportRepository) Create(ctx context.Context, rep *types.ScheduledReport) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO schedule_report (
			id, template_id, cron_expr, timezone,
			lead_time_minutes, title, recipients, user_id, status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			COALESCE($10, NOW()), COALESCE($11, NOW())
		)`,
		rep.ID,
		rep.TemplateID,
		rep.CronExpr,
		rep.Timezone,
		rep.LeadTimeMinutes,
		rep.Title,
		rep.Recipients,
		rep.UserID,
		rep.Status,
		nilIfZeroTime(rep.CreatedAt),
		nilIfZeroTime(rep.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create report", err)
	}
	return nil
}

// GetByID retrieves a scheduled report by its ID. Soft-deleted reports are
// excluded.
func (r *ReportRepository) GetByID(ctx context.Context, id string) (*types.ScheduledReport, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+reportColumns+`
		 FROM schedule_report r
		 WHERE r.id = $1 AND r.status != 'deleted'`,
		id,
	)

	rep, err := scanReport(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundReport, "report not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve report", err)
	}
	return rep, nil
}

// ListByUser returns the user's reports, newest first. Soft-deleted reports
// are excluded.
func (r *ReportRepository) ListByUser(ctx context.Context, userID string) ([]types.ScheduledReport, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+reportColumns+`
		 FROM schedule_report r
		 WHERE r.user_id = $1 AND r.status != 'deleted'
		 ORDER BY r.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list reports", err)
	}
	defer rows.Close()

	var reports []types.ScheduledReport
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan report", err)
		}
		reports = append(reports, *rep)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate reports", err)
	}
	return reports, nil
}

// ListActive returns every report with status 'active' across all users.
// Used at worker startup to re-register recurring delivery jobs.
func (r *ReportRepository) ListActive(ctx context.Context) ([]types.ScheduledReport, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+reportColumns+`
		 FROM schedule_report r
		 WHERE r.status = 'active'
		 ORDER BY r.created_at`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list active reports", err)
	}
	defer rows.Close()

	var reports []types.ScheduledReport
	for rows.Next() {
		rep, err := scanReport(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan report", err)
		}
		reports = append(reports, *rep)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate reports", err)
	}
	return reports, nil
}

// Update writes the mutable fields of a scheduled report. The updated_at
// timestamp is set by the database.
func (r *ReportRepository) Update(ctx context.Context, rep *types.ScheduledReport) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE schedule_report
		 SET template_id = $2, cron_expr = $3, timezone = $4,
		     lead_time_minutes = $5, title = $6, recipients = $7,
		     status = $8, updated_at = NOW()
		 WHERE id = $1 AND status != 'deleted'`,
		rep.ID,
		rep.TemplateID,
		rep.CronExpr,
		rep.Timezone,
		rep.LeadTimeMinutes,
		rep.Title,
		rep.Recipients,
		rep.Status,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update report", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundReport, "report not found", nil)
	}
	return nil
}

// SoftDelete marks a report deleted. The row is retained so its delivery
// history remains queryable.
func (r *ReportRepository) SoftDelete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE schedule_report
		 SET status = 'deleted', updated_at = NOW()
		 WHERE id = $1 AND status != 'deleted'`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete report", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundReport, "report not found", nil)
	}
	return nil
}
