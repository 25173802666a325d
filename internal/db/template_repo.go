package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"reportflow/internal/types"
)

// TemplateRepository provides data access for the schedule_report_template
// table.
type TemplateRepository struct {
	db DBTX
}

// NewTemplateRepository creates a new TemplateRepository backed by the given
// database connection (pool or transaction).
func NewTemplateRepository(db DBTX) *TemplateRepository {
	return &TemplateRepository{db: db}
}

const templateColumns = `t.id, t.user_id, t.description, t.dashboard_layout,
	t.status, t.created_at, t.updated_at`

func scanTemplate(row pgx.Row) (*types.ReportTemplate, error) {
	var tpl types.ReportTemplate
	err := row.Scan(
		&tpl.ID,
		&tpl.UserID,
		&tpl.Description,
		&tpl.DashboardLayout,
		&tpl.Status,
		&tpl.CreatedAt,
		&tpl.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &tpl, nil
}

// Create inserts a new report template.
func (r *TemplateRepository) Create(ctx context.Context, tpl *types.ReportTemplate) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO schedule_report_template (
			id, user_id, description, dashboard_layout, status,
			created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5,
			COALESCE($6, NOW()), COALESCE($7, NOW())
		)`,
		tpl.ID,
		tpl.UserID,
		tpl.Description,
		tpl.DashboardLayout,
		tpl.Status,
		nilIfZeroTime(tpl.CreatedAt),
		nilIfZeroTime(tpl.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create template", err)
	}
	return nil
}

// GetByID retrieves a template by its ID. Soft-deleted templates are
// excluded.
func (r *TemplateRepository) GetByID(ctx context.Context, id string) (*types.ReportTemplate, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+templateColumns+`
		 FROM schedule_report_template t
		 WHERE t.id = $1 AND t.status != 'deleted'`,
		id,
	)

	tpl, err := scanTemplate(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundTemplate, "template not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve template", err)
	}
	return tpl, nil
}

// ListByUser returns the user's templates, newest first.
func (r *TemplateRepository) ListByUser(ctx context.Context, userID string) ([]types.ReportTemplate, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+templateColumns+`
		 FROM schedule_report_template t
		 WHERE t.user_id = $1 AND t.status != 'deleted'
		 ORDER BY t.created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list templates", err)
	}
	defer rows.Close()

	var templates []types.ReportTemplate
	for rows.Next() {
		tpl, err := scanTemplate(rows)
		if err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan template", err)
		}
		templates = append(templates, *tpl)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate templates", err)
	}
	return templates, nil
}

// Update writes the mutable fields of a template.
func (r *TemplateRepository) Update(ctx context.Context, tpl *types.ReportTemplate) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE schedule_report_template
		 SET description = $2, dashboard_layout = $3, status = $4,
		     updated_at = NOW()
		 WHERE id = $1 AND status != 'deleted'`,
		tpl.ID,
		tpl.Description,
		tpl.DashboardLayout,
		tpl.Status,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update template", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTemplate, "template not found", nil)
	}
	return nil
}

// SoftDelete marks a template deleted.
func (r *TemplateRepository) SoftDelete(ctx context.Context, id string) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE schedule_report_template
		 SET status = 'deleted', updated_at = NOW()
		 WHERE id = $1 AND status != 'deleted'`,
		id,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to delete template", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundTemplate, "template not found", nil)
	}
	return nil
}
