package db

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"

	"reportflow/internal/types"
)

// HistoryRepository provides data access for the report_history table. One
// row records one delivery occurrence: inserted on the first attempt and
// updated in place by later attempts of the same occurrence.
type HistoryRepository struct {
	db DBTX
}

// NewHistoryRepository creates a new HistoryRepository backed by the given
// database connection (pool or transaction).
func NewHistoryRepository(db DBTX) *HistoryRepository {
	return &HistoryRepository{db: db}
}

const historyColumns = `h.uid, h.report_id, h.user_id, h.recipients,
	h.artifact_uid, h.status, h.attempt, h.error_message, h.sent_at,
	h.created_at`

func scanHistory(row pgx.Row) (*types.DeliveryHistory, error) {
	var h types.DeliveryHistory
	var (
		userID       *string
		artifactUID  *string
		errorMessage *string
	)

	err := row.Scan(
		&h.UID,
		&h.ReportID,
		&userID,
		&h.Recipients,
		&artifactUID,
		&h.Status,
		&h.Attempt,
		&errorMessage,
		&h.SentAt,
		&h.CreatedAt,
	)
	if err != nil {
		return nil, err
	}

	if userID != nil {
		h.UserID = *userID
	}
	if artifactUID != nil {
		h.ArtifactUID = *artifactUID
	}
	if errorMessage != nil {
		h.ErrorMessage = *errorMessage
	}
	return &h, nil
}

// Insert writes a new history row. Called only for the first attempt of an
// occurrence.
func (r *HistoryRepository) Insert(ctx context.Context, h *types.DeliveryHistory) error {
	_, err := r.db.Exec(ctx,
		`INSERT INTO report_history (
			uid, report_id, user_id, recipients,
			artifact_uid, status, attempt, error_message, sent_at,
			created_at
		) VALUES (
			$1, $2, $3, $4,
			$5, $6, $7, $8, $9,
			COALESCE($10, NOW())
		)`,
		h.UID,
		h.ReportID,
		nilIfEmpty(h.UserID),
		h.Recipients,
		nilIfEmpty(h.ArtifactUID),
		h.Status,
		h.Attempt,
		nilIfEmpty(h.ErrorMessage),
		h.SentAt,
		nilIfZeroTime(h.CreatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to insert history row", err)
	}
	return nil
}

// Update rewrites the outcome fields of an existing history row. Called by
// attempts after the first, which carry the row's UID forward.
func (r *HistoryRepository) Update(ctx context.Context, h *types.DeliveryHistory) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE report_history
		 SET status = $2, attempt = $3, artifact_uid = $4,
		     error_message = $5, sent_at = $6
		 WHERE uid = $1`,
		h.UID,
		h.Status,
		h.Attempt,
		nilIfEmpty(h.ArtifactUID),
		nilIfEmpty(h.ErrorMessage),
		h.SentAt,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to update history row", err)
	}
	if tag.RowsAffected() == 0 {
		return types.NewAppError(types.ErrCodeNotFoundHistory, "history row not found", nil)
	}
	return nil
}

// GetByUID retrieves a single history row.
func (r *HistoryRepository) GetByUID(ctx context.Context, uid string) (*types.DeliveryHistory, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+historyColumns+`
		 FROM report_history h
		 WHERE h.uid = $1`,
		uid,
	)

	h, err := scanHistory(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundHistory, "history row not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve history row", err)
	}
	return h, nil
}

// historyWhere builds the WHERE clause and args for a filtered history
// query. Recipients and error message filters are substring matches; the
// rest are exact.
func historyWhere(f types.HistoryFilter) (string, []any) {
	var (
		conds []string
		args  []any
	)

	add := func(cond string, val any) {
		args = append(args, val)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}

	if f.UID != "" {
		add("h.uid = $%d", f.UID)
	}
	if f.ReportID != "" {
		add("h.report_id = $%d", f.ReportID)
	}
	if f.UserID != "" {
		add("h.user_id = $%d", f.UserID)
	}
	if f.Recipients != "" {
		add("h.recipients ILIKE '%%' || $%d || '%%'", f.Recipients)
	}
	if f.ArtifactUID != "" {
		add("h.artifact_uid = $%d", f.ArtifactUID)
	}
	if f.Status != "" {
		add("h.status = $%d", f.Status)
	}
	if f.Attempt > 0 {
		add("h.attempt = $%d", f.Attempt)
	}
	if f.ErrorMessage != "" {
		add("h.error_message ILIKE '%%' || $%d || '%%'", f.ErrorMessage)
	}

	if len(conds) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

// Query returns a page of history rows matching the filter, newest first,
// along with pagination metadata. page is 1-based.
func (r *HistoryRepository) Query(ctx context.Context, f types.HistoryFilter, page, limit int) ([]types.DeliveryHistory, types.Pagination, error) {
	where, args := historyWhere(f)

	var total int
	err := r.db.QueryRow(ctx,
		`SELECT COUNT(*) FROM report_history h`+where,
		args...,
	).Scan(&total)
	if err != nil {
		return nil, types.Pagination{}, types.NewAppError(types.ErrCodeInternalDB, "failed to count history rows", err)
	}

	offset := (page - 1) * limit
	listArgs := append(args, limit, offset)
	rows, err := r.db.Query(ctx,
		fmt.Sprintf(`SELECT `+historyColumns+`
		 FROM report_history h`+where+`
		 ORDER BY h.created_at DESC
		 LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2),
		listArgs...,
	)
	if err != nil {
		return nil, types.Pagination{}, types.NewAppError(types.ErrCodeInternalDB, "failed to query history", err)
	}
	defer rows.Close()

	var items []types.DeliveryHistory
	for rows.Next() {
		h, err := scanHistory(rows)
		if err != nil {
			return nil, types.Pagination{}, types.NewAppError(types.ErrCodeInternalDB, "failed to scan history row", err)
		}
		items = append(items, *h)
	}
	if err := rows.Err(); err != nil {
		return nil, types.Pagination{}, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate history rows", err)
	}

	totalPages := 0
	if limit > 0 {
		totalPages = (total + limit - 1) / limit
	}
	pagination := types.Pagination{
		Page:       page,
		Limit:      limit,
		Total:      total,
		TotalPages: totalPages,
	}
	return items, pagination, nil
}
