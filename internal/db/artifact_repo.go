package db

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"

	"reportflow/internal/types"
)

// ArtifactRepository provides data access for the dashboard_attachment
// table. At most one row per report is active at any time; a new generation
// supersedes the prior active row by flipping it to inactive. Superseded
// rows are never deleted, so the history table's artifact references stay
// resolvable.
type ArtifactRepository struct {
	db DBTX
}

// NewArtifactRepository creates a new ArtifactRepository backed by the given
// database connection (pool or transaction).
func NewArtifactRepository(db DBTX) *ArtifactRepository {
	return &ArtifactRepository{db: db}
}

const artifactColumns = `a.uid, a.report_id, a.storage_key, a.status,
	a.created_at, a.updated_at`

func scanArtifact(row pgx.Row) (*types.Artifact, error) {
	var art types.Artifact
	err := row.Scan(
		&art.UID,
		&art.ReportID,
		&art.StorageKey,
		&art.Status,
		&art.CreatedAt,
		&art.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &art, nil
}

// GetActive returns the single active artifact for a report.
func (r *ArtifactRepository) GetActive(ctx context.Context, reportID string) (*types.Artifact, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+artifactColumns+`
		 FROM dashboard_attachment a
		 WHERE a.report_id = $1 AND a.status = 'active'
		 ORDER BY a.created_at DESC
		 LIMIT 1`,
		reportID,
	)

	art, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundArtifact, "no active artifact for report", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve artifact", err)
	}
	return art, nil
}

// GetByUID returns an artifact regardless of status. History rows reference
// superseded artifacts, so inactive rows must stay reachable.
func (r *ArtifactRepository) GetByUID(ctx context.Context, uid string) (*types.Artifact, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+artifactColumns+`
		 FROM dashboard_attachment a
		 WHERE a.uid = $1`,
		uid,
	)

	art, err := scanArtifact(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(types.ErrCodeNotFoundArtifact, "artifact not found", nil)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to retrieve artifact", err)
	}
	return art, nil
}

// Supersede inserts a new active artifact for the report and flips any
// prior active rows to inactive. The two statements share whatever DBTX the
// repository was built with, so callers that need atomicity pass a
// transaction.
func (r *ArtifactRepository) Supersede(ctx context.Context, art *types.Artifact) error {
	_, err := r.db.Exec(ctx,
		`UPDATE dashboard_attachment
		 SET status = 'inactive', updated_at = NOW()
		 WHERE report_id = $1 AND status = 'active'`,
		art.ReportID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to supersede prior artifacts", err)
	}

	_, err = r.db.Exec(ctx,
		`INSERT INTO dashboard_attachment (
			uid, report_id, storage_key, status, created_at, updated_at
		) VALUES (
			$1, $2, $3, 'active', COALESCE($4, NOW()), COALESCE($5, NOW())
		)`,
		art.UID,
		art.ReportID,
		art.StorageKey,
		nilIfZeroTime(art.CreatedAt),
		nilIfZeroTime(art.UpdatedAt),
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to create artifact", err)
	}
	return nil
}
