package repo

import (
	"context"
	"database/sql"
	"strings"

	"updock/internal/domain"
)

// The upgrade_history table is the append-only ledger. Only INSERT and SELECT
// statements exist for it; corrections are new records.

func (r Repo) AppendUpgrade(ctx context.Context, tx *sql.Tx, rec domain.UpgradeRecord) error {
	_, err := tx.ExecContext(ctx, `INSERT INTO upgrade_history(id,container_id,container_name,endpoint_name,old_image,old_version,new_image,new_version,status,started_at,ended_at,duration_ms,error_message)
VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rec.ID, rec.ContainerID, rec.ContainerName, rec.EndpointName,
		nullable(rec.OldImage), nullable(rec.OldVersion), nullable(rec.NewImage), nullable(rec.NewVersion),
		rec.Status, rec.StartedAt, rec.EndedAt, rec.DurationMs, nullable(rec.ErrorMessage))
	return err
}

type HistoryFilters struct {
	ContainerName string
	Status        string
	Endpoints     domain.EndpointSet
	Limit         int
	Offset        int
}

// ListUpgrades returns ledger rows in insertion order. Callers needing
// chronological order sort by started_at/ended_at themselves.
func (r Repo) ListUpgrades(ctx context.Context, f HistoryFilters) ([]domain.UpgradeRecord, error) {
	var clauses []string
	var args []any
	if f.ContainerName != "" {
		clauses = append(clauses, "container_name=?")
		args = append(args, f.ContainerName)
	}
	if f.Status != "" {
		clauses = append(clauses, "status=?")
		args = append(args, f.Status)
	}
	if len(f.Endpoints) > 0 {
		placeholders := make([]string, 0, len(f.Endpoints))
		for _, name := range f.Endpoints.Names() {
			placeholders = append(placeholders, "?")
			args = append(args, name)
		}
		clauses = append(clauses, "endpoint_name IN ("+strings.Join(placeholders, ",")+")")
	}
	where := ""
	if len(clauses) > 0 {
		where = "WHERE " + strings.Join(clauses, " AND ")
	}
	query := `SELECT id,container_id,container_name,endpoint_name,old_image,old_version,new_image,new_version,status,started_at,ended_at,duration_ms,error_message FROM upgrade_history ` + where + ` ORDER BY rowid ASC`
	if f.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, f.Limit)
		if f.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, f.Offset)
		}
	} else if f.Offset > 0 {
		query += " LIMIT -1 OFFSET ?"
		args = append(args, f.Offset)
	}
	rows, err := r.DB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.UpgradeRecord
	for rows.Next() {
		rec, err := scanUpgrade(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, rec)
	}
	return res, rows.Err()
}

func (r Repo) GetUpgrade(ctx context.Context, id string) (domain.UpgradeRecord, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,container_id,container_name,endpoint_name,old_image,old_version,new_image,new_version,status,started_at,ended_at,duration_ms,error_message FROM upgrade_history WHERE id=?`, id)
	return scanUpgrade(row.Scan)
}

// UpgradeStats summarizes the whole ledger.
type UpgradeStats struct {
	Total         int     `json:"total"`
	SuccessCount  int     `json:"success_count"`
	FailedCount   int     `json:"failed_count"`
	AvgDurationMs float64 `json:"avg_duration_ms"`
}

func (r Repo) StatsUpgrades(ctx context.Context) (UpgradeStats, error) {
	var s UpgradeStats
	var avg sql.NullFloat64
	err := r.DB.QueryRowContext(ctx, `SELECT
		COUNT(*),
		COALESCE(SUM(CASE WHEN status='success' THEN 1 ELSE 0 END),0),
		COALESCE(SUM(CASE WHEN status='failed' THEN 1 ELSE 0 END),0),
		AVG(CASE WHEN duration_ms > 0 THEN duration_ms END)
	FROM upgrade_history`).Scan(&s.Total, &s.SuccessCount, &s.FailedCount, &avg)
	if err != nil {
		return s, err
	}
	if avg.Valid {
		s.AvgDurationMs = avg.Float64
	}
	return s, nil
}

func scanUpgrade(scan func(dest ...any) error) (domain.UpgradeRecord, error) {
	var rec domain.UpgradeRecord
	var oldImage, oldVersion, newImage, newVersion, errMsg sql.NullString
	err := scan(&rec.ID, &rec.ContainerID, &rec.ContainerName, &rec.EndpointName,
		&oldImage, &oldVersion, &newImage, &newVersion,
		&rec.Status, &rec.StartedAt, &rec.EndedAt, &rec.DurationMs, &errMsg)
	if err == sql.ErrNoRows {
		return rec, ErrNotFound
	}
	if err != nil {
		return rec, err
	}
	rec.OldImage = oldImage.String
	rec.OldVersion = oldVersion.String
	rec.NewImage = newImage.String
	rec.NewVersion = newVersion.String
	rec.ErrorMessage = errMsg.String
	return rec, nil
}
