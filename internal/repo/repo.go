package repo

import (
	"context"
	"database/sql"
	"errors"

	"updock/internal/domain"
)

type Repo struct {
	DB *sql.DB
}

var ErrNotFound = errors.New("not found")

func (r Repo) InsertIntent(ctx context.Context, in domain.Intent) error {
	if err := in.Criteria.Validate(); err != nil {
		return err
	}
	_, err := r.DB.ExecContext(ctx, insertIntentSQL, intentArgs(in)...)
	return err
}

func (r Repo) InsertIntentTx(ctx context.Context, tx *sql.Tx, in domain.Intent) error {
	if err := in.Criteria.Validate(); err != nil {
		return err
	}
	_, err := tx.ExecContext(ctx, insertIntentSQL, intentArgs(in)...)
	return err
}

const insertIntentSQL = `INSERT INTO intents(id,description,enabled,criteria_kind,image_repo,stack_name,service_name,container_name,created_at)
VALUES (?,?,?,?,?,?,?,?,?)`

func intentArgs(in domain.Intent) []any {
	return []any{
		in.ID, nullable(in.Description), boolInt(in.Enabled), string(in.Criteria.Kind),
		nullable(in.Criteria.ImageRepo), nullable(in.Criteria.StackName), nullable(in.Criteria.ServiceName), nullable(in.Criteria.ContainerName),
		in.CreatedAt,
	}
}

func (r Repo) GetIntent(ctx context.Context, id string) (domain.Intent, error) {
	row := r.DB.QueryRowContext(ctx, `SELECT id,description,enabled,criteria_kind,image_repo,stack_name,service_name,container_name,created_at FROM intents WHERE id=?`, id)
	return scanIntent(row.Scan)
}

func (r Repo) ListIntents(ctx context.Context) ([]domain.Intent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,description,enabled,criteria_kind,image_repo,stack_name,service_name,container_name,created_at FROM intents ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Intent
	for rows.Next() {
		in, err := scanIntent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

// ListEnabledIntents returns enabled intents in creation order; the batch
// pass evaluates them in this order so the oldest intent wins a shared
// container deterministically.
func (r Repo) ListEnabledIntents(ctx context.Context) ([]domain.Intent, error) {
	rows, err := r.DB.QueryContext(ctx, `SELECT id,description,enabled,criteria_kind,image_repo,stack_name,service_name,container_name,created_at FROM intents WHERE enabled=1 ORDER BY created_at ASC, id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var res []domain.Intent
	for rows.Next() {
		in, err := scanIntent(rows.Scan)
		if err != nil {
			return nil, err
		}
		res = append(res, in)
	}
	return res, rows.Err()
}

func (r Repo) SetIntentEnabled(ctx context.Context, tx *sql.Tx, id string, enabled bool) error {
	res, err := tx.ExecContext(ctx, `UPDATE intents SET enabled=? WHERE id=?`, boolInt(enabled), id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func (r Repo) DeleteIntent(ctx context.Context, tx *sql.Tx, id string) error {
	res, err := tx.ExecContext(ctx, `DELETE FROM intents WHERE id=?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

func scanIntent(scan func(dest ...any) error) (domain.Intent, error) {
	var in domain.Intent
	var desc, imageRepo, stackName, serviceName, containerName sql.NullString
	var enabled int
	var kind string
	err := scan(&in.ID, &desc, &enabled, &kind, &imageRepo, &stackName, &serviceName, &containerName, &in.CreatedAt)
	if err == sql.ErrNoRows {
		return in, ErrNotFound
	}
	if err != nil {
		return in, err
	}
	if desc.Valid {
		in.Description = desc.String
	}
	in.Enabled = enabled != 0
	in.Criteria = domain.Criteria{
		Kind:          domain.CriteriaKind(kind),
		ImageRepo:     imageRepo.String,
		StackName:     stackName.String,
		ServiceName:   serviceName.String,
		ContainerName: containerName.String,
	}
	return in, nil
}

func nullable(v string) any {
	if v == "" {
		return nil
	}
	return v
}

func boolInt(v bool) int {
	if v {
		return 1
	}
	return 0
}
