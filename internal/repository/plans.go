package repository

import (
	"context"
	"time"

	"github.com/jmehdipour/cvpay/internal/model"
	"github.com/jmoiron/sqlx"
)

type PlansRepository interface {
	Upsert(ctx context.Context, plans []model.Plan) error
}

type PlansRepositoryImpl struct {
	db *sqlx.DB
}

func NewPlansRepository(db *sqlx.DB) *PlansRepositoryImpl {
	return &PlansRepositoryImpl{db: db}
}

// Upsert writes plans keyed by code in a single transaction (idempotent).
func (r *PlansRepositoryImpl) Upsert(ctx context.Context, plans []model.Plan) error {
	const q = `
INSERT INTO plans
    (code, name, analyses_per_period, active, created_at, updated_at)
VALUES
    (?, ?, ?, ?, ?, ?)
ON DUPLICATE KEY UPDATE
    name                = VALUES(name),
    analyses_per_period = VALUES(analyses_per_period),
    active              = VALUES(active),
    updated_at          = VALUES(updated_at)
`
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now()
	for _, p := range plans {
		if _, err := tx.ExecContext(ctx, q, p.Code, p.Name, p.AnalysesPerPeriod, p.Active, now, now); err != nil {
			return err
		}
	}
	return tx.Commit()
}
