package repository

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/hitoshi/promogate/internal/model"
)

// PostgresInventoryRepo はPostgreSQLを使用した在庫リポジトリ。
// 行の割り当てはclaimed_byが空であることを条件とするUPDATEで行い、
// グローバルロックなしに同時リデンプションの競合を解決する。
type PostgresInventoryRepo struct {
	db *sql.DB
}

// NewPostgresInventoryRepo はPostgresInventoryRepoを生成する。
func NewPostgresInventoryRepo(db *sql.DB) *PostgresInventoryRepo {
	return &PostgresInventoryRepo{db: db}
}

// ListAvailable は指定アプリの未割り当て行をrow_index昇順で返す。
// アプリに行が1件も存在しない場合はmodel.ErrAppNotFoundを返す。
func (r *PostgresInventoryRepo) ListAvailable(ctx context.Context, app string) ([]*model.PromoRow, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT app, row_index, code
		 FROM promo_codes
		 WHERE app = $1 AND claimed_by = ''
		 ORDER BY row_index ASC`,
		app,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list available rows: %w", err)
	}
	defer rows.Close()

	var result []*model.PromoRow
	for rows.Next() {
		row := &model.PromoRow{}
		if err := rows.Scan(&row.App, &row.RowIndex, &row.Code); err != nil {
			return nil, fmt.Errorf("failed to scan promo row: %w", err)
		}
		result = append(result, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate promo rows: %w", err)
	}

	// 未割り当て行ゼロは「在庫切れ」と「アプリ不在」のどちらもあり得るため区別する
	if len(result) == 0 {
		var exists bool
		err := r.db.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM promo_codes WHERE app = $1)`,
			app,
		).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("failed to check app existence: %w", err)
		}
		if !exists {
			return nil, model.ErrAppNotFound
		}
	}

	return result, nil
}

// FindClaim は指定ユーザーの既存の割り当てを検索する。見つからない場合はnilを返す。
func (r *PostgresInventoryRepo) FindClaim(ctx context.Context, app, userID string) (*model.PromoRow, error) {
	row := &model.PromoRow{}
	var claimedAt sql.NullTime

	err := r.db.QueryRowContext(ctx,
		`SELECT app, row_index, code, claimed_by, claimed_at, src, email
		 FROM promo_codes
		 WHERE app = $1 AND claimed_by = $2`,
		app, userID,
	).Scan(&row.App, &row.RowIndex, &row.Code, &row.ClaimedBy, &claimedAt, &row.Src, &row.Email)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find claim: %w", err)
	}

	if claimedAt.Valid {
		row.ClaimedAt = &claimedAt.Time
	}

	return row, nil
}

// TryClaim は指定行への条件付き割り当てを試みる。
// claimed_byが空の行のみ更新するため、同一行への同時割り当ては高々1つしか成功しない。
// 行が既に割り当て済みの場合はmodel.ErrClaimConflictを返す。
func (r *PostgresInventoryRepo) TryClaim(ctx context.Context, app string, rowIndex int, claim *model.Claim) error {
	res, err := r.db.ExecContext(ctx,
		`UPDATE promo_codes
		 SET claimed_by = $1, claimed_at = $2, src = $3, email = $4
		 WHERE app = $5 AND row_index = $6 AND claimed_by = ''`,
		claim.UserID, claim.ClaimedAt, claim.Src, claim.Email,
		app, rowIndex,
	)
	if err != nil {
		return fmt.Errorf("failed to claim promo row: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read claim result: %w", err)
	}
	if affected == 0 {
		return model.ErrClaimConflict
	}

	return nil
}

// ListAppStats は全アプリの未割り当て行数を返す。
func (r *PostgresInventoryRepo) ListAppStats(ctx context.Context) ([]model.AppStat, error) {
	rows, err := r.db.QueryContext(ctx,
		`SELECT app, COUNT(*) FILTER (WHERE claimed_by = '')
		 FROM promo_codes
		 GROUP BY app
		 ORDER BY app`,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to list app stats: %w", err)
	}
	defer rows.Close()

	var stats []model.AppStat
	for rows.Next() {
		var s model.AppStat
		if err := rows.Scan(&s.App, &s.Available); err != nil {
			return nil, fmt.Errorf("failed to scan app stat: %w", err)
		}
		stats = append(stats, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate app stats: %w", err)
	}

	return stats, nil
}

// compile-time interface check
var _ InventoryRepository = (*PostgresInventoryRepo)(nil)
var _ StatsLister = (*PostgresInventoryRepo)(nil)
