// Package promo はプロモコード割り当てのドメインロジックを提供する。
package promo

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/promogate/internal/model"
	"github.com/hitoshi/promogate/internal/repository"
)

// MetricsRecorder は割り当てイベントのメトリクス記録インターフェース。
type MetricsRecorder interface {
	RecordClaim(app string)
	RecordClaimConflict(app string)
	RecordNoInventory(app string)
}

// Engine はプロモコードの割り当てエンジン。
// 冪等性（同一ユーザーの再リデンプションは同じコードを返す）と
// row_index昇順の決定的な割り当て順序を保証する。
//
// 排他性は一切仮定しない。同一行への同時割り当ての正しさは
// ストアの条件付き更新（TryClaim）のみに依存する。
type Engine struct {
	repo    repository.InventoryRepository
	metrics MetricsRecorder
	now     func() time.Time
}

// NewEngine はEngineを生成する。metricsはnil許容。
func NewEngine(repo repository.InventoryRepository, metrics MetricsRecorder) *Engine {
	return &Engine{
		repo:    repo,
		metrics: metrics,
		now:     time.Now,
	}
}

// LookupForUser は指定ユーザーの既存の割り当てを返す。見つからない場合はnilを返す。
// 読み取り専用パスであり、副作用として割り当てを行うことは決してない。
func (e *Engine) LookupForUser(ctx context.Context, app, userID string) (*model.PromoRow, error) {
	row, err := e.repo.FindClaim(ctx, app, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to look up claim: %w", err)
	}
	return row, nil
}

// AvailableCount は指定アプリの未割り当てコード数を返す。
// 匿名のアプリページ（在庫サマリ）のレンダリングに使用する。
func (e *Engine) AvailableCount(ctx context.Context, app string) (int, error) {
	rows, err := e.repo.ListAvailable(ctx, app)
	if err != nil {
		return 0, err
	}
	return len(rows), nil
}

// Allocate はユーザーへのプロモコード割り当てを試みる。
// フロー: 既存割り当てチェック → 未割り当て行の列挙 → 先頭から条件付き割り当て
//
// 既に割り当て済みのユーザーには既存のコードをそのまま返し、2行目を消費しない。
// 候補行での競合（他リクエストが先に確保）は次の行へ進んで回復する。
// 全行が確保できなかった場合（在庫切れ）はnilを返す。これは業務上の正常系であり
// エラーではない。ストア障害はエラーとして伝播し、在庫切れと混同してはならない。
func (e *Engine) Allocate(ctx context.Context, app, userID string, attr model.Attribution) (*model.PromoRow, error) {
	// 1. 冪等性: 既存の割り当てがあればそれを返す
	existing, err := e.repo.FindClaim(ctx, app, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to check existing claim: %w", err)
	}
	if existing != nil {
		return existing, nil
	}

	// 2. 未割り当て行をrow_index昇順で列挙
	rows, err := e.repo.ListAvailable(ctx, app)
	if err != nil {
		return nil, fmt.Errorf("failed to list available rows: %w", err)
	}

	// 3. 先頭から順に条件付き割り当てを試みる
	for _, row := range rows {
		claim := &model.Claim{
			UserID:    userID,
			ClaimedAt: e.now(),
			Src:       attr.Src,
			Email:     attr.Email,
		}

		err := e.repo.TryClaim(ctx, app, row.RowIndex, claim)
		if errors.Is(err, model.ErrClaimConflict) {
			// 他のリクエストが先にこの行を確保した。同じ行への再試行はしない。
			if e.metrics != nil {
				e.metrics.RecordClaimConflict(app)
			}
			slog.Info("claim conflict, advancing to next row",
				slog.String("app", app),
				slog.Int("row_index", row.RowIndex),
			)
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to claim row %d: %w", row.RowIndex, err)
		}

		row.ClaimedBy = claim.UserID
		row.ClaimedAt = &claim.ClaimedAt
		row.Src = claim.Src
		row.Email = claim.Email

		if e.metrics != nil {
			e.metrics.RecordClaim(app)
		}
		return row, nil
	}

	// 4. 在庫切れ、または全候補行で競合に敗れた
	if e.metrics != nil {
		e.metrics.RecordNoInventory(app)
	}
	return nil, nil
}
