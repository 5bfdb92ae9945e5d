// Package repository はプロモ在庫ストアへの永続化インターフェースを定義する。
package repository

import (
	"context"

	"github.com/hitoshi/promogate/internal/model"
)

// InventoryRepository はプロモ在庫行ストアへの境界インターフェース。
// 実装は行レベルの楽観的並行性制御（条件付き更新）を提供しなければならない。
// 割り当てエンジンはこの保証なしにTryClaimを呼び出さない。
type InventoryRepository interface {
	// ListAvailable は指定アプリの未割り当て行をrow_index昇順で返す。
	// アプリに行が1件も存在しない場合（割り当て済みを含めて）はmodel.ErrAppNotFoundを返す。
	ListAvailable(ctx context.Context, app string) ([]*model.PromoRow, error)

	// FindClaim は指定ユーザーの既存の割り当てを検索する。見つからない場合はnilを返す。
	FindClaim(ctx context.Context, app, userID string) (*model.PromoRow, error)

	// TryClaim は指定行への条件付き割り当てを試みる。
	// 更新時点でclaimed_byが空の場合のみ成功する。
	// 他のリクエストが先に行を確保していた場合はmodel.ErrClaimConflictを返す。
	TryClaim(ctx context.Context, app string, rowIndex int, claim *model.Claim) error
}

// StatsLister はアプリごとの在庫サマリ取得のインターフェース。
// 在庫ウォッチャーワーカーから利用する。
type StatsLister interface {
	// ListAppStats は全アプリの未割り当て行数を返す。
	ListAppStats(ctx context.Context) ([]model.AppStat, error)
}
