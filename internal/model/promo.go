// Package model はドメインモデルを定義する。
package model

import "time"

// PromoRow はプロモコード在庫の1行を表す。
// RowIndexはバックエンドストア上の行位置で、条件付き更新のキーに使用する。
type PromoRow struct {
	App       string
	RowIndex  int
	Code      string
	ClaimedBy string
	ClaimedAt *time.Time
	Src       string
	Email     string
}

// Claimed は行が既に割り当て済みかどうかを返す。
func (r *PromoRow) Claimed() bool {
	return r.ClaimedBy != ""
}

// Claim はTryClaimで行に書き込む割り当て情報を表す。
// ClaimedByとClaimedAtは常に同時に設定される。
type Claim struct {
	UserID    string
	ClaimedAt time.Time
	Src       string
	Email     string
}

// Attribution はリデンプション時に転送される流入元情報。
// フォームまたはクエリパラメータ由来で、保存前にサニタイズされる。
type Attribution struct {
	Src   string
	Email string
}

// AppStat はアプリごとの在庫サマリを表す。
type AppStat struct {
	App       string
	Available int
}
