package model

import (
	"errors"
	"fmt"
)

// ErrClaimConflict は条件付き更新時に他のリクエストが先に行を確保したことを示す。
// 割り当てエンジンは次の候補行へ進むことでローカルに回復する。呼び出し元には露出しない。
var ErrClaimConflict = errors.New("promo row already claimed")

// ErrAppNotFound は指定アプリの在庫が1行も存在しないことを示す。
var ErrAppNotFound = errors.New("app not found")

// APIError は統一エラーフォーマットを表す。
// UIに表示する原因カテゴリと対処方法を含む。
type APIError struct {
	Code     string // エラーコード
	Message  string // エラーメッセージ
	Category string // カテゴリ: validation, inventory, system
	Action   string // ユーザー向け対処方法
}

// Error はerrorインターフェースを実装する。
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// 定義済みエラーコード
const (
	ErrCodeStoreUnavailable = "STORE_UNAVAILABLE"
	ErrCodeAppNotFound      = "APP_NOT_FOUND"
	ErrCodeInvalidRequest   = "INVALID_REQUEST"
)

// NewStoreUnavailableError は在庫ストアに到達できない場合のエラーを生成する。
// 在庫切れ（業務上の正常系）とは区別され、5xx相当で応答する。
func NewStoreUnavailableError() *APIError {
	return &APIError{
		Code:     ErrCodeStoreUnavailable,
		Message:  "在庫ストアへの接続に失敗しました。",
		Category: "system",
		Action:   "しばらく待ってから再度お試しください。",
	}
}

// NewAppNotFoundError は指定アプリの在庫が存在しない場合のエラーを生成する。
func NewAppNotFoundError(app string) *APIError {
	return &APIError{
		Code:     ErrCodeAppNotFound,
		Message:  fmt.Sprintf("指定されたアプリが見つかりません: %s", app),
		Category: "inventory",
		Action:   "アプリIDを確認してください。",
	}
}
