// Package handler はHTTPハンドラーを提供する。
package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hitoshi/promogate/internal/cache"
	"github.com/hitoshi/promogate/internal/middleware"
	"github.com/hitoshi/promogate/internal/model"
)

// EngineInterface はリデンプションハンドラーが必要とする割り当てエンジンの
// サービスインターフェース。
type EngineInterface interface {
	// LookupForUser は既存の割り当てを返す。割り当てを行うことはない。
	LookupForUser(ctx context.Context, app, userID string) (*model.PromoRow, error)
	// Allocate は割り当てを試みる。在庫切れの場合はnilを返す。
	Allocate(ctx context.Context, app, userID string, attr model.Attribution) (*model.PromoRow, error)
	// AvailableCount は未割り当てコード数を返す。
	AvailableCount(ctx context.Context, app string) (int, error)
}

// IdentityResolver はCookieからのユーザー識別子解決のインターフェース。
// identity.Resolverの部分集合として定義する。
type IdentityResolver interface {
	Resolve(r *http.Request, app string) (userID string, setCookie *http.Cookie)
}

// PageStore は匿名ページキャッシュのインターフェース。
// cache.PageCacheの部分集合として定義する。
type PageStore interface {
	Get(key string) (cache.Entry, bool)
	Set(key string, value cache.Entry)
}

// Sanitizer は流入元フィールドのサニタイズのインターフェース。
type Sanitizer interface {
	Sanitize(raw string) string
}

// CacheMetrics はキャッシュヒット/ミスのメトリクス記録インターフェース。
type CacheMetrics interface {
	RecordCacheHit()
	RecordCacheMiss()
}

// RedemptionConfig はリデンプションハンドラーの設定。
// 複数デプロイ間で異なる挙動（リダイレクト先プレフィックス、アイコンの扱い）を
// この構造体に集約する。
type RedemptionConfig struct {
	// PathPrefix はHTMLフローの在庫切れリダイレクト先のパスプレフィックス。
	// リダイレクト先は {PathPrefix}/{app} になる。通常は空。
	PathPrefix string
	// FaviconURL が設定されている場合、/favicon.icoはこのURLへリダイレクトする。
	// 空の場合は埋め込みアイコンを配信する。
	FaviconURL string
}

// RedemptionHandler はプロモコードのリデンプションフローのHTTPハンドラー。
// GET（参照のみ、割り当てなし）とPOST（割り当て）の意味論を統括し、
// jsonクエリフラグによるJSON/HTMLの二重レスポンス契約を実装する。
type RedemptionHandler struct {
	engine    EngineInterface
	resolver  IdentityResolver
	pageCache PageStore
	sanitizer Sanitizer
	metrics   CacheMetrics
	config    RedemptionConfig
}

// NewRedemptionHandler はRedemptionHandlerを生成する。
// pageCacheとmetricsはnil許容（キャッシュなし・メトリクスなしで動作する）。
func NewRedemptionHandler(
	engine EngineInterface,
	resolver IdentityResolver,
	pageCache PageStore,
	sanitizer Sanitizer,
	metrics CacheMetrics,
	config RedemptionConfig,
) *RedemptionHandler {
	return &RedemptionHandler{
		engine:    engine,
		resolver:  resolver,
		pageCache: pageCache,
		sanitizer: sanitizer,
		metrics:   metrics,
		config:    config,
	}
}

// promoResponse は割り当て済みプロモコードのJSONレスポンス。
type promoResponse struct {
	App       string    `json:"app"`
	Code      string    `json:"code"`
	ClaimedAt time.Time `json:"claimedAt"`
}

// appSummaryResponse は匿名のアプリページのJSONレスポンス。
type appSummaryResponse struct {
	App       string `json:"app"`
	Available int    `json:"available"`
}

// messageResponse は在庫なし等のメッセージレスポンス。
type messageResponse struct {
	Message string `json:"message"`
}

const noPromoMessage = "No promo available"

// ViewApp は匿名のアプリページ（在庫サマリ）を返す。
// GET /{app}
//
// Cookieに依存しないレンダリングのみをキャッシュする。キャッシュには
// Set-Cookieを含まないバイト列を保存し、識別Cookieはレスポンス送出時に
// のみ付与する。nocacheクエリはキャッシュを迂回し、エントリを更新する。
func (h *RedemptionHandler) ViewApp(w http.ResponseWriter, r *http.Request) {
	app := chi.URLParam(r, "app")
	query := r.URL.Query()
	wantJSON := query.Get("json") != ""

	_, setCookie := h.resolver.Resolve(r, app)

	key := cache.CanonicalKey(app, query)
	if query.Get("nocache") == "" && h.pageCache != nil {
		if entry, ok := h.pageCache.Get(key); ok {
			if h.metrics != nil {
				h.metrics.RecordCacheHit()
			}
			h.flush(w, http.StatusOK, entry.ContentType, entry.Body, setCookie)
			return
		}
	}
	if h.metrics != nil {
		h.metrics.RecordCacheMiss()
	}

	available, err := h.engine.AvailableCount(r.Context(), app)
	if err != nil && !errors.Is(err, model.ErrAppNotFound) {
		slog.Error("failed to read inventory",
			slog.String("app", app),
			slog.String("error", err.Error()),
		)
		h.writeStoreUnavailable(w, wantJSON)
		return
	}
	// アプリ不在は在庫ゼロと同じ見た目で応答する（アプリIDの存在を外部に漏らさない）
	if errors.Is(err, model.ErrAppNotFound) {
		available = 0
	}

	var body []byte
	var contentType string
	if wantJSON {
		body, err = json.Marshal(appSummaryResponse{App: app, Available: available})
		if err != nil {
			middleware.WriteInternalServerError(w)
			return
		}
		contentType = "application/json"
	} else {
		body, err = renderAppPage(app, available, "/"+app+"/redeem")
		if err != nil {
			slog.Error("failed to render app page", slog.String("error", err.Error()))
			middleware.WriteInternalServerError(w)
			return
		}
		contentType = "text/html; charset=utf-8"
	}

	// Cookieを含まないバイト列のみを保存する
	if h.pageCache != nil {
		h.pageCache.Set(key, cache.Entry{Body: body, ContentType: contentType})
	}

	h.flush(w, http.StatusOK, contentType, body, setCookie)
}

// ViewRedemption はユーザーの割り当て状態を返す。割り当ては行わない。
// GET /{app}/redeem
//
// ユーザーごとの内容のためキャッシュしない。
func (h *RedemptionHandler) ViewRedemption(w http.ResponseWriter, r *http.Request) {
	app := chi.URLParam(r, "app")
	wantJSON := r.URL.Query().Get("json") != ""

	userID, setCookie := h.resolver.Resolve(r, app)

	row, err := h.engine.LookupForUser(r.Context(), app, userID)
	if err != nil {
		slog.Error("failed to look up claim",
			slog.String("app", app),
			slog.String("error", err.Error()),
		)
		h.writeStoreUnavailable(w, wantJSON)
		return
	}

	h.writeAssignment(w, r, app, row, setCookie, wantJSON)
}

// PerformRedemption はプロモコードの割り当てを実行する。
// POST /{app}/redeem
//
// 同一ユーザーの再実行は同じコードを返す（冪等）。在庫切れは業務上の
// 正常系であり、5xxにはしない。
func (h *RedemptionHandler) PerformRedemption(w http.ResponseWriter, r *http.Request) {
	app := chi.URLParam(r, "app")
	wantJSON := r.URL.Query().Get("json") != ""

	userID, setCookie := h.resolver.Resolve(r, app)
	attr := h.parseAttribution(r)

	row, err := h.engine.Allocate(r.Context(), app, userID, attr)
	if err != nil && !errors.Is(err, model.ErrAppNotFound) {
		slog.Error("allocation failed",
			slog.String("app", app),
			slog.String("error", err.Error()),
		)
		h.writeStoreUnavailable(w, wantJSON)
		return
	}

	if wantJSON {
		if row == nil {
			h.writeJSON(w, http.StatusOK, messageResponse{Message: noPromoMessage}, setCookie)
			return
		}
		h.writeJSON(w, http.StatusOK, promoResponse{
			App:       row.App,
			Code:      row.Code,
			ClaimedAt: derefTime(row.ClaimedAt),
		}, setCookie)
		return
	}

	// HTMLフロー: 成功時は同じURLへの303（続くGETが割り当て済みページを表示する）、
	// 在庫切れ時はアプリページへ戻す
	applyCookies(w, setCookie)
	if row == nil {
		http.Redirect(w, r, h.config.PathPrefix+"/"+app, http.StatusSeeOther)
		return
	}
	http.Redirect(w, r, r.URL.Path, http.StatusSeeOther)
}

// RedirectToApp はアプリ配下でハンドラーのないパス/メソッドを
// アプリページへリダイレクトする。エラーページは返さない。
func (h *RedemptionHandler) RedirectToApp(w http.ResponseWriter, r *http.Request) {
	app := chi.URLParam(r, "app")
	_, setCookie := h.resolver.Resolve(r, app)
	applyCookies(w, setCookie)
	http.Redirect(w, r, "/"+app, http.StatusFound)
}

// Placeholder はどのアプリにもマッチしないパスへの固定プレーンテキスト応答。
func (h *RedemptionHandler) Placeholder(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain")
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("Hello World"))
}

// writeAssignment は割り当て結果をJSON/HTMLの二重契約で書き込む。
// 両形式は割り当て済みかどうかの判定で必ず一致する。
func (h *RedemptionHandler) writeAssignment(w http.ResponseWriter, r *http.Request, app string, row *model.PromoRow, setCookie *http.Cookie, wantJSON bool) {
	if wantJSON {
		if row == nil {
			h.writeJSON(w, http.StatusOK, messageResponse{Message: noPromoMessage}, setCookie)
			return
		}
		h.writeJSON(w, http.StatusOK, promoResponse{
			App:       row.App,
			Code:      row.Code,
			ClaimedAt: derefTime(row.ClaimedAt),
		}, setCookie)
		return
	}

	var body []byte
	var err error
	if row == nil {
		body, err = renderNoPromoPage(app)
	} else {
		body, err = renderClaimedPage(app, row.Code, derefTime(row.ClaimedAt))
	}
	if err != nil {
		slog.Error("failed to render redemption page", slog.String("error", err.Error()))
		middleware.WriteInternalServerError(w)
		return
	}

	h.flush(w, http.StatusOK, "text/html; charset=utf-8", body, setCookie)
}

// parseAttribution はフォームから流入元情報を読み取る。
// フォーム値が空の場合はクエリパラメータにフォールバックする。
func (h *RedemptionHandler) parseAttribution(r *http.Request) model.Attribution {
	// ParseFormの失敗は流入元なしとして扱う（リデンプション自体は続行する）
	_ = r.ParseForm()

	src := r.PostFormValue("src")
	if src == "" {
		src = r.URL.Query().Get("src")
	}
	email := r.PostFormValue("email")
	if email == "" {
		email = r.URL.Query().Get("email")
	}

	if h.sanitizer != nil {
		src = h.sanitizer.Sanitize(src)
		email = h.sanitizer.Sanitize(email)
	}

	return model.Attribution{Src: src, Email: email}
}

// writeStoreUnavailable はストア障害の5xx応答を書き込む。
// 在庫切れ（200応答）と混同してはならない。
func (h *RedemptionHandler) writeStoreUnavailable(w http.ResponseWriter, wantJSON bool) {
	if wantJSON {
		middleware.WriteErrorResponse(w, http.StatusServiceUnavailable, model.NewStoreUnavailableError())
		return
	}
	http.Error(w, "service unavailable", http.StatusServiceUnavailable)
}

// writeJSON はJSONレスポンスを識別Cookie付きで書き込む。
func (h *RedemptionHandler) writeJSON(w http.ResponseWriter, status int, payload any, setCookie *http.Cookie) {
	applyCookies(w, setCookie)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(payload)
}

// flush はレンダリング済みボディを識別Cookie付きで書き込む。
func (h *RedemptionHandler) flush(w http.ResponseWriter, status int, contentType string, body []byte, setCookie *http.Cookie) {
	applyCookies(w, setCookie)
	w.Header().Set("Content-Type", contentType)
	w.WriteHeader(status)
	w.Write(body)
}

// derefTime はnil許容のタイムスタンプをゼロ値許容で取り出す。
func derefTime(t *time.Time) time.Time {
	if t == nil {
		return time.Time{}
	}
	return *t
}
