// Package identity はCookieベースのユーザー識別子の解決と発行を提供する。
//
// 識別子はサーバー側に保存されず、毎リクエストCookieから再構築される。
// 永続的な痕跡は在庫行のclaimed_byのみ。
package identity

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"net/http"
	"strings"

	"github.com/google/uuid"
)

// CookieName はアプリごとのユーザー識別Cookieの名前。
// スコープはCookieのPath属性（/{app}）で分離する。
const CookieName = "promo_uid"

// Config はResolverのCookie発行設定。
type Config struct {
	Secret       string // HMAC署名シークレット
	CookieDomain string
	CookieSecure bool
	CookieMaxAge int // Cookieの有効期間（秒）
}

// Resolver はリクエストCookieから安定したユーザー識別子を解決する。
// 有効なCookieがなければ新しい識別子を発行し、次回リクエストで
// 認識できるようSet-Cookie指示を返す。ストアには一切触れない。
type Resolver struct {
	config Config
}

// NewResolver はResolverを生成する。
func NewResolver(config Config) *Resolver {
	return &Resolver{config: config}
}

// Resolve はリクエストからユーザー識別子を解決する。
// 署名が有効な既存Cookieがあればその識別子を返し、setCookieはnilになる。
// Cookieが欠落・不正な場合は新しい識別子を発行し、レスポンスに
// 付与すべきCookieを返す。不正なCookieは欠落として扱い、エラーにはしない。
func (rs *Resolver) Resolve(r *http.Request, app string) (userID string, setCookie *http.Cookie) {
	if cookie, err := r.Cookie(CookieName); err == nil {
		if uid, ok := rs.verify(app, cookie.Value); ok {
			return uid, nil
		}
	}

	uid := uuid.NewString()
	return uid, rs.cookieFor(app, uid)
}

// cookieFor は署名付き識別子を保持するCookieを構築する。
func (rs *Resolver) cookieFor(app, uid string) *http.Cookie {
	return &http.Cookie{
		Name:     CookieName,
		Value:    uid + "." + rs.sign(app, uid),
		Path:     "/" + app,
		Domain:   rs.config.CookieDomain,
		MaxAge:   rs.config.CookieMaxAge,
		HttpOnly: true,
		Secure:   rs.config.CookieSecure,
		SameSite: http.SameSiteLaxMode,
	}
}

// sign はapp|uidに対するHMAC-SHA256署名をhexで返す。
// appを含めることで識別子の別アプリへの流用を防ぐ。
func (rs *Resolver) sign(app, uid string) string {
	mac := hmac.New(sha256.New, []byte(rs.config.Secret))
	mac.Write([]byte(app + "|" + uid))
	return hex.EncodeToString(mac.Sum(nil))
}

// verify はCookie値を検証し、有効であれば識別子を返す。
func (rs *Resolver) verify(app, value string) (string, bool) {
	uid, sig, found := strings.Cut(value, ".")
	if !found || uid == "" {
		return "", false
	}
	expected := rs.sign(app, uid)
	if !hmac.Equal([]byte(sig), []byte(expected)) {
		return "", false
	}
	return uid, true
}
