package handler

import "net/http"

// applyCookies はレスポンスに識別Cookieを付与する。nilは無視する。
// リダイレクトを含むアプリ配下の全応答パスで呼ばれる。
func applyCookies(w http.ResponseWriter, cookies ...*http.Cookie) {
	for _, c := range cookies {
		if c != nil {
			http.SetCookie(w, c)
		}
	}
}
