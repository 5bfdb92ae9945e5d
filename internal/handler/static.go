package handler

import (
	_ "embed"
	"net/http"
)

//go:embed assets/favicon.png
var faviconPNG []byte

// Favicon は/favicon.icoを処理する。プロモロジックからは独立している。
// FaviconURLが設定されていれば外部アイコンへリダイレクトし、
// そうでなければ埋め込みアイコンを長期キャッシュヘッダー付きで配信する。
func (h *RedemptionHandler) Favicon(w http.ResponseWriter, r *http.Request) {
	if h.config.FaviconURL != "" {
		http.Redirect(w, r, h.config.FaviconURL, http.StatusFound)
		return
	}

	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.Write(faviconPNG)
}
