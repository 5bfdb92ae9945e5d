package handler

import (
	"bytes"
	"html/template"
	"time"
)

// ページテンプレートは最小限に保つ。本格的なテンプレーティングは
// このサービスの責務外で、コードの受け渡しに必要な要素のみを描画する。

var appPageTmpl = template.Must(template.New("app").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.App}}</title></head>
<body>
<h1>{{.App}}</h1>
{{if gt .Available 0}}
<p>Promo codes available: {{.Available}}</p>
<form method="POST" action="{{.RedeemPath}}">
<input type="hidden" name="src" value="">
<button type="submit">Redeem your promo code</button>
</form>
{{else}}
<p>No promo available.</p>
{{end}}
</body>
</html>
`))

var claimedPageTmpl = template.Must(template.New("claimed").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.App}}</title></head>
<body>
<h1>{{.App}}</h1>
<p>Your promo code:</p>
<p><strong>{{.Code}}</strong></p>
<p>Claimed at {{.ClaimedAt.Format "2006-01-02 15:04:05 UTC"}}</p>
</body>
</html>
`))

var noPromoPageTmpl = template.Must(template.New("nopromo").Parse(`<!DOCTYPE html>
<html>
<head><meta charset="utf-8"><title>{{.App}}</title></head>
<body>
<h1>{{.App}}</h1>
<p>No promo available.</p>
</body>
</html>
`))

// renderAppPage は匿名のアプリページ（在庫サマリ）をレンダリングする。
// ユーザーごとの情報を含まず、そのままキャッシュ可能。
func renderAppPage(app string, available int, redeemPath string) ([]byte, error) {
	var buf bytes.Buffer
	err := appPageTmpl.Execute(&buf, struct {
		App        string
		Available  int
		RedeemPath string
	}{App: app, Available: available, RedeemPath: redeemPath})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// renderClaimedPage は割り当て済みコードのページをレンダリングする。
func renderClaimedPage(app, code string, claimedAt time.Time) ([]byte, error) {
	var buf bytes.Buffer
	err := claimedPageTmpl.Execute(&buf, struct {
		App       string
		Code      string
		ClaimedAt time.Time
	}{App: app, Code: code, ClaimedAt: claimedAt.UTC()})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// renderNoPromoPage は在庫なしページをレンダリングする。
func renderNoPromoPage(app string) ([]byte, error) {
	var buf bytes.Buffer
	err := noPromoPageTmpl.Execute(&buf, struct{ App string }{App: app})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
