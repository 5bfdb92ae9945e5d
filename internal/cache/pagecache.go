// Package cache は匿名ページビューのレスポンスキャッシュを提供する。
//
// キャッシュされるのはCookieに依存しない匿名レンダリングのみ。
// エントリにSet-Cookie相当のデータを含めてはならない。識別Cookieは
// レスポンス送出時にのみ付与され、保存されたバイト列には焼き込まれない。
package cache

import (
	"net/url"
	"sync"
	"time"
)

// Entry はキャッシュされた匿名レスポンス。
type Entry struct {
	Body        []byte
	ContentType string
}

// entry は有効期限付きの内部表現。
type entry struct {
	value     Entry
	expiresAt time.Time
}

// PageCache はアプリ+正規化URLをキーとするインプロセスTTLキャッシュ。
// ベストエフォートであり、障害がリデンプションパスを塞ぐことはない。
type PageCache struct {
	ttl             time.Duration
	cleanupInterval time.Duration

	mu      sync.RWMutex
	entries map[string]entry

	stopCh chan struct{}
}

// NewPageCache はPageCacheを生成する。
// バックグラウンドで期限切れエントリのクリーンアップを開始する。
func NewPageCache(ttl time.Duration) *PageCache {
	c := &PageCache{
		ttl:             ttl,
		cleanupInterval: ttl,
		entries:         make(map[string]entry),
		stopCh:          make(chan struct{}),
	}

	go c.cleanupLoop()

	return c
}

// Stop はクリーンアップのバックグラウンドゴルーチンを停止する。
func (c *PageCache) Stop() {
	close(c.stopCh)
}

// Get はキーに対応するエントリを返す。期限切れ・不在の場合はfalseを返す。
func (c *PageCache) Get(key string) (Entry, bool) {
	c.mu.RLock()
	e, ok := c.entries[key]
	c.mu.RUnlock()

	if !ok || time.Now().After(e.expiresAt) {
		return Entry{}, false
	}
	return e.value, true
}

// Set はエントリを保存する。既存エントリは上書きされる。
func (c *PageCache) Set(key string, value Entry) {
	c.mu.Lock()
	c.entries[key] = entry{
		value:     value,
		expiresAt: time.Now().Add(c.ttl),
	}
	c.mu.Unlock()
}

// cleanupLoop は定期的に期限切れエントリを削除する。
func (c *PageCache) cleanupLoop() {
	ticker := time.NewTicker(c.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			now := time.Now()
			c.mu.Lock()
			for key, e := range c.entries {
				if now.After(e.expiresAt) {
					delete(c.entries, key)
				}
			}
			c.mu.Unlock()
		}
	}
}

// CanonicalKey はアプリとクエリパラメータからキャッシュキーを構築する。
// レンダリングに影響するパラメータ（json）のみを含め、
// nocacheやCookie由来の情報はキーに含めない。
func CanonicalKey(app string, query url.Values) string {
	key := "/" + app
	if query.Get("json") != "" {
		key += "?json=1"
	}
	return key
}
