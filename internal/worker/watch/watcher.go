// Package watch は在庫の定期観測ジョブを提供する。
// アプリごとの未割り当てコード数をポーリングし、メトリクスゲージへ
// 反映する。割り当てフローには一切関与しない読み取り専用のジョブ。
package watch

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/promogate/internal/repository"
)

// GaugeSetter は在庫ゲージの更新インターフェース。
type GaugeSetter interface {
	SetAvailableCodes(app string, available int)
}

// Watcher はアプリごとの在庫数を定期的に観測するワーカー。
// 固定間隔のティッカーで全アプリの在庫統計を取得し、ゲージを更新する。
type Watcher struct {
	stats   repository.StatsLister
	metrics GaugeSetter
	logger  *slog.Logger
}

// NewWatcher はWatcherの新しいインスタンスを生成する。
func NewWatcher(stats repository.StatsLister, metrics GaugeSetter, logger *slog.Logger) *Watcher {
	return &Watcher{
		stats:   stats,
		metrics: metrics,
		logger:  logger,
	}
}

// Start は指定間隔のティッカーでウォッチャーを起動する。
// コンテキストがキャンセルされるまで実行を継続する。
func (w *Watcher) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	w.logger.Info("在庫ウォッチャーを開始しました",
		slog.Duration("interval", interval),
	)

	// 起動直後に1回実行
	if err := w.RunOnce(ctx); err != nil {
		w.logger.Error("在庫観測の実行に失敗しました",
			slog.String("error", err.Error()),
		)
	}

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("在庫ウォッチャーを停止しました")
			return
		case <-ticker.C:
			if err := w.RunOnce(ctx); err != nil {
				w.logger.Error("在庫観測の実行に失敗しました",
					slog.String("error", err.Error()),
				)
			}
		}
	}
}

// RunOnce は全アプリの在庫統計を1回取得し、ゲージへ反映する。
// 観測のみで在庫を変更することはない。
func (w *Watcher) RunOnce(ctx context.Context) error {
	start := time.Now()

	stats, err := w.stats.ListAppStats(ctx)
	if err != nil {
		return fmt.Errorf("在庫統計の取得に失敗: %w", err)
	}

	for _, stat := range stats {
		w.metrics.SetAvailableCodes(stat.App, stat.Available)
		if stat.Available == 0 {
			w.logger.Warn("在庫が枯渇しています",
				slog.String("app", stat.App),
			)
		}
	}

	w.logger.Info("在庫観測が完了しました",
		slog.Int("app_count", len(stats)),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	return nil
}
