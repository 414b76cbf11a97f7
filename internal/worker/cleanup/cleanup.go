// Package cleanup は期限切れのパスワード再設定コードを削除するジョブを提供する。
// 再設定コードは検証時に期限切れと判定されるだけで自動では消えないため、
// 定期的にキー空間を走査して残骸を削除する。
package cleanup

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hitoshi/meetup/internal/metrics"
	"github.com/hitoshi/meetup/internal/model"
	"github.com/hitoshi/meetup/internal/storage"
)

// Store はクリーンアップに必要なストレージ操作。
// 削除は読み取った値と一致する場合に限るため、条件付き削除が必要。
type Store interface {
	storage.KVStore
	storage.KeyLister
	storage.ConditionalDeleter
}

// CleanupJob は期限切れの再設定コードの削除ジョブ。
// 冪等で、削除対象がない場合もエラーにならない。
type CleanupJob struct {
	store   Store
	logger  *slog.Logger
	metrics metrics.MetricsCollector
	now     func() time.Time
}

// NewCleanupJob は新しいCleanupJobを生成する。mがnilの場合は記録しない。
func NewCleanupJob(store Store, logger *slog.Logger, m metrics.MetricsCollector) *CleanupJob {
	if m == nil {
		m = metrics.Nop{}
	}
	return &CleanupJob{
		store:   store,
		logger:  logger,
		metrics: m,
		now:     time.Now,
	}
}

// Run は期限切れ、または読み取れない再設定レコードを削除し、削除件数を返す。
// 個々のレコードの削除失敗はログに残して処理を続け、最後にまとめてエラーを返す。
func (j *CleanupJob) Run(ctx context.Context) (int, error) {
	start := time.Now()

	keys, err := j.store.Keys(ctx, storage.KeyResetPrefix)
	if err != nil {
		j.logger.Error("failed to list reset codes", slog.String("error", err.Error()))
		return 0, fmt.Errorf("failed to list reset codes: %w", err)
	}

	now := j.now()
	purged, failed := 0, 0
	for _, key := range keys {
		if err := ctx.Err(); err != nil {
			return purged, err
		}

		raw, expired, err := j.isExpired(ctx, key, now)
		if err != nil {
			failed++
			j.logger.Warn("failed to read reset code", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		if !expired {
			continue
		}
		// 判定後に再発行されたコードは値が変わっているので残る
		deleted, err := j.store.DeleteIfValue(ctx, key, raw)
		if err != nil {
			failed++
			j.logger.Warn("failed to delete reset code", slog.String("key", key), slog.String("error", err.Error()))
			continue
		}
		if !deleted {
			j.logger.Debug("reset code reissued during cleanup", slog.String("key", key))
			continue
		}
		purged++
	}

	j.metrics.RecordResetCodesPurged(purged)
	j.logger.Info("reset code cleanup completed",
		slog.Int("scanned", len(keys)),
		slog.Int("purged", purged),
		slog.Int("failed", failed),
		slog.Float64("duration_ms", float64(time.Since(start).Milliseconds())),
	)

	if failed > 0 {
		return purged, fmt.Errorf("failed to clean up %d reset codes", failed)
	}
	return purged, nil
}

// isExpired は読み取った値と、それが期限切れか壊れているかを返す。
// 既に存在しないレコードは対象外。
func (j *CleanupJob) isExpired(ctx context.Context, key string, now time.Time) (string, bool, error) {
	raw, ok, err := j.store.Get(ctx, key)
	if err != nil {
		return "", false, err
	}
	if !ok {
		return "", false, nil
	}
	var rec model.ResetRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		j.logger.Warn("discarding malformed reset code", slog.String("key", key))
		return raw, true, nil
	}
	return raw, !now.Before(rec.ExpiresAt), nil
}

// Start は起動直後に1回実行し、以降intervalごとにRunを実行する。
// ctxがキャンセルされるまでブロックする。
func (j *CleanupJob) Start(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	j.logger.Info("reset code cleanup started", slog.Duration("interval", interval))
	for {
		if _, err := j.Run(ctx); err != nil && ctx.Err() == nil {
			j.logger.Error("reset code cleanup failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			j.logger.Info("reset code cleanup stopped")
			return
		case <-ticker.C:
		}
	}
}
