package session

import (
	"context"
	"time"

	"github.com/lunaria-live/lunaria/internal/model"
)

// ─────────────────────────────────────────────
// Stale Session Sweeper (background goroutine)
// ─────────────────────────────────────────────

// StartSweeper periodically cancels sessions that were created but never
// activated within the configured timeout, freeing their providers.
// It runs until ctx is cancelled.
func (m *Manager) StartSweeper(ctx context.Context) {
	ticker := time.NewTicker(m.cfg.SweepInterval)
	defer ticker.Stop()

	m.log.Infof("session sweeper started interval=%s timeout=%s",
		m.cfg.SweepInterval, m.cfg.CreatedSessionTimeout)
	for {
		select {
		case <-ctx.Done():
			m.log.Info("session sweeper stopped")
			return
		case <-ticker.C:
			m.sweepStale(ctx)
		}
	}
}

// sweepStale cancels every session still in created past the timeout. Each
// flip is conditional, so a session activated mid-scan is left alone.
func (m *Manager) sweepStale(ctx context.Context) {
	cutoff := time.Now().Add(-m.cfg.CreatedSessionTimeout)

	var stale []model.Session
	if err := m.db.WithContext(ctx).
		Where("status = ? AND created_at < ?", model.SessionCreated, cutoff).
		Find(&stale).Error; err != nil {
		m.log.Errorf("sweep: list stale sessions: %v", err)
		return
	}

	for i := range stale {
		sess := &stale[i]
		res := m.db.WithContext(ctx).Model(&model.Session{}).
			Where("id = ? AND status = ?", sess.ID, model.SessionCreated).
			Update("status", model.SessionCancelled)
		if res.Error != nil {
			m.log.Errorf("sweep: cancel session %s: %v", sess.ID, res.Error)
			continue
		}
		if res.RowsAffected == 0 {
			continue
		}

		m.restoreAvailability(ctx, sess.ProviderID)
		m.store.LogSessionEvent(sess.ID, "system", "cancelled", "activation timeout")
		m.notifier.NotifyProvider(sess.ProviderID, model.Envelope{
			Type: model.MsgTypeSessionClosed,
			Payload: model.SessionClosed{
				SessionID: sess.ID,
				Status:    model.SessionCancelled,
			},
		})
		m.log.Infof("session %s cancelled by sweep, created %s ago",
			sess.ID, time.Since(sess.CreatedAt).Truncate(time.Second))
	}
}
