package trade

import (
	"context"
	"time"

	"CardVault/service/cards/internal/domain"
)

// Sweep annulla le sessioni Open inattive da piu' di IdleTimeout.
// Ritorna quante sessioni sono state chiuse.
func (m *Manager) Sweep(ctx context.Context) int {
	if m.idleTimeout <= 0 {
		return 0
	}
	now := m.now().UTC()
	expired := 0
	for _, e := range m.entries() {
		e.mu.Lock()
		s := &e.session
		if s.Status == domain.TradeOpen && now.Sub(s.UpdatedAt) >= m.idleTimeout {
			s.Status = domain.TradeCancelled
			s.UpdatedAt = now
			m.finish(ctx, s)
			m.logger.Info("sessione trade scaduta per inattivita'", "session_id", s.ID)
			expired++
		}
		e.mu.Unlock()
	}
	return expired
}

// Run esegue Sweep a intervalli finche' ctx non viene cancellato.
func (m *Manager) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || m.idleTimeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := m.Sweep(ctx); n > 0 {
				m.logger.Info("sweep sessioni trade", "expired", n)
			}
		}
	}
}
