package service

import (
	"context"
	"log/slog"
	"time"
)

// RunExpirySweeper purges expired links every interval until ctx is done.
func (s *Shortener) RunExpirySweeper(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	slog.Info("Expiry sweeper started", "interval", interval)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.PurgeExpired(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				slog.Error("failed to purge expired links", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("Expired links purged", "count", n)
			}
		}
	}
}
