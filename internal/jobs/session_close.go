package jobs

import (
	"context"
	"log"
	"time"

	"campus/attendance-console/internal/config"
	"campus/attendance-console/internal/platform"
	"campus/attendance-console/internal/session"
)

// SessionAPI is the slice of the platform client the close job needs.
type SessionAPI interface {
	ListSessions(ctx context.Context, params platform.ListSessionsParams) ([]session.Session, error)
	CloseSession(ctx context.Context, sessionID string) (session.Session, error)
}

// StartSessionCloseJob periodically closes open sessions whose date has
// fallen behind the configured grace window.
func StartSessionCloseJob(ctx context.Context, cfg config.Config, api SessionAPI) {
	if !cfg.SessionCloseJobEnabled {
		return
	}
	if api == nil {
		log.Printf("session close job disabled: platform client not configured")
		return
	}
	interval := cfg.SessionCloseJobInterval
	if interval <= 0 {
		interval = time.Minute
	}
	timeout := cfg.SessionCloseJobTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	after := cfg.SessionCloseAfter
	if after <= 0 {
		after = 24 * time.Hour
	}

	ticker := time.NewTicker(interval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				tickCtx, cancel := context.WithTimeout(ctx, timeout)
				closed, err := closeExpiredSessions(tickCtx, api, time.Now().UTC().Add(-after))
				cancel()
				if err != nil {
					log.Printf("session close job error: %v", err)
					continue
				}
				if closed > 0 {
					log.Printf("session close job closed %d sessions", closed)
				}
			}
		}
	}()
}

func closeExpiredSessions(ctx context.Context, api SessionAPI, cutoff time.Time) (int, error) {
	sessions, err := api.ListSessions(ctx, platform.ListSessionsParams{
		Status: session.StatusOpen,
		DateTo: cutoff.Format("2006-01-02"),
	})
	if err != nil {
		return 0, err
	}
	closed := 0
	for _, sess := range sessions {
		if _, err := api.CloseSession(ctx, sess.ID); err != nil {
			log.Printf("session close job: close %s: %v", sess.ID, err)
			continue
		}
		closed++
	}
	return closed, nil
}
