package service

import (
	"context"
	"time"

	"github.com/charmbracelet/log"
)

// Purger removes rows of addresses that must never be mirrored.
type Purger interface {
	PurgeSelfAndBroadcastRows(ctx context.Context) (int64, error)
}

// PurgeService periodically removes stored rows addressed to the session
// owner, the status broadcast or a newsletter.
type PurgeService struct {
	purger   Purger
	interval time.Duration
}

// NewPurgeService creates a purge service running every interval.
func NewPurgeService(purger Purger, interval time.Duration) *PurgeService {
	return &PurgeService{purger: purger, interval: interval}
}

// Start runs one purge immediately, then one per interval. Returns when ctx is
// cancelled.
func (p *PurgeService) Start(ctx context.Context) {
	p.RunOnce(ctx)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			p.RunOnce(ctx)
		}
	}
}

// RunOnce performs a single purge and returns the number of rows removed.
func (p *PurgeService) RunOnce(ctx context.Context) int64 {
	removed, err := p.purger.PurgeSelfAndBroadcastRows(ctx)
	if err != nil {
		log.Error("Purge: failed", "err", err)
		return 0
	}
	if removed > 0 {
		log.Info("Purge: completed", "removed", removed)
	}
	return removed
}
