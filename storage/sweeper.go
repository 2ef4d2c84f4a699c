package storage

import (
	"context"
	"time"

	"github.com/AuralStack/ScribeFlow/logger"
)

// Lister enumerates objects under a key prefix. Both backends
// implement it; the sweeper needs it to find expired blobs.
type Lister interface {
	List(ctx context.Context, prefix string) ([]ObjectInfo, error)
}

// SweepRule deletes objects under Prefix once they are older than
// MaxAge.
type SweepRule struct {
	Prefix string
	MaxAge time.Duration
}

// Sweeper is the background retention loop. It periodically scans the
// configured prefixes and deletes objects past their age limit. Errors
// on individual objects are logged and skipped; enforcement is
// best-effort by design of the Delete contract.
type Sweeper struct {
	store    ObjectStore
	lister   Lister
	rules    []SweepRule
	interval time.Duration

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewSweeper creates a retention sweeper. The store must also
// implement Lister (both backends do).
func NewSweeper(store ObjectStore, lister Lister, interval time.Duration, rules []SweepRule) *Sweeper {
	return &Sweeper{
		store:    store,
		lister:   lister,
		rules:    rules,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the enforcement loop until Stop is called or the context
// is cancelled.
func (s *Sweeper) Start(ctx context.Context) {
	go func() {
		defer close(s.doneCh)
		ticker := time.NewTicker(s.interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.SweepOnce(ctx)
			}
		}
	}()
}

// Stop signals the loop to exit and waits for it to finish.
func (s *Sweeper) Stop() {
	close(s.stopCh)
	<-s.doneCh
}

// SweepOnce runs one enforcement pass and returns the number of
// objects deleted.
func (s *Sweeper) SweepOnce(ctx context.Context) int {
	now := time.Now().UTC()
	deleted := 0

	for _, rule := range s.rules {
		objs, err := s.lister.List(ctx, rule.Prefix)
		if err != nil {
			logger.Warn("retention sweep list failed", "prefix", rule.Prefix, "error", err)
			continue
		}
		for _, obj := range objs {
			if now.Sub(obj.ModifiedAt) < rule.MaxAge {
				continue
			}
			ok, err := s.store.Delete(ctx, obj.Key)
			if err != nil {
				logger.Warn("retention sweep delete failed", "key", obj.Key, "error", err)
				continue
			}
			if ok {
				deleted++
			}
		}
	}

	if deleted > 0 {
		logger.Info("retention sweep completed", "deleted", deleted)
	}
	return deleted
}
