package sweeper

import (
	"context"
	"log"
	"sync"
	"time"

	"askboard/internal/cache"
	"askboard/internal/platform"
	"askboard/internal/repository"
	"askboard/internal/service"
)

const (
	// refreshBatch bounds one refresh pass.
	refreshBatch = 50

	// cleanupBatch bounds one deletion pass.
	cleanupBatch = 100
)

// Sweeper runs the two background maintenance loops: re-rendering stale
// auto-refresh messages so their counts stay loosely current, and deleting
// chat messages whose retention expired.
type Sweeper struct {
	bindings  repository.BindingRepository
	delivery  *service.DeliveryService
	gallery   *service.GalleryService
	cleanup   cache.CleanupSchedule
	messenger platform.Messenger

	refreshEvery time.Duration
	cleanupEvery time.Duration

	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
}

func New(
	bindings repository.BindingRepository,
	delivery *service.DeliveryService,
	gallery *service.GalleryService,
	cleanup cache.CleanupSchedule,
	messenger platform.Messenger,
	refreshEvery, cleanupEvery time.Duration,
) *Sweeper {
	return &Sweeper{
		bindings:     bindings,
		delivery:     delivery,
		gallery:      gallery,
		cleanup:      cleanup,
		messenger:    messenger,
		refreshEvery: refreshEvery,
		cleanupEvery: cleanupEvery,
	}
}

// Start launches both loops. Call Stop to shut them down.
func (s *Sweeper) Start(ctx context.Context) {
	s.ctx, s.cancel = context.WithCancel(ctx)

	s.wg.Add(2)
	go s.refreshLoop()
	go s.cleanupLoop()

	log.Printf("[Sweeper] Started (refresh every %v, cleanup every %v)", s.refreshEvery, s.cleanupEvery)
}

// Stop shuts the loops down and waits for them to finish.
func (s *Sweeper) Stop() {
	s.cancel()
	s.wg.Wait()
	log.Printf("[Sweeper] Stopped")
}

func (s *Sweeper) refreshLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.refreshEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.refreshPass()
		}
	}
}

func (s *Sweeper) refreshPass() {
	stale, err := s.bindings.ListStale(s.ctx, s.refreshEvery, refreshBatch)
	if err != nil {
		log.Printf("[Sweeper] List stale bindings failed: %v", err)
		return
	}

	for i := range stale {
		if err := s.delivery.RefreshBinding(s.ctx, &stale[i], s.gallery); err != nil {
			log.Printf("[Sweeper] Refresh %d/%d failed: %v", stale[i].ChatID, stale[i].MessageID, err)
		}
	}
	if len(stale) > 0 {
		log.Printf("[Sweeper] Refreshed %d bindings", len(stale))
	}
}

func (s *Sweeper) cleanupLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cleanupEvery)
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			s.cleanupPass()
		}
	}
}

func (s *Sweeper) cleanupPass() {
	due, err := s.cleanup.Due(s.ctx, time.Now(), cleanupBatch)
	if err != nil {
		log.Printf("[Sweeper] Read due deletions failed: %v", err)
		return
	}
	if len(due) == 0 {
		return
	}

	for _, item := range due {
		// A failed delete usually means the user already removed the
		// message; either way the entry is done.
		if err := s.messenger.DeleteMessage(s.ctx, item.ChatID, item.MessageID); err != nil {
			log.Printf("[Sweeper] Delete %d/%d failed: %v", item.ChatID, item.MessageID, err)
		}
	}
	if err := s.cleanup.Remove(s.ctx, due...); err != nil {
		log.Printf("[Sweeper] Remove processed deletions failed: %v", err)
	}
	log.Printf("[Sweeper] Deleted %d expired messages", len(due))
}
