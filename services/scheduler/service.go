// Package scheduler periodically refreshes catalogs for every stored user.
package scheduler

import (
	"context"
	"log"
	"sync"
	"time"

	"watchly/models"
)

// minInterval is the floor for the refresh cadence; anything lower would
// hammer the upstream APIs for no benefit.
const minInterval = 60 * time.Second

// TokenSource iterates stored credential payloads.
type TokenSource interface {
	ForEach(ctx context.Context, fn func(payload models.CredentialPayload) error) error
}

// Refresher pushes up-to-date catalogs for one user.
type Refresher interface {
	RefreshUser(ctx context.Context, payload models.CredentialPayload) error
}

// Service runs the background refresh loop.
type Service struct {
	tokens    TokenSource
	refresher Refresher
	interval  time.Duration

	mu      sync.Mutex
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
}

// NewService creates a scheduler. Intervals below one minute are clamped.
func NewService(tokens TokenSource, refresher Refresher, interval time.Duration) *Service {
	if interval < minInterval {
		interval = minInterval
	}
	return &Service{tokens: tokens, refresher: refresher, interval: interval}
}

// Start launches the refresh loop. Calling Start on a running scheduler
// is a no-op.
func (s *Service) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}

	s.stop = make(chan struct{})
	s.running = true

	s.wg.Add(1)
	go s.loop(s.stop)
	log.Printf("[scheduler] started, refreshing every %s", s.interval)
}

// Stop prevents further passes and waits for any in-flight pass to
// finish. Per-credential refresh work already underway runs to
// completion; only the next cycle is preempted.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	stop := s.stop
	s.mu.Unlock()

	close(stop)
	s.wg.Wait()
	log.Printf("[scheduler] stopped")
}

// Running reports whether the loop is active.
func (s *Service) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

func (s *Service) loop(stop <-chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	// First pass runs immediately so freshly restarted servers converge
	// without waiting a full interval. Passes run on a background
	// context: Stop preempts the ticker wait but lets a pass already
	// underway finish.
	s.RefreshAll(context.Background())

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.RefreshAll(context.Background())
		}
	}
}

// RefreshAll runs one refresh pass over every stored user. Individual
// failures are logged and never abort the pass.
func (s *Service) RefreshAll(ctx context.Context) {
	start := time.Now()
	var total, failed int

	err := s.tokens.ForEach(ctx, func(payload models.CredentialPayload) error {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if !payload.HasCredentials() {
			return nil
		}
		total++
		if err := s.refresher.RefreshUser(ctx, payload); err != nil {
			failed++
			log.Printf("[scheduler] refresh failed for %s: %v", maskUser(payload), err)
		}
		return nil
	})
	if err != nil && ctx.Err() == nil {
		log.Printf("[scheduler] refresh pass aborted: %v", err)
		return
	}
	if ctx.Err() != nil {
		return
	}

	log.Printf("[scheduler] refresh pass done: %d users, %d failed, took %s",
		total, failed, time.Since(start).Round(time.Millisecond))
}

// maskUser produces a loggable identifier that leaks neither the full
// username nor any auth material.
func maskUser(payload models.CredentialPayload) string {
	name := payload.Username
	if name == "" {
		name = payload.AuthKey
	}
	if len(name) <= 4 {
		return "****"
	}
	return name[:4] + "****"
}
