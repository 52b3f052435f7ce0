package scheduler

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchly/models"
)

type stubTokens struct {
	payloads []models.CredentialPayload
}

func (s *stubTokens) ForEach(ctx context.Context, fn func(models.CredentialPayload) error) error {
	for _, p := range s.payloads {
		if err := fn(p); err != nil {
			return err
		}
	}
	return nil
}

type stubRefresher struct {
	mu    sync.Mutex
	calls []string
	fail  map[string]error

	// started is closed on the first call and release blocks every call
	// until closed, letting tests hold a pass mid-flight.
	started     chan struct{}
	release     chan struct{}
	startedOnce sync.Once
}

func (s *stubRefresher) RefreshUser(ctx context.Context, payload models.CredentialPayload) error {
	if s.started != nil {
		s.startedOnce.Do(func() { close(s.started) })
	}
	if s.release != nil {
		<-s.release
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, payload.Username)
	if err, ok := s.fail[payload.Username]; ok {
		return err
	}
	return nil
}

func (s *stubRefresher) called() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.calls...)
}

func TestRefreshAllSkipsEmptyCredentials(t *testing.T) {
	tokens := &stubTokens{payloads: []models.CredentialPayload{
		{Username: "alice", Password: "pw"},
		{},
		{AuthKey: "raw-auth-key"},
	}}
	refresher := &stubRefresher{}
	service := NewService(tokens, refresher, time.Hour)

	service.RefreshAll(context.Background())

	assert.Equal(t, []string{"alice", ""}, refresher.called())
}

func TestRefreshAllIsolatesFailures(t *testing.T) {
	tokens := &stubTokens{payloads: []models.CredentialPayload{
		{Username: "alice", Password: "pw"},
		{Username: "bob", Password: "pw"},
		{Username: "carol", Password: "pw"},
	}}
	refresher := &stubRefresher{fail: map[string]error{"bob": errors.New("boom")}}
	service := NewService(tokens, refresher, time.Hour)

	service.RefreshAll(context.Background())

	assert.Equal(t, []string{"alice", "bob", "carol"}, refresher.called())
}

func TestStartStopLifecycle(t *testing.T) {
	tokens := &stubTokens{payloads: []models.CredentialPayload{
		{Username: "alice", Password: "pw"},
	}}
	refresher := &stubRefresher{}
	service := NewService(tokens, refresher, time.Hour)

	require.False(t, service.Running())
	service.Start()
	require.True(t, service.Running())

	// Second Start is a no-op.
	service.Start()

	// The loop runs an immediate first pass.
	deadline := time.Now().Add(2 * time.Second)
	for len(refresher.called()) == 0 && time.Now().Before(deadline) {
		time.Sleep(10 * time.Millisecond)
	}
	assert.NotEmpty(t, refresher.called())

	service.Stop()
	assert.False(t, service.Running())

	// Second Stop is a no-op.
	service.Stop()
}

func TestStopLetsInFlightPassFinish(t *testing.T) {
	tokens := &stubTokens{payloads: []models.CredentialPayload{
		{Username: "alice", Password: "pw"},
		{Username: "bob", Password: "pw"},
	}}
	refresher := &stubRefresher{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
	service := NewService(tokens, refresher, time.Hour)

	service.Start()
	<-refresher.started

	// Stop while the first record is still refreshing; the pass must
	// complete both records before Stop returns.
	go func() {
		time.Sleep(50 * time.Millisecond)
		close(refresher.release)
	}()
	service.Stop()

	assert.Equal(t, []string{"alice", "bob"}, refresher.called())
}

func TestIntervalClamp(t *testing.T) {
	service := NewService(&stubTokens{}, &stubRefresher{}, time.Second)
	assert.Equal(t, minInterval, service.interval)
}

func TestRefreshAllStopsOnCancel(t *testing.T) {
	tokens := &stubTokens{payloads: []models.CredentialPayload{
		{Username: "alice", Password: "pw"},
		{Username: "bob", Password: "pw"},
	}}
	refresher := &stubRefresher{}
	service := NewService(tokens, refresher, time.Hour)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	service.RefreshAll(ctx)

	assert.Empty(t, refresher.called())
}
