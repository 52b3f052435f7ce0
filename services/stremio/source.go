package stremio

import (
	"context"

	"watchly/models"
)

// Source builds per-request clients that share the process-wide caches
// and endpoint configuration.
type Source struct {
	caches     *Caches
	baseURL    string
	likesURL   string
	lovedQuota int
}

// NewSource creates a client factory over shared caches.
func NewSource(caches *Caches) *Source {
	return &Source{caches: caches}
}

// SetBaseURLs overrides the API endpoints for every built client. Used by
// tests.
func (s *Source) SetBaseURLs(api, likes string) {
	s.baseURL = api
	s.likesURL = likes
}

// SetLovedQuota overrides the per-type loved scan quota for every built
// client.
func (s *Source) SetLovedQuota(quota int) {
	s.lovedQuota = quota
}

// Client builds a client for one credential payload.
func (s *Source) Client(payload models.CredentialPayload) (*Client, error) {
	client, err := NewClient(payload, s.caches)
	if err != nil {
		return nil, err
	}
	if s.baseURL != "" {
		client.SetBaseURLs(s.baseURL, s.likesURL)
	}
	if s.lovedQuota > 0 {
		client.LovedQuota = s.lovedQuota
	}
	return client, nil
}

// Verify checks a credential payload against the live API and returns
// the session auth key.
func (s *Source) Verify(ctx context.Context, payload models.CredentialPayload) (string, error) {
	client, err := s.Client(payload)
	if err != nil {
		return "", err
	}
	return client.VerifyCredentials(ctx)
}

// Snapshot fetches the library snapshot for one credential payload.
func (s *Source) Snapshot(ctx context.Context, payload models.CredentialPayload) (models.LibrarySnapshot, error) {
	client, err := s.Client(payload)
	if err != nil {
		return models.LibrarySnapshot{}, err
	}
	return client.Library(ctx), nil
}
