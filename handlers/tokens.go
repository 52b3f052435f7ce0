package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"watchly/config"
	"watchly/models"
	"watchly/services/stremio"
	"watchly/services/tokens"
)

type credentialStore interface {
	tokenStore
	DeriveToken(payload models.CredentialPayload) (string, error)
	Save(ctx context.Context, payload models.CredentialPayload) (string, error)
	Delete(ctx context.Context, token string) error
}

var _ credentialStore = (*tokens.Store)(nil)

type refresher interface {
	RefreshUser(ctx context.Context, payload models.CredentialPayload) error
}

type credentialVerifier interface {
	Verify(ctx context.Context, payload models.CredentialPayload) (string, error)
}

var _ credentialVerifier = (*stremio.Source)(nil)

// TokensHandler issues tokens for credential payloads and serves manual
// refreshes.
type TokensHandler struct {
	settings  *config.Settings
	store     credentialStore
	refresher refresher
	verifier  credentialVerifier
}

func NewTokensHandler(settings *config.Settings, store credentialStore, refresher refresher, verifier credentialVerifier) *TokensHandler {
	return &TokensHandler{settings: settings, store: store, refresher: refresher, verifier: verifier}
}

type tokenResponse struct {
	Token            string `json:"token"`
	ManifestURL      string `json:"manifestUrl"`
	ExpiresInSeconds int    `json:"expiresInSeconds,omitempty"`
}

// Create handles POST /tokens: verify the submitted credentials against
// Stremio, persist them, run the first catalog refresh and hand back the
// token plus a ready-to-install manifest URL.
func (h *TokensHandler) Create(w http.ResponseWriter, r *http.Request) {
	var payload models.CredentialPayload
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&payload); err != nil {
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return
	}
	if !payload.HasCredentials() {
		http.Error(w, "either username and password or an auth key is required", http.StatusBadRequest)
		return
	}

	_, err := h.verifier.Verify(r.Context(), payload)
	if err != nil {
		switch {
		case errors.Is(err, stremio.ErrMissingCredentials):
			http.Error(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, stremio.ErrInvalidCredentials):
			http.Error(w, "credential verification failed", http.StatusBadRequest)
		default:
			http.Error(w, "upstream service unavailable", http.StatusBadGateway)
		}
		return
	}
	// The payload is stored as submitted so resubmitting the same
	// credentials derives the same token. Session keys are minted on
	// demand by the library client and cached, never persisted.
	token, err := h.store.DeriveToken(payload)
	if err != nil {
		writeStoreError(w, err)
		return
	}
	_, getErr := h.store.Get(r.Context(), token)
	isNew := errors.Is(getErr, tokens.ErrNotFound)

	if _, err := h.store.Save(r.Context(), payload); err != nil {
		writeStoreError(w, err)
		return
	}

	if isNew {
		if err := h.refresher.RefreshUser(r.Context(), payload); err != nil {
			log.Printf("[tokens-handler] initial refresh failed for %s: %v", maskToken(token), err)
			if delErr := h.store.Delete(r.Context(), token); delErr != nil {
				log.Printf("[tokens-handler] rollback failed for %s: %v", maskToken(token), delErr)
			}
			http.Error(w, "initial catalog refresh failed", http.StatusBadGateway)
			return
		}
	}

	writeJSON(w, http.StatusOK, tokenResponse{
		Token:            token,
		ManifestURL:      h.manifestURL(r, token),
		ExpiresInSeconds: h.settings.TokenTTLSeconds,
	})
}

// Refresh handles POST /{token}/refresh, forcing an immediate catalog
// push for one credential set.
func (h *TokensHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	payload, err := h.store.Get(r.Context(), token)
	if err != nil {
		writeTokenError(w, err)
		return
	}

	if err := h.refresher.RefreshUser(r.Context(), payload); err != nil {
		log.Printf("[tokens-handler] manual refresh failed for %s: %v", maskToken(token), err)
		http.Error(w, "refresh failed", http.StatusBadGateway)
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// manifestURL builds the install URL for a token. A configured HOST_NAME
// wins; otherwise the URL is reconstructed from the request, honoring
// reverse proxy forwarding headers.
func (h *TokensHandler) manifestURL(r *http.Request, token string) string {
	base := h.settings.HostName
	if base == "" {
		scheme := r.Header.Get("X-Forwarded-Proto")
		if scheme == "" {
			if r.TLS != nil {
				scheme = "https"
			} else {
				scheme = "http"
			}
		}
		host := r.Header.Get("X-Forwarded-Host")
		if host == "" {
			host = r.Host
		}
		prefix := strings.TrimRight(r.Header.Get("X-Forwarded-Prefix"), "/")
		base = fmt.Sprintf("%s://%s%s", scheme, host, prefix)
	}
	return fmt.Sprintf("%s/%s/manifest.json", base, token)
}

func writeStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, tokens.ErrInsecureSalt) {
		http.Error(w, "server token storage is misconfigured", http.StatusInternalServerError)
		return
	}
	http.Error(w, "token storage unavailable", http.StatusServiceUnavailable)
}
