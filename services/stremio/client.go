package stremio

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"watchly/internal/memocache"
	"watchly/models"
)

const (
	apiBaseURL  = "https://api.strem.io"
	likesAPIURL = "https://likes.stremio.com/api/get_status"
)

var (
	// ErrMissingCredentials is returned when neither an auth key nor a
	// username/password pair is configured.
	ErrMissingCredentials = errors.New("stremio credentials are required")
	// ErrInvalidCredentials marks rejected credentials or auth keys. This
	// is a user-correctable problem, never retried automatically.
	ErrInvalidCredentials = errors.New("invalid stremio credentials")
	// ErrUpstreamUnavailable marks transient Stremio API failures.
	ErrUpstreamUnavailable = errors.New("stremio upstream unavailable")
)

// Caches holds the process-wide memoization for Stremio lookups. Entries
// are keyed by credential scope, so a single instance serves every user.
type Caches struct {
	login   *memocache.Cache[string]
	loved   *memocache.Cache[bool]
	library *memocache.Cache[models.LibrarySnapshot]
}

// NewCaches creates the shared Stremio cache set.
func NewCaches() *Caches {
	return &Caches{
		login:   memocache.New[string]("stremio.login", 500, 24*time.Hour),
		loved:   memocache.New[bool]("stremio.loved", 5000, 24*time.Hour),
		library: memocache.New[models.LibrarySnapshot]("stremio.library", 500, 10*time.Minute),
	}
}

// Client talks to the Stremio API for a single credential set. Instances
// are cheap and constructed per request; the caches are shared.
type Client struct {
	username string
	password string
	authKey  string

	// cacheScope isolates this credential set's entries in the shared
	// caches.
	cacheScope string

	// LovedQuota is the per-type count of loved items the library scan
	// stops at.
	LovedQuota int

	httpClient *http.Client
	caches     *Caches
	baseURL    string
	likesURL   string
}

// NewClient creates a Stremio client for one credential set.
func NewClient(creds models.CredentialPayload, caches *Caches) (*Client, error) {
	if !creds.HasCredentials() {
		return nil, ErrMissingCredentials
	}

	scope := creds.AuthKey
	if scope == "" {
		scope = creds.Username
	}

	return &Client{
		username:   strings.TrimSpace(creds.Username),
		password:   creds.Password,
		authKey:    strings.TrimSpace(creds.AuthKey),
		cacheScope: scope,
		LovedQuota: 10,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		caches:     caches,
		baseURL:    apiBaseURL,
		likesURL:   likesAPIURL,
	}, nil
}

// SetBaseURLs overrides the API endpoints. Used by tests.
func (c *Client) SetBaseURLs(api, likes string) {
	c.baseURL = api
	c.likesURL = likes
}

// apiEnvelope is the common wrapper around Stremio API responses.
type apiEnvelope struct {
	Result  json.RawMessage `json:"result"`
	Error   json.RawMessage `json:"error"`
	Code    int             `json:"code"`
	Message string          `json:"message"`
}

// errorMessage extracts a human-readable message from an API error
// payload, which is sometimes an object and sometimes a bare string.
func (e *apiEnvelope) errorMessage() string {
	if len(e.Error) > 0 {
		var obj struct {
			Message string `json:"message"`
		}
		if err := json.Unmarshal(e.Error, &obj); err == nil && obj.Message != "" {
			return obj.Message
		}
		var s string
		if err := json.Unmarshal(e.Error, &s); err == nil && s != "" {
			return s
		}
		return "request rejected"
	}
	if e.Code != 0 && e.Message != "" {
		return e.Message
	}
	return ""
}

// apiPost posts a JSON payload to the Stremio API and returns the result
// envelope.
func (c *Client) apiPost(ctx context.Context, path string, payload interface{}) (*apiEnvelope, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("%w: status %d", ErrInvalidCredentials, resp.StatusCode)
	default:
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return nil, fmt.Errorf("%w: %s - %s", ErrUpstreamUnavailable, resp.Status, string(respBody))
	}

	var envelope apiEnvelope
	if err := json.NewDecoder(resp.Body).Decode(&envelope); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	return &envelope, nil
}

// login exchanges username/password for a fresh auth key.
func (c *Client) login(ctx context.Context) (string, error) {
	if c.username == "" || c.password == "" {
		return "", ErrMissingCredentials
	}

	envelope, err := c.apiPost(ctx, "/api/login", map[string]interface{}{
		"email":    c.username,
		"password": c.password,
		"type":     "Login",
		"facebook": false,
	})
	if err != nil {
		return "", err
	}

	var result struct {
		AuthKey string `json:"authKey"`
	}
	if len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, &result); err != nil {
			return "", fmt.Errorf("decode login result: %w", err)
		}
	}
	if result.AuthKey == "" {
		msg := envelope.errorMessage()
		if msg == "" {
			msg = "invalid username or password"
		}
		return "", fmt.Errorf("%w: %s", ErrInvalidCredentials, msg)
	}
	return result.AuthKey, nil
}

// AuthKey returns the configured auth key, or logs in to obtain one.
// Successful logins are cached so repeated requests reuse the session.
func (c *Client) AuthKey(ctx context.Context) (string, error) {
	if c.authKey != "" {
		return c.authKey, nil
	}
	return c.caches.login.Do(memocache.Key(c.cacheScope, "login", c.username), func() (string, error) {
		return c.login(ctx)
	})
}

// IsLoved checks whether the user marked a title as loved. Any failure
// counts as not loved; the loved scan tolerates missing signals.
func (c *Client) IsLoved(ctx context.Context, authKey, imdbID, mediaType string) bool {
	if !strings.HasPrefix(imdbID, "tt") {
		return false
	}

	loved, err := c.caches.loved.Do(memocache.Key(c.cacheScope, "loved", mediaType, imdbID), func() (bool, error) {
		params := url.Values{
			"authToken": []string{authKey},
			"mediaType": []string{mediaType},
			"mediaId":   []string{imdbID},
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.likesURL+"?"+params.Encode(), nil)
		if err != nil {
			return false, fmt.Errorf("create request: %w", err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return false, fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return false, fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
		}

		var result struct {
			Status string `json:"status"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return false, fmt.Errorf("decode response: %w", err)
		}
		return strings.EqualFold(result.Status, "loved"), nil
	})
	if err != nil {
		return false
	}
	return loved
}

// Addons fetches the user's addon collection. An API-level error payload
// means the auth key was rejected.
func (c *Client) Addons(ctx context.Context, authKey string) ([]models.Addon, error) {
	if authKey == "" {
		var err error
		authKey, err = c.AuthKey(ctx)
		if err != nil {
			return nil, err
		}
	}

	envelope, err := c.apiPost(ctx, "/api/addonCollectionGet", map[string]interface{}{
		"type":    "AddonCollectionGet",
		"authKey": authKey,
		"update":  true,
	})
	if err != nil {
		return nil, err
	}
	if msg := envelope.errorMessage(); msg != "" {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, msg)
	}

	var result struct {
		Addons []models.Addon `json:"addons"`
	}
	if len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, &result); err != nil {
			return nil, fmt.Errorf("decode addon collection: %w", err)
		}
	}
	return result.Addons, nil
}

// UpdateAddons writes the addon collection back, returning the API's
// success flag.
func (c *Client) UpdateAddons(ctx context.Context, addons []models.Addon, authKey string) (bool, error) {
	if authKey == "" {
		var err error
		authKey, err = c.AuthKey(ctx)
		if err != nil {
			return false, err
		}
	}

	envelope, err := c.apiPost(ctx, "/api/addonCollectionSet", map[string]interface{}{
		"type":    "AddonCollectionSet",
		"authKey": authKey,
		"addons":  addons,
	})
	if err != nil {
		return false, err
	}
	if msg := envelope.errorMessage(); msg != "" {
		return false, fmt.Errorf("%w: %s", ErrInvalidCredentials, msg)
	}

	var result struct {
		Success bool `json:"success"`
	}
	if len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, &result); err != nil {
			return false, fmt.Errorf("decode update result: %w", err)
		}
	}
	return result.Success, nil
}

// VerifyCredentials checks the configured credentials against Stremio and
// returns a working auth key. Invalid credentials and unreachable upstream
// are distinguishable via errors.Is.
func (c *Client) VerifyCredentials(ctx context.Context) (string, error) {
	if c.authKey != "" && c.username == "" {
		if _, err := c.Addons(ctx, c.authKey); err != nil {
			return "", err
		}
		return c.authKey, nil
	}
	return c.AuthKey(ctx)
}
