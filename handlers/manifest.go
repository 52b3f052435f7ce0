package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"watchly/config"
	"watchly/internal/memocache"
	"watchly/models"
	"watchly/services/catalog"
	"watchly/services/stremio"
	"watchly/services/tokens"
)

const addonVersion = "1.0.0"

type tokenStore interface {
	Get(ctx context.Context, token string) (models.CredentialPayload, error)
}

var _ tokenStore = (*tokens.Store)(nil)

type catalogBuilder interface {
	ForLibrary(ctx context.Context, snapshot models.LibrarySnapshot) []models.Catalog
}

var _ catalogBuilder = (*catalog.Service)(nil)

type librarySource interface {
	Snapshot(ctx context.Context, payload models.CredentialPayload) (models.LibrarySnapshot, error)
}

var _ librarySource = (*stremio.Source)(nil)

// ManifestHandler serves the addon manifest, with per-user dynamic
// catalogs when the path carries a token.
type ManifestHandler struct {
	settings *config.Settings
	store    tokenStore
	catalogs catalogBuilder
	library  librarySource

	// dynamic memoizes per-token catalog lists so manifest polls do not
	// hit the library APIs on every request.
	dynamic *memocache.Cache[[]models.Catalog]
}

func NewManifestHandler(settings *config.Settings, store tokenStore, catalogs catalogBuilder, library librarySource) *ManifestHandler {
	return &ManifestHandler{
		settings: settings,
		store:    store,
		catalogs: catalogs,
		library:  library,
		dynamic:  memocache.New[[]models.Catalog]("manifest-catalogs", 500, time.Hour),
	}
}

// base builds the manifest skeleton shared by both routes.
func (h *ManifestHandler) base(configured bool) models.Manifest {
	description := "Personalized movie and series recommendations based on your Stremio library."
	if h.settings.Announcement != "" {
		description += " " + h.settings.Announcement
	}
	return models.Manifest{
		ID:          h.settings.AddonID,
		Version:     addonVersion,
		Name:        h.settings.AddonName,
		Description: description,
		Logo:        h.settings.LogoURL,
		Resources: []models.ManifestResource{
			{Name: "catalog", Types: []string{models.MediaTypeMovie, models.MediaTypeSeries}, IDPrefixes: []string{"tt", "watchly"}},
		},
		Types:      []string{models.MediaTypeMovie, models.MediaTypeSeries},
		IDPrefixes: []string{"tt"},
		Catalogs:   catalog.BaseCatalogs(),
		BehaviorHints: models.BehaviorHints{
			Configurable:          true,
			ConfigurationRequired: !configured,
		},
	}
}

// Base serves the tokenless manifest used before configuration.
func (h *ManifestHandler) Base(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.base(false))
}

// ForToken serves the manifest with the user's dynamic catalogs appended.
func (h *ManifestHandler) ForToken(w http.ResponseWriter, r *http.Request) {
	token := mux.Vars(r)["token"]

	payload, err := h.store.Get(r.Context(), token)
	if err != nil {
		writeTokenError(w, err)
		return
	}

	manifest := h.base(true)
	dynamic, err := h.dynamic.Do(memocache.Key("catalogs", token), func() ([]models.Catalog, error) {
		snapshot, err := h.library.Snapshot(r.Context(), payload)
		if err != nil {
			return nil, err
		}
		return h.catalogs.ForLibrary(r.Context(), snapshot), nil
	})
	if err != nil {
		// The base manifest is still valid without dynamic catalogs.
		log.Printf("[manifest-handler] dynamic catalogs unavailable for %s: %v", maskToken(token), err)
	} else {
		manifest.Catalogs = append(manifest.Catalogs, dynamic...)
	}

	writeJSON(w, http.StatusOK, manifest)
}

// writeTokenError maps token store failures onto HTTP statuses.
func writeTokenError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, tokens.ErrNotFound):
		http.Error(w, "unknown token", http.StatusNotFound)
	case errors.Is(err, tokens.ErrInsecureSalt):
		http.Error(w, "server token storage is misconfigured", http.StatusInternalServerError)
	default:
		http.Error(w, "token storage unavailable", http.StatusServiceUnavailable)
	}
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Printf("[handlers] failed to encode response: %v", err)
	}
}

func maskToken(token string) string {
	if len(token) <= 8 {
		return "****"
	}
	return token[:8] + "..."
}
