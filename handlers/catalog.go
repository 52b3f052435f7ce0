package handlers

import (
	"context"
	"log"
	"net/http"
	"strings"

	"github.com/gorilla/mux"

	"watchly/models"
	"watchly/services/catalog"
	"watchly/services/recommend"
)

type recommender interface {
	Aggregate(ctx context.Context, sources []models.LibraryItem, mediaType string, perSourceLimit, maxResults int, exclusions *recommend.ExclusionSet) []models.Meta
	ForItem(ctx context.Context, itemID string, limit int) []models.Meta
	GenreCatalog(ctx context.Context, token, mediaType string, limit int) []models.Meta
}

var _ recommender = (*recommend.Service)(nil)

// CatalogHandler serves catalog requests from Stremio clients.
type CatalogHandler struct {
	store     tokenStore
	recommend recommender
	library   librarySource
}

func NewCatalogHandler(store tokenStore, recommend recommender, library librarySource) *CatalogHandler {
	return &CatalogHandler{store: store, recommend: recommend, library: library}
}

// Serve handles GET /{token}/catalog/{mediaType}/{id}.json. Once the
// token and type are valid, upstream trouble never fails the request; the
// client gets an empty but well-formed catalog instead.
func (h *CatalogHandler) Serve(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	token := vars["token"]
	mediaType := vars["mediaType"]
	catalogID := vars["id"]

	if !models.SupportedMediaType(mediaType) {
		http.Error(w, "unsupported media type", http.StatusBadRequest)
		return
	}

	payload, err := h.store.Get(r.Context(), token)
	if err != nil {
		writeTokenError(w, err)
		return
	}

	metas := h.resolve(r.Context(), payload, mediaType, catalogID)
	if metas == nil {
		metas = []models.Meta{}
	}

	w.Header().Set("Cache-Control", "public, max-age=86400")
	writeJSON(w, http.StatusOK, models.CatalogResponse{Metas: metas})
}

func (h *CatalogHandler) resolve(ctx context.Context, payload models.CredentialPayload, mediaType, catalogID string) []models.Meta {
	switch {
	case catalogID == catalog.RecommendedCatalogID:
		return h.libraryCatalog(ctx, payload, mediaType)
	case strings.HasPrefix(catalogID, catalog.GenreCatalogPrefix):
		token := strings.TrimPrefix(catalogID, catalog.GenreCatalogPrefix)
		return h.recommend.GenreCatalog(ctx, token, mediaType, recommend.DefaultMaxResults)
	default:
		// Item-seeded catalog, e.g. "Because you Loved ...".
		return h.recommend.ForItem(ctx, catalogID, recommend.DefaultMaxResults)
	}
}

// libraryCatalog aggregates recommendations across the user's most
// recent library items, excluding everything already in the library.
func (h *CatalogHandler) libraryCatalog(ctx context.Context, payload models.CredentialPayload, mediaType string) []models.Meta {
	snapshot, err := h.library.Snapshot(ctx, payload)
	if err != nil {
		log.Printf("[catalog-handler] library unavailable: %v", err)
		return nil
	}
	sources := recommend.SelectSources(snapshot, mediaType, recommend.DefaultSeedLimit, payload.IncludeWatched)
	exclusions := recommend.BuildExclusions(snapshot.Items())

	return h.recommend.Aggregate(ctx, sources, mediaType, recommend.DefaultPerSourceLimit, recommend.DefaultMaxResults, exclusions)
}
