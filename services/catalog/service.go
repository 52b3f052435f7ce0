// Package catalog builds the addon's dynamic catalog definitions from a
// user's library and pushes them into the user's Stremio addon collection.
package catalog

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strconv"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"watchly/models"
	"watchly/services/recommend"
	"watchly/services/tmdb"
)

const (
	// RecommendedCatalogID is the sentinel id of the library-based
	// recommendation catalogs.
	RecommendedCatalogID = "watchly.rec"
	// GenreCatalogPrefix prefixes genre-encoded catalog ids; the rest of
	// the id is a compact genre token.
	GenreCatalogPrefix = "watchly.genre."

	// genreSeedLimit is how many recent loved items feed the genre
	// profile, and topGenres how many genres each profile keeps.
	genreSeedLimit = 5
	topGenres      = 2
)

// AddonClient is the Stremio addon collection surface used for pushes.
type AddonClient interface {
	Addons(ctx context.Context, authKey string) ([]models.Addon, error)
	UpdateAddons(ctx context.Context, addons []models.Addon, authKey string) (bool, error)
}

// BaseCatalogs returns the static catalogs always present in the manifest.
func BaseCatalogs() []models.Catalog {
	return []models.Catalog{
		{Type: models.MediaTypeMovie, ID: RecommendedCatalogID, Name: "Recommended", Extra: []models.ExtraField{}},
		{Type: models.MediaTypeSeries, ID: RecommendedCatalogID, Name: "Recommended", Extra: []models.ExtraField{}},
	}
}

// Service derives per-user catalog definitions.
type Service struct {
	metadata recommend.MetadataClient
	addonID  string
}

// NewService creates a catalog service. addonID identifies this addon in
// the user's collection when pushing.
func NewService(metadata recommend.MetadataClient, addonID string) *Service {
	return &Service{metadata: metadata, addonID: addonID}
}

// ForLibrary computes the dynamic catalogs for a library snapshot: one
// "Because you ..." catalog per type and label, plus one genre catalog per
// type built from the loved items' genre profile.
func (s *Service) ForLibrary(ctx context.Context, snapshot models.LibrarySnapshot) []models.Catalog {
	catalogs := becauseYouCatalogs(snapshot)
	catalogs = append(catalogs, s.genreCatalogs(ctx, snapshot)...)
	return catalogs
}

// becauseYouCatalogs picks the most recent unseen loved and watched item
// of each type and names an item-specific catalog after it.
func becauseYouCatalogs(snapshot models.LibrarySnapshot) []models.Catalog {
	var catalogs []models.Catalog
	seen := make(map[string]bool)

	appendFrom := func(items []models.LibraryItem, label string) {
		filled := make(map[string]bool)
		for _, item := range items {
			if !models.SupportedMediaType(item.MediaType) {
				continue
			}
			if seen[item.ID] || filled[item.MediaType] {
				continue
			}
			seen[item.ID] = true
			filled[item.MediaType] = true
			catalogs = append(catalogs, models.Catalog{
				Type:  item.MediaType,
				ID:    item.ID,
				Name:  fmt.Sprintf("Because you %s %s", label, item.Name),
				Extra: []models.ExtraField{},
			})
		}
	}

	appendFrom(snapshot.Loved, "Loved")
	appendFrom(snapshot.Watched, "Watched")
	return catalogs
}

// genreCatalogs builds one genre catalog per media type from the top
// genres of the most recent loved items.
func (s *Service) genreCatalogs(ctx context.Context, snapshot models.LibrarySnapshot) []models.Catalog {
	var catalogs []models.Catalog
	for _, mediaType := range []string{models.MediaTypeMovie, models.MediaTypeSeries} {
		var loved []models.LibraryItem
		for _, item := range snapshot.Loved {
			if item.MediaType == mediaType {
				loved = append(loved, item)
			}
		}
		if len(loved) > genreSeedLimit {
			loved = loved[:genreSeedLimit]
		}
		if len(loved) == 0 {
			continue
		}

		top := s.topGenresFor(ctx, loved, mediaType)
		if len(top) == 0 {
			continue
		}

		ids := make([]string, 0, len(top))
		names := make([]string, 0, len(top))
		for _, genre := range top {
			ids = append(ids, strconv.Itoa(genre.ID))
			names = append(names, genre.Name)
		}

		catalogs = append(catalogs, models.Catalog{
			Type:  mediaType,
			ID:    GenreCatalogPrefix + strings.Join(ids, "-"),
			Name:  strings.Join(names, "-"),
			Extra: []models.ExtraField{},
		})
	}
	return catalogs
}

// topGenresFor hydrates the loved items and returns their most frequent
// genres, ties broken by genre id for determinism.
func (s *Service) topGenresFor(ctx context.Context, loved []models.LibraryItem, mediaType string) []tmdb.Genre {
	p := pool.NewWithResults[*tmdb.Details]()
	for _, item := range loved {
		item := item
		p.Go(func() *tmdb.Details {
			imdbID, tmdbID := recommend.ParseIdentifier(item.ID)
			if tmdbID == 0 {
				if imdbID == "" {
					return nil
				}
				id, _, err := s.metadata.FindByIMDB(ctx, imdbID)
				if err != nil || id == 0 {
					return nil
				}
				tmdbID = id
			}

			var details *tmdb.Details
			var err error
			if mediaType == models.MediaTypeMovie {
				details, err = s.metadata.MovieDetails(ctx, tmdbID)
			} else {
				details, err = s.metadata.TVDetails(ctx, tmdbID)
			}
			if err != nil {
				log.Printf("[catalog] genre lookup failed for %s: %v", item.ID, err)
				return nil
			}
			return details
		})
	}

	counts := make(map[int]int)
	names := make(map[int]string)
	for _, details := range p.Wait() {
		if details == nil {
			continue
		}
		for _, genre := range details.Genres {
			counts[genre.ID]++
			if genre.Name != "" {
				names[genre.ID] = genre.Name
			}
		}
	}
	if len(counts) == 0 {
		return nil
	}

	genres := make([]tmdb.Genre, 0, len(counts))
	for id := range counts {
		name := names[id]
		if name == "" {
			name = tmdb.GenreName(mediaType, id)
		}
		if name == "" {
			continue
		}
		genres = append(genres, tmdb.Genre{ID: id, Name: name})
	}

	sort.Slice(genres, func(i, j int) bool {
		if counts[genres[i].ID] != counts[genres[j].ID] {
			return counts[genres[i].ID] > counts[genres[j].ID]
		}
		return genres[i].ID < genres[j].ID
	})

	if len(genres) > topGenres {
		genres = genres[:topGenres]
	}
	return genres
}

// Push writes base + dynamic catalogs into this addon's manifest inside
// the user's addon collection. A collection without this addon installed
// is left untouched.
func (s *Service) Push(ctx context.Context, client AddonClient, authKey string, catalogs []models.Catalog) (bool, error) {
	addons, err := client.Addons(ctx, authKey)
	if err != nil {
		return false, fmt.Errorf("fetch addon collection: %w", err)
	}

	full := append(BaseCatalogs(), catalogs...)
	found := false
	for i := range addons {
		if addons[i].Manifest == nil {
			continue
		}
		if id, _ := addons[i].Manifest["id"].(string); id == s.addonID {
			addons[i].Manifest["catalogs"] = full
			found = true
			break
		}
	}
	if !found {
		log.Printf("[catalog] addon %s not installed for this account, skipping push", s.addonID)
		return false, nil
	}

	ok, err := client.UpdateAddons(ctx, addons, authKey)
	if err != nil {
		return false, fmt.Errorf("update addon collection: %w", err)
	}
	log.Printf("[catalog] pushed %d catalogs (success=%v)", len(full), ok)
	return ok, nil
}
