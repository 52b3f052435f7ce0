package catalog

import (
	"context"
	"fmt"

	"watchly/models"
	"watchly/services/recommend"
	"watchly/services/stremio"
)

type aggregator interface {
	Aggregate(ctx context.Context, sources []models.LibraryItem, mediaType string, perSourceLimit, maxResults int, exclusions *recommend.ExclusionSet) []models.Meta
}

var _ aggregator = (*recommend.Service)(nil)

// Updater runs the full catalog refresh pipeline for one user: fetch the
// library, select seeds and aggregate recommendations per type, derive
// dynamic catalogs, push them into the addon collection.
type Updater struct {
	service     *Service
	source      *stremio.Source
	recommender aggregator
}

// NewUpdater creates an updater building clients from the shared source.
func NewUpdater(service *Service, source *stremio.Source, recommender aggregator) *Updater {
	return &Updater{service: service, source: source, recommender: recommender}
}

// RefreshUser recomputes and pushes catalogs for the given credentials.
func (u *Updater) RefreshUser(ctx context.Context, payload models.CredentialPayload) error {
	client, err := u.source.Client(payload)
	if err != nil {
		return err
	}
	authKey, err := client.AuthKey(ctx)
	if err != nil {
		return fmt.Errorf("authenticate: %w", err)
	}

	snapshot := client.Library(ctx)

	// Run the aggregation for both types during the refresh. The results
	// land in the memoizing caches, so catalog requests arriving after
	// the response cache expires are served without upstream fan-out.
	exclusions := recommend.BuildExclusions(snapshot.Items())
	for _, mediaType := range []string{models.MediaTypeMovie, models.MediaTypeSeries} {
		sources := recommend.SelectSources(snapshot, mediaType, recommend.DefaultSeedLimit, payload.IncludeWatched)
		u.recommender.Aggregate(ctx, sources, mediaType, recommend.DefaultPerSourceLimit, recommend.DefaultMaxResults, exclusions)
	}

	catalogs := u.service.ForLibrary(ctx, snapshot)
	if _, err := u.service.Push(ctx, client, authKey, catalogs); err != nil {
		return err
	}
	return nil
}
