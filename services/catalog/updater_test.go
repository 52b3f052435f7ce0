package catalog

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchly/models"
	"watchly/services/recommend"
	"watchly/services/stremio"
	"watchly/services/tmdb"
)

type recordingAggregator struct {
	mu      sync.Mutex
	sources map[string][]models.LibraryItem
}

func (r *recordingAggregator) Aggregate(ctx context.Context, sources []models.LibraryItem, mediaType string, perSourceLimit, maxResults int, exclusions *recommend.ExclusionSet) []models.Meta {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sources == nil {
		r.sources = map[string][]models.LibraryItem{}
	}
	r.sources[mediaType] = sources
	return nil
}

func TestRefreshUserAggregatesAndPushes(t *testing.T) {
	var pushed bool
	apiSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/api/datastoreGet":
			fmt.Fprint(w, `{"result":[
				{"_id":"tt1","type":"movie","name":"Heat","_mtime":"2024-06-01T00:00:00Z","state":{"timesWatched":1}}
			]}`)
		case "/api/addonCollectionGet":
			fmt.Fprint(w, `{"result":{"addons":[{"manifest":{"id":"com.bimal.watchly"}}]}}`)
		case "/api/addonCollectionSet":
			pushed = true
			fmt.Fprint(w, `{"result":{"success":true}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(apiSrv.Close)
	likesSrv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"status":"loved"}`)
	}))
	t.Cleanup(likesSrv.Close)

	source := stremio.NewSource(stremio.NewCaches())
	source.SetBaseURLs(apiSrv.URL, likesSrv.URL)

	metadata := &mockMetadata{
		find: map[string]int{"tt1": 101},
		details: map[int]*tmdb.Details{
			101: {ID: 101, Genres: []tmdb.Genre{{ID: 28, Name: "Action"}}},
		},
	}
	aggregated := &recordingAggregator{}
	updater := NewUpdater(NewService(metadata, "com.bimal.watchly"), source, aggregated)

	err := updater.RefreshUser(context.Background(), models.CredentialPayload{AuthKey: "key-1"})
	require.NoError(t, err)

	// Aggregation ran for both media types, seeded from the loved item.
	require.Contains(t, aggregated.sources, models.MediaTypeMovie)
	require.Contains(t, aggregated.sources, models.MediaTypeSeries)
	movieSources := aggregated.sources[models.MediaTypeMovie]
	require.Len(t, movieSources, 1)
	assert.Equal(t, "tt1", movieSources[0].ID)
	assert.Empty(t, aggregated.sources[models.MediaTypeSeries])

	assert.True(t, pushed)
}
