package catalog

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"watchly/models"
	"watchly/services/tmdb"
)

type mockMetadata struct {
	mu      sync.Mutex
	find    map[string]int
	details map[int]*tmdb.Details
}

func (m *mockMetadata) FindByIMDB(ctx context.Context, imdbID string) (int, string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.find[imdbID]
	if !ok {
		return 0, "", nil
	}
	return id, models.MediaTypeMovie, nil
}

func (m *mockMetadata) MovieDetails(ctx context.Context, id int) (*tmdb.Details, error) {
	return m.lookup(id)
}

func (m *mockMetadata) TVDetails(ctx context.Context, id int) (*tmdb.Details, error) {
	return m.lookup(id)
}

func (m *mockMetadata) lookup(id int) (*tmdb.Details, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.details[id]
	if !ok {
		return nil, fmt.Errorf("no details for %d", id)
	}
	return d, nil
}

func (m *mockMetadata) Recommendations(ctx context.Context, mediaType string, id int) ([]tmdb.Candidate, error) {
	return nil, nil
}

func (m *mockMetadata) Similar(ctx context.Context, mediaType string, id int) ([]tmdb.Candidate, error) {
	return nil, nil
}

func (m *mockMetadata) Discover(ctx context.Context, mediaType, genres string) ([]tmdb.Candidate, error) {
	return nil, nil
}

type mockAddons struct {
	addons    []models.Addon
	updated   []models.Addon
	updateErr error
}

func (m *mockAddons) Addons(ctx context.Context, authKey string) ([]models.Addon, error) {
	return m.addons, nil
}

func (m *mockAddons) UpdateAddons(ctx context.Context, addons []models.Addon, authKey string) (bool, error) {
	if m.updateErr != nil {
		return false, m.updateErr
	}
	m.updated = addons
	return true, nil
}

func TestBecauseYouCatalogs(t *testing.T) {
	snapshot := models.LibrarySnapshot{
		Loved: []models.LibraryItem{
			{ID: "tt1", MediaType: models.MediaTypeMovie, Name: "Heat"},
			{ID: "tt2", MediaType: models.MediaTypeMovie, Name: "Ronin"},
			{ID: "tt3", MediaType: models.MediaTypeSeries, Name: "The Wire"},
		},
		Watched: []models.LibraryItem{
			{ID: "tt1", MediaType: models.MediaTypeMovie, Name: "Heat"},
			{ID: "tt4", MediaType: models.MediaTypeMovie, Name: "Collateral"},
		},
	}

	catalogs := becauseYouCatalogs(snapshot)
	require.Len(t, catalogs, 3)

	assert.Equal(t, "tt1", catalogs[0].ID)
	assert.Equal(t, "Because you Loved Heat", catalogs[0].Name)
	assert.Equal(t, models.MediaTypeMovie, catalogs[0].Type)

	assert.Equal(t, "tt3", catalogs[1].ID)
	assert.Equal(t, "Because you Loved The Wire", catalogs[1].Name)

	// tt1 is already used by the loved slot, so the watched slot falls
	// through to the next movie.
	assert.Equal(t, "tt4", catalogs[2].ID)
	assert.Equal(t, "Because you Watched Collateral", catalogs[2].Name)
}

func TestGenreCatalogsTopTwo(t *testing.T) {
	metadata := &mockMetadata{
		find: map[string]int{"tt1": 101, "tt2": 102, "tt3": 103},
		details: map[int]*tmdb.Details{
			101: {ID: 101, Genres: []tmdb.Genre{{ID: 28, Name: "Action"}, {ID: 53, Name: "Thriller"}}},
			102: {ID: 102, Genres: []tmdb.Genre{{ID: 28, Name: "Action"}, {ID: 12, Name: "Adventure"}}},
			103: {ID: 103, Genres: []tmdb.Genre{{ID: 28, Name: "Action"}, {ID: 53, Name: "Thriller"}}},
		},
	}
	service := NewService(metadata, "com.bimal.watchly")

	snapshot := models.LibrarySnapshot{
		Loved: []models.LibraryItem{
			{ID: "tt1", MediaType: models.MediaTypeMovie, Name: "A"},
			{ID: "tt2", MediaType: models.MediaTypeMovie, Name: "B"},
			{ID: "tt3", MediaType: models.MediaTypeMovie, Name: "C"},
		},
	}

	catalogs := service.genreCatalogs(context.Background(), snapshot)
	require.Len(t, catalogs, 1)
	assert.Equal(t, GenreCatalogPrefix+"28-53", catalogs[0].ID)
	assert.Equal(t, "Action-Thriller", catalogs[0].Name)
	assert.Equal(t, models.MediaTypeMovie, catalogs[0].Type)
}

func TestGenreCatalogsSkipEmptyProfile(t *testing.T) {
	metadata := &mockMetadata{find: map[string]int{}, details: map[int]*tmdb.Details{}}
	service := NewService(metadata, "com.bimal.watchly")

	snapshot := models.LibrarySnapshot{
		Loved: []models.LibraryItem{{ID: "tt1", MediaType: models.MediaTypeMovie, Name: "A"}},
	}

	catalogs := service.genreCatalogs(context.Background(), snapshot)
	assert.Empty(t, catalogs)
}

func TestPushReplacesCatalogs(t *testing.T) {
	client := &mockAddons{
		addons: []models.Addon{
			{TransportURL: "https://other.example/manifest.json", Manifest: map[string]interface{}{"id": "org.other"}},
			{TransportURL: "https://watchly.example/manifest.json", Manifest: map[string]interface{}{"id": "com.bimal.watchly"}},
		},
	}
	service := NewService(&mockMetadata{}, "com.bimal.watchly")

	dynamic := []models.Catalog{{Type: models.MediaTypeMovie, ID: "tt1", Name: "Because you Loved Heat"}}
	ok, err := service.Push(context.Background(), client, "key", dynamic)
	require.NoError(t, err)
	assert.True(t, ok)

	require.Len(t, client.updated, 2)
	pushed, ok2 := client.updated[1].Manifest["catalogs"].([]models.Catalog)
	require.True(t, ok2)
	require.Len(t, pushed, len(BaseCatalogs())+1)
	assert.Equal(t, RecommendedCatalogID, pushed[0].ID)
	assert.Equal(t, "tt1", pushed[len(pushed)-1].ID)

	// Other addons pass through untouched.
	_, replaced := client.updated[0].Manifest["catalogs"]
	assert.False(t, replaced)
}

func TestPushSkipsWhenNotInstalled(t *testing.T) {
	client := &mockAddons{
		addons: []models.Addon{
			{Manifest: map[string]interface{}{"id": "org.other"}},
		},
	}
	service := NewService(&mockMetadata{}, "com.bimal.watchly")

	ok, err := service.Push(context.Background(), client, "key", nil)
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Nil(t, client.updated)
}
