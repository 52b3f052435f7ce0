package tmdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/avast/retry-go/v4"

	"watchly/internal/memocache"
)

const defaultBaseURL = "https://api.themoviedb.org/3"

var (
	// ErrMissingAPIKey is returned when no TMDB API key is configured.
	ErrMissingAPIKey = errors.New("tmdb api key is not configured")
	// ErrUpstreamUnavailable marks transient TMDB failures (network, 5xx).
	ErrUpstreamUnavailable = errors.New("tmdb upstream unavailable")
)

// Genre is a TMDB genre reference.
type Genre struct {
	ID   int    `json:"id"`
	Name string `json:"name"`
}

// Candidate is one raw result from a recommendation or discover page,
// prior to hydration.
type Candidate struct {
	ID          int     `json:"id"`
	Title       string  `json:"title,omitempty"`
	Name        string  `json:"name,omitempty"`
	VoteAverage float64 `json:"vote_average"`
	Popularity  float64 `json:"popularity,omitempty"`
}

// Details is a full movie or TV detail record with external identifiers.
type Details struct {
	ID             int     `json:"id"`
	IMDBID         string  `json:"imdb_id,omitempty"`
	Title          string  `json:"title,omitempty"`
	Name           string  `json:"name,omitempty"`
	Overview       string  `json:"overview"`
	PosterPath     string  `json:"poster_path"`
	BackdropPath   string  `json:"backdrop_path"`
	ReleaseDate    string  `json:"release_date,omitempty"`
	FirstAirDate   string  `json:"first_air_date,omitempty"`
	Runtime        int     `json:"runtime,omitempty"`
	EpisodeRunTime []int   `json:"episode_run_time,omitempty"`
	VoteAverage    float64 `json:"vote_average"`
	Genres         []Genre `json:"genres"`
	ExternalIDs    struct {
		IMDBID string `json:"imdb_id"`
	} `json:"external_ids"`
}

// DisplayName returns the title field appropriate for the media type.
func (d *Details) DisplayName() string {
	if d.Title != "" {
		return d.Title
	}
	return d.Name
}

// ResolvedIMDBID returns the IMDB identifier from whichever field the API
// populated. Movie details carry imdb_id directly; TV details only expose
// it through external_ids.
func (d *Details) ResolvedIMDBID() string {
	if d.IMDBID != "" {
		return d.IMDBID
	}
	return d.ExternalIDs.IMDBID
}

type findResult struct {
	MovieResults []Candidate `json:"movie_results"`
	TVResults    []Candidate `json:"tv_results"`
}

type pageResult struct {
	Page    int         `json:"page"`
	Results []Candidate `json:"results"`
}

type findEntry struct {
	TMDBID    int
	MediaType string // "movie" | "tv"
}

// Client talks to the TMDB API. Every lookup is memoized; the API key is
// the cache scope so rotating keys never serves stale cross-key data.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	findCache     *memocache.Cache[findEntry]
	detailsCache  *memocache.Cache[*Details]
	recsCache     *memocache.Cache[[]Candidate]
	discoverCache *memocache.Cache[[]Candidate]
}

// NewClient creates a new TMDB API client.
func NewClient(apiKey string) *Client {
	return &Client{
		apiKey:        apiKey,
		baseURL:       defaultBaseURL,
		httpClient:    &http.Client{Timeout: 10 * time.Second},
		findCache:     memocache.New[findEntry]("tmdb.find", 2000, 24*time.Hour),
		detailsCache:  memocache.New[*Details]("tmdb.details", 5000, 24*time.Hour),
		recsCache:     memocache.New[[]Candidate]("tmdb.recommendations", 1000, 24*time.Hour),
		discoverCache: memocache.New[[]Candidate]("tmdb.discover", 1000, 24*time.Hour),
	}
}

// SetBaseURL overrides the API base URL. Used by tests.
func (c *Client) SetBaseURL(u string) {
	c.baseURL = u
}

// HasAPIKey reports whether the client is configured with an API key.
func (c *Client) HasAPIKey() bool {
	return c.apiKey != ""
}

// getJSON performs a GET against the TMDB API and decodes the response,
// retrying transient failures. An empty body decodes to the zero value of
// out, matching TMDB's occasional empty-200 behavior.
func (c *Client) getJSON(ctx context.Context, endpoint string, params url.Values, out interface{}) error {
	if c.apiKey == "" {
		return ErrMissingAPIKey
	}

	if params == nil {
		params = url.Values{}
	}
	params.Set("api_key", c.apiKey)
	params.Set("language", "en-US")

	reqURL := c.baseURL + endpoint + "?" + params.Encode()

	return retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
			if err != nil {
				return retry.Unrecoverable(fmt.Errorf("create request: %w", err))
			}

			resp, err := c.httpClient.Do(req)
			if err != nil {
				return fmt.Errorf("%w: %v", ErrUpstreamUnavailable, err)
			}
			defer resp.Body.Close()

			switch {
			case resp.StatusCode == http.StatusOK:
			case resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests:
				return fmt.Errorf("%w: status %d", ErrUpstreamUnavailable, resp.StatusCode)
			default:
				body, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
				return retry.Unrecoverable(fmt.Errorf("tmdb %s failed: %s - %s", endpoint, resp.Status, string(body)))
			}

			body, err := io.ReadAll(resp.Body)
			if err != nil {
				return fmt.Errorf("%w: read body: %v", ErrUpstreamUnavailable, err)
			}
			if len(body) == 0 {
				return nil
			}
			if err := json.Unmarshal(body, out); err != nil {
				return retry.Unrecoverable(fmt.Errorf("decode response: %w", err))
			}
			return nil
		},
		retry.Context(ctx),
		retry.Attempts(3),
		retry.Delay(200*time.Millisecond),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
	)
}

// FindByIMDB resolves an IMDB id to a TMDB numeric id and media type
// ("movie" or "tv"). A lookup with no match returns (0, "", nil).
func (c *Client) FindByIMDB(ctx context.Context, imdbID string) (int, string, error) {
	if imdbID == "" {
		return 0, "", nil
	}

	entry, err := c.findCache.Do(memocache.Key(c.apiKey, imdbID), func() (findEntry, error) {
		var result findResult
		params := url.Values{"external_source": []string{"imdb_id"}}
		if err := c.getJSON(ctx, "/find/"+url.PathEscape(imdbID), params, &result); err != nil {
			return findEntry{}, err
		}

		// Movie results win when both lists are populated.
		if len(result.MovieResults) > 0 && result.MovieResults[0].ID != 0 {
			return findEntry{TMDBID: result.MovieResults[0].ID, MediaType: "movie"}, nil
		}
		if len(result.TVResults) > 0 && result.TVResults[0].ID != 0 {
			return findEntry{TMDBID: result.TVResults[0].ID, MediaType: "tv"}, nil
		}
		return findEntry{}, nil
	})
	if err != nil {
		return 0, "", err
	}
	return entry.TMDBID, entry.MediaType, nil
}

// MovieDetails fetches a movie detail record with credits and external ids.
func (c *Client) MovieDetails(ctx context.Context, movieID int) (*Details, error) {
	return c.details(ctx, "movie", movieID)
}

// TVDetails fetches a TV detail record with credits and external ids.
func (c *Client) TVDetails(ctx context.Context, tvID int) (*Details, error) {
	return c.details(ctx, "tv", tvID)
}

func (c *Client) details(ctx context.Context, mediaType string, id int) (*Details, error) {
	return c.detailsCache.Do(memocache.Key(c.apiKey, mediaType, strconv.Itoa(id)), func() (*Details, error) {
		var details Details
		params := url.Values{"append_to_response": []string{"credits,external_ids"}}
		endpoint := fmt.Sprintf("/%s/%d", mediaType, id)
		if err := c.getJSON(ctx, endpoint, params, &details); err != nil {
			return nil, err
		}
		return &details, nil
	})
}

// Recommendations fetches the first page of recommendations for a title.
// mediaType is "movie" or "tv".
func (c *Client) Recommendations(ctx context.Context, mediaType string, tmdbID int) ([]Candidate, error) {
	key := memocache.Key(c.apiKey, "rec", mediaType, strconv.Itoa(tmdbID))
	return c.recsCache.Do(key, func() ([]Candidate, error) {
		var page pageResult
		endpoint := fmt.Sprintf("/%s/%d/recommendations", mediaType, tmdbID)
		if err := c.getJSON(ctx, endpoint, url.Values{"page": []string{"1"}}, &page); err != nil {
			return nil, err
		}
		return page.Results, nil
	})
}

// Similar fetches the first page of similar titles. Used as a fallback when
// a title has no recommendations.
func (c *Client) Similar(ctx context.Context, mediaType string, tmdbID int) ([]Candidate, error) {
	key := memocache.Key(c.apiKey, "sim", mediaType, strconv.Itoa(tmdbID))
	return c.recsCache.Do(key, func() ([]Candidate, error) {
		var page pageResult
		endpoint := fmt.Sprintf("/%s/%d/similar", mediaType, tmdbID)
		if err := c.getJSON(ctx, endpoint, url.Values{"page": []string{"1"}}, &page); err != nil {
			return nil, err
		}
		return page.Results, nil
	})
}

// Discover runs a filtered discovery query. withGenres follows the TMDB
// syntax: comma for AND, pipe for OR.
func (c *Client) Discover(ctx context.Context, mediaType, withGenres string) ([]Candidate, error) {
	if mediaType != "movie" {
		mediaType = "tv"
	}

	key := memocache.Key(c.apiKey, "discover", mediaType, withGenres)
	return c.discoverCache.Do(key, func() ([]Candidate, error) {
		params := url.Values{
			"page":    []string{"1"},
			"sort_by": []string{"popularity.desc"},
		}
		if withGenres != "" {
			params.Set("with_genres", withGenres)
		}

		var page pageResult
		if err := c.getJSON(ctx, "/discover/"+mediaType, params, &page); err != nil {
			return nil, err
		}
		return page.Results, nil
	})
}
