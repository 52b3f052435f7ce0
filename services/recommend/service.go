package recommend

import (
	"context"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"watchly/models"
	"watchly/services/tmdb"
)

const (
	posterBaseURL   = "https://image.tmdb.org/t/p/w500"
	backdropBaseURL = "https://image.tmdb.org/t/p/w1280"
)

// Default aggregation limits: how many library seeds feed a catalog, how
// many candidates each seed contributes, and the result cap.
const (
	DefaultSeedLimit      = 10
	DefaultPerSourceLimit = 5
	DefaultMaxResults     = 50
)

// MetadataClient is the slice of the TMDB client the recommendation
// pipeline depends on.
type MetadataClient interface {
	FindByIMDB(ctx context.Context, imdbID string) (int, string, error)
	MovieDetails(ctx context.Context, movieID int) (*tmdb.Details, error)
	TVDetails(ctx context.Context, tvID int) (*tmdb.Details, error)
	Recommendations(ctx context.Context, mediaType string, tmdbID int) ([]tmdb.Candidate, error)
	Similar(ctx context.Context, mediaType string, tmdbID int) ([]tmdb.Candidate, error)
	Discover(ctx context.Context, mediaType, withGenres string) ([]tmdb.Candidate, error)
}

var _ MetadataClient = (*tmdb.Client)(nil)

// Service computes personalized catalogs from library seeds.
type Service struct {
	metadata MetadataClient
}

// NewService creates a recommendation service backed by the given metadata
// client.
func NewService(metadata MetadataClient) *Service {
	return &Service{metadata: metadata}
}

// tmdbMediaType maps the addon media type to TMDB's endpoint segment.
func tmdbMediaType(mediaType string) string {
	if mediaType == models.MediaTypeMovie {
		return "movie"
	}
	return "tv"
}

// stremioMediaType maps TMDB's media type back to the addon's.
func stremioMediaType(tmdbType string) string {
	if tmdbType == "movie" {
		return models.MediaTypeMovie
	}
	return models.MediaTypeSeries
}

// seedOutcome is the tagged result of one seed's candidate fetch. A failed
// seed carries its error and contributes zero candidates; it never aborts
// sibling seeds. index is the seed's position in the source list, used to
// restore source order after the fan-out.
type seedOutcome struct {
	index      int
	seed       models.LibraryItem
	candidates []tmdb.Candidate
	err        error
}

// Aggregate fans out recommendation lookups for every source item, merges
// the results by canonical identifier with additive scoring, applies the
// exclusion set, and returns at most maxResults entries sorted by score
// descending. Empty sources or failure of every seed yields an empty
// slice; aggregation itself never fails.
func (s *Service) Aggregate(ctx context.Context, sources []models.LibraryItem, mediaType string, perSourceLimit, maxResults int, exclusions *ExclusionSet) []models.Meta {
	if len(sources) == 0 {
		return nil
	}
	if exclusions == nil {
		exclusions = NewExclusionSet()
	}
	if maxResults <= 0 {
		maxResults = 50
	}

	// Fan out per-seed fetches. The pool yields results in completion
	// order, so each outcome carries its seed index and is re-sorted;
	// dedupe and score accumulation must follow source order to stay
	// deterministic.
	p := pool.NewWithResults[seedOutcome]()
	for i, seed := range sources {
		i, seed := i, seed
		p.Go(func() seedOutcome {
			candidates, err := s.seedCandidates(ctx, seed, mediaType, perSourceLimit)
			return seedOutcome{index: i, seed: seed, candidates: candidates, err: err}
		})
	}
	outcomes := p.Wait()
	sort.Slice(outcomes, func(a, b int) bool {
		return outcomes[a].index < outcomes[b].index
	})

	// Flatten in seed order, dropping excluded and already-seen numeric
	// ids. Repeat sightings of a kept id are recorded for score merging
	// but hydrated only once. The unique-id cap bounds hydration cost.
	type occurrence struct {
		tmdbID int
		score  float64
	}
	hydrationCap := maxResults * 2
	seen := make(map[int]bool)
	var order []int
	groups := make([][]occurrence, 0, len(outcomes))

	for _, outcome := range outcomes {
		if outcome.err != nil {
			log.Printf("[recommend] seed %s failed: %v", outcome.seed.ID, outcome.err)
			groups = append(groups, nil)
			continue
		}
		var group []occurrence
		for _, candidate := range outcome.candidates {
			if candidate.ID == 0 || exclusions.HasTMDB(candidate.ID) {
				continue
			}
			if !seen[candidate.ID] {
				if len(order) >= hydrationCap {
					continue
				}
				seen[candidate.ID] = true
				order = append(order, candidate.ID)
			}
			group = append(group, occurrence{tmdbID: candidate.ID, score: candidate.VoteAverage})
		}
		groups = append(groups, group)
	}

	details := s.hydrate(ctx, mediaType, order)

	// Merge by canonical id. The first occurrence seeds the score from its
	// rating; later occurrences from other seeds add theirs, so titles
	// recommended by multiple seeds rank higher. Once enough distinct
	// entries have accumulated, later seeds' leftovers are skipped.
	merged := make(map[string]*models.Meta)
	var insertion []string

	for _, group := range groups {
		for _, occ := range group {
			detail := details[occ.tmdbID]
			if detail == nil {
				continue
			}

			canonical := CanonicalID(detail.ResolvedIMDBID(), detail.ID)
			if canonical == "" || detail.DisplayName() == "" {
				continue
			}
			if exclusions.HasIMDB(canonical) || exclusions.HasTMDB(detail.ID) {
				continue
			}

			if existing, ok := merged[canonical]; ok {
				existing.Score += occ.score
				continue
			}

			meta := metaFromDetails(detail, mediaType)
			meta.Score = occ.score
			merged[canonical] = &meta
			insertion = append(insertion, canonical)
		}
		if len(merged) >= maxResults {
			break
		}
	}

	results := make([]models.Meta, 0, len(insertion))
	for _, canonical := range insertion {
		results = append(results, *merged[canonical])
	}

	// Highest score first; ties keep merge-insertion order.
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > maxResults {
		results = results[:maxResults]
	}

	log.Printf("[recommend] aggregated %d recommendations from %d seeds", len(results), len(sources))
	return results
}

// seedCandidates resolves a seed's TMDB id and fetches its raw
// recommendation candidates, capped at perSourceLimit. Seeds that cannot
// be resolved contribute nothing.
func (s *Service) seedCandidates(ctx context.Context, seed models.LibraryItem, mediaType string, perSourceLimit int) ([]tmdb.Candidate, error) {
	imdbID, tmdbID := ParseIdentifier(seed.ID)

	if tmdbID == 0 {
		if imdbID == "" {
			return nil, nil
		}
		id, foundType, err := s.metadata.FindByIMDB(ctx, imdbID)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", imdbID, err)
		}
		if id == 0 {
			return nil, nil
		}
		if foundType != tmdbMediaType(mediaType) {
			log.Printf("[recommend] skipping seed %s: media type %s does not match %s", imdbID, foundType, mediaType)
			return nil, nil
		}
		tmdbID = id
	}

	candidates, err := s.metadata.Recommendations(ctx, tmdbMediaType(mediaType), tmdbID)
	if err != nil {
		return nil, fmt.Errorf("recommendations for %d: %w", tmdbID, err)
	}
	if len(candidates) == 0 {
		// Titles without recommendations often still have similar titles.
		candidates, err = s.metadata.Similar(ctx, tmdbMediaType(mediaType), tmdbID)
		if err != nil {
			return nil, fmt.Errorf("similar for %d: %w", tmdbID, err)
		}
	}
	if perSourceLimit > 0 && len(candidates) > perSourceLimit {
		candidates = candidates[:perSourceLimit]
	}
	return candidates, nil
}

// hydrateOutcome tags one detail fetch so a failed lookup never poisons
// its siblings.
type hydrateOutcome struct {
	tmdbID  int
	details *tmdb.Details
	err     error
}

// hydrate fetches detail records for the given TMDB ids concurrently.
// Failed lookups are logged and dropped.
func (s *Service) hydrate(ctx context.Context, mediaType string, ids []int) map[int]*tmdb.Details {
	if len(ids) == 0 {
		return nil
	}

	p := pool.NewWithResults[hydrateOutcome]()
	for _, id := range ids {
		id := id
		p.Go(func() hydrateOutcome {
			var details *tmdb.Details
			var err error
			if mediaType == models.MediaTypeMovie {
				details, err = s.metadata.MovieDetails(ctx, id)
			} else {
				details, err = s.metadata.TVDetails(ctx, id)
			}
			return hydrateOutcome{tmdbID: id, details: details, err: err}
		})
	}

	results := make(map[int]*tmdb.Details, len(ids))
	for _, outcome := range p.Wait() {
		if outcome.err != nil {
			log.Printf("[recommend] hydration failed for tmdb %d: %v", outcome.tmdbID, outcome.err)
			continue
		}
		results[outcome.tmdbID] = outcome.details
	}
	return results
}

// metaFromDetails converts a hydrated detail record into a catalog entry.
func metaFromDetails(details *tmdb.Details, mediaType string) models.Meta {
	meta := models.Meta{
		ID:          CanonicalID(details.ResolvedIMDBID(), details.ID),
		Type:        mediaType,
		Name:        details.DisplayName(),
		Description: details.Overview,
		IMDBID:      details.ResolvedIMDBID(),
		TMDBID:      details.ID,
	}

	if details.PosterPath != "" {
		meta.Poster = posterBaseURL + details.PosterPath
	}
	if details.BackdropPath != "" {
		meta.Background = backdropBaseURL + details.BackdropPath
	}

	date := details.ReleaseDate
	if date == "" {
		date = details.FirstAirDate
	}
	if len(date) >= 4 {
		meta.ReleaseInfo = date[:4]
	}

	if details.VoteAverage > 0 {
		meta.IMDBRating = fmt.Sprintf("%.1f", details.VoteAverage)
	}

	for _, genre := range details.Genres {
		meta.Genres = append(meta.Genres, genre.Name)
	}

	runtime := details.Runtime
	if runtime == 0 && len(details.EpisodeRunTime) > 0 {
		runtime = details.EpisodeRunTime[0]
	}
	if runtime > 0 {
		meta.Runtime = fmt.Sprintf("%d min", runtime)
	}

	return meta
}

// ForItem returns recommendations for a single title, used by the
// item-specific catalog form.
func (s *Service) ForItem(ctx context.Context, itemID string, limit int) []models.Meta {
	tmdbID, foundType, err := s.metadata.FindByIMDB(ctx, itemID)
	if err != nil || tmdbID == 0 {
		if err != nil {
			log.Printf("[recommend] lookup for %s failed: %v", itemID, err)
		} else {
			log.Printf("[recommend] no tmdb id found for %s", itemID)
		}
		return nil
	}

	mediaType := stremioMediaType(foundType)
	seed := models.LibraryItem{ID: itemID, MediaType: mediaType}
	candidates, err := s.seedCandidates(ctx, seed, mediaType, limit)
	if err != nil {
		log.Printf("[recommend] recommendations for %s failed: %v", itemID, err)
		return nil
	}

	return s.metasFromCandidates(ctx, candidates, mediaType, limit)
}

// GenreCatalog decodes a compact genre token from a catalog id and runs a
// filtered discovery query. Dashes encode AND-matching ("28-12" matches
// both genres), underscores encode OR-matching.
func (s *Service) GenreCatalog(ctx context.Context, token, mediaType string, limit int) []models.Meta {
	filter := strings.ReplaceAll(token, "-", ",")
	filter = strings.ReplaceAll(filter, "_", "|")

	candidates, err := s.metadata.Discover(ctx, tmdbMediaType(mediaType), filter)
	if err != nil {
		log.Printf("[recommend] discover for genres %q failed: %v", token, err)
		return nil
	}
	return s.metasFromCandidates(ctx, candidates, mediaType, limit)
}

// metasFromCandidates hydrates raw candidates into catalog entries,
// dropping anything without a usable title, and keeps candidate order.
func (s *Service) metasFromCandidates(ctx context.Context, candidates []tmdb.Candidate, mediaType string, limit int) []models.Meta {
	var ids []int
	seen := make(map[int]bool)
	for _, candidate := range candidates {
		if candidate.ID == 0 || seen[candidate.ID] {
			continue
		}
		seen[candidate.ID] = true
		ids = append(ids, candidate.ID)
	}

	details := s.hydrate(ctx, mediaType, ids)

	var metas []models.Meta
	for _, id := range ids {
		detail := details[id]
		if detail == nil || detail.DisplayName() == "" {
			continue
		}
		meta := metaFromDetails(detail, mediaType)
		if meta.ID == "" {
			continue
		}
		metas = append(metas, meta)
		if limit > 0 && len(metas) >= limit {
			break
		}
	}
	return metas
}
