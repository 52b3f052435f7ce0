package recommend

import (
	"net/url"
	"strconv"
	"strings"

	"watchly/models"
)

// ParseIdentifier extracts the IMDB and TMDB identifiers from an opaque
// library item id. The id is either a bare IMDB id ("tt1234567"), a bare
// TMDB id ("tmdb:99"), or a comma-separated composite carrying both. The
// first matching token of each kind wins.
func ParseIdentifier(identifier string) (imdbID string, tmdbID int) {
	if identifier == "" {
		return "", 0
	}

	decoded, err := url.QueryUnescape(identifier)
	if err != nil {
		decoded = identifier
	}

	for _, token := range strings.Split(decoded, ",") {
		token = strings.TrimSpace(token)
		if token == "" {
			continue
		}
		switch {
		case strings.HasPrefix(token, "tt") && imdbID == "":
			imdbID = token
		case strings.HasPrefix(token, "tmdb:") && tmdbID == 0:
			if n, err := strconv.Atoi(token[len("tmdb:"):]); err == nil {
				tmdbID = n
			}
		}
		if imdbID != "" && tmdbID != 0 {
			break
		}
	}

	return imdbID, tmdbID
}

// CanonicalID returns a title's dedupe/exclusion key: the IMDB id when
// known, otherwise the TMDB id in its prefixed fallback form. Empty when
// neither is known.
func CanonicalID(imdbID string, tmdbID int) string {
	if imdbID != "" {
		return imdbID
	}
	if tmdbID != 0 {
		return "tmdb:" + strconv.Itoa(tmdbID)
	}
	return ""
}

// ExclusionSet holds identifiers that must never be recommended, in both
// namespaces.
type ExclusionSet struct {
	imdb map[string]struct{}
	tmdb map[int]struct{}
}

// NewExclusionSet creates an empty exclusion set.
func NewExclusionSet() *ExclusionSet {
	return &ExclusionSet{
		imdb: make(map[string]struct{}),
		tmdb: make(map[int]struct{}),
	}
}

// BuildExclusions parses every item's identifier and collects both views.
func BuildExclusions(items []models.LibraryItem) *ExclusionSet {
	set := NewExclusionSet()
	for _, item := range items {
		imdbID, tmdbID := ParseIdentifier(item.ID)
		if imdbID != "" {
			set.imdb[imdbID] = struct{}{}
		}
		if tmdbID != 0 {
			set.tmdb[tmdbID] = struct{}{}
		}
	}
	return set
}

// AddIMDB adds an IMDB id to the set.
func (s *ExclusionSet) AddIMDB(id string) {
	if id != "" {
		s.imdb[id] = struct{}{}
	}
}

// AddTMDB adds a TMDB numeric id to the set.
func (s *ExclusionSet) AddTMDB(id int) {
	if id != 0 {
		s.tmdb[id] = struct{}{}
	}
}

// HasIMDB reports whether the IMDB id is excluded.
func (s *ExclusionSet) HasIMDB(id string) bool {
	_, ok := s.imdb[id]
	return ok
}

// HasTMDB reports whether the TMDB numeric id is excluded.
func (s *ExclusionSet) HasTMDB(id int) bool {
	_, ok := s.tmdb[id]
	return ok
}

// Len returns the number of excluded IMDB identifiers.
func (s *ExclusionSet) Len() int {
	return len(s.imdb)
}
