package recommend

import (
	"sort"

	"watchly/models"
)

// SelectSources picks the library items that seed recommendation lookups.
// The pool is the watched list when includeWatched is set, otherwise the
// loved list; it is filtered to mediaType, ordered by modification time
// descending (stable, so ties keep their original order), and capped at
// limit. An empty pool yields an empty selection, never an error.
func SelectSources(snapshot models.LibrarySnapshot, mediaType string, limit int, includeWatched bool) []models.LibraryItem {
	pool := snapshot.Loved
	if includeWatched {
		pool = snapshot.Watched
	}

	var sources []models.LibraryItem
	for _, item := range pool {
		if item.MediaType == mediaType {
			sources = append(sources, item)
		}
	}

	sort.SliceStable(sources, func(i, j int) bool {
		return sources[i].ModifiedAt > sources[j].ModifiedAt
	})

	if limit > 0 && len(sources) > limit {
		sources = sources[:limit]
	}
	return sources
}
