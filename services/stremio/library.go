package stremio

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/sourcegraph/conc/pool"

	"watchly/internal/memocache"
	"watchly/models"
)

// lovedBatchSize is how many loved-status checks run concurrently before
// the scan re-evaluates its per-type quotas. Batches run strictly in
// sequence so the scan can stop early.
const lovedBatchSize = 20

type rawLibraryItem struct {
	ID    string `json:"_id"`
	Type  string `json:"type"`
	Name  string `json:"name"`
	MTime string `json:"_mtime"`
	State struct {
		TimesWatched int `json:"timesWatched"`
	} `json:"state"`
}

// Library fetches the user's library and returns its watched and loved
// views. The library source is a soft dependency: any failure degrades to
// an empty snapshot rather than propagating.
func (c *Client) Library(ctx context.Context) models.LibrarySnapshot {
	snapshot, err := c.caches.library.Do(memocache.Key(c.cacheScope, "library"), func() (models.LibrarySnapshot, error) {
		return c.fetchLibrary(ctx)
	})
	if err != nil {
		log.Printf("[stremio] library fetch failed, returning empty snapshot: %v", err)
		return models.LibrarySnapshot{}
	}
	return snapshot
}

func (c *Client) fetchLibrary(ctx context.Context) (models.LibrarySnapshot, error) {
	authKey, err := c.AuthKey(ctx)
	if err != nil {
		return models.LibrarySnapshot{}, fmt.Errorf("authenticate: %w", err)
	}

	envelope, err := c.apiPost(ctx, "/api/datastoreGet", map[string]interface{}{
		"authKey":    authKey,
		"collection": "libraryItem",
		"all":        true,
	})
	if err != nil {
		return models.LibrarySnapshot{}, fmt.Errorf("fetch library: %w", err)
	}

	var items []rawLibraryItem
	if len(envelope.Result) > 0 {
		if err := json.Unmarshal(envelope.Result, &items); err != nil {
			return models.LibrarySnapshot{}, fmt.Errorf("decode library: %w", err)
		}
	}
	log.Printf("[stremio] fetched %d library items", len(items))

	// Keep watched, supported, identifiable items only.
	watched := make([]models.LibraryItem, 0, len(items))
	for _, item := range items {
		if item.State.TimesWatched <= 0 {
			continue
		}
		if !models.SupportedMediaType(item.Type) {
			continue
		}
		if !strings.HasPrefix(item.ID, "tt") {
			continue
		}
		watched = append(watched, models.LibraryItem{
			ID:         item.ID,
			MediaType:  item.Type,
			ModifiedAt: item.MTime,
			Name:       item.Name,
		})
	}

	// Most recently modified first. The mtime strings sort
	// lexicographically (RFC 3339).
	sort.SliceStable(watched, func(i, j int) bool {
		return watched[i].ModifiedAt > watched[j].ModifiedAt
	})
	log.Printf("[stremio] filtered %d watched library items", len(watched))

	loved := c.scanLoved(ctx, authKey, watched)
	return models.LibrarySnapshot{Watched: watched, Loved: loved}, nil
}

// scanLoved checks loved status over the watched list in fixed-size
// batches, stopping once the per-type quota is met for both types. This
// bounds the number of status calls by the quota, not the library size.
func (c *Client) scanLoved(ctx context.Context, authKey string, watched []models.LibraryItem) []models.LibraryItem {
	target := c.LovedQuota
	if target <= 0 {
		target = 10
	}

	var loved []models.LibraryItem
	moviesFound, seriesFound := 0, 0

	for start := 0; start < len(watched); start += lovedBatchSize {
		if moviesFound >= target && seriesFound >= target {
			log.Printf("[stremio] found enough loved items, stopping scan")
			break
		}

		end := start + lovedBatchSize
		if end > len(watched) {
			end = len(watched)
		}

		// Only check items of types still under quota.
		var candidates []models.LibraryItem
		for _, item := range watched[start:end] {
			switch item.MediaType {
			case models.MediaTypeMovie:
				if moviesFound < target {
					candidates = append(candidates, item)
				}
			case models.MediaTypeSeries:
				if seriesFound < target {
					candidates = append(candidates, item)
				}
			}
		}
		if len(candidates) == 0 {
			continue
		}

		// The pool yields results in completion order, so each status
		// carries its candidate index and is re-sorted to keep the
		// loved list in library order.
		type lovedStatus struct {
			index int
			loved bool
		}
		p := pool.NewWithResults[lovedStatus]()
		for i, item := range candidates {
			i, item := i, item
			p.Go(func() lovedStatus {
				return lovedStatus{index: i, loved: c.IsLoved(ctx, authKey, item.ID, item.MediaType)}
			})
		}
		statuses := p.Wait()
		sort.Slice(statuses, func(a, b int) bool {
			return statuses[a].index < statuses[b].index
		})

		for _, status := range statuses {
			if !status.loved {
				continue
			}
			item := candidates[status.index]
			loved = append(loved, item)
			switch item.MediaType {
			case models.MediaTypeMovie:
				moviesFound++
			case models.MediaTypeSeries:
				seriesFound++
			}
		}
	}

	log.Printf("[stremio] found %d loved library items (movies: %d, series: %d)", len(loved), moviesFound, seriesFound)
	return loved
}
