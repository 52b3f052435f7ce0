package recommend

import (
	"testing"

	"watchly/models"
)

func TestParseIdentifier(t *testing.T) {
	tests := []struct {
		name       string
		identifier string
		wantIMDB   string
		wantTMDB   int
	}{
		{"composite", "tt1000000,tmdb:55", "tt1000000", 55},
		{"composite reversed", "tmdb:55,tt1000000", "tt1000000", 55},
		{"imdb only", "tt1234567", "tt1234567", 0},
		{"tmdb only", "tmdb:55", "", 55},
		{"empty", "", "", 0},
		{"url encoded", "tt1000000%2Ctmdb%3A55", "tt1000000", 55},
		{"first of each kind wins", "tt1,tt2,tmdb:3,tmdb:4", "tt1", 3},
		{"malformed tmdb token", "tmdb:abc,tt7", "tt7", 0},
		{"whitespace", " tt5 , tmdb:6 ", "tt5", 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			imdbID, tmdbID := ParseIdentifier(tt.identifier)
			if imdbID != tt.wantIMDB || tmdbID != tt.wantTMDB {
				t.Fatalf("ParseIdentifier(%q) = %q, %d; want %q, %d",
					tt.identifier, imdbID, tmdbID, tt.wantIMDB, tt.wantTMDB)
			}
		})
	}
}

func TestCanonicalID(t *testing.T) {
	if got := CanonicalID("tt1", 55); got != "tt1" {
		t.Fatalf("CanonicalID with imdb = %q, want tt1", got)
	}
	if got := CanonicalID("", 55); got != "tmdb:55" {
		t.Fatalf("CanonicalID fallback = %q, want tmdb:55", got)
	}
	if got := CanonicalID("", 0); got != "" {
		t.Fatalf("CanonicalID empty = %q, want empty", got)
	}
}

func TestBuildExclusions(t *testing.T) {
	set := BuildExclusions([]models.LibraryItem{
		{ID: "tt1,tmdb:10"},
		{ID: "tt2"},
		{ID: "tmdb:30"},
		{ID: ""},
	})

	if !set.HasIMDB("tt1") || !set.HasIMDB("tt2") {
		t.Fatalf("missing imdb exclusions")
	}
	if !set.HasTMDB(10) || !set.HasTMDB(30) {
		t.Fatalf("missing tmdb exclusions")
	}
	if set.HasIMDB("tt3") || set.HasTMDB(99) {
		t.Fatalf("unexpected exclusions")
	}
	if set.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", set.Len())
	}
}
