package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
)

// DefaultTokenSalt is the placeholder shipped in examples. Storing
// credentials while the salt still has this value is refused.
const DefaultTokenSalt = "change-me"

// Settings holds the application configuration loaded from environment
// variables.
type Settings struct {
	TMDBAPIKey string
	Port       int

	AddonID      string
	AddonName    string
	HostName     string
	LogoURL      string
	Announcement string

	TokenSalt       string
	TokenTTLSeconds int

	AutoUpdateCatalogs     bool
	RefreshIntervalSeconds int

	// RecommendationSourceLimit is the per-type quota of loved items the
	// library scan stops at.
	RecommendationSourceLimit int

	DatabasePath string
	LogPath      string
}

// Load reads settings from the environment, applying defaults for anything
// unset.
func Load() (*Settings, error) {
	s := &Settings{
		TMDBAPIKey:                os.Getenv("TMDB_API_KEY"),
		Port:                      envInt("PORT", 8000),
		AddonID:                   envString("ADDON_ID", "com.bimal.watchly"),
		AddonName:                 envString("ADDON_NAME", "Watchly"),
		HostName:                  strings.TrimRight(os.Getenv("HOST_NAME"), "/"),
		LogoURL:                   envString("ADDON_LOGO", "https://raw.githubusercontent.com/TimilsinaBimal/Watchly/refs/heads/main/static/logo.png"),
		Announcement:              os.Getenv("ANNOUNCEMENT_HTML"),
		TokenSalt:                 envString("TOKEN_SALT", DefaultTokenSalt),
		TokenTTLSeconds:           envInt("TOKEN_TTL_SECONDS", 0),
		AutoUpdateCatalogs:        envBool("AUTO_UPDATE_CATALOGS", true),
		RefreshIntervalSeconds:    envInt("CATALOG_REFRESH_INTERVAL_SECONDS", 21600),
		RecommendationSourceLimit: envInt("RECOMMENDATION_SOURCE_ITEMS_LIMIT", 10),
		DatabasePath:              envString("DATABASE_PATH", "data/watchly.db"),
		LogPath:                   os.Getenv("LOG_PATH"),
	}

	if s.Port <= 0 || s.Port > 65535 {
		return nil, fmt.Errorf("invalid PORT %d", s.Port)
	}
	if s.RecommendationSourceLimit <= 0 {
		s.RecommendationSourceLimit = 10
	}

	return s, nil
}

// HasSecureSalt reports whether the token salt has been set to a
// non-default value.
func (s *Settings) HasSecureSalt() bool {
	return s.TokenSalt != "" && s.TokenSalt != DefaultTokenSalt
}

func envString(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return v
}

func envBool(key string, fallback bool) bool {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return fallback
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return v
}
