package models

// MediaTypeMovie and MediaTypeSeries are the only media types the addon serves.
const (
	MediaTypeMovie  = "movie"
	MediaTypeSeries = "series"
)

// SupportedMediaType reports whether t is a media type the addon serves.
func SupportedMediaType(t string) bool {
	return t == MediaTypeMovie || t == MediaTypeSeries
}

// Meta is a single hydrated catalog entry in the Stremio catalog format.
type Meta struct {
	ID          string   `json:"id"`
	Type        string   `json:"type"`
	Name        string   `json:"name"`
	Poster      string   `json:"poster,omitempty"`
	Background  string   `json:"background,omitempty"`
	Description string   `json:"description,omitempty"`
	ReleaseInfo string   `json:"releaseInfo,omitempty"`
	IMDBRating  string   `json:"imdbRating,omitempty"`
	Genres      []string `json:"genres,omitempty"`
	Runtime     string   `json:"runtime,omitempty"`

	// IMDBID and TMDBID carry the resolved identifiers through the
	// aggregation pipeline. Score accumulates additively when the same
	// title is reached from multiple seeds; it drives the final sort and
	// is never serialized.
	IMDBID string  `json:"-"`
	TMDBID int     `json:"-"`
	Score  float64 `json:"-"`
}

// Catalog is a catalog definition as listed in the addon manifest.
type Catalog struct {
	Type  string       `json:"type"`
	ID    string       `json:"id"`
	Name  string       `json:"name"`
	Extra []ExtraField `json:"extra"`
}

// ExtraField describes additional filtering options for a catalog.
type ExtraField struct {
	Name       string   `json:"name"`
	Options    []string `json:"options,omitempty"`
	IsRequired bool     `json:"isRequired,omitempty"`
}

// CatalogResponse is the body of a catalog endpoint response.
type CatalogResponse struct {
	Metas []Meta `json:"metas"`
}

// ManifestResource describes one resource exposed by the addon.
type ManifestResource struct {
	Name       string   `json:"name"`
	Types      []string `json:"types"`
	IDPrefixes []string `json:"idPrefixes"`
}

// BehaviorHints control how Stremio presents the addon.
type BehaviorHints struct {
	Configurable          bool `json:"configurable"`
	ConfigurationRequired bool `json:"configurationRequired"`
}

// Manifest is the addon manifest served to Stremio.
type Manifest struct {
	ID            string             `json:"id"`
	Version       string             `json:"version"`
	Name          string             `json:"name"`
	Description   string             `json:"description"`
	Logo          string             `json:"logo,omitempty"`
	Resources     []ManifestResource `json:"resources"`
	Types         []string           `json:"types"`
	IDPrefixes    []string           `json:"idPrefixes"`
	Catalogs      []Catalog          `json:"catalogs"`
	BehaviorHints BehaviorHints      `json:"behaviorHints"`
}

// Addon is an entry in the user's Stremio addon collection. Only the
// manifest is inspected here; everything else round-trips untouched.
type Addon struct {
	TransportURL  string                 `json:"transportUrl,omitempty"`
	TransportName string                 `json:"transportName,omitempty"`
	Manifest      map[string]interface{} `json:"manifest"`
	Flags         map[string]interface{} `json:"flags,omitempty"`
}
