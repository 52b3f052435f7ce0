package models

// LibraryItem represents one title in the user's remote Stremio library.
// The ID carries one or more identifier namespaces, e.g. "tt1234567" or
// "tt1234567,tmdb:99".
type LibraryItem struct {
	ID         string `json:"_id"`
	MediaType  string `json:"type"` // movie | series
	ModifiedAt string `json:"_mtime,omitempty"`
	Name       string `json:"name"`
}

// LibrarySnapshot holds the filtered views of a user's library.
type LibrarySnapshot struct {
	Watched []LibraryItem `json:"watched"`
	Loved   []LibraryItem `json:"loved"`
}

// Items returns the watched and loved entries as one list, for building
// exclusion sets over the whole library.
func (s LibrarySnapshot) Items() []LibraryItem {
	items := make([]LibraryItem, 0, len(s.Watched)+len(s.Loved))
	items = append(items, s.Watched...)
	items = append(items, s.Loved...)
	return items
}

// CredentialPayload bundles the Stremio credentials stored behind a token.
type CredentialPayload struct {
	Username       string `json:"username,omitempty"`
	Password       string `json:"password,omitempty"`
	AuthKey        string `json:"authKey,omitempty"`
	IncludeWatched bool   `json:"includeWatched"`
}

// HasCredentials reports whether the payload can authenticate at all.
func (p CredentialPayload) HasCredentials() bool {
	return p.AuthKey != "" || (p.Username != "" && p.Password != "")
}
