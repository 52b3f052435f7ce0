package tmdb

// TMDB genre id tables, used to name genre catalogs and to translate the
// compact genre tokens in catalog ids back into discover filters.

var movieGenreNames = map[int]string{
	28:    "Action",
	12:    "Adventure",
	16:    "Animation",
	35:    "Comedy",
	80:    "Crime",
	99:    "Documentary",
	18:    "Drama",
	10751: "Family",
	14:    "Fantasy",
	36:    "History",
	27:    "Horror",
	10402: "Music",
	9648:  "Mystery",
	10749: "Romance",
	878:   "Science Fiction",
	10770: "TV Movie",
	53:    "Thriller",
	10752: "War",
	37:    "Western",
}

var seriesGenreNames = map[int]string{
	10759: "Action & Adventure",
	16:    "Animation",
	35:    "Comedy",
	80:    "Crime",
	99:    "Documentary",
	18:    "Drama",
	10751: "Family",
	10762: "Kids",
	9648:  "Mystery",
	10763: "News",
	10764: "Reality",
	10765: "Sci-Fi & Fantasy",
	10766: "Soap",
	10767: "Talk",
	10768: "War & Politics",
	37:    "Western",
}

// GenreName returns the display name for a TMDB genre id, or "" if the id
// is unknown for the given media type.
func GenreName(mediaType string, id int) string {
	if mediaType == "movie" {
		return movieGenreNames[id]
	}
	return seriesGenreNames[id]
}
