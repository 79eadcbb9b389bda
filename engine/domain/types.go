// Package domain defines the movie catalog types, the error taxonomy shared by
// the orchestrators and the HTTP layer, and input validation.
package domain

// Movie is a single catalog record. ID is assigned once at conversion time and
// never recomputed.
type Movie struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Genre       string `json:"genre"`
	Year        *int   `json:"year"`
}

// Summary returns the list projection of m.
func (m Movie) Summary() MovieSummary {
	return MovieSummary{ID: m.ID, Title: m.Title}
}

// MovieSummary is the projection served by the paginated movie list.
type MovieSummary struct {
	ID    string `json:"id"`
	Title string `json:"title"`
}

// SearchResult is a single hit from a free-text search or a recommendation.
// Score is the index similarity; higher is more similar.
type SearchResult struct {
	ID          string  `json:"id"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Score       float32 `json:"score"`
}

// Payload keys stored alongside each vector in the index.
const (
	PayloadTitle       = "title"
	PayloadDescription = "description"
	PayloadGenre       = "genre"
	PayloadYear        = "year"
)
