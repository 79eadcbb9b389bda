package semantic

// Match is a single similarity hit, ordered by descending Score.
type Match struct {
	ID          string  `json:"id"`
	Score       float32 `json:"score"`
	Title       string  `json:"title"`
	Description string  `json:"description"`
	Genre       string  `json:"genre,omitempty"`
	Year        *int    `json:"year,omitempty"`
}

// VectorRecord represents a single vector to store in Qdrant.
type VectorRecord struct {
	ID        string
	Embedding []float32
	Payload   map[string]any // title, description, genre, year
}

// Config locates the Qdrant gRPC endpoint.
type Config struct {
	Addr       string
	APIKey     string
	TLS        bool
	Collection string
}
