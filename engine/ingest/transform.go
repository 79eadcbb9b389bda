package ingest

import (
	"github.com/WessleyAI/smartflix/engine/domain"
	"github.com/WessleyAI/smartflix/engine/semantic"
)

// EmbedText is the text embedded for a movie: "{title}. {description}".
func EmbedText(m domain.Movie) string {
	return m.Title + ". " + m.Description
}

// Record builds the index entry for a movie and its embedding.
func Record(m domain.Movie, vec []float32) semantic.VectorRecord {
	payload := map[string]any{
		domain.PayloadTitle:       m.Title,
		domain.PayloadDescription: m.Description,
	}
	if m.Genre != "" {
		payload[domain.PayloadGenre] = m.Genre
	}
	if m.Year != nil {
		payload[domain.PayloadYear] = *m.Year
	}
	return semantic.VectorRecord{ID: m.ID, Embedding: vec, Payload: payload}
}
