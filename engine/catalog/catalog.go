// Package catalog holds the read-only in-memory movie catalog loaded from the
// JSON snapshot, and the offline CSV conversion that produces that snapshot.
package catalog

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/WessleyAI/smartflix/engine/domain"
)

// Default pagination values for Page.
const (
	DefaultPage  = 1
	DefaultLimit = 20
)

// Catalog is an immutable, ordered set of movies. It is safe for concurrent
// readers because nothing mutates it after construction.
type Catalog struct {
	movies []domain.Movie
	byID   map[string]int
}

// Page is one slice of the catalog in insertion order.
type Page struct {
	Page   int                   `json:"page"`
	Limit  int                   `json:"limit"`
	Total  int                   `json:"total"`
	Movies []domain.MovieSummary `json:"movies"`
}

// New builds a Catalog from movies, keeping their order. Every record must
// pass domain.ValidateMovie and ids must be unique. Ids are stored in
// canonical UUID form.
func New(movies []domain.Movie) (*Catalog, error) {
	c := &Catalog{
		movies: make([]domain.Movie, len(movies)),
		byID:   make(map[string]int, len(movies)),
	}
	copy(c.movies, movies)
	for i, m := range c.movies {
		if err := domain.ValidateMovie(m); err != nil {
			return nil, fmt.Errorf("catalog: record %d: %w", i, err)
		}
		id := domain.CanonicalID(m.ID)
		if prev, dup := c.byID[id]; dup {
			return nil, fmt.Errorf("catalog: duplicate id %s at records %d and %d", id, prev, i)
		}
		c.movies[i].ID = id
		c.byID[id] = i
	}
	return c, nil
}

// Load reads a JSON snapshot written by WriteJSON.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("catalog: read %s: %w", path, err)
	}
	var movies []domain.Movie
	if err := json.Unmarshal(data, &movies); err != nil {
		return nil, fmt.Errorf("catalog: decode %s: %w", path, err)
	}
	return New(movies)
}

// Len returns the number of records.
func (c *Catalog) Len() int { return len(c.movies) }

// Get returns the movie with the given id.
func (c *Catalog) Get(id string) (domain.Movie, bool) {
	i, ok := c.byID[domain.CanonicalID(id)]
	if !ok {
		return domain.Movie{}, false
	}
	return c.movies[i], true
}

// Contains reports whether id is a catalog record.
func (c *Catalog) Contains(id string) bool {
	_, ok := c.byID[domain.CanonicalID(id)]
	return ok
}

// All returns a copy of every record in order.
func (c *Catalog) All() []domain.Movie {
	out := make([]domain.Movie, len(c.movies))
	copy(out, c.movies)
	return out
}

// Head returns up to the first n records.
func (c *Catalog) Head(n int) []domain.Movie {
	if n > len(c.movies) {
		n = len(c.movies)
	}
	if n <= 0 {
		return []domain.Movie{}
	}
	out := make([]domain.Movie, n)
	copy(out, c.movies[:n])
	return out
}

// Page returns records [(page-1)*limit, page*limit). Non-positive page or
// limit fall back to the defaults. A page past the end is empty, not an error.
func (c *Catalog) Page(page, limit int) Page {
	if page <= 0 {
		page = DefaultPage
	}
	if limit <= 0 {
		limit = DefaultLimit
	}
	p := Page{Page: page, Limit: limit, Total: len(c.movies), Movies: []domain.MovieSummary{}}

	// Compare before multiplying so huge page or limit values cannot overflow.
	n := len(c.movies)
	if n == 0 || page-1 > (n-1)/limit {
		return p
	}
	start := (page - 1) * limit
	end := start + min(limit, n-start)
	for _, m := range c.movies[start:end] {
		p.Movies = append(p.Movies, m.Summary())
	}
	return p
}
