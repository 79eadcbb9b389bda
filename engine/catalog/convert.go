package catalog

import (
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"

	"github.com/WessleyAI/smartflix/engine/domain"
	"github.com/google/uuid"
)

// Source CSV column names (IMDB export).
const (
	ColTitle       = "names"
	ColDescription = "overview"
	ColGenre       = "genre"
	ColDate        = "date_x"
)

// trailingYear matches the year at the end of an MM/DD/YYYY date.
var trailingYear = regexp.MustCompile(`\d{4}$`)

// NewID is the default id generator for ConvertCSV.
func NewID() string { return uuid.NewString() }

// ConvertCSV reads the IMDB CSV export and returns catalog records in file
// order. Rows without a title or description are skipped. newID defaults to
// NewID when nil.
func ConvertCSV(r io.Reader, newID func() string) ([]domain.Movie, error) {
	if newID == nil {
		newID = NewID
	}

	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.LazyQuotes = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("catalog: read csv header: %w", err)
	}
	cols := make(map[string]int, len(header))
	for i, h := range header {
		cols[strings.TrimSpace(strings.TrimPrefix(h, "\ufeff"))] = i
	}
	for _, required := range []string{ColTitle, ColDescription} {
		if _, ok := cols[required]; !ok {
			return nil, fmt.Errorf("catalog: csv missing column %q", required)
		}
	}

	field := func(row []string, name string) string {
		i, ok := cols[name]
		if !ok || i >= len(row) {
			return ""
		}
		return strings.TrimSpace(row[i])
	}

	var movies []domain.Movie
	for line := 2; ; line++ {
		row, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("catalog: csv line %d: %w", line, err)
		}

		title, desc := field(row, ColTitle), field(row, ColDescription)
		if title == "" || desc == "" {
			continue
		}
		movies = append(movies, domain.Movie{
			ID:          newID(),
			Title:       title,
			Description: desc,
			Genre:       field(row, ColGenre),
			Year:        parseYear(field(row, ColDate)),
		})
	}
	return movies, nil
}

func parseYear(date string) *int {
	m := trailingYear.FindString(date)
	if m == "" {
		return nil
	}
	y, err := strconv.Atoi(m)
	if err != nil {
		return nil
	}
	return &y
}

// WriteJSON writes movies as the indented JSON snapshot Load reads.
func WriteJSON(w io.Writer, movies []domain.Movie) error {
	if movies == nil {
		movies = []domain.Movie{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(movies); err != nil {
		return fmt.Errorf("catalog: encode json: %w", err)
	}
	return nil
}
