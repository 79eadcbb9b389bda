package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"
)

// MaxQueryLength caps free-text search input sent to the embedding provider.
const MaxQueryLength = 1000

// ValidateQuery checks a free-text search string and returns it trimmed.
func ValidateQuery(q string) (string, error) {
	text := strings.TrimSpace(q)
	if text == "" {
		return "", NewValidationError("query", q, ErrInvalidQuery)
	}
	if utf8.RuneCountInString(text) > MaxQueryLength {
		return "", NewValidationError("query", string([]rune(text)[:32])+"...", ErrInvalidQuery)
	}
	return text, nil
}

// ValidateID checks that id is a UUID, the only id form the index accepts.
func ValidateID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return NewValidationError("id", id, ErrInvalidID)
	}
	return nil
}

// CanonicalID returns a UUID in the lowercase hyphenated form the vector
// index reports. Anything that is not a UUID is returned unchanged.
func CanonicalID(id string) string {
	u, err := uuid.Parse(id)
	if err != nil {
		return id
	}
	return u.String()
}

// ValidateMovie checks a catalog record before it enters the catalog or the index.
func ValidateMovie(m Movie) error {
	if err := ValidateID(m.ID); err != nil {
		return err
	}
	if strings.TrimSpace(m.Title) == "" {
		return fmt.Errorf("validate: movie %s: title is empty", m.ID)
	}
	if strings.TrimSpace(m.Description) == "" {
		return fmt.Errorf("validate: movie %s: description is empty", m.ID)
	}
	return nil
}
