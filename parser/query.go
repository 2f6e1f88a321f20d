package parser

import (
	"fmt"
	"math"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/aluiziolira/openbox-deals/models"
)

// Query limits.
const (
	MinQueryLen     = 2
	MaxQueryLen     = 100
	MaxPriceCeiling = 100000
)

// ValidationError reports bad search input. It is returned before any work
// starts.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

var (
	unsafeQueryChars = regexp.MustCompile(`[<>"';\\\x00-\x1f\x7f]`)
	alphanumeric     = regexp.MustCompile(`[a-zA-Z0-9]`)
)

// ParseQuery validates and sanitizes raw user input into a Query.
func ParseQuery(raw string, maxPrice *float64) (models.Query, error) {
	if utf8.RuneCountInString(raw) > MaxQueryLen {
		return models.Query{}, &ValidationError{Field: "query", Reason: fmt.Sprintf("too long (max %d chars)", MaxQueryLen)}
	}

	text := strings.TrimSpace(unsafeQueryChars.ReplaceAllString(raw, ""))
	if !alphanumeric.MatchString(text) {
		return models.Query{}, &ValidationError{Field: "query", Reason: "must contain alphanumeric characters"}
	}
	if utf8.RuneCountInString(text) < MinQueryLen {
		return models.Query{}, &ValidationError{Field: "query", Reason: fmt.Sprintf("too short (min %d chars)", MinQueryLen)}
	}

	q := models.Query{Text: text}
	if maxPrice != nil {
		v := *maxPrice
		if math.IsNaN(v) || math.IsInf(v, 0) || v < 0 || v > MaxPriceCeiling {
			return models.Query{}, &ValidationError{Field: "max_price", Reason: fmt.Sprintf("must be between 0 and %d", MaxPriceCeiling)}
		}
		q.MaxPrice = &v
	}
	return q, nil
}
