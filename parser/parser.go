// Package parser normalizes raw upstream catalog fields into the shared item schema.
package parser

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aluiziolira/go-critic/models"
	"github.com/go-playground/validator/v10"
)

// MaxRating is the top of the shared rating scale.
const MaxRating = 10.0

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func itemValidator() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
	})
	return validate
}

// ValidateDetails ensures normalized details fit the persisted schema.
func ValidateDetails(d *models.ItemDetails) error {
	if d == nil {
		return errors.New("details are nil")
	}
	if err := itemValidator().Struct(d); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			first := verrs[0]
			return fmt.Errorf("item %s: field %s failed %q", d.ItemID, strings.ToLower(first.Field()), first.Tag())
		}
		return fmt.Errorf("item %s: %w", d.ItemID, err)
	}
	return nil
}

// OrUnknown returns the trimmed value, or the unknown marker when it is blank.
func OrUnknown(value string) string {
	value = strings.TrimSpace(value)
	if value == "" || strings.EqualFold(value, "null") {
		return models.Unknown
	}
	return value
}

// SplitNames splits a comma separated list of names.
func SplitNames(list string) []string {
	parts := strings.Split(list, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		out = append(out, strings.TrimSpace(part))
	}
	return out
}

// JoinUnique joins names into a display string with set semantics.
// Blank names and the unknown marker are dropped; first occurrence wins.
func JoinUnique(names ...string) string {
	seen := make(map[string]struct{}, len(names))
	out := make([]string, 0, len(names))
	for _, name := range names {
		name = strings.TrimSpace(name)
		if name == "" || name == models.Unknown {
			continue
		}
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		out = append(out, name)
	}
	return strings.Join(out, ", ")
}

// YearFromDate reduces a YYYY-MM-DD release date to its four-digit year.
func YearFromDate(date string) string {
	date = strings.TrimSpace(date)
	if date == "" || strings.EqualFold(date, "null") {
		return models.Unknown
	}
	if !strings.Contains(date, "-") {
		return date
	}
	if parsed, err := time.Parse("2006-01-02", date); err == nil {
		return strconv.Itoa(parsed.Year())
	}
	if len(date) >= 4 {
		if _, err := strconv.Atoi(date[:4]); err == nil {
			return date[:4]
		}
	}
	return models.Unknown
}

// YearSpan normalizes a display year such as "2008–2013" or "2008–" to
// ASCII hyphen form without an open-ended trailing separator.
func YearSpan(raw string) string {
	raw = strings.TrimSpace(raw)
	raw = strings.NewReplacer("–", "-", "—", "-").Replace(raw)
	raw = strings.TrimRight(raw, "- ")
	if raw == "" || raw == models.Unknown || strings.EqualFold(raw, "null") {
		return models.Unknown
	}
	return raw
}

// YearRange formats a start year and optional end year. Serialized works
// that ended in a later year render as "start-end".
func YearRange(from, to *int) string {
	if from == nil || *from <= 0 {
		return models.Unknown
	}
	year := strconv.Itoa(*from)
	if to != nil && *to > 0 && *to != *from {
		year += "-" + strconv.Itoa(*to)
	}
	return year
}

// ScaleRating rescales a raw score onto the 0-10 scale and formats it.
func ScaleRating(raw, factor float64) string {
	if math.IsNaN(raw) || math.IsInf(raw, 0) {
		return models.Unknown
	}
	scaled := raw * factor
	if scaled < 0 {
		scaled = 0
	}
	if scaled > MaxRating {
		scaled = MaxRating
	}
	scaled = math.Round(scaled*100) / 100
	return strconv.FormatFloat(scaled, 'f', -1, 64)
}

// NormalizeRating validates a rating that is already on the 0-10 scale.
func NormalizeRating(rating string) string {
	rating = strings.TrimSpace(rating)
	value, err := strconv.ParseFloat(rating, 64)
	if err != nil {
		return models.Unknown
	}
	return ScaleRating(value, 1)
}
