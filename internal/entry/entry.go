// Package entry defines the food-log record stored by larder and the
// projections derived from it.
package entry

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"
)

// DateLayout is the calendar-date format used in file names, metadata and
// the JSON representation of an entry.
const DateLayout = "2006-01-02"

// UnknownMealType is the sentinel meal type for entries the producer could
// not classify.
const UnknownMealType = "unknown"

var ErrInvalid = errors.New("invalid entry")

// Entry is one logged food item.
type Entry struct {
	ID           string    `json:"entry_id"`
	FoodName     string    `json:"food_name"`
	Quantity     string    `json:"quantity"`
	Calories     int       `json:"calories"`
	Protein      float64   `json:"protein"`
	Carbs        float64   `json:"carbs"`
	Fats         float64   `json:"fats"`
	Fiber        float64   `json:"fiber"`
	Review       string    `json:"food_review"`
	MealType     string    `json:"meal_type"`
	Timestamp    time.Time `json:"timestamp"`
	OriginalText string    `json:"original_text"`
	Date         string    `json:"date"`
}

// Metadata is the reduced projection of an Entry kept next to its
// embedding in the vector index.
type Metadata struct {
	EntryID     string  `json:"entry_id"`
	Date        string  `json:"date"`
	FoodName    string  `json:"food_name"`
	TextContent string  `json:"text_content"`
	Calories    int     `json:"calories"`
	Protein     float64 `json:"protein"`
	Carbs       float64 `json:"carbs"`
	Fats        float64 `json:"fats"`
	Fiber       float64 `json:"fiber"`
}

// Day parses the entry's Date field.
func (e Entry) Day() (time.Time, error) {
	return ParseDate(e.Date)
}

// SearchableText renders the deterministic text that is embedded for an
// entry logged on day.
func (e Entry) SearchableText(day time.Time) string {
	parts := []string{
		"Date: " + day.Format("2006-01-02 Monday"),
		"Food: " + e.FoodName,
		"Original text: " + e.OriginalText,
		"Calories: " + strconv.Itoa(e.Calories),
		"Protein: " + formatGrams(e.Protein),
		"Carbs: " + formatGrams(e.Carbs),
		"Fats: " + formatGrams(e.Fats),
	}
	if e.Review != "" {
		parts = append(parts, "Review: "+e.Review)
	}
	return strings.Join(parts, " | ")
}

// Project builds the index metadata for the entry. The entry must already
// carry its ID and Date.
func (e Entry) Project(text string) Metadata {
	return Metadata{
		EntryID:     e.ID,
		Date:        e.Date,
		FoodName:    e.FoodName,
		TextContent: text,
		Calories:    e.Calories,
		Protein:     e.Protein,
		Carbs:       e.Carbs,
		Fats:        e.Fats,
		Fiber:       e.Fiber,
	}
}

// Validate checks the invariants a stored entry must satisfy.
func (e Entry) Validate() error {
	if e.Calories < 0 || e.Protein < 0 || e.Carbs < 0 || e.Fats < 0 || e.Fiber < 0 {
		return fmt.Errorf("%w: nutrient values must be non-negative", ErrInvalid)
	}
	for _, v := range []float64{e.Protein, e.Carbs, e.Fats, e.Fiber} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return fmt.Errorf("%w: nutrient values must be finite", ErrInvalid)
		}
	}
	if strings.TrimSpace(e.FoodName) == "" {
		return fmt.Errorf("%w: food name is required", ErrInvalid)
	}
	return nil
}

// FormatID builds the engine-assigned id for the seq-th entry of user on day.
func FormatID(user string, day time.Time, seq int) string {
	return fmt.Sprintf("%s_%s_%d", user, day.Format("20060102"), seq)
}

// ParseIDDate extracts the calendar date embedded in an id produced by
// FormatID. User names may themselves contain underscores, so the date is
// read from the second-to-last token.
func ParseIDDate(id string) (time.Time, bool) {
	parts := strings.Split(id, "_")
	if len(parts) < 3 {
		return time.Time{}, false
	}
	if _, err := strconv.Atoi(parts[len(parts)-1]); err != nil {
		return time.Time{}, false
	}
	day, err := time.Parse("20060102", parts[len(parts)-2])
	if err != nil {
		return time.Time{}, false
	}
	return day, true
}

// ParseDate parses a YYYY-MM-DD calendar date.
func ParseDate(s string) (time.Time, error) {
	d, err := time.Parse(DateLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return d, nil
}

// Truncate returns the calendar day of t, in t's location, as a UTC midnight.
func Truncate(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func formatGrams(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64) + "g"
}
