package entry

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"
)

// Draft is the record handed over by the structured-entry producer. Every
// field is optional; Resolve fills the gaps once.
type Draft struct {
	EntryID      string   `json:"entry_id,omitempty" yaml:"entry_id,omitempty"`
	FoodName     *string  `json:"food_name,omitempty" yaml:"food_name,omitempty"`
	Quantity     *string  `json:"quantity,omitempty" yaml:"quantity,omitempty"`
	Calories     *float64 `json:"calories,omitempty" yaml:"calories,omitempty"`
	Protein      *float64 `json:"protein,omitempty" yaml:"protein,omitempty"`
	Carbs        *float64 `json:"carbs,omitempty" yaml:"carbs,omitempty"`
	Fats         *float64 `json:"fats,omitempty" yaml:"fats,omitempty"`
	Fiber        *float64 `json:"fiber,omitempty" yaml:"fiber,omitempty"`
	Review       *string  `json:"food_review,omitempty" yaml:"food_review,omitempty"`
	MealType     *string  `json:"meal_type,omitempty" yaml:"meal_type,omitempty"`
	OriginalText string   `json:"original_text,omitempty" yaml:"original_text,omitempty"`
}

// Defaults applied by Resolve for missing draft fields.
var Defaults = Entry{
	FoodName: "Unknown Food Item",
	Quantity: "1 serving",
	Calories: 200,
	Protein:  10,
	Carbs:    20,
	Fats:     8,
	Fiber:    3,
	Review:   "Nutritional information estimated",
	MealType: UnknownMealType,
}

// Resolve converts the draft into an Entry. Calories are truncated to an
// integer and the macros rounded to one decimal.
func (d Draft) Resolve() (Entry, error) {
	e := Defaults
	e.ID = strings.TrimSpace(d.EntryID)
	e.OriginalText = d.OriginalText

	if d.FoodName != nil && strings.TrimSpace(*d.FoodName) != "" {
		e.FoodName = strings.TrimSpace(*d.FoodName)
	}
	if d.Quantity != nil && *d.Quantity != "" {
		e.Quantity = *d.Quantity
	}
	if d.Review != nil {
		e.Review = *d.Review
	}
	if d.MealType != nil && *d.MealType != "" {
		e.MealType = strings.ToLower(*d.MealType)
	}
	if d.Calories != nil {
		e.Calories = int(*d.Calories)
	}
	if d.Protein != nil {
		e.Protein = round1(*d.Protein)
	}
	if d.Carbs != nil {
		e.Carbs = round1(*d.Carbs)
	}
	if d.Fats != nil {
		e.Fats = round1(*d.Fats)
	}
	if d.Fiber != nil {
		e.Fiber = round1(*d.Fiber)
	}

	if err := e.Validate(); err != nil {
		return Entry{}, err
	}
	return e, nil
}

// LoadDrafts reads a list of drafts from a JSON or YAML file.
func LoadDrafts(path string) ([]Draft, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if err != nil {
		return nil, fmt.Errorf("failed to read drafts file: %w", err)
	}

	var drafts []Draft
	ext := strings.ToLower(filepath.Ext(path))

	switch ext {
	case ".json":
		if err := json.Unmarshal(data, &drafts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal JSON drafts: %w", err)
		}
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &drafts); err != nil {
			return nil, fmt.Errorf("failed to unmarshal YAML drafts: %w", err)
		}
	default:
		return nil, fmt.Errorf("unsupported drafts format: %s (use .json or .yaml)", ext)
	}

	return drafts, nil
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
