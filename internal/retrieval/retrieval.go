// Package retrieval ranks a user's indexed entries against a free-text
// query and formats the matches as grounding context for a chat model.
package retrieval

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/felixgeelhaar/larder/internal/entry"
	"github.com/felixgeelhaar/larder/internal/vectorindex"
)

const (
	// RangeTopK is the result budget for queries naming a date range.
	RangeTopK = 20
	// DefaultTopK is the result budget for unrestricted queries.
	DefaultTopK = 10

	NoMatches = "I don't have any food log entries matching your query."
)

// Result is an indexed entry with its similarity to the query.
type Result struct {
	entry.Metadata
	Similarity float64 `json:"similarity"`
}

// Loader reads a user's vector index.
type Loader interface {
	Load(user string) (*vectorindex.Data, error)
}

// Searcher answers similarity queries over a vector index.
type Searcher struct {
	index    Loader
	embedder vectorindex.Embedder
	now      func() time.Time
}

// NewSearcher creates a Searcher. The embedder must be the one used to
// build the index.
func NewSearcher(index Loader, embedder vectorindex.Embedder) *Searcher {
	return &Searcher{
		index:    index,
		embedder: embedder,
		now:      time.Now,
	}
}

// Search ranks every entry of user by cosine similarity to query, highest
// first, keeping insertion order among equal scores. When r is non-nil,
// entries outside it are dropped before the list is cut to topK.
func (s *Searcher) Search(ctx context.Context, user, query string, r *DateRange, topK int) ([]Result, error) {
	d, err := s.index.Load(user)
	if err != nil {
		return nil, err
	}
	if d.Len() == 0 {
		return nil, nil
	}

	q := s.embedder.Embed(ctx, query)

	results := make([]Result, 0, d.Len())
	for i, v := range d.Vectors {
		m := d.Metadata[i]
		if r != nil && !r.Contains(m.Date) {
			continue
		}
		results = append(results, Result{Metadata: m, Similarity: Cosine(q, v)})
	}

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Similarity > results[j].Similarity
	})

	if topK > 0 && len(results) > topK {
		results = results[:topK]
	}
	return results, nil
}

// Query is the retrieval-augmented entry point: it picks a date range from
// the text when one is named and returns the formatted context.
func (s *Searcher) Query(ctx context.Context, user, text string) (string, error) {
	var (
		results []Result
		err     error
	)
	if r, ok := ParseDateRange(text, s.now()); ok {
		results, err = s.Search(ctx, user, text, &r, RangeTopK)
	} else {
		results, err = s.Search(ctx, user, text, nil, DefaultTopK)
	}
	if err != nil {
		return "", err
	}
	if len(results) == 0 {
		return NoMatches, nil
	}
	return FormatContext(results, text), nil
}

// FormatContext renders results as one block per entry followed by a
// summary of their nutrient totals.
func FormatContext(results []Result, query string) string {
	if len(results) == 0 {
		return "No food entries found."
	}

	var (
		sb                          strings.Builder
		calories                    int
		protein, carbs, fats, fiber float64
	)

	sb.WriteString("Based on your food log entries, here's what I found:\n\nFOOD ENTRIES:\n")
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n")
		}
		fmt.Fprintf(&sb, "Date: %s\nFood: %s\nCalories: %d\n", r.Date, r.FoodName, r.Calories)
		fmt.Fprintf(&sb, "Protein: %sg, Carbs: %sg, Fats: %sg, Fiber: %sg\n",
			num(r.Protein), num(r.Carbs), num(r.Fats), num(r.Fiber))
		fmt.Fprintf(&sb, "Original: %s\n", r.TextContent)

		calories += r.Calories
		protein += r.Protein
		carbs += r.Carbs
		fats += r.Fats
		fiber += r.Fiber
	}

	sb.WriteString("\nSUMMARY:\n")
	fmt.Fprintf(&sb, "Total entries found: %d\n", len(results))
	fmt.Fprintf(&sb, "Total calories: %d\n", calories)
	fmt.Fprintf(&sb, "Total protein: %sg\n", num(protein))
	fmt.Fprintf(&sb, "Total carbs: %sg\n", num(carbs))
	fmt.Fprintf(&sb, "Total fats: %sg\n", num(fats))
	fmt.Fprintf(&sb, "Total fiber: %sg\n", num(fiber))
	fmt.Fprintf(&sb, "\nOriginal query: %s", query)
	return sb.String()
}

var historyKeywords = []string{
	"what did i eat", "what have i eaten", "my food", "food log",
	"today", "yesterday", "this week", "last week", "this month",
	"calories consumed", "protein intake", "carbs", "nutrition summary",
	"meal history", "diet", "food diary",
}

// IsHistoryQuery reports whether text asks about the user's own log.
func IsHistoryQuery(text string) bool {
	lower := strings.ToLower(text)
	for _, k := range historyKeywords {
		if strings.Contains(lower, k) {
			return true
		}
	}
	return false
}

// Cosine returns dot(a,b)/(|a||b|), or 0 when either vector has zero norm
// or the lengths differ.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		x, y := float64(a[i]), float64(b[i])
		dot += x * y
		na += x * x
		nb += y * y
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}

func num(v float64) string {
	return strconv.FormatFloat(math.Round(v*10)/10, 'f', -1, 64)
}
