package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/felixgeelhaar/larder/internal/embedding"
	"github.com/felixgeelhaar/larder/internal/entry"
	"github.com/felixgeelhaar/larder/internal/ledger"
	"github.com/felixgeelhaar/larder/internal/observe"
	"github.com/felixgeelhaar/larder/internal/vectorindex"
)

func newEngine(t *testing.T, opts Options) (*Engine, string) {
	t.Helper()
	dir := t.TempDir()
	emb, err := embedding.New(nil, embedding.Config{Dimensions: 32}, nil)
	if err != nil {
		t.Fatalf("embedding.New failed: %v", err)
	}
	t.Cleanup(emb.Close)
	return New(dir, emb, opts), dir
}

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func ids(entries []entry.Entry) []string {
	var out []string
	for _, e := range entries {
		out = append(out, e.ID)
	}
	return out
}

func TestEngine_StoreReadDelete(t *testing.T) {
	e, _ := newEngine(t, Options{})
	ctx := context.Background()

	idA, err := e.Store(ctx, "alice", entry.Entry{FoodName: "Oatmeal", Calories: 300, OriginalText: "oats"}, day(2024, 1, 1))
	if err != nil {
		t.Fatalf("Store A failed: %v", err)
	}
	idB, err := e.Store(ctx, "alice", entry.Entry{FoodName: "Salad", Calories: 150}, day(2024, 1, 2))
	if err != nil {
		t.Fatalf("Store B failed: %v", err)
	}
	if idA != "alice_20240101_1" || idB != "alice_20240102_1" {
		t.Errorf("unexpected ids %s %s", idA, idB)
	}

	got, err := e.ReadRange("alice", day(2024, 1, 1), day(2024, 1, 2))
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if strings.Join(ids(got), ",") != idA+","+idB {
		t.Fatalf("expected [A B], got %v", ids(got))
	}
	if got[0].FoodName != "Oatmeal" || got[0].Calories != 300 || got[0].OriginalText != "oats" {
		t.Errorf("fields did not round trip: %+v", got[0])
	}

	ok, err := e.Delete(ctx, "alice", idA)
	if err != nil || !ok {
		t.Fatalf("Delete(A) = %v, %v", ok, err)
	}

	got, _ = e.ReadRange("alice", day(2024, 1, 1), day(2024, 1, 2))
	if len(got) != 1 || got[0].ID != idB {
		t.Errorf("expected [B], got %v", ids(got))
	}

	r, err := e.Verify("alice")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !r.Consistent() || r.Vectors != 1 || r.Entries != 1 {
		t.Errorf("unexpected report %+v", r)
	}

	ok, err = e.Delete(ctx, "alice", idA)
	if err != nil || ok {
		t.Errorf("second Delete(A) = %v, %v; want false, nil", ok, err)
	}
}

func TestEngine_SearchFindsStoredEntry(t *testing.T) {
	e, _ := newEngine(t, Options{})
	ctx := context.Background()

	e.Store(ctx, "alice", entry.Entry{FoodName: "Oatmeal"}, day(2024, 1, 1))
	id, _ := e.Store(ctx, "alice", entry.Entry{FoodName: "Ramen", Calories: 500}, day(2024, 1, 2))

	text := entry.Entry{FoodName: "Ramen", Calories: 500}.SearchableText(day(2024, 1, 2))
	results, err := e.Search(ctx, "alice", text, nil, 10)
	if err != nil {
		t.Fatalf("Search failed: %v", err)
	}
	if len(results) != 2 || results[0].EntryID != id {
		t.Fatalf("expected %s first, got %+v", id, results)
	}
	if results[0].Similarity < 0.999999 {
		t.Errorf("expected similarity 1, got %v", results[0].Similarity)
	}

	out, err := e.Query(ctx, "alice", "how's my diet")
	if err != nil {
		t.Fatalf("Query failed: %v", err)
	}
	if !strings.Contains(out, "Total entries found: 2") {
		t.Errorf("unexpected context:\n%s", out)
	}
}

func TestEngine_AsyncIndexing(t *testing.T) {
	e, _ := newEngine(t, Options{Async: true})
	ctx, cancel := context.WithCancel(context.Background())

	var mu sync.Mutex
	indexed := 0
	e.Events().Subscribe(EventEntryIndexed, func(Event) {
		mu.Lock()
		indexed++
		mu.Unlock()
	})

	var stored []string
	for i := 0; i < 5; i++ {
		id, err := e.Store(ctx, "bob", entry.Entry{FoodName: fmt.Sprintf("item %d", i)}, day(2024, 3, 1))
		if err != nil {
			t.Fatalf("Store failed: %v", err)
		}
		stored = append(stored, id)
	}
	// Background writes must survive the caller going away.
	cancel()
	e.Flush()

	mu.Lock()
	if indexed != 5 {
		t.Errorf("expected 5 indexed events, got %d", indexed)
	}
	mu.Unlock()

	ok, err := e.Delete(context.Background(), "bob", stored[4])
	if err != nil || !ok {
		t.Errorf("Delete after async store = %v, %v", ok, err)
	}

	r, _ := e.Verify("bob")
	if !r.Consistent() || r.Entries != 4 {
		t.Errorf("unexpected report %+v", r)
	}
}

func TestEngine_DeleteWaitsForPendingIndex(t *testing.T) {
	e, _ := newEngine(t, Options{Async: true})
	ctx := context.Background()

	id, err := e.Store(ctx, "carol", entry.Entry{FoodName: "Toast"}, day(2024, 4, 1))
	if err != nil {
		t.Fatalf("Store failed: %v", err)
	}
	// No Flush: Delete itself must wait for the background write.
	ok, err := e.Delete(ctx, "carol", id)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v; want true", ok, err)
	}
}

func TestEngine_ConcurrentStores(t *testing.T) {
	e, _ := newEngine(t, Options{})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 12; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if _, err := e.Store(ctx, "dave", entry.Entry{FoodName: fmt.Sprintf("snack %d", i)}, day(2024, 6, 1)); err != nil {
				t.Errorf("Store failed: %v", err)
			}
		}(i)
	}
	wg.Wait()

	r, err := e.Verify("dave")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !r.Consistent() || r.Entries != 12 || r.Vectors != 12 {
		t.Errorf("unexpected report %+v", r)
	}

	got, _ := e.ReadRange("dave", day(2024, 6, 1), day(2024, 6, 1))
	seen := map[string]bool{}
	for _, en := range got {
		if seen[en.ID] {
			t.Errorf("duplicate id %s", en.ID)
		}
		seen[en.ID] = true
	}
}

func TestEngine_AsyncStoreWithConcurrentDelete(t *testing.T) {
	e, _ := newEngine(t, Options{Async: true})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			if _, err := e.Store(ctx, "alice", entry.Entry{FoodName: fmt.Sprintf("bite %d", i)}, day(2024, 7, 1)); err != nil {
				t.Errorf("Store failed: %v", err)
			}
		}(i)
		go func() {
			defer wg.Done()
			if ok, err := e.Delete(ctx, "alice", "nope"); ok || err != nil {
				t.Errorf("Delete(nope) = %v, %v", ok, err)
			}
		}()
	}
	wg.Wait()
	e.Flush()

	r, err := e.Verify("alice")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if !r.Consistent() || r.Entries != 50 || r.Vectors != 50 {
		t.Errorf("unexpected report %+v", r)
	}
}

func TestEngine_FlushWithConcurrentStores(t *testing.T) {
	e, _ := newEngine(t, Options{Async: true})
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func(i int) {
			defer wg.Done()
			e.Store(ctx, "bob", entry.Entry{FoodName: fmt.Sprintf("crumb %d", i)}, day(2024, 7, 2))
		}(i)
		go func() {
			defer wg.Done()
			e.Flush()
		}()
	}
	wg.Wait()
	e.Flush()

	r, _ := e.Verify("bob")
	if r.Vectors != 20 {
		t.Errorf("expected 20 indexed entries after Flush, got %+v", r)
	}
}

func TestEngine_RejectsDuplicateExplicitID(t *testing.T) {
	testCases := []struct {
		name  string
		async bool
	}{
		{"sync", false},
		{"async", true},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			e, _ := newEngine(t, Options{Async: tc.async})
			ctx := context.Background()

			if _, err := e.Store(ctx, "alice", entry.Entry{ID: "meal-1", FoodName: "Soup"}, day(2024, 8, 1)); err != nil {
				t.Fatalf("first Store failed: %v", err)
			}
			_, err := e.Store(ctx, "alice", entry.Entry{ID: "meal-1", FoodName: "Bread"}, day(2024, 8, 2))
			if !errors.Is(err, entry.ErrInvalid) {
				t.Fatalf("expected ErrInvalid for duplicate id, got %v", err)
			}

			ok, err := e.Delete(ctx, "alice", "meal-1")
			if err != nil || !ok {
				t.Fatalf("Delete = %v, %v", ok, err)
			}
			r, err := e.Verify("alice")
			if err != nil {
				t.Fatalf("Verify failed: %v", err)
			}
			if !r.Consistent() || r.Entries != 0 || r.Vectors != 0 {
				t.Errorf("expected empty consistent report, got %+v", r)
			}
		})
	}
}

func TestEngine_RejectsIDPresentOnlyInLedger(t *testing.T) {
	e, dir := newEngine(t, Options{})
	ctx := context.Background()

	l := ledger.New(dir)
	if _, err := l.Append("alice", day(2024, 8, 1), &entry.Entry{ID: "meal-2", FoodName: "Rice"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	_, err := e.Store(ctx, "alice", entry.Entry{ID: "meal-2", FoodName: "Beans"}, day(2024, 8, 3))
	if !errors.Is(err, entry.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
}

func TestEngine_DeleteLegacyMetadataWithoutDate(t *testing.T) {
	e, dir := newEngine(t, Options{})
	ctx := context.Background()

	id, _ := e.Store(ctx, "erin", entry.Entry{FoodName: "Soup"}, day(2024, 2, 29))

	// Strip the date from the index record to mimic data written before it
	// was recorded.
	x := vectorindex.New(dir, nil)
	d, err := x.Load("erin")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	d.Metadata[0].Date = ""
	if err := x.Save("erin", d); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	ok, err := e.Delete(ctx, "erin", id)
	if err != nil || !ok {
		t.Fatalf("Delete = %v, %v", ok, err)
	}
	left, _ := e.ReadRange("erin", day(2024, 2, 29), day(2024, 2, 29))
	if len(left) != 0 {
		t.Errorf("expected ledger entry to be removed via id date, got %v", ids(left))
	}
}

func TestEngine_DeleteUnknownPublishesMiss(t *testing.T) {
	e, _ := newEngine(t, Options{})
	var got []Event
	e.Events().SubscribeAll(func(ev Event) { got = append(got, ev) })

	ok, err := e.Delete(context.Background(), "frank", "frank_20240101_1")
	if err != nil || ok {
		t.Fatalf("Delete = %v, %v; want false, nil", ok, err)
	}
	if len(got) != 1 || got[0].Type != EventDeleteMissed || got[0].EntryID != "frank_20240101_1" {
		t.Errorf("unexpected events %+v", got)
	}
}

func TestEngine_CorruptIndexIsHardFailure(t *testing.T) {
	e, dir := newEngine(t, Options{})
	ctx := context.Background()
	e.Store(ctx, "gina", entry.Entry{FoodName: "Rice"}, day(2024, 1, 1))

	os.WriteFile(filepath.Join(dir, "vectors", "gina", "metadata.json"), []byte("[]"), 0600)

	if _, err := e.Search(ctx, "gina", "rice", nil, 10); !errors.Is(err, vectorindex.ErrCorrupt) {
		t.Errorf("Search: expected ErrCorrupt, got %v", err)
	}
	if _, err := e.Delete(ctx, "gina", "gina_20240101_1"); !errors.Is(err, vectorindex.ErrCorrupt) {
		t.Errorf("Delete: expected ErrCorrupt, got %v", err)
	}
	if _, err := e.Verify("gina"); !errors.Is(err, vectorindex.ErrCorrupt) {
		t.Errorf("Verify: expected ErrCorrupt, got %v", err)
	}
}

func TestEngine_VerifyReportsDrift(t *testing.T) {
	e, dir := newEngine(t, Options{})
	ctx := context.Background()
	id, _ := e.Store(ctx, "hank", entry.Entry{FoodName: "Eggs"}, day(2024, 1, 1))

	// An entry written straight to the ledger has no index row.
	l := ledger.New(dir)
	extra := entry.Entry{FoodName: "Bacon"}
	l.Append("hank", day(2024, 1, 1), &extra)

	r, err := e.Verify("hank")
	if err != nil {
		t.Fatalf("Verify failed: %v", err)
	}
	if r.Consistent() || len(r.LedgerOnly) != 1 || r.LedgerOnly[0] != extra.ID {
		t.Errorf("expected drift on %s, got %+v", extra.ID, r)
	}
	if len(r.IndexOnly) != 0 {
		t.Errorf("%s should be in both stores, got %+v", id, r)
	}
}

func TestEngine_StoreDraftAndValidation(t *testing.T) {
	obs := observe.Discard()
	e, _ := newEngine(t, Options{Observer: obs})
	ctx := context.Background()

	name := "Banana"
	id, err := e.StoreDraft(ctx, "ivy", entry.Draft{FoodName: &name}, day(2024, 1, 1))
	if err != nil {
		t.Fatalf("StoreDraft failed: %v", err)
	}
	got, _ := e.ReadRange("ivy", day(2024, 1, 1), day(2024, 1, 1))
	if len(got) != 1 || got[0].ID != id || got[0].Calories != 200 || got[0].MealType != entry.UnknownMealType {
		t.Errorf("expected defaults to be applied, got %+v", got)
	}

	neg := -5.0
	if _, err := e.StoreDraft(ctx, "ivy", entry.Draft{Calories: &neg}, day(2024, 1, 1)); !errors.Is(err, entry.ErrInvalid) {
		t.Errorf("expected ErrInvalid, got %v", err)
	}
	if _, err := e.Store(ctx, "../ivy", entry.Entry{FoodName: "x"}, day(2024, 1, 1)); !errors.Is(err, ledger.ErrInvalidUser) {
		t.Errorf("expected ErrInvalidUser, got %v", err)
	}

	m := obs.Metrics().Registry()
	if n, _ := testutil.GatherAndCount(m, "larder_operations_total"); n == 0 {
		t.Error("expected operation metrics to be recorded")
	}
}

func TestEngine_Users(t *testing.T) {
	e, _ := newEngine(t, Options{})
	ctx := context.Background()
	e.Store(ctx, "zoe", entry.Entry{FoodName: "Kiwi"}, day(2024, 1, 1))
	e.Store(ctx, "adam", entry.Entry{FoodName: "Fig"}, day(2024, 1, 1))

	users, err := e.Users()
	if err != nil {
		t.Fatalf("Users failed: %v", err)
	}
	if strings.Join(users, ",") != "adam,zoe" {
		t.Errorf("expected [adam zoe], got %v", users)
	}
}
