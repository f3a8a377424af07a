package ledger

import (
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/felixgeelhaar/larder/internal/entry"
)

func day(y int, m time.Month, d int) time.Time {
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}

func TestLedger_AppendAndReadRange(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	fixed := time.Date(2024, 1, 1, 8, 30, 0, 0, time.UTC)
	l.now = func() time.Time { return fixed }

	a := entry.Entry{FoodName: "Oatmeal", Calories: 300}
	path, err := l.Append("alice", day(2024, 1, 1), &a)
	if err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	want := filepath.Join(dir, "users", "alice", "2024-01-01", "food_log.json")
	if path != want {
		t.Errorf("expected path %s, got %s", want, path)
	}
	if a.ID != "alice_20240101_1" {
		t.Errorf("expected assigned id, got %q", a.ID)
	}
	if a.Date != "2024-01-01" || !a.Timestamp.Equal(fixed) {
		t.Errorf("expected date and timestamp to be set, got %q %v", a.Date, a.Timestamp)
	}

	b := entry.Entry{FoodName: "Salad", Calories: 150}
	if _, err := l.Append("alice", day(2024, 1, 2), &b); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	got, err := l.ReadRange("alice", day(2024, 1, 1), day(2024, 1, 2))
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if len(got) != 2 || got[0].ID != a.ID || got[1].ID != b.ID {
		t.Fatalf("unexpected range result: %+v", got)
	}
	if got[0].FoodName != "Oatmeal" || got[0].Calories != 300 {
		t.Errorf("fields did not round trip: %+v", got[0])
	}

	data, _ := os.ReadFile(path)
	var raw []map[string]any
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("log is not a JSON list: %v", err)
	}
	for _, key := range []string{"entry_id", "food_name", "food_review", "meal_type", "timestamp", "date"} {
		if _, ok := raw[0][key]; !ok {
			t.Errorf("missing key %q in stored entry", key)
		}
	}
}

func TestLedger_ReadRangeMissingDays(t *testing.T) {
	l := New(t.TempDir())
	got, err := l.ReadRange("bob", day(2024, 5, 1), day(2024, 5, 31))
	if err != nil {
		t.Fatalf("ReadRange failed: %v", err)
	}
	if len(got) != 0 {
		t.Errorf("expected no entries, got %d", len(got))
	}
}

func TestLedger_IDSequence(t *testing.T) {
	l := New(t.TempDir())
	d := day(2024, 2, 10)

	var ids []string
	for i := 0; i < 3; i++ {
		e := entry.Entry{FoodName: "Apple"}
		if _, err := l.Append("alice", d, &e); err != nil {
			t.Fatalf("Append failed: %v", err)
		}
		ids = append(ids, e.ID)
	}

	if _, err := l.Remove("alice", d, ids[0]); err != nil {
		t.Fatalf("Remove failed: %v", err)
	}

	// Two entries remain, so the next candidate is _3, which is taken.
	e := entry.Entry{FoodName: "Pear"}
	if _, err := l.Append("alice", d, &e); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if e.ID != "alice_20240210_4" {
		t.Errorf("expected bumped id alice_20240210_4, got %q", e.ID)
	}
}

func TestLedger_KeepsCallerID(t *testing.T) {
	l := New(t.TempDir())
	e := entry.Entry{ID: "custom-1", FoodName: "Toast"}
	if _, err := l.Append("alice", day(2024, 1, 1), &e); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	if e.ID != "custom-1" {
		t.Errorf("caller id was replaced: %q", e.ID)
	}
}

func TestLedger_Remove(t *testing.T) {
	l := New(t.TempDir())
	d := day(2024, 1, 1)
	e := entry.Entry{FoodName: "Rice"}
	l.Append("alice", d, &e)

	testCases := []struct {
		name string
		day  time.Time
		id   string
		want bool
	}{
		{"missing file", day(2023, 12, 31), e.ID, false},
		{"unknown id", d, "alice_20240101_9", false},
		{"known id", d, e.ID, true},
		{"already removed", d, e.ID, false},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := l.Remove("alice", tc.day, tc.id)
			if err != nil {
				t.Fatalf("Remove failed: %v", err)
			}
			if got != tc.want {
				t.Errorf("expected %v, got %v", tc.want, got)
			}
		})
	}

	left, _ := l.Read("alice", d)
	if len(left) != 0 {
		t.Errorf("expected empty log, got %+v", left)
	}
}

func TestLedger_IDsAndUsers(t *testing.T) {
	l := New(t.TempDir())
	a := entry.Entry{FoodName: "A"}
	b := entry.Entry{FoodName: "B"}
	c := entry.Entry{FoodName: "C"}
	l.Append("alice", day(2024, 1, 2), &b)
	l.Append("alice", day(2024, 1, 1), &a)
	l.Append("bob", day(2024, 1, 1), &c)

	ids, err := l.IDs("alice")
	if err != nil {
		t.Fatalf("IDs failed: %v", err)
	}
	if len(ids) != 2 || ids[0] != a.ID || ids[1] != b.ID {
		t.Errorf("expected ids ordered by day, got %v", ids)
	}

	users, err := l.Users()
	if err != nil {
		t.Fatalf("Users failed: %v", err)
	}
	if len(users) != 2 {
		t.Errorf("expected 2 users, got %v", users)
	}
}

func TestValidateUser(t *testing.T) {
	for _, name := range []string{"alice", "bob_smith", "user-42"} {
		if err := ValidateUser(name); err != nil {
			t.Errorf("expected %q to be valid, got %v", name, err)
		}
	}
	for _, name := range []string{"", ".", "..", "../etc", "a/b", `a\b`} {
		if err := ValidateUser(name); !errors.Is(err, ErrInvalidUser) {
			t.Errorf("expected ErrInvalidUser for %q, got %v", name, err)
		}
	}

	l := New(t.TempDir())
	e := entry.Entry{FoodName: "x"}
	if _, err := l.Append("../evil", day(2024, 1, 1), &e); !errors.Is(err, ErrInvalidUser) {
		t.Errorf("expected Append to reject traversal, got %v", err)
	}
}

func TestLedger_CorruptFile(t *testing.T) {
	dir := t.TempDir()
	l := New(dir)
	path := l.Path("alice", day(2024, 1, 1))
	os.MkdirAll(filepath.Dir(path), 0750)
	os.WriteFile(path, []byte("{not json"), 0600)

	if _, err := l.Read("alice", day(2024, 1, 1)); err == nil {
		t.Error("expected parse error for corrupt log")
	}
}
