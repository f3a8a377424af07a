package cli

import (
	"bytes"
	"encoding/json"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/felixgeelhaar/larder/internal/engine"
	"github.com/felixgeelhaar/larder/internal/entry"
	"github.com/felixgeelhaar/larder/internal/retrieval"
	"github.com/felixgeelhaar/larder/internal/store"
)

type harness struct {
	t       *testing.T
	dataDir string
}

func newHarness(t *testing.T) *harness {
	return &harness{t: t, dataDir: t.TempDir()}
}

// run executes one CLI invocation against an offline engine in dataDir.
func (h *harness) run(args ...string) (string, error) {
	h.t.Helper()
	root := NewRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--data-dir", h.dataDir, "--provider", "offline", "--dimensions", "32"}, args...))
	err := root.Execute()
	return out.String(), err
}

func (h *harness) mustRun(args ...string) string {
	h.t.Helper()
	out, err := h.run(args...)
	if err != nil {
		h.t.Fatalf("larder %s failed: %v", strings.Join(args, " "), err)
	}
	return out
}

func TestCLI_Commands(t *testing.T) {
	root := NewRootCmd()
	want := map[string]bool{
		"log": false, "import": false, "list": false, "delete": false,
		"search": false, "context": false, "ask": false, "verify": false, "config": false,
	}
	for _, cmd := range root.Commands() {
		if _, ok := want[cmd.Name()]; ok {
			want[cmd.Name()] = true
		}
		if cmd.Name() == "config" && len(cmd.Commands()) < 2 {
			t.Errorf("Expected set and get subcommands for config, got %d", len(cmd.Commands()))
		}
	}
	for name, found := range want {
		if !found {
			t.Errorf("command %s not registered", name)
		}
	}
}

func TestCLI_LogListSearchDelete(t *testing.T) {
	h := newHarness(t)

	h.mustRun("log", "-u", "alice", "--date", "2024-01-01", "--food", "Oatmeal", "--calories", "300", "--protein", "10.5", "--meal", "Breakfast")
	h.mustRun("log", "-u", "alice", "--date", "2024-01-02", "--food", "Salad", "--calories", "150")

	out := h.mustRun("list", "-u", "alice", "--from", "2024-01-01", "--to", "2024-01-02", "--json")
	var entries []entry.Entry
	if err := json.Unmarshal([]byte(out), &entries); err != nil {
		t.Fatalf("list output is not JSON: %v\n%s", err, out)
	}
	if len(entries) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(entries))
	}
	if entries[0].ID != "alice_20240101_1" || entries[0].MealType != "breakfast" || entries[0].Protein != 10.5 {
		t.Errorf("unexpected first entry %+v", entries[0])
	}
	if entries[1].Fats != entry.Defaults.Fats {
		t.Errorf("expected default fats for unset flag, got %v", entries[1].Fats)
	}

	out = h.mustRun("search", "-u", "alice", "--json", "-k", "1", "--from", "2024-01-02", "--to", "2024-01-02", "Oatmeal")
	var results []retrieval.Result
	if err := json.Unmarshal([]byte(out), &results); err != nil {
		t.Fatalf("search output is not JSON: %v\n%s", err, out)
	}
	if len(results) != 1 || results[0].EntryID != "alice_20240102_1" {
		t.Errorf("expected only the in-range entry, got %+v", results)
	}

	h.mustRun("delete", "-u", "alice", "alice_20240101_1")
	if _, err := h.run("delete", "-u", "alice", "alice_20240101_1"); err == nil {
		t.Error("expected second delete to fail")
	}

	out = h.mustRun("list", "-u", "alice", "--from", "2024-01-01", "--to", "2024-01-02", "--json")
	json.Unmarshal([]byte(out), &entries)
	if len(entries) != 1 || entries[0].ID != "alice_20240102_1" {
		t.Errorf("expected only B to remain, got %+v", entries)
	}

	out = h.mustRun("verify", "--json")
	var reports []engine.Report
	if err := json.Unmarshal([]byte(out), &reports); err != nil {
		t.Fatalf("verify output is not JSON: %v\n%s", err, out)
	}
	if len(reports) != 1 || !reports[0].Consistent() || reports[0].Entries != 1 {
		t.Errorf("unexpected verify reports %+v", reports)
	}
}

func TestCLI_ImportAndContext(t *testing.T) {
	h := newHarness(t)
	drafts := filepath.Join(t.TempDir(), "today.yaml")
	os.WriteFile(drafts, []byte("- food_name: Bagel\n  calories: 250\n- food_name: Ramen\n  calories: 500\n"), 0600)

	out := h.mustRun("import", "-u", "bob", drafts)
	if !strings.Contains(out, "Imported 2 entries") {
		t.Errorf("unexpected import output %q", out)
	}

	out = h.mustRun("context", "-u", "bob", "what did I eat today")
	if !strings.Contains(out, "Total entries found: 2") || !strings.Contains(out, "Total calories: 750") {
		t.Errorf("unexpected context:\n%s", out)
	}

	out = h.mustRun("context", "-u", "bob", "what did I eat yesterday")
	if strings.TrimSpace(out) != retrieval.NoMatches {
		t.Errorf("expected no matches for yesterday, got %q", out)
	}
}

func TestCLI_VerifyPattern(t *testing.T) {
	h := newHarness(t)
	h.mustRun("log", "-u", "alice", "--food", "Kiwi")
	h.mustRun("log", "-u", "bob", "--food", "Fig")

	out := h.mustRun("verify", "--users", "a*", "--json")
	var reports []engine.Report
	json.Unmarshal([]byte(out), &reports)
	if len(reports) != 1 || reports[0].User != "alice" {
		t.Errorf("expected only alice, got %+v", reports)
	}

	if _, err := h.run("verify", "--users", "[", "--json"); err == nil {
		t.Error("expected invalid pattern error")
	}
}

func TestCLI_Config(t *testing.T) {
	h := newHarness(t)

	h.mustRun("config", "set", "openai.api_key", "sk-1234567890abcdef")
	out := h.mustRun("config", "get", "openai.api_key")
	if strings.TrimSpace(out) != "sk-1...cdef" {
		t.Errorf("expected masked key, got %q", out)
	}
	out = h.mustRun("config", "get", "--reveal", "openai.api_key")
	if strings.TrimSpace(out) != "sk-1234567890abcdef" {
		t.Errorf("expected revealed key, got %q", out)
	}
	out = h.mustRun("config", "get", "missing")
	if strings.TrimSpace(out) != "(not set)" {
		t.Errorf("expected (not set), got %q", out)
	}
	out = h.mustRun("config", "list")
	if strings.TrimSpace(out) != "openai.api_key" {
		t.Errorf("unexpected key list %q", out)
	}
}

func TestCLI_AskReset(t *testing.T) {
	h := newHarness(t)

	s, err := store.NewSQLiteStore(filepath.Join(h.dataDir, "settings.db"), nil)
	if err != nil {
		t.Fatalf("failed to open settings: %v", err)
	}
	s.PutHistory("alice", []byte(`[{"role":"user","content":"hi"},{"role":"assistant","content":"hello"}]`))
	s.Close()

	out := h.mustRun("ask", "-u", "alice", "--reset")
	if !strings.Contains(out, "Conversation cleared for alice") {
		t.Errorf("unexpected reset output %q", out)
	}
	out = h.mustRun("ask", "-u", "alice", "--reset")
	if !strings.Contains(out, "no conversation to clear") {
		t.Errorf("expected nothing to clear, got %q", out)
	}
	if _, err := h.run("ask", "-u", "alice"); err == nil {
		t.Error("expected ask without a question to fail")
	}
}

func TestCLI_Errors(t *testing.T) {
	h := newHarness(t)

	if _, err := h.run("list"); err == nil || !strings.Contains(err.Error(), "no user") {
		t.Errorf("expected missing user error, got %v", err)
	}
	if _, err := h.run("ask", "-u", "alice", "hello"); err == nil {
		t.Error("expected ask to fail without a chat provider")
	}
	if _, err := h.run("log", "-u", "alice", "--calories", "-5"); err == nil {
		t.Error("expected negative calories to be rejected")
	}
	if _, err := h.run("log", "-u", "../alice", "--food", "x"); err == nil {
		t.Error("expected invalid user to be rejected")
	}
	if _, err := h.run("--provider", "bogus", "list", "-u", "alice"); err == nil {
		t.Error("expected unknown provider to be rejected")
	}
}

func TestParseDay(t *testing.T) {
	now := time.Date(2024, 3, 1, 15, 0, 0, 0, time.UTC)
	testCases := map[string]string{
		"":           "2024-03-01",
		"today":      "2024-03-01",
		"Yesterday":  "2024-02-29",
		"2023-12-25": "2023-12-25",
	}
	for in, want := range testCases {
		got, err := parseDay(in, now)
		if err != nil {
			t.Fatalf("parseDay(%q) failed: %v", in, err)
		}
		if got.Format(entry.DateLayout) != want {
			t.Errorf("parseDay(%q) = %s, want %s", in, got.Format(entry.DateLayout), want)
		}
	}
	if _, err := parseDay("25/12/2023", now); err == nil {
		t.Error("expected error for bad date")
	}
}
