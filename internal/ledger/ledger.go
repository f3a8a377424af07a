// Package ledger persists raw food-log entries as one JSON file per user and
// calendar day.
package ledger

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/felixgeelhaar/larder/internal/atomicfile"
	"github.com/felixgeelhaar/larder/internal/entry"
)

const logFile = "food_log.json"

var ErrInvalidUser = errors.New("invalid user name")

// Ledger is the authoritative record store rooted at <data>/users. It holds
// no state between calls; callers serialise writes for a given user.
type Ledger struct {
	root string
	now  func() time.Time
}

// New returns a Ledger storing files under dataDir/users.
func New(dataDir string) *Ledger {
	return &Ledger{
		root: filepath.Join(dataDir, "users"),
		now:  time.Now,
	}
}

// ValidateUser rejects names that cannot be used as a single path segment.
func ValidateUser(user string) error {
	if user == "" || user == "." || strings.Contains(user, "..") ||
		strings.ContainsAny(user, `/\`) || strings.ContainsRune(user, 0) {
		return fmt.Errorf("%w: %q", ErrInvalidUser, user)
	}
	return nil
}

// Path returns the log file for user on day.
func (l *Ledger) Path(user string, day time.Time) string {
	return filepath.Join(l.root, user, day.Format(entry.DateLayout), logFile)
}

// Append stores e in the log for user on day. A missing ID, timestamp or
// date is filled in and written back to e. The path of the log is returned.
func (l *Ledger) Append(user string, day time.Time, e *entry.Entry) (string, error) {
	if err := ValidateUser(user); err != nil {
		return "", err
	}
	day = entry.Truncate(day)
	path := l.Path(user, day)

	entries, err := readFile(path)
	if err != nil {
		return "", err
	}

	if e.ID == "" {
		e.ID = nextID(user, day, entries)
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = l.now().UTC()
	}
	e.Date = day.Format(entry.DateLayout)

	entries = append(entries, *e)
	if err := writeFile(path, entries); err != nil {
		return "", err
	}
	return path, nil
}

// Read returns the entries logged by user on day.
func (l *Ledger) Read(user string, day time.Time) ([]entry.Entry, error) {
	if err := ValidateUser(user); err != nil {
		return nil, err
	}
	return readFile(l.Path(user, entry.Truncate(day)))
}

// ReadRange concatenates the logs of every day from start to end inclusive.
// Days without a log contribute nothing.
func (l *Ledger) ReadRange(user string, start, end time.Time) ([]entry.Entry, error) {
	if err := ValidateUser(user); err != nil {
		return nil, err
	}
	var all []entry.Entry
	for d := entry.Truncate(start); !d.After(entry.Truncate(end)); d = d.AddDate(0, 0, 1) {
		entries, err := readFile(l.Path(user, d))
		if err != nil {
			return nil, err
		}
		all = append(all, entries...)
	}
	return all, nil
}

// Remove drops the entry with id from the log for user on day. It reports
// whether an entry was removed; a missing log is not an error.
func (l *Ledger) Remove(user string, day time.Time, id string) (bool, error) {
	if err := ValidateUser(user); err != nil {
		return false, err
	}
	path := l.Path(user, entry.Truncate(day))
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return false, nil
	}

	entries, err := readFile(path)
	if err != nil {
		return false, err
	}
	kept := entries[:0]
	for _, e := range entries {
		if e.ID != id {
			kept = append(kept, e)
		}
	}
	if len(kept) == len(entries) {
		return false, nil
	}
	if err := writeFile(path, kept); err != nil {
		return false, err
	}
	return true, nil
}

// Days lists the dates for which user has a log, oldest first.
func (l *Ledger) Days(user string) ([]time.Time, error) {
	if err := ValidateUser(user); err != nil {
		return nil, err
	}
	dirs, err := os.ReadDir(filepath.Join(l.root, user))
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list days: %w", err)
	}

	var days []time.Time
	for _, d := range dirs {
		if !d.IsDir() {
			continue
		}
		day, err := time.Parse(entry.DateLayout, d.Name())
		if err != nil {
			continue
		}
		days = append(days, day)
	}
	sort.Slice(days, func(i, j int) bool { return days[i].Before(days[j]) })
	return days, nil
}

// IDs returns the id of every entry user has logged, on any day.
func (l *Ledger) IDs(user string) ([]string, error) {
	days, err := l.Days(user)
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, d := range days {
		entries, err := readFile(l.Path(user, d))
		if err != nil {
			return nil, err
		}
		for _, e := range entries {
			ids = append(ids, e.ID)
		}
	}
	return ids, nil
}

// Users lists every user with a ledger directory.
func (l *Ledger) Users() ([]string, error) {
	dirs, err := os.ReadDir(l.root)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to list users: %w", err)
	}
	var users []string
	for _, d := range dirs {
		if d.IsDir() {
			users = append(users, d.Name())
		}
	}
	return users, nil
}

func nextID(user string, day time.Time, existing []entry.Entry) string {
	taken := make(map[string]bool, len(existing))
	for _, e := range existing {
		taken[e.ID] = true
	}
	seq := len(existing) + 1
	id := entry.FormatID(user, day, seq)
	for taken[id] {
		seq++
		id = entry.FormatID(user, day, seq)
	}
	return id
}

func readFile(path string) ([]entry.Entry, error) {
	data, err := os.ReadFile(path) // #nosec G304
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read food log: %w", err)
	}
	if len(data) == 0 {
		return nil, nil
	}

	var entries []entry.Entry
	if err := json.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("failed to parse food log %s: %w", path, err)
	}
	return entries, nil
}

func writeFile(path string, entries []entry.Entry) error {
	if entries == nil {
		entries = []entry.Entry{}
	}
	data, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode food log: %w", err)
	}
	return atomicfile.Write(path, data)
}
