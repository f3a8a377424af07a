// Package engine coordinates the entry ledger and the vector index: it
// stores entries in both, answers queries and deletes entries from both
// while serialising all work for a given user.
package engine

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/felixgeelhaar/larder/internal/entry"
	"github.com/felixgeelhaar/larder/internal/ledger"
	"github.com/felixgeelhaar/larder/internal/observe"
	"github.com/felixgeelhaar/larder/internal/retrieval"
	"github.com/felixgeelhaar/larder/internal/vectorindex"
)

// Options configures an Engine.
type Options struct {
	// Async moves the vector write of Store into a background goroutine.
	Async    bool
	Observer *observe.Observer
}

// userState serialises one user's work. pending counts background index
// writes started by Store and not yet finished; idle is signalled on st.mu
// whenever it drops to zero.
type userState struct {
	mu      sync.Mutex
	idle    *sync.Cond
	pending int
}

// waitIdle must be called with st.mu held. It returns once no background
// index write is pending, still holding st.mu.
func (st *userState) waitIdle() {
	for st.pending > 0 {
		st.idle.Wait()
	}
}

// Engine is safe for concurrent use. It assumes it is the only writer of
// its data directory.
type Engine struct {
	ledger   *ledger.Ledger
	index    *vectorindex.Index
	searcher *retrieval.Searcher
	obs      *observe.Observer
	bus      *EventBus
	async    bool

	mu       sync.Mutex
	users    map[string]*userState
	inflight int
	drained  *sync.Cond
}

// New creates an Engine storing its files under dataDir.
func New(dataDir string, embedder vectorindex.Embedder, opts Options) *Engine {
	obs := opts.Observer
	if obs == nil {
		obs = observe.Discard()
	}
	index := vectorindex.New(dataDir, embedder)
	e := &Engine{
		ledger:   ledger.New(dataDir),
		index:    index,
		searcher: retrieval.NewSearcher(index, embedder),
		obs:      obs,
		bus:      NewEventBus(),
		async:    opts.Async,
		users:    make(map[string]*userState),
	}
	e.drained = sync.NewCond(&e.mu)
	return e
}

// Events returns the bus the engine publishes on.
func (e *Engine) Events() *EventBus {
	return e.bus
}

func (e *Engine) state(user string) *userState {
	e.mu.Lock()
	defer e.mu.Unlock()
	st, ok := e.users[user]
	if !ok {
		st = &userState{}
		st.idle = sync.NewCond(&st.mu)
		e.users[user] = st
	}
	return st
}

// StoreDraft resolves d and stores the result.
func (e *Engine) StoreDraft(ctx context.Context, user string, d entry.Draft, day time.Time) (string, error) {
	ent, err := d.Resolve()
	if err != nil {
		e.obs.Metrics().Operation("store", err)
		return "", err
	}
	return e.Store(ctx, user, ent, day)
}

// Store appends ent to the user's log for day and indexes it. The ledger
// write is always synchronous. With Async the index write happens later,
// and a failure there is logged and published as EventIndexFailed rather
// than returned.
func (e *Engine) Store(ctx context.Context, user string, ent entry.Entry, day time.Time) (id string, err error) {
	ctx, span := e.obs.StartSpan(ctx, "engine.Store")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		e.obs.Metrics().Operation("store", err)
	}()

	if err := ent.Validate(); err != nil {
		return "", err
	}
	if err := ledger.ValidateUser(user); err != nil {
		return "", err
	}

	st := e.state(user)
	st.mu.Lock()
	defer st.mu.Unlock()

	if ent.ID != "" {
		if err := e.checkUnique(user, ent.ID); err != nil {
			return "", err
		}
	}

	path, err := e.ledger.Append(user, day, &ent)
	if err != nil {
		return "", fmt.Errorf("failed to store entry: %w", err)
	}
	e.obs.Log().Info().
		Str("user", user).
		Str("entry_id", ent.ID).
		Str("path", path).
		Msg("entry logged")
	e.bus.publish(EventEntryLogged, user, ent.ID, nil)

	if e.async {
		st.pending++
		e.mu.Lock()
		e.inflight++
		e.mu.Unlock()

		bg := context.WithoutCancel(ctx)
		go func(ent entry.Entry) {
			st.mu.Lock()
			_ = e.indexEntry(bg, user, ent)
			st.pending--
			if st.pending == 0 {
				st.idle.Broadcast()
			}
			st.mu.Unlock()

			e.mu.Lock()
			e.inflight--
			if e.inflight == 0 {
				e.drained.Broadcast()
			}
			e.mu.Unlock()
		}(ent)
		return ent.ID, nil
	}

	if err := e.indexEntry(ctx, user, ent); err != nil {
		return ent.ID, fmt.Errorf("entry %s logged but not indexed: %w", ent.ID, err)
	}
	return ent.ID, nil
}

// checkUnique rejects an explicit id already present in the user's index or
// ledger. It must be called with the user's lock held.
func (e *Engine) checkUnique(user, id string) error {
	_, found, err := e.index.Find(user, id)
	if err != nil {
		return fmt.Errorf("failed to check entry id %s: %w", id, err)
	}
	if !found {
		ids, err := e.ledger.IDs(user)
		if err != nil {
			return fmt.Errorf("failed to check entry id %s: %w", id, err)
		}
		found = slices.Contains(ids, id)
	}
	if found {
		return fmt.Errorf("%w: entry id %s already exists", entry.ErrInvalid, id)
	}
	return nil
}

// indexEntry must be called with the user's lock held.
func (e *Engine) indexEntry(ctx context.Context, user string, ent entry.Entry) error {
	_, err := e.index.Append(ctx, user, ent)
	e.obs.Metrics().Operation("index", err)
	if err != nil {
		e.obs.Log().Error().
			Str("user", user).
			Str("entry_id", ent.ID).
			Err(err).
			Msg("failed to index entry")
		e.bus.publish(EventIndexFailed, user, ent.ID, err)
		return err
	}
	e.obs.Log().Debug().Str("user", user).Str("entry_id", ent.ID).Msg("entry indexed")
	e.bus.publish(EventEntryIndexed, user, ent.ID, nil)
	return nil
}

// ReadRange returns the user's entries from start to end inclusive, in
// day order then insertion order.
func (e *Engine) ReadRange(user string, start, end time.Time) ([]entry.Entry, error) {
	if err := ledger.ValidateUser(user); err != nil {
		return nil, err
	}
	st := e.state(user)
	st.mu.Lock()
	defer st.mu.Unlock()
	return e.ledger.ReadRange(user, start, end)
}

// Search ranks the user's indexed entries against query.
func (e *Engine) Search(ctx context.Context, user, query string, r *retrieval.DateRange, topK int) (results []retrieval.Result, err error) {
	ctx, span := e.obs.StartSpan(ctx, "engine.Search")
	defer span.End()
	defer func() { e.obs.Metrics().Operation("search", err) }()

	if err := ledger.ValidateUser(user); err != nil {
		return nil, err
	}
	st := e.state(user)
	st.mu.Lock()
	defer st.mu.Unlock()
	return e.searcher.Search(ctx, user, query, r, topK)
}

// Query returns formatted context for text, as consumed by a chat model.
func (e *Engine) Query(ctx context.Context, user, text string) (out string, err error) {
	ctx, span := e.obs.StartSpan(ctx, "engine.Query")
	defer span.End()
	defer func() { e.obs.Metrics().Operation("query", err) }()

	if err := ledger.ValidateUser(user); err != nil {
		return "", err
	}
	st := e.state(user)
	st.mu.Lock()
	defer st.mu.Unlock()
	return e.searcher.Query(ctx, user, text)
}

// Delete removes id from the vector index and from the ledger file of the
// day it was logged on. It returns false, changing nothing, when id is not
// indexed.
func (e *Engine) Delete(ctx context.Context, user, id string) (deleted bool, err error) {
	_, span := e.obs.StartSpan(ctx, "engine.Delete")
	defer span.End()
	defer func() {
		if err != nil {
			span.RecordError(err)
		}
		e.obs.Metrics().Operation("delete", err)
	}()

	if err := ledger.ValidateUser(user); err != nil {
		return false, err
	}
	st := e.state(user)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.waitIdle()

	m, ok, err := e.index.Remove(user, id)
	if err != nil {
		return false, fmt.Errorf("failed to delete %s: %w", id, err)
	}
	if !ok {
		e.obs.Log().Warn().Str("user", user).Str("entry_id", id).Msg("entry not found for deletion")
		e.bus.publish(EventDeleteMissed, user, id, nil)
		return false, nil
	}

	day, err := entry.ParseDate(m.Date)
	if err != nil {
		var found bool
		if day, found = entry.ParseIDDate(id); !found {
			e.obs.Log().Warn().
				Str("user", user).
				Str("entry_id", id).
				Msg("no date recorded for entry, ledger left unchanged")
			e.bus.publish(EventEntryDeleted, user, id, nil)
			return true, nil
		}
	}

	removed, err := e.ledger.Remove(user, day, id)
	if err != nil {
		return true, fmt.Errorf("entry %s removed from index but not from ledger: %w", id, err)
	}
	if !removed {
		e.obs.Log().Warn().
			Str("user", user).
			Str("entry_id", id).
			Str("date", day.Format(entry.DateLayout)).
			Msg("entry missing from ledger")
	}

	e.obs.Log().Info().Str("user", user).Str("entry_id", id).Msg("entry deleted")
	e.bus.publish(EventEntryDeleted, user, id, nil)
	return true, nil
}

// Report describes how far a user's ledger and index agree.
type Report struct {
	User       string   `json:"user"`
	Entries    int      `json:"entries"`
	Vectors    int      `json:"vectors"`
	Metadata   int      `json:"metadata"`
	LedgerOnly []string `json:"ledger_only,omitempty"`
	IndexOnly  []string `json:"index_only,omitempty"`
}

// Consistent reports whether ledger and index hold the same ids.
func (r Report) Consistent() bool {
	return len(r.LedgerOnly) == 0 && len(r.IndexOnly) == 0 && r.Vectors == r.Metadata
}

// Verify compares the ids in the user's ledger and index after waiting for
// background index writes. A torn index is returned as an error wrapping
// vectorindex.ErrCorrupt.
func (e *Engine) Verify(user string) (Report, error) {
	if err := ledger.ValidateUser(user); err != nil {
		return Report{}, err
	}
	st := e.state(user)
	st.mu.Lock()
	defer st.mu.Unlock()
	st.waitIdle()

	ids, err := e.ledger.IDs(user)
	if err != nil {
		return Report{}, err
	}
	d, err := e.index.Load(user)
	if err != nil {
		return Report{}, err
	}

	r := Report{
		User:     user,
		Entries:  len(ids),
		Vectors:  len(d.Vectors),
		Metadata: len(d.Metadata),
	}

	inLedger := make(map[string]bool, len(ids))
	for _, id := range ids {
		inLedger[id] = true
	}
	inIndex := make(map[string]bool, d.Len())
	for _, m := range d.Metadata {
		inIndex[m.EntryID] = true
		if !inLedger[m.EntryID] {
			r.IndexOnly = append(r.IndexOnly, m.EntryID)
		}
	}
	for _, id := range ids {
		if !inIndex[id] {
			r.LedgerOnly = append(r.LedgerOnly, id)
		}
	}
	return r, nil
}

// Flush waits for every background index write started so far.
func (e *Engine) Flush() {
	e.mu.Lock()
	defer e.mu.Unlock()
	for e.inflight > 0 {
		e.drained.Wait()
	}
}

// Users lists every user known to the ledger or the index.
func (e *Engine) Users() ([]string, error) {
	fromLedger, err := e.ledger.Users()
	if err != nil {
		return nil, err
	}
	fromIndex, err := e.index.Users()
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var users []string
	for _, u := range append(fromLedger, fromIndex...) {
		if !seen[u] {
			seen[u] = true
			users = append(users, u)
		}
	}
	sort.Strings(users)
	return users, nil
}
