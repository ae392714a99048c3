package evaluation

import (
	"context"
	"fmt"
	"sync"

	"github.com/danielpatrickdp/evalboard/go-controller/internal/modelconfig"
)

// #region store-struct

// Store mirrors the persisted evaluation records in memory, at most one per
// ModelConfig, in insertion order. Mutations are written through to the
// Persister before they become visible.
type Store struct {
	persist Persister

	mu      sync.RWMutex
	records []Record
	index   map[modelconfig.ModelConfig]int

	obsMu     sync.Mutex
	observers []func(Change)
}

// NewStore creates an empty store backed by persist.
func NewStore(persist Persister) *Store {
	return &Store{
		persist: persist,
		index:   make(map[modelconfig.ModelConfig]int),
	}
}

// OnChange registers fn to be called after every committed mutation.
func (s *Store) OnChange(fn func(Change)) {
	s.obsMu.Lock()
	s.observers = append(s.observers, fn)
	s.obsMu.Unlock()
}

func (s *Store) notify(c Change) {
	s.obsMu.Lock()
	observers := append([]func(Change){}, s.observers...)
	s.obsMu.Unlock()
	for _, fn := range observers {
		fn(c)
	}
}

// #endregion store-struct

// #region queries

// Has reports whether a record for model exists.
func (s *Store) Has(model modelconfig.ModelConfig) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.index[model]
	return ok
}

// Get returns the record for model.
func (s *Store) Get(model modelconfig.ModelConfig) (Record, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	i, ok := s.index[model]
	if !ok {
		return Record{}, false
	}
	return s.records[i], true
}

// Len returns the number of records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// ToArray returns a snapshot of all records in insertion order.
func (s *Store) ToArray() []Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]Record, len(s.records))
	copy(out, s.records)
	return out
}

// #endregion queries

// #region add

// Add persists rec and appends it. Adding a model that is already present is
// a no-op that returns the existing record.
func (s *Store) Add(ctx context.Context, rec Record) (Record, error) {
	if existing, ok := s.Get(rec.Model); ok {
		return existing, nil
	}

	stored, err := s.persist.InsertOne(ctx, rec)
	if err != nil {
		return Record{}, fmt.Errorf("add %s: %w", rec.Model, err)
	}

	s.mu.Lock()
	if i, ok := s.index[stored.Model]; ok {
		// a concurrent Add won the race; keep the first committed record
		existing := s.records[i]
		s.mu.Unlock()
		return existing, nil
	}
	s.index[stored.Model] = len(s.records)
	s.records = append(s.records, stored)
	n := len(s.records)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeAdded, Record: &stored, Len: n})
	return stored, nil
}

// #endregion add

// #region update

// Update replaces the record for rec.Model, keeping its id. It returns
// ErrNotFound if no record exists for the model.
func (s *Store) Update(ctx context.Context, rec Record) (Record, error) {
	existing, ok := s.Get(rec.Model)
	if !ok {
		return Record{}, fmt.Errorf("update %s: %w", rec.Model, ErrNotFound)
	}
	rec.ID = existing.ID
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = existing.CreatedAt
	}

	stored, err := s.persist.ReplaceOne(ctx, rec)
	if err != nil {
		return Record{}, fmt.Errorf("update %s: %w", rec.Model, err)
	}

	s.mu.Lock()
	i, ok := s.index[stored.Model]
	if !ok {
		s.mu.Unlock()
		return Record{}, fmt.Errorf("update %s: %w", rec.Model, ErrNotFound)
	}
	s.records[i] = stored
	n := len(s.records)
	s.mu.Unlock()

	s.notify(Change{Kind: ChangeUpdated, Record: &stored, Len: n})
	return stored, nil
}

// #endregion update

// #region load

// LoadAll replaces the in-memory mapping with every persisted record. When the
// collection holds duplicates, the most recently written record per model wins.
func (s *Store) LoadAll(ctx context.Context) error {
	all, err := s.persist.GetAll(ctx)
	if err != nil {
		return fmt.Errorf("load evaluations: %w", err)
	}
	kept, _ := latestByModel(all)

	s.replace(kept)
	s.notify(Change{Kind: ChangeLoaded, Len: len(kept)})
	return nil
}

func (s *Store) replace(records []Record) {
	index := make(map[modelconfig.ModelConfig]int, len(records))
	for i, r := range records {
		index[r.Model] = i
	}
	s.mu.Lock()
	s.records = records
	s.index = index
	s.mu.Unlock()
}

// #endregion load

// #region dedup

// RemoveDuplicates deletes every persisted record that shares its model with a
// more recently written one, then reconciles the in-memory mapping with what
// remains. It returns the number of records deleted.
func (s *Store) RemoveDuplicates(ctx context.Context) (int, error) {
	all, err := s.persist.GetAll(ctx)
	if err != nil {
		return 0, fmt.Errorf("remove duplicates: %w", err)
	}
	kept, dropped := latestByModel(all)

	removed := 0
	if len(dropped) > 0 {
		ids := make([]string, len(dropped))
		for i, r := range dropped {
			ids[i] = r.ID
		}
		removed, err = s.persist.DeleteMany(ctx, ids)
		if err != nil {
			return 0, fmt.Errorf("remove duplicates: %w", err)
		}
	}

	s.replace(kept)
	s.notify(Change{Kind: ChangeDeduplicated, Len: len(kept)})
	return removed, nil
}

// latestByModel splits records into one winner per model and the rest. A
// record wins over an earlier one unless it was updated strictly before it.
// Winners keep the position where their model first appeared.
func latestByModel(all []Record) (kept, dropped []Record) {
	winner := make(map[modelconfig.ModelConfig]int, len(all))
	var order []modelconfig.ModelConfig
	for i, r := range all {
		j, ok := winner[r.Model]
		if !ok {
			order = append(order, r.Model)
			winner[r.Model] = i
			continue
		}
		if !r.UpdatedAt.Before(all[j].UpdatedAt) {
			winner[r.Model] = i
		}
	}

	kept = make([]Record, 0, len(order))
	for _, m := range order {
		kept = append(kept, all[winner[m]])
	}
	for i, r := range all {
		if winner[r.Model] != i {
			dropped = append(dropped, r)
		}
	}
	return kept, dropped
}

// #endregion dedup
