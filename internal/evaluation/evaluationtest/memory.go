// Package evaluationtest provides an in-memory Persister for tests.
package evaluationtest

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/danielpatrickdp/evalboard/go-controller/internal/evaluation"
)

// Persister keeps records in a slice. Setting an Err field makes the matching
// operation fail without touching the data.
type Persister struct {
	mu      sync.Mutex
	records []evaluation.Record
	nextID  int
	clock   time.Time

	GetAllErr  error
	InsertErr  error
	ReplaceErr error
	DeleteErr  error

	Inserts  int
	Replaces int
}

// NewPersister returns a persister seeded with records, stored as given.
func NewPersister(records ...evaluation.Record) *Persister {
	p := &Persister{clock: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
	for _, r := range records {
		if r.ID == "" {
			r.ID = p.newID()
		}
		p.records = append(p.records, r)
	}
	return p
}

func (p *Persister) newID() string {
	p.nextID++
	return fmt.Sprintf("rec-%d", p.nextID)
}

// tick returns a strictly increasing timestamp so write order is observable.
func (p *Persister) tick() time.Time {
	p.clock = p.clock.Add(time.Second)
	return p.clock
}

func (p *Persister) GetAll(_ context.Context) ([]evaluation.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.GetAllErr != nil {
		return nil, p.GetAllErr
	}
	out := make([]evaluation.Record, len(p.records))
	copy(out, p.records)
	return out, nil
}

func (p *Persister) InsertOne(_ context.Context, rec evaluation.Record) (evaluation.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.InsertErr != nil {
		return evaluation.Record{}, p.InsertErr
	}
	if rec.ID == "" {
		rec.ID = p.newID()
	}
	now := p.tick()
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = now
	}
	rec.UpdatedAt = now
	p.records = append(p.records, rec)
	p.Inserts++
	return rec, nil
}

func (p *Persister) ReplaceOne(_ context.Context, rec evaluation.Record) (evaluation.Record, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ReplaceErr != nil {
		return evaluation.Record{}, p.ReplaceErr
	}
	for i := range p.records {
		if p.records[i].ID == rec.ID {
			rec.UpdatedAt = p.tick()
			p.records[i] = rec
			p.Replaces++
			return rec, nil
		}
	}
	return evaluation.Record{}, evaluation.ErrNotFound
}

func (p *Persister) DeleteMany(_ context.Context, ids []string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.DeleteErr != nil {
		return 0, p.DeleteErr
	}
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	kept := p.records[:0]
	n := 0
	for _, r := range p.records {
		if drop[r.ID] {
			n++
			continue
		}
		kept = append(kept, r)
	}
	p.records = kept
	return n, nil
}

// Records returns a copy of the persisted records.
func (p *Persister) Records() []evaluation.Record {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]evaluation.Record, len(p.records))
	copy(out, p.records)
	return out
}
