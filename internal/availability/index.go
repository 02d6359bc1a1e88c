package availability

import (
	"sort"
	"sync"
)

// Index is the in-memory set of loaded records, deduplicated by id.
type Index struct {
	mu      sync.RWMutex
	records map[string]Dispo
}

// NewIndex returns an empty index.
func NewIndex() *Index {
	return &Index{records: make(map[string]Dispo)}
}

// Merge adds records, replacing an existing record only with one of equal or
// newer version. It returns how many ids were new.
func (x *Index) Merge(records []Dispo) int {
	x.mu.Lock()
	defer x.mu.Unlock()
	added := 0
	for _, record := range records {
		if record.ID == "" {
			continue
		}
		existing, ok := x.records[record.ID]
		if !ok {
			added++
		} else if record.Version < existing.Version {
			continue
		}
		x.records[record.ID] = record
	}
	return added
}

// Replace makes records the authoritative content for dates in [from, to]:
// held records dated in that span and absent from records are dropped, the
// rest are merged. It returns how many records were dropped.
func (x *Index) Replace(from, to string, records []Dispo) int {
	present := make(map[string]bool, len(records))
	for _, record := range records {
		present[record.ID] = true
	}

	x.mu.Lock()
	dropped := 0
	for id, record := range x.records {
		if record.Date >= from && record.Date <= to && !present[id] {
			delete(x.records, id)
			dropped++
		}
	}
	x.mu.Unlock()

	x.Merge(records)
	return dropped
}

// Upsert stores record unconditionally.
func (x *Index) Upsert(record Dispo) {
	if record.ID == "" {
		return
	}
	x.mu.Lock()
	x.records[record.ID] = record
	x.mu.Unlock()
}

// Remove drops the record with id.
func (x *Index) Remove(id string) {
	x.mu.Lock()
	delete(x.records, id)
	x.mu.Unlock()
}

// Get returns the record with id.
func (x *Index) Get(id string) (Dispo, bool) {
	x.mu.RLock()
	defer x.mu.RUnlock()
	record, ok := x.records[id]
	return record, ok
}

// All returns every record ordered by date then id.
func (x *Index) All() []Dispo {
	x.mu.RLock()
	out := make([]Dispo, 0, len(x.records))
	for _, record := range x.records {
		out = append(out, record)
	}
	x.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date < out[j].Date
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// Len is the number of records held.
func (x *Index) Len() int {
	x.mu.RLock()
	defer x.mu.RUnlock()
	return len(x.records)
}

// Reset empties the index.
func (x *Index) Reset() {
	x.mu.Lock()
	x.records = make(map[string]Dispo)
	x.mu.Unlock()
}
