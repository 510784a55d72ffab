// Package view builds the per-user category projections of the relationship
// graph. A view never stores relationship state of its own: it is always
// derived from the relationship store and can be thrown away at any time.
package view

import (
	"sort"
	"sync"

	"github.com/Zereker/social/internal/domain"
)

// View is one category projection owned by one user: the materialized
// records plus a total count tracked separately from them, so a client can
// page with "load more" without reloading the whole set.
//
// Count() is never below len(Records()).
type View struct {
	owner    string
	category domain.Category

	mu      sync.RWMutex
	records map[string]domain.FriendRecord
	count   int
	stale   bool
	gen     uint64
}

// New creates an empty view.
func New(owner string, category domain.Category) *View {
	return &View{
		owner:    owner,
		category: category,
		records:  make(map[string]domain.FriendRecord),
	}
}

// Owner returns the user the view belongs to.
func (v *View) Owner() string { return v.owner }

// Category returns which projection of the owner's edges the view holds.
func (v *View) Category() domain.Category { return v.category }

// Add inserts or replaces rec. The count grows when rec is new and the
// materialized set would otherwise exceed it.
func (v *View) Add(rec domain.FriendRecord) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.records[rec.ID] = rec
	if v.count < len(v.records) {
		v.count = len(v.records)
	}
}

// Remove deletes the record of peerID and reports whether it was present.
func (v *View) Remove(peerID string) bool {
	v.mu.Lock()
	defer v.mu.Unlock()

	if _, ok := v.records[peerID]; !ok {
		return false
	}
	delete(v.records, peerID)
	if v.count > 0 {
		v.count--
	}
	return true
}

// Find returns the record of peerID.
func (v *View) Find(peerID string) (domain.FriendRecord, bool) {
	v.mu.RLock()
	defer v.mu.RUnlock()

	rec, ok := v.records[peerID]
	return rec, ok
}

// SetCount sets the total count, never below the materialized size.
func (v *View) SetCount(n int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if n < len(v.records) {
		n = len(v.records)
	}
	v.count = n
}

// Count returns the total count.
func (v *View) Count() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.count
}

// Len returns the number of materialized records.
func (v *View) Len() int {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return len(v.records)
}

// Records returns the materialized records, newest first, then by id.
func (v *View) Records() []domain.FriendRecord {
	v.mu.RLock()
	out := make([]domain.FriendRecord, 0, len(v.records))
	for _, rec := range v.records {
		out = append(out, rec)
	}
	v.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool {
		if !out[i].Since.Equal(out[j].Since) {
			return out[i].Since.After(out[j].Since)
		}
		return out[i].ID < out[j].ID
	})
	return out
}

// invalidate drops the materialized records and sets the count. The next
// read re-materializes the view.
func (v *View) invalidate(count int) {
	v.mu.Lock()
	defer v.mu.Unlock()

	v.records = make(map[string]domain.FriendRecord)
	v.count = count
	v.stale = true
	v.gen++
}

func (v *View) snapshot() (stale bool, gen uint64) {
	v.mu.RLock()
	defer v.mu.RUnlock()
	return v.stale, v.gen
}

// replace swaps in a freshly materialized record set, unless the view was
// invalidated again since gen was read.
func (v *View) replace(records []domain.FriendRecord, gen uint64) {
	v.mu.Lock()
	defer v.mu.Unlock()

	if v.gen != gen {
		return
	}

	v.records = make(map[string]domain.FriendRecord, len(records))
	for _, rec := range records {
		v.records[rec.ID] = rec
	}
	v.count = len(v.records)
	v.stale = false
}
