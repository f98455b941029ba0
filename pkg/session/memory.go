package session

import (
	"context"
	"sync"
)

// MemoryDataset implements Dataset using an in-memory map. It is intended for
// tests and single-process deployments.
type MemoryDataset struct {
	mu      sync.RWMutex
	records map[string]*string
}

// NewMemoryDataset creates an empty in-memory dataset.
func NewMemoryDataset() *MemoryDataset {
	return &MemoryDataset{
		records: make(map[string]*string),
	}
}

// Lookup returns the payload stored for sid.
func (d *MemoryDataset) Lookup(_ context.Context, sid string) (*string, bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	payload, ok := d.records[sid]
	if !ok {
		return nil, false, nil
	}
	if payload == nil {
		return nil, true, nil
	}
	p := *payload
	return &p, true, nil
}

// Insert adds a record for sid. Like a table without a unique constraint on
// the identifier column, it does not reject an existing sid.
func (d *MemoryDataset) Insert(_ context.Context, sid, payload string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.records[sid] = &payload
	return nil
}

// Update replaces the payload for sid. Updating a missing record is a no-op.
func (d *MemoryDataset) Update(_ context.Context, sid, payload string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if _, ok := d.records[sid]; !ok {
		return nil
	}
	d.records[sid] = &payload
	return nil
}

// Delete removes the record for sid.
func (d *MemoryDataset) Delete(_ context.Context, sid string) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.records, sid)
	return nil
}

// Count returns the number of records.
func (d *MemoryDataset) Count(_ context.Context) (int, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	return len(d.records), nil
}

// Verify interface compliance.
var _ Dataset = (*MemoryDataset)(nil)
