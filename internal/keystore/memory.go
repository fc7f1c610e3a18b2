package keystore

import (
	"context"
	"sort"
	"sync"
)

// Memory keeps records in a map. Everything is lost on Close.
type Memory struct {
	mu   sync.RWMutex
	keys map[string]*KeyRecord
}

func NewMemory() *Memory {
	return &Memory{keys: make(map[string]*KeyRecord)}
}

func (m *Memory) Initialize(ctx context.Context) error {
	return nil
}

func (m *Memory) Save(ctx context.Context, kid string, rec *KeyRecord) error {
	if err := checkRecord(kid, rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys[kid] = rec.clone()
	return nil
}

func (m *Memory) Load(ctx context.Context, kid string) (*KeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rec, ok := m.keys[kid]
	if !ok {
		return nil, nil
	}
	return rec.clone(), nil
}

func (m *Memory) LoadAll(ctx context.Context) ([]*KeyRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*KeyRecord, 0, len(m.keys))
	for _, rec := range m.keys {
		out = append(out, rec.clone())
	}
	sortByCreated(out)
	return out, nil
}

func (m *Memory) Delete(ctx context.Context, kid string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.keys[kid]; !ok {
		return false, nil
	}
	delete(m.keys, kid)
	return true, nil
}

func (m *Memory) Exists(ctx context.Context, kid string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.keys[kid]
	return ok, nil
}

func (m *Memory) List(ctx context.Context) ([]string, error) {
	all, _ := m.LoadAll(ctx)
	kids := make([]string, len(all))
	for i, r := range all {
		kids[i] = r.Kid
	}
	return kids, nil
}

// Activate deactivates every record and stores rec as active under one lock.
func (m *Memory) Activate(ctx context.Context, rec *KeyRecord) error {
	if err := checkRecord(rec.Kid, rec); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range m.keys {
		r.Active = false
	}
	c := rec.clone()
	c.Active = true
	m.keys[c.Kid] = c
	return nil
}

func (m *Memory) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.keys = make(map[string]*KeyRecord)
	return nil
}

func sortByCreated(recs []*KeyRecord) {
	sort.SliceStable(recs, func(i, j int) bool {
		if recs[i].CreatedAt.Equal(recs[j].CreatedAt) {
			return recs[i].Kid < recs[j].Kid
		}
		return recs[i].CreatedAt.Before(recs[j].CreatedAt)
	})
}
