package permission

import (
	"context"
	"sort"
	"sync"

	"drivegate/pkg/types"
)

// GrantStore is the durable backing for cached consent decisions.
type GrantStore interface {
	// QueryPermission reports the stored decision and whether one exists.
	QueryPermission(ctx context.Context, origin string, key types.GrantKey) (allowed bool, found bool, err error)
	PutPermission(ctx context.Context, grant types.Grant) error
}

// GrantAdmin lists and revokes stored grants.
type GrantAdmin interface {
	ListGrants(ctx context.Context, origin string) ([]types.Grant, error)
	RevokeGrant(ctx context.Context, origin string, key types.GrantKey) error
}

// MemoryGrants is an in-process GrantStore.
type MemoryGrants struct {
	mu     sync.RWMutex
	grants map[string]map[types.GrantKey]types.Grant // origin -> key -> grant
}

// NewMemoryGrants creates an empty grant store
func NewMemoryGrants() *MemoryGrants {
	return &MemoryGrants{grants: make(map[string]map[types.GrantKey]types.Grant)}
}

func (m *MemoryGrants) QueryPermission(_ context.Context, origin string, key types.GrantKey) (bool, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.grants[origin][key]
	if !ok {
		return false, false, nil
	}
	return g.Allowed, true, nil
}

func (m *MemoryGrants) PutPermission(_ context.Context, grant types.Grant) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	byKey, ok := m.grants[grant.Origin]
	if !ok {
		byKey = make(map[types.GrantKey]types.Grant)
		m.grants[grant.Origin] = byKey
	}
	byKey[grant.Key] = grant
	return nil
}

// ListGrants returns the grants of origin, or of every origin when origin
// is empty, ordered by origin then key.
func (m *MemoryGrants) ListGrants(_ context.Context, origin string) ([]types.Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []types.Grant
	for o, byKey := range m.grants {
		if origin != "" && o != origin {
			continue
		}
		for _, g := range byKey {
			out = append(out, g)
		}
	}
	SortGrants(out)
	return out, nil
}

func (m *MemoryGrants) RevokeGrant(_ context.Context, origin string, key types.GrantKey) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.grants[origin], key)
	if len(m.grants[origin]) == 0 {
		delete(m.grants, origin)
	}
	return nil
}

// SortGrants orders grants by origin then key.
func SortGrants(grants []types.Grant) {
	sort.Slice(grants, func(i, j int) bool {
		if grants[i].Origin != grants[j].Origin {
			return grants[i].Origin < grants[j].Origin
		}
		return grants[i].Key.String() < grants[j].Key.String()
	})
}
