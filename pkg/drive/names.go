package drive

import (
	"context"
	"strings"
	"sync"

	"drivegate/pkg/errs"
	"drivegate/pkg/types"
)

// NameResolver maps a host name to the key of the drive it names.
// Unresolvable names fail with errs.CodeInvalidURL.
type NameResolver interface {
	ResolveName(ctx context.Context, host string) (types.DriveKey, error)
}

// StaticNames is a NameResolver backed by a fixed table.
type StaticNames struct {
	mu    sync.RWMutex
	names map[string]types.DriveKey
}

// NewStaticNames creates a name table from host → hex key pairs.
func NewStaticNames(entries map[string]string) (*StaticNames, error) {
	s := &StaticNames{names: make(map[string]types.DriveKey, len(entries))}
	for host, raw := range entries {
		key, err := types.ParseDriveKey(raw)
		if err != nil {
			return nil, errs.InvalidURL("name %q: %v", host, err)
		}
		s.names[strings.ToLower(host)] = key
	}
	return s, nil
}

// Set binds host to key.
func (s *StaticNames) Set(host string, key types.DriveKey) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.names[strings.ToLower(host)] = key
}

func (s *StaticNames) ResolveName(_ context.Context, host string) (types.DriveKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.names[strings.ToLower(host)]
	if !ok {
		return types.DriveKey{}, errs.InvalidURL("cannot resolve name %q", host)
	}
	return key, nil
}
