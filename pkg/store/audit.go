package store

import (
	"context"

	"drivegate/pkg/audit"
	"drivegate/pkg/types"
)

func (s *Store) Append(_ context.Context, entry types.AuditEntry) error {
	return s.put(keyAudit(entry.Time, entry.ID), entry)
}

// List returns matching entries oldest first.
func (s *Store) List(ctx context.Context, filter audit.Filter) ([]types.AuditEntry, error) {
	var out []types.AuditEntry
	err := s.scan(ctx, []byte(prefixAudit), func(val []byte) error {
		var e types.AuditEntry
		if err := unmarshal(val, &e); err != nil {
			return err
		}
		if filter.Matches(e) {
			out = append(out, e)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return audit.Tail(out, filter.Limit), nil
}
