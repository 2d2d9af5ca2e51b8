package store

import (
	"context"
	"time"

	badger "github.com/dgraph-io/badger/v4"

	"drivegate/pkg/permission"
	"drivegate/pkg/types"
)

type grantRecord struct {
	Origin    string           `cbor:"origin"`
	Action    types.ActionKind `cbor:"action"`
	Drive     types.DriveKey   `cbor:"drive"`
	Allowed   bool             `cbor:"allowed"`
	GrantedAt time.Time        `cbor:"granted_at"`
}

func (r grantRecord) grant() types.Grant {
	return types.Grant{
		Origin:    r.Origin,
		Key:       types.GrantKey{Action: r.Action, Drive: r.Drive},
		Allowed:   r.Allowed,
		GrantedAt: r.GrantedAt,
	}
}

func (s *Store) QueryPermission(_ context.Context, origin string, key types.GrantKey) (bool, bool, error) {
	var rec grantRecord
	found, err := s.get(keyGrant(origin, key), &rec)
	if err != nil || !found {
		return false, false, err
	}
	return rec.Allowed, true, nil
}

func (s *Store) PutPermission(_ context.Context, grant types.Grant) error {
	return s.put(keyGrant(grant.Origin, grant.Key), grantRecord{
		Origin:    grant.Origin,
		Action:    grant.Key.Action,
		Drive:     grant.Key.Drive,
		Allowed:   grant.Allowed,
		GrantedAt: grant.GrantedAt,
	})
}

// ListGrants returns the grants of origin, or of every origin when origin
// is empty.
func (s *Store) ListGrants(ctx context.Context, origin string) ([]types.Grant, error) {
	prefix := []byte(prefixGrant)
	if origin != "" {
		prefix = keyGrantOrigin(origin)
	}

	var out []types.Grant
	err := s.scan(ctx, prefix, func(val []byte) error {
		var rec grantRecord
		if err := unmarshal(val, &rec); err != nil {
			return err
		}
		out = append(out, rec.grant())
		return nil
	})
	if err != nil {
		return nil, err
	}
	permission.SortGrants(out)
	return out, nil
}

func (s *Store) RevokeGrant(_ context.Context, origin string, key types.GrantKey) error {
	return s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(keyGrant(origin, key))
	})
}
