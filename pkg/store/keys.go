package store

import (
	"encoding/binary"
	"time"

	"drivegate/pkg/types"
)

// Key namespaces:
//
//	g:<origin>\x00<action>:<drive hex>   grant record (CBOR)
//	a:<unix nanos, big endian><id>       audit entry (CBOR)
//	c:<drive hex>                        drive config (CBOR)
const (
	prefixGrant  = "g:"
	prefixAudit  = "a:"
	prefixConfig = "c:"
)

func keyGrantOrigin(origin string) []byte {
	return []byte(prefixGrant + origin + "\x00")
}

func keyGrant(origin string, key types.GrantKey) []byte {
	return append(keyGrantOrigin(origin), key.String()...)
}

// keyAudit sorts entries chronologically; the id breaks ties.
func keyAudit(t time.Time, id string) []byte {
	k := make([]byte, 0, len(prefixAudit)+8+len(id))
	k = append(k, prefixAudit...)
	k = binary.BigEndian.AppendUint64(k, uint64(t.UnixNano()))
	return append(k, id...)
}

func keyConfig(key types.DriveKey) []byte {
	return []byte(prefixConfig + key.String())
}
