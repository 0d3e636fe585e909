// Package lock derives transaction-scoped advisory lock keys and wraps the
// non-blocking acquire. Keys are two signed 32-bit integers taken from a
// SHA-256 digest, giving a 64-bit effective keyspace; a single 32-bit key
// starts colliding between unrelated leads around 10^5-10^6 rows.
package lock

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/binary"
)

const activationNamespace = "campaign-activation-"

// LeadKey derives the per-(tenant, lead) lock key.
func LeadKey(tenantID, leadID string) (int32, int32) {
	return dualKey(tenantID + "-" + leadID)
}

// CampaignActivationKey derives the campaign-level lock key used by the
// scheduled activation job to keep overlapping job instances from
// activating the same campaign twice.
func CampaignActivationKey(campaignID string) (int32, int32) {
	return dualKey(activationNamespace + campaignID)
}

func dualKey(s string) (int32, int32) {
	sum := sha256.Sum256([]byte(s))
	key1 := int32(binary.BigEndian.Uint32(sum[0:4]))
	key2 := int32(binary.BigEndian.Uint32(sum[4:8]))
	return key1, key2
}

// TryAcquire attempts the two-part advisory lock inside tx. It returns
// immediately; false means another transaction holds the key and the
// caller must skip, not wait. The lock releases when tx ends, so there is
// no unlock path.
func TryAcquire(ctx context.Context, tx *sql.Tx, key1, key2 int32) (bool, error) {
	var acquired bool
	err := tx.QueryRowContext(ctx,
		"SELECT pg_try_advisory_xact_lock($1, $2)", key1, key2,
	).Scan(&acquired)
	if err != nil {
		return false, err
	}
	return acquired, nil
}
