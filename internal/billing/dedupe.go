package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DedupeResult reports one recipient's duplicate check.
type DedupeResult struct {
	IsDuplicate bool
	Fingerprint string
}

// Dedupe is the redis-backed duplicate detector. A fingerprint covers
// tenant, template and recipient plus the recipient's resolved variables;
// the first sender of a fingerprint within the window owns it.
type Dedupe struct {
	rdb    redis.UniversalClient
	window time.Duration
}

// NewDedupe creates a duplicate detector with the given suppression window.
func NewDedupe(rdb redis.UniversalClient, window time.Duration) *Dedupe {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &Dedupe{rdb: rdb, window: window}
}

// Fingerprint computes the deterministic identity of one send. Variables
// are serialized in sorted key order so map iteration order cannot split
// identical sends into distinct fingerprints.
func Fingerprint(tenantID uuid.UUID, templateName, recipient string, variables map[string]string) string {
	keys := make([]string, 0, len(variables))
	for k := range variables {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteString(tenantID.String())
	b.WriteByte('|')
	b.WriteString(templateName)
	b.WriteByte('|')
	b.WriteString(recipient)
	for _, k := range keys {
		b.WriteByte('|')
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(variables[k])
	}

	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// Check claims the fingerprint if unseen within the window and reports
// whether it was already claimed. SET NX makes claim-and-check atomic, so
// two concurrent identical sends resolve to exactly one owner.
//
// Redis being unreachable degrades to "not a duplicate": suppression is a
// guard, not a correctness requirement, and blocking all sends on a cache
// outage would be worse than an occasional repeat.
func (d *Dedupe) Check(ctx context.Context, tenantID uuid.UUID, templateName, recipient string, variables map[string]string) (DedupeResult, error) {
	fp := Fingerprint(tenantID, templateName, recipient, variables)
	key := fmt.Sprintf("dedupe:%s", fp)

	claimed, err := d.rdb.SetNX(ctx, key, "1", d.window).Result()
	if err != nil {
		return DedupeResult{IsDuplicate: false, Fingerprint: fp}, err
	}
	return DedupeResult{IsDuplicate: !claimed, Fingerprint: fp}, nil
}
