package services

import (
	"context"
	"fmt"

	"github.com/devicevault/server/internal/models"
	"github.com/devicevault/server/internal/repository"
)

// Verdict is the outcome of a dedup check
type Verdict int

const (
	VerdictNew Verdict = iota
	VerdictDuplicate
)

func (v Verdict) String() string {
	if v == VerdictDuplicate {
		return "duplicate"
	}
	return "new"
}

// DedupGate decides whether a fingerprinted record is already stored.
// The fingerprint is authoritative; the natural key only narrows the lookup.
// A VerdictNew is advisory: the partition's unique index has the final word.
type DedupGate struct{}

// NewDedupGate creates a new DedupGate
func NewDedupGate() *DedupGate {
	return &DedupGate{}
}

// Check looks rec.DataHash up in store
func (g *DedupGate) Check(ctx context.Context, store repository.PartitionStore, rec *models.Record) (Verdict, error) {
	if rec.DataHash == "" {
		return VerdictNew, fmt.Errorf("record %s has no fingerprint", rec.ID)
	}

	candidates, err := store.HashesByNaturalKey(ctx, rec.NaturalKeyString())
	if err != nil {
		return VerdictNew, fmt.Errorf("natural key lookup: %w", err)
	}
	if len(candidates) == 0 {
		// Nothing shares the natural key. A fingerprint match would need an
		// identical payload, and that implies an identical natural key.
		return VerdictNew, nil
	}
	for _, h := range candidates {
		if h == rec.DataHash {
			return VerdictDuplicate, nil
		}
	}

	exists, err := store.ExistsByFingerprint(ctx, rec.DataHash)
	if err != nil {
		return VerdictNew, fmt.Errorf("fingerprint lookup: %w", err)
	}
	if exists {
		return VerdictDuplicate, nil
	}
	return VerdictNew, nil
}
