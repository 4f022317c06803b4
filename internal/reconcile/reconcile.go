package reconcile

import (
	"certgen/internal/models"
)

// KnownSet is the registry snapshot used for membership checks.
// It is built once per run and never written afterwards.
type KnownSet map[string]struct{}

func NewKnownSet(entries []models.RegistryEntry) KnownSet {
	known := make(KnownSet, len(entries))
	for _, e := range entries {
		known[e.EvseID] = struct{}{}
	}
	return known
}

func (k KnownSet) Contains(evseID string) bool {
	_, ok := k[evseID]
	return ok
}

// Reconcile splits the record's identifiers into confirmed and unmatched.
// Duplicates are kept: each occurrence lands in exactly one of the two lists.
func Reconcile(record models.InputRecord, known KnownSet) models.ReconciliationResult {
	var res models.ReconciliationResult
	for _, id := range record.ChargePointIDs {
		if id == "" {
			continue
		}
		if known.Contains(id) {
			res.Confirmed = append(res.Confirmed, id)
			continue
		}
		res.Unmatched = append(res.Unmatched, models.UnmatchedEntry{
			GrantNumber: record.GrantNumber,
			EvseID:      id,
		})
	}
	return res
}
