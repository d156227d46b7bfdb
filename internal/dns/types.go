// Package dns reconciles DNS records and mc-router routes against the
// live instance set: it computes the target state, diffs it against the
// provider, and converges with minimal mutations.
package dns

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
)

// Record is one DNS record in provider-neutral form. ID is assigned by
// the provider and empty on target records.
type Record struct {
	ID        string `json:"id,omitempty"`
	SubDomain string `json:"subDomain"`
	Type      string `json:"type"`
	Value     string `json:"value"`
	TTL       int    `json:"ttl"`
}

// Key identifies a record for diffing purposes
type Key struct {
	SubDomain string
	Type      string
}

func (r Record) Key() Key {
	return Key{SubDomain: r.SubDomain, Type: r.Type}
}

// Diff is the mutation set that converges current onto target
type Diff struct {
	ToAdd    []Record `json:"to_add"`
	ToRemove []Record `json:"to_remove"`
	ToUpdate []Record `json:"to_update"` // target values, carrying the current record's id
}

// Empty reports whether the diff contains no mutations
func (d Diff) Empty() bool {
	return len(d.ToAdd) == 0 && len(d.ToRemove) == 0 && len(d.ToUpdate) == 0
}

// Compute diffs current provider records against the target set. Both
// sides are keyed by (subDomain, type); records in both with differing
// value or TTL become updates carrying the current id.
func Compute(current, target []Record) Diff {
	currentByKey := make(map[Key]Record, len(current))
	for _, record := range current {
		currentByKey[record.Key()] = record
	}
	targetByKey := make(map[Key]Record, len(target))
	for _, record := range target {
		targetByKey[record.Key()] = record
	}

	var diff Diff
	for key, record := range currentByKey {
		if _, wanted := targetByKey[key]; !wanted {
			diff.ToRemove = append(diff.ToRemove, record)
		}
	}
	for key, record := range targetByKey {
		existing, exists := currentByKey[key]
		if !exists {
			diff.ToAdd = append(diff.ToAdd, record)
			continue
		}
		if existing.Value != record.Value || existing.TTL != record.TTL {
			record.ID = existing.ID
			diff.ToUpdate = append(diff.ToUpdate, record)
		}
	}

	sortRecords(diff.ToAdd)
	sortRecords(diff.ToRemove)
	sortRecords(diff.ToUpdate)
	return diff
}

func sortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		if records[i].SubDomain != records[j].SubDomain {
			return records[i].SubDomain < records[j].SubDomain
		}
		return records[i].Type < records[j].Type
	})
}

// hashFields digests the values that force a client rebuild when they
// change between reconcile calls
func hashFields(fields ...string) string {
	h := sha256.New()
	for _, field := range fields {
		fmt.Fprintf(h, "%d:%s;", len(field), field)
	}
	return hex.EncodeToString(h.Sum(nil))[:16]
}
