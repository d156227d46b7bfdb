package dns

import "context"

// Provider abstracts one DNS vendor. Implementations confine all
// provider-specific auth and API quirks.
type Provider interface {
	// Domain returns the zone the provider manages
	Domain() string

	// ListRelevantRecords returns the provider's current records
	// restricted to the managed sub-domain (the wildcard and SRV
	// entries under it).
	ListRelevantRecords(ctx context.Context, managedSubDomain string) ([]Record, error)

	AddRecords(ctx context.Context, records []Record) error
	RemoveRecords(ctx context.Context, ids []string) error
}

// BatchUpdater is implemented by providers with a native record update
// call; without it the reconciler falls back to remove-then-add.
type BatchUpdater interface {
	UpdateRecordsBatch(ctx context.Context, records []Record) error
}

// relevantSubDomain reports whether a record's sub-domain lives under
// the managed sub-domain
func relevantSubDomain(subDomain, managedSubDomain string) bool {
	return subDomain == managedSubDomain ||
		subDomain == "*."+managedSubDomain ||
		hasSuffixLabel(subDomain, managedSubDomain)
}

func hasSuffixLabel(subDomain, managedSubDomain string) bool {
	suffix := "." + managedSubDomain
	return len(subDomain) > len(suffix) && subDomain[len(subDomain)-len(suffix):] == suffix
}
