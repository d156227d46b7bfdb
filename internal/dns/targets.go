package dns

import (
	"fmt"
	"sort"
	"strings"
)

// Instance is one live server as the reconciler sees it
type Instance struct {
	Name     string
	GamePort int
}

// Routes maps a routed hostname to its backend address
type Routes map[string]string

// ResolvedAddress is an address entry with natmap entries already
// resolved to concrete record data
type ResolvedAddress struct {
	Name       string
	RecordType string
	Value      string
	Port       int
}

// base returns the sub-domain base for an address: the managed
// sub-domain itself for the wildcard entry, a nested label otherwise.
func (a ResolvedAddress) base(managedSubDomain string) string {
	if a.Name == "*" {
		return managedSubDomain
	}
	return a.Name + "." + managedSubDomain
}

// TargetRecords computes the desired record set from the resolved
// addresses and the live instances: one wildcard per address, plus one
// SRV per (address, instance).
func TargetRecords(cfg Config, addresses []ResolvedAddress, instances []Instance) []Record {
	var records []Record
	for _, address := range addresses {
		base := address.base(cfg.ManagedSubDomain)

		records = append(records, Record{
			SubDomain: "*." + base,
			Type:      strings.ToUpper(address.RecordType),
			Value:     address.Value,
			TTL:       cfg.TTL,
		})

		for _, instance := range instances {
			records = append(records, Record{
				SubDomain: fmt.Sprintf("_minecraft._tcp.%s.%s", instance.Name, base),
				Type:      "SRV",
				Value: fmt.Sprintf("0 5 %d %s.%s.%s",
					address.Port, instance.Name, base, cfg.Domain),
				TTL: cfg.TTL,
			})
		}
	}
	sortRecords(records)
	return records
}

// TargetRoutes computes the desired router table: every instance is
// reachable through every address base, always backed by the local
// game port.
func TargetRoutes(cfg Config, addresses []ResolvedAddress, instances []Instance) Routes {
	routes := make(Routes)
	for _, address := range addresses {
		base := address.base(cfg.ManagedSubDomain)
		for _, instance := range instances {
			host := fmt.Sprintf("%s.%s.%s", instance.Name, base, cfg.Domain)
			routes[host] = fmt.Sprintf("localhost:%d", instance.GamePort)
		}
	}
	return routes
}

// sortInstances gives deterministic record ordering
func sortInstances(instances []Instance) {
	sort.Slice(instances, func(i, j int) bool {
		return instances[i].Name < instances[j].Name
	})
}
