package dns

import (
	"strconv"
	"strings"

	"github.com/mcadmin/mc-admin/pkg/errs"
)

// ModuleName is the dynamic config module holding the DNS settings
const ModuleName = "dns"

// Providers
const (
	ProviderDNSPod = "dnspod"
	ProviderHuawei = "huawei"
)

// Address sources
const (
	SourceManual = "manual"
	SourceNatmap = "natmap"
)

// Credentials hold per-provider auth material
type Credentials struct {
	DNSPodToken     string `json:"dnspodToken,omitempty"`
	HuaweiAccessKey string `json:"huaweiAccessKey,omitempty"`
	HuaweiSecretKey string `json:"huaweiSecretKey,omitempty"`
	HuaweiRegion    string `json:"huaweiRegion,omitempty"`
}

// AddressEntry names one public address servers are reachable through.
// A manual entry carries the record data; a natmap entry is resolved at
// reconcile time from the NAT mapping monitored on an internal port.
type AddressEntry struct {
	Name   string `json:"name"` // "*" or a label
	Source string `json:"source,omitempty"`

	RecordType string `json:"recordType,omitempty"` // A, AAAA or CNAME
	Value      string `json:"value,omitempty"`
	Port       int    `json:"port,omitempty"`

	NatmapInternalPort int `json:"natmapInternalPort,omitempty"`
}

// Config is the hot-reloadable DNS module configuration
type Config struct {
	Enabled bool `json:"enabled"`

	Provider    string      `json:"provider,omitempty"`
	Credentials Credentials `json:"credentials"`

	Domain           string `json:"domain,omitempty"`
	ManagedSubDomain string `json:"managedSubDomain,omitempty"`
	TTL              int    `json:"dnsTtl,omitempty"`

	RouterBaseURL string `json:"mcRouterBaseUrl,omitempty"`

	Addresses []AddressEntry `json:"addresses,omitempty"`
}

// DefaultConfig is disabled until an operator fills it in
func DefaultConfig() Config {
	return Config{
		Enabled:          false,
		ManagedSubDomain: "mc",
		TTL:              600,
	}
}

// Validate checks the parts reconcile depends on. A disabled config is
// always valid.
func (c Config) Validate() error {
	if !c.Enabled {
		return nil
	}
	switch c.Provider {
	case ProviderDNSPod, ProviderHuawei:
	default:
		return errs.Validation("unsupported dns provider %q", c.Provider)
	}
	if c.Domain == "" {
		return errs.Validation("dns domain is required")
	}
	if c.ManagedSubDomain == "" {
		return errs.Validation("managedSubDomain is required")
	}
	for _, address := range c.Addresses {
		if address.Name == "" {
			return errs.Validation("address entries need a name")
		}
		switch address.Source {
		case "", SourceManual:
			switch strings.ToUpper(address.RecordType) {
			case "A", "AAAA", "CNAME":
			default:
				return errs.Validation("address %q: unsupported record type %q", address.Name, address.RecordType)
			}
			if address.Value == "" || address.Port == 0 {
				return errs.Validation("address %q: manual entries need value and port", address.Name)
			}
		case SourceNatmap:
			if address.NatmapInternalPort == 0 {
				return errs.Validation("address %q: natmap entries need natmapInternalPort", address.Name)
			}
		default:
			return errs.Validation("address %q: unknown source %q", address.Name, address.Source)
		}
	}
	return nil
}

// clientHash digests the fields that affect provider and router client
// construction; a change forces a transparent re-init before reconcile.
func (c Config) clientHash() string {
	return hashFields(
		c.Provider,
		c.Credentials.DNSPodToken,
		c.Credentials.HuaweiAccessKey,
		c.Credentials.HuaweiSecretKey,
		c.Credentials.HuaweiRegion,
		c.Domain,
		c.RouterBaseURL,
		strconv.Itoa(c.TTL),
	)
}
