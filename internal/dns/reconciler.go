package dns

import (
	"context"
	"strings"
	"sync"

	"github.com/mcadmin/mc-admin/internal/dynconfig"
	"github.com/mcadmin/mc-admin/pkg/errs"
	"github.com/mcadmin/mc-admin/pkg/logger"
)

// InstanceSource yields the live instance set the target state derives
// from. The supervisor implements it.
type InstanceSource interface {
	RoutableInstances(ctx context.Context) ([]Instance, error)
}

// NatmapResolver resolves a NAT-mapped external address monitored on an
// internal port. Optional; without one natmap entries are skipped.
type NatmapResolver interface {
	ExternalAddress(ctx context.Context, internalPort int) (value string, recordType string, port int, err error)
}

// RouteTable abstracts the router client for tests
type RouteTable interface {
	ReplaceRoutes(ctx context.Context, target Routes) error
}

// Reconciler converges provider records and router routes onto the
// state implied by the configuration and the live instances. Update is
// serialized by a mutex; concurrent triggers queue up behind it.
type Reconciler struct {
	module    *dynconfig.Module[Config]
	instances InstanceSource
	natmap    NatmapResolver

	mu         sync.Mutex
	provider   Provider
	router     RouteTable
	clientHash string

	// Factories rebuild clients when the config hash moves. Split out
	// so tests can substitute fakes.
	newProvider func(Config) (Provider, error)
	newRouter   func(Config) RouteTable
}

func NewReconciler(module *dynconfig.Module[Config], instances InstanceSource, natmap NatmapResolver) *Reconciler {
	return &Reconciler{
		module:      module,
		instances:   instances,
		natmap:      natmap,
		newProvider: buildProvider,
		newRouter: func(cfg Config) RouteTable {
			return NewRouterClient(cfg.RouterBaseURL)
		},
	}
}

func buildProvider(cfg Config) (Provider, error) {
	switch cfg.Provider {
	case ProviderDNSPod:
		return NewDNSPodProvider(cfg.Credentials.DNSPodToken, cfg.Domain), nil
	case ProviderHuawei:
		return NewHuaweiProvider(
			cfg.Credentials.HuaweiAccessKey,
			cfg.Credentials.HuaweiSecretKey,
			cfg.Credentials.HuaweiRegion,
			cfg.Domain,
		), nil
	default:
		return nil, errs.Validation("unsupported dns provider %q", cfg.Provider)
	}
}

// ensureClientsLocked rebuilds provider and router when the
// client-affecting config fields changed since the last call
func (r *Reconciler) ensureClientsLocked(cfg Config) error {
	hash := cfg.clientHash()
	if r.provider != nil && r.clientHash == hash {
		return nil
	}

	provider, err := r.newProvider(cfg)
	if err != nil {
		return err
	}
	r.provider = provider
	r.router = r.newRouter(cfg)
	r.clientHash = hash

	logger.Info("dns clients (re)initialized", map[string]interface{}{
		"provider": cfg.Provider,
		"domain":   cfg.Domain,
	})
	return nil
}

// resolveAddresses turns config entries into concrete record data,
// querying natmap-sourced entries at reconcile time
func (r *Reconciler) resolveAddresses(ctx context.Context, cfg Config) []ResolvedAddress {
	var resolved []ResolvedAddress
	for _, entry := range cfg.Addresses {
		switch entry.Source {
		case "", SourceManual:
			resolved = append(resolved, ResolvedAddress{
				Name:       entry.Name,
				RecordType: strings.ToUpper(entry.RecordType),
				Value:      entry.Value,
				Port:       entry.Port,
			})
		case SourceNatmap:
			if r.natmap == nil {
				logger.Warn("natmap address skipped, no resolver wired", map[string]interface{}{
					"address": entry.Name,
				})
				continue
			}
			value, recordType, port, err := r.natmap.ExternalAddress(ctx, entry.NatmapInternalPort)
			if err != nil {
				logger.Error("natmap address skipped", err, map[string]interface{}{
					"address":       entry.Name,
					"internal_port": entry.NatmapInternalPort,
				})
				continue
			}
			resolved = append(resolved, ResolvedAddress{
				Name:       entry.Name,
				RecordType: recordType,
				Value:      value,
				Port:       port,
			})
		}
	}
	return resolved
}

// target computes the desired records and routes from scratch
func (r *Reconciler) target(ctx context.Context, cfg Config) ([]Record, Routes, error) {
	instances, err := r.instances.RoutableInstances(ctx)
	if err != nil {
		return nil, nil, err
	}
	sortInstances(instances)

	addresses := r.resolveAddresses(ctx, cfg)
	return TargetRecords(cfg, addresses, instances), TargetRoutes(cfg, addresses, instances), nil
}

// Update converges provider and router onto the target state. A
// disabled config is a no-op. Mutations apply remove, then add, then
// update, so no duplicate-key transient states arise.
func (r *Reconciler) Update(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := r.module.Get()
	if !cfg.Enabled {
		return nil
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := r.ensureClientsLocked(cfg); err != nil {
		return err
	}

	targetRecords, targetRoutes, err := r.target(ctx, cfg)
	if err != nil {
		return err
	}

	current, err := r.provider.ListRelevantRecords(ctx, cfg.ManagedSubDomain)
	if err != nil {
		return err
	}

	diff := Compute(current, targetRecords)
	if err := r.apply(ctx, diff); err != nil {
		return err
	}

	if err := r.router.ReplaceRoutes(ctx, targetRoutes); err != nil {
		return err
	}

	if !diff.Empty() {
		logger.Info("dns reconcile applied", map[string]interface{}{
			"added":   len(diff.ToAdd),
			"removed": len(diff.ToRemove),
			"updated": len(diff.ToUpdate),
		})
	}
	return nil
}

func (r *Reconciler) apply(ctx context.Context, diff Diff) error {
	if len(diff.ToRemove) > 0 {
		ids := make([]string, 0, len(diff.ToRemove))
		for _, record := range diff.ToRemove {
			ids = append(ids, record.ID)
		}
		if err := r.provider.RemoveRecords(ctx, ids); err != nil {
			return err
		}
	}

	if len(diff.ToAdd) > 0 {
		if err := r.provider.AddRecords(ctx, diff.ToAdd); err != nil {
			return err
		}
	}

	if len(diff.ToUpdate) > 0 {
		if batcher, ok := r.provider.(BatchUpdater); ok {
			if err := batcher.UpdateRecordsBatch(ctx, diff.ToUpdate); err != nil {
				return err
			}
		} else {
			// Providers without native update converge by replace
			ids := make([]string, 0, len(diff.ToUpdate))
			for _, record := range diff.ToUpdate {
				ids = append(ids, record.ID)
			}
			if err := r.provider.RemoveRecords(ctx, ids); err != nil {
				return err
			}
			fresh := make([]Record, len(diff.ToUpdate))
			for i, record := range diff.ToUpdate {
				record.ID = ""
				fresh[i] = record
			}
			if err := r.provider.AddRecords(ctx, fresh); err != nil {
				return err
			}
		}
	}
	return nil
}

// CurrentDiff reports what Update would do, without mutating anything
func (r *Reconciler) CurrentDiff(ctx context.Context) (*Diff, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	cfg := r.module.Get()
	if !cfg.Enabled {
		return &Diff{}, nil
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := r.ensureClientsLocked(cfg); err != nil {
		return nil, err
	}

	targetRecords, _, err := r.target(ctx, cfg)
	if err != nil {
		return nil, err
	}
	current, err := r.provider.ListRelevantRecords(ctx, cfg.ManagedSubDomain)
	if err != nil {
		return nil, err
	}

	diff := Compute(current, targetRecords)
	return &diff, nil
}
