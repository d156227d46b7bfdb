package dns

import (
	"context"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/mcadmin/mc-admin/internal/dynconfig"
	"github.com/mcadmin/mc-admin/internal/models"
)

func TestComputeDiff(t *testing.T) {
	current := []Record{
		{ID: "1", SubDomain: "*.mc", Type: "A", Value: "1.2.3.4", TTL: 600},
		{ID: "2", SubDomain: "_minecraft._tcp.old.mc", Type: "SRV", Value: "0 5 25565 old.mc.ex.com", TTL: 600},
		{ID: "3", SubDomain: "*.mc", Type: "AAAA", Value: "::1", TTL: 600},
	}
	target := []Record{
		{SubDomain: "*.mc", Type: "A", Value: "5.6.7.8", TTL: 600},
		{SubDomain: "*.mc", Type: "AAAA", Value: "::1", TTL: 600},
		{SubDomain: "_minecraft._tcp.new.mc", Type: "SRV", Value: "0 5 25565 new.mc.ex.com", TTL: 600},
	}

	diff := Compute(current, target)

	require.Len(t, diff.ToAdd, 1)
	assert.Equal(t, "_minecraft._tcp.new.mc", diff.ToAdd[0].SubDomain)

	require.Len(t, diff.ToRemove, 1)
	assert.Equal(t, "2", diff.ToRemove[0].ID)

	require.Len(t, diff.ToUpdate, 1)
	assert.Equal(t, "1", diff.ToUpdate[0].ID, "update carries the current record's id")
	assert.Equal(t, "5.6.7.8", diff.ToUpdate[0].Value)
}

func TestComputeDiffTTLChangeIsUpdate(t *testing.T) {
	current := []Record{{ID: "1", SubDomain: "*.mc", Type: "A", Value: "1.2.3.4", TTL: 600}}
	target := []Record{{SubDomain: "*.mc", Type: "A", Value: "1.2.3.4", TTL: 15}}

	diff := Compute(current, target)
	require.Len(t, diff.ToUpdate, 1)
	assert.Equal(t, 15, diff.ToUpdate[0].TTL)
	assert.Empty(t, diff.ToAdd)
	assert.Empty(t, diff.ToRemove)
}

func TestComputeDiffConverged(t *testing.T) {
	records := []Record{{ID: "1", SubDomain: "*.mc", Type: "A", Value: "1.2.3.4", TTL: 600}}
	target := []Record{{SubDomain: "*.mc", Type: "A", Value: "1.2.3.4", TTL: 600}}

	assert.True(t, Compute(records, target).Empty())
}

func testConfig() Config {
	return Config{
		Enabled:          true,
		Provider:         ProviderDNSPod,
		Credentials:      Credentials{DNSPodToken: "1,token"},
		Domain:           "ex.com",
		ManagedSubDomain: "mc",
		TTL:              15,
		RouterBaseURL:    "http://localhost:26666",
		Addresses: []AddressEntry{
			{Name: "*", Source: SourceManual, RecordType: "A", Value: "1.2.3.4", Port: 25565},
		},
	}
}

func TestTargetRecords(t *testing.T) {
	cfg := testConfig()
	addresses := []ResolvedAddress{{Name: "*", RecordType: "A", Value: "1.2.3.4", Port: 25565}}
	instances := []Instance{{Name: "survival", GamePort: 25565}}

	records := TargetRecords(cfg, addresses, instances)

	require.Len(t, records, 2)
	assert.Equal(t, Record{SubDomain: "*.mc", Type: "A", Value: "1.2.3.4", TTL: 15}, records[0])
	assert.Equal(t, Record{
		SubDomain: "_minecraft._tcp.survival.mc",
		Type:      "SRV",
		Value:     "0 5 25565 survival.mc.ex.com",
		TTL:       15,
	}, records[1])
}

func TestTargetRecordsNestedAddress(t *testing.T) {
	cfg := testConfig()
	addresses := []ResolvedAddress{{Name: "eu", RecordType: "AAAA", Value: "::1", Port: 30000}}
	instances := []Instance{{Name: "lobby", GamePort: 25566}}

	records := TargetRecords(cfg, addresses, instances)

	require.Len(t, records, 2)
	assert.Equal(t, "*.eu.mc", records[0].SubDomain)
	assert.Equal(t, "AAAA", records[0].Type)
	assert.Equal(t, "_minecraft._tcp.lobby.eu.mc", records[1].SubDomain)
	assert.Equal(t, "0 5 30000 lobby.eu.mc.ex.com", records[1].Value)
}

func TestTargetRoutes(t *testing.T) {
	cfg := testConfig()
	addresses := []ResolvedAddress{{Name: "*", RecordType: "A", Value: "1.2.3.4", Port: 25565}}
	instances := []Instance{
		{Name: "survival", GamePort: 25565},
		{Name: "creative", GamePort: 25566},
	}

	routes := TargetRoutes(cfg, addresses, instances)

	assert.Equal(t, Routes{
		"survival.mc.ex.com": "localhost:25565",
		"creative.mc.ex.com": "localhost:25566",
	}, routes)
}

func TestConfigValidate(t *testing.T) {
	assert.NoError(t, Config{Enabled: false}.Validate(), "disabled config is always valid")

	cfg := testConfig()
	assert.NoError(t, cfg.Validate())

	bad := testConfig()
	bad.Provider = "route53"
	assert.Error(t, bad.Validate())

	bad = testConfig()
	bad.Domain = ""
	assert.Error(t, bad.Validate())

	bad = testConfig()
	bad.Addresses[0].RecordType = "TXT"
	assert.Error(t, bad.Validate())

	bad = testConfig()
	bad.Addresses[0].Value = ""
	assert.Error(t, bad.Validate())

	natmap := testConfig()
	natmap.Addresses = []AddressEntry{{Name: "nat", Source: SourceNatmap, NatmapInternalPort: 25565}}
	assert.NoError(t, natmap.Validate())

	natmap.Addresses[0].NatmapInternalPort = 0
	assert.Error(t, natmap.Validate())
}

func TestClientHashTracksClientFields(t *testing.T) {
	a := testConfig()
	b := testConfig()
	assert.Equal(t, a.clientHash(), b.clientHash())

	b.Credentials.DNSPodToken = "2,other"
	assert.NotEqual(t, a.clientHash(), b.clientHash())

	// Address entries do not force a client rebuild
	c := testConfig()
	c.Addresses = nil
	assert.Equal(t, a.clientHash(), c.clientHash())
}

// fakeProvider records every mutation for assertion
type fakeProvider struct {
	mu      sync.Mutex
	domain  string
	records []Record
	nextID  int

	added   []Record
	removed []string
	updated []Record
}

func newFakeProvider(domain string) *fakeProvider {
	return &fakeProvider{domain: domain, nextID: 1}
}

func (f *fakeProvider) Domain() string { return f.domain }

func (f *fakeProvider) ListRelevantRecords(_ context.Context, managedSubDomain string) ([]Record, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var relevant []Record
	for _, record := range f.records {
		if relevantSubDomain(record.SubDomain, managedSubDomain) {
			relevant = append(relevant, record)
		}
	}
	return relevant, nil
}

func (f *fakeProvider) AddRecords(_ context.Context, records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range records {
		record.ID = string(rune('a' + f.nextID))
		f.nextID++
		f.records = append(f.records, record)
		f.added = append(f.added, record)
	}
	return nil
}

func (f *fakeProvider) RemoveRecords(_ context.Context, ids []string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, id := range ids {
		for i, record := range f.records {
			if record.ID == id {
				f.records = append(f.records[:i], f.records[i+1:]...)
				break
			}
		}
		f.removed = append(f.removed, id)
	}
	return nil
}

func (f *fakeProvider) mutationCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.added) + len(f.removed) + len(f.updated)
}

// fakeBatchProvider adds native batch update on top of fakeProvider
type fakeBatchProvider struct {
	*fakeProvider
}

func (f *fakeBatchProvider) UpdateRecordsBatch(_ context.Context, records []Record) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, record := range records {
		for i, existing := range f.records {
			if existing.ID == record.ID {
				f.records[i] = record
				break
			}
		}
		f.updated = append(f.updated, record)
	}
	return nil
}

type fakeRouter struct {
	mu       sync.Mutex
	routes   Routes
	replaces int
}

func (f *fakeRouter) ReplaceRoutes(_ context.Context, target Routes) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.routes = target
	f.replaces++
	return nil
}

type fakeInstanceSource struct {
	instances []Instance
}

func (f *fakeInstanceSource) RoutableInstances(context.Context) ([]Instance, error) {
	return append([]Instance(nil), f.instances...), nil
}

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.DynamicConfig{}))
	return db
}

func newTestReconciler(t *testing.T, provider Provider, router RouteTable, instances *fakeInstanceSource) (*Reconciler, *dynconfig.Module[Config]) {
	t.Helper()
	db := openTestDB(t)
	module, err := dynconfig.NewModule(db, ModuleName, testConfig())
	require.NoError(t, err)

	r := NewReconciler(module, instances, nil)
	r.newProvider = func(Config) (Provider, error) { return provider, nil }
	r.newRouter = func(Config) RouteTable { return router }
	return r, module
}

func TestReconcilerConverges(t *testing.T) {
	provider := &fakeBatchProvider{newFakeProvider("ex.com")}
	router := &fakeRouter{}
	source := &fakeInstanceSource{instances: []Instance{{Name: "survival", GamePort: 25565}}}
	r, _ := newTestReconciler(t, provider, router, source)

	require.NoError(t, r.Update(context.Background()))

	require.Len(t, provider.added, 2)
	assert.Equal(t, "*.mc", provider.added[0].SubDomain)
	assert.Equal(t, "A", provider.added[0].Type)
	assert.Equal(t, "1.2.3.4", provider.added[0].Value)
	assert.Equal(t, 15, provider.added[0].TTL)
	assert.Equal(t, "_minecraft._tcp.survival.mc", provider.added[1].SubDomain)
	assert.Equal(t, "0 5 25565 survival.mc.ex.com", provider.added[1].Value)

	assert.Equal(t, Routes{"survival.mc.ex.com": "localhost:25565"}, router.routes)
}

func TestReconcilerIdempotent(t *testing.T) {
	provider := &fakeBatchProvider{newFakeProvider("ex.com")}
	router := &fakeRouter{}
	source := &fakeInstanceSource{instances: []Instance{{Name: "survival", GamePort: 25565}}}
	r, _ := newTestReconciler(t, provider, router, source)

	require.NoError(t, r.Update(context.Background()))
	before := provider.mutationCount()

	require.NoError(t, r.Update(context.Background()))
	assert.Equal(t, before, provider.mutationCount(), "second run must issue no provider mutations")
}

func TestReconcilerRemovesStaleRecords(t *testing.T) {
	provider := &fakeBatchProvider{newFakeProvider("ex.com")}
	provider.records = []Record{
		{ID: "stale", SubDomain: "_minecraft._tcp.gone.mc", Type: "SRV", Value: "0 5 25565 gone.mc.ex.com", TTL: 15},
	}
	router := &fakeRouter{}
	source := &fakeInstanceSource{instances: []Instance{{Name: "survival", GamePort: 25565}}}
	r, _ := newTestReconciler(t, provider, router, source)

	require.NoError(t, r.Update(context.Background()))
	assert.Equal(t, []string{"stale"}, provider.removed)
}

func TestReconcilerBatchUpdateKeepsIDs(t *testing.T) {
	provider := &fakeBatchProvider{newFakeProvider("ex.com")}
	provider.records = []Record{
		{ID: "keep", SubDomain: "*.mc", Type: "A", Value: "9.9.9.9", TTL: 15},
	}
	router := &fakeRouter{}
	source := &fakeInstanceSource{}
	r, _ := newTestReconciler(t, provider, router, source)

	require.NoError(t, r.Update(context.Background()))

	require.Len(t, provider.updated, 1)
	assert.Equal(t, "keep", provider.updated[0].ID)
	assert.Equal(t, "1.2.3.4", provider.updated[0].Value)
	assert.Empty(t, provider.removed)
}

func TestReconcilerUpdateFallbackRemovesThenAdds(t *testing.T) {
	provider := newFakeProvider("ex.com")
	provider.records = []Record{
		{ID: "old", SubDomain: "*.mc", Type: "A", Value: "9.9.9.9", TTL: 15},
	}
	router := &fakeRouter{}
	source := &fakeInstanceSource{}
	r, _ := newTestReconciler(t, provider, router, source)

	require.NoError(t, r.Update(context.Background()))

	assert.Equal(t, []string{"old"}, provider.removed)
	require.Len(t, provider.added, 1)
	assert.Equal(t, "1.2.3.4", provider.added[0].Value)
}

func TestReconcilerDisabledIsNoop(t *testing.T) {
	provider := &fakeBatchProvider{newFakeProvider("ex.com")}
	router := &fakeRouter{}
	r, module := newTestReconciler(t, provider, router, &fakeInstanceSource{})

	cfg := module.Get()
	cfg.Enabled = false
	require.NoError(t, module.Set(cfg))

	require.NoError(t, r.Update(context.Background()))
	assert.Zero(t, provider.mutationCount())
	assert.Zero(t, router.replaces)
}

func TestReconcilerRebuildsClientsOnCredentialChange(t *testing.T) {
	provider := &fakeBatchProvider{newFakeProvider("ex.com")}
	router := &fakeRouter{}
	r, module := newTestReconciler(t, provider, router, &fakeInstanceSource{})

	builds := 0
	r.newProvider = func(Config) (Provider, error) {
		builds++
		return provider, nil
	}

	ctx := context.Background()
	require.NoError(t, r.Update(ctx))
	require.NoError(t, r.Update(ctx))
	assert.Equal(t, 1, builds, "unchanged config must not rebuild clients")

	cfg := module.Get()
	cfg.Credentials.DNSPodToken = "3,rotated"
	require.NoError(t, module.Set(cfg))

	require.NoError(t, r.Update(ctx))
	assert.Equal(t, 2, builds)
}

func TestCurrentDiffDoesNotMutate(t *testing.T) {
	provider := &fakeBatchProvider{newFakeProvider("ex.com")}
	router := &fakeRouter{}
	source := &fakeInstanceSource{instances: []Instance{{Name: "survival", GamePort: 25565}}}
	r, _ := newTestReconciler(t, provider, router, source)

	diff, err := r.CurrentDiff(context.Background())
	require.NoError(t, err)

	assert.Len(t, diff.ToAdd, 2)
	assert.Zero(t, provider.mutationCount())
	assert.Zero(t, router.replaces)
}
