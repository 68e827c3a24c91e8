package reconcile

import (
	"context"
	"errors"
	"testing"

	"perishable-ledger/core/catalog"
	"perishable-ledger/core/ledger"
	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// mockAdapter is a testify mock of Adapter.
type mockAdapter struct {
	mock.Mock
}

func (m *mockAdapter) Name() string { return "mock" }

func (m *mockAdapter) FillLevel(ctx context.Context, ref Ref) (float64, uint8, error) {
	args := m.Called(ctx, ref)
	return args.Get(0).(float64), uint8(args.Int(1)), args.Error(2)
}

func (m *mockAdapter) AddFillLevel(ctx context.Context, ref Ref, delta float64) (bool, error) {
	args := m.Called(ctx, ref, delta)
	return args.Bool(0), args.Error(1)
}

type fixture struct {
	reg      *registry.Registry
	cat      *catalog.Catalog
	vehicles *MemoryAdapter
	engine   *Engine
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.New([]catalog.Commodity{
		{Name: "MILK", Default: &catalog.Default{Period: 1}},
	})
	require.NoError(t, err)
	reg := registry.New(registry.Options{Catalog: cat, Thresholds: settings.NewResolver(cat, nil)})
	vehicles := NewMemoryAdapter(registry.EntityVehicle)
	adapters := NewAdapters()
	adapters.Register(registry.EntityVehicle, vehicles)
	return &fixture{reg: reg, cat: cat, vehicles: vehicles, engine: NewEngine(reg, adapters, nil)}
}

func (f *fixture) container(t *testing.T, h registry.EntityHandle, reported float64, batches ...ledger.Batch) string {
	t.Helper()
	milk := f.cat.IndexOf("MILK")
	id, err := f.reg.Register(registry.Container{
		EntityType:     registry.EntityVehicle,
		CommodityIndex: milk,
		Entity:         h,
		Batches:        batches,
	})
	require.NoError(t, err)
	if h != registry.Unresolved {
		f.vehicles.Report(context.Background(), Observation{Entity: h, CommodityIndex: milk, Amount: reported})
	}
	return id
}

func TestReconcileAll_AddsShortfallAsFreshBatch(t *testing.T) {
	f := newFixture(t)
	id := f.container(t, 1, 650, ledger.New(300, 0.4), ledger.New(200, 0.1))

	plan, applied, err := f.engine.ReconcileAll(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, plan.Summary.ContainersProcessed)
	assert.InDelta(t, 150, plan.Summary.TotalAdded, 1e-9)

	c, _ := f.reg.Get(id)
	require.Len(t, c.Batches, 3)
	assert.InDelta(t, 150, c.Batches[2].Amount, 1e-9)
	assert.Equal(t, 0.0, c.Batches[2].AgeInPeriods)
	assert.InDelta(t, 650, c.Total(), 1e-9)
}

func TestReconcileAll_ConsumesSurplusFIFO(t *testing.T) {
	f := newFixture(t)
	id := f.container(t, 1, 300, ledger.New(150, 0.8), ledger.New(350, 0.2))

	plan, _, err := f.engine.ReconcileAll(context.Background(), Options{})
	require.NoError(t, err)
	assert.InDelta(t, 200, plan.Summary.TotalRemoved, 1e-9)
	require.Len(t, plan.Actions, 1)
	assert.Equal(t, ActionConsume, plan.Actions[0].Type)

	c, _ := f.reg.Get(id)
	require.Len(t, c.Batches, 1, "the oldest batch is consumed first")
	assert.InDelta(t, 300, c.Batches[0].Amount, 1e-9)
	assert.Equal(t, 0.2, c.Batches[0].AgeInPeriods)
}

func TestReconcileAll_UnregistersDrainedContainer(t *testing.T) {
	f := newFixture(t)
	id := f.container(t, 1, 0, ledger.New(40, 0.5), ledger.New(60, 0.1))

	plan, applied, err := f.engine.ReconcileAll(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)
	assert.Equal(t, 1, plan.Summary.Unregistered)
	assert.InDelta(t, 100, plan.Summary.TotalRemoved, 1e-9)

	_, ok := f.reg.Get(id)
	assert.False(t, ok)
	_, tracked := f.reg.FindByEntity(1)
	assert.False(t, tracked)
}

func TestReconcileAll_SkipsUnboundAndGone(t *testing.T) {
	f := newFixture(t)
	f.container(t, registry.Unresolved, 0, ledger.New(10, 0))
	gone := f.container(t, 2, 10, ledger.New(10, 0))
	f.vehicles.Remove(2)
	inSync := f.container(t, 3, 10, ledger.New(10, 0))

	plan, applied, err := f.engine.ReconcileAll(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.Equal(t, 2, plan.Summary.ContainersSkipped)
	assert.Equal(t, 1, plan.Summary.ContainersProcessed)
	assert.Equal(t, 1, plan.Summary.InSync)

	reasons := map[string]string{}
	for _, r := range plan.Results {
		reasons[r.ContainerID] = r.Reason
	}
	assert.Equal(t, "entity gone", reasons[gone])
	assert.Empty(t, reasons[inSync])
}

func TestReconcileAll_DryRunAndReportOnlyDoNotMutate(t *testing.T) {
	for _, opts := range []Options{{DryRun: true}, {Policy: ReportOnly}} {
		f := newFixture(t)
		id := f.container(t, 1, 650, ledger.New(500, 0))

		plan, applied, err := f.engine.ReconcileAll(context.Background(), opts)
		require.NoError(t, err)
		assert.Zero(t, applied)
		assert.False(t, plan.Applied)
		assert.Len(t, plan.Actions, 1)

		c, _ := f.reg.Get(id)
		assert.Equal(t, 500.0, c.Total())
	}
}

func TestReconcileAll_IsIdempotent(t *testing.T) {
	f := newFixture(t)
	f.container(t, 1, 300, ledger.New(500, 0))

	_, applied, err := f.engine.ReconcileAll(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	plan, applied, err := f.engine.ReconcileAll(context.Background(), Options{})
	require.NoError(t, err)
	assert.Zero(t, applied)
	assert.Equal(t, 1, plan.Summary.InSync)
}

func TestReconcileOne(t *testing.T) {
	f := newFixture(t)
	id := f.container(t, 1, 20, ledger.New(10, 0))

	_, applied, err := f.engine.ReconcileOne(context.Background(), id, Options{})
	require.NoError(t, err)
	assert.Equal(t, 1, applied)

	_, _, err = f.engine.ReconcileOne(context.Background(), "missing", Options{})
	assert.ErrorIs(t, err, registry.ErrContainerNotFound)
}

func TestReconcile_AdapterErrorSkips(t *testing.T) {
	f := newFixture(t)
	ad := new(mockAdapter)
	ad.On("FillLevel", mock.Anything, mock.Anything).Return(0.0, 0, errors.New("bus timeout"))
	f.engine.Adapters().Register(registry.EntityBale, ad)

	_, err := f.reg.Register(registry.Container{EntityType: registry.EntityBale, Entity: 9, Batches: []ledger.Batch{ledger.New(1, 0)}})
	require.NoError(t, err)
	_, err = f.reg.Register(registry.Container{EntityType: registry.EntityStored, Entity: 10})
	require.NoError(t, err)

	plan, err := f.engine.Plan(context.Background(), Options{})
	require.NoError(t, err)
	assert.Equal(t, 2, plan.Summary.ContainersSkipped)
	ad.AssertExpectations(t)
}

func TestParseDriftPolicy(t *testing.T) {
	p, err := ParseDriftPolicy("")
	require.NoError(t, err)
	assert.Equal(t, TrustExternal, p)

	p, err = ParseDriftPolicy("REPORT_ONLY")
	require.NoError(t, err)
	assert.Equal(t, ReportOnly, p)

	_, err = ParseDriftPolicy("panic")
	assert.Error(t, err)
}
