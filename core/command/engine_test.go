package command

import (
	"context"
	"math"
	"strings"
	"testing"

	"perishable-ledger/core/catalog"
	"perishable-ledger/core/ledger"
	"perishable-ledger/core/reconcile"
	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

type mockObserver struct {
	mock.Mock
}

func (m *mockObserver) CommandExecuted(kind Kind, success bool) { m.Called(kind, success) }
func (m *mockObserver) Expired(commodity string, amount float64) { m.Called(commodity, amount) }
func (m *mockObserver) Containers(n int)                         { m.Called(n) }

type fixture struct {
	cat      *catalog.Catalog
	reg      *registry.Registry
	vehicles *reconcile.MemoryAdapter
	engine   *Engine
	ctx      context.Context
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	cat, err := catalog.New([]catalog.Commodity{
		{Name: "MILK", PricePerUnit: 1, Default: &catalog.Default{Period: 1}},
		{Name: "WHEAT", PricePerUnit: 0.25},
	})
	require.NoError(t, err)
	resolver := settings.NewResolver(cat, nil)
	reg := registry.New(registry.Options{Catalog: cat, Thresholds: resolver, Clock: registry.NewClock(1)})
	vehicles := reconcile.NewMemoryAdapter(registry.EntityVehicle)
	adapters := reconcile.NewAdapters()
	adapters.Register(registry.EntityVehicle, vehicles)
	engine := NewEngine(Options{Registry: reg, Resolver: resolver, Adapters: adapters})
	return &fixture{cat: cat, reg: reg, vehicles: vehicles, engine: engine, ctx: context.Background()}
}

func (f *fixture) report(name string, h registry.EntityHandle, amount, capacity float64) {
	f.vehicles.Report(f.ctx, reconcile.Observation{
		Entity:         h,
		CommodityIndex: f.cat.IndexOf(name),
		Amount:         amount,
		Capacity:       capacity,
		FarmID:         1,
	})
}

func (f *fixture) level(t *testing.T, id string) float64 {
	t.Helper()
	c, ok := f.reg.Get(id)
	require.True(t, ok)
	amount, _, err := f.vehicles.FillLevel(f.ctx, reconcile.RefOf(c))
	require.NoError(t, err)
	return amount
}

func (f *fixture) tracked(t *testing.T, h registry.EntityHandle) string {
	t.Helper()
	id, ok := f.reg.FindByEntity(h)
	require.True(t, ok)
	return id
}

func TestExecute_RejectsUnprivilegedWithoutSideEffects(t *testing.T) {
	f := newFixture(t)
	f.report("MILK", 1, 100, 0)
	id := f.tracked(t, 1)
	before := f.reg.Snapshot()

	cmds := []Command{
		AddBatch{ContainerID: id, Amount: 10},
		RemoveBatch{ContainerID: id},
		SimulateAll{Hours: 48},
		ForceExpireAll{},
		ClearLossLog{},
		Reconcile{},
		ChangeSettings{Op: SettingsResetAll},
	}
	for _, cmd := range cmds {
		res, err := f.engine.Execute(f.ctx, Actor{Name: "guest"}, cmd)
		assert.ErrorIs(t, err, ErrNotPrivileged)
		assert.False(t, res.Success)
		assert.Equal(t, cmd.Kind(), res.Kind)
		assert.True(t, strings.HasPrefix(res.Status(), "Error: "))
	}
	assert.Equal(t, before, f.reg.Snapshot())
	assert.Equal(t, 100.0, f.level(t, id))
}

func TestExecute_PrivilegeIsDistinctFromNotFound(t *testing.T) {
	f := newFixture(t)

	_, err := f.engine.Execute(f.ctx, Actor{Admin: true}, SetBatchAge{ContainerID: "nope"})
	assert.ErrorIs(t, err, registry.ErrContainerNotFound)
	assert.NotErrorIs(t, err, ErrNotPrivileged)

	_, err = f.engine.Execute(f.ctx, HostActor, nil)
	assert.ErrorIs(t, err, ErrUnknownAction)
}

func TestReportFill_Lifecycle(t *testing.T) {
	f := newFixture(t)

	f.report("MILK", 1, 100, 0)
	id := f.tracked(t, 1)

	f.report("MILK", 1, 150, 0)
	c, _ := f.reg.Get(id)
	require.Len(t, c.Batches, 2)
	assert.Equal(t, 50.0, c.Batches[1].Amount)

	f.report("MILK", 1, 120, 0)
	c, _ = f.reg.Get(id)
	assert.InDelta(t, 120, c.Total(), 1e-9)
	assert.InDelta(t, 70, c.Batches[0].Amount, 1e-9, "consumption takes the oldest batch first")

	f.report("MILK", 1, 0, 0)
	_, ok := f.reg.Get(id)
	assert.False(t, ok)

	f.report("WHEAT", 2, 500, 0)
	_, ok = f.reg.FindByEntity(2)
	assert.False(t, ok, "non-perishable commodities are not tracked")
}

func TestReportFill_CommodityChangeReplacesContainer(t *testing.T) {
	f := newFixture(t)
	f.report("MILK", 1, 100, 0)
	old := f.tracked(t, 1)

	f.report("WHEAT", 1, 10, 0)
	_, ok := f.reg.Get(old)
	assert.False(t, ok)
	_, ok = f.reg.FindByEntity(1)
	assert.False(t, ok, "the new commodity is not perishable")
}

func TestReportFill_SecondFillUnitKeepsTrackedGoods(t *testing.T) {
	f := newFixture(t)
	f.report("MILK", 7, 1000, 0)
	id := f.tracked(t, 7)
	f.engine.Tick(f.ctx, 12)

	stored := f.vehicles.Report(f.ctx, reconcile.Observation{
		Entity:         7,
		FillUnitIndex:  1,
		CommodityIndex: f.cat.IndexOf("WHEAT"),
		Amount:         50,
	})
	out, err := f.engine.ReportFill(f.ctx, stored)
	require.NoError(t, err)
	assert.Equal(t, FillIgnored, out)

	c, ok := f.reg.Get(id)
	require.True(t, ok)
	assert.InDelta(t, 1000, c.Total(), 1e-9)
	assert.InDelta(t, 0.5, c.Batches[0].AgeInPeriods, 1e-9)
	assert.Equal(t, id, f.tracked(t, 7))
	assert.Equal(t, 1, f.reg.Stats().Registered)
	assert.Zero(t, f.reg.Stats().Unregistered)
}

func TestReportFill_RejectsNonFiniteLevels(t *testing.T) {
	f := newFixture(t)
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		out, err := f.engine.ReportFill(f.ctx, reconcile.Observation{
			EntityType:     registry.EntityVehicle,
			Entity:         3,
			CommodityIndex: f.cat.IndexOf("MILK"),
			Amount:         v,
		})
		assert.ErrorIs(t, err, ErrInvalidArgument)
		assert.Equal(t, FillIgnored, out)
	}
	assert.Zero(t, f.reg.Len())
}

func TestReportFill_WarnsWithoutWorldObjectID(t *testing.T) {
	f := newFixture(t)
	core, logs := observer.New(zapcore.WarnLevel)
	f.engine.logger = zap.New(core)
	milk := f.cat.IndexOf("MILK")

	_, err := f.engine.ReportFill(f.ctx, reconcile.Observation{EntityType: registry.EntityVehicle, Entity: 4, CommodityIndex: milk, Amount: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, logs.FilterField(zap.Uint32("entity", 4)).Len())

	_, err = f.engine.ReportFill(f.ctx, reconcile.Observation{EntityType: registry.EntityVehicle, Entity: 5, CommodityIndex: milk, Amount: 10, WorldObjectID: "veh-5"})
	require.NoError(t, err)
	assert.Zero(t, logs.FilterField(zap.Uint32("entity", 5)).Len())
}

func TestAddBatch_BooksObservedDeltaOnly(t *testing.T) {
	f := newFixture(t)
	f.report("MILK", 1, 900, 1000)
	id := f.tracked(t, 1)

	res, err := f.engine.Execute(f.ctx, HostActor, AddBatch{ContainerID: id, Amount: 500, Age: 0.25})
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.InDelta(t, 100, res.Data, 1e-9)

	c, _ := f.reg.Get(id)
	require.Len(t, c.Batches, 2, "the fill hook must not book the same goods again")
	assert.InDelta(t, 100, c.Batches[1].Amount, 1e-9)
	assert.Equal(t, 0.25, c.Batches[1].AgeInPeriods)
	assert.Equal(t, 1000.0, f.level(t, id))
	assert.False(t, f.engine.Suppressed(1))

	_, err = f.engine.Execute(f.ctx, HostActor, AddBatch{ContainerID: id, Amount: 10})
	assert.ErrorIs(t, err, ErrNoChange, "a full container accepts nothing")
	c, _ = f.reg.Get(id)
	assert.InDelta(t, 1000, c.Total(), 1e-9)
}

func TestAddBatch_Validation(t *testing.T) {
	f := newFixture(t)
	id, err := f.reg.Register(registry.Container{EntityType: registry.EntityBale, CommodityIndex: f.cat.IndexOf("MILK")})
	require.NoError(t, err)

	_, err = f.engine.Execute(f.ctx, HostActor, AddBatch{ContainerID: id, Amount: 0})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	_, err = f.engine.Execute(f.ctx, HostActor, AddBatch{ContainerID: id, Amount: 5, Age: -1})
	assert.ErrorIs(t, err, ErrInvalidArgument)

	res, err := f.engine.Execute(f.ctx, HostActor, AddBatch{ContainerID: id, Amount: 5})
	require.NoError(t, err)
	assert.Contains(t, res.Message, "Added 5.00")
}

func TestExecute_RejectsNonFiniteArguments(t *testing.T) {
	f := newFixture(t)
	id, err := f.reg.Register(registry.Container{
		EntityType:     registry.EntityBale,
		CommodityIndex: f.cat.IndexOf("MILK"),
		Batches:        []ledger.Batch{ledger.New(100, 0.2)},
	})
	require.NoError(t, err)
	before := f.reg.Snapshot()
	clock := f.reg.Clock().Hours()

	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		cmds := []Command{
			AddBatch{ContainerID: id, Amount: v},
			AddBatch{ContainerID: id, Amount: 5, Age: v},
			SetBatchAge{ContainerID: id, BatchIndex: 0, Age: v},
			SetAllBatchAges{ContainerID: id, Age: v},
			SimulateAll{Hours: v},
			SimulateContainer{ContainerID: id, Hours: v},
		}
		for _, cmd := range cmds {
			res, err := f.engine.Execute(f.ctx, HostActor, cmd)
			assert.Error(t, err, "%s with %v", cmd.Kind(), v)
			assert.False(t, res.Success)
		}
	}
	assert.Equal(t, before, f.reg.Snapshot())
	assert.Equal(t, clock, f.reg.Clock().Hours())
}

func TestRemoveBatch_AgainstLiveEntity(t *testing.T) {
	f := newFixture(t)
	f.report("MILK", 1, 100, 0)
	f.report("MILK", 1, 160, 0)
	id := f.tracked(t, 1)

	_, err := f.engine.Execute(f.ctx, HostActor, RemoveBatch{ContainerID: id, BatchIndex: 5})
	assert.ErrorIs(t, err, registry.ErrBatchNotFound)

	res, err := f.engine.Execute(f.ctx, HostActor, RemoveBatch{ContainerID: id, BatchIndex: 0})
	require.NoError(t, err)
	assert.InDelta(t, 100, res.Data, 1e-9)

	c, _ := f.reg.Get(id)
	require.Len(t, c.Batches, 1)
	assert.Equal(t, 60.0, c.Batches[0].Amount)
	assert.InDelta(t, 60, f.level(t, id), 1e-9)
}

func TestSimulateAll_DrainsExpiredFromEntity(t *testing.T) {
	f := newFixture(t)
	obs := new(mockObserver)
	obs.On("CommandExecuted", KindSimulateAll, true).Once()
	obs.On("Expired", "MILK", 100.0).Once()
	obs.On("Containers", mock.Anything).Maybe()
	f.engine.observer = obs

	f.report("MILK", 1, 100, 0)
	id := f.tracked(t, 1)

	res, err := f.engine.Execute(f.ctx, HostActor, SimulateAll{Hours: 24})
	require.NoError(t, err)
	sim := res.Data.(registry.SimulateResult)
	assert.Equal(t, 1, sim.BatchesExpired)

	c, ok := f.reg.Get(id)
	require.True(t, ok)
	assert.Empty(t, c.Batches)
	assert.Zero(t, f.level(t, id))
	assert.Len(t, f.reg.LossLog(0), 1)
	obs.AssertExpectations(t)

	obs.On("CommandExecuted", KindSimulateAll, false).Once()
	_, err = f.engine.Execute(f.ctx, HostActor, SimulateAll{Hours: 0})
	assert.ErrorIs(t, err, ErrInvalidArgument)
	obs.AssertExpectations(t)
}

func TestForceExpire(t *testing.T) {
	f := newFixture(t)
	f.report("MILK", 1, 40, 0)
	id := f.tracked(t, 1)

	res, err := f.engine.Execute(f.ctx, HostActor, ForceExpire{ContainerID: id, BatchIndex: 0})
	require.NoError(t, err)
	assert.Equal(t, 40.0, res.Data)
	assert.Zero(t, f.level(t, id))

	_, err = f.engine.Execute(f.ctx, HostActor, ForceExpireAll{EntityType: registry.EntityType(42)})
	assert.ErrorIs(t, err, ErrUnknownEntityType)
}

func TestChangeSettings_RescansNewlyPerishable(t *testing.T) {
	f := newFixture(t)
	f.report("WHEAT", 7, 300, 0)
	_, ok := f.reg.FindByEntity(7)
	require.False(t, ok)

	res, err := f.engine.Execute(f.ctx, HostActor, ChangeSettings{Op: SettingsSetPerishable, Commodity: "wheat", Perishable: true})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Data)

	id := f.tracked(t, 7)
	c, _ := f.reg.Get(id)
	assert.Equal(t, 300.0, c.Total())
	assert.Equal(t, "WHEAT", c.Identity.CommodityName)

	_, err = f.engine.Execute(f.ctx, HostActor, ChangeSettings{Op: SettingsSetExpiration, Commodity: "MILK", Period: 99})
	assert.ErrorIs(t, err, settings.ErrPeriodOutOfRange)
}

func TestReplaceSettings(t *testing.T) {
	f := newFixture(t)
	o := settings.NewOverrides()
	o.PerCommodity["MILK"] = settings.DoesNotExpire()

	_, err := f.engine.ReplaceSettings(f.ctx, Actor{}, o)
	assert.ErrorIs(t, err, ErrNotPrivileged)

	res, err := f.engine.ReplaceSettings(f.ctx, HostActor, o)
	require.NoError(t, err)
	assert.True(t, res.Success)
	assert.False(t, f.engine.Resolver().IsPerishable(f.cat.IndexOf("MILK")))
}

func TestReconcileCommand(t *testing.T) {
	f := newFixture(t)
	f.report("MILK", 1, 500, 0)
	id := f.tracked(t, 1)
	// Goods appear without a hook, as after a missed callback.
	f.engine.suppressed[1] = 1
	f.report("MILK", 1, 650, 0)
	delete(f.engine.suppressed, 1)

	res, err := f.engine.Execute(f.ctx, HostActor, Reconcile{DryRun: true})
	require.NoError(t, err)
	plan := res.Data.(*reconcile.Plan)
	assert.InDelta(t, 150, plan.Summary.TotalAdded, 1e-9)
	c, _ := f.reg.Get(id)
	assert.Equal(t, 500.0, c.Total())

	_, err = f.engine.Execute(f.ctx, HostActor, Reconcile{})
	require.NoError(t, err)
	c, _ = f.reg.Get(id)
	assert.InDelta(t, 650, c.Total(), 1e-9)
}

func TestTick(t *testing.T) {
	f := newFixture(t)
	id, err := f.reg.Register(registry.Container{
		EntityType:     registry.EntityBale,
		CommodityIndex: f.cat.IndexOf("MILK"),
		Batches:        []ledger.Batch{ledger.New(10, 0.2), ledger.New(10, 0.205)},
	})
	require.NoError(t, err)

	res := f.engine.Tick(f.ctx, 6)
	assert.Equal(t, 1, res.ContainersProcessed)
	assert.Equal(t, 6.0, f.reg.Clock().Hours())

	c, _ := f.reg.Get(id)
	require.Len(t, c.Batches, 1, "similar batches merge on tick")
	assert.Equal(t, 20.0, c.Batches[0].Amount)

	for _, h := range []float64{math.NaN(), math.Inf(1), -3} {
		res = f.engine.Tick(f.ctx, h)
		assert.Zero(t, res.ContainersProcessed)
	}
	assert.Equal(t, 6.0, f.reg.Clock().Hours())
	c, _ = f.reg.Get(id)
	assert.InDelta(t, 0.2025+0.25, c.Batches[0].AgeInPeriods, 0.01)
}

func TestKind_Text(t *testing.T) {
	b, err := KindForceExpireAll.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "forceExpireAll", string(b))

	var k Kind
	require.NoError(t, k.UnmarshalText([]byte("reconcile")))
	assert.Equal(t, KindReconcile, k)
	assert.ErrorIs(t, k.UnmarshalText([]byte("explode")), ErrUnknownAction)
}

func TestEngine_EntityRemovedKeepsContainer(t *testing.T) {
	f := newFixture(t)
	f.report("MILK", 7, 300, 0)
	id := f.tracked(t, 7)

	got, ok := f.engine.EntityRemoved(7)
	require.True(t, ok)
	assert.Equal(t, id, got)

	c, ok := f.reg.Get(id)
	require.True(t, ok, "container survives its entity")
	assert.False(t, c.Bound())
	assert.InDelta(t, 300, c.Total(), 1e-9)
}

func TestEngine_ObserveAndRestore(t *testing.T) {
	f := newFixture(t)
	milk := f.cat.IndexOf("MILK")
	f.vehicles.Report(f.ctx, reconcile.Observation{Entity: 7, CommodityIndex: milk, Amount: 300, WorldObjectID: "veh-7"})

	var snap registry.State
	f.engine.Observe(func(st registry.State, o settings.Overrides) {
		snap = st
		assert.Empty(t, o.PerCommodity)
	})
	require.Len(t, snap.Containers, 1)
	id := snap.Containers[0].ID

	// Restore drops bindings. The rescan re-attaches veh-7 by identity and
	// tracks entity 8, which the snapshot never saw.
	f.vehicles.Report(f.ctx, reconcile.Observation{Entity: 7, CommodityIndex: milk, Amount: 320, WorldObjectID: "veh-7"})
	f.vehicles.Report(f.ctx, reconcile.Observation{Entity: 8, CommodityIndex: milk, Amount: 50})
	n, err := f.engine.Restore(f.ctx, snap)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 2, f.reg.Len())

	assert.Equal(t, id, f.tracked(t, 7))
	c, _ := f.reg.Get(id)
	assert.InDelta(t, 320, c.Total(), 1e-9, "level difference booked on rebind")
}

func TestEngine_ReportFillRebinds(t *testing.T) {
	f := newFixture(t)
	milk := f.cat.IndexOf("MILK")
	id, err := f.reg.Register(registry.Container{
		EntityType:     registry.EntityVehicle,
		CommodityIndex: milk,
		Identity:       registry.Identity{WorldObjectID: "veh-9"},
		Batches:        []ledger.Batch{ledger.New(100, 0.4)},
	})
	require.NoError(t, err)

	out, err := f.engine.ReportFill(f.ctx, reconcile.Observation{
		EntityType: registry.EntityVehicle, Entity: 9, CommodityIndex: milk, Amount: 100, WorldObjectID: "veh-9",
	})
	require.NoError(t, err)
	assert.Equal(t, FillRebound, out)
	assert.Equal(t, id, f.tracked(t, 9))

	c, _ := f.reg.Get(id)
	assert.Equal(t, []ledger.Batch{ledger.New(100, 0.4)}, c.Batches, "aged batches survive the rebind")
}
