package registry

import (
	"encoding/json"
	"math"
	"testing"

	"perishable-ledger/core/catalog"
	"perishable-ledger/core/ledger"
	"perishable-ledger/core/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	deltas []Delta
}

func (r *recorder) Publish(d Delta) { r.deltas = append(r.deltas, d) }

func (r *recorder) ops() []DeltaOp {
	out := make([]DeltaOp, len(r.deltas))
	for i, d := range r.deltas {
		out[i] = d.Op
	}
	return out
}

func newTestRegistry(t *testing.T) (*Registry, *recorder, *catalog.Catalog) {
	t.Helper()
	cat, err := catalog.New([]catalog.Commodity{
		{Name: "MILK", PricePerUnit: 2, Default: &catalog.Default{Period: 1}},
		{Name: "WHEAT", PricePerUnit: 0.5},
	})
	require.NoError(t, err)
	rec := &recorder{}
	reg := New(Options{
		Catalog:      cat,
		Thresholds:   settings.NewResolver(cat, nil),
		Clock:        NewClock(1),
		LossLogLimit: 3,
		Sink:         rec,
	})
	return reg, rec, cat
}

func register(t *testing.T, reg *Registry, cat *catalog.Catalog, name string, h EntityHandle, batches ...ledger.Batch) string {
	t.Helper()
	id, err := reg.Register(Container{
		EntityType:     EntityVehicle,
		FarmID:         1,
		CommodityIndex: cat.IndexOf(name),
		Entity:         h,
		Batches:        batches,
	})
	require.NoError(t, err)
	return id
}

func TestRegistry_RegisterAndLookup(t *testing.T) {
	reg, rec, cat := newTestRegistry(t)
	id := register(t, reg, cat, "MILK", 7, ledger.New(100, 0))

	c, ok := reg.Get(id)
	require.True(t, ok)
	assert.Equal(t, "MILK", c.Identity.CommodityName)
	assert.Equal(t, 100.0, c.Total())

	got, ok := reg.FindByEntity(7)
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, err := reg.Register(Container{ID: id, EntityType: EntityBale})
	assert.ErrorIs(t, err, ErrDuplicateID)

	_, err = reg.Register(Container{EntityType: EntityBale, Entity: 7})
	assert.ErrorIs(t, err, ErrEntityBound)

	assert.Equal(t, []DeltaOp{OpRegister}, rec.ops())
}

func TestRegistry_GetReturnsCopy(t *testing.T) {
	reg, _, cat := newTestRegistry(t)
	id := register(t, reg, cat, "MILK", 0, ledger.New(10, 0))

	c, _ := reg.Get(id)
	c.Batches[0].Amount = 999

	again, _ := reg.Get(id)
	assert.Equal(t, 10.0, again.Batches[0].Amount)
}

func TestRegistry_BatchOperations(t *testing.T) {
	reg, rec, cat := newTestRegistry(t)
	id := register(t, reg, cat, "MILK", 0)

	require.NoError(t, reg.AddBatch(id, 50, 0.2))
	require.NoError(t, reg.AddBatch(id, 30, 0.1))
	assert.ErrorIs(t, reg.AddBatch(id, 0.0001, 0), ErrInvalidAmount)
	assert.ErrorIs(t, reg.AddBatch("missing", 1, 0), ErrContainerNotFound)
	for _, v := range []float64{math.NaN(), math.Inf(1), math.Inf(-1)} {
		assert.ErrorIs(t, reg.AddBatch(id, v, 0), ErrInvalidAmount)
		assert.ErrorIs(t, reg.AddBatch(id, 1, v), ErrInvalidAge)
		assert.ErrorIs(t, reg.SetBatchAge(id, 0, v), ErrInvalidAge)
		_, err := reg.SetAllBatchAges(id, v)
		assert.ErrorIs(t, err, ErrInvalidAge)
	}

	require.NoError(t, reg.SetBatchAge(id, 1, 0.5))
	assert.ErrorIs(t, reg.SetBatchAge(id, 5, 0.5), ErrBatchNotFound)

	n, err := reg.SetAllBatchAges(id, 0.3)
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	removed, err := reg.RemoveBatchByIndex(id, 0)
	require.NoError(t, err)
	assert.Equal(t, 50.0, removed.Amount)

	_, err = reg.RemoveBatchByIndex(id, 3)
	assert.ErrorIs(t, err, ErrBatchNotFound)

	c, _ := reg.Get(id)
	require.Len(t, c.Batches, 1)
	assert.Equal(t, 30.0, c.Batches[0].Amount)
	assert.Equal(t, 0.3, c.Batches[0].AgeInPeriods)

	// register + 2 adds + set age + set all + remove; failures emit nothing
	assert.Equal(t, []DeltaOp{OpRegister, OpUpdate, OpUpdate, OpUpdate, OpUpdate, OpUpdate}, rec.ops())
}

func TestRegistry_ConsumeFIFO(t *testing.T) {
	reg, _, cat := newTestRegistry(t)
	id := register(t, reg, cat, "MILK", 0, ledger.New(40, 0.6), ledger.New(60, 0.1))

	age, err := reg.PeekFIFO(id, 50)
	require.NoError(t, err)
	assert.InDelta(t, (40*0.6+10*0.1)/50, age, 1e-9)

	res, err := reg.ConsumeFIFO(id, 50)
	require.NoError(t, err)
	assert.InDelta(t, 50, res.Consumed, 1e-9)

	c, _ := reg.Get(id)
	require.Len(t, c.Batches, 1)
	assert.InDelta(t, 50, c.Batches[0].Amount, 1e-9)
}

func TestRegistry_SimulateHoursExpiresAndLogsOnce(t *testing.T) {
	reg, _, cat := newTestRegistry(t)
	milk := register(t, reg, cat, "MILK", 0, ledger.New(100, 0.9), ledger.New(20, 0))
	wheat := register(t, reg, cat, "WHEAT", 0, ledger.New(500, 5))

	// 1 day per period, so 12 hours is half a period.
	res := reg.SimulateHours(12)
	assert.Equal(t, 2, res.ContainersProcessed)
	assert.Equal(t, 1, res.BatchesExpired)
	assert.InDelta(t, 100, res.AmountExpired, 1e-9)
	require.Len(t, res.Expirations, 1)
	assert.Equal(t, milk, res.Expirations[0].ContainerID)

	c, _ := reg.Get(milk)
	require.Len(t, c.Batches, 1)
	assert.InDelta(t, 0.5, c.Batches[0].AgeInPeriods, 1e-9)

	w, _ := reg.Get(wheat)
	assert.Equal(t, 500.0, w.Total(), "non-perishable commodities never expire")

	losses := reg.LossLog(0)
	require.Len(t, losses, 1)
	assert.Equal(t, "MILK", losses[0].CommodityName)
	assert.InDelta(t, 200, losses[0].Value, 1e-9)
	assert.Equal(t, "vehicle", losses[0].EntityType)

	stats := reg.Stats()
	assert.Equal(t, 1, stats.BatchesExpired)
	assert.Equal(t, 2, stats.Containers)
}

func TestRegistry_SimulateHoursForContainer(t *testing.T) {
	reg, _, cat := newTestRegistry(t)
	a := register(t, reg, cat, "MILK", 0, ledger.New(10, 0))
	b := register(t, reg, cat, "MILK", 0, ledger.New(10, 0))

	_, err := reg.SimulateHoursForContainer(a, 24)
	require.NoError(t, err)

	ca, _ := reg.Get(a)
	cb, _ := reg.Get(b)
	assert.Empty(t, ca.Batches)
	assert.Len(t, cb.Batches, 1)

	_, err = reg.SimulateHoursForContainer("nope", 1)
	assert.ErrorIs(t, err, ErrContainerNotFound)
}

func TestRegistry_ForceExpire(t *testing.T) {
	reg, _, cat := newTestRegistry(t)
	id := register(t, reg, cat, "MILK", 0, ledger.New(10, 0), ledger.New(5, 0))
	_, err := reg.Register(Container{EntityType: EntityBale, CommodityIndex: cat.IndexOf("WHEAT"), Batches: []ledger.Batch{ledger.New(7, 0)}})
	require.NoError(t, err)

	amount, err := reg.ForceExpire(id, 1)
	require.NoError(t, err)
	assert.Equal(t, 5.0, amount)

	_, err = reg.ForceExpire(id, 4)
	assert.ErrorIs(t, err, ErrBatchNotFound)

	res := reg.ForceExpireAll(EntityVehicle)
	assert.Equal(t, 1, res.ContainersAffected)
	assert.Equal(t, 10.0, res.TotalExpired)

	res = reg.ForceExpireAll(0)
	assert.Equal(t, 1, res.ContainersAffected)
	assert.Equal(t, 7.0, res.TotalExpired)
}

func TestRegistry_LossLogIsBounded(t *testing.T) {
	reg, _, cat := newTestRegistry(t)
	id := register(t, reg, cat, "MILK", 0)
	for i := 0; i < 5; i++ {
		require.NoError(t, reg.AddBatch(id, float64(i+1), 0))
		_, err := reg.ForceExpire(id, 0)
		require.NoError(t, err)
	}

	entries := reg.LossLog(0)
	require.Len(t, entries, 3)
	assert.Equal(t, 3.0, entries[0].Amount)
	assert.Equal(t, 5.0, entries[2].Amount)

	assert.Len(t, reg.LossLog(2), 2)
	assert.Equal(t, 3, reg.ClearLossLog())
	assert.Empty(t, reg.LossLog(0))
}

func TestRegistry_EntityBinding(t *testing.T) {
	reg, _, cat := newTestRegistry(t)
	id := register(t, reg, cat, "MILK", 3)

	got, ok := reg.InvalidateEntity(3)
	require.True(t, ok)
	assert.Equal(t, id, got)

	_, ok = reg.FindByEntity(3)
	assert.False(t, ok)
	c, ok := reg.Get(id)
	require.True(t, ok, "container survives its entity")
	assert.False(t, c.Bound())

	require.NoError(t, reg.BindEntity(id, 9))
	got, ok = reg.FindByEntity(9)
	require.True(t, ok)
	assert.Equal(t, id, got)

	other := register(t, reg, cat, "WHEAT", 0)
	assert.ErrorIs(t, reg.BindEntity(other, 9), ErrEntityBound)
}

func TestRegistry_UnregisterClearsReverseIndex(t *testing.T) {
	reg, rec, cat := newTestRegistry(t)
	id := register(t, reg, cat, "MILK", 4)

	require.NoError(t, reg.Unregister(id))
	_, ok := reg.FindByEntity(4)
	assert.False(t, ok)
	assert.ErrorIs(t, reg.Unregister(id), ErrContainerNotFound)

	last := rec.deltas[len(rec.deltas)-1]
	assert.Equal(t, OpUnregister, last.Op)
	assert.Nil(t, last.Container)
}

func TestRegistry_SnapshotRestore(t *testing.T) {
	reg, _, cat := newTestRegistry(t)
	register(t, reg, cat, "MILK", 5, ledger.New(10, 0.2))
	reg.Clock().Advance(30)
	reg.ForceExpireAll(0)
	register(t, reg, cat, "WHEAT", 6, ledger.New(1, 0))

	st := reg.Snapshot()

	other, rec, _ := newTestRegistry(t)
	other.Restore(st)
	assert.Equal(t, 2, other.Len())
	assert.Len(t, other.LossLog(0), 1)
	assert.Equal(t, 30.0, other.Clock().Hours())
	assert.Equal(t, []DeltaOp{OpRegister, OpRegister}, rec.ops())
	for _, c := range other.List(Filter{}) {
		assert.False(t, c.Bound())
	}
}

func TestRegistry_ListFilter(t *testing.T) {
	reg, _, cat := newTestRegistry(t)
	register(t, reg, cat, "MILK", 0)
	_, err := reg.Register(Container{EntityType: EntityBale, FarmID: 2, CommodityIndex: cat.IndexOf("WHEAT")})
	require.NoError(t, err)

	assert.Len(t, reg.List(Filter{}), 2)
	assert.Len(t, reg.List(Filter{EntityType: EntityBale}), 1)
	assert.Len(t, reg.List(Filter{FarmID: 1}), 1)
	assert.Empty(t, reg.List(Filter{CommodityIndex: 99}))
}

func TestClock_Now(t *testing.T) {
	c := NewClock(2)
	assert.Equal(t, GameTime{Year: 1, Period: 1, DayInPeriod: 1, Hour: 0}, c.Now())

	c.Advance(math.NaN())
	c.Advance(math.Inf(1))
	assert.Zero(t, c.Hours())

	c.Advance(24*2*12 + 24 + 5)
	assert.Equal(t, GameTime{Year: 2, Period: 1, DayInPeriod: 2, Hour: 5}, c.Now())
	assert.InDelta(t, 0.5, c.HoursToPeriods(24), 1e-9)
}

func TestParseEntityType(t *testing.T) {
	got, err := ParseEntityType("HusbandryFood")
	require.NoError(t, err)
	assert.Equal(t, EntityHusbandryFood, got)

	_, err = ParseEntityType("boat")
	assert.ErrorIs(t, err, ErrUnknownEntityType)
}

func TestRegistry_MergeAllOnlyEmitsForChangedContainers(t *testing.T) {
	reg, rec, cat := newTestRegistry(t)
	a := register(t, reg, cat, "MILK", 0, ledger.New(100, 0.50), ledger.New(200, 0.10), ledger.New(50, 0.51))
	register(t, reg, cat, "MILK", 0, ledger.New(1, 0.1), ledger.New(1, 0.9))
	rec.deltas = nil

	assert.Equal(t, 1, reg.MergeAll(0.02))
	require.Len(t, rec.deltas, 1)
	assert.Equal(t, a, rec.deltas[0].ContainerID)

	c, _ := reg.Get(a)
	require.Len(t, c.Batches, 2)
	assert.InDelta(t, 150, c.Batches[0].Amount, 1e-9)
	assert.InDelta(t, (100*0.50+50*0.51)/150, c.Batches[0].AgeInPeriods, 1e-9)
}

func TestEntityType_Text(t *testing.T) {
	out, err := json.Marshal(struct {
		T EntityType `json:"t"`
		Z EntityType `json:"z"`
	}{T: EntityBale})
	require.NoError(t, err)
	assert.JSONEq(t, `{"t":"`+EntityBale.String()+`","z":""}`, string(out))

	var in struct {
		T EntityType `json:"t"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"t":"`+EntityStored.String()+`"}`), &in))
	assert.Equal(t, EntityStored, in.T)
	assert.Error(t, json.Unmarshal([]byte(`{"t":"spaceship"}`), &in))

	_, err = EntityType(200).MarshalText()
	assert.ErrorIs(t, err, ErrUnknownEntityType)
}
