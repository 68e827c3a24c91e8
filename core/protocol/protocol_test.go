package protocol

import (
	"bytes"
	"testing"

	"perishable-ledger/core/command"
	"perishable-ledger/core/ledger"
	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleContainers() []*registry.Container {
	return []*registry.Container{
		{
			ID:             "a",
			EntityType:     registry.EntityVehicle,
			FarmID:         1,
			CommodityIndex: 3,
			Entity:         11,
			Identity:       registry.Identity{WorldObjectID: "veh-1", CommodityName: "MILK"},
			Metadata:       registry.Metadata{LocationLabel: "Milk truck"},
			Batches:        []ledger.Batch{{Amount: 100, AgeInPeriods: 0.5}, {Amount: 25.25, AgeInPeriods: 0.125}},
		},
		{
			ID:             "b",
			EntityType:     registry.EntityBale,
			FarmID:         2,
			CommodityIndex: 9,
			Identity:       registry.Identity{WorldObjectID: "bale-7", CommodityName: "GRASS_WINDROW"},
			Batches:        []ledger.Batch{},
		},
	}
}

func roundTrip(t *testing.T, m Message) Message {
	t.Helper()
	frame, err := Marshal(m)
	require.NoError(t, err)
	got, err := Unmarshal(frame)
	require.NoError(t, err)
	return got
}

func TestCodec_Primitives(t *testing.T) {
	w := NewWriter()
	w.Bool(true)
	w.Int8(-5)
	w.Uint8(200)
	w.Int16(-1234)
	w.Uint16(65000)
	w.Int32(-70000)
	w.Uint32(4000000000)
	w.Float32(1.5)
	w.String("héllo")
	w.Entity(42)
	require.NoError(t, w.Err())

	r := NewReader(w.Bytes())
	assert.True(t, r.Bool())
	assert.Equal(t, int8(-5), r.Int8())
	assert.Equal(t, uint8(200), r.Uint8())
	assert.Equal(t, int16(-1234), r.Int16())
	assert.Equal(t, uint16(65000), r.Uint16())
	assert.Equal(t, int32(-70000), r.Int32())
	assert.Equal(t, uint32(4000000000), r.Uint32())
	assert.Equal(t, float32(1.5), r.Float32())
	assert.Equal(t, "héllo", r.String())
	assert.Equal(t, uint32(42), r.Entity())
	require.NoError(t, r.Err())
	assert.Zero(t, r.Remaining())
}

func TestCodec_ShortBufferIsSticky(t *testing.T) {
	r := NewReader([]byte{1})
	assert.Equal(t, uint32(0), r.Uint32())
	assert.Equal(t, uint8(0), r.Uint8(), "reads after an error return zero")
	assert.ErrorIs(t, r.Err(), ErrShortBuffer)
}

func TestCodec_StringTooLong(t *testing.T) {
	w := NewWriter()
	w.String(string(bytes.Repeat([]byte("x"), 70000)))
	assert.ErrorIs(t, w.Err(), ErrStringTooLong)
}

func TestFullSync_RoundTripFidelity(t *testing.T) {
	sent := &FullSync{
		Containers: sampleContainers(),
		Losses: []registry.LossEntry{{
			When:          registry.GameTime{Year: 2, Period: 5, DayInPeriod: 1, Hour: 7},
			CommodityName: "MILK",
			Amount:        40,
			Value:         38,
			EntityType:    "vehicle",
			FarmID:        1,
		}},
	}
	sent.Containers[0].Batches[0].ExpiredLogged = true

	frame, err := Marshal(sent)
	require.NoError(t, err)

	replica := NewReplica(nil)
	_, err = ReplicaTable().DispatchFrame(replica, frame)
	require.NoError(t, err)
	assert.True(t, replica.Synced())

	c, ok := replica.Get("a")
	require.True(t, ok)
	assert.False(t, c.Batches[0].ExpiredLogged, "transient flag is reset on receipt")

	id, ok := replica.FindByEntity(11)
	require.True(t, ok)
	assert.Equal(t, "a", id)

	again, err := Marshal(replica.State())
	require.NoError(t, err)
	assert.Equal(t, frame, again)
}

func TestFullSync_ReplacesEverything(t *testing.T) {
	replica := NewReplica(nil)
	require.NoError(t, ApplyFullSync(replica, &FullSync{Containers: sampleContainers()}))
	require.NoError(t, ApplyFullSync(replica, &FullSync{Containers: sampleContainers()[1:]}))

	assert.Equal(t, 1, replica.Len())
	_, ok := replica.FindByEntity(11)
	assert.False(t, ok, "reverse index is rebuilt")
}

func TestFullSync_UnresolvedEntities(t *testing.T) {
	replica := NewReplica(ResolverFunc(func(uint32) registry.EntityHandle { return registry.Unresolved }))
	require.NoError(t, ApplyFullSync(replica, &FullSync{Containers: sampleContainers()}))

	c, ok := replica.Get("a")
	require.True(t, ok)
	assert.False(t, c.Bound())
	_, ok = replica.FindByEntity(11)
	assert.False(t, ok)
}

func TestDelta_Lifecycle(t *testing.T) {
	replica := NewReplica(nil)
	table := ReplicaTable()
	c := sampleContainers()[0]

	m := roundTrip(t, NewDelta(registry.Delta{Op: registry.OpRegister, ContainerID: c.ID, Container: c}))
	require.NoError(t, table.Dispatch(replica, m))
	assert.Equal(t, 125.25, replica.TotalAmount("a"))

	updated := c.Clone()
	updated.Batches = []ledger.Batch{{Amount: 10, AgeInPeriods: 0.75}}
	m = roundTrip(t, NewDelta(registry.Delta{Op: registry.OpUpdate, ContainerID: c.ID, Container: updated}))
	require.NoError(t, table.Dispatch(replica, m))
	got, _ := replica.Get("a")
	assert.Equal(t, []ledger.Batch{{Amount: 10, AgeInPeriods: 0.75}}, got.Batches)
	assert.Equal(t, "Milk truck", got.Metadata.LocationLabel, "update only replaces batches")

	m = roundTrip(t, NewDelta(registry.Delta{Op: registry.OpUnregister, ContainerID: c.ID}))
	require.NoError(t, table.Dispatch(replica, m))
	assert.Zero(t, replica.Len())
	_, ok := replica.FindByEntity(11)
	assert.False(t, ok)
}

func TestDelta_UpdateForUnknownContainerIsDiscarded(t *testing.T) {
	replica := NewReplica(nil)
	require.NoError(t, ApplyFullSync(replica, &FullSync{Containers: sampleContainers()}))
	before, err := Marshal(replica.State())
	require.NoError(t, err)

	err = ApplyDelta(replica, &Delta{ContainerID: "ghost", Op: registry.OpUpdate, Batches: []ledger.Batch{{Amount: 1}}})
	assert.ErrorIs(t, err, ErrSyncGap)
	err = ApplyDelta(replica, &Delta{ContainerID: "ghost", Op: registry.OpUnregister})
	assert.ErrorIs(t, err, ErrSyncGap)

	after, err := Marshal(replica.State())
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestUnmarshal_Errors(t *testing.T) {
	tests := []struct {
		name  string
		frame []byte
		want  error
	}{
		{"empty", nil, ErrEmptyFrame},
		{"unknown type", []byte{99}, ErrUnknownMessage},
		{"unknown op", []byte{byte(MsgDelta), 1, 0, 'x', 9}, ErrUnknownOp},
		{"unknown action", []byte{byte(MsgCommandRequest), 0, 0, 0, 0, 77}, ErrUnknownAction},
		{"truncated", []byte{byte(MsgHello), 5, 0, 'a'}, ErrShortBuffer},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unmarshal(tt.frame)
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestCommandRequest_Variants(t *testing.T) {
	cmds := []command.Command{
		command.AddBatch{ContainerID: "a", FillUnitIndex: 2, Amount: 150, Age: 0.25},
		command.RemoveBatch{ContainerID: "a", FillUnitIndex: 1, BatchIndex: 3},
		command.SetBatchAge{ContainerID: "a", BatchIndex: 1, Age: 0.5},
		command.SetAllBatchAges{ContainerID: "a", Age: 2},
		command.SimulateAll{Hours: 24},
		command.SimulateContainer{ContainerID: "a", Hours: 6},
		command.ForceExpire{ContainerID: "a", BatchIndex: 0},
		command.ForceExpireAll{EntityType: registry.EntityBale},
		command.ClearLossLog{},
		command.Reconcile{DryRun: true},
		command.ChangeSettings{Op: command.SettingsSetGlobal, Key: settings.KeyWarningHours, Value: settings.NumberValue(12)},
	}
	for _, cmd := range cmds {
		t.Run(cmd.Kind().String(), func(t *testing.T) {
			got := roundTrip(t, &CommandRequest{RequestID: 7, Command: cmd})
			req, ok := got.(*CommandRequest)
			require.True(t, ok)
			assert.Equal(t, uint32(7), req.RequestID)
			assert.Equal(t, cmd, req.Command)
		})
	}
}

func TestCommandResponse_RoundTrip(t *testing.T) {
	sent := &CommandResponse{RequestID: 3, Success: false, Message: "admin privileges required", Action: command.KindAddBatch}
	assert.Equal(t, sent, roundTrip(t, sent))
}

func TestSettingsSync_RoundTrip(t *testing.T) {
	o := settings.NewOverrides()
	o.Global[settings.KeyEnabled] = settings.BoolValue(true)
	o.Global[settings.KeyNotificationMode] = settings.StringValue("popup")
	o.PerCommodity["MILK"] = settings.ExpiresAfter(2.5)
	o.PerCommodity["SILAGE"] = settings.DoesNotExpire()

	got := roundTrip(t, &SettingsSync{Overrides: o}).(*SettingsSync)
	assert.Equal(t, o, got.Overrides)

	replica := NewReplica(nil)
	require.NoError(t, ReplicaTable().Dispatch(replica, got))
	assert.Equal(t, o, replica.Overrides())
}

func TestSettingsChangeRequest_RoundTrip(t *testing.T) {
	sent := &SettingsChangeRequest{
		RequestID: 9,
		Change:    command.ChangeSettings{Op: command.SettingsSetExpiration, Commodity: "MILK", Period: 4},
	}
	assert.Equal(t, sent, roundTrip(t, sent))
}

func TestHelloWelcome(t *testing.T) {
	hello := &Hello{Name: "farmhand", Token: "secret"}
	assert.Equal(t, hello, roundTrip(t, hello))

	replica := NewReplica(nil)
	require.NoError(t, ReplicaTable().Dispatch(replica, roundTrip(t, &Welcome{SessionID: "s1", Admin: true})))
	assert.True(t, replica.Admin())
	assert.Equal(t, "s1", replica.SessionID())
}

func TestTable_UnhandledType(t *testing.T) {
	err := ReplicaTable().Dispatch(NewReplica(nil), &Hello{})
	assert.ErrorIs(t, err, ErrUnknownMessage)
}
