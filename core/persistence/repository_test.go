package persistence

import (
	"context"
	"errors"
	"testing"

	"perishable-ledger/core/database"
	"perishable-ledger/core/ledger"
	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func setupSQLite(t *testing.T) *Repository {
	t.Helper()
	db, err := database.Connect(database.Config{Driver: "sqlite", Name: ":memory:"})
	require.NoError(t, err)
	repo := NewRepository(db, zap.NewNop())
	require.NoError(t, repo.Migrate(context.Background()))
	return repo
}

func setupMockDB(t *testing.T) (*Repository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)

	dialector := mysql.New(mysql.Config{
		Conn:                      db,
		SkipInitializeWithVersion: true,
	})
	gormDB, err := gorm.Open(dialector, &gorm.Config{})
	require.NoError(t, err)
	return NewRepository(gormDB, nil), mock
}

func sampleState() registry.State {
	return registry.State{
		ClockHours: 30.5,
		Containers: []*registry.Container{
			{
				ID:             "a",
				EntityType:     registry.EntityVehicle,
				FarmID:         1,
				CommodityIndex: 1,
				Entity:         42,
				Identity:       registry.Identity{WorldObjectID: "veh-7", CommodityName: "MILK"},
				Batches:        []ledger.Batch{ledger.New(100, 0.5), ledger.New(50, 0.1)},
				Metadata:       registry.Metadata{LocationLabel: "Milk trailer"},
			},
			{
				ID:             "b",
				EntityType:     registry.EntityStored,
				CommodityIndex: 4,
				Identity:       registry.Identity{CommodityName: "EGG"},
				Batches:        []ledger.Batch{ledger.New(12, 1.2)},
			},
		},
		Losses: []registry.LossEntry{
			{When: registry.GameTime{Year: 1, Period: 2, DayInPeriod: 1, Hour: 6}, CommodityName: "MILK", Amount: 10, Value: 9.5, EntityType: "vehicle"},
			{When: registry.GameTime{Year: 1, Period: 3, DayInPeriod: 1, Hour: 0}, CommodityName: "EGG", Amount: 4, Value: 2.4, EntityType: "stored"},
		},
	}
}

func TestRepository_StateRoundTrip(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()

	_, found, err := repo.LoadState(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, repo.SaveState(ctx, sampleState()))

	st, found, err := repo.LoadState(ctx)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, 30.5, st.ClockHours)
	require.Len(t, st.Containers, 2)

	a := st.Containers[0]
	assert.Equal(t, "a", a.ID)
	assert.Equal(t, registry.Unresolved, a.Entity, "entity handles are not persisted")
	assert.Equal(t, "Milk trailer", a.Metadata.LocationLabel)
	assert.Equal(t, []ledger.Batch{ledger.New(100, 0.5), ledger.New(50, 0.1)}, a.Batches, "FIFO order survives")

	require.Len(t, st.Losses, 2)
	assert.Equal(t, "MILK", st.Losses[0].CommodityName)
	assert.Equal(t, uint8(2), st.Losses[0].When.Period)
}

func TestRepository_SaveStateReplaces(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()
	require.NoError(t, repo.SaveState(ctx, sampleState()))

	smaller := sampleState()
	smaller.Containers = smaller.Containers[1:]
	smaller.Losses = nil
	require.NoError(t, repo.SaveState(ctx, smaller))

	st, _, err := repo.LoadState(ctx)
	require.NoError(t, err)
	require.Len(t, st.Containers, 1)
	assert.Equal(t, "b", st.Containers[0].ID)
	assert.Empty(t, st.Losses)

	var batchRows int64
	require.NoError(t, repo.DB().Model(&BatchModel{}).Count(&batchRows).Error)
	assert.Equal(t, int64(1), batchRows, "batches of dropped containers are removed")
}

func TestRepository_OverridesRoundTrip(t *testing.T) {
	repo := setupSQLite(t)
	ctx := context.Background()

	o := settings.NewOverrides()
	o.Global[settings.KeyWarningHours] = settings.NumberValue(12)
	o.Global[settings.KeyNotificationMode] = settings.StringValue("hud")
	o.PerCommodity["MILK"] = settings.ExpiresAfter(2)
	o.PerCommodity["EGG"] = settings.DoesNotExpire()
	require.NoError(t, repo.SaveOverrides(ctx, o))

	got, err := repo.LoadOverrides(ctx)
	require.NoError(t, err)
	assert.Equal(t, o, got)

	require.NoError(t, repo.SaveOverrides(ctx, settings.NewOverrides()))
	got, err = repo.LoadOverrides(ctx)
	require.NoError(t, err)
	assert.Empty(t, got.Global)
	assert.Empty(t, got.PerCommodity)
}

func TestRepository_LoadOverridesSkipsCorruptRows(t *testing.T) {
	repo := setupSQLite(t)
	require.NoError(t, repo.DB().Create(&SettingModel{Scope: ScopeCommodity, Key: "MILK", Value: `{"nope":1}`}).Error)
	require.NoError(t, repo.DB().Create(&SettingModel{Scope: ScopeGlobal, Key: "enabled", Value: `true`}).Error)

	got, err := repo.LoadOverrides(context.Background())
	require.NoError(t, err)
	assert.Empty(t, got.PerCommodity)
	assert.Equal(t, settings.BoolValue(true), got.Global["enabled"])
}

func TestRepository_SaveStateRollsBack(t *testing.T) {
	repo, mock := setupMockDB(t)

	mock.ExpectBegin()
	mock.ExpectExec("DELETE FROM `ledger_batches`").WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := repo.SaveState(context.Background(), sampleState())
	assert.ErrorContains(t, err, "failed to save ledger state")
	assert.ErrorContains(t, err, "disk full")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRepository_LoadStateQueryError(t *testing.T) {
	repo, mock := setupMockDB(t)
	mock.ExpectQuery("SELECT \\* FROM `ledger_meta`").WillReturnError(errors.New("connection reset"))

	_, found, err := repo.LoadState(context.Background())
	assert.False(t, found)
	assert.ErrorContains(t, err, "connection reset")
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestExpectedColumns(t *testing.T) {
	cols, err := ExpectedColumns()
	require.NoError(t, err)
	assert.Contains(t, cols, "ledger_batches")
	assert.Contains(t, cols["ledger_batches"], "age_in_periods")
	assert.Contains(t, cols["ledger_settings"], "setting_key")
	assert.NotContains(t, cols["ledger_containers"], "batches")
}
