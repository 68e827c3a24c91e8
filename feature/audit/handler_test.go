package audit

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"testing"

	"perishable-ledger/core/catalog"
	"perishable-ledger/core/command"
	"perishable-ledger/core/database"
	"perishable-ledger/core/persistence"
	"perishable-ledger/core/reconcile"
	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"
	"perishable-ledger/core/snapshot"
	"perishable-ledger/core/storage/mocks"

	"github.com/gofiber/fiber/v2"
	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type fixture struct {
	app      *fiber.App
	engine   *command.Engine
	vehicles *reconcile.MemoryAdapter
	client   *mocks.Client
}

func setupTestApp(t *testing.T, db *gorm.DB) *fixture {
	t.Helper()
	cat, err := catalog.New([]catalog.Commodity{{Name: "MILK", Default: &catalog.Default{Period: 1}}})
	require.NoError(t, err)
	resolver := settings.NewResolver(cat, nil)
	reg := registry.New(registry.Options{Catalog: cat, Thresholds: resolver, Clock: registry.NewClock(1)})
	vehicles := reconcile.NewMemoryAdapter(registry.EntityVehicle)
	adapters := reconcile.NewAdapters()
	adapters.Register(registry.EntityVehicle, vehicles)
	engine := command.NewEngine(command.Options{Registry: reg, Resolver: resolver, Adapters: adapters})

	client := new(mocks.Client)
	store, err := snapshot.NewStore(client, "test-bucket", zap.NewNop())
	require.NoError(t, err)

	app := fiber.New()
	require.NoError(t, NewFeature(engine, db, store, zap.NewNop()).Load(app))
	return &fixture{app: app, engine: engine, vehicles: vehicles, client: client}
}

func (f *fixture) get(t *testing.T, path string) (int, map[string]any) {
	t.Helper()
	resp, err := f.app.Test(httptest.NewRequest("GET", path, nil))
	require.NoError(t, err)
	var body map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return resp.StatusCode, body
}

func TestHandleLedgerCheck(t *testing.T) {
	f := setupTestApp(t, nil)
	f.vehicles.Report(context.Background(), reconcile.Observation{Entity: 1, CommodityIndex: 1, Amount: 40})

	status, body := f.get(t, "/audit/ledger")
	assert.Equal(t, 200, status)
	assert.Equal(t, true, body["matched"])
	assert.Equal(t, float64(1), body["containers"])
}

func TestHandleDriftCheck(t *testing.T) {
	f := setupTestApp(t, nil)
	ctx := context.Background()
	f.vehicles.Report(ctx, reconcile.Observation{Entity: 1, CommodityIndex: 1, Amount: 40})
	id, _ := f.engine.Registry().FindByEntity(1)

	// The ledger gains goods the game never reported.
	require.NoError(t, f.engine.Registry().AddBatch(id, 10, 0))

	status, body := f.get(t, "/audit/drift")
	assert.Equal(t, 200, status)
	assert.Equal(t, false, body["applied"])
	summary := body["summary"].(map[string]any)
	assert.InDelta(t, 10.0, summary["total_removed"], 1e-6)

	got, _ := f.engine.Registry().Get(id)
	assert.Equal(t, 50.0, got.Total(), "drift check never corrects")
}

func TestHandleSchemaCheck(t *testing.T) {
	t.Run("No database", func(t *testing.T) {
		f := setupTestApp(t, nil)
		status, body := f.get(t, "/audit/schema")
		assert.Equal(t, 500, status)
		assert.NotEmpty(t, body["error"])
	})

	t.Run("Migrated", func(t *testing.T) {
		db, err := database.Connect(database.Config{Driver: "sqlite", Name: ":memory:"})
		require.NoError(t, err)
		require.NoError(t, persistence.NewRepository(db, nil).Migrate(context.Background()))

		f := setupTestApp(t, db)
		status, body := f.get(t, "/audit/schema")
		assert.Equal(t, 200, status)
		assert.Equal(t, true, body["matched"])
	})
}

func TestHandleAudit(t *testing.T) {
	f := setupTestApp(t, nil)
	empty := make(chan minio.ObjectInfo)
	close(empty)
	f.client.On("ListObjects", mock.Anything, "test-bucket", mock.Anything).
		Return((<-chan minio.ObjectInfo)(empty))

	status, body := f.get(t, "/audit")
	assert.Equal(t, 200, status)
	assert.Contains(t, body, "ledger")
	assert.Contains(t, body, "snapshots")
	assert.Contains(t, body, "drift")
	assert.NotContains(t, body, "schema")
}

func TestLoader(t *testing.T) {
	f := NewFeature(nil, nil, nil, zap.NewNop())
	assert.Equal(t, "audit", f.Name())
	assert.True(t, f.IsEnabled())
	assert.NoError(t, f.Load(fiber.New()))
}
