package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"perishable-ledger/core/catalog"
	"perishable-ledger/core/command"
	"perishable-ledger/core/reconcile"
	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"
	"perishable-ledger/core/snapshot"

	"go.uber.org/zap"
)

var (
	// ErrNotReportable is returned when the adapter of an entity type does not take fill reports.
	ErrNotReportable = errors.New("entity type does not accept fill reports")
	// ErrSnapshotsDisabled is returned when no snapshot store is configured.
	ErrSnapshotsDisabled = errors.New("snapshots are not configured")
	// ErrBadRequest wraps malformed request bodies.
	ErrBadRequest = errors.New("bad request")
)

// Reporter is implemented by adapters fed from outside, such as reconcile.MemoryAdapter.
type Reporter interface {
	Report(ctx context.Context, obs reconcile.Observation) reconcile.Observation
	Remove(h registry.EntityHandle) int
}

// ContainerView is a container with resolved display fields.
type ContainerView struct {
	*registry.Container
	Commodity string  `json:"commodity"`
	Total     float64 `json:"total"`
}

// Stats is the payload of GET /ledger/stats.
type Stats struct {
	registry.Stats
	Clock      registry.GameTime `json:"clock"`
	ClockHours float64           `json:"clock_hours"`
	LossLog    int               `json:"loss_log"`
}

// Service implements the ledger HTTP operations.
type Service struct {
	engine    *command.Engine
	snapshots *snapshot.Store
	logger    *zap.Logger
}

// NewService creates a new ledger service. snapshots may be nil.
func NewService(engine *command.Engine, snapshots *snapshot.Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{engine: engine, snapshots: snapshots, logger: logger}
}

func (s *Service) catalog() *catalog.Catalog {
	return s.engine.Registry().Catalog()
}

func (s *Service) view(c *registry.Container) ContainerView {
	return ContainerView{Container: c, Commodity: s.catalog().NameOf(c.CommodityIndex), Total: c.Total()}
}

// ParseFilter builds a registry filter from query values. Empty values match everything.
func (s *Service) ParseFilter(entityType, farm, commodity string) (registry.Filter, error) {
	var f registry.Filter
	if entityType != "" {
		t, err := registry.ParseEntityType(entityType)
		if err != nil {
			return f, err
		}
		f.EntityType = t
	}
	if farm != "" {
		var id uint16
		if _, err := fmt.Sscan(farm, &id); err != nil {
			return f, fmt.Errorf("%w: farm %q", ErrBadRequest, farm)
		}
		f.FarmID = id
	}
	if commodity != "" {
		idx := s.catalog().IndexOf(commodity)
		if idx == catalog.UnknownIndex {
			return f, fmt.Errorf("%w: %s", settings.ErrUnknownCommodity, commodity)
		}
		f.CommodityIndex = idx
	}
	return f, nil
}

// Containers lists containers matching f.
func (s *Service) Containers(f registry.Filter) []ContainerView {
	list := s.engine.Registry().List(f)
	out := make([]ContainerView, len(list))
	for i, c := range list {
		out[i] = s.view(c)
	}
	return out
}

// Container returns one container.
func (s *Service) Container(id string) (ContainerView, error) {
	c, ok := s.engine.Registry().Get(id)
	if !ok {
		return ContainerView{}, fmt.Errorf("%w: %s", registry.ErrContainerNotFound, id)
	}
	return s.view(c), nil
}

// DecodeCommand builds the command named by action from a JSON body.
func DecodeCommand(action string, body []byte) (command.Command, error) {
	kind, err := command.ParseKind(action)
	if err != nil {
		return nil, err
	}
	var cmd command.Command
	switch kind {
	case command.KindAddBatch:
		cmd, err = decodeInto[command.AddBatch](body)
	case command.KindRemoveBatch:
		cmd, err = decodeInto[command.RemoveBatch](body)
	case command.KindSetBatchAge:
		cmd, err = decodeInto[command.SetBatchAge](body)
	case command.KindSetAllBatchAges:
		cmd, err = decodeInto[command.SetAllBatchAges](body)
	case command.KindSimulateAll:
		cmd, err = decodeInto[command.SimulateAll](body)
	case command.KindSimulateContainer:
		cmd, err = decodeInto[command.SimulateContainer](body)
	case command.KindForceExpire:
		cmd, err = decodeInto[command.ForceExpire](body)
	case command.KindForceExpireAll:
		cmd, err = decodeInto[command.ForceExpireAll](body)
	case command.KindClearLossLog:
		cmd = command.ClearLossLog{}
	case command.KindReconcile:
		cmd, err = decodeInto[command.Reconcile](body)
	case command.KindChangeSettings:
		cmd, err = decodeInto[command.ChangeSettings](body)
	default:
		return nil, fmt.Errorf("%w: %s", command.ErrUnknownAction, action)
	}
	return cmd, err
}

func decodeInto[T command.Command](body []byte) (command.Command, error) {
	var v T
	if len(body) == 0 {
		return v, nil
	}
	if err := json.Unmarshal(body, &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return v, nil
}

// Execute runs cmd as actor.
func (s *Service) Execute(ctx context.Context, actor command.Actor, cmd command.Command) (command.Result, error) {
	return s.engine.Execute(ctx, actor, cmd)
}

func (s *Service) reporter(t registry.EntityType) (Reporter, error) {
	ad, err := s.engine.Reconciler().Adapters().For(t)
	if err != nil {
		return nil, err
	}
	r, ok := ad.(Reporter)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotReportable, t)
	}
	return r, nil
}

// ReportFill records an observed fill level. The adapter's change hook
// drives the ledger; the returned outcome comes from the engine's view after
// the report.
func (s *Service) ReportFill(ctx context.Context, actor command.Actor, t registry.EntityType, obs reconcile.Observation) (reconcile.Observation, string, error) {
	if !actor.Privileged() {
		return obs, "", command.ErrNotPrivileged
	}
	if obs.Entity == registry.Unresolved {
		return obs, "", fmt.Errorf("%w: entity handle is required", ErrBadRequest)
	}
	r, err := s.reporter(t)
	if err != nil {
		return obs, "", err
	}
	stored := r.Report(ctx, obs)
	id, _ := s.engine.Registry().FindByEntity(obs.Entity)
	return stored, id, nil
}

// RemoveEntity forgets a destroyed entity. Its container keeps its batches
// but loses the binding.
func (s *Service) RemoveEntity(actor command.Actor, t registry.EntityType, h registry.EntityHandle) (string, bool, error) {
	if !actor.Privileged() {
		return "", false, command.ErrNotPrivileged
	}
	r, err := s.reporter(t)
	if err != nil {
		return "", false, err
	}
	r.Remove(h)
	id, ok := s.engine.EntityRemoved(h)
	return id, ok, nil
}

// Overrides returns the user override layer.
func (s *Service) Overrides() settings.Overrides {
	return s.engine.Resolver().Overrides()
}

// Explain resolves one commodity.
func (s *Service) Explain(name string) (settings.Resolution, error) {
	if _, ok := s.catalog().ByName(name); !ok {
		return settings.Resolution{}, fmt.Errorf("%w: %s", settings.ErrUnknownCommodity, name)
	}
	return s.engine.Resolver().Explain(name), nil
}

// ExplainAll resolves every commodity in catalog order.
func (s *Service) ExplainAll() []settings.Resolution {
	all := s.catalog().All()
	out := make([]settings.Resolution, len(all))
	for i, c := range all {
		out[i] = s.engine.Resolver().Explain(c.Name)
	}
	return out
}

// ReplaceSettings validates a settings document and swaps the override layer.
func (s *Service) ReplaceSettings(ctx context.Context, actor command.Actor, doc []byte) (command.Result, error) {
	next, err := settings.ParseDocument(doc)
	if err != nil {
		return command.Result{Kind: command.KindChangeSettings}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return s.engine.ReplaceSettings(ctx, actor, next)
}

// SetGlobal parses raw into the type of key and stores it.
func (s *Service) SetGlobal(ctx context.Context, actor command.Actor, key, raw string) (command.Result, error) {
	kind, ok := settings.GlobalKinds[key]
	if !ok {
		return command.Result{Kind: command.KindChangeSettings}, fmt.Errorf("%w: %s", settings.ErrUnknownSetting, key)
	}
	v, err := settings.ParseValue(kind, raw)
	if err != nil {
		return command.Result{Kind: command.KindChangeSettings}, fmt.Errorf("%w: %v", ErrBadRequest, err)
	}
	return s.engine.Execute(ctx, actor, command.ChangeSettings{Op: command.SettingsSetGlobal, Key: key, Value: v})
}

// Losses returns the most recent count loss entries, oldest first. Zero means all.
func (s *Service) Losses(count int) []registry.LossEntry {
	return s.engine.Registry().LossLog(count)
}

// Stats returns registry counters with the game clock.
func (s *Service) Stats() Stats {
	reg := s.engine.Registry()
	return Stats{
		Stats:      reg.Stats(),
		Clock:      reg.Clock().Now(),
		ClockHours: reg.Clock().Hours(),
		LossLog:    len(reg.LossLog(0)),
	}
}

// Snapshots lists stored snapshots.
func (s *Service) Snapshots(ctx context.Context) ([]snapshot.Info, error) {
	if s.snapshots == nil {
		return nil, ErrSnapshotsDisabled
	}
	return s.snapshots.List(ctx)
}

// SaveSnapshot archives the current registry state.
func (s *Service) SaveSnapshot(ctx context.Context, actor command.Actor) (snapshot.Info, error) {
	if !actor.Privileged() {
		return snapshot.Info{}, command.ErrNotPrivileged
	}
	if s.snapshots == nil {
		return snapshot.Info{}, ErrSnapshotsDisabled
	}
	return s.snapshots.Save(ctx, s.engine.Registry())
}

// DeleteSnapshot removes one archived snapshot.
func (s *Service) DeleteSnapshot(ctx context.Context, actor command.Actor, key string) error {
	if !actor.Privileged() {
		return command.ErrNotPrivileged
	}
	if s.snapshots == nil {
		return ErrSnapshotsDisabled
	}
	return s.snapshots.Delete(ctx, key)
}
