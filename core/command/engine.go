package command

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"perishable-ledger/core/reconcile"
	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"

	"go.uber.org/zap"
)

var (
	// ErrNotPrivileged is returned when a non-admin actor issues a mutation.
	ErrNotPrivileged = errors.New("admin privileges required")
	// ErrUnknownAction is returned for unrecognised command kinds.
	ErrUnknownAction = errors.New("unknown action")
	// ErrUnknownEntityType is returned for an invalid entity type argument.
	ErrUnknownEntityType = registry.ErrUnknownEntityType
	// ErrInvalidArgument is returned for out-of-range numeric arguments.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrNoChange is returned when the external fill level did not move.
	ErrNoChange = errors.New("fill level did not change")
	// ErrDesync is returned when the external side changed but the ledger
	// could not follow. Reconciliation corrects it later.
	ErrDesync = errors.New("ledger out of sync with fill level")
)

// Actor is the originator of a command.
type Actor struct {
	Name  string
	Admin bool
	// Host is the local hosting or single-player session.
	Host bool
}

// Privileged reports whether the actor may mutate the ledger.
func (a Actor) Privileged() bool {
	return a.Host || a.Admin
}

// HostActor is the always-privileged local session.
var HostActor = Actor{Name: "host", Host: true}

// Observer receives execution events, typically for metrics.
type Observer interface {
	CommandExecuted(kind Kind, success bool)
	Expired(commodity string, amount float64)
	Containers(n int)
}

type nopObserver struct{}

func (nopObserver) CommandExecuted(Kind, bool) {}
func (nopObserver) Expired(string, float64)    {}
func (nopObserver) Containers(int)             {}

// Options configures an Engine.
type Options struct {
	Registry       *registry.Registry
	Resolver       *settings.Resolver
	Adapters       *reconcile.Adapters
	DriftPolicy    reconcile.DriftPolicy
	MergeThreshold float64
	Observer       Observer
	Logger         *zap.Logger
}

// Engine is the single authoritative mutator of the registry.
type Engine struct {
	// mu is the sequencing point between commands, hooks and ticks.
	mu sync.Mutex

	reg            *registry.Registry
	resolver       *settings.Resolver
	adapters       *reconcile.Adapters
	recon          *reconcile.Engine
	policy         reconcile.DriftPolicy
	mergeThreshold float64
	observer       Observer
	logger         *zap.Logger

	smu        sync.Mutex
	suppressed map[registry.EntityHandle]int
}

// NewEngine wires an engine and subscribes it to every MemoryAdapter's
// fill hooks.
func NewEngine(opts Options) *Engine {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Observer == nil {
		opts.Observer = nopObserver{}
	}
	if opts.Adapters == nil {
		opts.Adapters = reconcile.NewAdapters()
	}
	if opts.DriftPolicy == "" {
		opts.DriftPolicy = reconcile.TrustExternal
	}
	e := &Engine{
		reg:            opts.Registry,
		resolver:       opts.Resolver,
		adapters:       opts.Adapters,
		recon:          reconcile.NewEngine(opts.Registry, opts.Adapters, opts.Logger.Named("reconcile")),
		policy:         opts.DriftPolicy,
		mergeThreshold: opts.MergeThreshold,
		observer:       opts.Observer,
		logger:         opts.Logger,
		suppressed:     make(map[registry.EntityHandle]int),
	}
	for _, t := range opts.Adapters.Types() {
		ad, _ := opts.Adapters.For(t)
		if m, ok := ad.(*reconcile.MemoryAdapter); ok {
			m.OnChange(e.onFillChange)
		}
	}
	return e
}

// Registry returns the registry the engine mutates.
func (e *Engine) Registry() *registry.Registry { return e.reg }

// Resolver returns the settings resolver.
func (e *Engine) Resolver() *settings.Resolver { return e.resolver }

// Reconciler returns the reconciliation engine.
func (e *Engine) Reconciler() *reconcile.Engine { return e.recon }

// Execute checks privilege and runs cmd. A rejected or failed command never
// leaves partial state behind. The error, when set, wraps one of the
// package sentinels or a registry/settings error.
func (e *Engine) Execute(ctx context.Context, actor Actor, cmd Command) (Result, error) {
	if cmd == nil || !cmd.Kind().Valid() {
		return e.finish(Result{}, fmt.Errorf("%w: %v", ErrUnknownAction, cmd))
	}
	res := Result{Kind: cmd.Kind()}
	if !actor.Privileged() {
		e.logger.Warn("Unprivileged command rejected",
			zap.String("actor", actor.Name),
			zap.String("action", cmd.Kind().String()),
		)
		return e.finish(res, ErrNotPrivileged)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	data, msg, err := e.run(ctx, cmd)
	res.Data = data
	res.Message = msg
	return e.finish(res, err)
}

func (e *Engine) finish(res Result, err error) (Result, error) {
	if err != nil {
		res.Success = false
		res.Message = err.Error()
		res.Data = nil
	} else {
		res.Success = true
	}
	e.observer.CommandExecuted(res.Kind, res.Success)
	e.observer.Containers(e.reg.Len())
	return res, err
}

func (e *Engine) suppress(h registry.EntityHandle) func() {
	e.smu.Lock()
	e.suppressed[h]++
	e.smu.Unlock()
	return func() {
		e.smu.Lock()
		if e.suppressed[h]--; e.suppressed[h] <= 0 {
			delete(e.suppressed, h)
		}
		e.smu.Unlock()
	}
}

// Suppressed reports whether automatic hooks are muted for an entity.
func (e *Engine) Suppressed(h registry.EntityHandle) bool {
	e.smu.Lock()
	defer e.smu.Unlock()
	return e.suppressed[h] > 0
}
