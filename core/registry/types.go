package registry

import (
	"errors"
	"fmt"
	"strings"

	"perishable-ledger/core/ledger"
)

var (
	// ErrContainerNotFound is returned for unknown container ids.
	ErrContainerNotFound = errors.New("Container not found")
	// ErrBatchNotFound is returned for batch indices outside the list.
	ErrBatchNotFound = errors.New("Batch not found")
	// ErrDuplicateID is returned when registering an id twice.
	ErrDuplicateID = errors.New("container id already registered")
	// ErrEntityBound is returned when an entity is already bound to another container.
	ErrEntityBound = errors.New("entity already bound to a container")
	// ErrInvalidAmount is returned for amounts below the ledger epsilon.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrInvalidAge is returned for negative ages.
	ErrInvalidAge = errors.New("age must not be negative")
	// ErrUnknownEntityType is returned when parsing an unrecognised entity type.
	ErrUnknownEntityType = errors.New("unknown entity type")
)

// EntityType classifies the game object holding a container.
type EntityType uint8

const (
	EntityVehicle EntityType = iota + 1
	EntityBale
	EntityPlaceable
	EntityHusbandryFood
	EntityStored
)

var entityTypeNames = map[EntityType]string{
	EntityVehicle:       "vehicle",
	EntityBale:          "bale",
	EntityPlaceable:     "placeable",
	EntityHusbandryFood: "husbandryFood",
	EntityStored:        "stored",
}

// EntityTypes lists every entity type in wire order.
var EntityTypes = []EntityType{EntityVehicle, EntityBale, EntityPlaceable, EntityHusbandryFood, EntityStored}

func (t EntityType) String() string {
	if s, ok := entityTypeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("entityType(%d)", uint8(t))
}

// Valid reports whether t is a known entity type.
func (t EntityType) Valid() bool {
	_, ok := entityTypeNames[t]
	return ok
}

// ParseEntityType parses a case-insensitive entity type name.
func ParseEntityType(s string) (EntityType, error) {
	for t, name := range entityTypeNames {
		if strings.EqualFold(name, strings.TrimSpace(s)) {
			return t, nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownEntityType, s)
}

// MarshalText renders the entity type name. Zero renders as empty.
func (t EntityType) MarshalText() ([]byte, error) {
	if t == 0 {
		return []byte{}, nil
	}
	if !t.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrUnknownEntityType, uint8(t))
	}
	return []byte(t.String()), nil
}

// UnmarshalText parses an entity type name. Empty yields zero.
func (t *EntityType) UnmarshalText(text []byte) error {
	if len(text) == 0 {
		*t = 0
		return nil
	}
	v, err := ParseEntityType(string(text))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// EntityHandle is an opaque reference to a live game entity. Zero is unresolved.
type EntityHandle uint32

// Unresolved is the zero handle.
const Unresolved EntityHandle = 0

// Identity holds the fields used to match a container to a world object.
type Identity struct {
	WorldObjectID string `json:"world_object_id"`
	CommodityName string `json:"commodity_name"`
}

// Metadata holds display data.
type Metadata struct {
	LocationLabel string `json:"location_label"`
}

// Container is the ledger record for one commodity held by one entity.
type Container struct {
	ID             string         `json:"id"`
	EntityType     EntityType     `json:"entity_type"`
	FarmID         uint16         `json:"farm_id"`
	CommodityIndex uint16         `json:"commodity_index"`
	Entity         EntityHandle   `json:"entity"`
	Identity       Identity       `json:"identity"`
	Batches        []ledger.Batch `json:"batches"`
	Metadata       Metadata       `json:"metadata"`
}

// Clone returns a deep copy.
func (c *Container) Clone() *Container {
	out := *c
	out.Batches = ledger.Clone(c.Batches)
	if out.Batches == nil {
		out.Batches = []ledger.Batch{}
	}
	return &out
}

// Total returns the tracked amount.
func (c *Container) Total() float64 {
	return ledger.TotalAmount(c.Batches)
}

// Bound reports whether the container has a resolved entity.
func (c *Container) Bound() bool {
	return c.Entity != Unresolved
}

// DeltaOp is the kind of container change.
type DeltaOp uint8

const (
	OpRegister DeltaOp = iota + 1
	OpUpdate
	OpUnregister
)

func (op DeltaOp) String() string {
	switch op {
	case OpRegister:
		return "register"
	case OpUpdate:
		return "update"
	case OpUnregister:
		return "unregister"
	default:
		return fmt.Sprintf("op(%d)", uint8(op))
	}
}

// Delta is one container change. Container is a snapshot taken at emit time
// and is nil for OpUnregister.
type Delta struct {
	Op          DeltaOp
	ContainerID string
	Container   *Container
}

// Sink receives deltas in mutation order.
type Sink interface {
	Publish(Delta)
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(Delta)

// Publish calls f.
func (f SinkFunc) Publish(d Delta) { f(d) }

// Stats aggregates registry activity since start.
type Stats struct {
	Containers     int     `json:"containers"`
	Registered     int     `json:"registered"`
	Unregistered   int     `json:"unregistered"`
	BatchesExpired int     `json:"batches_expired"`
	AmountExpired  float64 `json:"amount_expired"`
	ValueExpired   float64 `json:"value_expired"`
	DeltasEmitted  int     `json:"deltas_emitted"`
}

// Expiration is one container's share of a simulation or force-expire step.
type Expiration struct {
	ContainerID string     `json:"container_id"`
	EntityType  EntityType `json:"entity_type"`
	Commodity   string     `json:"commodity"`
	Amount      float64    `json:"amount"`
}

// SimulateResult summarizes a time simulation.
type SimulateResult struct {
	ContainersProcessed int          `json:"containers_processed"`
	BatchesExpired      int          `json:"batches_expired"`
	AmountExpired       float64      `json:"amount_expired"`
	Expirations         []Expiration `json:"expirations,omitempty"`
}

// ForceExpireResult summarizes ForceExpireAll.
type ForceExpireResult struct {
	ContainersAffected int          `json:"containers_affected"`
	TotalExpired       float64      `json:"total_expired"`
	Expirations        []Expiration `json:"expirations,omitempty"`
}

// State is a serializable copy of the registry.
type State struct {
	Containers []*Container `json:"containers"`
	Losses     []LossEntry  `json:"losses"`
	ClockHours float64      `json:"clock_hours"`
}
