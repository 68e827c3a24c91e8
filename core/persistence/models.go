package persistence

import (
	"sync"

	"perishable-ledger/core/ledger"
	"perishable-ledger/core/registry"

	"gorm.io/gorm/schema"
)

// ContainerModel is a persisted container without its batches.
type ContainerModel struct {
	ID             string       `gorm:"primaryKey;column:id;type:varchar(64)"`
	EntityType     uint8        `gorm:"column:entity_type;not null"`
	FarmID         uint16       `gorm:"column:farm_id;not null;default:0"`
	CommodityIndex uint16       `gorm:"column:commodity_index;not null"`
	CommodityName  string       `gorm:"column:commodity_name;type:varchar(64)"`
	WorldObjectID  string       `gorm:"column:world_object_id;type:varchar(128)"`
	LocationLabel  string       `gorm:"column:location_label;type:varchar(255)"`
	Batches        []BatchModel `gorm:"foreignKey:ContainerID;constraint:OnDelete:CASCADE"`
}

func (ContainerModel) TableName() string {
	return "ledger_containers"
}

// BatchModel is one FIFO batch. Position 0 is the oldest.
type BatchModel struct {
	ID           uint    `gorm:"primaryKey;column:id"`
	ContainerID  string  `gorm:"column:container_id;type:varchar(64);index;not null"`
	Position     int     `gorm:"column:position;not null"`
	Amount       float64 `gorm:"column:amount;not null"`
	AgeInPeriods float64 `gorm:"column:age_in_periods;not null"`
}

func (BatchModel) TableName() string {
	return "ledger_batches"
}

// LossModel is one loss log entry. Seq preserves log order.
type LossModel struct {
	ID             uint    `gorm:"primaryKey;column:id"`
	Seq            int     `gorm:"column:seq;index;not null"`
	Year           int16   `gorm:"column:year"`
	Period         uint8   `gorm:"column:period"`
	DayInPeriod    uint8   `gorm:"column:day_in_period"`
	Hour           uint8   `gorm:"column:hour"`
	CommodityName  string  `gorm:"column:commodity_name;type:varchar(64)"`
	Amount         float64 `gorm:"column:amount"`
	Value          float64 `gorm:"column:value"`
	Location       string  `gorm:"column:location;type:varchar(255)"`
	ObjectUniqueID string  `gorm:"column:object_unique_id;type:varchar(128)"`
	EntityType     string  `gorm:"column:entity_type;type:varchar(32)"`
	FarmID         uint16  `gorm:"column:farm_id"`
}

func (LossModel) TableName() string {
	return "ledger_losses"
}

// Setting scopes.
const (
	ScopeGlobal    = "global"
	ScopeCommodity = "commodity"
)

// SettingModel is one user override. Value holds the JSON encoding.
type SettingModel struct {
	Scope string `gorm:"primaryKey;column:scope;type:varchar(16)"`
	Key   string `gorm:"primaryKey;column:setting_key;type:varchar(64)"`
	Value string `gorm:"column:value;type:varchar(255);not null"`
}

func (SettingModel) TableName() string {
	return "ledger_settings"
}

// MetaModel holds scalar state.
type MetaModel struct {
	Key   string `gorm:"primaryKey;column:meta_key;type:varchar(64)"`
	Value string `gorm:"column:value;type:varchar(255)"`
}

func (MetaModel) TableName() string {
	return "ledger_meta"
}

const metaClockHours = "clock_hours"

// Models lists every persisted model in migration order.
func Models() []any {
	return []any{&ContainerModel{}, &BatchModel{}, &LossModel{}, &SettingModel{}, &MetaModel{}}
}

// ExpectedColumns returns the column names each table must carry, keyed by table.
func ExpectedColumns() (map[string][]string, error) {
	cache := &sync.Map{}
	out := make(map[string][]string)
	for _, m := range Models() {
		s, err := schema.Parse(m, cache, schema.NamingStrategy{})
		if err != nil {
			return nil, err
		}
		out[s.Table] = append([]string(nil), s.DBNames...)
	}
	return out, nil
}

func toContainerModel(c *registry.Container) ContainerModel {
	return ContainerModel{
		ID:             c.ID,
		EntityType:     uint8(c.EntityType),
		FarmID:         c.FarmID,
		CommodityIndex: c.CommodityIndex,
		CommodityName:  c.Identity.CommodityName,
		WorldObjectID:  c.Identity.WorldObjectID,
		LocationLabel:  c.Metadata.LocationLabel,
	}
}

func toBatchModels(c *registry.Container) []BatchModel {
	out := make([]BatchModel, 0, len(c.Batches))
	for i, b := range c.Batches {
		out = append(out, BatchModel{
			ContainerID:  c.ID,
			Position:     i,
			Amount:       b.Amount,
			AgeInPeriods: b.AgeInPeriods,
		})
	}
	return out
}

func (m ContainerModel) toContainer() *registry.Container {
	c := &registry.Container{
		ID:             m.ID,
		EntityType:     registry.EntityType(m.EntityType),
		FarmID:         m.FarmID,
		CommodityIndex: m.CommodityIndex,
		Entity:         registry.Unresolved,
		Identity:       registry.Identity{WorldObjectID: m.WorldObjectID, CommodityName: m.CommodityName},
		Metadata:       registry.Metadata{LocationLabel: m.LocationLabel},
		Batches:        make([]ledger.Batch, 0, len(m.Batches)),
	}
	for _, b := range m.Batches {
		c.Batches = append(c.Batches, ledger.Batch{Amount: b.Amount, AgeInPeriods: b.AgeInPeriods})
	}
	return c
}

func toLossModel(seq int, e registry.LossEntry) LossModel {
	return LossModel{
		Seq:            seq,
		Year:           e.When.Year,
		Period:         e.When.Period,
		DayInPeriod:    e.When.DayInPeriod,
		Hour:           e.When.Hour,
		CommodityName:  e.CommodityName,
		Amount:         e.Amount,
		Value:          e.Value,
		Location:       e.Location,
		ObjectUniqueID: e.ObjectUniqueID,
		EntityType:     e.EntityType,
		FarmID:         e.FarmID,
	}
}

func (m LossModel) toEntry() registry.LossEntry {
	return registry.LossEntry{
		When: registry.GameTime{
			Year:        m.Year,
			Period:      m.Period,
			DayInPeriod: m.DayInPeriod,
			Hour:        m.Hour,
		},
		CommodityName:  m.CommodityName,
		Amount:         m.Amount,
		Value:          m.Value,
		Location:       m.Location,
		ObjectUniqueID: m.ObjectUniqueID,
		EntityType:     m.EntityType,
		FarmID:         m.FarmID,
	}
}
