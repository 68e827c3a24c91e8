package protocol

import (
	"fmt"

	"perishable-ledger/core/ledger"
	"perishable-ledger/core/registry"
)

func writeBatches(w *Writer, batches []ledger.Batch) {
	w.Count(len(batches))
	for _, b := range batches {
		w.Float32(float32(b.Amount))
		w.Float32(float32(b.AgeInPeriods))
	}
}

// readBatches decodes a batch list. ExpiredLogged is always false on receipt.
func readBatches(r *Reader) []ledger.Batch {
	n := r.Count()
	out := make([]ledger.Batch, 0, n)
	for i := 0; i < n && r.Err() == nil; i++ {
		out = append(out, ledger.Batch{
			Amount:       float64(r.Float32()),
			AgeInPeriods: float64(r.Float32()),
		})
	}
	return out
}

func writeContainer(w *Writer, c *registry.Container) {
	w.String(c.ID)
	w.Entity(uint32(c.Entity))
	w.Uint8(uint8(c.EntityType))
	w.Uint16(c.FarmID)
	w.Uint16(c.CommodityIndex)
	w.String(c.Identity.WorldObjectID)
	w.String(c.Identity.CommodityName)
	w.String(c.Metadata.LocationLabel)
	writeBatches(w, c.Batches)
}

// readContainer decodes a container. The entity field holds the sender's
// handle; the replica resolves it to a local one.
func readContainer(r *Reader) *registry.Container {
	c := &registry.Container{}
	c.ID = r.String()
	c.Entity = registry.EntityHandle(r.Entity())
	c.EntityType = registry.EntityType(r.Uint8())
	c.FarmID = r.Uint16()
	c.CommodityIndex = r.Uint16()
	c.Identity.WorldObjectID = r.String()
	c.Identity.CommodityName = r.String()
	c.Metadata.LocationLabel = r.String()
	c.Batches = readBatches(r)
	return c
}

func writeLoss(w *Writer, e registry.LossEntry) {
	w.Int16(e.When.Year)
	w.Uint8(e.When.Period)
	w.Uint8(e.When.DayInPeriod)
	w.Uint8(e.When.Hour)
	w.String(e.CommodityName)
	w.Float32(float32(e.Amount))
	w.Float32(float32(e.Value))
	w.String(e.Location)
	w.String(e.ObjectUniqueID)
	w.String(e.EntityType)
	w.Uint16(e.FarmID)
}

func readLoss(r *Reader) registry.LossEntry {
	return registry.LossEntry{
		When: registry.GameTime{
			Year:        r.Int16(),
			Period:      r.Uint8(),
			DayInPeriod: r.Uint8(),
			Hour:        r.Uint8(),
		},
		CommodityName:  r.String(),
		Amount:         float64(r.Float32()),
		Value:          float64(r.Float32()),
		Location:       r.String(),
		ObjectUniqueID: r.String(),
		EntityType:     r.String(),
		FarmID:         r.Uint16(),
	}
}

func (m *FullSync) encode(w *Writer) {
	w.Uint32(uint32(len(m.Containers)))
	for _, c := range m.Containers {
		writeContainer(w, c)
	}
	w.Uint32(uint32(len(m.Losses)))
	for _, e := range m.Losses {
		writeLoss(w, e)
	}
}

func decodeFullSync(r *Reader) (Message, error) {
	m := &FullSync{}
	n := int(r.Uint32())
	for i := 0; i < n && r.Err() == nil; i++ {
		m.Containers = append(m.Containers, readContainer(r))
	}
	n = int(r.Uint32())
	for i := 0; i < n && r.Err() == nil; i++ {
		m.Losses = append(m.Losses, readLoss(r))
	}
	return m, nil
}

func (m *Delta) encode(w *Writer) {
	w.String(m.ContainerID)
	w.Uint8(uint8(m.Op))
	switch m.Op {
	case registry.OpRegister:
		c := m.Container
		if c == nil {
			c = &registry.Container{ID: m.ContainerID}
		}
		writeContainer(w, c)
	case registry.OpUpdate:
		writeBatches(w, m.Batches)
	case registry.OpUnregister:
	default:
		w.fail(fmt.Errorf("%w: %d", ErrUnknownOp, m.Op))
	}
}

func decodeDelta(r *Reader) (Message, error) {
	m := &Delta{ContainerID: r.String(), Op: registry.DeltaOp(r.Uint8())}
	switch m.Op {
	case registry.OpRegister:
		m.Container = readContainer(r)
	case registry.OpUpdate:
		m.Batches = readBatches(r)
	case registry.OpUnregister:
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownOp, m.Op)
	}
	return m, nil
}
