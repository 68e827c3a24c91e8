package protocol

import (
	"fmt"

	"perishable-ledger/core/command"
	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"
)

// Command payloads are laid out per action: the action byte, the target
// container id and fill unit, then the variant's own fields.

func (m *CommandRequest) encode(w *Writer) {
	w.Uint32(m.RequestID)
	if m.Command == nil {
		w.fail(fmt.Errorf("%w: nil command", ErrUnknownAction))
		return
	}
	w.Uint8(uint8(m.Command.Kind()))
	switch c := m.Command.(type) {
	case command.AddBatch:
		w.String(c.ContainerID)
		w.Uint8(c.FillUnitIndex)
		w.Float32(float32(c.Amount))
		w.Float32(float32(c.Age))
	case command.RemoveBatch:
		w.String(c.ContainerID)
		w.Uint8(c.FillUnitIndex)
		w.Uint16(uint16(c.BatchIndex))
	case command.SetBatchAge:
		w.String(c.ContainerID)
		w.Uint16(uint16(c.BatchIndex))
		w.Float32(float32(c.Age))
	case command.SetAllBatchAges:
		w.String(c.ContainerID)
		w.Float32(float32(c.Age))
	case command.SimulateAll:
		w.Float32(float32(c.Hours))
	case command.SimulateContainer:
		w.String(c.ContainerID)
		w.Float32(float32(c.Hours))
	case command.ForceExpire:
		w.String(c.ContainerID)
		w.Uint16(uint16(c.BatchIndex))
	case command.ForceExpireAll:
		w.Uint8(uint8(c.EntityType))
	case command.ClearLossLog:
	case command.Reconcile:
		w.Bool(c.DryRun)
	case command.ChangeSettings:
		writeSettingsChange(w, c)
	default:
		w.fail(fmt.Errorf("%w: %T", ErrUnknownAction, c))
	}
}

func decodeCommandRequest(r *Reader) (Message, error) {
	m := &CommandRequest{RequestID: r.Uint32()}
	kind := command.Kind(r.Uint8())
	switch kind {
	case command.KindAddBatch:
		m.Command = command.AddBatch{
			ContainerID:   r.String(),
			FillUnitIndex: r.Uint8(),
			Amount:        float64(r.Float32()),
			Age:           float64(r.Float32()),
		}
	case command.KindRemoveBatch:
		m.Command = command.RemoveBatch{
			ContainerID:   r.String(),
			FillUnitIndex: r.Uint8(),
			BatchIndex:    int(r.Uint16()),
		}
	case command.KindSetBatchAge:
		m.Command = command.SetBatchAge{
			ContainerID: r.String(),
			BatchIndex:  int(r.Uint16()),
			Age:         float64(r.Float32()),
		}
	case command.KindSetAllBatchAges:
		m.Command = command.SetAllBatchAges{ContainerID: r.String(), Age: float64(r.Float32())}
	case command.KindSimulateAll:
		m.Command = command.SimulateAll{Hours: float64(r.Float32())}
	case command.KindSimulateContainer:
		m.Command = command.SimulateContainer{ContainerID: r.String(), Hours: float64(r.Float32())}
	case command.KindForceExpire:
		m.Command = command.ForceExpire{ContainerID: r.String(), BatchIndex: int(r.Uint16())}
	case command.KindForceExpireAll:
		m.Command = command.ForceExpireAll{EntityType: registry.EntityType(r.Uint8())}
	case command.KindClearLossLog:
		m.Command = command.ClearLossLog{}
	case command.KindReconcile:
		m.Command = command.Reconcile{DryRun: r.Bool()}
	case command.KindChangeSettings:
		m.Command = readSettingsChange(r)
	default:
		return nil, fmt.Errorf("%w: %d", ErrUnknownAction, kind)
	}
	return m, nil
}

func writeSettingsChange(w *Writer, c command.ChangeSettings) {
	w.Uint8(uint8(c.Op))
	w.String(c.Commodity)
	w.Float32(float32(c.Period))
	w.Bool(c.Perishable)
	w.String(c.Key)
	writeValue(w, c.Value)
}

func readSettingsChange(r *Reader) command.ChangeSettings {
	return command.ChangeSettings{
		Op:         command.SettingsOp(r.Uint8()),
		Commodity:  r.String(),
		Period:     float64(r.Float32()),
		Perishable: r.Bool(),
		Key:        r.String(),
		Value:      readValue(r),
	}
}

func (m *SettingsChangeRequest) encode(w *Writer) {
	w.Uint32(m.RequestID)
	writeSettingsChange(w, m.Change)
}

func decodeSettingsChangeRequest(r *Reader) (Message, error) {
	return &SettingsChangeRequest{RequestID: r.Uint32(), Change: readSettingsChange(r)}, nil
}

// writeValue writes a kind byte and the matching field. Kind zero carries
// no payload.
func writeValue(w *Writer, v settings.Value) {
	w.Uint8(uint8(v.Kind))
	switch v.Kind {
	case settings.KindBool:
		w.Bool(v.Bool)
	case settings.KindNumber:
		w.Float32(v.Number)
	case settings.KindString:
		w.String(v.Text)
	}
}

func readValue(r *Reader) settings.Value {
	v := settings.Value{Kind: settings.ValueKind(r.Uint8())}
	switch v.Kind {
	case settings.KindBool:
		v.Bool = r.Bool()
	case settings.KindNumber:
		v.Number = r.Float32()
	case settings.KindString:
		v.Text = r.String()
	}
	return v
}
