package protocol

import (
	"sort"

	"perishable-ledger/core/settings"
)

// Keys are written sorted so identical overrides always encode identically.
func (m *SettingsSync) encode(w *Writer) {
	keys := make([]string, 0, len(m.Overrides.Global))
	for k := range m.Overrides.Global {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	w.Count(len(keys))
	for _, k := range keys {
		w.String(k)
		writeValue(w, m.Overrides.Global[k])
	}

	names := make([]string, 0, len(m.Overrides.PerCommodity))
	for name := range m.Overrides.PerCommodity {
		names = append(names, name)
	}
	sort.Strings(names)
	w.Count(len(names))
	for _, name := range names {
		o := m.Overrides.PerCommodity[name]
		w.String(name)
		w.Bool(o.Expires)
		if o.Expires {
			w.Float32(o.Period)
		}
	}
}

func decodeSettingsSync(r *Reader) (Message, error) {
	m := &SettingsSync{Overrides: settings.NewOverrides()}
	n := r.Count()
	for i := 0; i < n && r.Err() == nil; i++ {
		key := r.String()
		m.Overrides.Global[key] = readValue(r)
	}
	n = r.Count()
	for i := 0; i < n && r.Err() == nil; i++ {
		name := r.String()
		o := settings.CommodityOverride{Expires: r.Bool()}
		if o.Expires {
			o.Period = r.Float32()
		}
		m.Overrides.PerCommodity[name] = o
	}
	return m, nil
}
