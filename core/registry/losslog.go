package registry

// DefaultLossLogLimit bounds the loss log when no limit is configured.
const DefaultLossLogLimit = 500

// LossEntry records one expiration event. Entries are immutable once appended.
type LossEntry struct {
	When           GameTime `json:"when"`
	CommodityName  string   `json:"commodity_name"`
	Amount         float64  `json:"amount"`
	Value          float64  `json:"value"`
	Location       string   `json:"location"`
	ObjectUniqueID string   `json:"object_unique_id"`
	EntityType     string   `json:"entity_type"`
	FarmID         uint16   `json:"farm_id"`
}

// LossLog is an append-only ring that drops its oldest entries past limit.
type LossLog struct {
	limit   int
	entries []LossEntry
}

// NewLossLog creates a log holding at most limit entries.
func NewLossLog(limit int) *LossLog {
	if limit <= 0 {
		limit = DefaultLossLogLimit
	}
	return &LossLog{limit: limit}
}

// Append adds an entry, dropping the oldest when full.
func (l *LossLog) Append(e LossEntry) {
	l.entries = append(l.entries, e)
	if over := len(l.entries) - l.limit; over > 0 {
		l.entries = append(l.entries[:0:0], l.entries[over:]...)
	}
}

// Entries returns the most recent count entries, oldest first.
// A non-positive count returns everything.
func (l *LossLog) Entries(count int) []LossEntry {
	start := 0
	if count > 0 && count < len(l.entries) {
		start = len(l.entries) - count
	}
	out := make([]LossEntry, len(l.entries)-start)
	copy(out, l.entries[start:])
	return out
}

// Clear empties the log and returns how many entries were dropped.
func (l *LossLog) Clear() int {
	n := len(l.entries)
	l.entries = nil
	return n
}

// Len returns the number of entries.
func (l *LossLog) Len() int {
	return len(l.entries)
}

// Replace swaps the content, keeping only the newest entries within limit.
func (l *LossLog) Replace(entries []LossEntry) {
	l.entries = nil
	for _, e := range entries {
		l.Append(e)
	}
}
