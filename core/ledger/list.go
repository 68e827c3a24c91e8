package ledger

// TotalAmount sums the amounts of all batches.
func TotalAmount(batches []Batch) float64 {
	total := 0.0
	for _, b := range batches {
		total += b.Amount
	}
	return total
}

// Oldest returns the first batch in the list.
func Oldest(batches []Batch) (Batch, bool) {
	if len(batches) == 0 {
		return Batch{}, false
	}
	return batches[0], true
}

// AgeAll advances every batch by delta periods.
func AgeAll(batches []Batch, delta float64) {
	for i := range batches {
		batches[i].Age(delta)
	}
}

// SetAllAges overwrites the age of every batch.
func SetAllAges(batches []Batch, age float64) {
	if age < 0 {
		age = 0
	}
	for i := range batches {
		batches[i].AgeInPeriods = age
	}
}

// WeightedAverageAge returns the amount weighted mean age, 0 for an empty list.
func WeightedAverageAge(batches []Batch) float64 {
	total := 0.0
	weighted := 0.0
	for _, b := range batches {
		total += b.Amount
		weighted += b.Amount * b.AgeInPeriods
	}
	if total < Epsilon {
		return 0
	}
	return weighted / total
}

// RemoveExpired removes every batch whose age reached threshold and returns
// the removed amount. Survivors keep their relative order.
func RemoveExpired(batches *[]Batch, threshold float64) float64 {
	removed := 0.0
	kept := (*batches)[:0]
	for _, b := range *batches {
		if b.IsExpired(threshold) {
			removed += b.Amount
			continue
		}
		kept = append(kept, b)
	}
	clearTail(*batches, len(kept))
	*batches = kept
	return removed
}

// Prune drops batches whose amount fell below Epsilon.
func Prune(batches *[]Batch) int {
	dropped := 0
	kept := (*batches)[:0]
	for _, b := range *batches {
		if b.IsZero() {
			dropped++
			continue
		}
		kept = append(kept, b)
	}
	clearTail(*batches, len(kept))
	*batches = kept
	return dropped
}

// Clone returns an independent copy of the list.
func Clone(batches []Batch) []Batch {
	if batches == nil {
		return nil
	}
	out := make([]Batch, len(batches))
	copy(out, batches)
	return out
}

// clearTail zeroes the slots past n so that reslicing never leaks stale batches.
func clearTail(batches []Batch, n int) {
	for i := n; i < len(batches); i++ {
		batches[i] = Batch{}
	}
}
