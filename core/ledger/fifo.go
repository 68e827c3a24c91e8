package ledger

// Withdrawal is one slice taken from a batch by ConsumeFIFO.
type Withdrawal struct {
	Amount float64 `json:"amount"`
	Age    float64 `json:"age"`
}

// ConsumeResult describes a FIFO withdrawal.
type ConsumeResult struct {
	// Consumed equals min(requested, TotalAmount(before)).
	Consumed float64 `json:"consumed"`

	// Withdrawn lists the withdrawn slices, oldest first.
	Withdrawn []Withdrawal `json:"withdrawn"`
}

// PeekFIFO returns the amount weighted mean age of the oldest amount units
// without touching the list. It answers "how old is what I am about to take".
func PeekFIFO(batches []Batch, amount float64) float64 {
	if amount < Epsilon {
		return 0
	}
	remaining := amount
	taken := 0.0
	weighted := 0.0
	for _, b := range batches {
		if remaining < Epsilon {
			break
		}
		take := b.Amount
		if take > remaining {
			take = remaining
		}
		taken += take
		weighted += take * b.AgeInPeriods
		remaining -= take
	}
	if taken < Epsilon {
		return 0
	}
	return weighted / taken
}

// ConsumeFIFO withdraws amount from the front of the list. A partially
// consumed batch keeps its age on both the withdrawn and the remaining part;
// remainders below Epsilon are dropped.
func ConsumeFIFO(batches *[]Batch, amount float64) ConsumeResult {
	var res ConsumeResult
	if amount < Epsilon || len(*batches) == 0 {
		return res
	}

	remaining := amount
	list := *batches
	drained := 0
	for drained < len(list) && remaining > 0 {
		b := &list[drained]
		if b.Amount <= remaining {
			res.Withdrawn = append(res.Withdrawn, Withdrawal{Amount: b.Amount, Age: b.AgeInPeriods})
			res.Consumed += b.Amount
			remaining -= b.Amount
			drained++
			continue
		}

		b.Amount -= remaining
		res.Withdrawn = append(res.Withdrawn, Withdrawal{Amount: remaining, Age: b.AgeInPeriods})
		res.Consumed += remaining
		remaining = 0
		if b.IsZero() {
			drained++
		}
	}

	n := copy(list, list[drained:])
	clearTail(list, n)
	*batches = list[:n]
	return res
}
