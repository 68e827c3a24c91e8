package ledger

import "sort"

// MergeSimilarBatches sorts the list oldest first and folds neighbours whose
// ages differ by at most threshold into one batch with the amount weighted
// age. The pass does not advance past a freshly merged batch, so chains of
// similar ages collapse completely. It returns the number of merges.
func MergeSimilarBatches(batches *[]Batch, threshold float64) int {
	list := *batches
	if len(list) < 2 {
		return 0
	}
	if threshold < 0 {
		threshold = DefaultMergeThreshold
	}

	sort.SliceStable(list, func(i, j int) bool {
		return list[i].AgeInPeriods > list[j].AgeInPeriods
	})

	merges := 0
	i := 0
	for i < len(list)-1 {
		a, b := list[i], list[i+1]
		if !sameAge(a.AgeInPeriods, b.AgeInPeriods, threshold) {
			i++
			continue
		}

		total := a.Amount + b.Amount
		age := a.AgeInPeriods
		if total >= Epsilon {
			age = (a.Amount*a.AgeInPeriods + b.Amount*b.AgeInPeriods) / total
		}
		list[i] = Batch{
			Amount:        total,
			AgeInPeriods:  age,
			ExpiredLogged: a.ExpiredLogged || b.ExpiredLogged,
		}
		copy(list[i+1:], list[i+2:])
		list[len(list)-1] = Batch{}
		list = list[:len(list)-1]
		merges++
	}

	*batches = list
	return merges
}
