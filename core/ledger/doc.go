// Package ledger implements FIFO batch accounting for perishable goods.
//
// A batch is a quantity of one commodity that entered a container at one time
// and therefore shares a single age. Batch lists are kept oldest first
// (index 0), so withdrawals always drain the oldest goods before fresher ones.
//
// # Operations
//
//   - New, Age, IsExpired, IsNearExpiration: single batch helpers.
//   - TotalAmount, Oldest, WeightedAverageAge: read-only list queries.
//   - PeekFIFO: source age of the oldest N units without mutating the list.
//   - ConsumeFIFO: withdraw from the front, splitting the oldest batch when needed.
//   - RemoveExpired: drop expired batches in place, preserving survivor order.
//   - MergeSimilarBatches: collapse batches whose ages are within a threshold.
//
// Everything here is pure and in-memory. Amounts below Epsilon are zero.
//
// # Usage
//
//	batches := []ledger.Batch{ledger.New(500, 0)}
//	ledger.AgeAll(batches, 0.25)
//	res := ledger.ConsumeFIFO(&batches, 120)
//	removed := ledger.RemoveExpired(&batches, 1.0)
package ledger
