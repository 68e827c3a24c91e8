package registry

import (
	"sort"

	"perishable-ledger/core/ledger"

	"go.uber.org/zap"
)

// SimulateHours ages every container by hours of game time and removes what
// expired. Expired batches are logged to the loss log exactly once.
// The game clock is not advanced; callers that represent real elapsed time
// advance it themselves.
func (r *Registry) SimulateHours(hours float64) SimulateResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := SimulateResult{}
	for _, id := range r.sortedIDsLocked() {
		r.simulateLocked(r.containers[id], hours, &res)
	}
	if res.BatchesExpired > 0 {
		r.logger.Info("Batches expired",
			zap.Int("batches", res.BatchesExpired),
			zap.Float64("amount", res.AmountExpired),
		)
	}
	return res
}

// SimulateHoursForContainer ages a single container.
func (r *Registry) SimulateHoursForContainer(id string, hours float64) (SimulateResult, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok {
		return SimulateResult{}, ErrContainerNotFound
	}
	res := SimulateResult{}
	r.simulateLocked(c, hours, &res)
	return res, nil
}

func (r *Registry) simulateLocked(c *Container, hours float64, res *SimulateResult) {
	if len(c.Batches) == 0 || hours <= 0 {
		return
	}
	res.ContainersProcessed++
	ledger.AgeAll(c.Batches, r.clock.HoursToPeriods(hours))

	threshold, perishable := r.thresholdLocked(c.CommodityIndex)
	if perishable {
		expired := 0.0
		count := 0
		for i := range c.Batches {
			b := &c.Batches[i]
			if b.IsExpired(threshold) && !b.ExpiredLogged {
				b.ExpiredLogged = true
				expired += b.Amount
				count++
			}
		}
		ledger.RemoveExpired(&c.Batches, threshold)
		if count > 0 {
			r.recordLossLocked(c, expired, count)
			res.BatchesExpired += count
			res.AmountExpired += expired
			res.Expirations = append(res.Expirations, Expiration{
				ContainerID: c.ID,
				EntityType:  c.EntityType,
				Commodity:   c.Identity.CommodityName,
				Amount:      expired,
			})
		}
	}
	r.emitLocked(OpUpdate, c)
}

// ForceExpire expires one batch immediately, regardless of age, and returns
// its amount.
func (r *Registry) ForceExpire(id string, idx int) (float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.containers[id]
	if !ok {
		return 0, ErrContainerNotFound
	}
	if idx < 0 || idx >= len(c.Batches) {
		return 0, ErrBatchNotFound
	}
	amount := c.Batches[idx].Amount
	c.Batches = append(c.Batches[:idx], c.Batches[idx+1:]...)
	r.recordLossLocked(c, amount, 1)
	r.emitLocked(OpUpdate, c)
	return amount, nil
}

// ForceExpireAll expires every batch of every container of the given entity
// type. A zero type selects all containers.
func (r *Registry) ForceExpireAll(t EntityType) ForceExpireResult {
	r.mu.Lock()
	defer r.mu.Unlock()
	res := ForceExpireResult{}
	for _, id := range r.sortedIDsLocked() {
		c := r.containers[id]
		if t != 0 && c.EntityType != t {
			continue
		}
		if len(c.Batches) == 0 {
			continue
		}
		amount := ledger.TotalAmount(c.Batches)
		count := len(c.Batches)
		c.Batches = []ledger.Batch{}
		r.recordLossLocked(c, amount, count)
		r.emitLocked(OpUpdate, c)
		res.ContainersAffected++
		res.TotalExpired += amount
		res.Expirations = append(res.Expirations, Expiration{
			ContainerID: c.ID,
			EntityType:  c.EntityType,
			Commodity:   c.Identity.CommodityName,
			Amount:      amount,
		})
	}
	return res
}

func (r *Registry) thresholdLocked(idx uint16) (float64, bool) {
	if r.thresholds == nil {
		return ledger.DefaultExpiration, true
	}
	t, ok := r.thresholds.Threshold(idx)
	if !ok {
		return 0, false
	}
	return t.Expiration, true
}

func (r *Registry) recordLossLocked(c *Container, amount float64, batches int) {
	if amount < ledger.Epsilon {
		return
	}
	value := 0.0
	if r.catalog != nil {
		if com, ok := r.catalog.ByIndex(c.CommodityIndex); ok {
			value = amount * com.PricePerUnit
		}
	}
	r.losses.Append(LossEntry{
		When:           r.clock.Now(),
		CommodityName:  c.Identity.CommodityName,
		Amount:         amount,
		Value:          value,
		Location:       c.Metadata.LocationLabel,
		ObjectUniqueID: c.Identity.WorldObjectID,
		EntityType:     c.EntityType.String(),
		FarmID:         c.FarmID,
	})
	r.stats.BatchesExpired += batches
	r.stats.AmountExpired += amount
	r.stats.ValueExpired += value
}

func (r *Registry) sortedIDsLocked() []string {
	ids := make([]string, 0, len(r.containers))
	for id := range r.containers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MergeAll collapses similar-age batches in every container and returns the
// number of merges. Only containers that changed emit a delta.
func (r *Registry) MergeAll(threshold float64) int {
	if threshold <= 0 {
		threshold = r.mergeThreshold
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	total := 0
	for _, id := range r.sortedIDsLocked() {
		c := r.containers[id]
		if len(c.Batches) < 2 {
			continue
		}
		next := ledger.Clone(c.Batches)
		if n := ledger.MergeSimilarBatches(&next, threshold); n > 0 {
			c.Batches = next
			total += n
			r.emitLocked(OpUpdate, c)
		}
	}
	return total
}
