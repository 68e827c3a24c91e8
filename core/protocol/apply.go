package protocol

import (
	"fmt"

	"perishable-ledger/core/registry"
)

// ApplyFullSync atomically replaces the replica and rebuilds the reverse index.
func ApplyFullSync(r *Replica, m *FullSync) error {
	containers := make(map[string]*registry.Container, len(m.Containers))
	for _, c := range m.Containers {
		containers[c.ID] = c.Clone()
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.containers = containers
	r.byEntity = make(map[registry.EntityHandle]string, len(containers))
	for _, c := range containers {
		for i := range c.Batches {
			c.Batches[i].ExpiredLogged = false
		}
		r.bindLocked(c)
	}
	r.losses = append(r.losses[:0:0], m.Losses...)
	r.synced = true
	return nil
}

// ApplyDelta applies one container change. Update and Unregister for an
// unknown container leave the replica untouched and return ErrSyncGap.
func ApplyDelta(r *Replica, m *Delta) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	switch m.Op {
	case registry.OpRegister:
		if m.Container == nil {
			return fmt.Errorf("%w: register without payload", ErrUnknownOp)
		}
		if old, ok := r.containers[m.ContainerID]; ok {
			r.unbindLocked(old)
		}
		c := m.Container.Clone()
		c.ID = m.ContainerID
		r.bindLocked(c)
		r.containers[c.ID] = c
	case registry.OpUpdate:
		c, ok := r.containers[m.ContainerID]
		if !ok {
			return fmt.Errorf("%w: update %s", ErrSyncGap, m.ContainerID)
		}
		c.Batches = append(c.Batches[:0:0], m.Batches...)
	case registry.OpUnregister:
		c, ok := r.containers[m.ContainerID]
		if !ok {
			return fmt.Errorf("%w: unregister %s", ErrSyncGap, m.ContainerID)
		}
		r.unbindLocked(c)
		delete(r.containers, m.ContainerID)
	default:
		return fmt.Errorf("%w: %d", ErrUnknownOp, m.Op)
	}
	return nil
}

// ApplySettingsSync replaces the replicated overrides.
func ApplySettingsSync(r *Replica, m *SettingsSync) error {
	r.mu.Lock()
	r.overrides = m.Overrides.Clone()
	r.mu.Unlock()
	return nil
}

// ApplyWelcome records the session privilege granted by the server.
func ApplyWelcome(r *Replica, m *Welcome) error {
	r.mu.Lock()
	r.session = *m
	r.mu.Unlock()
	return nil
}
