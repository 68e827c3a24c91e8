package loader

import (
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// Feature is a self-contained module that contributes routes to the app.
type Feature interface {
	// Name returns the unique feature name.
	Name() string
	// IsEnabled reports whether the feature should be loaded.
	IsEnabled() bool
	// Load registers the feature's routes.
	Load(app fiber.Router) error
}

// Manager holds the registered features.
type Manager struct {
	features []Feature
	names    map[string]bool
}

// NewManager creates an empty feature manager.
func NewManager() *Manager {
	return &Manager{names: make(map[string]bool)}
}

// Register adds a feature. Registering the same name twice panics.
func (m *Manager) Register(f Feature) {
	if m.names[f.Name()] {
		panic(fmt.Sprintf("loader: feature %q registered twice", f.Name()))
	}
	m.names[f.Name()] = true
	m.features = append(m.features, f)
}

// Features returns the registered features in registration order.
func (m *Manager) Features() []Feature {
	out := make([]Feature, len(m.features))
	copy(out, m.features)
	return out
}

// LoadAll loads every enabled feature in registration order and stops at the first error.
func (m *Manager) LoadAll(app fiber.Router) error {
	for _, f := range m.features {
		if !f.IsEnabled() {
			continue
		}
		if err := f.Load(app); err != nil {
			return fmt.Errorf("failed to load feature %s: %w", f.Name(), err)
		}
	}
	return nil
}
