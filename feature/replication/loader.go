package replication

import (
	"github.com/gofiber/fiber/v2"
)

// Feature implements the loader.Feature interface.
type Feature struct {
	hub *Hub
}

// NewFeature exposes hub over HTTP.
func NewFeature(hub *Hub) *Feature {
	return &Feature{hub: hub}
}

// Name returns the name of the feature.
func (f *Feature) Name() string {
	return "replication"
}

// IsEnabled checks if the feature is enabled.
func (f *Feature) IsEnabled() bool {
	return f.hub != nil
}

// Load registers the feature's routes.
func (f *Feature) Load(app fiber.Router) error {
	app.Get("/replication/sessions", f.HandleSessions)
	return nil
}

// HandleSessions lists connected replicas.
// @Summary List Replication Sessions
// @Description Lists the replicas currently connected to the WebSocket endpoint.
// @Tags replication
// @Produce json
// @Success 200 {array} SessionInfo
// @Router /replication/sessions [get]
func (f *Feature) HandleSessions(c *fiber.Ctx) error {
	sessions := f.hub.Sessions()
	return c.JSON(fiber.Map{
		"count":    len(sessions),
		"sessions": sessions,
	})
}
