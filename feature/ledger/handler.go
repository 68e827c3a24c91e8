package ledger

import (
	"errors"
	"fmt"
	"strconv"

	"perishable-ledger/core/command"
	"perishable-ledger/core/logger"
	"perishable-ledger/core/middleware/auth"
	"perishable-ledger/core/reconcile"
	"perishable-ledger/core/registry"
	"perishable-ledger/core/settings"
	"perishable-ledger/core/snapshot"
	"perishable-ledger/core/utils"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for the ledger.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the ledger routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/ledger")
	group.Get("/containers", h.HandleListContainers)
	group.Get("/containers/:id", h.HandleGetContainer)
	group.Post("/commands/:action", h.HandleCommand)
	group.Post("/fill/:type", h.HandleFillReport)
	group.Delete("/entities/:type/:handle", h.HandleEntityRemoved)

	group.Get("/settings", h.HandleGetSettings)
	group.Put("/settings", h.HandleReplaceSettings)
	group.Delete("/settings", h.HandleResetSettings)
	group.Get("/settings/commodities", h.HandleExplainAll)
	group.Get("/settings/commodities/:name", h.HandleExplain)
	group.Put("/settings/commodities/:name", h.HandleSetCommodity)
	group.Delete("/settings/commodities/:name", h.HandleClearCommodity)
	group.Put("/settings/global/:key", h.HandleSetGlobal)

	group.Get("/losses", h.HandleLosses)
	group.Get("/stats", h.HandleStats)

	group.Get("/snapshots", h.HandleListSnapshots)
	group.Post("/snapshots", h.HandleSaveSnapshot)
	group.Delete("/snapshots/*", h.HandleDeleteSnapshot)
}

func actor(c *fiber.Ctx) command.Actor {
	return command.Actor{Name: "http:" + c.IP(), Admin: auth.Privileged(c)}
}

// statusOf maps ledger errors onto HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, command.ErrNotPrivileged):
		return fiber.StatusForbidden
	case errors.Is(err, registry.ErrContainerNotFound),
		errors.Is(err, registry.ErrBatchNotFound),
		errors.Is(err, reconcile.ErrEntityGone),
		errors.Is(err, snapshot.ErrNoSnapshot):
		return fiber.StatusNotFound
	case errors.Is(err, ErrSnapshotsDisabled):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, ErrBadRequest),
		errors.Is(err, ErrNotReportable),
		errors.Is(err, command.ErrUnknownAction),
		errors.Is(err, command.ErrInvalidArgument),
		errors.Is(err, registry.ErrUnknownEntityType),
		errors.Is(err, registry.ErrInvalidAmount),
		errors.Is(err, registry.ErrInvalidAge),
		errors.Is(err, reconcile.ErrNoAdapter),
		errors.Is(err, settings.ErrPeriodOutOfRange),
		errors.Is(err, settings.ErrUnknownCommodity),
		errors.Is(err, settings.ErrUnknownSetting),
		errors.Is(err, settings.ErrWrongKind),
		errors.Is(err, snapshot.ErrInvalidKey):
		return fiber.StatusBadRequest
	case errors.Is(err, command.ErrNoChange), errors.Is(err, command.ErrDesync):
		return fiber.StatusConflict
	default:
		return fiber.StatusInternalServerError
	}
}

func fail(c *fiber.Ctx, err error) error {
	return c.Status(statusOf(err)).JSON(fiber.Map{"error": err.Error()})
}

// result renders a command result; a failed command keeps the result shape.
func (h *Handler) result(c *fiber.Ctx, res command.Result, err error) error {
	if err != nil {
		logger.WithRayID(h.service.logger, c).Info("Command failed",
			zap.String("action", res.Kind.String()),
			zap.Error(err),
		)
		return c.Status(statusOf(err)).JSON(res)
	}
	return c.JSON(res)
}

// HandleListContainers lists containers.
// @Summary List Containers
// @Description Lists tracked containers, optionally filtered by entity type, farm or commodity.
// @Tags ledger
// @Produce json
// @Param type query string false "Entity type (vehicle, bale, placeable, husbandryFood, stored)"
// @Param farm query int false "Farm id"
// @Param commodity query string false "Commodity name"
// @Success 200 {object} map[string]interface{} "Containers"
// @Failure 400 {object} map[string]string "Bad Request"
// @Router /ledger/containers [get]
func (h *Handler) HandleListContainers(c *fiber.Ctx) error {
	f, err := h.service.ParseFilter(c.Query("type"), c.Query("farm"), c.Query("commodity"))
	if err != nil {
		return fail(c, err)
	}
	list := h.service.Containers(f)
	return c.JSON(fiber.Map{
		"count":      len(list),
		"containers": list,
	})
}

// HandleGetContainer returns one container.
// @Summary Get Container
// @Description Returns a container with its FIFO batch list.
// @Tags ledger
// @Produce json
// @Param id path string true "Container id"
// @Success 200 {object} ContainerView
// @Failure 404 {object} map[string]string "Not Found"
// @Router /ledger/containers/{id} [get]
func (h *Handler) HandleGetContainer(c *fiber.Ctx) error {
	view, err := h.service.Container(c.Params("id"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(view)
}

// HandleCommand executes a ledger command.
// @Summary Execute Command
// @Description Runs one command (addBatch, removeBatch, setBatchAge, setAllBatchAges, simulateAll, simulateContainer, forceExpire, forceExpireAll, clearLossLog, reconcile, changeSettings). Requires the API key.
// @Tags ledger
// @Accept json
// @Produce json
// @Param action path string true "Command name"
// @Success 200 {object} command.Result
// @Failure 400 {object} command.Result
// @Failure 403 {object} command.Result
// @Failure 404 {object} command.Result
// @Router /ledger/commands/{action} [post]
func (h *Handler) HandleCommand(c *fiber.Ctx) error {
	cmd, err := DecodeCommand(c.Params("action"), c.Body())
	if err != nil {
		return fail(c, err)
	}
	res, err := h.service.Execute(c.Context(), actor(c), cmd)
	return h.result(c, res, err)
}

// HandleFillReport records an observed fill level.
// @Summary Report Fill Level
// @Description Records the current fill level of a game entity, as the game's fill callback would. New perishable goods open a container, increases add a fresh batch, decreases consume oldest first.
// @Tags ledger
// @Accept json
// @Produce json
// @Param type path string true "Entity type"
// @Param observation body reconcile.Observation true "Observation"
// @Success 200 {object} map[string]interface{} "Stored observation and container id"
// @Failure 400 {object} map[string]string "Bad Request"
// @Failure 403 {object} map[string]string "Forbidden"
// @Router /ledger/fill/{type} [post]
func (h *Handler) HandleFillReport(c *fiber.Ctx) error {
	t, err := registry.ParseEntityType(c.Params("type"))
	if err != nil {
		return fail(c, err)
	}
	var obs reconcile.Observation
	if err := c.BodyParser(&obs); err != nil {
		return fail(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
	}
	stored, id, err := h.service.ReportFill(c.Context(), actor(c), t, obs)
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{
		"observation":  stored,
		"container_id": id,
		"tracked":      id != "",
	})
}

// HandleEntityRemoved reports a destroyed entity.
// @Summary Entity Removed
// @Description Drops the binding of a sold or destroyed entity. The container and its batches are kept.
// @Tags ledger
// @Produce json
// @Param type path string true "Entity type"
// @Param handle path int true "Entity handle"
// @Success 200 {object} map[string]interface{} "Unbound container"
// @Failure 400 {object} map[string]string "Bad Request"
// @Router /ledger/entities/{type}/{handle} [delete]
func (h *Handler) HandleEntityRemoved(c *fiber.Ctx) error {
	t, err := registry.ParseEntityType(c.Params("type"))
	if err != nil {
		return fail(c, err)
	}
	handle, err := strconv.ParseUint(c.Params("handle"), 10, 32)
	if err != nil || handle == 0 {
		return fail(c, fmt.Errorf("%w: invalid entity handle %q", ErrBadRequest, c.Params("handle")))
	}
	id, ok, err := h.service.RemoveEntity(actor(c), t, registry.EntityHandle(handle))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"container_id": id, "unbound": ok})
}

// HandleGetSettings returns the override layer.
// @Summary Get Settings
// @Tags settings
// @Produce json
// @Success 200 {object} settings.Overrides
// @Router /ledger/settings [get]
func (h *Handler) HandleGetSettings(c *fiber.Ctx) error {
	return c.JSON(h.service.Overrides())
}

// HandleReplaceSettings uploads a settings document.
// @Summary Replace Settings
// @Description Validates an overrides document and replaces the whole user layer atomically.
// @Tags settings
// @Accept json
// @Produce json
// @Success 200 {object} command.Result
// @Failure 400 {object} command.Result
// @Failure 403 {object} command.Result
// @Router /ledger/settings [put]
func (h *Handler) HandleReplaceSettings(c *fiber.Ctx) error {
	res, err := h.service.ReplaceSettings(c.Context(), actor(c), c.Body())
	return h.result(c, res, err)
}

// HandleResetSettings clears every override.
// @Summary Reset Settings
// @Tags settings
// @Produce json
// @Success 200 {object} command.Result
// @Failure 403 {object} command.Result
// @Router /ledger/settings [delete]
func (h *Handler) HandleResetSettings(c *fiber.Ctx) error {
	res, err := h.service.Execute(c.Context(), actor(c), command.ChangeSettings{Op: command.SettingsResetAll})
	return h.result(c, res, err)
}

// HandleExplainAll resolves every commodity.
// @Summary Effective Expirations
// @Tags settings
// @Produce json
// @Success 200 {array} settings.Resolution
// @Router /ledger/settings/commodities [get]
func (h *Handler) HandleExplainAll(c *fiber.Ctx) error {
	return c.JSON(h.service.ExplainAll())
}

// HandleExplain resolves one commodity and reports which layer decided.
// @Summary Explain Commodity
// @Tags settings
// @Produce json
// @Param name path string true "Commodity name"
// @Success 200 {object} settings.Resolution
// @Failure 400 {object} map[string]string "Unknown commodity"
// @Router /ledger/settings/commodities/{name} [get]
func (h *Handler) HandleExplain(c *fiber.Ctx) error {
	res, err := h.service.Explain(c.Params("name"))
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(res)
}

type commodityRequest struct {
	Period     *float64 `json:"period"`
	Perishable *bool    `json:"perishable"`
}

// HandleSetCommodity sets a commodity override.
// @Summary Set Commodity Override
// @Description Body is {"period": N} to set the expiration in periods, or {"perishable": false} to disable expiration.
// @Tags settings
// @Accept json
// @Produce json
// @Param name path string true "Commodity name"
// @Success 200 {object} command.Result
// @Failure 400 {object} command.Result
// @Failure 403 {object} command.Result
// @Router /ledger/settings/commodities/{name} [put]
func (h *Handler) HandleSetCommodity(c *fiber.Ctx) error {
	var req commodityRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fmt.Errorf("%w: %v", ErrBadRequest, err))
	}
	change := command.ChangeSettings{Commodity: c.Params("name")}
	switch {
	case req.Period != nil:
		change.Op = command.SettingsSetExpiration
		change.Period = *req.Period
	case req.Perishable != nil:
		change.Op = command.SettingsSetPerishable
		change.Perishable = *req.Perishable
	default:
		return fail(c, fmt.Errorf("%w: period or perishable is required", ErrBadRequest))
	}
	res, err := h.service.Execute(c.Context(), actor(c), change)
	return h.result(c, res, err)
}

// HandleClearCommodity removes a commodity override.
// @Summary Clear Commodity Override
// @Tags settings
// @Produce json
// @Param name path string true "Commodity name"
// @Success 200 {object} command.Result
// @Failure 400 {object} command.Result
// @Failure 403 {object} command.Result
// @Router /ledger/settings/commodities/{name} [delete]
func (h *Handler) HandleClearCommodity(c *fiber.Ctx) error {
	change := command.ChangeSettings{Op: command.SettingsClearCommodity, Commodity: c.Params("name")}
	res, err := h.service.Execute(c.Context(), actor(c), change)
	return h.result(c, res, err)
}

// HandleSetGlobal sets a global value.
// @Summary Set Global Setting
// @Description Body is {"value": V}; the value is converted to the setting's type.
// @Tags settings
// @Accept json
// @Produce json
// @Param key path string true "Setting key (enabled, show_warnings, warning_hours, notification_mode)"
// @Success 200 {object} command.Result
// @Failure 400 {object} command.Result
// @Failure 403 {object} command.Result
// @Router /ledger/settings/global/{key} [put]
func (h *Handler) HandleSetGlobal(c *fiber.Ctx) error {
	var req struct {
		Value any `json:"value"`
	}
	if err := c.BodyParser(&req); err != nil || req.Value == nil {
		return fail(c, fmt.Errorf("%w: value is required", ErrBadRequest))
	}
	res, err := h.service.SetGlobal(c.Context(), actor(c), c.Params("key"), utils.ToString(req.Value))
	return h.result(c, res, err)
}

// HandleLosses returns the loss log.
// @Summary Loss Log
// @Tags ledger
// @Produce json
// @Param count query int false "Most recent N entries (default all)"
// @Success 200 {object} map[string]interface{} "Entries, oldest first"
// @Router /ledger/losses [get]
func (h *Handler) HandleLosses(c *fiber.Ctx) error {
	entries := h.service.Losses(c.QueryInt("count", 0))
	return c.JSON(fiber.Map{
		"count":   len(entries),
		"entries": entries,
	})
}

// HandleStats returns registry counters.
// @Summary Ledger Stats
// @Tags ledger
// @Produce json
// @Success 200 {object} Stats
// @Router /ledger/stats [get]
func (h *Handler) HandleStats(c *fiber.Ctx) error {
	return c.JSON(h.service.Stats())
}

// HandleListSnapshots lists archived snapshots.
// @Summary List Snapshots
// @Tags snapshots
// @Produce json
// @Success 200 {array} snapshot.Info
// @Failure 503 {object} map[string]string "Snapshots not configured"
// @Router /ledger/snapshots [get]
func (h *Handler) HandleListSnapshots(c *fiber.Ctx) error {
	list, err := h.service.Snapshots(c.Context())
	if err != nil {
		return fail(c, err)
	}
	return c.JSON(list)
}

// HandleSaveSnapshot archives the registry now.
// @Summary Save Snapshot
// @Tags snapshots
// @Produce json
// @Success 200 {object} snapshot.Info
// @Failure 403 {object} map[string]string "Forbidden"
// @Failure 503 {object} map[string]string "Snapshots not configured"
// @Router /ledger/snapshots [post]
func (h *Handler) HandleSaveSnapshot(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)
	info, err := h.service.SaveSnapshot(c.Context(), actor(c))
	if err != nil {
		l.Error("Snapshot failed", zap.Error(err))
		return fail(c, err)
	}
	return c.JSON(info)
}

// HandleDeleteSnapshot removes one snapshot.
// @Summary Delete Snapshot
// @Tags snapshots
// @Produce json
// @Param key path string true "Snapshot key, e.g. snapshots/1700000000.json.zst"
// @Success 200 {object} map[string]string "Deleted"
// @Failure 400 {object} map[string]string "Invalid key"
// @Router /ledger/snapshots/{key} [delete]
func (h *Handler) HandleDeleteSnapshot(c *fiber.Ctx) error {
	key := c.Params("*")
	if err := h.service.DeleteSnapshot(c.Context(), actor(c), key); err != nil {
		return fail(c, err)
	}
	return c.JSON(fiber.Map{"deleted": key})
}
