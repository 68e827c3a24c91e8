package audit

import (
	"perishable-ledger/core/logger"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Handler handles HTTP requests for audit checks.
type Handler struct {
	service *Service
}

// NewHandler creates a new HTTP handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes registers the audit routes.
func (h *Handler) RegisterRoutes(app fiber.Router) {
	group := app.Group("/audit")
	group.Get("/", h.HandleAudit)
	group.Get("/ledger", h.HandleLedgerCheck)
	group.Get("/schema", h.HandleSchemaCheck)
	group.Get("/snapshots", h.HandleSnapshotCheck)
	group.Get("/drift", h.HandleDriftCheck)
}

func section(report any, err error) any {
	if err != nil {
		return map[string]any{"status": "error", "error": err.Error()}
	}
	return report
}

// HandleAudit runs every check.
// @Summary Run All Audits
// @Description Runs the ledger, schema, snapshot and drift checks. Failing infrastructure is reported per section.
// @Tags audit
// @Produce json
// @Success 200 {object} map[string]interface{} "Combined Report"
// @Router /audit [get]
func (h *Handler) HandleAudit(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)
	l.Info("Running full audit")

	ctx := c.Context()
	report := map[string]any{"ledger": h.service.CheckLedger()}
	if h.service.db != nil {
		report["schema"] = section(h.service.CheckSchema())
	}
	if h.service.snapshots != nil {
		report["snapshots"] = section(h.service.CheckSnapshot(ctx))
	}
	report["drift"] = section(h.service.CheckDrift(ctx))
	return c.JSON(report)
}

// HandleLedgerCheck checks the registry invariants.
// @Summary Check Ledger Invariants
// @Description Verifies unique ids, the entity reverse index, batch amounts and ages, commodity indices and the threshold cache.
// @Tags audit
// @Produce json
// @Success 200 {object} checks.LedgerReport "Ledger Report"
// @Router /audit/ledger [get]
func (h *Handler) HandleLedgerCheck(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)
	report := h.service.CheckLedger()
	if !report.Matched {
		l.Warn("Ledger invariants broken", zap.Int("issues", len(report.Issues)))
	}
	return c.JSON(report)
}

// HandleSchemaCheck checks the database schema.
// @Summary Check Database Schema
// @Description Checks that every persistence table carries the expected columns.
// @Tags audit
// @Produce json
// @Success 200 {object} checks.SchemaReport "Schema Report"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /audit/schema [get]
func (h *Handler) HandleSchemaCheck(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)
	report, err := h.service.CheckSchema()
	if err != nil {
		l.Error("Schema check failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(report)
}

// HandleSnapshotCheck checks the newest snapshot.
// @Summary Check Snapshots
// @Description Downloads and decodes the newest snapshot.
// @Tags audit
// @Produce json
// @Success 200 {object} checks.SnapshotReport "Snapshot Report"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /audit/snapshots [get]
func (h *Handler) HandleSnapshotCheck(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)
	report, err := h.service.CheckSnapshot(c.Context())
	if err != nil {
		l.Error("Snapshot check failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(report)
}

// HandleDriftCheck reports drift between ledger and fill levels.
// @Summary Check Drift
// @Description Plans reconciliation without applying it.
// @Tags audit
// @Produce json
// @Success 200 {object} reconcile.Plan "Drift Plan"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /audit/drift [get]
func (h *Handler) HandleDriftCheck(c *fiber.Ctx) error {
	l := logger.WithRayID(h.service.logger, c)
	plan, err := h.service.CheckDrift(c.Context())
	if err != nil {
		l.Error("Drift check failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	return c.JSON(plan)
}
