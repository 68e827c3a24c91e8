package losslog

import (
	"bytes"
	"fmt"

	"perishable-ledger/core/logger"
	"perishable-ledger/core/registry"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
)

// Source provides loss log entries, oldest first.
type Source interface {
	LossLog(count int) []registry.LossEntry
	Clock() *registry.Clock
}

// Feature implements the loader.Feature interface.
type Feature struct {
	source Source
	logger *zap.Logger
}

// NewFeature creates the export feature.
func NewFeature(source Source, logger *zap.Logger) *Feature {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Feature{source: source, logger: logger}
}

// Name returns the name of the feature.
func (f *Feature) Name() string {
	return "losslog"
}

// IsEnabled checks if the feature is enabled.
func (f *Feature) IsEnabled() bool {
	return f.source != nil
}

// Load registers the feature's routes.
func (f *Feature) Load(app fiber.Router) error {
	app.Get("/losslog/export", f.HandleExport)
	return nil
}

// HandleExport streams the loss log workbook.
// @Summary Export Loss Log
// @Description Downloads the loss log as an xlsx workbook with a per-commodity summary.
// @Tags losslog
// @Produce application/vnd.openxmlformats-officedocument.spreadsheetml.sheet
// @Param count query int false "Most recent N entries (default all)"
// @Success 200 {file} file "Workbook"
// @Failure 500 {object} map[string]string "Internal Server Error"
// @Router /losslog/export [get]
func (f *Feature) HandleExport(c *fiber.Ctx) error {
	l := logger.WithRayID(f.logger, c)
	entries := f.source.LossLog(c.QueryInt("count", 0))

	var buf bytes.Buffer
	if err := Write(&buf, entries); err != nil {
		l.Error("Loss log export failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
	}
	now := f.source.Clock().Now()
	name := fmt.Sprintf("losses-y%d-p%02d.xlsx", now.Year, now.Period)

	l.Info("Exported loss log", zap.Int("entries", len(entries)), zap.Int("bytes", buf.Len()))
	c.Set(fiber.HeaderContentType, ContentType)
	c.Attachment(name)
	return c.Send(buf.Bytes())
}
