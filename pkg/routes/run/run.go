// Package run exposes the admin view of sync runs: the protocol audit trail
// and what a run staged.
package run

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/fieldserve/trellis/internal/repositories/auditlog"
	"github.com/fieldserve/trellis/internal/repositories/stagedcustomer"
	"github.com/fieldserve/trellis/internal/repositories/stagedinventoryitem"
	"github.com/fieldserve/trellis/internal/repositories/stagedotheritem"
	"github.com/fieldserve/trellis/internal/repositories/stagedserviceitem"
	"github.com/fieldserve/trellis/pkg/tracing"
)

var validate = validator.New()

// Register registers run routes
func Register(g *echo.Group) {
	g.GET("/:runId/audit", ListAudit)
	g.GET("/:runId/staging", GetStagingCounts)
}

type listAuditRequest struct {
	Limit int `query:"limit" validate:"omitempty,min=1,max=1000"`
}

// ListAudit returns a run's protocol events in order.
func ListAudit(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "run_handler.ListAudit")
	defer span.End()

	runID := c.Param("runId")
	if runID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "runId is required")
	}

	var req listAuditRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid query parameters")
	}
	if err := validate.Struct(&req); err != nil {
		return httperror.NewHTTPErrorf(http.StatusBadRequest, "invalid query parameters: %v", err)
	}

	ctx, repo, err := ectoinject.GetContext[*auditlog.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get audit log repository")
	}

	entries, err := repo.ListByRun(ctx, runID, req.Limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]any{
		"run_id":  runID,
		"entries": entries,
	})
}

// GetStagingCounts reports what a run staged per destination, plus the
// subtype split of the shared other-item destination.
func GetStagingCounts(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "run_handler.GetStagingCounts")
	defer span.End()

	runID := c.Param("runId")
	if runID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "runId is required")
	}

	ctx, inventory, err := ectoinject.GetContext[*stagedinventoryitem.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get staging repositories")
	}
	ctx, services, err := ectoinject.GetContext[*stagedserviceitem.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get staging repositories")
	}
	ctx, others, err := ectoinject.GetContext[*stagedotheritem.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get staging repositories")
	}
	ctx, customers, err := ectoinject.GetContext[*stagedcustomer.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get staging repositories")
	}

	inventoryCount, err := inventory.CountByRun(ctx, runID)
	if err != nil {
		return err
	}
	serviceCount, err := services.CountByRun(ctx, runID)
	if err != nil {
		return err
	}
	customerCount, err := customers.CountByRun(ctx, runID)
	if err != nil {
		return err
	}
	otherCounts, err := others.CountBySubtype(ctx)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{
		"run_id":          runID,
		"inventory_items": inventoryCount,
		"service_items":   serviceCount,
		"customers":       customerCount,
		"other_items":     otherCounts,
	})
}
