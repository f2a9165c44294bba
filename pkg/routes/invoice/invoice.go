// Package invoice exposes the admin surface for invoice snapshots: trigger a
// rebuild, read export status. The actual push to QuickBooks always rides the
// polling protocol, never these routes.
package invoice

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	"github.com/fieldserve/trellis/pkg/snapshot"
	"github.com/fieldserve/trellis/pkg/tracing"
)

// Register registers invoice routes
func Register(g *echo.Group) {
	g.POST("/:workOrderId/snapshot", BuildSnapshot)
	g.GET("/:workOrderId/status", GetStatus)
}

// BuildSnapshot freezes the work order's current billing data into an
// exportable invoice.
func BuildSnapshot(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "invoice_handler.BuildSnapshot")
	defer span.End()

	workOrderID := c.Param("workOrderId")
	if workOrderID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "workOrderId is required")
	}

	ctx, svc, err := ectoinject.GetContext[*snapshot.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get snapshot service")
	}

	inv, err := svc.Build(ctx, workOrderID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, inv)
}

// GetStatus reports where the work order's invoice sits in the export
// lifecycle.
func GetStatus(c echo.Context) error {
	ctx := c.Request().Context()
	ctx, span := tracing.StartSpan(ctx, "invoice_handler.GetStatus")
	defer span.End()

	workOrderID := c.Param("workOrderId")
	if workOrderID == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "workOrderId is required")
	}

	ctx, svc, err := ectoinject.GetContext[*snapshot.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "failed to get snapshot service")
	}

	result, err := svc.GetStatus(ctx, workOrderID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
