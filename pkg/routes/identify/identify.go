package identify

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/reconcile"
)

var validate = validator.New()

// Register registers identify routes
func Register(g *echo.Group) {
	g.POST("", Identify)
}

// Identify resolves a contact pair to its unified customer identity
func Identify(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.IdentifyRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, engine, err := ectoinject.GetContext[*reconcile.Engine](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	identity, err := engine.Identify(ctx, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, identity)
}
