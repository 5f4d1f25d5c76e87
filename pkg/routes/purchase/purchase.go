package purchase

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/purchases"
)

var validate = validator.New()

// Register registers purchase routes
func Register(g *echo.Group) {
	g.POST("", RecordPurchase)
	g.GET("", ListPurchases)
}

// RecordPurchase records a purchase against a customer
func RecordPurchase(c echo.Context) error {
	ctx := c.Request().Context()

	var req models.RecordPurchaseRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, svc, err := ectoinject.GetContext[*purchases.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	purchase, err := svc.RecordPurchase(ctx, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, purchase)
}

// ListPurchases returns the purchase history of the whole identity cluster
// owning the given contact
func ListPurchases(c echo.Context) error {
	ctx := c.Request().Context()

	contactType := models.ContactType(c.QueryParam("contactType"))
	value := c.QueryParam("contactValue")

	if contactType == "" || value == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "contactType and contactValue query parameters are required")
	}

	ctx, svc, err := ectoinject.GetContext[*purchases.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	history, err := svc.PurchasesFor(ctx, contactType, value)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, history)
}
