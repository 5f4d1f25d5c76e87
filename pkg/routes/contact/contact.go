package contact

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectologger"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	"github.com/Ramsey-B/fern/internal/repositories/contact"
	"github.com/Ramsey-B/fern/pkg/models"
	"github.com/Ramsey-B/fern/pkg/normalizers"
)

var validate = validator.New()

// Register registers contact administration routes
func Register(g *echo.Group) {
	g.PUT("/:id", UpdateContact)
}

// UpdateContact corrects a recorded contact value in place. Ownership and
// cluster links are untouched; only the fact itself changes.
func UpdateContact(c echo.Context) error {
	ctx := c.Request().Context()

	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil || id <= 0 {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid contact id")
	}

	var req models.UpdateContactRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	value := normalizers.NormalizeEmail(req.Value)
	if req.Type == models.ContactTypePhone {
		value = normalizers.NormalizePhone(req.Value)
	}
	if value == "" {
		return httperror.NewHTTPError(http.StatusBadRequest, "value is required")
	}

	ctx, repo, err := ectoinject.GetContext[*contact.Repository](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := repo.Update(ctx, id, req.Type, value); err != nil {
		return err
	}

	ctx, logger, _ := ectoinject.GetContext[ectologger.Logger](ctx)
	if logger != nil {
		logger.WithContext(ctx).WithFields(map[string]any{
			"contact_id": id,
			"type":       req.Type,
		}).Info("Corrected contact")
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "updated"})
}
