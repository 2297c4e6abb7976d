package record

import (
	"context"
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/ehr/clinrec/internal/platform/auth"
	"github.com/ehr/clinrec/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	// Read endpoints – obstetrician, auditor (admin always passes)
	readGroup := api.Group("", auth.RequireRole(auth.RoleObstetrician, auth.RoleAuditor))
	readGroup.GET("/records", h.List)
	readGroup.GET("/records/:id", h.Get)

	// Write endpoints – obstetrician
	writeGroup := api.Group("", auth.RequireRole(auth.RoleObstetrician))
	writeGroup.POST("/records", h.Create)
	writeGroup.PUT("/records/:id", h.Update)
	writeGroup.PATCH("/records/:id/:action", h.Transition)
	writeGroup.POST("/records/:id/versions", h.NewVersion)
}

// ActorFromContext builds the caller from the authenticated request context.
func ActorFromContext(ctx context.Context) Actor {
	a := Actor{ClinicianID: auth.UserIDFromContext(ctx)}
	for _, role := range auth.RolesFromContext(ctx) {
		if role == auth.RoleAdmin || role == auth.RoleAuditor {
			a.Privileged = true
		}
	}
	return a
}

func (h *Handler) Create(c echo.Context) error {
	var d Draft
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rec, err := h.svc.Create(ctx, ActorFromContext(ctx), &d)
	if err != nil {
		return httpError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusCreated, rec)
}

func (h *Handler) Get(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	rec, err := h.svc.Get(ctx, ActorFromContext(ctx), id)
	if err != nil {
		return httpError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) List(c echo.Context) error {
	pg := pagination.FromContext(c)
	var patientID *uuid.UUID
	if raw := c.QueryParam("patient_id"); raw != "" {
		pid, err := uuid.Parse(raw)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid patient_id")
		}
		patientID = &pid
	}
	ctx := c.Request().Context()
	items, total, err := h.svc.List(ctx, ActorFromContext(ctx), patientID, pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithNext(c.Request().URL))
}

func (h *Handler) Update(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	var d Draft
	if err := c.Bind(&d); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rec, err := h.svc.Update(ctx, ActorFromContext(ctx), id, &d)
	if err != nil {
		return httpError(err, http.StatusBadRequest)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) Transition(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	action, err := ParseAction(c.Param("action"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	ctx := c.Request().Context()
	rec, err := h.svc.Transition(ctx, ActorFromContext(ctx), id, action)
	if err != nil {
		return httpError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusOK, rec)
}

func (h *Handler) NewVersion(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	ctx := c.Request().Context()
	rec, err := h.svc.NewVersion(ctx, ActorFromContext(ctx), id)
	if err != nil {
		return httpError(err, http.StatusInternalServerError)
	}
	return c.JSON(http.StatusCreated, rec)
}

// httpError maps service errors to status codes, using fallback for anything unrecognised.
func httpError(err error, fallback int) *echo.HTTPError {
	switch {
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "clinical record not found")
	case errors.Is(err, ErrIllegalTransition),
		errors.Is(err, ErrNotEditable),
		errors.Is(err, ErrNotFinalized),
		errors.Is(err, ErrStaleState):
		return echo.NewHTTPError(http.StatusConflict, err.Error())
	}
	return echo.NewHTTPError(fallback, err.Error())
}
