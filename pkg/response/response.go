package response

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/talenthall/backend/pkg/apperr"
)

// Body is the standard API response envelope.
type Body struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   string      `json:"error,omitempty"`
	Context interface{} `json:"context,omitempty"`
}

// OK sends a 200 JSON response with data.
func OK(c *gin.Context, data interface{}) {
	c.JSON(http.StatusOK, Body{Success: true, Data: data})
}

// Created sends a 201 JSON response with data.
func Created(c *gin.Context, data interface{}) {
	c.JSON(http.StatusCreated, Body{Success: true, Data: data})
}

// NoContent sends 204.
func NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// BadRequest sends 400 with error message.
func BadRequest(c *gin.Context, err string) {
	c.JSON(http.StatusBadRequest, Body{Success: false, Error: err})
}

// Unauthorized sends 401.
func Unauthorized(c *gin.Context, err string) {
	c.JSON(http.StatusUnauthorized, Body{Success: false, Error: err})
}

// Forbidden sends 403.
func Forbidden(c *gin.Context, err string) {
	c.JSON(http.StatusForbidden, Body{Success: false, Error: err})
}

// NotFound sends 404.
func NotFound(c *gin.Context, err string) {
	c.JSON(http.StatusNotFound, Body{Success: false, Error: err})
}

// Conflict sends 409 with error message and optional context payload.
func Conflict(c *gin.Context, err string, context interface{}) {
	c.JSON(http.StatusConflict, Body{Success: false, Error: err, Context: context})
}

// ServiceUnavailable sends 503.
func ServiceUnavailable(c *gin.Context, err string) {
	c.JSON(http.StatusServiceUnavailable, Body{Success: false, Error: err})
}

// Internal sends 500.
func Internal(c *gin.Context, err string) {
	c.JSON(http.StatusInternalServerError, Body{Success: false, Error: err})
}

// Error maps a service error to the matching HTTP response using the
// apperr taxonomy. Unrecognized errors become 500.
func Error(c *gin.Context, err error) {
	var (
		validation *apperr.ValidationError
		queued     *apperr.AlreadyQueuedError
		transition *apperr.InvalidTransitionError
		concurrent *apperr.ConcurrencyError
		notFound   *apperr.NotFoundError
		permission *apperr.PermissionError
	)
	switch {
	case errors.As(err, &validation):
		BadRequest(c, validation.Error())
	case errors.As(err, &queued):
		Conflict(c, "already queued", gin.H{
			"booth_id": queued.BoothID,
			"position": queued.Position,
			"status":   queued.Status,
		})
	case errors.As(err, &transition):
		Conflict(c, transition.Error(), nil)
	case errors.As(err, &concurrent):
		Conflict(c, concurrent.Error(), nil)
	case errors.As(err, &notFound):
		NotFound(c, notFound.Error())
	case errors.As(err, &permission):
		Forbidden(c, permission.Error())
	default:
		Internal(c, "internal error")
	}
}
