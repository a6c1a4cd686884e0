// Package handler implements the HTTP endpoints of the recognition API.
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/freight/recognition/internal/domain/recognition"
	"github.com/freight/recognition/internal/domain/shared"
	"github.com/freight/recognition/internal/infrastructure/logger"
	"github.com/freight/recognition/internal/interfaces/http/dto"
	"github.com/freight/recognition/internal/interfaces/http/middleware"
	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

// DateLayout is the layout of date-only request fields
const DateLayout = "2006-01-02"

// BaseHandler provides common handler utilities
type BaseHandler struct{}

// Success sends a success response
func (h *BaseHandler) Success(c *gin.Context, data any) {
	c.JSON(http.StatusOK, dto.NewSuccessResponse(data))
}

// SuccessWithMeta sends a success response with pagination meta
func (h *BaseHandler) SuccessWithMeta(c *gin.Context, data any, total int64, page, pageSize int) {
	c.JSON(http.StatusOK, dto.NewSuccessResponseWithMeta(data, total, page, pageSize))
}

// Created sends a 201 created response
func (h *BaseHandler) Created(c *gin.Context, data any) {
	c.JSON(http.StatusCreated, dto.NewSuccessResponse(data))
}

// NoContent sends a 204 no content response
func (h *BaseHandler) NoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}

// Error sends an error response with the appropriate status code
func (h *BaseHandler) Error(c *gin.Context, statusCode int, code, message string) {
	c.JSON(statusCode, dto.NewErrorResponseWithRequestID(code, message, middleware.GetRequestID(c)))
}

// BadRequest sends a 400 bad request response
func (h *BaseHandler) BadRequest(c *gin.Context, message string) {
	h.Error(c, http.StatusBadRequest, dto.ErrCodeBadRequest, message)
}

// NotFound sends a 404 not found response
func (h *BaseHandler) NotFound(c *gin.Context, message string) {
	h.Error(c, http.StatusNotFound, dto.ErrCodeNotFound, message)
}

// InternalError sends a 500 internal server error response
func (h *BaseHandler) InternalError(c *gin.Context, message string) {
	h.Error(c, http.StatusInternalServerError, dto.ErrCodeInternal, message)
}

// HandleError writes err as a response. Domain errors keep their code and
// message; anything else is logged and reported as an internal error.
func (h *BaseHandler) HandleError(c *gin.Context, err error) {
	if err == nil {
		return
	}
	_ = c.Error(err)

	if de, ok := shared.AsDomainError(err); ok {
		h.Error(c, dto.GetHTTPStatus(de.Code), de.Code, err.Error())
		return
	}

	logger.For(c.Request.Context(), zap.L()).Error("Request failed",
		zap.String("path", c.FullPath()),
		zap.Error(err),
	)
	h.InternalError(c, "An unexpected error occurred")
}

// Company returns the company the request is scoped to. It writes a 401 and
// returns false when none was resolved.
func (h *BaseHandler) Company(c *gin.Context) (string, bool) {
	company := middleware.GetCompany(c)
	if company == "" {
		h.Error(c, http.StatusUnauthorized, dto.ErrCodeMissingScope,
			"Company is required; send a bearer token or the X-Company header")
		return "", false
	}
	return company, true
}

// BindJSON binds and validates a JSON body, writing the error response on failure
func (h *BaseHandler) BindJSON(c *gin.Context, obj any) bool {
	if err := c.ShouldBindJSON(obj); err != nil {
		h.bindError(c, err)
		return false
	}
	return true
}

// BindQuery binds and validates query parameters
func (h *BaseHandler) BindQuery(c *gin.Context, obj any) bool {
	if err := c.ShouldBindQuery(obj); err != nil {
		h.bindError(c, err)
		return false
	}
	return true
}

func (h *BaseHandler) bindError(c *gin.Context, err error) {
	var validationErrs validator.ValidationErrors
	var syntaxErr *json.SyntaxError
	var typeErr *json.UnmarshalTypeError
	var timeErr *time.ParseError
	switch {
	case errors.As(err, &validationErrs):
		middleware.HandleValidationError(c, err)
	case errors.Is(err, io.EOF):
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, "Request body is required")
	case errors.Is(err, io.ErrUnexpectedEOF), errors.As(err, &syntaxErr), errors.As(err, &typeErr), errors.As(err, &timeErr):
		h.Error(c, http.StatusBadRequest, dto.ErrCodeInvalidJSON, err.Error())
	default:
		h.BadRequest(c, err.Error())
	}
}

// JobRef parses the :type and :id path parameters. Job types are accepted in
// kebab case ("air-shipment") as well as their canonical form.
func (h *BaseHandler) JobRef(c *gin.Context) (recognition.JobRef, bool) {
	var uri dto.JobURI
	if err := c.ShouldBindUri(&uri); err != nil {
		h.bindError(c, err)
		return recognition.JobRef{}, false
	}
	jobType, err := recognition.ParseJobType(uri.Type)
	if err != nil {
		h.HandleError(c, err)
		return recognition.JobRef{}, false
	}
	ref, err := recognition.NewJobRef(jobType, uri.ID)
	if err != nil {
		h.HandleError(c, err)
		return recognition.JobRef{}, false
	}
	return ref, true
}

// ParseDate parses an optional date-only field. Empty yields the zero time.
func ParseDate(value string) (time.Time, error) {
	if value == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(DateLayout, value)
	if err != nil {
		return time.Time{}, shared.NewDomainError("INVALID_DATE", "Date must use the YYYY-MM-DD format")
	}
	return t, nil
}
