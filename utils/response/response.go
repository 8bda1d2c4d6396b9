package response

import (
	"errors"
	"strconv"

	"github.com/gofiber/fiber/v2"
	"github.com/sahilchouksey/search-gateway/services"
	"go.uber.org/zap"
)

// Response represents a standardized API response
type Response struct {
	Success bool         `json:"success"`
	Message string       `json:"message,omitempty"`
	Data    interface{}  `json:"data,omitempty"`
	Error   *ErrorDetail `json:"error,omitempty"`
}

// ErrorDetail contains error information
type ErrorDetail struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details string                 `json:"details,omitempty"`
	Meta    map[string]interface{} `json:"meta,omitempty"`
}

// Success returns a successful response
func Success(c *fiber.Ctx, data interface{}) error {
	return c.Status(fiber.StatusOK).JSON(Response{
		Success: true,
		Data:    data,
	})
}

// SuccessWithMessage returns a successful response with a message
func SuccessWithMessage(c *fiber.Ctx, message string, data interface{}) error {
	return c.Status(fiber.StatusOK).JSON(Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Created returns a 201 Created response
func Created(c *fiber.Ctx, message string, data interface{}) error {
	if message == "" {
		message = "Resource created successfully"
	}
	return c.Status(fiber.StatusCreated).JSON(Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Accepted returns a 202 Accepted response for work that completes asynchronously
func Accepted(c *fiber.Ctx, message string, data interface{}) error {
	return c.Status(fiber.StatusAccepted).JSON(Response{
		Success: true,
		Message: message,
		Data:    data,
	})
}

// Error returns an error response
func Error(c *fiber.Ctx, statusCode int, message string, code string) error {
	return c.Status(statusCode).JSON(Response{
		Success: false,
		Error: &ErrorDetail{
			Code:    code,
			Message: message,
		},
	})
}

// BadRequest returns a 400 Bad Request response
func BadRequest(c *fiber.Ctx, message string) error {
	return Error(c, fiber.StatusBadRequest, message, string(services.KindValidation))
}

// Unauthorized returns a 401 Unauthorized response
func Unauthorized(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "Unauthorized access"
	}
	return Error(c, fiber.StatusUnauthorized, message, string(services.KindUnauthorized))
}

// Forbidden returns a 403 Forbidden response
func Forbidden(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "Access forbidden"
	}
	return Error(c, fiber.StatusForbidden, message, string(services.KindPermissionDenied))
}

// NotFound returns a 404 Not Found response
func NotFound(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "Resource not found"
	}
	return Error(c, fiber.StatusNotFound, message, string(services.KindNotFound))
}

// ValidationError returns a 400 response listing invalid fields
func ValidationError(c *fiber.Ctx, fields map[string]string) error {
	meta := make(map[string]interface{}, len(fields))
	for k, v := range fields {
		meta[k] = v
	}
	return c.Status(fiber.StatusBadRequest).JSON(Response{
		Success: false,
		Error: &ErrorDetail{
			Code:    string(services.KindValidation),
			Message: "Validation failed",
			Meta:    meta,
		},
	})
}

// InternalServerError returns a 500 Internal Server Error response
func InternalServerError(c *fiber.Ctx, message string) error {
	if message == "" {
		message = "Internal server error"
	}
	return Error(c, fiber.StatusInternalServerError, message, "INTERNAL_ERROR")
}

// StatusFor maps an error kind to its HTTP status
func StatusFor(kind services.ErrorKind) int {
	switch kind {
	case services.KindUnauthorized:
		return fiber.StatusUnauthorized
	case services.KindRateLimited:
		return fiber.StatusTooManyRequests
	case services.KindPermissionDenied, services.KindQuotaExceeded:
		return fiber.StatusForbidden
	case services.KindValidation:
		return fiber.StatusBadRequest
	case services.KindNotFound:
		return fiber.StatusNotFound
	default:
		return fiber.StatusInternalServerError
	}
}

// FromError writes the envelope for err. Engine, store and unknown errors are logged in
// full and reach the caller only as a generic message.
func FromError(c *fiber.Ctx, err error) error {
	gerr, ok := services.AsError(err)
	if !ok {
		var ferr *fiber.Error
		if errors.As(err, &ferr) {
			return Error(c, ferr.Code, ferr.Message, codeForStatus(ferr.Code))
		}
		logFailure(c, "unhandled error", err)
		return InternalServerError(c, "")
	}

	status := StatusFor(gerr.Kind)
	if status == fiber.StatusInternalServerError {
		logFailure(c, "downstream failure", err)
		return Error(c, status, "Internal server error", string(gerr.Kind))
	}

	if gerr.Kind == services.KindRateLimited && gerr.RetryAfter > 0 {
		c.Set(fiber.HeaderRetryAfter, strconv.Itoa(int((gerr.RetryAfter.Seconds())+0.999)))
	}

	return c.Status(status).JSON(Response{
		Success: false,
		Error: &ErrorDetail{
			Code:    string(gerr.Kind),
			Message: gerr.Message,
			Meta:    gerr.Meta,
		},
	})
}

func codeForStatus(status int) string {
	switch status {
	case fiber.StatusBadRequest, fiber.StatusRequestEntityTooLarge, fiber.StatusUnprocessableEntity:
		return string(services.KindValidation)
	case fiber.StatusUnauthorized:
		return string(services.KindUnauthorized)
	case fiber.StatusForbidden:
		return string(services.KindPermissionDenied)
	case fiber.StatusNotFound, fiber.StatusMethodNotAllowed:
		return string(services.KindNotFound)
	case fiber.StatusTooManyRequests:
		return string(services.KindRateLimited)
	default:
		return "INTERNAL_ERROR"
	}
}

func logFailure(c *fiber.Ctx, msg string, err error) {
	requestID, _ := c.Locals("requestid").(string)
	zap.L().Error(msg,
		zap.String("request_id", requestID),
		zap.String("method", c.Method()),
		zap.String("path", c.Path()),
		zap.Error(err),
	)
}
