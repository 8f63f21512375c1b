package apierror

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/opensafely-core/airlock/internal/metrics"
)

// Body is the structured error response described by spec §6:
// {error_code, message}, where error_code carries the error kind.
type Body struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// AbortWithAPIError writes the structured error body and aborts the gin
// context with the error's HTTP status, falling back to 500 for an
// un-typed error.
func AbortWithAPIError(c *gin.Context, err error) {
	var apiErr *Error
	if !errors.As(err, &apiErr) {
		apiErr = NewInternal(err)
	}
	status := apiErr.HTTPStatus
	if status == 0 {
		status = http.StatusInternalServerError
	}
	operation := c.FullPath()
	if operation == "" {
		operation = c.Request.URL.Path
	}
	metrics.OperationErrors.WithLabelValues(operation, apiErr.Code).Inc()
	c.AbortWithStatusJSON(status, Body{
		ErrorCode: apiErr.Code,
		Message:   apiErr.Message,
	})
}

// HandleFunc is a handler that returns a response value or an error, the
// way the teacher's handler layer separates business logic from response
// writing.
type HandleFunc func(*gin.Context) (any, error)

// Handle executes fn and writes its result, mapping any returned error to
// the structured error body via AbortWithAPIError.
func Handle(c *gin.Context, fn HandleFunc) {
	response, err := fn(c)
	if err != nil {
		AbortWithAPIError(c, err)
		return
	}
	code := http.StatusOK
	if c.Writer.Status() > 0 && c.Writer.Status() != http.StatusOK {
		code = c.Writer.Status()
	}
	c.JSON(code, response)
}
