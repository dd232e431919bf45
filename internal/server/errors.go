package server

import (
	"crypto/rand"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/raphaelgruber/floorplan-import/internal/models"
	"github.com/raphaelgruber/floorplan-import/internal/service"
	"github.com/raphaelgruber/floorplan-import/internal/store"
)

// ErrorResponse is the body of every error reply.
type ErrorResponse struct {
	Error         string   `json:"error"`
	Message       string   `json:"message"`
	Code          int      `json:"code"`
	Problems      []string `json:"problems,omitempty"`
	CorrelationID string   `json:"correlation_id"`
}

// NewErrorResponse builds an error body with a fresh correlation id.
func NewErrorResponse(err error, message string, code int) *ErrorResponse {
	errorStr := message
	if err != nil {
		errorStr = err.Error()
	}
	resp := &ErrorResponse{
		Error:         errorStr,
		Message:       message,
		Code:          code,
		CorrelationID: generateCorrelationID(),
	}
	var verr *service.ValidationError
	if errors.As(err, &verr) {
		resp.Problems = verr.Problems
	}
	return resp
}

// generateCorrelationID returns an 8 character id for matching a reply to its log line.
func generateCorrelationID() string {
	const charset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"
	const length = 8

	b := make([]byte, length)
	if _, err := rand.Read(b); err != nil {
		return "ERR-RAND"
	}
	for i := range b {
		b[i] = charset[int(b[i])%len(charset)]
	}
	return string(b)
}

// statusFor maps pipeline errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidSubmission):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrBatchNotConfirmable),
		errors.Is(err, service.ErrNothingToRegister),
		errors.Is(err, service.ErrItemNotEditable),
		errors.Is(err, models.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, service.ErrQueueFull), errors.Is(err, service.ErrShuttingDown):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// HandleError logs err and writes an error reply. Server errors hide the
// underlying error from the caller; the correlation id links it to the log.
func (s *Server) HandleError(c echo.Context, err error, message string) error {
	code := statusFor(err)
	resp := NewErrorResponse(err, message, code)
	if code == http.StatusInternalServerError {
		resp.Error = http.StatusText(code)
	}

	attrs := []any{
		"correlation_id", resp.CorrelationID,
		"message", message,
		"code", code,
		"path", c.Request().URL.Path,
		"method", c.Request().Method,
		"ip", c.RealIP(),
	}
	if err != nil {
		attrs = append(attrs, "error", err.Error())
	}
	if tenant := tenantID(c); tenant != "" {
		attrs = append(attrs, "tenant_id", tenant)
	}
	if code >= http.StatusInternalServerError {
		s.logger.Error("api error", attrs...)
	} else {
		s.logger.Warn("api error", attrs...)
	}
	return c.JSON(code, resp)
}

// httpErrorHandler renders errors that escape handlers, such as routing
// misses and middleware rejections, in the same shape.
func (s *Server) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		msg, ok := he.Message.(string)
		if !ok {
			msg = http.StatusText(he.Code)
		}
		resp := NewErrorResponse(nil, msg, he.Code)
		if c.Request().Method == http.MethodHead {
			err = c.NoContent(he.Code)
		} else {
			err = c.JSON(he.Code, resp)
		}
		if err != nil {
			s.logger.Error("failed to write error response", "error", err)
		}
		return
	}
	if werr := s.HandleError(c, err, "request failed"); werr != nil {
		s.logger.Error("failed to write error response", "error", werr)
	}
}
