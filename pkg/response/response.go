package response

import (
	"net/http"

	"github.com/gin-gonic/gin"

	apperrors "github.com/charlesng35/kbguard/pkg/errors"
)

// RequestIDKey is the gin context key holding the request correlation id.
const RequestIDKey = "requestID"

// retryAfterSeconds is sent with retryable error kinds.
const retryAfterSeconds = "1"

// Response is the envelope for every API payload.
type Response struct {
	Success   bool       `json:"success"`
	Data      any        `json:"data,omitempty"`
	Error     *ErrorInfo `json:"error,omitempty"`
	Meta      *Meta      `json:"meta,omitempty"`
	RequestID string     `json:"request_id,omitempty"`
}

// ErrorInfo is the client-visible part of an AppError.
type ErrorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details any    `json:"details,omitempty"`
}

// Meta describes a page of a listing.
type Meta struct {
	Page       int `json:"page,omitempty"`
	PerPage    int `json:"per_page,omitempty"`
	Total      int `json:"total,omitempty"`
	TotalPages int `json:"total_pages,omitempty"`
}

// NewMeta derives TotalPages from total and perPage.
func NewMeta(page, perPage int, total int64) *Meta {
	meta := &Meta{Page: page, PerPage: perPage, Total: int(total)}
	if perPage > 0 {
		meta.TotalPages = int((total + int64(perPage) - 1) / int64(perPage))
	}
	return meta
}

// Success writes a JSON success response.
func Success(c *gin.Context, statusCode int, data any) {
	write(c, statusCode, Response{Success: true, Data: data})
}

// SuccessWithMeta writes a success response with paging metadata.
func SuccessWithMeta(c *gin.Context, statusCode int, data any, meta *Meta) {
	write(c, statusCode, Response{Success: true, Data: data, Meta: meta})
}

// Error writes the error envelope for err. Errors that are not AppErrors become a 500.
func Error(c *gin.Context, err error) {
	ErrorWithDetails(c, err, nil)
}

// ErrorWithDetails is Error with structured details, such as per-field validation failures.
func ErrorWithDetails(c *gin.Context, err error, details any) {
	if err == nil {
		err = apperrors.ErrInternalServer
	}

	appErr := apperrors.FromError(err)
	status := appErr.StatusCode
	if status == 0 {
		status = http.StatusInternalServerError
	}
	if appErr.Retryable && c.Writer.Header().Get("Retry-After") == "" {
		c.Header("Retry-After", retryAfterSeconds)
	}

	write(c, status, Response{
		Error: &ErrorInfo{Code: appErr.Code, Message: appErr.Message, Details: details},
	})
}

func write(c *gin.Context, status int, body Response) {
	body.RequestID = c.GetString(RequestIDKey)
	c.JSON(status, body)
}
