package middleware

import (
	"net/http"
	"time"

	"github.com/clipshare/server/internal/errors"
	"github.com/gin-gonic/gin"
)

// ErrorHandler converts the last error attached to the gin context into the
// {success: false, message, data: {code, timestamp}} JSON envelope,
// status-mapped per §6.
func ErrorHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 {
			return
		}
		err := c.Errors.Last()

		if e, ok := err.Err.(*errors.Error); ok {
			c.JSON(statusForCode(e.Code), gin.H{
				"success": false,
				"message": e.ToAPIError().Message,
				"data": gin.H{
					"code":      e.Code,
					"timestamp": e.ToAPIError().Timestamp,
				},
			})
			return
		}

		c.JSON(http.StatusInternalServerError, gin.H{
			"success": false,
			"message": "internal server error",
			"data": gin.H{
				"code":      errors.CodeInternal,
				"timestamp": time.Now().UTC().Format(time.RFC3339),
			},
		})
	}
}

// statusForCode maps a stable error code to its HTTP status per §6/§7.
func statusForCode(code errors.ErrorCode) int {
	switch code {
	case errors.CodeInvalidPayload:
		return http.StatusBadRequest
	case errors.CodeRateLimited:
		return http.StatusTooManyRequests
	case errors.CodePasswordRequired, errors.CodeInvalidPassword, errors.CodeAuthenticationRequired:
		return http.StatusUnauthorized
	case errors.CodeRoomNotFound, errors.CodeMessageNotFound, errors.CodeFileNotFound, errors.CodeShareNotFound:
		return http.StatusNotFound
	case errors.CodeUserNotAuthenticated, errors.CodeUserNotInRoom, errors.CodeNotYourMessage:
		return http.StatusForbidden
	case errors.CodeInvalidFileReference, errors.CodeFileTooLarge:
		return http.StatusBadRequest
	case errors.CodeShareExpired, errors.CodeShareRevoked:
		return http.StatusGone
	default:
		return http.StatusInternalServerError
	}
}

// JSON is a small helper so REST handlers reply with the uniform
// {success, message?, data?} envelope from §6 without repeating it.
func JSON(c *gin.Context, status int, data any) {
	c.JSON(status, gin.H{"success": status < 400, "data": data})
}

// Fail aborts the request with err attached, letting ErrorHandler render it.
func Fail(c *gin.Context, err error) {
	_ = c.Error(err)
	c.Abort()
}
