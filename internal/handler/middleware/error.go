package middleware

import (
	"net/http"

	"github.com/wb-go/wbf/ginext"
	"github.com/wb-go/wbf/zlog"

	"github.com/yokitheyo/cutout/internal/dto"
)

// ErrorHandlerMiddleware turns panics, and errors attached with c.Error by
// handlers that wrote no response, into a JSON 500.
func ErrorHandlerMiddleware() ginext.HandlerFunc {
	return func(c *ginext.Context) {
		defer func() {
			if rec := recover(); rec != nil {
				zlog.Logger.Error().
					Interface("panic", rec).
					Str("path", c.Request.URL.Path).
					Str("request_id", RequestID(c)).
					Msg("panic recovered")

				abortInternal(c)
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}
		zlog.Logger.Error().
			Err(c.Errors.Last().Err).
			Str("path", c.Request.URL.Path).
			Str("request_id", RequestID(c)).
			Msg("unhandled request error")
		abortInternal(c)
	}
}

func abortInternal(c *ginext.Context) {
	c.AbortWithStatusJSON(http.StatusInternalServerError, dto.ErrorResponse{
		Error:   "internal_error",
		Message: "An internal error occurred",
		Code:    http.StatusInternalServerError,
	})
}
