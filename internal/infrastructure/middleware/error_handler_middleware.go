package middleware

import (
	"net/http"

	"roomrelay/internal/core/domain"
	apperrors "roomrelay/pkg/errors"
	"roomrelay/pkg/logger"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// ErrorHandlerMiddleware renders the last error attached with c.Error as
// {error, message, details}.
func ErrorHandlerMiddleware(cl *logger.ContextLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		ctx := c.Request.Context()
		appErr := domain.Classify(c.Errors.Last().Err)
		fields := []zap.Field{
			zap.String("code", string(appErr.Code)),
			zap.Int("status", appErr.HTTPStatus),
			zap.String("path", c.Request.URL.Path),
			zap.String("method", c.Request.Method),
		}
		if appErr.HTTPStatus >= http.StatusInternalServerError {
			cause := appErr.Cause
			if cause == nil {
				cause = appErr
			}
			cl.LogError(ctx, cause, appErr.Message, fields...)
		} else {
			cl.WithContext(ctx).Info("request rejected", append(fields, zap.String("message", appErr.Message))...)
		}

		message := appErr.Message
		if appErr.Code == apperrors.ErrCodeInternal {
			message = "Internal server error"
		}
		c.JSON(appErr.HTTPStatus, gin.H{
			"error":   string(appErr.Code),
			"message": message,
			"details": appErr.Context,
		})
	}
}

// RecoveryMiddleware turns a panic into a 500 INTERNAL_ERROR response.
func RecoveryMiddleware(logger *zap.SugaredLogger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if err := recover(); err != nil {
				logger.Errorw("panic recovered",
					"error", err,
					"path", c.Request.URL.Path,
					"method", c.Request.Method,
				)

				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
					"error":   string(apperrors.ErrCodeInternal),
					"message": "Internal server error",
				})
			}
		}()

		c.Next()
	}
}
