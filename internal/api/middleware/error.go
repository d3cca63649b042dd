package middleware

import (
	"net/http"

	"github.com/gin-gonic/gin"
	apperrors "github.com/lumenhub/lumen-backend-go/pkg/errors"
	"github.com/lumenhub/lumen-backend-go/pkg/utils"
	"github.com/sirupsen/logrus"
)

// ErrorHandlingMiddleware recovers from panics and converts handler errors
// to the standard error response shape
func ErrorHandlingMiddleware(logger *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		defer func() {
			if recovered := recover(); recovered != nil {
				logger.WithFields(logrus.Fields{
					"method": c.Request.Method,
					"path":   c.Request.URL.Path,
					"panic":  recovered,
				}).Error("Panic recovered in handler")
				utils.SendError(c, http.StatusInternalServerError, "Internal server error")
				c.Abort()
			}
		}()

		c.Next()

		if len(c.Errors) == 0 || c.Writer.Written() {
			return
		}

		err := c.Errors.Last().Err
		if appErr, ok := err.(*apperrors.AppError); ok {
			utils.SendErrorWithDetails(c, appErr.Code, appErr.Message, appErr.Details)
			return
		}

		logger.WithError(err).WithFields(logrus.Fields{
			"method": c.Request.Method,
			"path":   c.Request.URL.Path,
		}).Error("Unhandled handler error")
		utils.SendError(c, apperrors.GetStatusCode(err), err.Error())
	}
}
