package middleware

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/yungbote/answercache/internal/http/response"
	"github.com/yungbote/answercache/internal/platform/ctxutil"
	"github.com/yungbote/answercache/internal/platform/logger"
)

// Recovery turns a handler panic into a 500 envelope and logs it.
func Recovery(log *logger.Logger) gin.HandlerFunc {
	return gin.CustomRecovery(func(c *gin.Context, recovered any) {
		if log != nil {
			fields := append([]interface{}{"panic", fmt.Sprint(recovered), "path", c.Request.URL.Path},
				ctxutil.LogFields(c.Request.Context())...)
			log.Error("handler panicked", fields...)
		}
		response.RespondError(c, http.StatusInternalServerError, "internal", fmt.Errorf("internal error"))
		c.Abort()
	})
}
