package app

import (
	httpserver "github.com/yungbote/answercache/internal/http"
	httpH "github.com/yungbote/answercache/internal/http/handlers"
	"github.com/yungbote/answercache/internal/platform/logger"
)

func wireRouter(a *App, log *logger.Logger) httpserver.RouterConfig {
	log.Info("Wiring handlers...")
	serviceName := ""
	if a.Cfg.Otel.Enabled {
		serviceName = a.Cfg.Otel.ServiceName
	}
	return httpserver.RouterConfig{
		Log:               log,
		ServiceName:       serviceName,
		CORSOrigins:       a.Cfg.HTTP.CORSOrigins,
		HealthHandler:     httpH.NewHealthHandler(a),
		CompletionHandler: httpH.NewCompletionHandler(a.Completions),
	}
}
