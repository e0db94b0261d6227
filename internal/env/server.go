package environment

import (
	"context"
	"log/slog"
	"net/http"

	"slotpay/internal/api"
	"slotpay/internal/config"

	"github.com/gin-gonic/gin"
)

type Servers struct {
	HTTP struct {
		Observability *http.Server
		API           *http.Server
	}
}

func newServers(ctx context.Context, cfg config.Config, logger *slog.Logger, clients *Clients, services *Services) *Servers {
	var servers Servers

	if cfg.Env != "local" {
		gin.SetMode(gin.ReleaseMode)
	}

	router := services.API.Router(api.RouterConfig{AllowedOrigins: cfg.API.AllowedOrigins})

	servers.HTTP.API = &http.Server{
		Addr:              cfg.API.ADDR(),
		Handler:           router,
		ReadTimeout:       cfg.API.ReadTimeout,
		ReadHeaderTimeout: cfg.API.ReadTimeout,
		WriteTimeout:      cfg.API.WriteTimeout,
		IdleTimeout:       cfg.API.IdleTimeout,
	}
	servers.HTTP.Observability = initObservability(ctx, logger.WithGroup("http"), clients, cfg)

	return &servers
}
