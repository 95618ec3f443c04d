package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/battlechat/battlechat-server/internal/registry"
	"github.com/battlechat/battlechat-server/internal/ws"
)

// SetupRoutes builds the router with the registry injected.
func SetupRoutes(reg *registry.Registry, log *zap.Logger) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", Healthz)
	r.Post("/rooms", CreateRoom(reg))
	r.Get("/rooms", ListRooms(reg))
	r.Get("/ws", ws.Handler(reg, log))
	return r
}
