package web

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"mpsdash/internal/domain/mps"
	"mpsdash/internal/usecase/catalog"
)

const maxBodyBytes = 1 << 20

// Requester is the consumer contract: one call, a normalized answer or a
// typed error.
type Requester interface {
	Request(ctx context.Context, req mps.Request) (mps.Result, error)
}

type EndpointLookup interface {
	Lookup(name string) (catalog.Endpoint, bool)
}

type Handler struct {
	gateway   Requester
	endpoints EndpointLookup
	started   time.Time
}

func NewHandler(gateway Requester, endpoints EndpointLookup) *Handler {
	return &Handler{gateway: gateway, endpoints: endpoints, started: time.Now()}
}

// Router mounts the dashboard API. The server's BaseContext supplies the
// logger request contexts inherit.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(requestID)
	r.Use(accessLog)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Route("/api", func(r chi.Router) {
		r.Post("/{name}", h.call)
	})
	return r
}
