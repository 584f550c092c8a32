package integrationhttp

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/httprate"

	"github.com/odyssey-erp/odyssey-sync/internal/platform/httpx"
	"github.com/odyssey-erp/odyssey-sync/internal/shared"
)

// MountRoutes registers the integration endpoints under /integrations.
func (h *Handler) MountRoutes(r chi.Router) {
	if h == nil {
		return
	}
	limiter := httprate.Limit(30, time.Minute,
		httprate.WithKeyFuncs(rateLimitKey),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			httpx.Problem(w, http.StatusTooManyRequests, "Too Many Requests", "slow down")
		}),
	)

	manage := h.rbac.RequireAny(shared.PermIntegrationManage)
	view := h.rbac.RequireAny(shared.PermPostingView, shared.PermIntegrationManage)

	r.Route("/integrations", func(r chi.Router) {
		r.With(view).Get("/", h.listConnections)

		r.Group(func(gr chi.Router) {
			gr.Use(limiter, manage)
			gr.Post("/{type}/connect", h.connect)
			gr.Post("/{id}/disconnect", h.disconnect)
			gr.Post("/{id}/authorize", h.authorize)
		})

		r.Route("/posting-queue", func(r chi.Router) {
			r.With(view).Get("/", h.listQueue)
			r.With(view).Get("/stats", h.stats)
			r.With(view).Get("/{id}", h.getItem)
			r.With(limiter, manage).Post("/", h.enqueue)
			r.With(limiter, h.rbac.RequireAny(shared.PermPostingRetry)).Post("/{id}/retry", h.retry)
		})
	})
}

func rateLimitKey(r *http.Request) (string, error) {
	if principal, ok := shared.PrincipalFromContext(r.Context()); ok {
		return "user:" + strconv.FormatInt(principal.UserID, 10), nil
	}
	key, err := httprate.KeyByIP(r)
	if err != nil {
		return "", err
	}
	return "ip:" + key, nil
}
