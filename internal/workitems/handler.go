package workitems

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/freedayko/redmine-planning/internal/authz"
	"github.com/freedayko/redmine-planning/internal/shared"
	"github.com/freedayko/redmine-planning/internal/view"
)

// Handler renders the work-item catalog pages.
type Handler struct {
	logger    *slog.Logger
	service   *Service
	templates *view.Engine
	csrf      *shared.CSRFManager
	authz     authz.Middleware
}

// NewHandler constructs a Handler.
func NewHandler(logger *slog.Logger, service *Service, templates *view.Engine, csrf *shared.CSRFManager, mw authz.Middleware) *Handler {
	return &Handler{logger: logger, service: service, templates: templates, csrf: csrf, authz: mw}
}

// MountRoutes registers catalog routes.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Group(func(r chi.Router) {
		r.Use(h.authz.RequireUser)
		r.Get("/", h.List)
	})
}

// List shows the catalog, open items first.
func (h *Handler) List(w http.ResponseWriter, r *http.Request) {
	onlyOpen := r.URL.Query().Get("all") == ""
	items, err := h.service.List(r.Context(), onlyOpen)
	if err != nil {
		h.logger.Error("list work items", slog.Any("error", err))
		http.Error(w, "Failed to load work items", http.StatusInternalServerError)
		return
	}

	sess := shared.SessionFromContext(r.Context())
	csrfToken, _ := h.csrf.EnsureToken(r.Context(), sess)
	var flashes []shared.FlashMessage
	if sess != nil {
		flashes = sess.PopFlashes()
	}
	viewData := view.TemplateData{
		Title:       "Work items",
		CSRFToken:   csrfToken,
		Flashes:     flashes,
		CurrentPath: r.URL.Path,
		Data: map[string]any{
			"Items":    items,
			"OnlyOpen": onlyOpen,
			"Actor":    authz.ActorFromContext(r.Context()),
		},
	}
	if err := h.templates.Render(w, "pages/workitems_list.html", viewData); err != nil {
		h.logger.Error("render work items", slog.Any("error", err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
	}
}
