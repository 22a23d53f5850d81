package handler

import (
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/a-h/templ"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/pavelanni/imageeval/internal/blob"
	"github.com/pavelanni/imageeval/internal/handler/views"
	appI18n "github.com/pavelanni/imageeval/internal/i18n"
	"github.com/pavelanni/imageeval/internal/model"
	"github.com/pavelanni/imageeval/internal/store"
	"github.com/pavelanni/imageeval/internal/survey"
)

// Handler holds shared dependencies for HTTP handlers.
type Handler struct {
	store  *store.Store
	survey *survey.Service
	blobs  blob.Store
	config model.ServerConfig
}

// New creates a new Handler.
func New(s *store.Store, svc *survey.Service, b blob.Store, cfg model.ServerConfig) *Handler {
	if cfg.MaxUploadBytes <= 0 {
		cfg.MaxUploadBytes = 256 << 20
	}
	return &Handler{store: s, survey: svc, blobs: b, config: cfg}
}

// Router builds the full middleware stack, mounting the routes under the base path.
func (h *Handler) Router(lang string, negotiateLang bool) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(appI18n.Middleware(lang, negotiateLang))

	basePath := h.config.BasePath
	if basePath != "" {
		r.Route(basePath, func(sub chi.Router) {
			sub.Use(h.BasePathMiddleware)
			h.Routes(sub)
		})
		r.Get(basePath, func(w http.ResponseWriter, r *http.Request) {
			http.Redirect(w, r, basePath+"/", http.StatusMovedPermanently)
		})
	} else {
		r.Use(h.BasePathMiddleware)
		h.Routes(r)
	}
	return r
}

// Routes registers all HTTP routes.
func (h *Handler) Routes(r chi.Router) {
	r.Get("/media/*", h.handleMedia)

	r.Group(func(r chi.Router) {
		r.Use(h.csrfMiddleware)
		r.Use(h.loadUser)

		r.Get("/", h.handleIndex)
		r.Post("/session/new", h.handleStartSession)
		r.Get("/session/{hash}", h.handleSessionPage)
		r.Post("/session/{hash}", h.handleAnswer)

		r.Get("/login", h.handleLoginPage)
		r.Post("/login", h.handleLogin)
		r.Post("/logout", h.handleLogout)

		r.Group(func(r chi.Router) {
			r.Use(h.requireAuth)
			r.Use(requireRole(model.UserRoleAdmin))

			r.Get("/admin/evaluations", h.handleAdminEvaluationsPage)
			r.Post("/admin/evaluations", h.handleCreateEvaluation)
			r.Post("/admin/evaluations/{evaluationID}/title", h.handleRenameEvaluation)
			r.Post("/admin/evaluations/{evaluationID}/delete", h.handleDeleteEvaluation)
			r.Get("/admin/sessions", h.handleAdminSessionsPage)
			r.Get("/admin/users", h.handleAdminUsersPage)
			r.Post("/admin/users", h.handleCreateUser)
			r.Post("/admin/users/{userID}/toggle", h.handleToggleUserActive)
			r.Get("/export/{evaluationID}", h.handleExport)
		})
	})
}

// BasePathMiddleware makes the base path available to views.
func (h *Handler) BasePathMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := model.ContextWithBasePath(r.Context(), h.config.BasePath)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// path prefixes an absolute application path with the base path.
func (h *Handler) path(p string) string {
	return h.config.BasePath + p
}

func (h *Handler) cookiePath() string {
	if h.config.BasePath != "" {
		return h.config.BasePath + "/"
	}
	return "/"
}

func render(w http.ResponseWriter, r *http.Request, status int, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("render error", "error", err)
	}
}

// serverError logs err and answers 500 without leaking details.
func serverError(w http.ResponseWriter, r *http.Request, err error) {
	var fault *model.SequencingFault
	if errors.As(err, &fault) {
		slog.Error("sequencing fault", "session_id", fault.SessionID, "evaluation_id", fault.EvaluationID,
			"order", fault.Order)
	} else {
		slog.Error("request failed", "method", r.Method, "path", r.URL.Path, "error", err)
	}
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	h.renderIndex(w, r, http.StatusOK, false)
}

func (h *Handler) renderIndex(w http.ResponseWriter, r *http.Request, status int, missingName bool) {
	evals, err := h.store.ListEvaluations(r.Context())
	if err != nil {
		serverError(w, r, err)
		return
	}
	render(w, r, status, views.IndexPage(evals, missingName))
}

func (h *Handler) handleStartSession(w http.ResponseWriter, r *http.Request) {
	evalID, err := strconv.ParseInt(r.FormValue("evaluation_id"), 10, 64)
	if err != nil {
		http.Error(w, "invalid evaluation ID", http.StatusBadRequest)
		return
	}

	sess, err := h.survey.StartSession(r.Context(), evalID, r.FormValue("name"), r.FormValue("comment"))
	switch {
	case model.IsValidation(err, model.ReasonMissingName):
		h.renderIndex(w, r, http.StatusBadRequest, true)
		return
	case errors.Is(err, model.ErrNotFound):
		http.Error(w, "evaluation not found", http.StatusNotFound)
		return
	case err != nil:
		serverError(w, r, err)
		return
	}

	http.Redirect(w, r, h.path("/session/"+sess.Hash), http.StatusSeeOther)
}

func (h *Handler) handleSessionPage(w http.ResponseWriter, r *http.Request) {
	st, err := h.survey.Current(r.Context(), chi.URLParam(r, "hash"))
	if errors.Is(err, model.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		serverError(w, r, err)
		return
	}
	renderState(w, r, http.StatusOK, st, false)
}

func renderState(w http.ResponseWriter, r *http.Request, status int, st survey.State, showError bool) {
	if st.Complete() {
		render(w, r, http.StatusOK, views.CompletedPage(st.Evaluation))
		return
	}
	render(w, r, status, views.QuestionPage(st.Evaluation, st.Session.Hash, *st.Question, showError))
}

func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hash := chi.URLParam(r, "hash")

	questionID, err := strconv.ParseInt(r.FormValue("question_id"), 10, 64)
	if err != nil {
		st, err := h.survey.Current(ctx, hash)
		if errors.Is(err, model.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			serverError(w, r, err)
			return
		}
		renderState(w, r, http.StatusBadRequest, st, true)
		return
	}

	_, st, err := h.survey.RecordAnswer(ctx, hash, questionID, r.FormValue("answer"))
	switch {
	case err == nil:
		http.Redirect(w, r, h.path("/session/"+hash), http.StatusSeeOther)
	case model.IsValidation(err, model.ReasonCompleted, model.ReasonOutOfSequence):
		// A stale or repeated form; show where the session actually is.
		renderState(w, r, http.StatusOK, st, false)
	case model.IsValidation(err):
		renderState(w, r, http.StatusBadRequest, st, true)
	case errors.Is(err, model.ErrNotFound):
		http.NotFound(w, r)
	case errors.Is(err, model.ErrConflict):
		http.Error(w, "answer already recorded", http.StatusConflict)
	default:
		serverError(w, r, err)
	}
}

func (h *Handler) handleMedia(w http.ResponseWriter, r *http.Request) {
	key := chi.URLParam(r, "*")
	if err := blob.ValidKey(key); err != nil || !strings.HasPrefix(key, "evaluations/") {
		http.NotFound(w, r)
		return
	}
	rc, err := h.blobs.Open(r.Context(), key)
	if errors.Is(err, blob.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		serverError(w, r, err)
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", blob.ContentType(key))
	w.Header().Set("Cache-Control", "private, max-age=86400")
	if _, err := io.Copy(w, rc); err != nil {
		slog.Warn("media copy interrupted", "key", key, "error", err)
	}
}
