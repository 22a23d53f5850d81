package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/imageeval/internal/archive"
	"github.com/pavelanni/imageeval/internal/handler/views"
	appI18n "github.com/pavelanni/imageeval/internal/i18n"
	"github.com/pavelanni/imageeval/internal/model"
	"github.com/pavelanni/imageeval/internal/survey"
)

func (h *Handler) renderEvaluations(w http.ResponseWriter, r *http.Request, status int, n views.Notice, offerDuplicate bool) {
	evals, err := h.store.ListEvaluations(r.Context())
	if err != nil {
		serverError(w, r, err)
		return
	}
	render(w, r, status, views.AdminEvaluationsPage(evals, n, offerDuplicate))
}

func (h *Handler) handleAdminEvaluationsPage(w http.ResponseWriter, r *http.Request) {
	h.renderEvaluations(w, r, http.StatusOK, views.Notice{}, false)
}

func (h *Handler) handleCreateEvaluation(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	fail := func(status int, msgID string, offerDuplicate bool) {
		h.renderEvaluations(w, r, status, views.Notice{Text: appI18n.T(ctx, msgID), Error: true}, offerDuplicate)
	}

	file, header, err := r.FormFile("archive")
	if err != nil {
		fail(http.StatusBadRequest, "InvalidRequest", false)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		serverError(w, r, fmt.Errorf("read upload: %w", err))
		return
	}

	eval, err := h.survey.CreateEvaluation(ctx, survey.NewEvaluation{
		Title:          r.FormValue("title"),
		Type:           model.EvaluationType(r.FormValue("type")),
		QuestionText:   r.FormValue("question"),
		Archive:        data,
		AllowDuplicate: r.FormValue("allow_duplicate") != "",
	})
	var (
		importErr *archive.ImportError
		dup       *survey.DuplicateArchiveError
	)
	switch {
	case errors.As(err, &importErr):
		slog.Warn("archive upload rejected", "filename", header.Filename, "cause", importErr.Cause)
		fail(http.StatusBadRequest, "ImportFailed", false)
		return
	case errors.As(err, &dup):
		slog.Info("duplicate archive upload", "filename", header.Filename, "evaluation_id", dup.EvaluationID)
		fail(http.StatusConflict, "UploadDuplicate", true)
		return
	case model.IsValidation(err):
		fail(http.StatusBadRequest, "InvalidRequest", false)
		return
	case err != nil:
		serverError(w, r, err)
		return
	}

	slog.Info("uploaded evaluation via admin", "filename", header.Filename, "evaluation_id", eval.ID,
		"count", eval.TotalQuestions)
	msg := appI18n.Td(ctx, "ImportSucceeded", map[string]any{"Title": eval.Title, "Count": eval.TotalQuestions})
	h.renderEvaluations(w, r, http.StatusOK, views.Notice{Text: msg}, false)
}

func evaluationIDParam(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "evaluationID"), 10, 64)
}

func (h *Handler) handleRenameEvaluation(w http.ResponseWriter, r *http.Request) {
	id, err := evaluationIDParam(r)
	if err != nil {
		http.Error(w, "invalid evaluation ID", http.StatusBadRequest)
		return
	}

	err = h.survey.RenameEvaluation(r.Context(), id, r.FormValue("title"))
	switch {
	case errors.Is(err, model.ErrNotFound):
		http.NotFound(w, r)
		return
	case model.IsValidation(err):
		h.renderEvaluations(w, r, http.StatusBadRequest,
			views.Notice{Text: appI18n.T(r.Context(), "InvalidRequest"), Error: true}, false)
		return
	case err != nil:
		serverError(w, r, err)
		return
	}
	http.Redirect(w, r, h.path("/admin/evaluations"), http.StatusSeeOther)
}

func (h *Handler) handleDeleteEvaluation(w http.ResponseWriter, r *http.Request) {
	id, err := evaluationIDParam(r)
	if err != nil {
		http.Error(w, "invalid evaluation ID", http.StatusBadRequest)
		return
	}

	err = h.survey.DeleteEvaluation(r.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		serverError(w, r, err)
		return
	}
	http.Redirect(w, r, h.path("/admin/evaluations"), http.StatusSeeOther)
}

func (h *Handler) handleAdminSessionsPage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	var (
		evalID int64
		eval   *model.Evaluation
	)
	if raw := r.URL.Query().Get("evaluation"); raw != "" {
		id, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid evaluation ID", http.StatusBadRequest)
			return
		}
		e, err := h.store.GetEvaluation(ctx, id)
		if errors.Is(err, model.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		if err != nil {
			serverError(w, r, err)
			return
		}
		evalID, eval = id, &e
	}

	sessions, err := h.store.ListSessions(ctx, evalID)
	if err != nil {
		serverError(w, r, err)
		return
	}
	render(w, r, http.StatusOK, views.AdminSessionsPage(eval, sessions))
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	id, err := evaluationIDParam(r)
	if err != nil {
		http.Error(w, "invalid evaluation ID", http.StatusBadRequest)
		return
	}

	data, err := h.survey.ExportJSON(r.Context(), id)
	if errors.Is(err, model.ErrNotFound) {
		http.NotFound(w, r)
		return
	}
	if err != nil {
		serverError(w, r, err)
		return
	}

	slog.Info("exported evaluation", "evaluation_id", id, "user", model.UserFromContext(r.Context()).Username)
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", fmt.Sprintf(`attachment; filename="evaluation-%d.json"`, id))
	if _, err := w.Write(data); err != nil {
		slog.Warn("export write interrupted", "evaluation_id", id, "error", err)
	}
}

func (h *Handler) renderUsers(w http.ResponseWriter, r *http.Request, status int, n views.Notice) {
	users, err := h.store.ListUsers(r.Context())
	if err != nil {
		serverError(w, r, err)
		return
	}
	render(w, r, status, views.AdminUsersPage(users, n))
}

func (h *Handler) handleAdminUsersPage(w http.ResponseWriter, r *http.Request) {
	h.renderUsers(w, r, http.StatusOK, views.Notice{})
}

func (h *Handler) handleCreateUser(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	username := strings.TrimSpace(r.FormValue("username"))
	displayName := strings.TrimSpace(r.FormValue("display_name"))
	password := r.FormValue("password")
	role := model.UserRole(r.FormValue("role"))

	if username == "" || password == "" || (role != model.UserRoleAdmin && role != model.UserRoleViewer) {
		h.renderUsers(w, r, http.StatusBadRequest, views.Notice{Text: appI18n.T(ctx, "InvalidRequest"), Error: true})
		return
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		serverError(w, r, fmt.Errorf("hash password: %w", err))
		return
	}

	if displayName == "" {
		displayName = username
	}

	_, err = h.store.CreateUser(ctx, model.User{
		Username:     username,
		DisplayName:  displayName,
		PasswordHash: string(hash),
		Role:         role,
		Active:       true,
	})
	if errors.Is(err, model.ErrConflict) {
		h.renderUsers(w, r, http.StatusConflict, views.Notice{Text: appI18n.T(ctx, "UserCreateFailed"), Error: true})
		return
	}
	if err != nil {
		serverError(w, r, err)
		return
	}

	http.Redirect(w, r, h.path("/admin/users"), http.StatusSeeOther)
}

func (h *Handler) handleToggleUserActive(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "userID"), 10, 64)
	if err != nil {
		http.Error(w, "invalid user ID", http.StatusBadRequest)
		return
	}

	if err := h.store.ToggleUserActive(r.Context(), id); err != nil {
		slog.Error("failed to toggle user active", "id", id, "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, h.path("/admin/users"), http.StatusSeeOther)
}
