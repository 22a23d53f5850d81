// Package views holds the templ components that render the HTML pages.
// Edit the .templ sources and run `templ generate` to refresh the *_templ.go files.
package views

import (
	"context"
	"time"

	"github.com/a-h/templ"

	appI18n "github.com/pavelanni/imageeval/internal/i18n"
	"github.com/pavelanni/imageeval/internal/model"
)

// Notice is a one-line status message on an admin page.
type Notice struct {
	Text  string
	Error bool
}

var (
	evaluationTypes = []model.EvaluationType{model.EvaluationSelection, model.EvaluationClassification}
	userRoles       = []model.UserRole{model.UserRoleAdmin, model.UserRoleViewer}
)

// Path prefixes p with the deployment's base path.
func Path(ctx context.Context, p string) string {
	return model.BasePathFromContext(ctx) + p
}

// link is Path for href and action attributes. Every p is an application route.
func link(ctx context.Context, p string) templ.SafeURL {
	return templ.SafeURL(Path(ctx, p))
}

func t(ctx context.Context, id string) string {
	return appI18n.T(ctx, id)
}

// TypeLabel is the localized name of an evaluation type.
func TypeLabel(ctx context.Context, typ model.EvaluationType) string {
	return t(ctx, "Type"+string(typ))
}

func formatTime(tm time.Time) string {
	return tm.Format("2006-01-02 15:04")
}

func progress(ctx context.Context, eval model.Evaluation, q model.Question) string {
	return appI18n.Td(ctx, "QuestionN", map[string]any{"N": q.Order + 1, "Total": eval.TotalQuestions})
}

// displayPair returns the selection images in the order they are shown.
func displayPair(q model.Question) []string {
	left, right := q.DisplayImages()
	return []string{left, right}
}

func labels(q model.Question) []string {
	l, _ := q.Labels()
	return l
}

func sideLabel(ctx context.Context, i int) string {
	if i == 0 {
		return t(ctx, "LeftImage")
	}
	return t(ctx, "RightImage")
}

func sessionsHeading(ctx context.Context, eval *model.Evaluation) string {
	if eval == nil {
		return t(ctx, "Sessions")
	}
	return t(ctx, "Sessions") + ": " + eval.Title
}

func sessionCount(ctx context.Context, n int) string {
	return appI18n.Tp(ctx, "SessionCount", n)
}

func completedAt(ctx context.Context, s model.SessionSummary) string {
	if s.CompletedAt == nil {
		return t(ctx, "InProgress")
	}
	return formatTime(*s.CompletedAt)
}

func yesNo(ctx context.Context, v bool) string {
	if v {
		return t(ctx, "Yes")
	}
	return t(ctx, "No")
}
