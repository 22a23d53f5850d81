package model

import (
	"context"
	"encoding/json"
	"time"
)

// UserRole represents a user's access level.
type UserRole string

const (
	// UserRoleViewer can sign in but cannot manage evaluations.
	UserRoleViewer UserRole = "viewer"
	// UserRoleAdmin can create evaluations and export results.
	UserRoleAdmin UserRole = "admin"
)

// User represents an administrative account. Participants never have one.
type User struct {
	ID           int64
	Username     string
	DisplayName  string
	PasswordHash string
	Role         UserRole
	Active       bool
	CreatedAt    time.Time
}

// AuthSession represents an authentication session.
type AuthSession struct {
	ID        string
	UserID    int64
	CreatedAt time.Time
	ExpiresAt time.Time
}

type userCtxKey struct{}

// ContextWithUser stores a user in the request context.
func ContextWithUser(ctx context.Context, u *User) context.Context {
	return context.WithValue(ctx, userCtxKey{}, u)
}

// UserFromContext retrieves the authenticated user from context, or nil.
func UserFromContext(ctx context.Context) *User {
	u, _ := ctx.Value(userCtxKey{}).(*User)
	return u
}

// IsAdmin reports whether the request context carries an active administrator.
func IsAdmin(ctx context.Context) bool {
	u := UserFromContext(ctx)
	return u != nil && u.Active && u.Role == UserRoleAdmin
}

type basePathCtxKey struct{}

// ContextWithBasePath stores the base path prefix in context.
func ContextWithBasePath(ctx context.Context, basePath string) context.Context {
	return context.WithValue(ctx, basePathCtxKey{}, basePath)
}

// BasePathFromContext retrieves the base path from context (empty string if not set).
func BasePathFromContext(ctx context.Context) string {
	bp, _ := ctx.Value(basePathCtxKey{}).(string)
	return bp
}

type csrfCtxKey struct{}

// ContextWithCSRFToken stores the CSRF token in context.
func ContextWithCSRFToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, csrfCtxKey{}, token)
}

// CSRFTokenFromContext retrieves the CSRF token from context.
func CSRFTokenFromContext(ctx context.Context) string {
	t, _ := ctx.Value(csrfCtxKey{}).(string)
	return t
}

// EvaluationType is the kind of questions an evaluation holds.
type EvaluationType string

const (
	EvaluationSelection      EvaluationType = "SEL"
	EvaluationClassification EvaluationType = "CLS"
)

// Valid reports whether t is a known evaluation type.
func (t EvaluationType) Valid() bool {
	return t == EvaluationSelection || t == EvaluationClassification
}

// QuestionKind returns the question variant used by evaluations of this type.
func (t EvaluationType) QuestionKind() QuestionKind {
	if t == EvaluationClassification {
		return KindClassification
	}
	return KindSelection
}

// Evaluation is a survey: an ordered set of questions of one type.
type Evaluation struct {
	ID             int64          `json:"id"`
	Title          string         `json:"title"`
	CreatedAt      time.Time      `json:"created_at"`
	Type           EvaluationType `json:"type"`
	TotalQuestions int            `json:"total_questions"`
	// MediaPrefix is the blob key prefix holding the evaluation's images.
	MediaPrefix    string         `json:"-"`
}

// QuestionKind discriminates the per-kind attributes of a Question.
type QuestionKind string

const (
	KindSelection      QuestionKind = "selection"
	KindClassification QuestionKind = "classification"
)

// Question is a single survey item. Only the attributes of its Kind are set:
// LeftImage/RightImage for selection, Image/Answers for classification.
type Question struct {
	ID           int64        `json:"id"`
	EvaluationID int64        `json:"evaluation_id"`
	Text         string       `json:"text"`
	Order        int          `json:"order"`
	Kind         QuestionKind `json:"kind"`

	LeftImage  string `json:"left_image,omitempty"`
	RightImage string `json:"right_image,omitempty"`

	Image   string `json:"image,omitempty"`
	Answers string `json:"answers,omitempty"` // JSON array of labels
}

// Labels decodes the classification answer labels.
func (q Question) Labels() ([]string, error) {
	if q.Answers == "" {
		return nil, nil
	}
	var labels []string
	if err := json.Unmarshal([]byte(q.Answers), &labels); err != nil {
		return nil, err
	}
	return labels, nil
}

// AnswerCount is the number of valid answer codes for the question.
func (q Question) AnswerCount() int {
	if q.Kind == KindSelection {
		return 2
	}
	labels, err := q.Labels()
	if err != nil {
		return 0
	}
	return len(labels)
}

// Session is one participant's run through an evaluation.
type Session struct {
	ID           int64      `json:"id"`
	Hash         string     `json:"hash"`
	EvaluationID int64      `json:"evaluation_id"`
	UserName     string     `json:"user_name"`
	Comment      string     `json:"comment"`
	CreatedAt    time.Time  `json:"created_at"`
	CompletedAt  *time.Time `json:"completed_at,omitempty"`
}

// Completed reports whether the session has reached its terminal state.
func (s Session) Completed() bool {
	return s.CompletedAt != nil
}

// Assignment records the answer a session gave to one question.
// Answer holds the real (flip-corrected) code.
type Assignment struct {
	ID            int64     `json:"id"`
	SessionID     int64     `json:"session_id"`
	QuestionID    int64     `json:"question_id"`
	QuestionOrder int       `json:"question_order"`
	Answer        int       `json:"answer"`
	CreatedAt     time.Time `json:"created_at"`
}

// Progress summarizes a session's assignments against its evaluation.
type Progress struct {
	Answered    int // number of assignments
	MaxAnswered int // highest answered order; meaningless when Answered == 0
	MaxOrder    int // highest question order of the evaluation, -1 when it has none
}

// SessionSummary is a session row for the admin list.
type SessionSummary struct {
	Session
	EvaluationTitle string
	Answered        int
}

// ServerConfig holds runtime parameters set via CLI flags.
type ServerConfig struct {
	BasePath       string // URL prefix for sub-path deployments (e.g. "/ru")
	SecureCookies  bool   // Set Secure flag on cookies (disable for local dev)
	MaxUploadBytes int64  // Upper bound for archive uploads
}
