package handler

import (
	"archive/zip"
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"golang.org/x/crypto/bcrypt"

	"github.com/pavelanni/imageeval/internal/blob"
	appI18n "github.com/pavelanni/imageeval/internal/i18n"
	"github.com/pavelanni/imageeval/internal/model"
	"github.com/pavelanni/imageeval/internal/store"
	"github.com/pavelanni/imageeval/internal/survey"
)

const testCSRF = "test-csrf-token-0123456789"

type testEnv struct {
	store  *store.Store
	svc    *survey.Service
	router http.Handler
}

func newTestEnv(t *testing.T, basePath string) *testEnv {
	t.Helper()
	if err := appI18n.Init("en"); err != nil {
		t.Fatalf("i18n.Init: %v", err)
	}
	s, err := store.New(":memory:")
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	b, err := blob.NewFS(t.TempDir())
	if err != nil {
		t.Fatalf("blob.NewFS: %v", err)
	}
	svc := survey.New(s, b)
	h := New(s, svc, b, model.ServerConfig{BasePath: basePath, MaxUploadBytes: 1 << 20})
	return &testEnv{store: s, svc: svc, router: h.Router("en", false)}
}

func selectionZip(t *testing.T, n int) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for i := 0; i < n; i++ {
		for _, dir := range []string{"baseline", "proposed"} {
			w, err := zw.Create(fmt.Sprintf("%s/%d.jpg", dir, i))
			if err != nil {
				t.Fatalf("zip create: %v", err)
			}
			fmt.Fprintf(w, "%s-%d", dir, i)
		}
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("zip close: %v", err)
	}
	return buf.Bytes()
}

func (e *testEnv) createEvaluation(t *testing.T, n int) model.Evaluation {
	t.Helper()
	eval, err := e.svc.CreateEvaluation(context.Background(), survey.NewEvaluation{
		Title:        "Sharpness",
		Type:         model.EvaluationSelection,
		QuestionText: "Which one is sharper?",
		Archive:      selectionZip(t, n),
	})
	if err != nil {
		t.Fatalf("CreateEvaluation: %v", err)
	}
	return eval
}

// do sends a request carrying a valid CSRF cookie; form requests also carry the field.
func (e *testEnv) do(t *testing.T, method, target string, form url.Values, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()
	var body io.Reader
	if form != nil {
		form.Set("csrf_token", testCSRF)
		body = strings.NewReader(form.Encode())
	}
	req := httptest.NewRequest(method, target, body)
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: testCSRF})
	for _, c := range cookies {
		req.AddCookie(c)
	}
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func (e *testEnv) loginAdmin(t *testing.T) *http.Cookie {
	t.Helper()
	hash, err := bcrypt.GenerateFromPassword([]byte("secret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("bcrypt: %v", err)
	}
	_, err = e.store.CreateUser(context.Background(), model.User{
		Username: "admin", DisplayName: "Admin", PasswordHash: string(hash), Role: model.UserRoleAdmin, Active: true,
	})
	if err != nil {
		t.Fatalf("CreateUser: %v", err)
	}
	rec := e.do(t, http.MethodPost, "/login", url.Values{"username": {"admin"}, "password": {"secret"}})
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("login: expected 303, got %d", rec.Code)
	}
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			return c
		}
	}
	t.Fatal("login set no session cookie")
	return nil
}

func sessionHash(t *testing.T, rec *httptest.ResponseRecorder, prefix string) string {
	t.Helper()
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("expected 303, got %d: %s", rec.Code, rec.Body.String())
	}
	loc := rec.Header().Get("Location")
	if !strings.HasPrefix(loc, prefix+"/session/") {
		t.Fatalf("unexpected redirect %q", loc)
	}
	return strings.TrimPrefix(loc, prefix+"/session/")
}

func TestIndexListsEvaluations(t *testing.T) {
	env := newTestEnv(t, "")
	env.createEvaluation(t, 1)

	rec := env.do(t, http.MethodGet, "/", nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	body := rec.Body.String()
	if !strings.Contains(body, "Sharpness (Image selection)") {
		t.Errorf("index misses evaluation: %s", body)
	}
	var hasCSRF bool
	for _, c := range rec.Result().Cookies() {
		if c.Name == csrfCookieName && c.Value != "" && strings.Contains(body, c.Value) {
			hasCSRF = true
		}
	}
	if !hasCSRF {
		t.Error("CSRF cookie not echoed into the page")
	}
}

func TestParticipantFlow(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	eval := env.createEvaluation(t, 2)
	evalID := strconv.FormatInt(eval.ID, 10)

	rec := env.do(t, http.MethodPost, "/session/new", url.Values{"evaluation_id": {evalID}, "name": {""}})
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Please enter your name.") {
		t.Fatalf("missing name: got %d %s", rec.Code, rec.Body.String())
	}

	rec = env.do(t, http.MethodPost, "/session/new", url.Values{
		"evaluation_id": {evalID}, "name": {"alice"}, "comment": {"calibrated monitor"},
	})
	hash := sessionHash(t, rec, "")

	for i := 0; i < 2; i++ {
		rec = env.do(t, http.MethodGet, "/session/"+hash, nil)
		if rec.Code != http.StatusOK {
			t.Fatalf("question page: expected 200, got %d", rec.Code)
		}
		st, err := env.svc.Current(ctx, hash)
		if err != nil {
			t.Fatalf("Current: %v", err)
		}
		if st.NextOrder != i {
			t.Fatalf("expected order %d, got %d", i, st.NextOrder)
		}
		want := fmt.Sprintf(`name="question_id" value="%d"`, st.Question.ID)
		if !strings.Contains(rec.Body.String(), want) {
			t.Fatalf("question page lacks %s", want)
		}

		rec = env.do(t, http.MethodPost, "/session/"+hash, url.Values{
			"question_id": {strconv.FormatInt(st.Question.ID, 10)}, "answer": {"1"},
		})
		if rec.Code != http.StatusSeeOther {
			t.Fatalf("answer %d: expected 303, got %d", i, rec.Code)
		}
	}

	rec = env.do(t, http.MethodGet, "/session/"+hash, nil)
	if !strings.Contains(rec.Body.String(), "Evaluation completed") {
		t.Errorf("expected completed view, got %s", rec.Body.String())
	}

	qs, err := env.store.ListQuestions(ctx, eval.ID)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}
	rec = env.do(t, http.MethodPost, "/session/"+hash, url.Values{
		"question_id": {strconv.FormatInt(qs[1].ID, 10)}, "answer": {"0"},
	})
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "Evaluation completed") {
		t.Errorf("post after completion: got %d %s", rec.Code, rec.Body.String())
	}
}

func TestAnswerValidation(t *testing.T) {
	env := newTestEnv(t, "")
	eval := env.createEvaluation(t, 2)
	rec := env.do(t, http.MethodPost, "/session/new", url.Values{
		"evaluation_id": {strconv.FormatInt(eval.ID, 10)}, "name": {"bob"},
	})
	hash := sessionHash(t, rec, "")
	qs, err := env.store.ListQuestions(context.Background(), eval.ID)
	if err != nil {
		t.Fatalf("ListQuestions: %v", err)
	}

	tests := []struct {
		name       string
		form       url.Values
		wantStatus int
		wantError  bool
	}{
		{"no answer", url.Values{"question_id": {strconv.FormatInt(qs[0].ID, 10)}}, http.StatusBadRequest, true},
		{"bad answer", url.Values{"question_id": {strconv.FormatInt(qs[0].ID, 10)}, "answer": {"7"}}, http.StatusBadRequest, true},
		{"no question", url.Values{"answer": {"0"}}, http.StatusBadRequest, true},
		{"skip ahead", url.Values{"question_id": {strconv.FormatInt(qs[1].ID, 10)}, "answer": {"0"}}, http.StatusOK, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := env.do(t, http.MethodPost, "/session/"+hash, tt.form)
			if rec.Code != tt.wantStatus {
				t.Fatalf("expected %d, got %d", tt.wantStatus, rec.Code)
			}
			if got := strings.Contains(rec.Body.String(), "Please choose an answer."); got != tt.wantError {
				t.Errorf("error flag shown = %v, want %v", got, tt.wantError)
			}
		})
	}

	sess, err := env.store.GetSessionByHash(context.Background(), hash)
	if err != nil {
		t.Fatalf("GetSessionByHash: %v", err)
	}
	assignments, err := env.store.ListAssignments(context.Background(), sess.ID)
	if err != nil {
		t.Fatalf("ListAssignments: %v", err)
	}
	if len(assignments) != 0 {
		t.Errorf("rejected answers created %d assignments", len(assignments))
	}
}

func TestUnknownSessionAndEvaluation(t *testing.T) {
	env := newTestEnv(t, "")
	if rec := env.do(t, http.MethodGet, "/session/deadbeef", nil); rec.Code != http.StatusNotFound {
		t.Errorf("unknown hash: expected 404, got %d", rec.Code)
	}
	rec := env.do(t, http.MethodPost, "/session/new", url.Values{"evaluation_id": {"99"}, "name": {"x"}})
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown evaluation: expected 404, got %d", rec.Code)
	}
}

func TestCSRFRequired(t *testing.T) {
	env := newTestEnv(t, "")
	eval := env.createEvaluation(t, 1)
	form := url.Values{"evaluation_id": {strconv.FormatInt(eval.ID, 10)}, "name": {"mallory"}}

	req := httptest.NewRequest(http.MethodPost, "/session/new", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("no token: expected 403, got %d", rec.Code)
	}

	form.Set("csrf_token", "forged")
	req = httptest.NewRequest(http.MethodPost, "/session/new", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: testCSRF})
	rec = httptest.NewRecorder()
	env.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusForbidden {
		t.Errorf("mismatched token: expected 403, got %d", rec.Code)
	}
}

func TestMedia(t *testing.T) {
	env := newTestEnv(t, "")
	eval := env.createEvaluation(t, 1)

	key := blob.QuestionKey(eval.MediaPrefix, 0, "l", ".jpg")
	rec := env.do(t, http.MethodGet, "/media/"+key, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if rec.Body.String() != "baseline-0" {
		t.Errorf("body = %q", rec.Body.String())
	}
	if ct := rec.Header().Get("Content-Type"); ct != "image/jpeg" {
		t.Errorf("content type = %q", ct)
	}

	for _, p := range []string{"/media/evaluations/999/0_l.jpg", "/media/other/file.jpg"} {
		if rec := env.do(t, http.MethodGet, p, nil); rec.Code != http.StatusNotFound {
			t.Errorf("%s: expected 404, got %d", p, rec.Code)
		}
	}
}

func TestAdminRequiresLogin(t *testing.T) {
	env := newTestEnv(t, "")
	for _, p := range []string{"/admin/evaluations", "/admin/users", "/export/1"} {
		rec := env.do(t, http.MethodGet, p, nil)
		if rec.Code != http.StatusSeeOther || rec.Header().Get("Location") != "/login" {
			t.Errorf("%s: expected redirect to /login, got %d %q", p, rec.Code, rec.Header().Get("Location"))
		}
	}

	rec := env.do(t, http.MethodPost, "/login", url.Values{"username": {"admin"}, "password": {"wrong"}})
	if rec.Code != http.StatusUnauthorized {
		t.Errorf("bad login: expected 401, got %d", rec.Code)
	}
}

func TestExport(t *testing.T) {
	env := newTestEnv(t, "")
	ctx := context.Background()
	eval := env.createEvaluation(t, 2)
	cookie := env.loginAdmin(t)

	done, err := env.svc.StartSession(ctx, eval.ID, "alice", "")
	if err != nil {
		t.Fatalf("StartSession: %v", err)
	}
	for _, real := range []int{1, 0} {
		st, err := env.svc.Current(ctx, done.Hash)
		if err != nil {
			t.Fatalf("Current: %v", err)
		}
		displayed := model.Translate(model.NeedsFlip(st.Question.ID), real)
		if _, _, err := env.svc.RecordAnswer(ctx, done.Hash, st.Question.ID, strconv.Itoa(displayed)); err != nil {
			t.Fatalf("RecordAnswer: %v", err)
		}
	}

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/export/%d", eval.ID), nil, cookie)
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("content type = %q", ct)
	}
	if got := rec.Body.String(); got != `{"0":[1],"1":[0]}` {
		t.Errorf("export = %s", got)
	}

	if rec := env.do(t, http.MethodGet, "/export/999", nil, cookie); rec.Code != http.StatusNotFound {
		t.Errorf("unknown evaluation: expected 404, got %d", rec.Code)
	}
}

func multipartUpload(t *testing.T, fields map[string]string, archive []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fields["csrf_token"] = testCSRF
	for k, v := range fields {
		if err := mw.WriteField(k, v); err != nil {
			t.Fatalf("WriteField: %v", err)
		}
	}
	fw, err := mw.CreateFormFile("archive", "upload.zip")
	if err != nil {
		t.Fatalf("CreateFormFile: %v", err)
	}
	if _, err := fw.Write(archive); err != nil {
		t.Fatalf("write archive: %v", err)
	}
	if err := mw.Close(); err != nil {
		t.Fatalf("close multipart: %v", err)
	}
	return &buf, mw.FormDataContentType()
}

func (e *testEnv) upload(t *testing.T, cookie *http.Cookie, fields map[string]string, archive []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartUpload(t, fields, archive)
	req := httptest.NewRequest(http.MethodPost, "/admin/evaluations", body)
	req.Header.Set("Content-Type", contentType)
	req.AddCookie(&http.Cookie{Name: csrfCookieName, Value: testCSRF})
	req.AddCookie(cookie)
	rec := httptest.NewRecorder()
	e.router.ServeHTTP(rec, req)
	return rec
}

func TestAdminCreateEvaluation(t *testing.T) {
	env := newTestEnv(t, "")
	cookie := env.loginAdmin(t)
	ctx := context.Background()

	rec := env.upload(t, cookie, map[string]string{"title": "Upscaling", "type": "SEL", "question": "Better?"}, selectionZip(t, 3))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "with 3 questions") {
		t.Errorf("missing success notice: %s", rec.Body.String())
	}

	rec = env.upload(t, cookie, map[string]string{"title": "Again", "type": "SEL"}, selectionZip(t, 3))
	if rec.Code != http.StatusConflict || !strings.Contains(rec.Body.String(), "allow_duplicate") {
		t.Errorf("duplicate upload: got %d", rec.Code)
	}

	var broken bytes.Buffer
	zw := zip.NewWriter(&broken)
	w, _ := zw.Create("baseline/0.jpg")
	w.Write([]byte("x"))
	zw.Close()
	rec = env.upload(t, cookie, map[string]string{"title": "Broken", "type": "SEL"}, broken.Bytes())
	if rec.Code != http.StatusBadRequest || !strings.Contains(rec.Body.String(), "Archive structure invalid.") {
		t.Errorf("broken upload: got %d %s", rec.Code, rec.Body.String())
	}

	evals, err := env.store.ListEvaluations(ctx)
	if err != nil {
		t.Fatalf("ListEvaluations: %v", err)
	}
	if len(evals) != 1 || evals[0].Title != "Upscaling" || evals[0].TotalQuestions != 3 {
		t.Errorf("evaluations = %+v", evals)
	}
}

func TestAdminRenameDeleteAndSessions(t *testing.T) {
	env := newTestEnv(t, "")
	cookie := env.loginAdmin(t)
	ctx := context.Background()
	eval := env.createEvaluation(t, 1)
	if _, err := env.svc.StartSession(ctx, eval.ID, "carol", "glasses on"); err != nil {
		t.Fatalf("StartSession: %v", err)
	}

	rec := env.do(t, http.MethodGet, fmt.Sprintf("/admin/sessions?evaluation=%d", eval.ID), nil, cookie)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), "glasses on") {
		t.Errorf("sessions page: got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/admin/evaluations/%d/title", eval.ID), url.Values{"title": {"Renamed"}}, cookie)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("rename: expected 303, got %d", rec.Code)
	}
	got, err := env.store.GetEvaluation(ctx, eval.ID)
	if err != nil || got.Title != "Renamed" {
		t.Errorf("after rename: %+v, %v", got, err)
	}

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/admin/evaluations/%d/delete", eval.ID), url.Values{}, cookie)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("delete: expected 303, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, fmt.Sprintf("/admin/evaluations/%d/delete", eval.ID), url.Values{}, cookie)
	if rec.Code != http.StatusNotFound {
		t.Errorf("second delete: expected 404, got %d", rec.Code)
	}
}

func TestAdminUsers(t *testing.T) {
	env := newTestEnv(t, "")
	cookie := env.loginAdmin(t)

	rec := env.do(t, http.MethodPost, "/admin/users", url.Values{
		"username": {"viewer1"}, "password": {"pw"}, "role": {"viewer"},
	}, cookie)
	if rec.Code != http.StatusSeeOther {
		t.Fatalf("create user: expected 303, got %d", rec.Code)
	}
	rec = env.do(t, http.MethodPost, "/admin/users", url.Values{
		"username": {"viewer1"}, "password": {"pw"}, "role": {"viewer"},
	}, cookie)
	if rec.Code != http.StatusConflict {
		t.Errorf("duplicate user: expected 409, got %d", rec.Code)
	}

	rec = env.do(t, http.MethodGet, "/admin/users", nil, cookie)
	if !strings.Contains(rec.Body.String(), "viewer1") {
		t.Error("user list misses viewer1")
	}

	rec = env.do(t, http.MethodPost, "/login", url.Values{"username": {"viewer1"}, "password": {"pw"}})
	var viewerCookie *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == sessionCookieName {
			viewerCookie = c
		}
	}
	if viewerCookie == nil {
		t.Fatal("viewer login set no cookie")
	}
	if rec := env.do(t, http.MethodGet, "/admin/evaluations", nil, viewerCookie); rec.Code != http.StatusForbidden {
		t.Errorf("viewer on admin page: expected 403, got %d", rec.Code)
	}
}

func TestBasePath(t *testing.T) {
	env := newTestEnv(t, "/eval")
	eval := env.createEvaluation(t, 1)

	rec := env.do(t, http.MethodGet, "/eval", nil)
	if rec.Code != http.StatusMovedPermanently || rec.Header().Get("Location") != "/eval/" {
		t.Errorf("bare base path: got %d %q", rec.Code, rec.Header().Get("Location"))
	}

	rec = env.do(t, http.MethodGet, "/eval/", nil)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `action="/eval/session/new"`) {
		t.Errorf("index under base path: got %d", rec.Code)
	}

	rec = env.do(t, http.MethodPost, "/eval/session/new", url.Values{
		"evaluation_id": {strconv.FormatInt(eval.ID, 10)}, "name": {"dave"},
	})
	hash := sessionHash(t, rec, "/eval")
	rec = env.do(t, http.MethodGet, "/eval/session/"+hash, nil)
	if !strings.Contains(rec.Body.String(), `src="/eval/media/evaluations/`) {
		t.Errorf("question page does not prefix media: %s", rec.Body.String())
	}
}
