package i18n

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
)

func initLang(t *testing.T, lang string) context.Context {
	t.Helper()
	if err := Init(lang); err != nil {
		t.Fatalf("Init(%q): %v", lang, err)
	}
	loc := NewLocalizer(lang)
	return WithLocalizer(context.Background(), loc)
}

func TestTranslate(t *testing.T) {
	tests := []struct {
		lang string
		id   string
		want string
	}{
		{"en", "AppTitle", "Image Evaluation"},
		{"en", "TypeSEL", "Image selection"},
		{"ru", "AppTitle", "Оценка изображений"},
		{"ru", "Start", "Начать"},
	}
	for _, tt := range tests {
		t.Run(tt.lang+"/"+tt.id, func(t *testing.T) {
			ctx := initLang(t, tt.lang)
			if got := T(ctx, tt.id); got != tt.want {
				t.Errorf("T(%s) = %q, want %q", tt.id, got, tt.want)
			}
		})
	}
}

func TestPluralTranslation(t *testing.T) {
	ctx := initLang(t, "en")
	if got := Tp(ctx, "SessionCount", 1); got != "1 session" {
		t.Errorf("Tp(SessionCount, 1) = %q", got)
	}
	if got := Tp(ctx, "SessionCount", 5); got != "5 sessions" {
		t.Errorf("Tp(SessionCount, 5) = %q", got)
	}

	ctx = initLang(t, "ru")
	if got := Tp(ctx, "SessionCount", 5); got != "5 сессий" {
		t.Errorf("Tp(SessionCount, 5) ru = %q", got)
	}
}

func TestTemplateDataTranslation(t *testing.T) {
	ctx := initLang(t, "en")
	got := Td(ctx, "QuestionN", map[string]any{"N": 2, "Total": 7})
	if got != "Question 2 of 7" {
		t.Errorf("Td(QuestionN) = %q, want 'Question 2 of 7'", got)
	}
}

func TestMissingKey(t *testing.T) {
	ctx := initLang(t, "en")
	if got := T(ctx, "NonExistentKey"); got != "NonExistentKey" {
		t.Errorf("T(NonExistentKey) = %q, want 'NonExistentKey'", got)
	}
}

func TestLanguages(t *testing.T) {
	initLang(t, "en")
	if got := len(Languages()); got != 2 {
		t.Errorf("expected 2 bundled languages, got %d", got)
	}
}

func TestMiddlewareNegotiation(t *testing.T) {
	if err := Init("en"); err != nil {
		t.Fatalf("Init: %v", err)
	}
	var got string
	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = T(r.Context(), "Start")
	})

	tests := []struct {
		name      string
		negotiate bool
		accept    string
		want      string
	}{
		{"fixed ignores header", false, "ru", "Start"},
		{"negotiated", true, "ru-RU,ru;q=0.9", "Начать"},
		{"negotiated unsupported", true, "de", "Start"},
		{"no header", true, "", "Start"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.accept != "" {
				req.Header.Set("Accept-Language", tt.accept)
			}
			Middleware("en", tt.negotiate)(next).ServeHTTP(httptest.NewRecorder(), req)
			if got != tt.want {
				t.Errorf("got %q, want %q", got, tt.want)
			}
		})
	}
}
