package i18n

import "net/http"

// Middleware injects a localizer into every request context. The configured
// language wins unless negotiate is set, in which case the Accept-Language
// header is consulted first.
func Middleware(lang string, negotiate bool) func(http.Handler) http.Handler {
	fixed := NewLocalizer(lang)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			loc := fixed
			if accept := r.Header.Get("Accept-Language"); negotiate && accept != "" {
				loc = NewLocalizer(accept, lang)
			}
			next.ServeHTTP(w, r.WithContext(WithLocalizer(r.Context(), loc)))
		})
	}
}
