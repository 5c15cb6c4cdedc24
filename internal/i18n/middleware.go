package i18n

import "net/http"

// Middleware injects a localizer into every request context. The request's
// Accept-Language header wins; the configured language is the fallback.
func Middleware(defaultLang string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			langs := make([]string, 0, 2)
			if al := r.Header.Get("Accept-Language"); al != "" {
				langs = append(langs, al)
			}
			langs = append(langs, defaultLang)
			ctx := WithLocalizer(r.Context(), NewLocalizer(langs...))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
