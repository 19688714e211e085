package api

import (
	"context"
	"net/http"

	"github.com/google/uuid"
)

const (
	identityCookieName = "uid"
	identityCookieAge  = 365 * 24 * 60 * 60 // one year, in seconds
)

// identityMiddleware auto-provisions and extracts the caller identity
// (uid cookie). On first visit, generates a new UUID and sets the cookie.
// Subsequent requests reuse the existing cookie value. Quota accounting
// and session ownership both key on this identity.
func identityMiddleware(isDev bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			identity := identityFromCookie(r)
			if identity == "" {
				identity = uuid.New().String()
				setIdentityCookie(w, identity, isDev)
			}
			ctx := context.WithValue(r.Context(), ctxKeyIdentity, identity)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// identityFromCookie reads the uid cookie. Values that do not parse as a
// UUID are discarded so forged cookies cannot choose arbitrary quota keys.
func identityFromCookie(r *http.Request) string {
	c, err := r.Cookie(identityCookieName)
	if err != nil {
		return ""
	}
	id, err := uuid.Parse(c.Value)
	if err != nil {
		return ""
	}
	return id.String()
}

// effectiveIdentity resolves the identity a handler should act as. An
// explicit identity (request body or query parameter, as the original
// widget clients send) wins over the provisioned uid cookie.
func effectiveIdentity(r *http.Request, explicit string) string {
	if explicit != "" {
		return explicit
	}
	id, _ := identityFromContext(r.Context())
	return id
}

func setIdentityCookie(w http.ResponseWriter, identity string, isDev bool) {
	http.SetCookie(w, &http.Cookie{
		Name:     identityCookieName,
		Value:    identity,
		Path:     "/",
		MaxAge:   identityCookieAge,
		HttpOnly: true,
		Secure:   !isDev,
		SameSite: http.SameSiteLaxMode,
	})
}
