package httpapi

import (
	"errors"
	"net/http"
	"strings"

	"kmp.org/internal/auth"
)

const bearerPrefix = "bearer "

// TokenVerifier resolves a bearer token into the caller. *auth.Tokens
// satisfies it.
type TokenVerifier interface {
	Verify(token string) (auth.Identity, error)
}

var (
	errMissingToken = errors.New("missing bearer token")
	errBadScheme    = errors.New("authorization scheme must be Bearer")
)

// withAuth puts the acting member into the request context.
func (a *API) withAuth(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.tokens == nil {
			writeError(w, r, http.StatusInternalServerError, "authentication is not configured")
			return
		}
		token, err := extractBearerToken(r.Header.Get("Authorization"))
		if err != nil {
			w.Header().Set("WWW-Authenticate", `Bearer realm="kmp"`)
			writeError(w, r, http.StatusUnauthorized, err.Error())
			return
		}
		who, err := a.tokens.Verify(token)
		if err != nil {
			if !errors.Is(err, auth.ErrInvalidToken) {
				writeError(w, r, http.StatusInternalServerError, "authentication error")
				return
			}
			w.Header().Set("WWW-Authenticate", `Bearer realm="kmp", error="invalid_token"`)
			writeError(w, r, http.StatusUnauthorized, "invalid token")
			return
		}
		next.ServeHTTP(w, r.WithContext(auth.ContextWithMember(r.Context(), who.MemberID)))
	})
}

func extractBearerToken(header string) (string, error) {
	header = strings.TrimSpace(header)
	if header == "" {
		return "", errMissingToken
	}
	if len(header) < len(bearerPrefix) || !strings.EqualFold(header[:len(bearerPrefix)], bearerPrefix) {
		return "", errBadScheme
	}
	token := strings.TrimSpace(header[len(bearerPrefix):])
	if token == "" {
		return "", errMissingToken
	}
	return token, nil
}
