package admin

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/maxpert/changejournal/cfg"
	"github.com/rs/zerolog/log"
)

// SecretHeader carries the admin pre-shared key
const SecretHeader = "X-ChangeJournal-Secret"

var (
	errMissingSecret  = errors.New("missing authentication header")
	errBadAuthScheme  = errors.New("invalid authorization header format")
	errSecretMismatch = errors.New("invalid secret")
)

// AuthMiddleware rejects admin requests that do not present the configured
// secret. With no secret configured every request passes.
func AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !cfg.IsAdminAuthEnabled() {
			next.ServeHTTP(w, r)
			return
		}

		if err := checkSecret(r, cfg.GetAdminSecret()); err != nil {
			log.Warn().
				Str("remote", r.RemoteAddr).
				Str("path", r.URL.Path).
				Err(err).
				Msg("Rejected admin request")
			writeErrorResponse(w, http.StatusUnauthorized, err.Error())
			return
		}

		next.ServeHTTP(w, r)
	})
}

// checkSecret accepts the secret header or an Authorization bearer token
func checkSecret(r *http.Request, secret string) error {
	provided := r.Header.Get(SecretHeader)
	if provided == "" {
		auth := r.Header.Get("Authorization")
		if auth == "" {
			return errMissingSecret
		}
		token, ok := strings.CutPrefix(auth, "Bearer ")
		if !ok || token == "" {
			return errBadAuthScheme
		}
		provided = token
	}

	if subtle.ConstantTimeCompare([]byte(provided), []byte(secret)) != 1 {
		return errSecretMismatch
	}
	return nil
}
