package chi

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

const bearerPrefix = "Bearer "

// publicPaths bypass authentication so probes and scrapers need no key.
var publicPaths = map[string]struct{}{
	"/health":  {},
	"/metrics": {},
}

// keyring holds the accepted API keys.
type keyring [][]byte

func newKeyring(apiKeys []string) keyring {
	var k keyring
	for _, key := range apiKeys {
		if key = strings.TrimSpace(key); key != "" {
			k = append(k, []byte(key))
		}
	}
	return k
}

// contains compares token against every key in constant time.
func (k keyring) contains(token string) bool {
	t := []byte(token)
	ok := 0
	for _, key := range k {
		ok |= subtle.ConstantTimeCompare(key, t)
	}
	return ok == 1
}

// bearerToken extracts the token of an Authorization header, or explains why it can't.
func bearerToken(r *http.Request) (token, problem string) {
	h := r.Header.Get("Authorization")
	switch {
	case h == "":
		return "", "missing authorization header"
	case !strings.HasPrefix(h, bearerPrefix):
		return "", "authorization header must use Bearer scheme"
	}
	return strings.TrimSpace(h[len(bearerPrefix):]), ""
}

// BearerAuthMiddleware returns a middleware that validates Bearer tokens.
// If apiKeys holds no non-blank key, authentication is disabled (pass-through).
func BearerAuthMiddleware(apiKeys []string) func(http.Handler) http.Handler {
	keys := newKeyring(apiKeys)

	return func(next http.Handler) http.Handler {
		if len(keys) == 0 {
			return next
		}

		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if _, ok := publicPaths[r.URL.Path]; ok {
				next.ServeHTTP(w, r)
				return
			}

			token, problem := bearerToken(r)
			if problem == "" && !keys.contains(token) {
				problem = "invalid api key"
			}
			if problem != "" {
				w.Header().Set("WWW-Authenticate", `Bearer realm="imgdex"`)
				writeError(w, http.StatusUnauthorized, CodeUnauthorized, problem)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
