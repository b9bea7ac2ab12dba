package server

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/zeusync/refmirror/internal/core/observability/log"
)

// TokenQueryParam carries the token for clients that cannot set headers.
const TokenQueryParam = "token"

// TokenAuth rejects requests that do not present token, either as a bearer
// Authorization header or as the token query parameter. An empty token
// disables the check.
func TokenAuth(token string, logger log.Log, next http.Handler) http.Handler {
	if token == "" {
		return next
	}
	logger = log.OrNop(logger)
	want := []byte(token)
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got := requestToken(r)
		if subtle.ConstantTimeCompare([]byte(got), want) != 1 {
			logger.Warn("rejected connection",
				log.String("remote_addr", r.RemoteAddr),
				log.Bool("token_present", got != ""))
			http.Error(w, ErrUnauthorized.Error(), http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func requestToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if t, ok := strings.CutPrefix(h, "Bearer "); ok {
			return t
		}
	}
	return r.URL.Query().Get(TokenQueryParam)
}
