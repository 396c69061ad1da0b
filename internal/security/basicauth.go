package security

import (
	"crypto/subtle"
	"net/http"
	"strings"
)

// BasicAuth guards operator endpoints such as pprof. An empty User leaves
// the route open.
type BasicAuth struct {
	User  string
	Pass  string
	Realm string
}

func (b BasicAuth) Middleware(next http.Handler) http.Handler {
	user := strings.TrimSpace(b.User)
	if user == "" {
		return next
	}
	realm := b.Realm
	if realm == "" {
		realm = "restricted"
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		u, p, ok := r.BasicAuth()
		userOK := subtle.ConstantTimeCompare([]byte(u), []byte(user)) == 1
		passOK := subtle.ConstantTimeCompare([]byte(p), []byte(b.Pass)) == 1
		if !ok || !userOK || !passOK {
			w.Header().Set("WWW-Authenticate", `Basic realm="`+realm+`"`)
			http.Error(w, "unauthorised", http.StatusUnauthorized)
			return
		}
		next.ServeHTTP(w, r)
	})
}
