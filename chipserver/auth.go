package main

import (
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/BertoldVdb/i2cregs/chipserver/api"
	"github.com/golang/glog"
	"github.com/juju/errors"
)

// Users are named "<expiry>$<scope>[$<label>]"; the password is the hex
// HMAC-SHA256 of the user name under the API key. Nothing is stored on the
// server, so a credential is revoked by changing the key.

func authSign(authKey, user string) []byte {
	h := hmac.New(sha256.New, []byte(authKey))
	h.Write([]byte(user))
	return h.Sum(nil)
}

// authCalculate issues a credential with scope until expiry.
func authCalculate(authKey string, scope api.Scope, label string, expiry time.Time) (string, string) {
	user := strconv.FormatInt(expiry.Unix(), 10) + "$" + scope.String()
	if label != "" {
		user += "$" + label
	}
	return user, hex.EncodeToString(authSign(authKey, user))
}

// authVerify checks a credential and returns its scope.
func authVerify(authKey, user, pass string, now time.Time) (api.Scope, error) {
	sig, err := hex.DecodeString(pass)
	if err != nil {
		return 0, errors.NotValidf("password of %q", user)
	}
	if subtle.ConstantTimeCompare(sig, authSign(authKey, user)) != 1 {
		return 0, errors.Unauthorizedf("signature of %q", user)
	}

	parts := strings.SplitN(user, "$", 3)
	if len(parts) < 2 {
		return 0, errors.NotValidf("user %q without scope", user)
	}
	expiry, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return 0, errors.NotValidf("expiry of %q", user)
	}
	if now.Unix() > expiry {
		return 0, errors.Unauthorizedf("%q expired at %v", user, time.Unix(expiry, 0))
	}
	scope, err := api.ParseScope(parts[1])
	return scope, errors.Trace(err)
}

// authProcess passes authenticated requests to handler with their scope
// attached. An empty key disables authentication.
func authProcess(handler http.HandlerFunc, authKey string) http.HandlerFunc {
	if len(authKey) == 0 {
		return handler
	}

	return func(rw http.ResponseWriter, rq *http.Request) {
		var scope api.Scope
		user, pwd, ok := rq.BasicAuth()
		err := errors.Unauthorizedf("no credentials")
		if ok {
			scope, err = authVerify(authKey, user, pwd, time.Now())
		}
		if err != nil {
			glog.Warningf("Rejected %s %s from %s: %v", rq.Method, rq.URL.Path, rq.RemoteAddr, err)
			rw.Header().Set("WWW-Authenticate", `Basic realm="chipserver"`)
			rw.WriteHeader(http.StatusUnauthorized)
			return
		}

		glog.V(2).Infof("Accepted %q with %s access", user, scope)
		handler(rw, rq.WithContext(api.WithScope(rq.Context(), scope)))
	}
}
