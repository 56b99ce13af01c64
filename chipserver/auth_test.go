package main

import (
	"encoding/hex"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/BertoldVdb/i2cregs/chipserver/api"
	"github.com/juju/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAuthVerify(t *testing.T) {
	now := time.Now()
	user, pass := authCalculate("secret", api.ScopeRead, "bench", now.Add(time.Hour))
	assert.Contains(t, user, "$read$bench")

	scope, err := authVerify("secret", user, pass, now)
	require.NoError(t, err)
	assert.Equal(t, api.ScopeRead, scope)

	user, pass = authCalculate("secret", api.ScopeWrite, "", now.Add(time.Hour))
	scope, err = authVerify("secret", user, pass, now)
	require.NoError(t, err)
	assert.Equal(t, api.ScopeWrite, scope)

	_, err = authVerify("secret", user, "zz", now)
	assert.True(t, errors.IsNotValid(err), "%v", err)

	_, err = authVerify("secret", user+"x", pass, now)
	assert.True(t, errors.IsUnauthorized(err), "%v", err)

	_, err = authVerify("other", user, pass, now)
	assert.True(t, errors.IsUnauthorized(err), "%v", err)

	_, err = authVerify("secret", user, pass, now.Add(2*time.Hour))
	assert.True(t, errors.IsUnauthorized(err), "%v", err)

	// Signed, but from before scopes existed.
	legacy := "4102444800$bench"
	_, err = authVerify("secret", legacy, hex.EncodeToString(authSign("secret", legacy)), now)
	assert.True(t, errors.IsNotValid(err), "%v", err)
}

func TestAuthProcessAttachesScope(t *testing.T) {
	var got api.Scope
	h := authProcess(func(w http.ResponseWriter, r *http.Request) {
		got = api.ScopeOf(r)
		w.WriteHeader(http.StatusTeapot)
	}, "secret")

	try := func(user, pass string, set bool) *httptest.ResponseRecorder {
		r := httptest.NewRequest("GET", "/info", nil)
		if set {
			r.SetBasicAuth(user, pass)
		}
		w := httptest.NewRecorder()
		h(w, r)
		return w
	}

	user, pass := authCalculate("secret", api.ScopeRead, "bench", time.Now().Add(time.Hour))
	assert.Equal(t, http.StatusTeapot, try(user, pass, true).Code)
	assert.Equal(t, api.ScopeRead, got)

	rec := try("", "", false)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Contains(t, rec.Header().Get("WWW-Authenticate"), "Basic")
	assert.Equal(t, http.StatusUnauthorized, try(user, "00", true).Code)

	expiredUser, expiredPass := authCalculate("secret", api.ScopeWrite, "", time.Now().Add(-time.Hour))
	assert.Equal(t, http.StatusUnauthorized, try(expiredUser, expiredPass, true).Code)
}

func TestAuthDisabled(t *testing.T) {
	var got api.Scope
	h := authProcess(func(w http.ResponseWriter, r *http.Request) { got = api.ScopeOf(r) }, "")
	h(httptest.NewRecorder(), httptest.NewRequest("GET", "/", nil))
	assert.Equal(t, api.ScopeWrite, got)
}
