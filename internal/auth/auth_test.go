package auth

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignVerify(t *testing.T) {
	j := NewJWT("s3cret")
	tok, err := j.Sign("ops@example.com", time.Hour)
	require.NoError(t, err)

	sub, err := j.Verify(tok)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", sub)

	_, err = NewJWT("other").Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = j.Sign("", time.Hour)
	assert.Error(t, err)
}

func TestVerifyExpired(t *testing.T) {
	j := NewJWT("s3cret")
	j.now = func() time.Time { return time.Now().Add(-2 * time.Hour) }
	tok, err := j.Sign("ops", time.Hour)
	require.NoError(t, err)

	j.now = time.Now
	_, err = j.Verify(tok)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestRequireOps(t *testing.T) {
	j := NewJWT("s3cret")
	var seen string
	h := RequireOps(j)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen, _ = SubjectFromContext(r.Context())
	}))

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	tok, err := j.Sign("ops", time.Minute)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodGet, "/jobs", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec = httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ops", seen)
}

func TestRequireOpsDisabled(t *testing.T) {
	h := RequireOps(nil)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/jobs", nil))
	assert.Equal(t, http.StatusTeapot, rec.Code)
}
