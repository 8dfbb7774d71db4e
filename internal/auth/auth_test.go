package auth

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewValidator(t *testing.T) {
	tests := []struct {
		name    string
		secret  string
		alg     string
		wantErr bool
	}{
		{"HS256", "s", "HS256", false},
		{"HS512", "s", "HS512", false},
		{"RS256 rejected", "s", "RS256", true},
		{"unknown", "s", "XX", true},
		{"empty secret", "", "HS256", true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewValidator(tt.secret, tt.alg)
			assert.Equal(t, tt.wantErr, err != nil)
		})
	}
}

func TestValidator_RoundTrip(t *testing.T) {
	v, err := NewValidator("test_secret", "HS256")
	require.NoError(t, err)

	token, err := v.Issue("ana", "admin", time.Hour)
	require.NoError(t, err)

	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Equal(t, "ana", claims.Username)
	assert.True(t, claims.HasRole("admin"))
	assert.False(t, claims.HasRole("operador"))
}

func TestValidator_NoExpiry(t *testing.T) {
	v, err := NewValidator("test_secret", "HS256")
	require.NoError(t, err)

	token, err := v.Issue("svc", "admin", 0)
	require.NoError(t, err)

	claims, err := v.Validate(token)
	require.NoError(t, err)
	assert.Nil(t, claims.ExpiresAt)
}

func TestValidator_Failures(t *testing.T) {
	v, err := NewValidator("test_secret", "HS256")
	require.NoError(t, err)

	expired, err := v.Issue("ana", "admin", -time.Minute)
	require.NoError(t, err)
	_, err = v.Validate(expired)
	assert.ErrorIs(t, err, ErrTokenExpired)

	other, err := NewValidator("other_secret", "HS256")
	require.NoError(t, err)
	forged, err := other.Issue("ana", "admin", time.Hour)
	require.NoError(t, err)
	_, err = v.Validate(forged)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	hs512, err := NewValidator("test_secret", "HS512")
	require.NoError(t, err)
	wrongAlg, err := hs512.Issue("ana", "admin", time.Hour)
	require.NoError(t, err)
	_, err = v.Validate(wrongAlg)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	none, err := jwt.NewWithClaims(jwt.SigningMethodNone, Claims{Username: "x"}).SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)
	_, err = v.Validate(none)
	assert.ErrorIs(t, err, ErrTokenInvalid)

	_, err = v.Validate("not.a.token")
	assert.ErrorIs(t, err, ErrTokenInvalid)
}

func TestMiddleware(t *testing.T) {
	v, err := NewValidator("test_secret", "HS256")
	require.NoError(t, err)

	valid, err := v.Issue("ana", "operador", time.Hour)
	require.NoError(t, err)
	expired, err := v.Issue("ana", "operador", -time.Hour)
	require.NoError(t, err)

	handler := v.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		claims, ok := ClaimsFromContext(r.Context())
		require.True(t, ok)
		w.Write([]byte(claims.Username))
	}))

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantDetail string
	}{
		{"valid", "Bearer " + valid, http.StatusOK, ""},
		{"lowercase scheme", "bearer " + valid, http.StatusOK, ""},
		{"missing", "", http.StatusUnauthorized, "Token inválido o no autorizado"},
		{"wrong scheme", "Basic abc", http.StatusUnauthorized, "Token inválido o no autorizado"},
		{"garbage", "Bearer abc", http.StatusUnauthorized, "Token inválido o no autorizado"},
		{"expired", "Bearer " + expired, http.StatusUnauthorized, "Token expirado"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/v1/status", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			handler.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantDetail == "" {
				assert.Equal(t, "ana", rec.Body.String())
				return
			}
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantDetail, body["detail"])
		})
	}
}

func TestWriteUnauthorized(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantDetail string
	}{
		{"expired", ErrTokenExpired, "Token expirado"},
		{"wrapped expired", fmt.Errorf("%w: exp in the past", ErrTokenExpired), "Token expirado"},
		{"invalid", ErrTokenInvalid, "Token inválido o no autorizado"},
		{"other", fmt.Errorf("signature mismatch"), "Token inválido o no autorizado"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			writeUnauthorized(rec, tt.err)

			assert.Equal(t, http.StatusUnauthorized, rec.Code)
			assert.Equal(t, "Bearer", rec.Header().Get("WWW-Authenticate"))
			var body map[string]string
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
			assert.Equal(t, tt.wantDetail, body["detail"])
		})
	}

	assert.Equal(t, "token expired", ErrTokenExpired.Error())
	assert.Equal(t, "invalid or unauthorized token", ErrTokenInvalid.Error())
}
