package auth

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	apperrors "bytechat_go_backend/internal/errors"

	"github.com/stretchr/testify/assert"
)

func TestVerifyAgainstUserInfoEndpoint(t *testing.T) {
	userInfo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer valid-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		fmt.Fprint(w, `{"email":"a@x.com","name":"Ada Lovelace","picture":"https://pic","verified_email":true}`)
	}))
	defer userInfo.Close()

	verifier := NewGoogleVerifierWithEndpoints(http.DefaultClient, userInfo.URL, "http://invalid.invalid")

	info, err := verifier.Verify(context.Background(), "valid-token")
	assert.NoError(t, err)
	assert.Equal(t, "a@x.com", info.Email)
	assert.Equal(t, "Ada Lovelace", info.Name)
	assert.Equal(t, "https://pic", info.Picture)
	assert.True(t, info.VerifiedEmail)
}

func TestVerifyFallsBackToTokenInfo(t *testing.T) {
	userInfoCalls := 0
	userInfo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userInfoCalls++
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer userInfo.Close()

	tokenInfo := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "limited-token", r.URL.Query().Get("access_token"))
		fmt.Fprint(w, `{"email":"b@x.com","email_verified":"true"}`)
	}))
	defer tokenInfo.Close()

	verifier := NewGoogleVerifierWithEndpoints(http.DefaultClient, userInfo.URL, tokenInfo.URL)

	info, err := verifier.Verify(context.Background(), "limited-token")
	assert.NoError(t, err)
	assert.Equal(t, 1, userInfoCalls)
	assert.Equal(t, "b@x.com", info.Email)
	// tokeninfo has no profile fields; the email stands in for the name.
	assert.Equal(t, "b@x.com", info.Name)
	assert.True(t, info.VerifiedEmail)
}

func TestVerifyNormalizesAllFailuresToUnauthorized(t *testing.T) {
	rejectAll := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer rejectAll.Close()

	t.Run("Both endpoints reject the token", func(t *testing.T) {
		verifier := NewGoogleVerifierWithEndpoints(http.DefaultClient, rejectAll.URL, rejectAll.URL)
		info, err := verifier.Verify(context.Background(), "bad-token")
		assert.Nil(t, info)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})

	t.Run("Identity payload missing email", func(t *testing.T) {
		noEmail := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			fmt.Fprint(w, `{"name":"No Email"}`)
		}))
		defer noEmail.Close()

		verifier := NewGoogleVerifierWithEndpoints(http.DefaultClient, noEmail.URL, rejectAll.URL)
		info, err := verifier.Verify(context.Background(), "odd-token")
		assert.Nil(t, info)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})

	t.Run("Unreachable identity provider", func(t *testing.T) {
		verifier := NewGoogleVerifierWithEndpoints(http.DefaultClient, "http://127.0.0.1:1", "http://127.0.0.1:1")
		info, err := verifier.Verify(context.Background(), "any-token")
		assert.Nil(t, info)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
	})

	t.Run("Empty token fails without any outbound call", func(t *testing.T) {
		calls := 0
		counting := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls++
		}))
		defer counting.Close()

		verifier := NewGoogleVerifierWithEndpoints(http.DefaultClient, counting.URL, counting.URL)
		info, err := verifier.Verify(context.Background(), "")
		assert.Nil(t, info)
		assert.ErrorIs(t, err, apperrors.ErrUnauthorized)
		assert.Equal(t, 0, calls)
	})
}
