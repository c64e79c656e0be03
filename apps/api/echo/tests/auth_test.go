package tests

import (
	"context"
	"encoding/json"
	"net/http"
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	echoapi "github.com/shulehub/shule/apps/api/echo"
	"github.com/shulehub/shule/core/auth"
	"github.com/shulehub/shule/core/user"
	emailsvc "github.com/shulehub/shule/services/email"
	testutil "github.com/shulehub/shule/tests"
)

var errInvalidCredentials = []byte(`{"success": false, "message": "invalid credentials"}`)

func loginBody(t *testing.T, email, pwd string) []byte {
	return marshallObj(t, echoapi.LoginRequest{Email: email, Password: pwd})
}

func Test_authApi_login(t *testing.T) {
	resetUsers(t)

	admin := testutil.CreateUser(t, usrRepo, "Admin", "admin@test.cd", "LordOfTheRings", user.RoleFlags{IsAdmin: true}, true)
	testutil.CreateUser(t, usrRepo, "Naughty", "ndog@test.cd", "LordOfTheRings", user.RoleFlags{}, false)

	tests := []httpTest{
		{
			name: "empty body", body: nil, wantCode: http.StatusBadRequest,
			wantData: []byte(`{"email": "this field is required", "password": "this field is required"}`),
		},
		{
			name: "invalid email", body: loginBody(t, "lol", "LordOfTheRings"), wantCode: http.StatusBadRequest,
			wantData: []byte(`{"email": "enter a valid email address"}`),
		},
		{name: "unknown email", body: loginBody(t, "lol@test.cd", "LordOfTheRings"), wantCode: http.StatusUnauthorized, wantData: errInvalidCredentials},
		{name: "wrong password", body: loginBody(t, "admin@test.cd", "GameOfThrones"), wantCode: http.StatusUnauthorized, wantData: errInvalidCredentials},
		{name: "disabled account", body: loginBody(t, "ndog@test.cd", "LordOfTheRings"), wantCode: http.StatusUnauthorized, wantData: errInvalidCredentials},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newRequest(http.MethodPost, "/v1/auth/login", tt.body)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}

	t.Run("success", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/auth/login", loginBody(t, "Admin@test.cd", "LordOfTheRings"))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var res echoapi.LoginResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
		assert.True(t, res.Success)
		assert.NotEmpty(t, res.Token)
		assert.NotEmpty(t, res.RefreshToken)
		assert.Equal(t, 3600, res.ExpiresIn)
		assert.Equal(t, admin.ID, res.User.ID)
		assert.Equal(t, user.RoleSystemAdmin, res.User.Role)
		assert.Contains(t, res.User.Permissions, "system:admin")
		assert.False(t, res.User.LastLogin.IsZero())

		// refresh token is also set as a scoped HttpOnly cookie
		var cookie *http.Cookie
		for _, c := range rec.Result().Cookies() {
			if c.Name == "refresh_token" {
				cookie = c
			}
		}
		require.NotNil(t, cookie)
		assert.Equal(t, res.RefreshToken, cookie.Value)
		assert.Equal(t, "/v1/auth", cookie.Path)
		assert.True(t, cookie.HttpOnly)
	})
}

func Test_authApi_refresh(t *testing.T) {
	resetUsers(t)

	usr := testutil.CreateUser(t, usrRepo, "Teacher", "teacher@test.cd", "LordOfTheRings", user.RoleFlags{IsTeacher: true}, true)
	res, err := authSvc.Login(context.Background(), usr.Email, "LordOfTheRings")
	require.NoError(t, err)

	t.Run("no token", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/auth/refresh")
		app.ServeHTTP(rec, req)
		tt := httpTest{wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errNotAuthenticated)}
		checkCodeAndData(t, tt, rec)
	})

	t.Run("garbage token", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/auth/refresh", marshallObj(t, echoapi.RefreshRequest{RefreshToken: "lol"}))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("access token is rejected", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/auth/refresh", marshallObj(t, echoapi.RefreshRequest{RefreshToken: res.Token}))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("token in body", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/auth/refresh", marshallObj(t, echoapi.RefreshRequest{RefreshToken: res.RefreshToken}))
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)

		var rres echoapi.RefreshResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &rres))
		assert.True(t, rres.Success)
		require.NotNil(t, rres.Data)
		assert.NotEmpty(t, rres.Data.Token)
		assert.Equal(t, 3600, rres.Data.ExpiresIn)

		claims := authSvc.ValidateAccessToken(req.Context(), rres.Data.Token)
		require.NotNil(t, claims)
		assert.Equal(t, usr.ID, claims.Subject)
	})

	t.Run("token in cookie", func(t *testing.T) {
		req, rec := newRequest(http.MethodPost, "/v1/auth/refresh")
		req.AddCookie(&http.Cookie{Name: "refresh_token", Value: res.RefreshToken})
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func Test_authApi_me(t *testing.T) {
	resetUsers(t)

	usr := testutil.CreateUser(t, usrRepo, "Student", "student@test.cd", "LordOfTheRings", user.RoleFlags{}, true)

	tests := []httpTest{
		{name: "Auth required", wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errNotAuthenticated)},
		{name: "garbage token", token: "lol", wantCode: http.StatusUnauthorized, wantData: marshallObj(t, errNotAuthenticated)},
		{
			name: "me", token: getToken(t, usr), wantCode: http.StatusOK,
			wantData: marshallObj(t, auth.NewUserInfo(usr)),
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, rec := newAuthRequest(http.MethodGet, "/v1/auth/me", tt.token)
			app.ServeHTTP(rec, req)
			checkCodeAndData(t, tt, rec)
		})
	}
}

func Test_authApi_passwordReset(t *testing.T) {
	resetUsers(t)

	usr := testutil.CreateUser(t, usrRepo, "Teacher", "teacher@test.cd", "LordOfTheRings", user.RoleFlags{IsTeacher: true}, true)

	sentCount := len(emailsvc.SentMessages)
	genericMsg := "If the email address supplied is associated with an active account on this system, " +
		"an email will arrive in your inbox shortly with instructions to reset your password."

	t.Run("unknown email gets the same answer", func(t *testing.T) {
		body := marshallObj(t, echoapi.PasswordResetRequest{Email: "lol@test.cd"})
		req, rec := newRequest(http.MethodPost, "/v1/auth/password-reset", body)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusOK,
			wantData: marshallObj(t, echoapi.SuccessResponse{Success: genericMsg}),
		}, rec)
		assert.Len(t, emailsvc.SentMessages, sentCount) // no mail sent
	})

	t.Run("full reset flow", func(t *testing.T) {
		body := marshallObj(t, echoapi.PasswordResetRequest{Email: usr.Email})
		req, rec := newRequest(http.MethodPost, "/v1/auth/password-reset", body)
		app.ServeHTTP(rec, req)
		require.Equal(t, http.StatusOK, rec.Code)
		require.Len(t, emailsvc.SentMessages, sentCount+1)

		// pull uid & token out of the emailed link
		mail := emailsvc.SentMessages[len(emailsvc.SentMessages)-1]
		re := regexp.MustCompile(`uid=([^&\s]+)&token=([^&\s]+)`)
		match := re.FindStringSubmatch(mail.Body)
		require.Len(t, match, 3)

		confirm := marshallObj(t, user.ResetUserPassword{
			UID:             match[1],
			Token:           match[2],
			Password:        "GameOfThrones",
			PasswordConfirm: "GameOfThrones",
		})
		req, rec = newRequest(http.MethodPost, "/v1/auth/password-reset-confirm", confirm)
		app.ServeHTTP(rec, req)
		checkCodeAndData(t, httpTest{
			wantCode: http.StatusOK,
			wantData: marshallObj(t, echoapi.SuccessResponse{Success: "Password has been reset with the new password."}),
		}, rec)

		// old password no longer works, new one does
		req, rec = newRequest(http.MethodPost, "/v1/auth/login", loginBody(t, usr.Email, "LordOfTheRings"))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)

		req, rec = newRequest(http.MethodPost, "/v1/auth/login", loginBody(t, usr.Email, "GameOfThrones"))
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	})

	t.Run("mismatched confirmation", func(t *testing.T) {
		confirm := marshallObj(t, user.ResetUserPassword{
			UID:             "lol",
			Token:           "lol",
			Password:        "GameOfThrones",
			PasswordConfirm: "HouseOfCards",
		})
		req, rec := newRequest(http.MethodPost, "/v1/auth/password-reset-confirm", confirm)
		app.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})
}
