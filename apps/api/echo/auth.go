package echoapi

import (
	"net/http"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/shulehub/shule/core"
	"github.com/shulehub/shule/core/auth"
	"github.com/shulehub/shule/core/user"
)

const refreshCookieName = "refresh_token"

type authApi struct {
	svc      *auth.Service
	usrSvc   *user.Service
	conf     *core.Config
	validate *validator.Validate
	logger   core.Logger
}

func registerAuthAPI(g *echo.Group, bearer echo.MiddlewareFunc, deps Deps) {
	api := authApi{
		svc:      deps.AuthSvc,
		usrSvc:   deps.UserSvc,
		conf:     deps.Conf,
		validate: deps.Validate,
		logger:   deps.Logger,
	}

	ag := g.Group("/auth")

	// un-authed endpoints
	// TODO: rate limit `/login`, `/password-reset` & `/password-reset-confirm`
	ag.POST("/login", api.login)
	ag.POST("/refresh", api.refresh)
	ag.POST("/password-reset", api.resetPassword)
	ag.POST("/password-reset-confirm", api.confirmPasswordReset)

	// authed endpoints
	ag.GET("/me", api.me, bearer)
}

// Handlers

func (api *authApi) login(ctx echo.Context) error {
	var data LoginRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to LoginRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	res, err := api.svc.Login(ctx.Request().Context(), data.Email, data.Password)
	if err != nil {
		return err // ErrInvalidCredentials and ValidationError map themselves
	}

	api.setRefreshCookie(ctx, res.RefreshToken, api.conf.Server.RefreshTokenTTL)
	return ctx.JSON(http.StatusOK, LoginResponse{
		Success:      true,
		Token:        res.Token,
		RefreshToken: res.RefreshToken,
		User:         res.User,
		ExpiresIn:    res.ExpiresIn,
		Message:      "login successful",
	})
}

func (api *authApi) refresh(ctx echo.Context) error {
	token := api.refreshTokenFromRequest(ctx)
	if token == "" {
		return errUnauthorized
	}

	// invalid, expired and wrong-kind tokens are indistinguishable on purpose
	res := api.svc.RefreshAccessToken(ctx.Request().Context(), token)
	if res == nil {
		return errUnauthorized
	}
	return ctx.JSON(http.StatusOK, RefreshResponse{Success: true, Data: res})
}

func (api *authApi) me(ctx echo.Context) error {
	claims, err := getContextClaims(ctx)
	if err != nil {
		return err
	}
	info, err := api.svc.GetUserByID(ctx.Request().Context(), claims.Subject)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return errHttpNotFound
		}
		return errors.Wrap(err, "finding user by ID")
	}
	return ctx.JSON(http.StatusOK, info)
}

func (api *authApi) resetPassword(ctx echo.Context) error {
	var data PasswordResetRequest
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to PasswordResetRequest")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.usrSvc.RequestPasswordReset(ctx.Request().Context(), data.Email); !(err == nil || errors.Cause(err) == user.ErrNotFound) {
		// do not return errors to attackers
		api.logger.Error("requesting password reset", errors.Wrap(err, "requesting password reset"))
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{
		Success: "If the email address supplied is associated with an active account on this system, " +
			"an email will arrive in your inbox shortly with instructions to reset your password.",
	})
}

func (api *authApi) confirmPasswordReset(ctx echo.Context) error {
	var data user.ResetUserPassword
	if err := ctx.Bind(&data); err != nil {
		return errors.Wrap(err, "binding to ResetUserPassword")
	}
	if err := data.Validate(api.validate); err != nil {
		return err
	}

	if err := api.usrSvc.ResetPassword(ctx.Request().Context(), data); err != nil {
		return errors.Wrap(err, "resetting password")
	}
	return ctx.JSON(http.StatusOK, SuccessResponse{Success: "Password has been reset with the new password."})
}

// refreshTokenFromRequest reads the refresh token from the secure cookie,
// falling back to the request body.
func (api *authApi) refreshTokenFromRequest(ctx echo.Context) string {
	if cookie, err := ctx.Cookie(refreshCookieName); err == nil && cookie.Value != "" {
		return cookie.Value
	}
	var data RefreshRequest
	if err := ctx.Bind(&data); err != nil {
		return ""
	}
	return data.RefreshToken
}

func (api *authApi) setRefreshCookie(ctx echo.Context, token string, maxAge time.Duration) {
	ctx.SetCookie(&http.Cookie{
		Name:     refreshCookieName,
		Value:    token,
		Path:     "/v1/auth",
		MaxAge:   int(maxAge / time.Second),
		HttpOnly: true,
		Secure:   !api.conf.IsDev(),
		SameSite: http.SameSiteStrictMode,
	})
}

type (
	LoginRequest struct {
		Email    string `json:"email" validate:"required,email"`
		Password string `json:"password" validate:"required"`
	}

	LoginResponse struct {
		Success      bool          `json:"success"`
		Token        string        `json:"token"`
		RefreshToken string        `json:"refreshToken"`
		User         auth.UserInfo `json:"user"`
		ExpiresIn    int           `json:"expiresIn"`
		Message      string        `json:"message"`
	}

	RefreshRequest struct {
		RefreshToken string `json:"refreshToken"`
	}

	RefreshResponse struct {
		Success bool                `json:"success"`
		Data    *auth.RefreshResult `json:"data"`
	}

	PasswordResetRequest struct {
		Email string `json:"email" validate:"required,email"`
	}

	SuccessResponse struct {
		Success string `json:"success"`
	}
)

func (lr *LoginRequest) Validate(validate *validator.Validate) error {
	lr.Email = core.CleanString(lr.Email, true /* lower */)
	return validate.Struct(lr)
}

func (pr *PasswordResetRequest) Validate(validate *validator.Validate) error {
	pr.Email = core.CleanString(pr.Email, true /* lower */)
	return validate.Struct(pr)
}
