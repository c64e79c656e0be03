package auth

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/shulehub/shule/core"
	"github.com/shulehub/shule/core/user"
)

// ErrInvalidCredentials covers unknown email, wrong password and disabled
// accounts alike, so login responses cannot be used for user enumeration.
var ErrInvalidCredentials = errors.New("invalid credentials")

type (
	// UserInfo is the display-ready projection of a user: resolved role and
	// permissions included, password hash never.
	UserInfo struct {
		ID            string    `json:"id"`
		Name          string    `json:"name"`
		Email         string    `json:"email"`
		InstitutionID string    `json:"institution_id,omitempty"`
		Role          string    `json:"role"`
		Permissions   []string  `json:"permissions"`
		IsActive      bool      `json:"is_active"`
		LastLogin     time.Time `json:"last_login"`
	}

	// AuthResult is what a successful login yields.
	AuthResult struct {
		Token        string   `json:"token"`
		RefreshToken string   `json:"refreshToken"`
		User         UserInfo `json:"user"`
		ExpiresIn    int      `json:"expiresIn"` // seconds
	}

	// RefreshResult is what a successful access-token refresh yields.
	// The refresh token itself is not rotated.
	RefreshResult struct {
		Token     string `json:"token"`
		ExpiresIn int    `json:"expiresIn"` // seconds
	}

	// Service orchestrates login, token validation/refresh and permission checks.
	// It keeps no state between requests: tokens are stateless and the user row
	// is re-read from the store whenever eligibility matters.
	Service struct {
		repo   user.Repository
		codec  *TokenCodec
		logger core.Logger
	}
)

func NewService(repo user.Repository, codec *TokenCodec, logger core.Logger) *Service {
	return &Service{
		repo:   repo,
		codec:  codec,
		logger: logger,
	}
}

func NewUserInfo(usr user.User) UserInfo {
	res := user.Resolve(usr.RoleFlags)
	return UserInfo{
		ID:            usr.ID,
		Name:          usr.Name,
		Email:         usr.Email,
		InstitutionID: usr.InstitutionID,
		Role:          res.Role,
		Permissions:   res.Permissions,
		IsActive:      usr.IsActive,
		LastLogin:     usr.LastLogin,
	}
}

// Login authenticates the email/password pair and issues a fresh token pair
// sharing a new sessionId.
func (svc *Service) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	email = core.CleanString(email, true /* lower */)
	if email == "" || password == "" {
		var flds []core.FieldError
		if email == "" {
			flds = append(flds, core.FieldError{Field: "email", Error: "this field is required"})
		}
		if password == "" {
			flds = append(flds, core.FieldError{Field: "password", Error: "this field is required"})
		}
		return nil, core.NewValidationError(errors.New("email and password are required"), flds...)
	}

	usr, err := svc.repo.GetUserByEmail(ctx, email)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return nil, ErrInvalidCredentials
		}
		return nil, errors.Wrap(err, "finding user by email")
	}
	// a disabled user authenticates as "not found"
	if !usr.IsActive {
		return nil, ErrInvalidCredentials
	}
	if err = usr.CheckPassword(password); err != nil {
		return nil, ErrInvalidCredentials
	}

	sessionID := uuid.New().String()
	res := user.Resolve(usr.RoleFlags)

	access, err := svc.codec.SignAccess(usr, res, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "signing access token")
	}
	refresh, err := svc.codec.SignRefresh(usr, sessionID)
	if err != nil {
		return nil, errors.Wrap(err, "signing refresh token")
	}

	if usr, err = svc.repo.SetLastLogin(ctx, usr); err != nil {
		return nil, errors.Wrap(err, "setting lastLogin")
	}

	return &AuthResult{
		Token:        access,
		RefreshToken: refresh,
		User:         NewUserInfo(usr),
		ExpiresIn:    int(svc.codec.AccessTTL() / time.Second),
	}, nil
}

// ValidateAccessToken returns the decoded claims, or nil on ANY failure:
// forged, expired, wrong kind, or the user no longer exists or was disabled.
// Disabling the user row is the only server-side revocation mechanism.
func (svc *Service) ValidateAccessToken(ctx context.Context, token string) *AccessClaims {
	claims, err := svc.codec.VerifyAccess(token)
	if err != nil {
		return nil
	}
	if !svc.userStillEligible(ctx, claims.Subject) {
		return nil
	}
	return claims
}

// ValidateRefreshToken is symmetric to ValidateAccessToken, against the
// refresh secret.
func (svc *Service) ValidateRefreshToken(ctx context.Context, token string) *RefreshClaims {
	claims, err := svc.codec.VerifyRefresh(token)
	if err != nil {
		return nil
	}
	if !svc.userStillEligible(ctx, claims.Subject) {
		return nil
	}
	return claims
}

// RefreshAccessToken mints a new access token off a valid refresh token,
// bound to the same sessionId. Permissions are re-resolved from the user's
// current flags, never from the old access token's snapshot, so role changes
// take effect on the next refresh without re-login. Returns nil on any
// invalid input.
func (svc *Service) RefreshAccessToken(ctx context.Context, refreshToken string) *RefreshResult {
	claims, err := svc.codec.VerifyRefresh(refreshToken)
	if err != nil {
		return nil
	}

	usr, err := svc.repo.GetUserByID(ctx, claims.Subject)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			svc.logger.Error(fmt.Sprintf("refreshing access token: %v", err), err)
		}
		return nil
	}
	if !usr.IsActive {
		return nil
	}

	res := user.Resolve(usr.RoleFlags)
	access, err := svc.codec.SignAccess(usr, res, claims.SessionID)
	if err != nil {
		svc.logger.Error(fmt.Sprintf("signing access token: %v", err), err)
		return nil
	}
	return &RefreshResult{
		Token:     access,
		ExpiresIn: int(svc.codec.AccessTTL() / time.Second),
	}
}

// GetUserByID loads the user and returns its display projection.
func (svc *Service) GetUserByID(ctx context.Context, id string) (*UserInfo, error) {
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Cause(err) == user.ErrNotFound {
			return nil, err
		}
		return nil, errors.Wrap(err, "finding user by ID")
	}
	info := NewUserInfo(usr)
	return &info, nil
}

// HasPermission loads the user's flags fresh from the store (no caching) and
// checks set membership. It fails closed: lookup errors and disabled or
// missing users all yield false.
func (svc *Service) HasPermission(ctx context.Context, userID, permission string) bool {
	usr, err := svc.repo.GetUserByID(ctx, userID)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			svc.logger.Error(fmt.Sprintf("checking permission: %v", err), err)
		}
		return false
	}
	if !usr.IsActive {
		return false
	}
	return user.Resolve(usr.RoleFlags).HasPermission(permission)
}

func (svc *Service) userStillEligible(ctx context.Context, id string) bool {
	usr, err := svc.repo.GetUserByID(ctx, id)
	if err != nil {
		if errors.Cause(err) != user.ErrNotFound {
			svc.logger.Error(fmt.Sprintf("re-checking user eligibility: %v", err), err)
		}
		return false
	}
	return usr.IsActive
}
