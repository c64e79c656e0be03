package auth

import (
	"time"

	"github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"

	"github.com/shulehub/shule/core"
	"github.com/shulehub/shule/core/user"
)

// Token kinds carried in the "type" claim.
const (
	TokenTypeAccess  = "access"
	TokenTypeRefresh = "refresh"
)

var (
	nowFunc = time.Now // mockable

	// errors
	ErrTokenInvalid   = errors.New("invalid token")
	ErrTokenExpired   = errors.New("token expired")
	ErrWrongTokenType = errors.New("wrong token type")
)

// AccessClaims represents the authorization claims transmitted via an access JWT.
// It snapshots the user's resolved role and permission set at issuance time.
type AccessClaims struct {
	jwt.StandardClaims
	Email         string   `json:"email,omitempty"`
	Name          string   `json:"name,omitempty"`
	Role          string   `json:"role,omitempty"`
	Permissions   []string `json:"permissions,omitempty"`
	InstitutionID string   `json:"institution_id,omitempty"`
	SessionID     string   `json:"session_id,omitempty"`
	TokenType     string   `json:"type,omitempty"`
}

// RefreshClaims carries no permission snapshot: permissions are recomputed
// fresh from the store on every refresh.
type RefreshClaims struct {
	jwt.StandardClaims
	SessionID string `json:"session_id,omitempty"`
	TokenType string `json:"type,omitempty"`
}

// TokenCodec signs and verifies the two token kinds with distinct secrets.
type TokenCodec struct {
	accessKey  []byte
	refreshKey []byte
	accessTTL  time.Duration
	refreshTTL time.Duration
	issuer     string
}

func NewTokenCodec(conf *core.Config) *TokenCodec {
	return &TokenCodec{
		accessKey:  conf.SecretKey,
		refreshKey: conf.RefreshSecretKey,
		accessTTL:  conf.Server.AccessTokenTTL,
		refreshTTL: conf.Server.RefreshTokenTTL,
		issuer:     conf.AppName,
	}
}

func (c *TokenCodec) AccessTTL() time.Duration { return c.accessTTL }

// SignAccess mints an access token for the user with the given resolution snapshot.
func (c *TokenCodec) SignAccess(usr user.User, res user.Resolution, sessionID string) (string, error) {
	now := nowFunc()
	claims := &AccessClaims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    c.issuer,
			Subject:   usr.ID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(c.accessTTL).Unix(),
		},
		Email:         usr.Email,
		Name:          usr.Name,
		Role:          res.Role,
		Permissions:   res.Permissions,
		InstitutionID: usr.InstitutionID,
		SessionID:     sessionID,
		TokenType:     TokenTypeAccess,
	}
	return c.sign(claims, c.accessKey)
}

// SignRefresh mints a refresh token bound to the same sessionID.
func (c *TokenCodec) SignRefresh(usr user.User, sessionID string) (string, error) {
	now := nowFunc()
	claims := &RefreshClaims{
		StandardClaims: jwt.StandardClaims{
			Issuer:    c.issuer,
			Subject:   usr.ID,
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(c.refreshTTL).Unix(),
		},
		SessionID: sessionID,
		TokenType: TokenTypeRefresh,
	}
	return c.sign(claims, c.refreshKey)
}

// VerifyAccess checks signature, expiry and token type against the access key.
func (c *TokenCodec) VerifyAccess(token string) (*AccessClaims, error) {
	claims := new(AccessClaims)
	if err := c.verify(token, claims, c.accessKey); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeAccess {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

// VerifyRefresh is symmetric to VerifyAccess, against the refresh key.
func (c *TokenCodec) VerifyRefresh(token string) (*RefreshClaims, error) {
	claims := new(RefreshClaims)
	if err := c.verify(token, claims, c.refreshKey); err != nil {
		return nil, err
	}
	if claims.TokenType != TokenTypeRefresh {
		return nil, ErrWrongTokenType
	}
	return claims, nil
}

func (c *TokenCodec) sign(claims jwt.Claims, key []byte) (string, error) {
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	ss, err := token.SignedString(key)
	if err != nil {
		return "", errors.Wrap(err, "signing token")
	}
	return ss, nil
}

func (c *TokenCodec) verify(tokenStr string, claims jwt.Claims, key []byte) error {
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (interface{}, error) {
		// only HS256; anything else (incl. "none") is rejected
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return key, nil
	})
	if err != nil {
		if vErr, ok := err.(*jwt.ValidationError); ok && vErr.Errors&jwt.ValidationErrorExpired != 0 {
			return ErrTokenExpired
		}
		return ErrTokenInvalid
	}
	if !token.Valid {
		return ErrTokenInvalid
	}
	return nil
}
