package auth

import (
	"context"
	"log"
	"os"
	"testing"

	"github.com/pkg/errors"

	"github.com/shulehub/shule/core"
	"github.com/shulehub/shule/core/user"
	logsvc "github.com/shulehub/shule/services/logger"
	inmemdb "github.com/shulehub/shule/storage/database/inmem"
	testutil "github.com/shulehub/shule/tests"
)

func setup(t *testing.T) (*Service, user.Repository, *TokenCodec) {
	db, err := inmemdb.Open()
	if err != nil {
		t.Fatalf("setup() failed: %v", err)
	}
	repo := inmemdb.NewUserRepository(db)
	codec := NewTokenCodec(testutil.NewTestConfig())
	logger := logsvc.NewStdLogger(log.New(os.Stdout, "TEST : ", log.LstdFlags))
	return NewService(repo, codec, logger), repo, codec
}

func TestService_Login(t *testing.T) {
	svc, repo, codec := setup(t)
	ctx := context.Background()

	admin := testutil.CreateUser(t, repo, "Admin", "admin@test.cd", "LordOfTheRings", user.RoleFlags{IsAdmin: true}, true)
	testutil.CreateUser(t, repo, "Disabled", "disabled@test.cd", "LordOfTheRings", user.RoleFlags{}, false)

	t.Run("success", func(t *testing.T) {
		res, err := svc.Login(ctx, "Admin@test.cd ", "LordOfTheRings") // email is cleaned
		if err != nil {
			t.Fatalf("Login() failed: %v", err)
		}
		if res.Token == "" || res.RefreshToken == "" {
			t.Error("Login() returned empty tokens")
		}
		if res.ExpiresIn != 3600 {
			t.Errorf("ExpiresIn = %d, want 3600", res.ExpiresIn)
		}
		if res.User.ID != admin.ID {
			t.Errorf("User.ID = %s, want %s", res.User.ID, admin.ID)
		}
		if res.User.Role != user.RoleSystemAdmin {
			t.Errorf("User.Role = %s, want %s", res.User.Role, user.RoleSystemAdmin)
		}
		if res.User.LastLogin.IsZero() {
			t.Error("User.LastLogin was not set")
		}

		claims, err := codec.VerifyAccess(res.Token)
		if err != nil {
			t.Fatalf("VerifyAccess() failed: %v", err)
		}
		hasAdminPerm := false
		for _, p := range claims.Permissions {
			if p == "system:admin" {
				hasAdminPerm = true
			}
		}
		if !hasAdminPerm {
			t.Errorf("claims.Permissions = %v, want to include system:admin", claims.Permissions)
		}

		// both tokens share the session
		refreshClaims, err := codec.VerifyRefresh(res.RefreshToken)
		if err != nil {
			t.Fatalf("VerifyRefresh() failed: %v", err)
		}
		if claims.SessionID == "" || claims.SessionID != refreshClaims.SessionID {
			t.Errorf("SessionID mismatch: access %q, refresh %q", claims.SessionID, refreshClaims.SessionID)
		}
	})

	// unknown email, wrong password and disabled account are indistinguishable
	t.Run("invalid credentials", func(t *testing.T) {
		tests := []struct {
			name, email, pwd string
		}{
			{"unknown email", "nobody@test.cd", "LordOfTheRings"},
			{"wrong password", "admin@test.cd", "GameOfThrones"},
			{"disabled account", "disabled@test.cd", "LordOfTheRings"},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := svc.Login(ctx, tt.email, tt.pwd); err != ErrInvalidCredentials {
					t.Errorf("Login() error = %v, want %v", err, ErrInvalidCredentials)
				}
			})
		}
	})

	t.Run("missing fields", func(t *testing.T) {
		_, err := svc.Login(ctx, "", "")
		vErr, ok := err.(*core.ValidationError)
		if !ok {
			t.Fatalf("Login() error = %T, want *core.ValidationError", err)
		}
		if len(vErr.Fields) != 2 {
			t.Errorf("len(Fields) = %d, want 2", len(vErr.Fields))
		}
	})
}

func TestService_ValidateAccessToken(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, repo, "Teacher", "teacher@test.cd", "LordOfTheRings", user.RoleFlags{IsTeacher: true}, true)
	res, err := svc.Login(ctx, usr.Email, "LordOfTheRings")
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}

	t.Run("valid", func(t *testing.T) {
		claims := svc.ValidateAccessToken(ctx, res.Token)
		if claims == nil {
			t.Fatal("ValidateAccessToken() = nil, want claims")
		}
		if claims.Subject != usr.ID {
			t.Errorf("Subject = %s, want %s", claims.Subject, usr.ID)
		}
		if claims.Role != user.RoleTeacher {
			t.Errorf("Role = %s, want %s", claims.Role, user.RoleTeacher)
		}
	})

	t.Run("refresh token is not an access token", func(t *testing.T) {
		if claims := svc.ValidateAccessToken(ctx, res.RefreshToken); claims != nil {
			t.Errorf("ValidateAccessToken() = %+v, want nil", claims)
		}
	})

	t.Run("garbage", func(t *testing.T) {
		if claims := svc.ValidateAccessToken(ctx, "lol"); claims != nil {
			t.Errorf("ValidateAccessToken() = %+v, want nil", claims)
		}
	})

	t.Run("disabled after issuance", func(t *testing.T) {
		active := false
		if _, err := repo.UpdateUser(ctx, usr, nil, &active); err != nil {
			t.Fatalf("UpdateUser() failed: %v", err)
		}
		if claims := svc.ValidateAccessToken(ctx, res.Token); claims != nil {
			t.Errorf("ValidateAccessToken() = %+v, want nil", claims)
		}
		if claims := svc.ValidateRefreshToken(ctx, res.RefreshToken); claims != nil {
			t.Errorf("ValidateRefreshToken() = %+v, want nil", claims)
		}

		active = true
		if _, err := repo.UpdateUser(ctx, usr, nil, &active); err != nil {
			t.Fatalf("UpdateUser() failed: %v", err)
		}
		if claims := svc.ValidateAccessToken(ctx, res.Token); claims == nil {
			t.Error("ValidateAccessToken() = nil, want claims")
		}
	})

	t.Run("deleted after issuance", func(t *testing.T) {
		if err := repo.DeleteUsersByID(ctx, usr.ID); err != nil {
			t.Fatalf("DeleteUsersByID() failed: %v", err)
		}
		if claims := svc.ValidateAccessToken(ctx, res.Token); claims != nil {
			t.Errorf("ValidateAccessToken() = %+v, want nil", claims)
		}
	})
}

func TestService_RefreshAccessToken(t *testing.T) {
	svc, repo, codec := setup(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, repo, "Teacher", "teacher@test.cd", "LordOfTheRings", user.RoleFlags{IsTeacher: true}, true)
	res, err := svc.Login(ctx, usr.Email, "LordOfTheRings")
	if err != nil {
		t.Fatalf("Login() failed: %v", err)
	}
	sessionID := svc.ValidateAccessToken(ctx, res.Token).SessionID

	t.Run("re-resolves permissions, keeps session", func(t *testing.T) {
		// promote teacher to coordinator between refreshes
		if _, err := repo.UpdateUser(ctx, usr, &user.RoleFlags{IsCoordinator: true}, nil); err != nil {
			t.Fatalf("UpdateUser() failed: %v", err)
		}

		refreshed := svc.RefreshAccessToken(ctx, res.RefreshToken)
		if refreshed == nil {
			t.Fatal("RefreshAccessToken() = nil, want result")
		}
		if refreshed.ExpiresIn != 3600 {
			t.Errorf("ExpiresIn = %d, want 3600", refreshed.ExpiresIn)
		}

		claims, err := codec.VerifyAccess(refreshed.Token)
		if err != nil {
			t.Fatalf("VerifyAccess() failed: %v", err)
		}
		if claims.Role != user.RoleCoordinator {
			t.Errorf("Role = %s, want %s", claims.Role, user.RoleCoordinator)
		}
		if claims.SessionID != sessionID {
			t.Errorf("SessionID = %s, want %s", claims.SessionID, sessionID)
		}
		wantPerms := user.Resolve(user.RoleFlags{IsCoordinator: true}).Permissions
		if len(claims.Permissions) != len(wantPerms) {
			t.Errorf("Permissions = %v, want %v", claims.Permissions, wantPerms)
		}
	})

	t.Run("access token is not a refresh token", func(t *testing.T) {
		if refreshed := svc.RefreshAccessToken(ctx, res.Token); refreshed != nil {
			t.Errorf("RefreshAccessToken() = %+v, want nil", refreshed)
		}
	})

	t.Run("disabled user", func(t *testing.T) {
		active := false
		if _, err := repo.UpdateUser(ctx, usr, nil, &active); err != nil {
			t.Fatalf("UpdateUser() failed: %v", err)
		}
		if refreshed := svc.RefreshAccessToken(ctx, res.RefreshToken); refreshed != nil {
			t.Errorf("RefreshAccessToken() = %+v, want nil", refreshed)
		}
	})
}

func TestService_GetUserByID(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	usr := testutil.CreateUser(t, repo, "Student", "student@test.cd", "LordOfTheRings", user.RoleFlags{}, true)

	info, err := svc.GetUserByID(ctx, usr.ID)
	if err != nil {
		t.Fatalf("GetUserByID() failed: %v", err)
	}
	if info.Role != user.RoleStudent {
		t.Errorf("Role = %s, want %s", info.Role, user.RoleStudent)
	}

	if _, err = svc.GetUserByID(ctx, "lol"); err != user.ErrNotFound {
		t.Errorf("GetUserByID() error = %v, want %v", err, user.ErrNotFound)
	}
}

func TestService_HasPermission(t *testing.T) {
	svc, repo, _ := setup(t)
	ctx := context.Background()

	teacher := testutil.CreateUser(t, repo, "Teacher", "teacher@test.cd", "LordOfTheRings", user.RoleFlags{IsTeacher: true}, true)
	disabled := testutil.CreateUser(t, repo, "Disabled", "disabled@test.cd", "LordOfTheRings", user.RoleFlags{IsAdmin: true}, false)

	tests := []struct {
		name   string
		userID string
		perm   string
		want   bool
	}{
		{"granted", teacher.ID, "grades:update", true},
		{"not granted", teacher.ID, "users:delete", false},
		{"disabled user", disabled.ID, "system:admin", false},
		{"unknown user", "lol", "courses:read", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := svc.HasPermission(ctx, tt.userID, tt.perm); got != tt.want {
				t.Errorf("HasPermission() = %v, want %v", got, tt.want)
			}
		})
	}
}

// failingRepo simulates a broken store: every lookup errors.
type failingRepo struct {
	user.Repository
	err error
}

func (r failingRepo) GetUserByEmail(context.Context, string) (user.User, error) {
	return user.User{}, r.err
}

func (r failingRepo) GetUserByID(context.Context, string) (user.User, error) {
	return user.User{}, r.err
}

func TestService_storeErrors(t *testing.T) {
	repoErr := errors.New("connection reset")
	codec := NewTokenCodec(testutil.NewTestConfig())
	logger := logsvc.NewStdLogger(log.New(os.Stdout, "TEST : ", log.LstdFlags))
	svc := NewService(failingRepo{err: repoErr}, codec, logger)
	ctx := context.Background()

	t.Run("login surfaces the store error", func(t *testing.T) {
		_, err := svc.Login(ctx, "admin@test.cd", "LordOfTheRings")
		if err == nil {
			t.Fatal("Login() = nil, want error")
		}
		if err == ErrInvalidCredentials {
			t.Error("Login() masked a store error as invalid credentials")
		}
		if errors.Cause(err) != repoErr {
			t.Errorf("errors.Cause() = %v, want %v", errors.Cause(err), repoErr)
		}
	})

	usr := user.User{ID: "b7e2c9f4-1f0a-4f43-95a6-94d7c3f4e9f1", IsActive: true}
	access, err := codec.SignAccess(usr, user.Resolve(usr.RoleFlags), "session-1")
	if err != nil {
		t.Fatalf("SignAccess() failed: %v", err)
	}
	refresh, err := codec.SignRefresh(usr, "session-1")
	if err != nil {
		t.Fatalf("SignRefresh() failed: %v", err)
	}

	// everything else fails closed
	t.Run("fails closed", func(t *testing.T) {
		if claims := svc.ValidateAccessToken(ctx, access); claims != nil {
			t.Errorf("ValidateAccessToken() = %+v, want nil", claims)
		}
		if claims := svc.ValidateRefreshToken(ctx, refresh); claims != nil {
			t.Errorf("ValidateRefreshToken() = %+v, want nil", claims)
		}
		if res := svc.RefreshAccessToken(ctx, refresh); res != nil {
			t.Errorf("RefreshAccessToken() = %+v, want nil", res)
		}
		if svc.HasPermission(ctx, usr.ID, "courses:read") {
			t.Error("HasPermission() = true, want false")
		}
	})

	t.Run("GetUserByID does not map to not-found", func(t *testing.T) {
		_, err := svc.GetUserByID(ctx, usr.ID)
		if err == nil || errors.Cause(err) == user.ErrNotFound {
			t.Errorf("GetUserByID() error = %v, want wrapped store error", err)
		}
	})
}
