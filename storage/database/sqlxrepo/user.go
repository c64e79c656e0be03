package sqlxrepos

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/pkg/errors"
	"github.com/volatiletech/null/v8"

	"github.com/shulehub/shule/core/user"
)

type userRow struct {
	ID                   string      `db:"id"`
	Name                 string      `db:"name"`
	Email                string      `db:"email"`
	InstitutionID        null.String `db:"institution_id"`
	IsActive             bool        `db:"is_active"`
	IsAdmin              bool        `db:"is_admin"`
	IsInstitutionManager bool        `db:"is_institution_manager"`
	IsCoordinator        bool        `db:"is_coordinator"`
	IsGuardian           bool        `db:"is_guardian"`
	IsTeacher            bool        `db:"is_teacher"`
	IsStudent            bool        `db:"is_student"`
	PasswordHash         []byte      `db:"password_hash"`
	CreatedAt            time.Time   `db:"created_at"`
	UpdatedAt            time.Time   `db:"updated_at"`
	LastLogin            null.Time   `db:"last_login"`
}

const userColumns = `id, name, email, institution_id, is_active,
	is_admin, is_institution_manager, is_coordinator, is_guardian, is_teacher, is_student,
	password_hash, created_at, updated_at, last_login`

type userRepository struct {
	db *sqlx.DB
}

var _ user.Repository = (*userRepository)(nil) // interface compliance check

func NewUserRepository(db *sqlx.DB) *userRepository {
	return &userRepository{db: db}
}

func (repo userRepository) row(usr user.User) userRow {
	return userRow{
		ID:                   usr.ID,
		Name:                 usr.Name,
		Email:                usr.Email,
		InstitutionID:        null.NewString(usr.InstitutionID, usr.InstitutionID != ""),
		IsActive:             usr.IsActive,
		IsAdmin:              usr.IsAdmin,
		IsInstitutionManager: usr.IsInstitutionManager,
		IsCoordinator:        usr.IsCoordinator,
		IsGuardian:           usr.IsGuardian,
		IsTeacher:            usr.IsTeacher,
		IsStudent:            usr.IsStudent,
		PasswordHash:         usr.PasswordHash,
		CreatedAt:            usr.CreatedAt.UTC(),
		UpdatedAt:            usr.UpdatedAt.UTC(),
		LastLogin:            null.NewTime(usr.LastLogin.UTC(), !usr.LastLogin.IsZero()),
	}
}

func (repo userRepository) unrow(row userRow) user.User {
	return user.User{
		ID:            row.ID,
		Name:          row.Name,
		Email:         row.Email,
		InstitutionID: row.InstitutionID.String,
		IsActive:      row.IsActive,
		RoleFlags: user.RoleFlags{
			IsAdmin:              row.IsAdmin,
			IsInstitutionManager: row.IsInstitutionManager,
			IsCoordinator:        row.IsCoordinator,
			IsGuardian:           row.IsGuardian,
			IsTeacher:            row.IsTeacher,
			IsStudent:            row.IsStudent,
		},
		PasswordHash: row.PasswordHash,
		CreatedAt:    row.CreatedAt,
		UpdatedAt:    row.UpdatedAt,
		LastLogin:    row.LastLogin.Time,
	}
}

func (repo userRepository) unrowSlice(rows []userRow) []user.User {
	users := make([]user.User, 0, len(rows))
	for _, row := range rows {
		users = append(users, repo.unrow(row))
	}
	return users
}

// trapNoRowsErr maps psql "no rows" err to user.ErrNotFound
func (repo userRepository) trapNoRowsErr(err error, msg string) error {
	if err == sql.ErrNoRows {
		return user.ErrNotFound
	}
	return errors.Wrap(err, msg)
}

// roleCondition translates a resolved role label into the flag predicate that
// yields it under the fixed priority chain.
func roleCondition(label string) (string, bool) {
	switch label {
	case user.RoleSystemAdmin:
		return "is_admin", true
	case user.RoleInstitutionManager:
		return "NOT is_admin AND is_institution_manager", true
	case user.RoleCoordinator:
		return "NOT is_admin AND NOT is_institution_manager AND is_coordinator", true
	case user.RoleGuardian:
		return "NOT is_admin AND NOT is_institution_manager AND NOT is_coordinator AND is_guardian", true
	case user.RoleTeacher:
		return "NOT is_admin AND NOT is_institution_manager AND NOT is_coordinator AND NOT is_guardian AND is_teacher", true
	case user.RoleStudent:
		return "NOT is_admin AND NOT is_institution_manager AND NOT is_coordinator AND NOT is_guardian AND NOT is_teacher", true
	}
	return "", false
}

func (repo userRepository) CheckEmailUniqueness(ctx context.Context, email string, excludedUsers ...user.User) error {
	query := `SELECT EXISTS(SELECT 1 FROM "user" WHERE email = $1`
	args := []interface{}{email}
	if len(excludedUsers) > 0 {
		ids := make([]string, 0, len(excludedUsers))
		for _, u := range excludedUsers {
			ids = append(ids, u.ID)
		}
		query += ` AND NOT (id = ANY($2))`
		args = append(args, pq.Array(ids))
	}
	query += `)`

	var exists bool
	if err := repo.db.GetContext(ctx, &exists, query, args...); err != nil {
		return errors.Wrap(err, "checking user uniqueness")
	}
	if exists {
		return user.ErrEmailExists
	}
	return nil
}

func (repo userRepository) CreateUser(ctx context.Context, usr user.User) (user.User, error) {
	usr.ID = uuid.New().String()
	row := repo.row(usr)
	query := `
		INSERT INTO "user" (` + userColumns + `)
		VALUES (:id, :name, :email, :institution_id, :is_active,
			:is_admin, :is_institution_manager, :is_coordinator, :is_guardian, :is_teacher, :is_student,
			:password_hash, :created_at, :updated_at, :last_login)`
	if _, err := repo.db.NamedExecContext(ctx, query, row); err != nil {
		return user.User{}, errors.Wrap(err, "inserting user")
	}
	return repo.unrow(row), nil
}

func (repo userRepository) QueryAllUsers(ctx context.Context) ([]user.User, error) {
	var rows []userRow
	query := `SELECT ` + userColumns + ` FROM "user" ORDER BY created_at`
	if err := repo.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return repo.unrowSlice(rows), nil
}

func (repo userRepository) GetUserByID(ctx context.Context, id string) (user.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return user.User{}, user.ErrNotFound
	}
	var row userRow
	query := `SELECT ` + userColumns + ` FROM "user" WHERE id = $1`
	if err := repo.db.GetContext(ctx, &row, query, id); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user by ID")
	}
	return repo.unrow(row), nil
}

func (repo userRepository) GetUserByEmail(ctx context.Context, email string) (user.User, error) {
	var row userRow
	query := `SELECT ` + userColumns + ` FROM "user" WHERE email = $1`
	if err := repo.db.GetContext(ctx, &row, query, email); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "finding user by email")
	}
	return repo.unrow(row), nil
}

func (repo userRepository) FilterUsers(ctx context.Context, filter user.QueryFilter) ([]user.User, error) {
	conds := make([]string, 0, 6)
	args := make([]interface{}, 0, 6)
	arg := func(val interface{}) string {
		args = append(args, val)
		return fmt.Sprintf("$%d", len(args))
	}

	// users with Name or Email matching the search keyword
	if filter.Search != "" {
		val := "%" + filter.Search + "%"
		p := arg(val)
		conds = append(conds, fmt.Sprintf("(name ILIKE %s OR email ILIKE %s)", p, p))
	}
	if filter.Role != "" {
		cond, ok := roleCondition(filter.Role)
		if !ok {
			return []user.User{}, nil
		}
		conds = append(conds, "("+cond+")")
	}
	if filter.InstitutionID != "" {
		conds = append(conds, "institution_id = "+arg(filter.InstitutionID))
	}
	if filter.IsActive != nil {
		conds = append(conds, "is_active = "+arg(*filter.IsActive))
	}
	if !filter.CreatedFrom.IsZero() {
		conds = append(conds, "created_at >= "+arg(filter.CreatedFrom.UTC()))
	}
	if !filter.CreatedTo.IsZero() {
		conds = append(conds, "created_at <= "+arg(filter.CreatedTo.UTC()))
	}

	query := `SELECT ` + userColumns + ` FROM "user"`
	if len(conds) > 0 {
		query += " WHERE " + strings.Join(conds, " AND ")
	}
	query += " ORDER BY created_at"

	var rows []userRow
	if err := repo.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, errors.Wrap(err, "querying users")
	}
	return repo.unrowSlice(rows), nil
}

func (repo userRepository) UpdateUser(ctx context.Context, usr user.User, roles *user.RoleFlags, isActive *bool) (user.User, error) {
	sets := make([]string, 0, 12)
	args := make([]interface{}, 0, 12)
	arg := func(val interface{}) string {
		args = append(args, val)
		return fmt.Sprintf("$%d", len(args))
	}

	if usr.Name != "" {
		sets = append(sets, "name = "+arg(usr.Name))
	}
	if usr.Email != "" {
		sets = append(sets, "email = "+arg(usr.Email))
	}
	if usr.InstitutionID != "" {
		sets = append(sets, "institution_id = "+arg(usr.InstitutionID))
	}
	if usr.PasswordHash != nil {
		sets = append(sets, "password_hash = "+arg(usr.PasswordHash))
	}
	if roles != nil {
		sets = append(sets,
			"is_admin = "+arg(roles.IsAdmin),
			"is_institution_manager = "+arg(roles.IsInstitutionManager),
			"is_coordinator = "+arg(roles.IsCoordinator),
			"is_guardian = "+arg(roles.IsGuardian),
			"is_teacher = "+arg(roles.IsTeacher),
			"is_student = "+arg(roles.IsStudent),
		)
	}
	if isActive != nil {
		sets = append(sets, "is_active = "+arg(*isActive))
	}
	updatedAt := usr.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now()
	}
	sets = append(sets, "updated_at = "+arg(updatedAt.UTC()))

	query := fmt.Sprintf(`UPDATE "user" SET %s WHERE id = %s RETURNING `+userColumns,
		strings.Join(sets, ", "), arg(usr.ID))

	var row userRow
	if err := repo.db.GetContext(ctx, &row, query, args...); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "updating user")
	}
	return repo.unrow(row), nil
}

func (repo userRepository) SetLastLogin(ctx context.Context, usr user.User) (user.User, error) {
	query := `UPDATE "user" SET last_login = $1 WHERE id = $2 RETURNING ` + userColumns
	var row userRow
	if err := repo.db.GetContext(ctx, &row, query, time.Now().UTC(), usr.ID); err != nil {
		return user.User{}, repo.trapNoRowsErr(err, "setting lastLogin")
	}
	return repo.unrow(row), nil
}

func (repo userRepository) DeleteUsersByID(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	query, args, err := sqlx.In(`DELETE FROM "user" WHERE id IN (?)`, ids)
	if err != nil {
		return errors.Wrap(err, "building delete query")
	}
	query = repo.db.Rebind(query)
	if _, err = repo.db.ExecContext(ctx, query, args...); err != nil {
		return errors.Wrap(err, "deleting users")
	}
	return nil
}
