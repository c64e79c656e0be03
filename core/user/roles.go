package user

// Effective role labels, from highest to lowest priority.
const (
	RoleSystemAdmin        = "SYSTEM_ADMIN"
	RoleInstitutionManager = "INSTITUTION_MANAGER"
	RoleCoordinator        = "COORDINATOR"
	RoleGuardian           = "GUARDIAN"
	RoleTeacher            = "TEACHER"
	RoleStudent            = "STUDENT"
)

type Role struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

var (
	Roles = []Role{
		{Name: "Student", Value: RoleStudent},
		{Name: "Teacher", Value: RoleTeacher},
		{Name: "Guardian", Value: RoleGuardian},
		{Name: "Coordinator", Value: RoleCoordinator},
		{Name: "Institution Manager", Value: RoleInstitutionManager},
		{Name: "System Admin", Value: RoleSystemAdmin},
	}

	rolePriorities = map[string]int{
		RoleSystemAdmin:        60,
		RoleInstitutionManager: 50,
		RoleCoordinator:        40,
		RoleGuardian:           30,
		RoleTeacher:            20,
		RoleStudent:            10,
	}

	// rolePermissions is the fixed permission table per effective role.
	// Permissions are opaque "resource:action" tags; they are never computed
	// from individual flags combinatorially.
	rolePermissions = map[string][]string{
		RoleSystemAdmin: {
			"system:admin",
			"users:create", "users:read", "users:update", "users:delete",
			"institutions:create", "institutions:read", "institutions:update", "institutions:delete",
			"courses:create", "courses:read", "courses:update", "courses:delete",
			"content:create", "content:read", "content:update", "content:delete",
			"analytics:read",
			"settings:update",
			"logs:read",
		},
		RoleInstitutionManager: {
			"users:create", "users:read", "users:update", "users:delete",
			"courses:create", "courses:read", "courses:update", "courses:delete",
			"content:create", "content:read", "content:update", "content:delete",
			"teachers:read", "teachers:update",
			"students:read", "students:update",
			"analytics:read",
			"reports:read",
			"settings:update",
		},
		RoleCoordinator: {
			"courses:read", "courses:update",
			"content:read", "content:update",
			"students:read",
			"teachers:read",
			"assignments:read", "assignments:update",
			"grades:read", "grades:update",
			"reports:read",
			"analytics:read",
		},
		RoleGuardian: {
			"students:read",
			"courses:read",
			"content:read",
			"assignments:read",
			"grades:read",
			"attendance:read",
			"reports:read",
			"profile:update",
			"notifications:read",
		},
		RoleTeacher: {
			"courses:create", "courses:read", "courses:update",
			"content:create", "content:read", "content:update",
			"students:read", "students:update",
			"assignments:create", "assignments:read", "assignments:update",
			"grades:create", "grades:read", "grades:update",
		},
		RoleStudent: {
			"courses:read",
			"content:read",
			"assignments:read", "assignments:submit",
			"grades:read",
			"profile:read", "profile:update",
		},
	}
)

func RolePriority(label string) int {
	return rolePriorities[label]
}

// Resolution is a user's effective role and its fixed permission set.
type Resolution struct {
	Role        string   `json:"role"`
	Permissions []string `json:"permissions"`
}

func (r Resolution) HasPermission(perm string) bool {
	for _, p := range r.Permissions {
		if p == perm {
			return true
		}
	}
	return false
}

// Resolve reduces raw role flags to a single effective role: the first true
// flag wins, in fixed order admin > institution manager > coordinator >
// guardian > teacher; anything else is a student. Flags are never combined,
// so a user flagged both admin and teacher resolves to SYSTEM_ADMIN only.
func Resolve(flags RoleFlags) Resolution {
	var label string
	switch {
	case flags.IsAdmin:
		label = RoleSystemAdmin
	case flags.IsInstitutionManager:
		label = RoleInstitutionManager
	case flags.IsCoordinator:
		label = RoleCoordinator
	case flags.IsGuardian:
		label = RoleGuardian
	case flags.IsTeacher:
		label = RoleTeacher
	default:
		label = RoleStudent
	}
	perms := rolePermissions[label]
	out := make([]string, len(perms))
	copy(out, perms)
	return Resolution{Role: label, Permissions: out}
}
