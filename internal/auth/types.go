package auth

import (
	"errors"
	"regexp"
)

// usernamePattern defines the valid format for usernames:
// alphanumeric, dots, hyphens, underscores, 1-64 characters.
var usernamePattern = regexp.MustCompile(`^[a-zA-Z0-9._-]{1,64}$`)

// IsValidUsername checks if a username meets format requirements.
func IsValidUsername(username string) bool {
	return usernamePattern.MatchString(username)
}

// Role is an authorisation tier on the operator console.
type Role string

const (
	// RoleOperator may initiate, continue and abort executions.
	RoleOperator Role = "operator"

	// RoleSupervisor may additionally approve or reject pending executions.
	RoleSupervisor Role = "supervisor"
)

// ValidRoles is the set of roles an operator account may carry.
var ValidRoles = []Role{RoleOperator, RoleSupervisor}

// IsValidRole returns true if r is a known role.
func IsValidRole(r Role) bool {
	for _, v := range ValidRoles {
		if r == v {
			return true
		}
	}
	return false
}

// Operator is an authenticated console account. The username doubles as
// the actor recorded in execution logs.
type Operator struct {
	Username     string `json:"username"`
	Role         Role   `json:"role"`
	PasswordHash string `json:"-"` // never serialised
}

// Sentinel errors for auth operations.
var (
	ErrInvalidCredentials = errors.New("auth: invalid credentials")
	ErrTokenInvalid       = errors.New("auth: invalid token")
	ErrForbidden          = errors.New("auth: insufficient permissions")
	ErrInvalidOperator    = errors.New("auth: invalid operator account")
)
